// Package oadr holds the OpenADR 2.0b message model: the typed payloads
// exchanged between a VEN and a VTN, the vocabulary tables, and the XML
// codec that puts them on the wire.
package oadr

// OpenADR application-level status codes.
const (
	StatusOK                 = 200
	StatusOutOfSequence      = 450
	StatusNotAllowed         = 451
	StatusInvalidID          = 452
	StatusNotRecognized      = 453
	StatusInvalidData        = 454
	StatusComplianceError    = 459
	StatusSignalNotSupported = 460
	StatusReportNotSupported = 461
	StatusTargetMismatch     = 462
	StatusNotRegistered      = 463
	StatusDeploymentError    = 469
)

// Event statuses, ordered by lifecycle.
const (
	EventStatusNone      = "none"
	EventStatusFar       = "far"
	EventStatusNear      = "near"
	EventStatusActive    = "active"
	EventStatusCompleted = "completed"
	EventStatusCancelled = "cancelled"
)

// Opt types.
const (
	OptIn  = "optIn"
	OptOut = "optOut"
)

// Response-required modes on distributed events.
const (
	ResponseRequiredAlways = "always"
	ResponseRequiredNever  = "never"
)

// Data collection modes for declared reports.
const (
	CollectIncremental = "incremental"
	CollectFull        = "full"
)

// Well-known report names.
const (
	ReportNameHistoryUsage    = "HISTORY_USAGE"
	ReportNameTelemetryUsage  = "TELEMETRY_USAGE"
	ReportNameTelemetryStatus = "TELEMETRY_STATUS"
)

// MetadataPrefix marks the metadata variant of a report name. It is
// stripped from outgoing report names when sampling.
const MetadataPrefix = "METADATA_"

var ReportNames = newVocabulary(
	"METADATA_HISTORY_USAGE", ReportNameHistoryUsage,
	"METADATA_HISTORY_GREENBUTTON", "HISTORY_GREENBUTTON",
	"METADATA_TELEMETRY_USAGE", ReportNameTelemetryUsage,
	"METADATA_TELEMETRY_STATUS", ReportNameTelemetryStatus,
)

var ReadingTypes = newVocabulary(
	"Direct Read", "Net", "Allocated", "Estimated", "Summed", "Derived",
	"Mean", "Peak", "Hybrid", "Contract", "Projected",
	"x-RMS", "x-notApplicable",
)

var ReportTypes = newVocabulary(
	"reading", "usage", "demand", "setPoint", "deltaUsage",
	"deltaSetPoint", "deltaDemand", "baseline", "deviation",
	"avgUsage", "avgDemand", "operatingState",
	"upRegulationCapacityAvailable", "downRegulationCapacityAvailable",
	"regulationSetpoint", "storedEnergy", "targetEnergyStorage",
	"availableEnergyStorage", "price", "level", "powerFactor",
	"percentUsage", "percentDemand", "x-resourceStatus",
)

var SIScaleCodes = newVocabulary(
	"p", "n", "micro", "m", "c", "d", "k", "M", "G", "T", "none",
)

var SignalNames = newVocabulary(
	"SIMPLE", "simple", "ELECTRICITY_PRICE", "ENERGY_PRICE",
	"DEMAND_CHARGE", "BID_PRICE", "BID_LOAD", "BID_ENERGY",
	"CHARGE_STATE", "LOAD_DISPATCH", "LOAD_CONTROL",
)

var OptTypes = newVocabulary(OptIn, OptOut)

var OptReasons = newVocabulary(
	"economic", "emergency", "mustRun", "notParticipating",
	"outageRunStatus", "overrideStatus", "participating",
	"x-schedule",
)

// Vocabulary is a closed set of OpenADR names. Names carrying the "x-"
// private-use prefix are always considered valid.
type Vocabulary struct {
	values []string
	index  map[string]bool
}

func newVocabulary(values ...string) Vocabulary {
	idx := make(map[string]bool, len(values))
	for _, v := range values {
		idx[v] = true
	}
	return Vocabulary{values: values, index: idx}
}

// Valid reports whether name is in the vocabulary or privately extended.
func (v Vocabulary) Valid(name string) bool {
	return v.index[name] || PrivateUse(name)
}

// Contains reports strict membership, with no private-use escape.
func (v Vocabulary) Contains(name string) bool { return v.index[name] }

// Values returns the vocabulary entries in declaration order.
func (v Vocabulary) Values() []string { return v.values }

// PrivateUse reports whether name uses the x- private-use prefix.
func PrivateUse(name string) bool {
	return len(name) > 2 && name[:2] == "x-"
}

// CanonicalMeasurements maps a measurement name to its canonical
// descriptor. When a declared measurement matches a known code, the
// canonical descriptor wins over user-supplied fields.
var CanonicalMeasurements = map[string]Measurement{
	"voltage":        {Name: "voltage", Description: "Voltage", Unit: "V", Scale: "none"},
	"current":        {Name: "current", Description: "Current", Unit: "A", Scale: "none"},
	"energyReal":     {Name: "energyReal", Description: "RealEnergy", Unit: "Wh", Scale: "none"},
	"energyReactive": {Name: "energyReactive", Description: "ReactiveEnergy", Unit: "VARh", Scale: "none"},
	"energyApparent": {Name: "energyApparent", Description: "ApparentEnergy", Unit: "VAh", Scale: "none"},
	"powerReal": {Name: "powerReal", Description: "RealPower", Unit: "W", Scale: "none",
		PowerAttributes: &PowerAttributes{AC: true, Hertz: 50, Voltage: 230}},
	"powerReactive": {Name: "powerReactive", Description: "ReactivePower", Unit: "VAR", Scale: "none",
		PowerAttributes: &PowerAttributes{AC: true, Hertz: 50, Voltage: 230}},
	"powerApparent": {Name: "powerApparent", Description: "ApparentPower", Unit: "VA", Scale: "none",
		PowerAttributes: &PowerAttributes{AC: true, Hertz: 50, Voltage: 230}},
	"frequency":   {Name: "frequency", Description: "Frequency", Unit: "Hz", Scale: "none"},
	"pulseCount":  {Name: "pulseCount", Description: "pulse count", Unit: "count", Scale: "none"},
	"temperature": {Name: "temperature", Description: "Temperature", Unit: "celsius", Scale: "none"},
	"therm":       {Name: "therm", Description: "Therm", Unit: "thm", Scale: "none"},
}
