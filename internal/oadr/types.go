package oadr

import "time"

// EiResponse is the application-level status carried by most replies.
type EiResponse struct {
	Code        int    `xml:"responseCode"`
	Description string `xml:"responseDescription,omitempty"`
	RequestID   string `xml:"requestID,omitempty"`
}

// OK reports whether the response carries the OpenADR 200 status.
func (r EiResponse) OK() bool { return r.Code == StatusOK }

// ResponseOK builds a 200/OK EiResponse echoing requestID.
func ResponseOK(requestID string) EiResponse {
	return EiResponse{Code: StatusOK, Description: "OK", RequestID: requestID}
}

// ResponseError builds a non-200 EiResponse echoing requestID.
func ResponseError(code int, requestID string) EiResponse {
	return EiResponse{Code: code, Description: "ERROR", RequestID: requestID}
}

// Target scopes a report or opt to a resource, ven, party or group.
type Target struct {
	ResourceID string `xml:"resourceID,omitempty"`
	VenID      string `xml:"venID,omitempty"`
	PartyID    string `xml:"partyID,omitempty"`
	GroupID    string `xml:"groupID,omitempty"`
}

// EventDescriptor identifies an event and its revision.
type EventDescriptor struct {
	EventID            string    `xml:"eventID"`
	ModificationNumber int       `xml:"modificationNumber"`
	Priority           int       `xml:"priority,omitempty"`
	MarketContext      string    `xml:"marketContext,omitempty"`
	CreatedDateTime    time.Time `xml:"createdDateTime,omitempty"`
	EventStatus        string    `xml:"eventStatus"`
	TestEvent          bool      `xml:"testEvent,omitempty"`
	VTNComment         string    `xml:"vtnComment,omitempty"`
}

// ActivePeriod is the window in which an event is active.
type ActivePeriod struct {
	DtStart      time.Time `xml:"dtstart"`
	Duration     Duration  `xml:"duration"`
	Tolerance    Duration  `xml:"tolerance,omitempty"`
	Notification Duration  `xml:"notification,omitempty"`
	RampUp       Duration  `xml:"rampUp,omitempty"`
	Recovery     Duration  `xml:"recovery,omitempty"`
}

// SignalInterval is one step of an event signal.
type SignalInterval struct {
	DtStart  time.Time `xml:"dtstart"`
	Duration Duration  `xml:"duration"`
	UID      int       `xml:"uid,omitempty"`
	Value    float64   `xml:"signalPayload>payloadFloat>value"`
}

// EventSignal carries one named signal of an event.
type EventSignal struct {
	SignalName   string           `xml:"signalName"`
	SignalType   string           `xml:"signalType"`
	SignalID     string           `xml:"signalID"`
	CurrentValue float64          `xml:"currentValue,omitempty"`
	Intervals    []SignalInterval `xml:"intervals>interval"`
}

// Event is a demand-response event distributed by the VTN.
type Event struct {
	EventDescriptor  EventDescriptor `xml:"eventDescriptor"`
	ActivePeriod     ActivePeriod    `xml:"activePeriod"`
	EventSignals     []EventSignal   `xml:"eventSignals>eventSignal"`
	Targets          []Target        `xml:"targets>target,omitempty"`
	ResponseRequired string          `xml:"responseRequired"`
}

// ID is shorthand for the descriptor's event ID.
func (e Event) ID() string { return e.EventDescriptor.EventID }

// EventResponse is the VEN's per-event answer inside oadrCreatedEvent.
type EventResponse struct {
	Code               int    `xml:"responseCode"`
	Description        string `xml:"responseDescription,omitempty"`
	RequestID          string `xml:"requestID,omitempty"`
	EventID            string `xml:"qualifiedEventID>eventID"`
	ModificationNumber int    `xml:"qualifiedEventID>modificationNumber"`
	OptType            string `xml:"optType"`
}

// PowerAttributes qualify power-related measurements.
type PowerAttributes struct {
	AC      bool    `xml:"ac"`
	Hertz   float64 `xml:"hertz"`
	Voltage float64 `xml:"voltage"`
}

// Measurement describes the quantity a datapoint reports.
type Measurement struct {
	Name            string           `xml:"itemName"`
	Description     string           `xml:"itemDescription"`
	Unit            string           `xml:"itemUnits"`
	Scale           string           `xml:"siScaleCode,omitempty"`
	PowerAttributes *PowerAttributes `xml:"powerAttributes,omitempty"`
	AcceptableUnits []string         `xml:"-"`
}

// SamplingRate bounds how often a datapoint can be sampled.
type SamplingRate struct {
	MinPeriod Duration `xml:"oadrMinPeriod"`
	MaxPeriod Duration `xml:"oadrMaxPeriod"`
	OnChange  bool     `xml:"oadrOnChange"`
}

// ReportDescription declares one datapoint (rID) within a report.
type ReportDescription struct {
	RID              string       `xml:"rID"`
	ReportDataSource *Target      `xml:"reportDataSource,omitempty"`
	ReportSubject    *Target      `xml:"reportSubject,omitempty"`
	ReportType       string       `xml:"reportType"`
	ReadingType      string       `xml:"readingType"`
	MarketContext    string       `xml:"marketContext,omitempty"`
	Measurement      *Measurement `xml:"measurement,omitempty"`
	SamplingRate     SamplingRate `xml:"oadrSamplingRate"`
}

// ReportPayload is a single sampled value.
type ReportPayload struct {
	RID   string  `xml:"rID"`
	Value float64 `xml:"payloadFloat>value"`
}

// ReportInterval is one time-stamped slot of an outgoing report.
type ReportInterval struct {
	DtStart       time.Time     `xml:"dtstart"`
	Duration      Duration      `xml:"duration"`
	ReportPayload ReportPayload `xml:"reportPayload"`
}

// Report is both a declared reporting capability (metadata form, sent in
// oadrRegisterReport) and a data-carrying update (sent in oadrUpdateReport).
type Report struct {
	ReportRequestID    string              `xml:"reportRequestID,omitempty"`
	ReportSpecifierID  string              `xml:"reportSpecifierID"`
	ReportName         string              `xml:"reportName"`
	CreatedDateTime    time.Time           `xml:"createdDateTime,omitempty"`
	DtStart            time.Time           `xml:"dtstart,omitempty"`
	Duration           Duration            `xml:"duration,omitempty"`
	ReportDescriptions []ReportDescription `xml:"reportDescription,omitempty"`
	Intervals          []ReportInterval    `xml:"intervals>interval,omitempty"`
}

// IntervalPeriod is a dtstart/duration pair used by report specifiers.
type IntervalPeriod struct {
	DtStart  time.Time `xml:"dtstart"`
	Duration Duration  `xml:"duration,omitempty"`
}

// SpecifierPayload selects one datapoint inside a report request.
type SpecifierPayload struct {
	RID         string       `xml:"rID"`
	ReadingType string       `xml:"readingType,omitempty"`
	Measurement *Measurement `xml:"measurement,omitempty"`
}

// ReportSpecifier scopes a VTN report request to a declared report.
// Granularity is a pointer because absence means "use the declared
// maximum sampling period" while an explicit zero means single-shot.
type ReportSpecifier struct {
	ReportSpecifierID  string             `xml:"reportSpecifierID"`
	Granularity        *Duration          `xml:"granularity,omitempty"`
	ReportBackDuration Duration           `xml:"reportBackDuration"`
	ReportInterval     *IntervalPeriod    `xml:"reportInterval,omitempty"`
	SpecifierPayloads  []SpecifierPayload `xml:"specifierPayload"`
}

// ReportRequest is the VTN's subscription to one of our reports.
type ReportRequest struct {
	ReportRequestID string          `xml:"reportRequestID"`
	ReportSpecifier ReportSpecifier `xml:"reportSpecifier"`
}

// Availability is a temporary availability schedule attached to an opt.
type Availability struct {
	Components []IntervalPeriod `xml:"components>available"`
}

// Opt is a VEN-initiated availability declaration.
type Opt struct {
	OptID              string        `xml:"optID"`
	OptType            string        `xml:"optType"`
	OptReason          string        `xml:"optReason"`
	MarketContext      string        `xml:"marketContext,omitempty"`
	EventID            string        `xml:"qualifiedEventID>eventID,omitempty"`
	ModificationNumber int           `xml:"qualifiedEventID>modificationNumber,omitempty"`
	Targets            []Target      `xml:"targets>target,omitempty"`
	Availability       *Availability `xml:"vavailability,omitempty"`
	SignalTargetMRID   string        `xml:"signalTargetMRID,omitempty"`
	CreatedDateTime    time.Time     `xml:"createdDateTime,omitempty"`
}

// PendingReport references an active report request by its ID.
type PendingReport struct {
	ReportRequestID string `xml:"reportRequestID"`
}
