package ven

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gridlink/vend/internal/oadr"
	"github.com/gridlink/vend/internal/scheduler"
)

// Defaults applied when a report declaration leaves fields empty.
const (
	defaultReportDuration = time.Hour
	defaultSamplingMin    = 10 * time.Second
	defaultSamplingMax    = time.Hour
)

// ReportOptions declare one datapoint. Only ResourceID and a
// measurement (by name or custom descriptor) are required; everything
// else has OpenADR defaults.
type ReportOptions struct {
	ResourceID string

	// Measurement names the reported quantity. Known codes resolve to
	// their canonical descriptor; anything else becomes a custom unit
	// using Unit and Scale. CustomMeasurement overrides both.
	Measurement       string
	CustomMeasurement *oadr.Measurement
	Unit              string
	Scale             string

	ReportSpecifierID string // generated when empty
	RID               string // generated when empty

	ReportName  string // default TELEMETRY_USAGE
	ReadingType string // default "Direct Read"
	ReportType  string // default "reading"

	Duration      time.Duration // default 1h, with a warning
	DtStart       time.Time     // default now (UTC)
	SamplingRate  *oadr.SamplingRate
	MarketContext string
}

// AddReport declares a datapoint served by sampler, which must
// implement WindowedSampler (full data collection) or
// IncrementalSampler (incremental). Declaring the same report name and
// specifier ID twice extends the existing report with a new datapoint.
// It returns the report specifier ID and r_id identifying the
// datapoint. Call before Run.
func (c *Client) AddReport(sampler any, o ReportOptions) (string, string, error) {
	var entry samplerEntry
	switch s := sampler.(type) {
	case WindowedSampler:
		entry.windowed = s
	case IncrementalSampler:
		entry.incremental = s
	default:
		return "", "", fmt.Errorf("sampler %T implements neither IncrementalSampler nor WindowedSampler", sampler)
	}

	if o.ResourceID == "" {
		return "", "", fmt.Errorf("resource_id is required")
	}
	if o.ReportName == "" {
		o.ReportName = oadr.ReportNameTelemetryUsage
	}
	if o.ReadingType == "" {
		o.ReadingType = "Direct Read"
	}
	if o.ReportType == "" {
		o.ReportType = "reading"
	}
	if o.Scale == "" {
		o.Scale = "none"
	}

	if !oadr.ReportNames.Valid(o.ReportName) {
		return "", "", fmt.Errorf("report_name %q must be one of %v or carry the x- prefix",
			o.ReportName, oadr.ReportNames.Values())
	}
	if !oadr.ReadingTypes.Valid(o.ReadingType) {
		return "", "", fmt.Errorf("reading_type %q must be one of %v or carry the x- prefix",
			o.ReadingType, oadr.ReadingTypes.Values())
	}
	if !oadr.ReportTypes.Valid(o.ReportType) {
		return "", "", fmt.Errorf("report_type %q must be one of %v or carry the x- prefix",
			o.ReportType, oadr.ReportTypes.Values())
	}
	if !oadr.SIScaleCodes.Contains(o.Scale) {
		return "", "", fmt.Errorf("scale %q must be one of %v", o.Scale, oadr.SIScaleCodes.Values())
	}

	if o.Duration <= 0 {
		slog.Warn("client: report duration not set, defaulting",
			"report_name", o.ReportName, "duration", defaultReportDuration)
		o.Duration = defaultReportDuration
	}
	if o.DtStart.IsZero() {
		o.DtStart = c.now()
	}
	samplingRate := oadr.SamplingRate{
		MinPeriod: oadr.Duration(defaultSamplingMin),
		MaxPeriod: oadr.Duration(defaultSamplingMax),
	}
	if o.SamplingRate != nil {
		samplingRate = *o.SamplingRate
	}

	measurement, err := resolveMeasurement(o)
	if err != nil {
		return "", "", err
	}

	specifierID := o.ReportSpecifierID
	if specifierID == "" {
		specifierID = oadr.GenerateID()
	}
	rID := o.RID
	if rID == "" {
		rID = oadr.GenerateID()
	}

	description := oadr.ReportDescription{
		RID:              rID,
		ReportDataSource: &oadr.Target{ResourceID: o.ResourceID},
		ReportType:       o.ReportType,
		ReadingType:      o.ReadingType,
		MarketContext:    o.MarketContext,
		Measurement:      measurement,
		SamplingRate:     samplingRate,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	report := c.findReport(o.ReportName, specifierID)
	if report == nil {
		report = &oadr.Report{
			ReportSpecifierID: specifierID,
			ReportName:        o.ReportName,
			CreatedDateTime:   c.now(),
			DtStart:           o.DtStart,
			Duration:          oadr.Duration(o.Duration),
		}
		c.reports = append(c.reports, report)
	}
	report.ReportDescriptions = append(report.ReportDescriptions, description)
	c.samplers[samplerKey{specifierID, rID}] = entry

	slog.Debug("client: report declared",
		"report_name", o.ReportName,
		"report_specifier_id", specifierID,
		"r_id", rID,
		"mode", entry.mode())
	return specifierID, rID, nil
}

// resolveMeasurement builds the measurement descriptor for a report
// declaration. Canonical codes win over user-supplied fields; a unit
// mismatching the canonical one is dropped with a warning.
func resolveMeasurement(o ReportOptions) (*oadr.Measurement, error) {
	if strings.TrimPrefix(o.ReportName, oadr.MetadataPrefix) == oadr.ReportNameTelemetryStatus {
		return nil, nil
	}

	if o.CustomMeasurement != nil {
		m := *o.CustomMeasurement
		if canonical, ok := oadr.CanonicalMeasurements[m.Name]; ok {
			if m.Unit != "" && m.Unit != canonical.Unit {
				slog.Warn("client: measurement unit does not match canonical, using canonical",
					"measurement", m.Name, "unit", m.Unit, "canonical", canonical.Unit)
			}
			m = canonical
		}
		if o.Scale != "" {
			m.Scale = o.Scale
		}
		return &m, nil
	}

	if o.Measurement == "" {
		return nil, fmt.Errorf("a measurement is required for %s reports", o.ReportName)
	}
	if canonical, ok := oadr.CanonicalMeasurements[o.Measurement]; ok {
		m := canonical
		if o.Unit != "" && o.Unit != canonical.Unit {
			slog.Warn("client: measurement unit does not match canonical, using canonical",
				"measurement", o.Measurement, "unit", o.Unit, "canonical", canonical.Unit)
		}
		if o.Scale != "" {
			m.Scale = o.Scale
		}
		return &m, nil
	}
	return &oadr.Measurement{
		Name:        "customUnit",
		Description: o.Measurement,
		Unit:        o.Unit,
		Scale:       o.Scale,
	}, nil
}

// registerReports declares the reporting capabilities to the VTN with
// report_request_id 0, refreshing each report's created_date_time.
// Subscriptions the VTN returns inline enter the create-report path.
// Callers hold mu.
func (c *Client) registerReports(ctx context.Context) {
	now := c.now()
	reports := make([]oadr.Report, len(c.reports))
	for i, r := range c.reports {
		r.CreatedDateTime = now
		reports[i] = *r
	}

	msg := &oadr.RegisterReport{
		RequestID:       oadr.GenerateID(),
		VenID:           c.venID,
		ReportRequestID: "0",
		Reports:         reports,
	}
	reply, err := c.request(ctx, ServiceReport, msg)
	if c.logRequestErr("register reports", err) {
		return
	}
	registered, ok := reply.(*oadr.RegisteredReport)
	if !ok {
		if reply != nil {
			slog.Warn("client: unexpected reply to register report", "message", reply.Name())
		}
		return
	}
	slog.Info("client: reports registered", "declared", len(reports), "requested", len(registered.ReportRequests))
	if len(registered.ReportRequests) > 0 {
		c.createReports(ctx, registered.Response.RequestID, registered.ReportRequests)
	}
}

// createReports handles the VTN subscribing to declared reports: it
// validates each request, schedules sampling, and acknowledges the
// batch with oadrCreatedReport. Callers hold mu.
func (c *Client) createReports(ctx context.Context, requestID string, requests []oadr.ReportRequest) {
	code := oadr.StatusOK
	pending := make([]oadr.PendingReport, 0, len(requests))

	for _, rr := range requests {
		pending = append(pending, oadr.PendingReport{ReportRequestID: rr.ReportRequestID})
		if invalidRequest(rr) {
			slog.Warn("client: rejecting report request",
				"report_request_id", rr.ReportRequestID,
				"report_specifier_id", rr.ReportSpecifier.ReportSpecifierID)
			code = oadr.StatusInvalidID
			continue
		}
		c.acceptReportRequest(ctx, rr)
	}

	var response oadr.EiResponse
	if code == oadr.StatusOK {
		response = oadr.ResponseOK(requestID)
	} else {
		response = oadr.ResponseError(code, requestID)
	}
	ack := &oadr.CreatedReport{
		Response:       response,
		VenID:          c.venID,
		PendingReports: pending,
	}
	_, err := c.request(ctx, ServiceReport, ack)
	c.logRequestErr("created report ack", err)
}

// invalidRequest flags specifier or r_ids carrying the INVALID marker.
func invalidRequest(rr oadr.ReportRequest) bool {
	if strings.Contains(rr.ReportSpecifier.ReportSpecifierID, "INVALID") {
		return true
	}
	for _, p := range rr.ReportSpecifier.SpecifierPayloads {
		if strings.Contains(p.RID, "INVALID") {
			return true
		}
	}
	return false
}

// acceptReportRequest validates one subscription against the declared
// report and schedules its sampling. Callers hold mu.
func (c *Client) acceptReportRequest(ctx context.Context, rr oadr.ReportRequest) {
	spec := rr.ReportSpecifier
	req := &activeRequest{
		requestID:   rr.ReportRequestID,
		specifierID: spec.ReportSpecifierID,
		reportBack:  time.Duration(spec.ReportBackDuration),
	}
	c.requests = append(c.requests, req)

	declared := c.findReportBySpecifier(spec.ReportSpecifierID)
	if declared == nil {
		slog.Warn("client: report request references unknown specifier",
			"report_request_id", rr.ReportRequestID,
			"report_specifier_id", spec.ReportSpecifierID)
		return
	}

	singleShot := false
	if spec.Granularity != nil && time.Duration(*spec.Granularity) == 0 {
		singleShot = true
	}

	for _, payload := range spec.SpecifierPayloads {
		description := findDescription(declared, payload.RID)
		if description == nil {
			slog.Warn("client: report request references unknown r_id",
				"report_request_id", rr.ReportRequestID, "r_id", payload.RID)
			continue
		}
		if payload.Measurement != nil && description.Measurement != nil {
			if payload.Measurement.Description != description.Measurement.Description ||
				payload.Measurement.Unit != description.Measurement.Unit {
				slog.Warn("client: requested measurement does not match declaration",
					"r_id", payload.RID,
					"requested", payload.Measurement.Description,
					"declared", description.Measurement.Description)
				continue
			}
		}

		granularity := time.Duration(description.SamplingRate.MaxPeriod)
		if spec.Granularity != nil {
			granularity = time.Duration(*spec.Granularity)
			if !singleShot {
				min := time.Duration(description.SamplingRate.MinPeriod)
				max := time.Duration(description.SamplingRate.MaxPeriod)
				if granularity < min || granularity > max {
					slog.Warn("client: granularity outside the sampling envelope",
						"r_id", payload.RID,
						"granularity", granularity,
						"min_period", min,
						"max_period", max)
					continue
				}
			}
		}
		if len(req.rIDs) == 0 {
			req.granularity = granularity
		}
		req.rIDs = append(req.rIDs, payload.RID)
	}

	if len(req.rIDs) == 0 {
		return
	}

	switch {
	case !singleShot && req.reportBack > 0:
		cronSpec := scheduler.CronSpec(req.granularity)
		requestID := req.requestID
		job, err := c.sched.AddCron(cronSpec, func() { c.updateReportTick(requestID) })
		if err != nil {
			slog.Error("client: scheduling report job", "report_request_id", requestID, "error", err)
			return
		}
		req.job, req.hasJob = job, true
		slog.Info("client: report subscription scheduled",
			"report_request_id", requestID,
			"granularity", req.granularity,
			"report_back_duration", req.reportBack,
			"r_ids", len(req.rIDs))
	case spec.ReportInterval != nil && spec.ReportInterval.DtStart.After(c.now()):
		requestID := req.requestID
		c.sched.AddAt(spec.ReportInterval.DtStart, func() { c.updateReportTick(requestID) })
		slog.Info("client: one-shot report deferred",
			"report_request_id", requestID, "at", spec.ReportInterval.DtStart)
	default:
		c.updateReport(ctx, req)
	}
}

// updateReportTick is the scheduled entry point for one sampling run.
func (c *Client) updateReportTick(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := c.findRequest(requestID)
	if req == nil {
		return
	}
	c.updateReport(c.baseCtx(), req)
}

// updateReport runs the samplers for one subscription, accumulates
// intervals in the incomplete-report buffer, and flushes to the pending
// queue when the completion rule is met. Callers hold mu.
func (c *Client) updateReport(ctx context.Context, req *activeRequest) {
	declared := c.findReportBySpecifier(req.specifierID)
	if declared == nil {
		slog.Warn("client: update for unknown specifier", "report_specifier_id", req.specifierID)
		return
	}

	buffer := c.incomplete[req.requestID]
	if buffer == nil {
		buffer = &oadr.Report{
			ReportRequestID:   req.requestID,
			ReportSpecifierID: req.specifierID,
			ReportName:        strings.TrimPrefix(declared.ReportName, oadr.MetadataPrefix),
			CreatedDateTime:   c.now(),
			Duration:          declared.Duration,
		}
		c.incomplete[req.requestID] = buffer
	}

	now := c.now()
	fullMode := false
	for _, rID := range req.rIDs {
		entry, ok := c.samplers[samplerKey{req.specifierID, rID}]
		if !ok {
			slog.Warn("client: no sampler registered",
				"report_specifier_id", req.specifierID, "r_id", rID)
			continue
		}
		if entry.windowed != nil {
			fullMode = true
		}

		samples, err := runSampler(ctx, entry, now, req.reportBack, req.granularity)
		if err != nil {
			slog.Error("client: sampler failed, skipping datapoint",
				"report_specifier_id", req.specifierID, "r_id", rID, "error", err)
			continue
		}
		for _, s := range samples {
			at := s.At
			if at.IsZero() {
				at = now
			}
			buffer.Intervals = append(buffer.Intervals, oadr.ReportInterval{
				DtStart:  at,
				Duration: oadr.Duration(req.granularity),
				ReportPayload: oadr.ReportPayload{
					RID:   rID,
					Value: s.Value,
				},
			})
		}
	}

	for i, interval := range buffer.Intervals {
		if i == 0 || interval.DtStart.Before(buffer.DtStart) {
			buffer.DtStart = interval.DtStart
		}
	}

	complete := true
	if !fullMode && req.reportBack > req.granularity && req.granularity > 0 {
		want := len(req.rIDs) * int(req.reportBack/req.granularity)
		complete = len(buffer.Intervals) >= want
	}
	if complete {
		delete(c.incomplete, req.requestID)
		c.pending.Put(*buffer)
		slog.Debug("client: report flushed",
			"report_request_id", req.requestID, "intervals", len(buffer.Intervals))
	}
}

// runSampler invokes the datapoint callback with panic isolation.
func runSampler(ctx context.Context, entry samplerEntry, now time.Time, reportBack, granularity time.Duration) (samples []Sample, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sampler panicked: %v", rec)
		}
	}()
	if entry.windowed != nil {
		window := reportBack
		if window < granularity {
			window = granularity
		}
		return entry.windowed.SampleWindow(ctx, now.Add(-window), now, granularity)
	}
	return entry.incremental.Sample(ctx)
}

// cancelReports withdraws the subscriptions named in m: sample one
// final time and send the data synchronously so nothing in flight is
// lost, drop the sampling jobs, acknowledge with oadrCanceledReport
// (listing the requests as pending when a final report is to follow),
// and remove the requests from the registry. Callers hold mu.
func (c *Client) cancelReports(ctx context.Context, m *oadr.CancelReport) {
	for _, requestID := range m.ReportRequestIDs {
		req := c.findRequest(requestID)
		if req == nil {
			slog.Warn("client: cancel for unknown report request", "report_request_id", requestID)
			continue
		}
		if len(req.rIDs) > 0 {
			c.flushFinal(ctx, req)
		}
		if req.hasJob {
			c.sched.Remove(req.job)
			req.hasJob = false
		}
	}

	ack := &oadr.CanceledReport{
		Response: oadr.ResponseOK(m.RequestID),
		VenID:    c.venID,
	}
	if m.ReportToFollow {
		for _, requestID := range m.ReportRequestIDs {
			ack.PendingReports = append(ack.PendingReports, oadr.PendingReport{ReportRequestID: requestID})
		}
	}
	_, err := c.request(ctx, ServiceReport, ack)
	c.logRequestErr("canceled report ack", err)

	if m.ReportToFollow {
		for _, requestID := range m.ReportRequestIDs {
			if req := c.findRequest(requestID); req != nil && len(req.rIDs) > 0 {
				c.flushFinal(ctx, req)
			}
		}
	}

	for _, requestID := range m.ReportRequestIDs {
		c.removeRequest(requestID)
		delete(c.incomplete, requestID)
	}
	slog.Info("client: report subscriptions cancelled", "report_request_ids", m.ReportRequestIDs)
}

// flushFinal samples req one last time and sends whatever the buffer
// holds directly, bypassing the pending queue: the pump needs mu to
// send and the caller holds it, and the request is about to be
// forgotten. Callers hold mu.
func (c *Client) flushFinal(ctx context.Context, req *activeRequest) {
	c.updateReport(ctx, req)
	buffer, ok := c.incomplete[req.requestID]
	if !ok {
		return // the completion rule was met and the pump owns the report
	}
	delete(c.incomplete, req.requestID)
	if len(buffer.Intervals) == 0 {
		return
	}
	msg := &oadr.UpdateReport{
		RequestID: oadr.GenerateID(),
		VenID:     c.venID,
		Reports:   []oadr.Report{*buffer},
	}
	_, err := c.request(ctx, ServiceReport, msg)
	c.logRequestErr("final report", err)
}

// pump is the single outbound consumer: it drains the pending queue in
// order, sends each report in its own oadrUpdateReport, and honors
// cancel directives piggybacked on the ack. Run cancellation exits it
// cleanly.
func (c *Client) pump() {
	defer close(c.pumpDone)
	slog.Debug("client: report pump started")
	for {
		report, ok := c.pending.Get(c.runCtx)
		if !ok {
			slog.Debug("client: report pump stopped")
			return
		}

		c.mu.Lock()
		msg := &oadr.UpdateReport{
			RequestID: oadr.GenerateID(),
			VenID:     c.venID,
			Reports:   []oadr.Report{report},
		}
		reply, err := c.request(c.runCtx, ServiceReport, msg)
		if !c.logRequestErr("update report", err) {
			if ack, isAck := reply.(*oadr.UpdatedReport); isAck && ack.CancelReport != nil {
				c.cancelReports(c.runCtx, ack.CancelReport)
			}
		}
		c.mu.Unlock()
	}
}

// findReport locates a declared report by name and specifier ID.
// Callers hold mu.
func (c *Client) findReport(name, specifierID string) *oadr.Report {
	for _, r := range c.reports {
		if r.ReportName == name && r.ReportSpecifierID == specifierID {
			return r
		}
	}
	return nil
}

// findReportBySpecifier locates a declared report by specifier ID
// alone. Callers hold mu.
func (c *Client) findReportBySpecifier(specifierID string) *oadr.Report {
	for _, r := range c.reports {
		if r.ReportSpecifierID == specifierID {
			return r
		}
	}
	return nil
}

func findDescription(r *oadr.Report, rID string) *oadr.ReportDescription {
	for i := range r.ReportDescriptions {
		if r.ReportDescriptions[i].RID == rID {
			return &r.ReportDescriptions[i]
		}
	}
	return nil
}

// findRequest locates an active subscription. Callers hold mu.
func (c *Client) findRequest(requestID string) *activeRequest {
	for _, req := range c.requests {
		if req.requestID == requestID {
			return req
		}
	}
	return nil
}

// removeRequest drops an active subscription. Callers hold mu.
func (c *Client) removeRequest(requestID string) {
	for i, req := range c.requests {
		if req.requestID == requestID {
			c.requests = append(c.requests[:i], c.requests[i+1:]...)
			return
		}
	}
}
