// Package ven implements an OpenADR 2.0b VEN speaking the HTTP pull
// profile: registration with a VTN, report declaration and delivery,
// event intake with opt responses, and the polling loop that drives it
// all.
package ven

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gridlink/vend/internal/oadr"
	"github.com/gridlink/vend/internal/scheduler"
	"github.com/gridlink/vend/internal/transport"
)

// OpenADR service paths under the VTN base URL.
const (
	ServiceRegisterParty = "EiRegisterParty"
	ServiceEvent         = "EiEvent"
	ServiceReport        = "EiReport"
	ServiceOpt           = "EiOpt"
	ServicePoll          = "OadrPoll"
)

const (
	// DefaultPollFrequency applies when the VTN does not request one.
	DefaultPollFrequency = 10 * time.Second
	// MinPollFrequency and MaxPollFrequency bound the VTN-requested
	// poll interval.
	MinPollFrequency = time.Second
	MaxPollFrequency = 24 * time.Hour

	profileName   = "2.0b"
	transportName = "simpleHttp"
)

// EventHandler decides the opt response for one event. It returns
// oadr.OptIn or oadr.OptOut; anything else is coerced per the event's
// response-required mode.
type EventHandler func(event oadr.Event) (string, error)

// Handlers is the set of user callbacks for event intake.
type Handlers struct {
	// OnEvent handles a newly seen event. When nil, events are logged
	// and opted out.
	OnEvent EventHandler
	// OnUpdateEvent handles a re-delivered event whose modification
	// number changed. When nil the previous opt choice is reused.
	OnUpdateEvent EventHandler
}

// Options configure a Client.
type Options struct {
	VenName string // required
	VtnURL  string // required unless Endpoint is set
	VenID   string // optional; the VTN may assign or override it

	TLS            transport.TLSConfig
	VtnFingerprint string // pin for the VTN certificate, empty to skip

	AllowJitter bool // randomize the polling phase

	// Periods for the event maintenance jobs; zero means default.
	StatusLogPeriod time.Duration
	CleanUpPeriod   time.Duration

	Handlers Handlers
	Hooks    Hooks

	// Test seams. Leave nil in production.
	Endpoint  *transport.Endpoint
	Scheduler *scheduler.Scheduler
	Now       func() time.Time
}

// samplerKey identifies one registered datapoint.
type samplerKey struct {
	specifierID string
	rID         string
}

// samplerEntry holds the callback for one datapoint; exactly one of
// the two fields is set, which also fixes the data collection mode.
type samplerEntry struct {
	incremental IncrementalSampler
	windowed    WindowedSampler
}

func (s samplerEntry) mode() string {
	if s.windowed != nil {
		return oadr.CollectFull
	}
	return oadr.CollectIncremental
}

// activeRequest is one VTN report subscription.
type activeRequest struct {
	requestID   string
	specifierID string
	granularity time.Duration
	reportBack  time.Duration
	rIDs        []string
	job         scheduler.JobID
	hasJob      bool
}

// Client is an OpenADR 2.0b pull-mode VEN.
//
// All mutable state is guarded by mu, which entry points (scheduled
// jobs, the pump iteration, public methods) hold for the duration of
// an operation, VTN round-trips included. That serializes dispatch the
// same way a single event loop would: one inbound reply is fully
// handled before the next, and report state never shifts mid-update.
type Client struct {
	venName  string
	endpoint *transport.Endpoint
	sched    *scheduler.Scheduler
	now      func() time.Time
	handlers Handlers
	hooks    Hooks

	allowJitter     bool
	statusLogPeriod time.Duration
	cleanUpPeriod   time.Duration

	mu             sync.Mutex
	venID          string
	registrationID string
	pollFrequency  time.Duration
	reports        []*oadr.Report
	samplers       map[samplerKey]samplerEntry
	requests       []*activeRequest
	incomplete     map[string]*oadr.Report
	pending        *reportQueue
	opts           []oadr.Opt
	events         []*oadr.Event
	responded      map[string]string

	runCtx      context.Context
	runCancel   context.CancelFunc
	pumpStarted bool
	pumpDone    chan struct{}
	stopOnce    sync.Once
}

// New creates a Client from o. The VTN connection is established
// lazily on the first request.
func New(o Options) *Client {
	endpoint := o.Endpoint
	if endpoint == nil {
		endpoint = transport.NewEndpoint(o.VtnURL, o.TLS, o.VtnFingerprint)
	}
	sched := o.Scheduler
	if sched == nil {
		sched = scheduler.New()
	}
	now := o.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if o.StatusLogPeriod <= 0 {
		o.StatusLogPeriod = 10 * time.Second
	}
	if o.CleanUpPeriod <= 0 {
		o.CleanUpPeriod = 5 * time.Minute
	}

	return &Client{
		venName:         o.VenName,
		endpoint:        endpoint,
		sched:           sched,
		now:             now,
		handlers:        o.Handlers,
		hooks:           o.Hooks,
		allowJitter:     o.AllowJitter,
		statusLogPeriod: o.StatusLogPeriod,
		cleanUpPeriod:   o.CleanUpPeriod,
		venID:           o.VenID,
		pollFrequency:   DefaultPollFrequency,
		samplers:        make(map[samplerKey]samplerEntry),
		incomplete:      make(map[string]*oadr.Report),
		pending:         newReportQueue(),
		responded:       make(map[string]string),
		pumpDone:        make(chan struct{}),
	}
}

// VenID returns the current VEN ID (possibly VTN-assigned).
func (c *Client) VenID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.venID
}

// RegistrationID returns the current registration ID, empty when not
// registered.
func (c *Client) RegistrationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registrationID
}

// PollFrequency returns the interval the polling loop runs at.
func (c *Client) PollFrequency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollFrequency
}

// Run registers with the VTN and starts the polling loop, the report
// pump and the maintenance jobs. It returns once startup is complete;
// a failed registration handshake is fatal and returns an error.
// Declare reports and handlers before calling Run.
func (c *Client) Run(ctx context.Context) error {
	c.runCtx, c.runCancel = context.WithCancel(context.Background())

	c.mu.Lock()
	err := c.register(ctx)
	c.mu.Unlock()
	if err != nil {
		c.Stop()
		return fmt.Errorf("registration: %w", err)
	}

	c.mu.Lock()
	c.registerReports(ctx)
	c.syncEvents(ctx)
	pollFreq := c.pollFrequency
	c.mu.Unlock()

	c.mu.Lock()
	c.pumpStarted = true
	c.mu.Unlock()
	go c.pump()

	if c.allowJitter && pollFreq > time.Second {
		// Shift the polling phase so a fleet of VENs sharing a config
		// does not stampede the VTN.
		delay := time.Duration(rand.Int63n(int64(pollFreq)))
		c.sched.AddAt(c.now().Add(delay), func() {
			c.pollTick()
			if _, err := c.sched.AddEvery(pollFreq, c.pollTick); err != nil {
				slog.Error("client: scheduling poll job", "error", err)
			}
		})
	} else {
		if _, err := c.sched.AddEvery(pollFreq, c.pollTick); err != nil {
			return fmt.Errorf("scheduling poll job: %w", err)
		}
	}
	if _, err := c.sched.AddEvery(c.statusLogPeriod, c.eventStatusTick); err != nil {
		return fmt.Errorf("scheduling event status job: %w", err)
	}
	if _, err := c.sched.AddEvery(c.cleanUpPeriod, c.cleanUpTick); err != nil {
		return fmt.Errorf("scheduling event cleanup job: %w", err)
	}
	c.sched.Start()

	c.mu.Lock()
	slog.Info("client: running",
		"ven_id", c.venID,
		"registration_id", c.registrationID,
		"poll_frequency", pollFreq)
	c.mu.Unlock()
	return nil
}

// Stop shuts the scheduler down, cancels the pump, and closes the VTN
// connection. Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.sched.Shutdown()
		c.mu.Lock()
		started := c.pumpStarted
		c.mu.Unlock()
		if c.runCancel != nil {
			c.runCancel()
		}
		if started {
			select {
			case <-c.pumpDone:
			case <-time.After(2 * time.Second):
				slog.Warn("client: pump did not stop in time")
			}
		}
		c.endpoint.Close()
		slog.Info("client: stopped")
	})
}

// pollTick is the scheduled entry point for one poll cycle.
func (c *Client) pollTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poll(c.baseCtx())
}

// baseCtx returns the run context, or Background before Run is called.
func (c *Client) baseCtx() context.Context {
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.Background()
}

// poll issues one oadrPoll and dispatches the reply. Callers hold mu.
func (c *Client) poll(ctx context.Context) {
	reply, err := c.request(ctx, ServicePoll, &oadr.Poll{VenID: c.venID})
	if c.logRequestErr("poll", err) {
		return
	}
	c.dispatch(ctx, reply)
}

// dispatch routes one inbound VTN message. Callers hold mu.
func (c *Client) dispatch(ctx context.Context, msg oadr.Message) {
	switch m := msg.(type) {
	case nil:
		// Empty poll reply: nothing queued.
	case *oadr.Response:
		// Generic ack, nothing to do.
	case *oadr.RequestReregistration:
		c.onRequestReregistration(ctx)
	case *oadr.DistributeEvent:
		if len(m.Events) > 0 {
			c.onEvents(ctx, m.RequestID, m.Events)
		}
	case *oadr.UpdatedReport:
		// Report ack delivered through the poll channel; it may carry
		// a piggybacked cancel.
		if m.CancelReport != nil {
			c.cancelReports(ctx, m.CancelReport)
		}
	case *oadr.CreateReport:
		if len(m.ReportRequests) > 0 {
			c.createReports(ctx, m.RequestID, m.ReportRequests)
		}
	case *oadr.RegisterReport:
		// We do not consume VTN reports; acknowledge and move on.
		ack := &oadr.RegisteredReport{
			Response: oadr.ResponseOK(m.RequestID),
			VenID:    c.venID,
		}
		_, err := c.request(ctx, ServiceReport, ack)
		c.logRequestErr("registered report ack", err)
	case *oadr.CancelPartyRegistration:
		c.onCancelPartyRegistration(ctx, m)
	case *oadr.CancelReport:
		c.cancelReports(ctx, m)
	default:
		slog.Warn("client: ignoring unexpected message", "message", msg.Name())
	}
}

// request encodes msg, POSTs it to the given service and decodes the
// reply. A (nil, nil) return means the VTN had nothing to say. An
// application-level non-200 is logged and the reply still returned so
// callers can apply context-specific handling.
func (c *Client) request(ctx context.Context, service string, msg oadr.Message) (oadr.Message, error) {
	payload, err := oadr.Marshal(msg)
	if err != nil {
		return nil, err
	}
	runXMLHooks("before_send_xml", c.hooks.BeforeSendXML, payload)

	slog.Debug("client: sending", "service", service, "message", msg.Name())
	body, err := c.endpoint.Post(ctx, service, payload)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	runXMLHooks("after_receive_xml", c.hooks.AfterReceiveXML, body)
	runXMLHooks("before_schema_validation", c.hooks.BeforeSchemaValidation, body)
	runXMLHooks("before_parse_xml", c.hooks.BeforeParseXML, body)

	reply, err := oadr.Parse(body)
	if err != nil {
		return nil, err
	}
	runParsedHooks("after_parse_xml", c.hooks.AfterParseXML, reply)

	if r := oadr.ResponseOf(reply); r != nil && !r.OK() {
		slog.Warn("client: VTN reported application error",
			"service", service,
			"message", reply.Name(),
			"code", r.Code,
			"description", r.Description)
	}
	return reply, nil
}

// logRequestErr logs a failed request by error kind and reports
// whether there was an error. Errors never propagate past the caller:
// the polling loop is the safety net.
func (c *Client) logRequestErr(op string, err error) bool {
	if err == nil {
		return false
	}
	var schemaErr *oadr.SchemaError
	var transportErr *transport.Error
	switch {
	case errors.As(err, &schemaErr):
		slog.Warn("client: dropping malformed reply", "op", op, "error", err)
	case errors.As(err, &transportErr):
		slog.Error("client: request failed", "op", op, "error", err)
	default:
		slog.Error("client: request error", "op", op, "error", err)
	}
	return true
}
