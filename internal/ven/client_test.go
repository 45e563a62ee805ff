package ven

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlink/vend/internal/oadr"
	"github.com/gridlink/vend/internal/scheduler"
	"github.com/gridlink/vend/internal/transport"
	"github.com/gridlink/vend/internal/ventest"
)

// newTestClient wires a Client against a scripted VTN.
func newTestClient(t *testing.T, vtn *ventest.VTN, opts Options) *Client {
	t.Helper()
	if opts.VenName == "" {
		opts.VenName = "test-ven"
	}
	if opts.Endpoint == nil {
		opts.Endpoint = transport.NewEndpoint(vtn.URL(), transport.TLSConfig{}, "")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New()
	}
	c := New(opts)
	t.Cleanup(func() {
		c.sched.Shutdown()
		c.endpoint.Close()
	})
	return c
}

func mustRegister(t *testing.T, c *Client) {
	t.Helper()
	c.mu.Lock()
	err := c.register(context.Background())
	c.mu.Unlock()
	require.NoError(t, err)
}

func testEvent(id string, modNumber int, responseRequired string, start time.Time) oadr.Event {
	return oadr.Event{
		EventDescriptor: oadr.EventDescriptor{
			EventID:            id,
			ModificationNumber: modNumber,
			EventStatus:        oadr.EventStatusFar,
		},
		ActivePeriod: oadr.ActivePeriod{
			DtStart:  start,
			Duration: oadr.Duration(time.Hour),
		},
		EventSignals: []oadr.EventSignal{{
			SignalName: "SIMPLE",
			SignalType: "level",
			SignalID:   "S-" + id,
		}},
		ResponseRequired: responseRequired,
	}
}

func TestRegistrationHandshake(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	vtn.Enqueue(ServiceRegisterParty, &oadr.CreatedPartyRegistration{
		Response:       oadr.EiResponse{Code: oadr.StatusOK, Description: "OK", RequestID: "Q1"},
		RegistrationID: "R1",
	})
	vtn.Enqueue(ServiceRegisterParty, &oadr.CreatedPartyRegistration{
		Response:          oadr.ResponseOK("Q1"),
		RegistrationID:    "R2",
		VenID:             "V-assigned",
		RequestedPollFreq: oadr.Duration(15 * time.Second),
	})

	c := newTestClient(t, vtn, Options{})
	mustRegister(t, c)

	assert.Equal(t, "R2", c.RegistrationID())
	assert.Equal(t, "V-assigned", c.VenID())
	assert.Equal(t, 15*time.Second, c.PollFrequency())

	created, ok := vtn.LastOf("oadrCreatePartyRegistration").(*oadr.CreatePartyRegistration)
	require.True(t, ok)
	assert.Equal(t, "Q1", created.RequestID, "echoes the VTN's request_id from the query phase")
	assert.Empty(t, created.RegistrationID, "initial registration carries no registration_id")
	assert.True(t, created.HTTPPullModel)
	assert.False(t, created.XMLSignature)
	assert.Equal(t, "2.0b", created.ProfileName)
	assert.Equal(t, "simpleHttp", created.TransportName)
}

func TestRegistrationWithoutIDIsFatal(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()
	vtn.RegistrationID = ""

	c := newTestClient(t, vtn, Options{})
	c.mu.Lock()
	err := c.register(context.Background())
	c.mu.Unlock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration_id")
}

func TestPollFrequencyClamped(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()
	vtn.PollFreq = oadr.Duration(25 * time.Hour)

	c := newTestClient(t, vtn, Options{})
	mustRegister(t, c)
	assert.Equal(t, MaxPollFrequency, c.PollFrequency())
}

func TestReregistration(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	c := newTestClient(t, vtn, Options{})
	mustRegister(t, c)
	before := len(vtn.Received())

	c.mu.Lock()
	c.dispatch(context.Background(), &oadr.RequestReregistration{VenID: c.venID})
	c.mu.Unlock()

	var names []string
	for _, r := range vtn.Received()[before:] {
		names = append(names, r.Message.Name())
	}
	assert.Equal(t, []string{
		"oadrResponse",
		"oadrCreatePartyRegistration",
		"oadrRegisterReport",
		"oadrRequestEvent",
	}, names)

	created := vtn.LastOf("oadrCreatePartyRegistration").(*oadr.CreatePartyRegistration)
	assert.Equal(t, "REG-1", created.RegistrationID, "re-registration carries the current registration_id")
}

func TestCancelPartyRegistrationWipesState(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	c := newTestClient(t, vtn, Options{})
	_, _, err := c.AddReport(ScalarFunc(func(context.Context) (float64, error) { return 1, nil }),
		ReportOptions{ResourceID: "res-1", Measurement: "voltage", ReportSpecifierID: "RS-1", RID: "rid-1"})
	require.NoError(t, err)
	mustRegister(t, c)

	gran := oadr.Duration(30 * time.Second)
	c.mu.Lock()
	c.createReports(context.Background(), "CR-1", []oadr.ReportRequest{{
		ReportRequestID: "RR-1",
		ReportSpecifier: oadr.ReportSpecifier{
			ReportSpecifierID:  "RS-1",
			Granularity:        &gran,
			ReportBackDuration: oadr.Duration(time.Minute),
			SpecifierPayloads:  []oadr.SpecifierPayload{{RID: "rid-1"}},
		},
	}})
	c.mu.Unlock()
	require.Equal(t, 1, c.sched.JobCount())

	require.NoError(t, c.CancelPartyRegistration(context.Background()))

	assert.Empty(t, c.RegistrationID())
	assert.Equal(t, 0, c.sched.JobCount(), "no scheduler jobs remain after cancellation")
	c.mu.Lock()
	assert.Empty(t, c.reports)
	assert.Empty(t, c.requests)
	assert.Empty(t, c.incomplete)
	assert.Equal(t, 0, c.pending.Len())
	c.mu.Unlock()
}

func TestCancelPartyRegistrationNotRegistered(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()
	c := newTestClient(t, vtn, Options{})
	assert.Error(t, c.CancelPartyRegistration(context.Background()))
}

func TestVTNCancelWithWrongIDLeavesState(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	c := newTestClient(t, vtn, Options{})
	mustRegister(t, c)

	c.mu.Lock()
	c.dispatch(context.Background(), &oadr.CancelPartyRegistration{
		RequestID:      "X1",
		RegistrationID: "some-other-registration",
	})
	c.mu.Unlock()

	assert.Equal(t, "REG-1", c.RegistrationID(), "mismatched cancel leaves local state untouched")
	nack, ok := vtn.LastOf("oadrCanceledPartyRegistration").(*oadr.CanceledPartyRegistration)
	require.True(t, ok)
	assert.Equal(t, oadr.StatusInvalidID, nack.Response.Code)
}

func TestVTNCancelWithMatchingID(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	c := newTestClient(t, vtn, Options{})
	mustRegister(t, c)

	c.mu.Lock()
	c.dispatch(context.Background(), &oadr.CancelPartyRegistration{
		RequestID:      "X1",
		RegistrationID: "REG-1",
	})
	c.mu.Unlock()

	assert.Empty(t, c.RegistrationID())
	ack, ok := vtn.LastOf("oadrCanceledPartyRegistration").(*oadr.CanceledPartyRegistration)
	require.True(t, ok)
	assert.Equal(t, oadr.StatusOK, ack.Response.Code)
}

func TestEventOptIn(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	handlerCalls := 0
	c := newTestClient(t, vtn, Options{
		Handlers: Handlers{
			OnEvent: func(oadr.Event) (string, error) {
				handlerCalls++
				return oadr.OptIn, nil
			},
		},
	})

	event := testEvent("E1", 0, oadr.ResponseRequiredAlways, time.Now().UTC().Add(time.Hour))
	c.mu.Lock()
	c.onEvents(context.Background(), "REQ-E", []oadr.Event{event})
	c.mu.Unlock()

	require.Equal(t, 1, handlerCalls)
	created, ok := vtn.LastOf("oadrCreatedEvent").(*oadr.CreatedEvent)
	require.True(t, ok)
	require.Len(t, created.EventResponses, 1)
	assert.Equal(t, oadr.OptIn, created.EventResponses[0].OptType)
	assert.Equal(t, "E1", created.EventResponses[0].EventID)
	assert.Equal(t, oadr.StatusOK, created.EventResponses[0].Code)

	// Re-delivery with the same modification number reuses the choice
	// without re-invoking the handler.
	before := len(vtn.Received())
	c.mu.Lock()
	c.onEvents(context.Background(), "REQ-E2", []oadr.Event{event})
	c.mu.Unlock()

	assert.Equal(t, 1, handlerCalls, "handler must not run again for an unchanged event")
	require.Equal(t, before+1, len(vtn.Received()))
	again := vtn.LastOf("oadrCreatedEvent").(*oadr.CreatedEvent)
	require.Len(t, again.EventResponses, 1)
	assert.Equal(t, oadr.OptIn, again.EventResponses[0].OptType)
}

func TestEventUpdateInvokesUpdateHandler(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	var updates int
	c := newTestClient(t, vtn, Options{
		Handlers: Handlers{
			OnEvent: func(oadr.Event) (string, error) { return oadr.OptIn, nil },
			OnUpdateEvent: func(oadr.Event) (string, error) {
				updates++
				return oadr.OptOut, nil
			},
		},
	})

	start := time.Now().UTC().Add(time.Hour)
	c.mu.Lock()
	c.onEvents(context.Background(), "R1", []oadr.Event{testEvent("E1", 0, oadr.ResponseRequiredAlways, start)})
	c.onEvents(context.Background(), "R2", []oadr.Event{testEvent("E1", 1, oadr.ResponseRequiredAlways, start)})
	c.mu.Unlock()

	assert.Equal(t, 1, updates)
	created := vtn.LastOf("oadrCreatedEvent").(*oadr.CreatedEvent)
	require.Len(t, created.EventResponses, 1)
	assert.Equal(t, oadr.OptOut, created.EventResponses[0].OptType)
	assert.Equal(t, 1, created.EventResponses[0].ModificationNumber)
}

func TestEventHandlerErrorOptsBatchOut(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	c := newTestClient(t, vtn, Options{
		Handlers: Handlers{
			OnEvent: func(e oadr.Event) (string, error) {
				if e.ID() == "E-bad" {
					return "", errors.New("boom")
				}
				return oadr.OptIn, nil
			},
		},
	})

	start := time.Now().UTC().Add(time.Hour)
	c.mu.Lock()
	c.onEvents(context.Background(), "R1", []oadr.Event{
		testEvent("E-good", 0, oadr.ResponseRequiredAlways, start),
		testEvent("E-bad", 0, oadr.ResponseRequiredAlways, start),
	})
	c.mu.Unlock()

	created := vtn.LastOf("oadrCreatedEvent").(*oadr.CreatedEvent)
	require.Len(t, created.EventResponses, 2)
	for _, r := range created.EventResponses {
		assert.Equal(t, oadr.OptOut, r.OptType, "a handler failure opts the whole batch out")
	}
}

func TestEventHandlerPanicIsIsolated(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	c := newTestClient(t, vtn, Options{
		Handlers: Handlers{
			OnEvent: func(oadr.Event) (string, error) { panic("handler bug") },
		},
	})

	c.mu.Lock()
	c.onEvents(context.Background(), "R1", []oadr.Event{
		testEvent("E1", 0, oadr.ResponseRequiredAlways, time.Now().UTC().Add(time.Hour)),
	})
	c.mu.Unlock()

	created := vtn.LastOf("oadrCreatedEvent").(*oadr.CreatedEvent)
	require.Len(t, created.EventResponses, 1)
	assert.Equal(t, oadr.OptOut, created.EventResponses[0].OptType)
}

func TestNoResponseWhenNotAlways(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	c := newTestClient(t, vtn, Options{
		Handlers: Handlers{OnEvent: func(oadr.Event) (string, error) { return oadr.OptIn, nil }},
	})

	c.mu.Lock()
	c.onEvents(context.Background(), "R1", []oadr.Event{
		testEvent("E1", 0, oadr.ResponseRequiredNever, time.Now().UTC().Add(time.Hour)),
	})
	c.mu.Unlock()

	assert.Nil(t, vtn.LastOf("oadrCreatedEvent"), "response_required != always emits no response")
}

func TestNoResponseForCompletedEvent(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	c := newTestClient(t, vtn, Options{
		Handlers: Handlers{OnEvent: func(oadr.Event) (string, error) { return oadr.OptIn, nil }},
	})

	// Active period already over.
	c.mu.Lock()
	c.onEvents(context.Background(), "R1", []oadr.Event{
		testEvent("E1", 0, oadr.ResponseRequiredAlways, time.Now().UTC().Add(-2*time.Hour)),
	})
	c.mu.Unlock()

	assert.Nil(t, vtn.LastOf("oadrCreatedEvent"), "completed events get no response")
}

func TestUnsupportedSignalName(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	c := newTestClient(t, vtn, Options{
		Handlers: Handlers{OnEvent: func(oadr.Event) (string, error) { return oadr.OptIn, nil }},
	})

	event := testEvent("E1", 0, oadr.ResponseRequiredAlways, time.Now().UTC().Add(time.Hour))
	event.EventSignals[0].SignalName = "NOT_A_SIGNAL"

	c.mu.Lock()
	c.onEvents(context.Background(), "R1", []oadr.Event{event})
	c.mu.Unlock()

	created := vtn.LastOf("oadrCreatedEvent").(*oadr.CreatedEvent)
	require.Len(t, created.EventResponses, 1)
	assert.Equal(t, oadr.StatusSignalNotSupported, created.EventResponses[0].Code)
}

func TestCreatedEventManualPath(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	c := newTestClient(t, vtn, Options{})
	require.NoError(t, c.CreatedEvent(context.Background(), "REQ-7", "E7", oadr.OptOut, 3))

	created, ok := vtn.LastOf("oadrCreatedEvent").(*oadr.CreatedEvent)
	require.True(t, ok)
	require.Len(t, created.EventResponses, 1)
	assert.Equal(t, "E7", created.EventResponses[0].EventID)
	assert.Equal(t, oadr.OptOut, created.EventResponses[0].OptType)
	assert.Equal(t, 3, created.EventResponses[0].ModificationNumber)
}

func TestCreateOptValidation(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()
	c := newTestClient(t, vtn, Options{})

	_, err := c.CreateOpt(context.Background(), "maybe", "economic", nil, OptOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opt_type")
	assert.Contains(t, err.Error(), oadr.OptIn)

	_, err = c.CreateOpt(context.Background(), oadr.OptOut, "because", nil, OptOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opt_reason")
	assert.Contains(t, err.Error(), "economic")

	assert.Empty(t, vtn.Received(), "validation failures never reach the VTN")
}

func TestCreateAndCancelOpt(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()
	c := newTestClient(t, vtn, Options{})

	optID, err := c.CreateOpt(context.Background(), oadr.OptOut, "economic",
		[]oadr.Target{{ResourceID: "res-1"}}, OptOptions{OptID: "OPT-1"})
	require.NoError(t, err)
	assert.Equal(t, "OPT-1", optID)
	require.Len(t, c.Opts(), 1)

	require.NoError(t, c.CancelOpt(context.Background(), "OPT-1"))
	assert.Empty(t, c.Opts())
}

func TestCancelOptRefusesUnknownID(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()
	c := newTestClient(t, vtn, Options{})

	err := c.CancelOpt(context.Background(), "never-created")
	require.Error(t, err)
	assert.Empty(t, vtn.Received(), "unknown opt ids are refused without a round-trip")
}

func TestEventStatusRefreshAndCleanup(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, vtn, Options{Now: func() time.Time { return now }})

	active := testEvent("E-active", 0, oadr.ResponseRequiredAlways, now.Add(-time.Minute))
	far := testEvent("E-far", 0, oadr.ResponseRequiredAlways, now.Add(time.Hour))
	done := testEvent("E-done", 0, oadr.ResponseRequiredAlways, now.Add(-3*time.Hour))
	cancelled := testEvent("E-cancelled", 0, oadr.ResponseRequiredAlways, now.Add(time.Hour))
	cancelled.EventDescriptor.EventStatus = oadr.EventStatusCancelled

	c.mu.Lock()
	for _, e := range []oadr.Event{active, far, done, cancelled} {
		stored := e
		c.events = append(c.events, &stored)
		c.responded[e.ID()] = oadr.OptIn
	}
	c.mu.Unlock()

	c.eventStatusTick()
	c.mu.Lock()
	assert.Equal(t, oadr.EventStatusActive, c.findEvent("E-active").EventDescriptor.EventStatus)
	assert.Equal(t, oadr.EventStatusFar, c.findEvent("E-far").EventDescriptor.EventStatus)
	assert.Equal(t, oadr.EventStatusCancelled, c.findEvent("E-cancelled").EventDescriptor.EventStatus,
		"cancelled events are not recomputed")
	c.mu.Unlock()

	c.cleanUpTick()
	c.mu.Lock()
	assert.NotNil(t, c.findEvent("E-active"))
	assert.NotNil(t, c.findEvent("E-far"))
	assert.Nil(t, c.findEvent("E-done"), "completed events are retired")
	assert.Nil(t, c.findEvent("E-cancelled"), "cancelled events are retired")
	assert.NotContains(t, c.responded, "E-done")
	assert.NotContains(t, c.responded, "E-cancelled")
	c.mu.Unlock()
}

func TestHooksObserveTraffic(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	var sent, parsed int
	c := newTestClient(t, vtn, Options{
		Hooks: Hooks{
			BeforeSendXML: []func([]byte){
				func([]byte) { sent++ },
				func([]byte) { panic("listener bug") },
			},
			AfterParseXML: []func(oadr.Message){func(oadr.Message) { parsed++ }},
		},
	})
	mustRegister(t, c)

	assert.Equal(t, 2, sent, "query + create party registration")
	assert.Equal(t, 2, parsed)
	assert.Equal(t, "REG-1", c.RegistrationID(), "a panicking listener does not break the chain")
}

func TestPollDispatchesDistributeEvent(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()

	var handled int
	c := newTestClient(t, vtn, Options{
		Handlers: Handlers{OnEvent: func(oadr.Event) (string, error) { handled++; return oadr.OptIn, nil }},
	})

	vtn.QueuePoll(&oadr.DistributeEvent{
		RequestID: "D1",
		Events:    []oadr.Event{testEvent("E1", 0, oadr.ResponseRequiredAlways, time.Now().UTC().Add(time.Hour))},
	})
	c.pollTick()

	assert.Equal(t, 1, handled)
	assert.NotNil(t, vtn.LastOf("oadrCreatedEvent"))
}

func TestPollAcknowledgesVTNRegisterReport(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()
	c := newTestClient(t, vtn, Options{})

	vtn.QueuePoll(&oadr.RegisterReport{RequestID: "RR-vtn"})
	c.pollTick()

	ack, ok := vtn.LastOf("oadrRegisteredReport").(*oadr.RegisteredReport)
	require.True(t, ok)
	assert.Equal(t, "RR-vtn", ack.Response.RequestID)
	assert.Empty(t, ack.ReportRequests)
}

func TestPollIgnoresUnexpectedMessage(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()
	c := newTestClient(t, vtn, Options{})

	vtn.QueuePoll(&oadr.CreatedOpt{Response: oadr.ResponseOK("X")})
	c.pollTick() // must not panic or answer

	assert.Equal(t, []string{"oadrPoll"}, vtn.ReceivedNames())
}

func TestRunAndStop(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()
	vtn.PollFreq = oadr.Duration(time.Hour)

	c := newTestClient(t, vtn, Options{})
	_, _, err := c.AddReport(ScalarFunc(func(context.Context) (float64, error) { return 42, nil }),
		ReportOptions{ResourceID: "res-1", Measurement: "energyReal"})
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))
	defer c.Stop()

	assert.Equal(t, "REG-1", c.RegistrationID())
	names := vtn.ReceivedNames()
	assert.Contains(t, names, "oadrQueryRegistration")
	assert.Contains(t, names, "oadrCreatePartyRegistration")
	assert.Contains(t, names, "oadrRegisterReport")
	assert.Contains(t, names, "oadrRequestEvent")

	registered, ok := vtn.LastOf("oadrRegisterReport").(*oadr.RegisterReport)
	require.True(t, ok)
	assert.Equal(t, "0", registered.ReportRequestID)
	require.Len(t, registered.Reports, 1)
	assert.False(t, registered.Reports[0].CreatedDateTime.IsZero())

	c.Stop()
	assert.Equal(t, 0, c.sched.JobCount())
}

func TestRunFailsWhenVTNRefuses(t *testing.T) {
	vtn := ventest.New()
	defer vtn.Close()
	vtn.Enqueue(ServiceRegisterParty, &oadr.CreatedPartyRegistration{
		Response: oadr.ResponseError(oadr.StatusNotAllowed, "Q1"),
	})
	vtn.Enqueue(ServiceRegisterParty, &oadr.CreatedPartyRegistration{
		Response: oadr.ResponseError(oadr.StatusNotAllowed, "Q1"),
	})

	c := newTestClient(t, vtn, Options{})
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration")
}
