package ven

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gridlink/vend/internal/oadr"
)

// onEvents is the intake path for a batch of distributed events:
// deduplicate by event ID and modification number, run the user
// handler, record opt choices, and synthesize the oadrCreatedEvent
// answer. Callers hold mu.
func (c *Client) onEvents(ctx context.Context, requestID string, events []oadr.Event) {
	decisions := make([]string, len(events))
	batchFailed := false

	for i, event := range events {
		eventID := event.ID()
		known := c.findEvent(eventID)

		var opt string
		var err error
		switch {
		case known != nil && known.EventDescriptor.ModificationNumber == event.EventDescriptor.ModificationNumber:
			// Unchanged re-delivery: reuse the recorded choice without
			// bothering the handler.
			opt = c.responded[eventID]
		case known != nil:
			*known = event
			opt, err = c.handleUpdateEvent(event, eventID)
		default:
			stored := event
			c.events = append(c.events, &stored)
			opt, err = c.handleNewEvent(event, eventID)
		}
		if err != nil {
			slog.Error("client: event handler failed", "event_id", eventID, "error", err)
			batchFailed = true
		}
		if opt != oadr.OptIn && opt != oadr.OptOut &&
			event.ResponseRequired == oadr.ResponseRequiredAlways {
			slog.Warn("client: handler returned no valid opt, coercing to optOut",
				"event_id", eventID, "got", opt)
			opt = oadr.OptOut
		}
		decisions[i] = opt
	}

	if batchFailed {
		slog.Warn("client: handler failure, opting the whole batch out")
		for i := range decisions {
			decisions[i] = oadr.OptOut
		}
	}

	for i, event := range events {
		eventID := event.ID()
		switch event.EventDescriptor.EventStatus {
		case oadr.EventStatusCompleted, oadr.EventStatusCancelled:
			delete(c.responded, eventID)
		default:
			c.responded[eventID] = decisions[i]
		}
	}

	responses := c.synthesizeResponses(requestID, events, decisions)
	if len(responses) == 0 {
		return
	}
	msg := &oadr.CreatedEvent{
		Response:       oadr.ResponseOK(requestID),
		VenID:          c.venID,
		EventResponses: responses,
	}
	_, err := c.request(ctx, ServiceEvent, msg)
	c.logRequestErr("created event", err)
}

// synthesizeResponses builds one entry per event that demands a reply
// and is not already past its active period. An unrecognized signal
// name flips the entry to SIGNAL_NOT_SUPPORTED and stops the scan for
// that event.
func (c *Client) synthesizeResponses(requestID string, events []oadr.Event, decisions []string) []oadr.EventResponse {
	now := c.now()
	var responses []oadr.EventResponse
	for i, event := range events {
		if event.ResponseRequired != oadr.ResponseRequiredAlways {
			continue
		}
		if oadr.EventStatusAt(event.ActivePeriod, now) == oadr.EventStatusCompleted {
			continue
		}

		code, description := oadr.StatusOK, "OK"
		for _, signal := range event.EventSignals {
			if !oadr.SignalNames.Valid(signal.SignalName) {
				slog.Warn("client: unsupported signal name",
					"event_id", event.ID(), "signal_name", signal.SignalName)
				code, description = oadr.StatusSignalNotSupported, "Signal not supported"
				break
			}
		}
		responses = append(responses, oadr.EventResponse{
			Code:               code,
			Description:        description,
			RequestID:          requestID,
			EventID:            event.ID(),
			ModificationNumber: event.EventDescriptor.ModificationNumber,
			OptType:            decisions[i],
		})
	}
	return responses
}

// handleNewEvent runs the OnEvent handler; without one the event is
// logged and opted out.
func (c *Client) handleNewEvent(event oadr.Event, eventID string) (string, error) {
	if c.handlers.OnEvent == nil {
		slog.Warn("client: no OnEvent handler, opting out", "event_id", eventID)
		return oadr.OptOut, nil
	}
	return callEventHandler(c.handlers.OnEvent, event)
}

// handleUpdateEvent runs the OnUpdateEvent handler; without one the
// previous choice is reused.
func (c *Client) handleUpdateEvent(event oadr.Event, eventID string) (string, error) {
	if c.handlers.OnUpdateEvent == nil {
		slog.Debug("client: no OnUpdateEvent handler, keeping previous choice", "event_id", eventID)
		return c.responded[eventID], nil
	}
	return callEventHandler(c.handlers.OnUpdateEvent, event)
}

// callEventHandler invokes a user handler with panic isolation.
func callEventHandler(h EventHandler, event oadr.Event) (opt string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return h(event)
}

// syncEvents asks the VTN for pending events and feeds them through
// intake. Used on initial connect and after re-registration. Callers
// hold mu.
func (c *Client) syncEvents(ctx context.Context) {
	msg := &oadr.RequestEvent{RequestID: oadr.GenerateID(), VenID: c.venID}
	reply, err := c.request(ctx, ServiceEvent, msg)
	if c.logRequestErr("request event", err) {
		return
	}
	if distribute, ok := reply.(*oadr.DistributeEvent); ok && len(distribute.Events) > 0 {
		c.onEvents(ctx, distribute.RequestID, distribute.Events)
	}
}

// CreatedEvent sends a single opt decision directly, bypassing the
// intake path. For callers that track events themselves.
func (c *Client) CreatedEvent(ctx context.Context, requestID, eventID, optType string, modificationNumber int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := &oadr.CreatedEvent{
		Response: oadr.ResponseOK(requestID),
		VenID:    c.venID,
		EventResponses: []oadr.EventResponse{{
			Code:               oadr.StatusOK,
			Description:        "OK",
			RequestID:          requestID,
			EventID:            eventID,
			ModificationNumber: modificationNumber,
			OptType:            optType,
		}},
	}
	_, err := c.request(ctx, ServiceEvent, msg)
	return err
}

// findEvent locates a received event by ID. Callers hold mu.
func (c *Client) findEvent(eventID string) *oadr.Event {
	for _, event := range c.events {
		if event.ID() == eventID {
			return event
		}
	}
	return nil
}
