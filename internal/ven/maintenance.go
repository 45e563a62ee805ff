package ven

import (
	"log/slog"

	"github.com/gridlink/vend/internal/oadr"
)

// eventStatusTick recomputes the status of every non-cancelled received
// event from its active period, logging transitions.
func (c *Client) eventStatusTick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, event := range c.events {
		if event.EventDescriptor.EventStatus == oadr.EventStatusCancelled {
			continue
		}
		status := oadr.EventStatusAt(event.ActivePeriod, now)
		if status != event.EventDescriptor.EventStatus {
			slog.Info("client: event status changed",
				"event_id", event.ID(),
				"from", event.EventDescriptor.EventStatus,
				"to", status)
			event.EventDescriptor.EventStatus = status
		}
	}
}

// cleanUpTick retires events that are cancelled or past their active
// period, together with their recorded opt choices.
func (c *Client) cleanUpTick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	kept := c.events[:0]
	for _, event := range c.events {
		status := event.EventDescriptor.EventStatus
		if status == oadr.EventStatusCancelled ||
			oadr.EventStatusAt(event.ActivePeriod, now) == oadr.EventStatusCompleted {
			slog.Debug("client: retiring event", "event_id", event.ID(), "status", status)
			delete(c.responded, event.ID())
			continue
		}
		kept = append(kept, event)
	}
	c.events = kept
}
