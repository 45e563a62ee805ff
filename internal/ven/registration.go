package ven

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridlink/vend/internal/oadr"
)

// register runs the initial handshake: query the VTN's registration
// parameters, then create the party registration echoing the VTN's
// request ID. Callers hold mu.
func (c *Client) register(ctx context.Context) error {
	query := &oadr.QueryRegistration{RequestID: oadr.GenerateID()}
	reply, err := c.request(ctx, ServiceRegisterParty, query)
	if err != nil {
		return fmt.Errorf("query registration: %w", err)
	}

	requestID := ""
	if created, ok := reply.(*oadr.CreatedPartyRegistration); ok {
		requestID = created.Response.RequestID
	}
	return c.createPartyRegistration(ctx, requestID, "")
}

// createPartyRegistration sends oadrCreatePartyRegistration and applies
// the VTN's answer to the client state. registrationID is non-empty
// only on re-registration. Callers hold mu.
func (c *Client) createPartyRegistration(ctx context.Context, requestID, registrationID string) error {
	if requestID == "" {
		requestID = oadr.GenerateID()
	}
	msg := &oadr.CreatePartyRegistration{
		RequestID:      requestID,
		RegistrationID: registrationID,
		VenID:          c.venID,
		VenName:        c.venName,
		ProfileName:    profileName,
		TransportName:  transportName,
		ReportOnly:     false,
		XMLSignature:   false,
		HTTPPullModel:  true,
	}
	reply, err := c.request(ctx, ServiceRegisterParty, msg)
	if err != nil {
		return fmt.Errorf("create party registration: %w", err)
	}
	created, ok := reply.(*oadr.CreatedPartyRegistration)
	if !ok {
		return fmt.Errorf("unexpected reply %s to party registration", nameOf(reply))
	}
	if !created.Response.OK() {
		return fmt.Errorf("VTN refused registration: code %d %s",
			created.Response.Code, created.Response.Description)
	}
	if created.RegistrationID == "" {
		return errors.New("VTN did not assign a registration_id")
	}

	c.registrationID = created.RegistrationID
	if created.VenID != "" && created.VenID != c.venID {
		if c.venID != "" {
			slog.Warn("client: VTN overrode the configured ven_id",
				"configured", c.venID, "assigned", created.VenID)
		}
		c.venID = created.VenID
	}

	pollFreq := DefaultPollFrequency
	if created.RequestedPollFreq > 0 {
		pollFreq = time.Duration(created.RequestedPollFreq)
	}
	if pollFreq > MaxPollFrequency {
		slog.Warn("client: requested poll frequency clamped",
			"requested", pollFreq, "max", MaxPollFrequency)
		pollFreq = MaxPollFrequency
	}
	if pollFreq < MinPollFrequency {
		slog.Warn("client: requested poll frequency clamped",
			"requested", pollFreq, "min", MinPollFrequency)
		pollFreq = MinPollFrequency
	}
	c.pollFrequency = pollFreq

	slog.Info("client: registered with VTN",
		"registration_id", c.registrationID,
		"ven_id", c.venID,
		"vtn_id", created.VtnID,
		"poll_frequency", pollFreq)
	return nil
}

// onRequestReregistration handles the VTN ordering a fresh handshake:
// acknowledge, redo create-party-registration with the current
// registration ID, replay the report registration, and re-sync events.
// Callers hold mu.
func (c *Client) onRequestReregistration(ctx context.Context) {
	slog.Info("client: VTN requested re-registration")

	ack := &oadr.Response{Response: oadr.ResponseOK(""), VenID: c.venID}
	_, err := c.request(ctx, ServiceRegisterParty, ack)
	c.logRequestErr("reregistration ack", err)

	if err := c.createPartyRegistration(ctx, "", c.registrationID); err != nil {
		slog.Error("client: re-registration failed", "error", err)
		return
	}

	// Drop the old subscriptions; the VTN re-establishes the ones it
	// still wants through the register-report exchange.
	c.dropRequests()
	c.registerReports(ctx)
	c.syncEvents(ctx)
}

// CancelPartyRegistration tears the registration down from the VEN
// side. On VTN ack all reporting state and scheduled jobs are wiped.
func (c *Client) CancelPartyRegistration(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registrationID == "" {
		return errors.New("not registered")
	}
	msg := &oadr.CancelPartyRegistration{
		RequestID:      oadr.GenerateID(),
		RegistrationID: c.registrationID,
		VenID:          c.venID,
	}
	reply, err := c.request(ctx, ServiceRegisterParty, msg)
	if err != nil {
		return fmt.Errorf("cancel party registration: %w", err)
	}
	ack, ok := reply.(*oadr.CanceledPartyRegistration)
	if !ok {
		return fmt.Errorf("unexpected reply %s to registration cancel", nameOf(reply))
	}
	if !ack.Response.OK() {
		return fmt.Errorf("VTN refused registration cancel: code %d %s",
			ack.Response.Code, ack.Response.Description)
	}
	c.clearRegistration()
	return nil
}

// onCancelPartyRegistration handles a VTN-initiated cancellation. A
// registration ID that does not match ours is answered with 452 and
// local state is left untouched. Callers hold mu.
func (c *Client) onCancelPartyRegistration(ctx context.Context, m *oadr.CancelPartyRegistration) {
	if m.RegistrationID != c.registrationID {
		slog.Warn("client: cancel for unknown registration_id",
			"got", m.RegistrationID, "have", c.registrationID)
		ack := &oadr.CanceledPartyRegistration{
			Response:       oadr.ResponseError(oadr.StatusInvalidID, m.RequestID),
			RegistrationID: m.RegistrationID,
			VenID:          c.venID,
		}
		_, err := c.request(ctx, ServiceRegisterParty, ack)
		c.logRequestErr("registration cancel nack", err)
		return
	}

	ack := &oadr.CanceledPartyRegistration{
		Response:       oadr.ResponseOK(m.RequestID),
		RegistrationID: m.RegistrationID,
		VenID:          c.venID,
	}
	_, err := c.request(ctx, ServiceRegisterParty, ack)
	c.logRequestErr("registration cancel ack", err)
	c.clearRegistration()
}

// clearRegistration wipes the registration and all reporting state.
// Containers are reset to empty, not nil: re-registration walks them.
// Callers hold mu.
func (c *Client) clearRegistration() {
	c.sched.RemoveAll()
	c.registrationID = ""
	c.reports = []*oadr.Report{}
	c.samplers = make(map[samplerKey]samplerEntry)
	c.requests = []*activeRequest{}
	c.incomplete = make(map[string]*oadr.Report)
	c.pending.Reset()
	slog.Info("client: registration cancelled")
}

// dropRequests removes all active report subscriptions and their
// scheduled jobs, keeping the declared reports. Callers hold mu.
func (c *Client) dropRequests() {
	for _, req := range c.requests {
		if req.hasJob {
			c.sched.Remove(req.job)
			req.hasJob = false
		}
	}
	c.requests = []*activeRequest{}
	c.incomplete = make(map[string]*oadr.Report)
}

// nameOf is a nil-safe Message.Name.
func nameOf(m oadr.Message) string {
	if m == nil {
		return "empty reply"
	}
	return m.Name()
}
