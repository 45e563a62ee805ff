package ven

import (
	"context"
	"fmt"

	"github.com/gridlink/vend/internal/oadr"
)

// OptOptions carry the optional fields of an opt declaration.
type OptOptions struct {
	OptID              string // generated when empty
	MarketContext      string
	EventID            string
	ModificationNumber int
	SignalTargetMRID   string
	Availability       *oadr.Availability
}

// CreateOpt declares availability (or unavailability) to the VTN and
// returns the VTN-acknowledged opt ID.
func (c *Client) CreateOpt(ctx context.Context, optType, optReason string, targets []oadr.Target, o OptOptions) (string, error) {
	if !oadr.OptTypes.Valid(optType) {
		return "", fmt.Errorf("opt_type %q must be one of %v", optType, oadr.OptTypes.Values())
	}
	if !oadr.OptReasons.Valid(optReason) {
		return "", fmt.Errorf("opt_reason %q must be one of %v or carry the x- prefix",
			optReason, oadr.OptReasons.Values())
	}

	optID := o.OptID
	if optID == "" {
		optID = oadr.GenerateID()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	opt := oadr.Opt{
		OptID:              optID,
		OptType:            optType,
		OptReason:          optReason,
		MarketContext:      o.MarketContext,
		EventID:            o.EventID,
		ModificationNumber: o.ModificationNumber,
		Targets:            targets,
		Availability:       o.Availability,
		SignalTargetMRID:   o.SignalTargetMRID,
		CreatedDateTime:    c.now(),
	}
	c.opts = append(c.opts, opt)

	msg := &oadr.CreateOpt{RequestID: oadr.GenerateID(), VenID: c.venID, Opt: opt}
	reply, err := c.request(ctx, ServiceOpt, msg)
	if err != nil {
		c.removeOpt(optID)
		return "", fmt.Errorf("create opt: %w", err)
	}
	ack, ok := reply.(*oadr.CreatedOpt)
	if !ok {
		c.removeOpt(optID)
		return "", fmt.Errorf("unexpected reply %s to create opt", nameOf(reply))
	}
	if !ack.Response.OK() {
		c.removeOpt(optID)
		return "", fmt.Errorf("VTN refused opt: code %d %s", ack.Response.Code, ack.Response.Description)
	}
	if ack.OptID != "" {
		return ack.OptID, nil
	}
	return optID, nil
}

// CancelOpt withdraws a previously acknowledged opt. Unknown IDs are
// refused without a VTN round-trip.
func (c *Client) CancelOpt(ctx context.Context, optID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasOpt(optID) {
		return fmt.Errorf("unknown opt_id %q", optID)
	}
	msg := &oadr.CancelOpt{RequestID: oadr.GenerateID(), VenID: c.venID, OptID: optID}
	reply, err := c.request(ctx, ServiceOpt, msg)
	if err != nil {
		return fmt.Errorf("cancel opt: %w", err)
	}
	ack, ok := reply.(*oadr.CanceledOpt)
	if !ok {
		return fmt.Errorf("unexpected reply %s to cancel opt", nameOf(reply))
	}
	if !ack.Response.OK() {
		return fmt.Errorf("VTN refused opt cancel: code %d %s", ack.Response.Code, ack.Response.Description)
	}
	c.removeOpt(optID)
	return nil
}

// Opts returns a snapshot of the locally recorded opts.
func (c *Client) Opts() []oadr.Opt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]oadr.Opt, len(c.opts))
	copy(out, c.opts)
	return out
}

func (c *Client) hasOpt(optID string) bool {
	for _, opt := range c.opts {
		if opt.OptID == optID {
			return true
		}
	}
	return false
}

func (c *Client) removeOpt(optID string) {
	for i, opt := range c.opts {
		if opt.OptID == optID {
			c.opts = append(c.opts[:i], c.opts[i+1:]...)
			return
		}
	}
}
