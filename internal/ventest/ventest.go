// Package ventest provides a scripted in-process VTN for tests: an
// httptest server that records every message the client sends and
// answers from per-service reply queues, with sensible defaults for
// the standard exchanges.
package ventest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/gridlink/vend/internal/oadr"
)

// Responder computes a scripted reply for a received message. A nil
// return produces an empty 200 body.
type Responder func(msg oadr.Message) oadr.Message

// Received is one recorded exchange.
type Received struct {
	Service string
	Message oadr.Message
}

// VTN is a scripted OpenADR VTN. Zero scripting yields a permissive
// VTN that accepts registrations and report declarations and has
// nothing queued on poll.
type VTN struct {
	srv *httptest.Server

	mu       sync.Mutex
	received []Received
	queues   map[string][]oadr.Message
	handlers map[string]Responder

	// RegistrationID and AssignedVenID are used by the default
	// registration replies.
	RegistrationID string
	AssignedVenID  string
	PollFreq       oadr.Duration
}

// New starts a VTN on a random local port.
func New() *VTN {
	v := &VTN{
		queues:         make(map[string][]oadr.Message),
		handlers:       make(map[string]Responder),
		RegistrationID: "REG-1",
		AssignedVenID:  "VEN-1",
	}
	router := chi.NewRouter()
	router.Post("/{service}", v.handle)
	v.srv = httptest.NewServer(router)
	return v
}

// URL returns the VTN base URL.
func (v *VTN) URL() string { return v.srv.URL }

// Close shuts the server down.
func (v *VTN) Close() { v.srv.Close() }

// Enqueue scripts a one-shot reply for the next message on service.
// Queued replies take precedence over Handle responders and defaults.
func (v *VTN) Enqueue(service string, msg oadr.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queues[service] = append(v.queues[service], msg)
}

// QueuePoll scripts the reply to the next oadrPoll.
func (v *VTN) QueuePoll(msg oadr.Message) {
	v.Enqueue("OadrPoll", msg)
}

// Handle installs a persistent responder for a service.
func (v *VTN) Handle(service string, fn Responder) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handlers[service] = fn
}

// Received returns a snapshot of all recorded exchanges in order.
func (v *VTN) Received() []Received {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Received, len(v.received))
	copy(out, v.received)
	return out
}

// ReceivedNames returns the wire names of all recorded messages in
// order.
func (v *VTN) ReceivedNames() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, len(v.received))
	for i, r := range v.received {
		names[i] = r.Message.Name()
	}
	return names
}

// LastOf returns the most recent received message with the given wire
// name, or nil.
func (v *VTN) LastOf(name string) oadr.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := len(v.received) - 1; i >= 0; i-- {
		if v.received[i].Message.Name() == name {
			return v.received[i].Message
		}
	}
	return nil
}

func (v *VTN) handle(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := oadr.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	v.mu.Lock()
	v.received = append(v.received, Received{Service: service, Message: msg})
	var reply oadr.Message
	if queue := v.queues[service]; len(queue) > 0 {
		reply = queue[0]
		v.queues[service] = queue[1:]
	} else if responder, ok := v.handlers[service]; ok {
		v.mu.Unlock()
		reply = responder(msg)
		v.mu.Lock()
	} else {
		reply = v.defaultReply(msg)
	}
	v.mu.Unlock()

	if reply == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	payload, err := oadr.Marshal(reply)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// defaultReply implements a permissive VTN for the standard exchanges.
func (v *VTN) defaultReply(msg oadr.Message) oadr.Message {
	switch m := msg.(type) {
	case *oadr.QueryRegistration:
		return &oadr.CreatedPartyRegistration{
			Response:       oadr.ResponseOK(m.RequestID),
			RegistrationID: v.RegistrationID,
			VtnID:          "VTN-TEST",
		}
	case *oadr.CreatePartyRegistration:
		return &oadr.CreatedPartyRegistration{
			Response:          oadr.ResponseOK(m.RequestID),
			RegistrationID:    v.RegistrationID,
			VenID:             v.AssignedVenID,
			VtnID:             "VTN-TEST",
			RequestedPollFreq: v.PollFreq,
		}
	case *oadr.CancelPartyRegistration:
		return &oadr.CanceledPartyRegistration{
			Response:       oadr.ResponseOK(m.RequestID),
			RegistrationID: m.RegistrationID,
			VenID:          m.VenID,
		}
	case *oadr.RegisterReport:
		return &oadr.RegisteredReport{Response: oadr.ResponseOK(m.RequestID)}
	case *oadr.UpdateReport:
		return &oadr.UpdatedReport{Response: oadr.ResponseOK(m.RequestID)}
	case *oadr.RequestEvent:
		return nil
	case *oadr.Poll:
		return nil
	case *oadr.CreateOpt:
		return &oadr.CreatedOpt{Response: oadr.ResponseOK(m.RequestID), OptID: m.OptID}
	case *oadr.CancelOpt:
		return &oadr.CanceledOpt{Response: oadr.ResponseOK(m.RequestID), OptID: m.OptID}
	case *oadr.CreatedReport, *oadr.CanceledReport, *oadr.CreatedEvent, *oadr.Response, *oadr.RegisteredReport, *oadr.CanceledPartyRegistration:
		return &oadr.Response{Response: oadr.ResponseOK("")}
	default:
		return &oadr.Response{Response: oadr.ResponseOK("")}
	}
}
