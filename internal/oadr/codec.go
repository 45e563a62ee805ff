package oadr

import (
	"encoding/xml"
	"fmt"
)

// SchemaError marks a payload that failed structural validation:
// malformed XML, an unknown root element, or an empty envelope.
// The dispatcher drops such messages with a warning.
type SchemaError struct {
	Detail string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oadr schema: %s: %v", e.Detail, e.Err)
	}
	return "oadr schema: " + e.Detail
}

func (e *SchemaError) Unwrap() error { return e.Err }

// envelope is the outer oadrPayload/oadrSignedObject wrapper every
// message travels in.
type envelope struct {
	XMLName xml.Name     `xml:"oadrPayload"`
	Signed  signedObject `xml:"oadrSignedObject"`
}

// signedObject is a one-of: exactly one member is set per payload.
type signedObject struct {
	QueryRegistration         *QueryRegistration         `xml:"oadrQueryRegistration"`
	CreatePartyRegistration   *CreatePartyRegistration   `xml:"oadrCreatePartyRegistration"`
	CreatedPartyRegistration  *CreatedPartyRegistration  `xml:"oadrCreatedPartyRegistration"`
	CancelPartyRegistration   *CancelPartyRegistration   `xml:"oadrCancelPartyRegistration"`
	CanceledPartyRegistration *CanceledPartyRegistration `xml:"oadrCanceledPartyRegistration"`
	RequestReregistration     *RequestReregistration     `xml:"oadrRequestReregistration"`
	Poll                      *Poll                      `xml:"oadrPoll"`
	Response                  *Response                  `xml:"oadrResponse"`
	DistributeEvent           *DistributeEvent           `xml:"oadrDistributeEvent"`
	RequestEvent              *RequestEvent              `xml:"oadrRequestEvent"`
	CreatedEvent              *CreatedEvent              `xml:"oadrCreatedEvent"`
	RegisterReport            *RegisterReport            `xml:"oadrRegisterReport"`
	RegisteredReport          *RegisteredReport          `xml:"oadrRegisteredReport"`
	CreateReport              *CreateReport              `xml:"oadrCreateReport"`
	CreatedReport             *CreatedReport             `xml:"oadrCreatedReport"`
	UpdateReport              *UpdateReport              `xml:"oadrUpdateReport"`
	UpdatedReport             *UpdatedReport             `xml:"oadrUpdatedReport"`
	CancelReport              *CancelReport              `xml:"oadrCancelReport"`
	CanceledReport            *CanceledReport            `xml:"oadrCanceledReport"`
	CreateOpt                 *CreateOpt                 `xml:"oadrCreateOpt"`
	CreatedOpt                *CreatedOpt                `xml:"oadrCreatedOpt"`
	CancelOpt                 *CancelOpt                 `xml:"oadrCancelOpt"`
	CanceledOpt               *CanceledOpt               `xml:"oadrCanceledOpt"`
}

// set places msg in its one-of slot.
func (s *signedObject) set(msg Message) error {
	switch m := msg.(type) {
	case *QueryRegistration:
		s.QueryRegistration = m
	case *CreatePartyRegistration:
		s.CreatePartyRegistration = m
	case *CreatedPartyRegistration:
		s.CreatedPartyRegistration = m
	case *CancelPartyRegistration:
		s.CancelPartyRegistration = m
	case *CanceledPartyRegistration:
		s.CanceledPartyRegistration = m
	case *RequestReregistration:
		s.RequestReregistration = m
	case *Poll:
		s.Poll = m
	case *Response:
		s.Response = m
	case *DistributeEvent:
		s.DistributeEvent = m
	case *RequestEvent:
		s.RequestEvent = m
	case *CreatedEvent:
		s.CreatedEvent = m
	case *RegisterReport:
		s.RegisterReport = m
	case *RegisteredReport:
		s.RegisteredReport = m
	case *CreateReport:
		s.CreateReport = m
	case *CreatedReport:
		s.CreatedReport = m
	case *UpdateReport:
		s.UpdateReport = m
	case *UpdatedReport:
		s.UpdatedReport = m
	case *CancelReport:
		s.CancelReport = m
	case *CanceledReport:
		s.CanceledReport = m
	case *CreateOpt:
		s.CreateOpt = m
	case *CreatedOpt:
		s.CreatedOpt = m
	case *CancelOpt:
		s.CancelOpt = m
	case *CanceledOpt:
		s.CanceledOpt = m
	default:
		return fmt.Errorf("unsupported message type %T", msg)
	}
	return nil
}

// get returns whichever one-of slot is set, or nil.
func (s *signedObject) get() Message {
	for _, m := range []Message{
		wrap(s.QueryRegistration), wrap(s.CreatePartyRegistration),
		wrap(s.CreatedPartyRegistration), wrap(s.CancelPartyRegistration),
		wrap(s.CanceledPartyRegistration), wrap(s.RequestReregistration),
		wrap(s.Poll), wrap(s.Response), wrap(s.DistributeEvent),
		wrap(s.RequestEvent), wrap(s.CreatedEvent), wrap(s.RegisterReport),
		wrap(s.RegisteredReport), wrap(s.CreateReport), wrap(s.CreatedReport),
		wrap(s.UpdateReport), wrap(s.UpdatedReport), wrap(s.CancelReport),
		wrap(s.CanceledReport), wrap(s.CreateOpt), wrap(s.CreatedOpt),
		wrap(s.CancelOpt), wrap(s.CanceledOpt),
	} {
		if m != nil {
			return m
		}
	}
	return nil
}

// wrap turns a typed nil pointer into an untyped nil Message.
func wrap[T Message](m *T) Message {
	if m == nil {
		return nil
	}
	return any(m).(Message)
}

// Marshal encodes msg into its oadrPayload envelope.
func Marshal(msg Message) ([]byte, error) {
	var env envelope
	if err := env.Signed.set(msg); err != nil {
		return nil, err
	}
	body, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Name(), err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Parse decodes an oadrPayload envelope and returns the inner message.
// Malformed XML and unrecognized payloads yield a *SchemaError.
func Parse(data []byte) (Message, error) {
	var env envelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, &SchemaError{Detail: "malformed payload", Err: err}
	}
	msg := env.Signed.get()
	if msg == nil {
		return nil, &SchemaError{Detail: "no recognized message in oadrSignedObject"}
	}
	return msg, nil
}
