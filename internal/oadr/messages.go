package oadr

// Message is implemented by every OpenADR payload the client can send
// or receive. Name returns the oadr* element name used on the wire.
type Message interface {
	Name() string
}

// QueryRegistration asks the VTN for its registration parameters.
type QueryRegistration struct {
	RequestID string `xml:"requestID"`
}

func (QueryRegistration) Name() string { return "oadrQueryRegistration" }

// CreatePartyRegistration registers (or re-registers) this VEN.
type CreatePartyRegistration struct {
	RequestID        string `xml:"requestID"`
	RegistrationID   string `xml:"registrationID,omitempty"`
	VenID            string `xml:"venID,omitempty"`
	VenName          string `xml:"oadrVenName"`
	ProfileName      string `xml:"oadrProfileName"`
	TransportName    string `xml:"oadrTransportName"`
	TransportAddress string `xml:"oadrTransportAddress,omitempty"`
	ReportOnly       bool   `xml:"oadrReportOnly"`
	XMLSignature     bool   `xml:"oadrXmlSignature"`
	HTTPPullModel    bool   `xml:"oadrHttpPullModel"`
}

func (CreatePartyRegistration) Name() string { return "oadrCreatePartyRegistration" }

// CreatedPartyRegistration is the VTN's answer to a registration.
type CreatedPartyRegistration struct {
	Response          EiResponse `xml:"eiResponse"`
	RegistrationID    string     `xml:"registrationID,omitempty"`
	VenID             string     `xml:"venID,omitempty"`
	VtnID             string     `xml:"vtnID,omitempty"`
	RequestedPollFreq Duration   `xml:"oadrRequestedOadrPollFreq,omitempty"`
}

func (CreatedPartyRegistration) Name() string { return "oadrCreatedPartyRegistration" }

// CancelPartyRegistration tears a registration down. Sent by either side.
type CancelPartyRegistration struct {
	RequestID      string `xml:"requestID"`
	RegistrationID string `xml:"registrationID"`
	VenID          string `xml:"venID,omitempty"`
}

func (CancelPartyRegistration) Name() string { return "oadrCancelPartyRegistration" }

// CanceledPartyRegistration acknowledges a registration cancellation.
type CanceledPartyRegistration struct {
	Response       EiResponse `xml:"eiResponse"`
	RegistrationID string     `xml:"registrationID,omitempty"`
	VenID          string     `xml:"venID,omitempty"`
}

func (CanceledPartyRegistration) Name() string { return "oadrCanceledPartyRegistration" }

// RequestReregistration is the VTN's order to redo the handshake.
type RequestReregistration struct {
	VenID string `xml:"venID,omitempty"`
}

func (RequestReregistration) Name() string { return "oadrRequestReregistration" }

// Poll asks the VTN for the next queued message.
type Poll struct {
	VenID string `xml:"venID"`
}

func (Poll) Name() string { return "oadrPoll" }

// Response is the generic empty acknowledgement.
type Response struct {
	Response EiResponse `xml:"eiResponse"`
	VenID    string     `xml:"venID,omitempty"`
}

func (Response) Name() string { return "oadrResponse" }

// DistributeEvent delivers demand-response events to the VEN.
type DistributeEvent struct {
	Response  *EiResponse `xml:"eiResponse,omitempty"`
	RequestID string      `xml:"requestID"`
	VtnID     string      `xml:"vtnID,omitempty"`
	Events    []Event     `xml:"oadrEvent>eiEvent"`
}

func (DistributeEvent) Name() string { return "oadrDistributeEvent" }

// RequestEvent explicitly asks the VTN for pending events.
type RequestEvent struct {
	RequestID  string `xml:"requestID"`
	VenID      string `xml:"venID"`
	ReplyLimit int    `xml:"replyLimit,omitempty"`
}

func (RequestEvent) Name() string { return "oadrRequestEvent" }

// CreatedEvent carries the VEN's opt decisions for received events.
type CreatedEvent struct {
	Response       EiResponse      `xml:"eiResponse"`
	VenID          string          `xml:"venID,omitempty"`
	EventResponses []EventResponse `xml:"eventResponses>eventResponse,omitempty"`
}

func (CreatedEvent) Name() string { return "oadrCreatedEvent" }

// RegisterReport declares the VEN's reporting capabilities.
type RegisterReport struct {
	RequestID       string   `xml:"requestID"`
	VenID           string   `xml:"venID,omitempty"`
	ReportRequestID string   `xml:"reportRequestID,omitempty"`
	Reports         []Report `xml:"oadrReport,omitempty"`
}

func (RegisterReport) Name() string { return "oadrRegisterReport" }

// RegisteredReport acknowledges a RegisterReport and may carry the
// VTN's subscriptions.
type RegisteredReport struct {
	Response       EiResponse      `xml:"eiResponse"`
	VenID          string          `xml:"venID,omitempty"`
	ReportRequests []ReportRequest `xml:"oadrReportRequest,omitempty"`
}

func (RegisteredReport) Name() string { return "oadrRegisteredReport" }

// CreateReport is the VTN subscribing to declared reports.
type CreateReport struct {
	RequestID      string          `xml:"requestID"`
	VenID          string          `xml:"venID,omitempty"`
	ReportRequests []ReportRequest `xml:"oadrReportRequest"`
}

func (CreateReport) Name() string { return "oadrCreateReport" }

// CreatedReport acknowledges report requests, listing them as pending.
type CreatedReport struct {
	Response       EiResponse      `xml:"eiResponse"`
	VenID          string          `xml:"venID,omitempty"`
	PendingReports []PendingReport `xml:"oadrPendingReports>oadrReportRequestID,omitempty"`
}

func (CreatedReport) Name() string { return "oadrCreatedReport" }

// UpdateReport delivers sampled report data to the VTN.
type UpdateReport struct {
	RequestID string   `xml:"requestID"`
	VenID     string   `xml:"venID,omitempty"`
	Reports   []Report `xml:"oadrReport"`
}

func (UpdateReport) Name() string { return "oadrUpdateReport" }

// UpdatedReport acknowledges an UpdateReport; it may piggyback a
// cancel-report directive.
type UpdatedReport struct {
	Response     EiResponse    `xml:"eiResponse"`
	VenID        string        `xml:"venID,omitempty"`
	CancelReport *CancelReport `xml:"oadrCancelReport,omitempty"`
}

func (UpdatedReport) Name() string { return "oadrUpdatedReport" }

// CancelReport is the VTN withdrawing one or more report subscriptions.
type CancelReport struct {
	RequestID        string   `xml:"requestID"`
	VenID            string   `xml:"venID,omitempty"`
	ReportRequestIDs []string `xml:"reportRequestID"`
	ReportToFollow   bool     `xml:"reportToFollow"`
}

func (CancelReport) Name() string { return "oadrCancelReport" }

// CanceledReport confirms a report cancellation; pending reports list
// requests that will still produce a final update.
type CanceledReport struct {
	Response       EiResponse      `xml:"eiResponse"`
	VenID          string          `xml:"venID,omitempty"`
	PendingReports []PendingReport `xml:"oadrPendingReports>oadrReportRequestID,omitempty"`
}

func (CanceledReport) Name() string { return "oadrCanceledReport" }

// CreateOpt sends an availability declaration to the VTN.
type CreateOpt struct {
	RequestID string `xml:"requestID"`
	VenID     string `xml:"venID,omitempty"`
	Opt
}

func (CreateOpt) Name() string { return "oadrCreateOpt" }

// CreatedOpt acknowledges a CreateOpt.
type CreatedOpt struct {
	Response EiResponse `xml:"eiResponse"`
	OptID    string     `xml:"optID,omitempty"`
}

func (CreatedOpt) Name() string { return "oadrCreatedOpt" }

// CancelOpt withdraws a previously acknowledged opt.
type CancelOpt struct {
	RequestID string `xml:"requestID"`
	VenID     string `xml:"venID,omitempty"`
	OptID     string `xml:"optID"`
}

func (CancelOpt) Name() string { return "oadrCancelOpt" }

// CanceledOpt acknowledges a CancelOpt.
type CanceledOpt struct {
	Response EiResponse `xml:"eiResponse"`
	OptID    string     `xml:"optID,omitempty"`
}

func (CanceledOpt) Name() string { return "oadrCanceledOpt" }

// ResponseOf extracts the application-level EiResponse from a reply, or
// nil when the message type carries none.
func ResponseOf(m Message) *EiResponse {
	switch t := m.(type) {
	case *CreatedPartyRegistration:
		return &t.Response
	case *CanceledPartyRegistration:
		return &t.Response
	case *Response:
		return &t.Response
	case *CreatedEvent:
		return &t.Response
	case *RegisteredReport:
		return &t.Response
	case *CreatedReport:
		return &t.Response
	case *UpdatedReport:
		return &t.Response
	case *CanceledReport:
		return &t.Response
	case *CreatedOpt:
		return &t.Response
	case *CanceledOpt:
		return &t.Response
	case *DistributeEvent:
		return t.Response
	}
	return nil
}
