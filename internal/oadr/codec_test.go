package oadr

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalWrapsEnvelope(t *testing.T) {
	payload, err := Marshal(&Poll{VenID: "V1"})
	require.NoError(t, err)

	s := string(payload)
	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, "<oadrPayload>")
	assert.Contains(t, s, "<oadrSignedObject>")
	assert.Contains(t, s, "<oadrPoll>")
	assert.Contains(t, s, "<venID>V1</venID>")
}

func TestParseRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &DistributeEvent{
		RequestID: "REQ-1",
		VtnID:     "VTN-9",
		Events: []Event{{
			EventDescriptor: EventDescriptor{
				EventID:            "E1",
				ModificationNumber: 2,
				EventStatus:        EventStatusFar,
			},
			ActivePeriod: ActivePeriod{
				DtStart:  now,
				Duration: Duration(time.Hour),
			},
			EventSignals: []EventSignal{{
				SignalName: "SIMPLE",
				SignalType: "level",
				SignalID:   "S1",
				Intervals: []SignalInterval{{
					DtStart:  now,
					Duration: Duration(time.Hour),
					Value:    1,
				}},
			}},
			ResponseRequired: ResponseRequiredAlways,
		}},
	}

	payload, err := Marshal(in)
	require.NoError(t, err)

	msg, err := Parse(payload)
	require.NoError(t, err)
	out, ok := msg.(*DistributeEvent)
	require.True(t, ok, "got %T", msg)

	assert.Equal(t, "REQ-1", out.RequestID)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "E1", out.Events[0].ID())
	assert.Equal(t, 2, out.Events[0].EventDescriptor.ModificationNumber)
	assert.Equal(t, time.Hour, out.Events[0].ActivePeriod.Duration.D())
	require.Len(t, out.Events[0].EventSignals, 1)
	assert.Equal(t, "SIMPLE", out.Events[0].EventSignals[0].SignalName)
	assert.Equal(t, ResponseRequiredAlways, out.Events[0].ResponseRequired)
}

func TestParseReportSpecifierGranularity(t *testing.T) {
	gran := Duration(10 * time.Second)
	in := &CreateReport{
		RequestID: "REQ-2",
		ReportRequests: []ReportRequest{{
			ReportRequestID: "RR-1",
			ReportSpecifier: ReportSpecifier{
				ReportSpecifierID:  "RS-1",
				Granularity:        &gran,
				ReportBackDuration: Duration(30 * time.Second),
				SpecifierPayloads:  []SpecifierPayload{{RID: "rid-1"}},
			},
		}},
	}
	payload, err := Marshal(in)
	require.NoError(t, err)

	msg, err := Parse(payload)
	require.NoError(t, err)
	out := msg.(*CreateReport)
	require.Len(t, out.ReportRequests, 1)
	spec := out.ReportRequests[0].ReportSpecifier
	require.NotNil(t, spec.Granularity)
	assert.Equal(t, 10*time.Second, spec.Granularity.D())
	assert.Equal(t, 30*time.Second, time.Duration(spec.ReportBackDuration))
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse([]byte("<oadrPayload><unclosed"))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestParseRejectsUnknownPayload(t *testing.T) {
	_, err := Parse([]byte(`<oadrPayload><oadrSignedObject><oadrBogus/></oadrSignedObject></oadrPayload>`))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, schemaErr.Error(), "no recognized message")
}

func TestUpdatedReportCarriesCancel(t *testing.T) {
	in := &UpdatedReport{
		Response: ResponseOK("REQ-3"),
		CancelReport: &CancelReport{
			RequestID:        "REQ-4",
			ReportRequestIDs: []string{"RR-1", "RR-2"},
			ReportToFollow:   true,
		},
	}
	payload, err := Marshal(in)
	require.NoError(t, err)

	msg, err := Parse(payload)
	require.NoError(t, err)
	out := msg.(*UpdatedReport)
	require.NotNil(t, out.CancelReport)
	assert.Equal(t, []string{"RR-1", "RR-2"}, out.CancelReport.ReportRequestIDs)
	assert.True(t, out.CancelReport.ReportToFollow)
}

func TestResponseOf(t *testing.T) {
	assert.Nil(t, ResponseOf(&Poll{}))
	r := ResponseOf(&CreatedPartyRegistration{Response: ResponseError(StatusInvalidID, "X")})
	require.NotNil(t, r)
	assert.Equal(t, StatusInvalidID, r.Code)
	assert.False(t, r.OK())
}
