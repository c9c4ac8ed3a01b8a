package automation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePayload_AcceptsKnownShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		runType RunType
		payload string
	}{
		{RunTypeFindConnections, `{"search_url":"https://example.com/search","max_results":50}`},
		{RunTypeFindCompanyPeople, `{"company_url":"https://example.com/company/acme"}`},
		{RunTypeSendConnectionRequest, `{"profile_url":"https://example.com/in/jane","note":"hi"}`},
		{RunTypeSendMessage, `{"profile_url":"https://example.com/in/jane","message":"hello"}`},
		{RunTypeDownloadConnections, ``},
		{RunTypeDownloadConnections, `{}`},
	}
	for _, tc := range cases {
		err := ValidatePayload(tc.runType, json.RawMessage(tc.payload))
		require.NoError(t, err, "%s %s", tc.runType, tc.payload)
	}
}

func TestValidatePayload_RejectsMissingFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		runType RunType
		payload string
	}{
		{RunTypeFindConnections, `{"max_results":50}`},
		{RunTypeFindCompanyPeople, `{}`},
		{RunTypeSendConnectionRequest, `{"note":"hi"}`},
		{RunTypeSendMessage, `{"profile_url":"https://example.com/in/jane"}`},
	}
	for _, tc := range cases {
		err := ValidatePayload(tc.runType, json.RawMessage(tc.payload))
		require.ErrorIs(t, err, ErrInvalidPayload, "%s %s", tc.runType, tc.payload)
	}
}

func TestValidatePayload_RejectsUnknownFieldsAndTypes(t *testing.T) {
	t.Parallel()

	err := ValidatePayload(RunTypeSendMessage, json.RawMessage(`{"profile_url":"u","message":"m","bogus":1}`))
	require.ErrorIs(t, err, ErrInvalidPayload)

	err = ValidatePayload(RunType("MAKE_COFFEE"), json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrInvalidType)

	require.False(t, KnownRunType(RunType("MAKE_COFFEE")))
	require.True(t, KnownRunType(RunTypeSendMessage))
}
