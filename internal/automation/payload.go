package automation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Per-type payload shapes checked at submission time. Executors re-decode
// these; validation here keeps malformed runs out of the store entirely.

// FindConnectionsPayload parameterizes a connection search.
type FindConnectionsPayload struct {
	SearchURL  string `json:"search_url"`
	MaxResults int    `json:"max_results"`
}

// FindCompanyPeoplePayload parameterizes a company people search.
type FindCompanyPeoplePayload struct {
	CompanyURL string `json:"company_url"`
	MaxResults int    `json:"max_results"`
}

// SendConnectionRequestPayload parameterizes a connection invite.
type SendConnectionRequestPayload struct {
	ProfileURL string `json:"profile_url"`
	Note       string `json:"note,omitempty"`
}

// SendMessagePayload parameterizes a direct message.
type SendMessagePayload struct {
	ProfileURL string `json:"profile_url"`
	Message    string `json:"message"`
}

// ValidatePayload checks that payload deserializes against the shape expected
// for the run type. DOWNLOAD_CONNECTIONS takes no parameters.
func ValidatePayload(t RunType, payload json.RawMessage) error {
	switch t {
	case RunTypeFindConnections:
		var p FindConnectionsPayload
		if err := strictDecode(payload, &p); err != nil {
			return err
		}
		if p.SearchURL == "" {
			return fmt.Errorf("%w: search_url required", ErrInvalidPayload)
		}
	case RunTypeFindCompanyPeople:
		var p FindCompanyPeoplePayload
		if err := strictDecode(payload, &p); err != nil {
			return err
		}
		if p.CompanyURL == "" {
			return fmt.Errorf("%w: company_url required", ErrInvalidPayload)
		}
	case RunTypeSendConnectionRequest:
		var p SendConnectionRequestPayload
		if err := strictDecode(payload, &p); err != nil {
			return err
		}
		if p.ProfileURL == "" {
			return fmt.Errorf("%w: profile_url required", ErrInvalidPayload)
		}
	case RunTypeSendMessage:
		var p SendMessagePayload
		if err := strictDecode(payload, &p); err != nil {
			return err
		}
		if p.ProfileURL == "" || p.Message == "" {
			return fmt.Errorf("%w: profile_url and message required", ErrInvalidPayload)
		}
	case RunTypeDownloadConnections:
		// No parameters; tolerate an absent or empty object payload.
		if len(payload) > 0 {
			var p struct{}
			if err := strictDecode(payload, &p); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidType, t)
	}
	return nil
}

func strictDecode(payload json.RawMessage, dst any) error {
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
