package push

import "fmt"

// Outcome describes how a dispatch call terminated.
type Outcome string

const (
	OutcomeDispatched       Outcome = "dispatched"
	OutcomeNotConfigured    Outcome = "not_configured"
	OutcomeNoTokens         Outcome = "no_tokens"
	OutcomeInvalidRecipient Outcome = "invalid_recipient"
	OutcomeStoreUnavailable Outcome = "store_unavailable"
)

const (
	redactPrefixLen = 20
	redactMarker    = "..."
)

// RedactToken keeps a short prefix of a token for logging.
// The prefix is capped at half the token so short tokens are never logged whole.
func RedactToken(token string) string {
	n := redactPrefixLen
	if half := len(token) / 2; half < n {
		n = half
	}
	return token[:n] + redactMarker
}

// DispatchResult is the outcome of one delivery attempt to one token.
type DispatchResult struct {
	Token          string `json:"token"`
	Success        int    `json:"success"`
	Failure        int    `json:"failure"`
	ErrorCode      string `json:"error_code,omitempty"`
	TransportError string `json:"transport_error,omitempty"`
	Deactivated    bool   `json:"deactivated,omitempty"`
}

// Delivered reports whether the gateway accepted the message for this token.
func (r DispatchResult) Delivered() bool {
	return r.TransportError == "" && r.Failure == 0
}

// Summary collects the per-token results of a single dispatch call.
type Summary struct {
	Recipient string           `json:"recipient"`
	Platform  string           `json:"platform"`
	Outcome   Outcome          `json:"outcome"`
	Results   []DispatchResult `json:"results,omitempty"`
}

// Counts returns delivered, deactivated and failed totals.
func (s *Summary) Counts() (delivered, deactivated, failed int) {
	for _, r := range s.Results {
		switch {
		case r.Delivered():
			delivered++
		case r.Deactivated:
			deactivated++
			failed++
		default:
			failed++
		}
	}
	return delivered, deactivated, failed
}

// Receipt renders the counts for log lines.
func (s *Summary) Receipt() string {
	if s.Outcome != OutcomeDispatched {
		return "skipped: " + string(s.Outcome)
	}
	delivered, deactivated, failed := s.Counts()
	return fmt.Sprintf("success:%d invalid:%d total_fail:%d", delivered, deactivated, failed)
}
