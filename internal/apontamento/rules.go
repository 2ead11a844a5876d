package apontamento

import (
	"strings"

	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// Rules decide which 200 responses are business rejections.
// Matching is case-insensitive against the trimmed log.
type Rules struct {
	ErrorPrefixes []string
	ErrorContains []string
	// OKPrefixes win over the error rules.
	OKPrefixes []string
}

// DefaultRules returns the classification CmControl installations use.
func DefaultRules() Rules {
	return Rules{
		ErrorPrefixes: []string{"ERRO"},
		ErrorContains: []string{"FALHA", "NOK"},
		OKPrefixes:    []string{"ERRO4"},
	}
}

// IsBusinessError reports whether a log from a successful status describes a rejection.
func (r Rules) IsBusinessError(log string) bool {
	up := strings.ToUpper(strings.TrimSpace(log))
	if up == "" {
		return false
	}
	for _, p := range r.OKPrefixes {
		if p != "" && strings.HasPrefix(up, strings.ToUpper(p)) {
			return false
		}
	}
	for _, p := range r.ErrorPrefixes {
		if p != "" && strings.HasPrefix(up, strings.ToUpper(p)) {
			return true
		}
	}
	for _, c := range r.ErrorContains {
		if c != "" && strings.Contains(up, strings.ToUpper(c)) {
			return true
		}
	}
	return false
}

// Check classifies resp for endpoint. It returns nil when resp is a success.
func (r Rules) Check(endpoint string, resp protocol.Response) error {
	if !resp.StatusOK() {
		return protocol.NewResponseError(protocol.ErrApontamento, endpoint, resp)
	}
	if ok, present := resp.Bool("ok"); present && !ok {
		return protocol.NewResponseError(protocol.ErrApontamento, endpoint, resp)
	}
	if r.IsBusinessError(resp.Log()) {
		return protocol.NewResponseError(protocol.ErrApontamento, endpoint, resp)
	}
	return nil
}
