// Package gateway implements the exclusive-access protocol and the tool
// surface: every tool handler runs under the intra-process lock and the
// cross-process action lock, against a validated window in the shared
// browser.
package gateway

import (
	"encoding/json"
)

// Error codes surfaced in tool replies.
const (
	ErrConfig        = "config_error"
	ErrLockBusy      = "lock_busy"
	ErrLockLost      = "lock_lost"
	ErrContended     = "startup_contended"
	ErrStartupTO     = "startup_timeout"
	ErrDriverInit    = "driver_not_initialized"
	ErrWindowLost    = "window_lost"
	ErrNotFound      = "element_not_found"
	ErrNotInteract   = "element_not_interactable"
	ErrTimeout       = "timeout"
	ErrIO            = "io_error"
	ErrInternal      = "internal_error"
	ErrInvalidParams = "invalid_params"
)

// Reply is the common tool-reply envelope: {ok, ...} plus error, message
// and diagnostics on failure, with handler-specific fields merged in.
type Reply struct {
	OK          bool
	Error       string
	Message     string
	Diagnostics interface{}
	Data        map[string]interface{}
}

// Ok builds a success reply with handler-specific fields.
func Ok(data map[string]interface{}) Reply {
	return Reply{OK: true, Data: data}
}

// Fail builds an error reply.
func Fail(code, message string) Reply {
	return Reply{OK: false, Error: code, Message: message}
}

// With adds one field to the reply.
func (r Reply) With(key string, value interface{}) Reply {
	if r.Data == nil {
		r.Data = make(map[string]interface{})
	}
	r.Data[key] = value
	return r
}

// WithDiagnostics attaches a diagnostics object.
func (r Reply) WithDiagnostics(d interface{}) Reply {
	r.Diagnostics = d
	return r
}

// WithMessage sets the human-readable message.
func (r Reply) WithMessage(msg string) Reply {
	r.Message = msg
	return r
}

// MarshalJSON flattens the envelope and the handler fields into one object.
func (r Reply) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Data)+4)
	for k, v := range r.Data {
		out[k] = v
	}
	out["ok"] = r.OK
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	if r.Diagnostics != nil {
		out["diagnostics"] = r.Diagnostics
	}
	return json.Marshal(out)
}

// Params is the decoded tool input.
type Params map[string]interface{}

// String reads a string field, with ok=false when absent or mistyped.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// StringOr reads a string field with a default.
func (p Params) StringOr(key, def string) string {
	if v, ok := p.String(key); ok && v != "" {
		return v
	}
	return def
}

// IntOr reads a numeric field with a default. JSON numbers decode as
// float64; both are accepted.
func (p Params) IntOr(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// FloatOr reads a numeric field with a default.
func (p Params) FloatOr(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// BoolOr reads a boolean field with a default.
func (p Params) BoolOr(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}
