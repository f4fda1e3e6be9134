// Package dispatcher routes action requests to registered handlers and wraps
// every outcome in the uniform {success, data|error, meta} envelope.
package dispatcher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Wire messages. Clients match on these strings, so they are part of the contract.
const (
	MsgMethodNotAllowed = "Method not allowed"
	MsgInvalidAction    = "Invalid action: "
	MsgServerError      = "Server error"
)

// Envelope is the JSON envelope returned for every dispatch. On the wire a
// success always carries data, null when the handler returned nil, and a
// failure carries error instead.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type successWire struct {
	Success bool           `json:"success"`
	Data    any            `json:"data"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type failureWire struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Success {
		return json.Marshal(successWire{Success: true, Data: e.Data, Meta: e.Meta})
	}
	return json.Marshal(failureWire{Success: false, Error: e.Error, Meta: e.Meta})
}

// Result is what a handler returns: a raw value (see Value) or a pre-built *Envelope.
type Result interface {
	toEnvelope() *Envelope
}

type rawValue struct {
	v any
}

func (r rawValue) toEnvelope() *Envelope {
	return &Envelope{Success: true, Data: r.v}
}

// Value wraps a plain handler value. It is sent as {success: true, data: v},
// with data null when v is nil. Any v is wrapped, including a map that has
// its own "success" key; return an *Envelope (OK, Fail) to control the
// envelope directly.
func Value(v any) Result {
	return rawValue{v: v}
}

func (e *Envelope) toEnvelope() *Envelope {
	if e == nil {
		return &Envelope{Success: true}
	}
	out := *e
	if !out.Success {
		// Failure envelopes never carry data and always carry an error.
		out.Data = nil
		if out.Error == "" {
			out.Error = MsgServerError
		}
	}
	return &out
}

// OK builds a success envelope carrying data.
func OK(data any) *Envelope {
	return &Envelope{Success: true, Data: data}
}

// Fail builds a failure envelope with a user-visible message.
func Fail(message string) *Envelope {
	return &Envelope{Success: false, Error: message}
}

// WithMeta returns a copy of e with key set in its meta map.
func (e *Envelope) WithMeta(key string, value any) *Envelope {
	out := *e
	meta := make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	meta[key] = value
	out.Meta = meta
	return &out
}

// Build converts a handler result into the envelope sent on the wire.
// A nil result is treated as an empty success.
func Build(res Result) *Envelope {
	if res == nil {
		return &Envelope{Success: true}
	}
	return res.toEnvelope()
}

// WriteEnvelope serializes env as JSON with the given status. If env cannot be
// encoded (a handler returned something json cannot represent) a Server error
// envelope is written instead.
func WriteEnvelope(w http.ResponseWriter, status int, env *Envelope) {
	enc, err := encodeEnvelope(env)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode envelope: %v", logPrefix, err))
		enc, _ = encodeEnvelope(Fail(MsgServerError))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(enc)
}

func encodeEnvelope(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
