package dispatcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
)

// Errors signalled while normalizing and dispatching a request. Missing and
// unknown actions produce the same wire message; they differ only here.
var (
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrMissingAction    = errors.New("missing action")
	ErrUnknownAction    = errors.New("unknown action")
	ErrHandlerFailure   = errors.New("handler failure")
)

const defaultMaxBodyBytes = 1 << 20

// Request is the canonical form of an inbound call.
type Request struct {
	Action  string
	Payload Payload
}

// Normalizer turns an HTTP request into a Request.
type Normalizer struct {
	// AllowedMethod is the only method accepted for dispatch (POST when empty).
	AllowedMethod string
	// MaxBodyBytes caps how much of the body is read (1 MiB when zero).
	MaxBodyBytes int64
}

// Normalize validates the method, merges query, form and JSON body fields
// (JSON wins on collision, then form, then query) and extracts the action.
// A malformed or non-object JSON body is treated as empty. On
// ErrMissingAction the returned Request is still usable.
func (n Normalizer) Normalize(r *http.Request) (*Request, error) {
	allowed := n.AllowedMethod
	if allowed == "" {
		allowed = http.MethodPost
	}
	if r.Method != allowed {
		return nil, ErrMethodNotAllowed
	}

	limit := n.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	var raw []byte
	if r.Body != nil {
		var err error
		raw, err = io.ReadAll(io.LimitReader(r.Body, limit))
		if err != nil {
			raw = nil
		}
	}

	merged := make(Payload)
	mergeValues(merged, r.URL.Query())
	mergeValues(merged, formValues(r, raw))
	for k, v := range decodeJSONObject(raw) {
		merged[k] = v
	}

	action := stringify(merged["action"])
	delete(merged, "action")

	req := &Request{Action: action, Payload: merged}
	if action == "" {
		return req, ErrMissingAction
	}
	return req, nil
}

func decodeJSONObject(raw []byte) map[string]any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func formValues(r *http.Request, raw []byte) url.Values {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil
		}
		return vals
	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil
		}
		mr := multipart.NewReader(bytes.NewReader(raw), boundary)
		form, err := mr.ReadForm(int64(len(raw)) + 1)
		if err != nil {
			return nil
		}
		defer form.RemoveAll()
		return url.Values(form.Value)
	}
	return nil
}

func mergeValues(dst Payload, vals url.Values) {
	for k, vs := range vals {
		switch len(vs) {
		case 0:
		case 1:
			dst[k] = vs[0]
		default:
			list := make([]any, len(vs))
			for i, s := range vs {
				list[i] = s
			}
			dst[k] = list
		}
	}
}

// String implements fmt.Stringer for log lines.
func (r *Request) String() string {
	return fmt.Sprintf("action=%q fields=%d", r.Action, len(r.Payload))
}
