package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

const logPrefix = "dispatcher:dispatch"

// Outcome labels reported to an Observer.
const (
	OutcomeOK               = "ok"
	OutcomeFailed           = "failed"
	OutcomeError            = "error"
	OutcomeMethodNotAllowed = "method_not_allowed"
	OutcomeMissingAction    = "missing_action"
	OutcomeUnknownAction    = "unknown_action"
)

// Observer receives one call per dispatch, e.g. to feed metrics.
type Observer interface {
	ObserveDispatch(action, outcome string, d time.Duration)
}

// Decorator may amend the envelope just before it is written.
type Decorator func(r *http.Request, out *Outcome) *Envelope

// Options configures a Dispatcher. Zero values use defaults.
type Options struct {
	Logger     *slog.Logger
	Observer   Observer
	Normalizer Normalizer
	Decorate   Decorator
}

// Outcome is the result of one dispatch. Envelope is never nil.
type Outcome struct {
	Action   string
	Envelope *Envelope
	Status   int
	// Err tells validation short-circuits and contained failures apart;
	// it is never sent to the client.
	Err      error
	Label    string
	Duration time.Duration
}

// Dispatcher resolves actions from a Registry, runs the handler inside a
// containment boundary and converts the result to an Envelope.
type Dispatcher struct {
	registry   *Registry
	logger     *slog.Logger
	observer   Observer
	normalizer Normalizer
	decorate   Decorator
}

// NewDispatcher creates a Dispatcher over reg.
func NewDispatcher(reg *Registry, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:   reg,
		logger:     logger,
		observer:   opts.Observer,
		normalizer: opts.Normalizer,
		decorate:   opts.Decorate,
	}
}

// Registry returns the registry the dispatcher resolves against.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs action with payload. Every path yields exactly one envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, payload Payload) *Outcome {
	start := time.Now()
	out := d.dispatch(ctx, action, payload)
	out.Duration = time.Since(start)
	d.observe(out)
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, action string, payload Payload) *Outcome {
	d.logger.Debug(fmt.Sprintf("%s - action=%s", logPrefix, action), "payload", map[string]any(payload))

	if action == "" {
		return invalidAction(action, ErrMissingAction, OutcomeMissingAction)
	}

	h, ok := d.registry.Resolve(action)
	if !ok {
		d.logger.Warn(fmt.Sprintf("%s - unknown action %q", logPrefix, action), "action", action)
		return invalidAction(action, ErrUnknownAction, OutcomeUnknownAction)
	}

	// Handlers get their own copy without the routing key.
	payload = payload.Clone()
	delete(payload, "action")

	res, err := invoke(ctx, h, payload)
	if err != nil {
		attrs := []any{"action", action, "error", err.Error()}
		var pe *panicError
		if errors.As(err, &pe) {
			attrs = append(attrs, "stack", string(pe.stack))
		}
		d.logger.Error(fmt.Sprintf("%s - API error for action %s: %v", logPrefix, action, err), attrs...)
		return &Outcome{
			Action:   action,
			Envelope: Fail(MsgServerError),
			Status:   http.StatusOK,
			Err:      fmt.Errorf("%w: %w", ErrHandlerFailure, err),
			Label:    OutcomeError,
		}
	}

	env := Build(res)
	label := OutcomeOK
	if !env.Success {
		label = OutcomeFailed
	}
	return &Outcome{Action: action, Envelope: env, Status: http.StatusOK, Label: label}
}

// invoke runs h and converts a panic into an error.
func invoke(ctx context.Context, h Handler, p Payload) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = &panicError{value: rec, stack: debug.Stack()}
		}
	}()
	return h(ctx, p)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func invalidAction(action string, err error, label string) *Outcome {
	return &Outcome{
		Action:   action,
		Envelope: Fail(MsgInvalidAction + action),
		Status:   http.StatusOK,
		Err:      err,
		Label:    label,
	}
}

// ServeHTTP normalizes r, dispatches it and writes the envelope.
// A disallowed method gets 405; every other outcome is sent with 200.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := d.normalizer.Normalize(r)

	var out *Outcome
	if errors.Is(err, ErrMethodNotAllowed) {
		out = &Outcome{
			Envelope: Fail(MsgMethodNotAllowed),
			Status:   http.StatusMethodNotAllowed,
			Err:      err,
			Label:    OutcomeMethodNotAllowed,
		}
		d.observe(out)
		allowed := d.normalizer.AllowedMethod
		if allowed == "" {
			allowed = http.MethodPost
		}
		w.Header().Set("Allow", allowed)
	} else {
		out = d.Dispatch(r.Context(), req.Action, req.Payload)
	}

	env := out.Envelope
	if d.decorate != nil {
		if decorated := d.decorate(r, out); decorated != nil {
			env = decorated
		}
	}
	WriteEnvelope(w, out.Status, env)
}

func (d *Dispatcher) observe(out *Outcome) {
	if d.observer == nil {
		return
	}
	action := out.Action
	if out.Label == OutcomeUnknownAction || out.Label == OutcomeMissingAction || out.Label == OutcomeMethodNotAllowed {
		// Unbounded client-chosen names must not become metric labels.
		action = ""
	}
	d.observer.ObserveDispatch(action, out.Label, out.Duration)
}
