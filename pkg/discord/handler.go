// Package discord forwards log records to a Discord webhook and serves the
// interactions endpoint behind the /kill and /resume slash commands.
package discord

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const logPrefix = "discord:handler"

// Discord embed limits.
const (
	maxContent     = 1800
	maxDescription = 2048
	maxFields      = 10
	maxFieldValue  = 1000
)

// Level colours.
const (
	ColorError   = 0xE74C3C
	ColorWarn    = 0xF1C40F
	ColorInfo    = 0x3498DB
	ColorDebug   = 0x95A5A6
	ColorDefault = 0xE67E22
)

// HandlerOptions configures NewHandler. Zero values use defaults.
type HandlerOptions struct {
	WebhookURL string
	AppName    string
	// Level is the minimum level forwarded (warn when nil).
	Level    slog.Leveler
	Throttle time.Duration
	// QueueSize bounds pending deliveries; records beyond it are dropped.
	QueueSize int
	Timeout   time.Duration
	Client    *http.Client
	// Fallback receives delivery failures. It must not route back into this handler.
	Fallback io.Writer
}

// WebhookPayload is the JSON body posted to the webhook.
type WebhookPayload struct {
	Username string  `json:"username"`
	Content  string  `json:"content"`
	Embeds   []Embed `json:"embeds"`
}

// Embed is a Discord rich embed.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields"`
	Footer      EmbedFooter  `json:"footer"`
}

// EmbedField is one name/value row of an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter is the embed footer.
type EmbedFooter struct {
	Text string `json:"text"`
}

// sink is shared by a Handler and every handler derived from it.
type sink struct {
	url      string
	appName  string
	throttle time.Duration
	client   *http.Client
	timeout  time.Duration
	fallback *slog.Logger
	now      func() time.Time

	queue chan WebhookPayload
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	seen   map[string]time.Time
	// dropped counts records lost to a full queue.
	dropped int
}

// Handler is an slog.Handler that posts records to a Discord webhook from a
// background worker. Handle never blocks on the network and never fails.
type Handler struct {
	sink   *sink
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewHandler starts the delivery worker. Call Close to flush and stop it.
func NewHandler(opts HandlerOptions) *Handler {
	if opts.AppName == "" {
		opts.AppName = "CyFrying"
	}
	if opts.Level == nil {
		opts.Level = slog.LevelWarn
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 1500 * time.Millisecond
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Fallback == nil {
		opts.Fallback = os.Stderr
	}
	s := &sink{
		url:      opts.WebhookURL,
		appName:  opts.AppName,
		throttle: opts.Throttle,
		client:   opts.Client,
		timeout:  opts.Timeout,
		fallback: slog.New(slog.NewTextHandler(opts.Fallback, nil)),
		now:      time.Now,
		queue:    make(chan WebhookPayload, opts.QueueSize),
		done:     make(chan struct{}),
		seen:     make(map[string]time.Time),
	}
	go s.run()
	return &Handler{sink: s, level: opts.Level}
}

// Close stops accepting records and waits for queued ones to be sent.
func (h *Handler) Close() error {
	h.sink.mu.Lock()
	if !h.sink.closed {
		h.sink.closed = true
		close(h.sink.queue)
	}
	h.sink.mu.Unlock()
	<-h.sink.done
	return nil
}

// Dropped returns how many records were discarded because the queue was full.
func (h *Handler) Dropped() int {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return h.sink.dropped
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.sink.url != "" && level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	if h.sink.url == "" {
		return nil
	}
	var fields []EmbedField
	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		fields = appendFields(fields, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		fields = appendFields(fields, prefix, a)
		return true
	})

	if !h.sink.admit(throttleKey(r.Level, r.Message, fields)) {
		return nil
	}
	h.sink.enqueue(h.sink.build(r, fields))
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	prefix := strings.Join(h.groups, ".")
	out.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		out.attrs = append(out.attrs, a)
	}
	return &out
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.groups = append(append([]string{}, h.groups...), name)
	return &out
}

func appendFields(fields []EmbedField, prefix string, a slog.Attr) []EmbedField {
	a.Value = a.Value.Resolve()
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, g := range a.Value.Group() {
			fields = appendFields(fields, key, g)
		}
		return fields
	}
	val := a.Value.String()
	if a.Value.Kind() == slog.KindAny {
		if b, err := json.Marshal(a.Value.Any()); err == nil {
			val = string(b)
		}
	}
	if val == "" {
		return fields
	}
	return append(fields, EmbedField{Name: key, Value: val})
}

func throttleKey(level slog.Level, msg string, fields []EmbedField) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s", level, msg)
	for _, f := range fields {
		fmt.Fprintf(h, "\x00%s=%s", f.Name, f.Value)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// admit reports whether a record with key may be sent now.
func (s *sink) admit(key string) bool {
	if s.throttle <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if last, ok := s.seen[key]; ok && now.Sub(last) < s.throttle {
		return false
	}
	s.seen[key] = now
	if len(s.seen) > 1024 {
		for k, t := range s.seen {
			if now.Sub(t) >= s.throttle {
				delete(s.seen, k)
			}
		}
	}
	return true
}

func (s *sink) enqueue(p WebhookPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- p:
	default:
		s.dropped++
	}
}

func (s *sink) build(r slog.Record, fields []EmbedField) WebhookPayload {
	level := strings.ToUpper(r.Level.String())
	content := level + ": " + r.Message
	if len(content) > maxContent {
		content = ""
	}
	if len(fields) > maxFields {
		fields = fields[:maxFields]
	}
	for i := range fields {
		fields[i].Value = "```" + truncate(fields[i].Value, maxFieldValue) + "```"
	}
	if fields == nil {
		fields = []EmbedField{}
	}
	ts := r.Time
	if ts.IsZero() {
		ts = s.now()
	}
	return WebhookPayload{
		Username: s.appName + " Logs",
		Content:  content,
		Embeds: []Embed{{
			Title:       level,
			Description: truncate(r.Message, maxDescription),
			Color:       levelColor(r.Level),
			Fields:      fields,
			Footer:      EmbedFooter{Text: s.appName + " • " + ts.Format(time.RFC3339)},
		}},
	}
}

func levelColor(l slog.Level) int {
	switch {
	case l >= slog.LevelError:
		return ColorError
	case l >= slog.LevelWarn:
		return ColorWarn
	case l >= slog.LevelInfo:
		return ColorInfo
	case l >= slog.LevelDebug:
		return ColorDebug
	}
	return ColorDefault
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func (s *sink) run() {
	defer close(s.done)
	for p := range s.queue {
		s.send(p)
	}
}

func (s *sink) send(p WebhookPayload) {
	body, err := json.Marshal(p)
	if err != nil {
		s.fallback.Error(fmt.Sprintf("%s - encode payload: %v", logPrefix, err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.fallback.Error(fmt.Sprintf("%s - build request: %v", logPrefix, err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.appName+"/1.0")
	resp, err := s.client.Do(req)
	if err != nil {
		s.fallback.Error(fmt.Sprintf("%s - webhook post failed: %v", logPrefix, err))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	// 429 and other failures are best effort
	if resp.StatusCode >= 300 {
		s.fallback.Warn(fmt.Sprintf("%s - webhook returned %d", logPrefix, resp.StatusCode))
	}
}
