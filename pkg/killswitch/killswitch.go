// Package killswitch implements maintenance mode: a flag that, when engaged,
// makes every non-exempt route answer 503 with a "Service Paused" page.
//
// State lives in two places. The flag file <storage>/kill.flag wins when it
// exists and its contents are the reason; otherwise the app_settings rows
// kill_switch and kill_reason are read. Reads are cached for a short TTL.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cyfrying/foodtruck/pkg/events"
)

const logPrefix = "killswitch:killswitch"

// Settings keys.
const (
	KeyKillSwitch = "kill_switch"
	KeyKillReason = "kill_reason"
)

// FlagFile is the flag file name inside the storage directory.
const FlagFile = "kill.flag"

// DefaultCacheTTL is used when Options.CacheTTL is zero.
const DefaultCacheTTL = 5 * time.Second

// State is the current maintenance state.
type State struct {
	On     bool   `json:"on"`
	Reason string `json:"reason"`
}

// SettingsStore reads and writes app_settings.
type SettingsStore interface {
	GetSettings(ctx context.Context, keys ...string) (map[string]string, error)
	SetSettings(ctx context.Context, values map[string]string) error
}

// Options configures a Switch.
type Options struct {
	StoragePath string
	CacheTTL    time.Duration
	Publisher   events.EventPublisher
	Logger      *slog.Logger
}

// Switch reads and changes the maintenance state.
type Switch struct {
	store     SettingsStore
	flagPath  string
	ttl       time.Duration
	publisher events.EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	cached   State
	cachedAt time.Time
	valid    bool
}

// New creates a Switch. store may be nil, in which case only the flag file is used.
func New(store SettingsStore, opts Options) *Switch {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	pub := opts.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dir := opts.StoragePath
	if dir == "" {
		dir = "storage"
	}
	return &Switch{
		store:     store,
		flagPath:  filepath.Join(dir, FlagFile),
		ttl:       ttl,
		publisher: pub,
		logger:    logger,
		now:       time.Now,
	}
}

// FlagPath returns the path of the flag file.
func (s *Switch) FlagPath() string {
	return s.flagPath
}

// State returns the cached state, reloading it when the cache has expired.
func (s *Switch) State(ctx context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.now().Sub(s.cachedAt) < s.ttl {
		return s.cached
	}
	s.cached = s.load(ctx)
	s.cachedAt = s.now()
	s.valid = true
	return s.cached
}

// Engaged reports whether maintenance mode is on.
func (s *Switch) Engaged(ctx context.Context) bool {
	return s.State(ctx).On
}

// Invalidate drops the cached state so the next read reloads it.
func (s *Switch) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

func (s *Switch) load(ctx context.Context) State {
	data, err := os.ReadFile(s.flagPath)
	if err == nil {
		return State{On: true, Reason: strings.TrimSpace(string(data))}
	}
	if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Error(fmt.Sprintf("%s - read flag file: %v", logPrefix, err))
	}
	if s.store == nil {
		return State{}
	}
	vals, err := s.store.GetSettings(ctx, KeyKillSwitch, KeyKillReason)
	if err != nil {
		// A broken database must not lock everyone out.
		s.logger.Error(fmt.Sprintf("%s - KillSwitch DB read failed: %v", logPrefix, err))
		return State{}
	}
	return State{On: vals[KeyKillSwitch] == "1", Reason: vals[KeyKillReason]}
}

// Engage turns maintenance mode on. actor names who did it, for the log and event.
// Both backends are written even if one fails.
func (s *Switch) Engage(ctx context.Context, reason, actor string) error {
	reason = strings.TrimSpace(reason)
	var errs []error
	if err := s.writeSettings(ctx, "1", reason); err != nil {
		errs = append(errs, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.flagPath), 0o775); err != nil {
		errs = append(errs, fmt.Errorf("%s - create storage dir: %w", logPrefix, err))
	} else if err := os.WriteFile(s.flagPath, []byte(reason), 0o644); err != nil {
		errs = append(errs, fmt.Errorf("%s - write flag file: %w", logPrefix, err))
	}
	s.Invalidate()

	s.logger.Warn(fmt.Sprintf("%s - Kill Switch Engaged: application entering protective shutdown", logPrefix),
		"reason", reason, "actor", actor)
	s.announce(ctx, State{On: true, Reason: reason}, actor)
	return errors.Join(errs...)
}

// Release turns maintenance mode off.
func (s *Switch) Release(ctx context.Context, actor string) error {
	var errs []error
	if err := s.writeSettings(ctx, "0", ""); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(s.flagPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("%s - remove flag file: %w", logPrefix, err))
	}
	s.Invalidate()

	s.logger.Warn(fmt.Sprintf("%s - Kill Switch Released: application resumed", logPrefix), "actor", actor)
	s.announce(ctx, State{}, actor)
	return errors.Join(errs...)
}

func (s *Switch) writeSettings(ctx context.Context, on, reason string) error {
	if s.store == nil {
		return nil
	}
	err := s.store.SetSettings(ctx, map[string]string{KeyKillSwitch: on, KeyKillReason: reason})
	if err != nil {
		s.logger.Error(fmt.Sprintf("%s - KillSwitch DB write failed: %v", logPrefix, err))
		return fmt.Errorf("%s - write settings: %w", logPrefix, err)
	}
	return nil
}

func (s *Switch) announce(ctx context.Context, st State, actor string) {
	err := s.publisher.PublishKillSwitchChanged(ctx, &events.KillSwitchChangedEvent{
		On:        st.On,
		Reason:    st.Reason,
		Actor:     actor,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn(fmt.Sprintf("%s - publish killswitch.changed failed: %v", logPrefix, err))
	}
}
