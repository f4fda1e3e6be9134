package killswitch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyfrying/foodtruck/pkg/events"
)

type fakeSettings struct {
	mu     sync.Mutex
	values map[string]string
	reads  int
	err    error
}

func (f *fakeSettings) GetSettings(_ context.Context, keys ...string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := f.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeSettings) SetSettings(_ context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for k, v := range values {
		f.values[k] = v
	}
	return nil
}

func newTestSwitch(t *testing.T, store *fakeSettings, pub events.EventPublisher) *Switch {
	t.Helper()
	return New(store, Options{StoragePath: filepath.Join(t.TempDir(), "storage"), CacheTTL: time.Minute, Publisher: pub})
}

func TestState_DefaultsOff(t *testing.T) {
	s := newTestSwitch(t, &fakeSettings{values: map[string]string{}}, nil)
	assert.Equal(t, State{}, s.State(context.Background()))
}

func TestState_ReadsSettingsAndCaches(t *testing.T) {
	store := &fakeSettings{values: map[string]string{KeyKillSwitch: "1", KeyKillReason: "Restock"}}
	s := newTestSwitch(t, store, nil)
	ctx := context.Background()

	assert.Equal(t, State{On: true, Reason: "Restock"}, s.State(ctx))
	store.values[KeyKillSwitch] = "0"
	assert.True(t, s.Engaged(ctx), "cached value should be served within the TTL")
	assert.Equal(t, 1, store.reads)

	s.Invalidate()
	assert.False(t, s.Engaged(ctx))
	assert.Equal(t, 2, store.reads)
}

func TestState_CacheExpires(t *testing.T) {
	store := &fakeSettings{values: map[string]string{}}
	s := newTestSwitch(t, store, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.State(context.Background())
	now = now.Add(30 * time.Second)
	s.State(context.Background())
	assert.Equal(t, 1, store.reads)
	now = now.Add(31 * time.Second)
	s.State(context.Background())
	assert.Equal(t, 2, store.reads)
}

func TestState_FlagFileWins(t *testing.T) {
	store := &fakeSettings{values: map[string]string{KeyKillSwitch: "0"}}
	s := newTestSwitch(t, store, nil)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.FlagPath()), 0o755))
	require.NoError(t, os.WriteFile(s.FlagPath(), []byte("  Out of oil \n"), 0o644))

	assert.Equal(t, State{On: true, Reason: "Out of oil"}, s.State(context.Background()))
	assert.Equal(t, 0, store.reads)
}

func TestState_DBErrorTreatedAsOff(t *testing.T) {
	store := &fakeSettings{values: map[string]string{}, err: errors.New("db down")}
	s := newTestSwitch(t, store, nil)
	assert.False(t, s.Engaged(context.Background()))
}

func TestEngageRelease(t *testing.T) {
	store := &fakeSettings{values: map[string]string{}}
	var got []*events.KillSwitchChangedEvent
	pub := events.NewCallbackPublisher(func(_ context.Context, _ string, ev interface{}) error {
		got = append(got, ev.(*events.KillSwitchChangedEvent))
		return nil
	})
	s := newTestSwitch(t, store, pub)
	ctx := context.Background()

	assert.False(t, s.Engaged(ctx))
	require.NoError(t, s.Engage(ctx, " Restock ", "cli"))
	assert.Equal(t, State{On: true, Reason: "Restock"}, s.State(ctx))
	assert.Equal(t, "1", store.values[KeyKillSwitch])
	data, err := os.ReadFile(s.FlagPath())
	require.NoError(t, err)
	assert.Equal(t, "Restock", string(data))

	require.NoError(t, s.Release(ctx, "cli"))
	assert.False(t, s.Engaged(ctx))
	assert.Equal(t, "0", store.values[KeyKillSwitch])
	_, err = os.Stat(s.FlagPath())
	assert.True(t, os.IsNotExist(err))

	require.Len(t, got, 2)
	assert.True(t, got[0].On)
	assert.Equal(t, "Restock", got[0].Reason)
	assert.Equal(t, "cli", got[0].Actor)
	assert.False(t, got[1].On)

	require.NoError(t, s.Release(ctx, "cli"), "releasing twice is fine")
}

func TestEngage_DBFailureStillWritesFlag(t *testing.T) {
	store := &fakeSettings{values: map[string]string{}, err: errors.New("db down")}
	s := newTestSwitch(t, store, nil)

	err := s.Engage(context.Background(), "x", "test")
	assert.Error(t, err)
	assert.True(t, s.Engaged(context.Background()))
}

func TestGuard(t *testing.T) {
	store := &fakeSettings{values: map[string]string{KeyKillSwitch: "1", KeyKillReason: "<b>Restock</b>"}}
	s := newTestSwitch(t, store, nil)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := s.Guard(nil)(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Service Paused")
	assert.Contains(t, rec.Body.String(), "&lt;b&gt;Restock&lt;/b&gt;")
	assert.NotContains(t, rec.Body.String(), "<b>Restock")

	for _, path := range []string{"/api/discord", "/health", "/ready", "/metrics"} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code, path)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	store.values[KeyKillReason] = ""
	s.Invalidate()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "Maintenance")

	store.values[KeyKillSwitch] = "0"
	s.Invalidate()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
