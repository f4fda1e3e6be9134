package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const logPrefix = "auth:manager"

// ManagerOptions configures the session cookie.
type ManagerOptions struct {
	CookieName string
	TTL        time.Duration
	// Secure forces the Secure cookie flag; it is also set on TLS requests.
	Secure bool
}

// Manager loads and commits sessions around each request.
type Manager struct {
	store      Store
	cookieName string
	ttl        time.Duration
	secure     bool
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ManagerOptions) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "cfm_sid"
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	return &Manager{store: store, cookieName: opts.CookieName, ttl: opts.TTL, secure: opts.Secure}
}

// Store returns the backing session store.
func (m *Manager) Store() Store {
	return m.store
}

type ctxKey struct{}

// state is the per-request session handle stored in the request context.
type state struct {
	session   *Session
	persisted bool
	// staleID is a previous id to delete from the store on commit.
	staleID string
	dirty   bool
}

func newSessionID() string {
	return uuid.NewString()
}

func newSession() *Session {
	return &Session{ID: newSessionID(), CreatedAt: time.Now().UTC()}
}

// FromContext returns the request's session. It is never nil inside
// Middleware; outside it an empty anonymous session is returned.
func FromContext(ctx context.Context) *Session {
	if st, ok := ctx.Value(ctxKey{}).(*state); ok {
		return st.session
	}
	return &Session{}
}

// WithSession returns ctx carrying s, for code paths that dispatch outside
// Middleware (tests, the CLI).
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, &state{session: s})
}

var errNoSession = errors.New("no session in context")

// SignIn regenerates the session id and stores u's identity in the session.
func SignIn(ctx context.Context, u SessionUser) error {
	st, ok := ctx.Value(ctxKey{}).(*state)
	if !ok {
		return fmt.Errorf("%s - sign in: %w", logPrefix, errNoSession)
	}
	if st.persisted && st.staleID == "" {
		st.staleID = st.session.ID
	}
	st.session = &Session{
		ID:        newSessionID(),
		UserID:    u.ID,
		Username:  u.Username,
		Role:      u.Role,
		Name:      u.Name,
		CreatedAt: time.Now().UTC(),
	}
	st.dirty = true
	return nil
}

// SignOut destroys the session and replaces it with a fresh anonymous one.
func SignOut(ctx context.Context) error {
	st, ok := ctx.Value(ctxKey{}).(*state)
	if !ok {
		return fmt.Errorf("%s - sign out: %w", logPrefix, errNoSession)
	}
	if st.persisted && st.staleID == "" {
		st.staleID = st.session.ID
	}
	st.session = newSession()
	st.dirty = true
	return nil
}

// SessionUser is the identity recorded in a session at sign-in.
type SessionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
}

// Middleware loads the session named by the cookie and commits it before the
// first byte of the response. Anonymous sessions are never stored.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := &state{session: newSession()}
		if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
			s, err := m.store.Get(r.Context(), c.Value)
			switch {
			case err == nil:
				st.session = s
				st.persisted = true
			case errors.Is(err, ErrSessionNotFound):
				// expired or forged id; start over and clear the cookie
				st.dirty = true
			default:
				slog.Error(fmt.Sprintf("%s - session load failed: %v", logPrefix, err))
			}
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, st)
		r = r.WithContext(ctx)
		cw := &commitWriter{ResponseWriter: w, commit: func() { m.commit(r, w, st) }}
		next.ServeHTTP(cw, r)
		cw.ensureCommitted()
	})
}

func (m *Manager) commit(r *http.Request, w http.ResponseWriter, st *state) {
	ctx := r.Context()
	if st.staleID != "" {
		if err := m.store.Delete(ctx, st.staleID); err != nil {
			slog.Error(fmt.Sprintf("%s - session delete failed: %v", logPrefix, err))
		}
	}
	if !st.session.Authenticated() {
		if st.persisted || st.dirty {
			m.setCookie(w, r, "", -1)
		}
		return
	}
	// Saving on every authenticated request slides the expiry forward.
	if err := m.store.Save(ctx, st.session, m.ttl); err != nil {
		slog.Error(fmt.Sprintf("%s - session save failed: %v", logPrefix, err))
		return
	}
	m.setCookie(w, r, st.session.ID, int(m.ttl.Seconds()))
}

func (m *Manager) setCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure || r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// commitWriter runs commit once, before headers are written.
type commitWriter struct {
	http.ResponseWriter
	commit    func()
	committed bool
}

func (c *commitWriter) ensureCommitted() {
	if !c.committed {
		c.committed = true
		c.commit()
	}
}

func (c *commitWriter) WriteHeader(code int) {
	c.ensureCommitted()
	c.ResponseWriter.WriteHeader(code)
}

func (c *commitWriter) Write(b []byte) (int, error) {
	c.ensureCommitted()
	return c.ResponseWriter.Write(b)
}

func (c *commitWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
