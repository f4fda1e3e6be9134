package server

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cyfrying/foodtruck/pkg/dispatcher"
)

const middlewareLogPrefix = "server:middleware"

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

// MsgTooManyRequests is the envelope error for rate-limited API calls.
const MsgTooManyRequests = "Too many requests"

// requestInfo is attached to every request context by withRequestInfo.
type requestInfo struct {
	ID       string
	Start    time.Time
	ClientIP string
	// Debug is true when APP_DEBUG is on and the client is inside DEBUG_ALLOWED_CIDRS.
	Debug bool
}

type requestInfoKey struct{}

func requestInfoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{Start: time.Now()}
}

// clientIP returns the host part of RemoteAddr. Forwarding headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipAllowed(ip string, allow []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range allow {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (s *Server) withRequestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		ip := clientIP(r)
		info := &requestInfo{
			ID:       id,
			Start:    time.Now(),
			ClientIP: ip,
			Debug:    s.cfg.AppDebug && ipAllowed(ip, s.debugNets),
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// logRequests writes one line per request; requests slower than
// SLOW_REQUEST_THRESHOLD are logged at warn.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		info := requestInfoFrom(r.Context())
		elapsed := time.Since(info.Start)
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []any{
			"request_id", info.ID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", float64(elapsed.Microseconds()) / 1000,
			"client_ip", info.ClientIP,
		}
		msg := fmt.Sprintf("%s - %s %s %d", middlewareLogPrefix, r.Method, r.URL.Path, status)
		if threshold := s.cfg.SlowRequestThreshold; threshold > 0 && elapsed > threshold {
			s.logger.Warn(msg+" (slow)", attrs...)
			return
		}
		s.logger.Debug(msg, attrs...)
	})
}

var errorPage = template.Must(template.New("error").Parse(`<!doctype html><meta charset="utf-8"><title>Server Error</title>
<style>body{font-family:system-ui;max-width:800px;margin:2rem auto;padding:1rem}.box{background:#fee;border:1px solid #fcc;padding:1rem;border-radius:6px}pre{white-space:pre-wrap;background:#f5f5f5;padding:1rem}</style>
<div class="box"><h1>Server Error</h1><p><b>Request ID:</b> {{.ID}}</p>
{{if .Detail}}<pre>{{.Detail}}</pre>{{else}}<p>Please contact support if this persists.</p>{{end}}</div>
`))

// isAPIRequest reports whether r expects a JSON answer.
func isAPIRequest(r *http.Request) bool {
	if strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		return true
	}
	q := r.URL.Query()
	if q.Has("api") || q.Has("ajax") {
		return true
	}
	return r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/")
}

// recoverPanics turns a panic outside the dispatcher into a 500 error page
// carrying the request id. Panic details are only shown to debug clients.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			info := requestInfoFrom(r.Context())
			stack := string(debug.Stack())
			s.logger.Error(fmt.Sprintf("%s - uncaught panic: %v", middlewareLogPrefix, rec),
				"request_id", info.ID, "path", r.URL.Path, "stack", stack)

			if isAPIRequest(r) {
				body := map[string]any{"success": false, "error": dispatcher.MsgServerError, "reqId": info.ID}
				if info.Debug {
					body["error"] = fmt.Sprint(rec)
				}
				writeJSON(w, http.StatusInternalServerError, body)
				return
			}
			data := struct{ ID, Detail string }{ID: info.ID}
			if info.Debug {
				data.Detail = fmt.Sprintf("%v\n\n%s", rec, stack)
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusInternalServerError)
			_ = errorPage.Execute(w, data)
		}()
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "no-referrer-when-downgrade")
		next.ServeHTTP(w, r)
	})
}

// timeoutBody is sent when a request exceeds REQUEST_TIMEOUT.
const timeoutBody = `{"success":false,"error":"` + dispatcher.MsgServerError + `"}`

// withTimeout bounds the inner chain by REQUEST_TIMEOUT. It runs inside
// withRequestInfo and securityHeaders, so the 503 keeps their headers.
func (s *Server) withTimeout(next http.Handler) http.Handler {
	if s.cfg.RequestTimeout <= 0 {
		return next
	}
	th := http.TimeoutHandler(next, s.cfg.RequestTimeout, timeoutBody)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		th.ServeHTTP(timeoutTypeWriter{w}, r)
	})
}

// timeoutTypeWriter labels the TimeoutHandler 503 as JSON. Responses that
// already carry a Content-Type are left alone.
type timeoutTypeWriter struct {
	http.ResponseWriter
}

func (w timeoutTypeWriter) WriteHeader(code int) {
	if code == http.StatusServiceUnavailable && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.ResponseWriter.WriteHeader(code)
}

// cors applies to /api paths only. In debug mode any origin is allowed;
// otherwise the Origin header must be listed in ALLOWED_ORIGINS.
// Preflight requests are answered here with 200.
func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, o := range s.cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api" && !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		if s.cfg.AppDebug {
			h.Set("Access-Control-Allow-Origin", "*")
		} else if origin := r.Header.Get("Origin"); origin != "" && allowed[origin] {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		h.Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientLimiters hands out one token bucket per client key and forgets
// clients that have been idle for longer than idleTTL.
type clientLimiters struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(perSecond float64, burst int) *clientLimiters {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiters{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 3 * time.Minute,
		clients: make(map[string]*clientLimiter),
	}
}

func (c *clientLimiters) allow(key string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) > time.Minute {
		for k, cl := range c.clients {
			if now.Sub(cl.lastSeen) > c.idleTTL {
				delete(c.clients, k)
			}
		}
		c.lastSweep = now
	}
	cl, ok := c.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// limitAPI rejects clients over API_RATE_LIMIT with 429 and a failure
// envelope. A zero limit disables it.
func (s *Server) limitAPI(next http.Handler) http.Handler {
	if s.apiLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := requestInfoFrom(r.Context())
		if !s.apiLimiter.allow(info.ClientIP) {
			s.logger.Warn(fmt.Sprintf("%s - rate limit exceeded", middlewareLogPrefix),
				"client_ip", info.ClientIP, "request_id", info.ID)
			w.Header().Set("Retry-After", "1")
			dispatcher.WriteEnvelope(w, http.StatusTooManyRequests, dispatcher.Fail(MsgTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
