package killswitch

import (
	"html/template"
	"net/http"
	"strings"
)

// DefaultExempt lists path prefixes that stay reachable in maintenance mode.
var DefaultExempt = []string{"/api/discord", "/health", "/ready", "/metrics"}

var pausedPage = template.Must(template.New("paused").Parse(`<!doctype html><meta charset="utf-8"><title>Temporarily Unavailable</title>
<style>
  body{font-family:system-ui;margin:5vw;color:#333}
  .wrap{max-width:720px;margin:auto}
  h1{font-weight:800;color:#b91c1c}
  .box{background:#fff1f2;border:1px solid #ffc7cd;padding:1rem;border-radius:10px}
</style>
<div class="wrap"><h1>Service Paused</h1>
  <div class="box">
    <p>The application is temporarily paused by the developer.</p>
    <p><strong>Reason:</strong> {{.}}</p>
    <p>Please try again shortly.</p>
  </div>
</div>
`))

// Guard answers 503 for every request outside exempt while the switch is
// engaged. A nil exempt uses DefaultExempt.
func (s *Switch) Guard(exempt []string) func(http.Handler) http.Handler {
	if exempt == nil {
		exempt = DefaultExempt
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range exempt {
				if r.URL.Path == p || strings.HasPrefix(r.URL.Path, p+"/") {
					next.ServeHTTP(w, r)
					return
				}
			}
			st := s.State(r.Context())
			if !st.On {
				next.ServeHTTP(w, r)
				return
			}
			reason := st.Reason
			if reason == "" {
				reason = "Maintenance"
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusServiceUnavailable)
			pausedPage.Execute(w, reason)
		})
	}
}
