package server

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cyfrying/foodtruck/pkg/auth"
	"github.com/cyfrying/foodtruck/pkg/dispatcher"
)

const debugLogPrefix = "server:debug"

// Envelope errors for the debug and login guards.
const (
	MsgDebugDisabled  = "Debug disabled"
	MsgTooManyLogins  = "Too many login attempts. Please try again later."
	recentErrorsLimit = 10
)

// login attempts allowed per client and minute.
const loginAttemptsPerMinute = 5

type runtimeInfo struct {
	GoVersion   string  `json:"go_version"`
	OS          string  `json:"os"`
	Goroutines  int     `json:"goroutines"`
	MemoryMB    float64 `json:"memory_mb"`
	MemorySysMB float64 `json:"memory_sys_mb"`
	NumGC       uint32  `json:"num_gc"`
}

func readRuntime() runtimeInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return runtimeInfo{
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS + "/" + runtime.GOARCH,
		Goroutines:  runtime.NumGoroutine(),
		MemoryMB:    megabytes(m.Alloc),
		MemorySysMB: megabytes(m.Sys),
		NumGC:       m.NumGC,
	}
}

func megabytes(b uint64) float64 {
	return round2(float64(b) / (1 << 20))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

type databaseInfo struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

type sessionInfo struct {
	Active        bool   `json:"active"`
	ID            string `json:"id"`
	Authenticated bool   `json:"authenticated"`
	Role          string `json:"role"`
}

type appInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Debug   bool   `json:"debug"`
}

// DebugInfo is the data of a successful debug action.
type DebugInfo struct {
	Runtime       runtimeInfo  `json:"runtime"`
	Database      databaseInfo `json:"database"`
	Session       sessionInfo  `json:"session"`
	App           appInfo      `json:"app"`
	KillSwitch    bool         `json:"kill_switch"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	ExecutionMs   float64      `json:"execution_time_ms"`
}

func (s *Server) probeDatabase(ctx context.Context) databaseInfo {
	out := databaseInfo{Status: "connected", Version: "unknown", Time: "unknown"}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HealthCheckTimeout)
	defer cancel()
	probe, err := s.store.Probe(ctx)
	if err != nil {
		out.Status = "failed: " + err.Error()
		return out
	}
	out.Version = probe.Version
	out.Time = probe.Now.UTC().Format(time.RFC3339)
	return out
}

// handleDebug serves the debug action. Only debug clients get an answer.
func (s *Server) handleDebug(ctx context.Context, _ dispatcher.Payload) (dispatcher.Result, error) {
	info := requestInfoFrom(ctx)
	if !info.Debug {
		s.logger.Warn(fmt.Sprintf("%s - debug action refused", debugLogPrefix),
			"client_ip", info.ClientIP, "request_id", info.ID)
		return dispatcher.Fail(MsgDebugDisabled), nil
	}

	sess := auth.FromContext(ctx)
	out := DebugInfo{
		Runtime:  readRuntime(),
		Database: s.probeDatabase(ctx),
		Session: sessionInfo{
			Active:        sess.ID != "",
			ID:            sess.ID,
			Authenticated: sess.Authenticated(),
			Role:          roleOf(sess),
		},
		App:           appInfo{Name: s.cfg.AppName, Version: s.cfg.AppVersion, Debug: s.cfg.AppDebug},
		KillSwitch:    s.sw.Engaged(ctx),
		UptimeSeconds: round2(time.Since(s.started).Seconds()),
	}
	if out.Session.ID == "" {
		out.Session.ID = "none"
	}
	out.ExecutionMs = round2(float64(time.Since(info.Start).Microseconds()) / 1000)
	return dispatcher.OK(out), nil
}

func roleOf(sess *auth.Session) string {
	if !sess.Authenticated() {
		return "guest"
	}
	return sess.Role
}

// decorate adds meta._debug to every envelope sent to a debug client.
func (s *Server) decorate(r *http.Request, out *dispatcher.Outcome) *dispatcher.Envelope {
	info := requestInfoFrom(r.Context())
	if !info.Debug {
		return nil
	}
	return out.Envelope.WithMeta("_debug", map[string]any{
		"execution_time_ms": round2(float64(time.Since(info.Start).Microseconds()) / 1000),
		"request_id":        info.ID,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

// throttleLogin wraps the login action with a per-client attempt limit.
func (s *Server) throttleLogin(h dispatcher.Handler) dispatcher.Handler {
	return func(ctx context.Context, p dispatcher.Payload) (dispatcher.Result, error) {
		info := requestInfoFrom(ctx)
		if s.loginLimiter != nil && !s.loginLimiter.allow(info.ClientIP) {
			s.logger.Warn(fmt.Sprintf("%s - login throttled", debugLogPrefix),
				"client_ip", info.ClientIP, "request_id", info.ID)
			return dispatcher.Fail(MsgTooManyLogins), nil
		}
		return h(ctx, p)
	}
}

// isLoopback reports whether ip is 127.0.0.1 or ::1.
func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1"
}

// handleDiagnostics serves the plain-text diagnostics page to local clients.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	info := requestInfoFrom(r.Context())
	if !isLoopback(info.ClientIP) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	rt := readRuntime()
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s Diagnostics ===\n", s.cfg.AppName)
	fmt.Fprintf(&b, "Request ID: %s\n", info.ID)
	fmt.Fprintf(&b, "Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Go: %s (%s)\n", rt.GoVersion, rt.OS)
	fmt.Fprintf(&b, "Goroutines: %d\n", rt.Goroutines)
	fmt.Fprintf(&b, "Memory: %.2fMB / %.2fMB sys\n", rt.MemoryMB, rt.MemorySysMB)
	fmt.Fprintf(&b, "App: %s v%s\n", s.cfg.AppName, s.cfg.AppVersion)
	fmt.Fprintf(&b, "Uptime: %s\n", time.Since(s.started).Round(time.Second))
	if s.cfg.AppDebug {
		b.WriteString("Debug: ENABLED\n")
	} else {
		b.WriteString("Debug: disabled\n")
	}
	if st := s.sw.State(r.Context()); st.On {
		fmt.Fprintf(&b, "Kill switch: ENGAGED (%s)\n", st.Reason)
	} else {
		b.WriteString("Kill switch: off\n")
	}

	t0 := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	var report string
	if probe, err := s.store.Probe(ctx); err != nil {
		report = "ERROR: " + err.Error()
	} else {
		report = fmt.Sprintf("connected (%s", firstWords(probe.Version, 2))
		if stats, err := s.store.Stats(ctx); err == nil {
			report += fmt.Sprintf(", users: %d, menu_items: %d, orders: %d", stats.Users, stats.MenuItems, stats.Orders)
		}
		report += ")"
	}
	fmt.Fprintf(&b, "Database: %s (%.2fms)\n", report, float64(time.Since(t0).Microseconds())/1000)

	b.WriteString("File System:\n")
	for _, p := range []string{s.cfg.StoragePath, s.cfg.MigrationPath, s.cfg.LogFile} {
		if p == "" {
			continue
		}
		fmt.Fprintf(&b, "  %s: %s\n", p, describePath(p))
	}

	b.WriteString("\n=== Recent Errors (last 10) ===\n")
	if s.cfg.LogFile != "" {
		lines, err := recentErrors(s.cfg.LogFile, recentErrorsLimit)
		if err != nil {
			fmt.Fprintf(&b, "(unreadable: %v)\n", err)
		}
		for _, l := range lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func firstWords(s string, n int) string {
	f := strings.Fields(s)
	if len(f) > n {
		f = f[:n]
	}
	return strings.Join(f, " ")
}

func describePath(p string) string {
	fi, err := os.Stat(p)
	switch {
	case err != nil:
		return "MISSING"
	case fi.IsDir():
		return fmt.Sprintf("dir (%04o)", fi.Mode().Perm())
	default:
		return fmt.Sprintf("file (%04o)", fi.Mode().Perm())
	}
}

// recentErrors returns the last n ERROR records of a JSON-lines log file.
func recentErrors(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !gjson.Valid(line) {
			continue
		}
		if level := gjson.Get(line, "level").String(); level != "ERROR" {
			continue
		}
		out = append(out, line)
		if len(out) > n {
			out = out[1:]
		}
	}
	return out, sc.Err()
}
