package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/cyfrying/foodtruck/pkg/auth"
	"github.com/cyfrying/foodtruck/pkg/menu"
	"github.com/cyfrying/foodtruck/pkg/orders"
)

// homePageTemplate renders the public menu page. The menu is rendered server
// side; the order and login forms post to the action endpoint.
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Title}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fffaf2; color: #1f1f1f; font-family: system-ui, sans-serif; margin: 0; line-height: 1.5; }
    header { background: #1f3d2b; color: #fff; padding: 1rem 2rem; display: flex; justify-content: space-between; align-items: center; }
    header a { color: #ffd27a; }
    .hero { padding: 3rem 2rem; text-align: center; background: #f4e3c1; }
    .section { padding: 2rem; max-width: 960px; margin: auto; }
    h2 { color: #1f3d2b; }
    .menu-grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(260px, 1fr)); gap: 1rem; }
    .menu-item { background: #fff; border: 1px solid #e5d5b5; border-radius: 8px; padding: 1rem; }
    .price { font-weight: bold; color: #b45309; }
    .tags { font-size: 0.85rem; color: #666; }
    .error { color: #cc0000; }
    form label { display: block; margin-top: 0.5rem; }
    form input, form textarea { width: 100%; padding: 0.4rem; }
    .btn { margin-top: 1rem; padding: 0.5rem 1rem; background: #1f3d2b; color: #fff; border: 0; border-radius: 4px; cursor: pointer; }
    #debug-panel { position: fixed; bottom: 0; right: 0; background: #111; color: #0f0; font: 12px monospace; padding: 0.75rem; max-width: 420px; opacity: 0.9; }
    #debug-panel td { padding: 0 0.5rem 0 0; }
  </style>
</head>
<body>
<header>
  <strong>{{.AppName}}</strong>
  <nav>
    {{if .User.Authenticated}}
      Signed in as {{.User.Name}}{{if .User.IsAdmin}} (admin){{end}} · <a href="#" id="logoutLink">Log out</a>
    {{else}}
      <a href="#login" id="loginLink">Staff login</a>
    {{end}}
  </nav>
</header>

<section id="home" class="hero">
  <h1>Frog Legs &amp; Perch Perfection</h1>
  <p>Freshly fried frog legs, perch, and southern sides served hot from our gourmet food truck.</p>
</section>

<section id="menu" class="section">
  <h2>Our Signature Menu</h2>
  {{if .MenuError}}
  <p class="error">The menu is unavailable right now. Please try again shortly.</p>
  {{else if not .Sections}}
  <p>No items on the menu yet.</p>
  {{else}}
  {{range .Sections}}
  <h3>{{title .Category}}</h3>
  <div class="menu-grid">
    {{range .Items}}
    <div class="menu-item" data-id="{{.ID}}">
      <h4>{{.Name}}</h4>
      {{if .Description}}<p>{{.Description}}</p>{{end}}
      <p class="price">${{printf "%.2f" .Price}}</p>
      {{if .Tags}}<p class="tags">{{.Tags}}</p>{{end}}
      <label>Qty <input type="number" min="0" max="{{$.MaxQuantity}}" value="0" name="qty_{{.ID}}" form="orderForm"></label>
    </div>
    {{end}}
  </div>
  {{end}}
  {{end}}
</section>

<section id="order" class="section">
  <h2>Place Your Order</h2>
  <p>Build your meal and pay at our truck window.</p>
  <form id="orderForm" autocomplete="off" novalidate>
    <label for="customer_name">Name</label>
    <input id="customer_name" name="customer_name" required>
    <label for="customer_phone">Phone</label>
    <input id="customer_phone" name="customer_phone" type="tel" required>
    <label for="customer_email">Email (optional)</label>
    <input id="customer_email" name="customer_email" type="email">
    <label for="special_instructions">Special Instructions</label>
    <textarea id="special_instructions" name="special_instructions"></textarea>
    <button type="submit" class="btn">Submit Order</button>
  </form>
</section>

{{if not .User.Authenticated}}
<section id="login" class="section">
  <h2>Staff Login</h2>
  <form id="loginForm" autocomplete="off">
    <label for="username">Username</label>
    <input id="username" name="username" required>
    <label for="password">Password</label>
    <input id="password" name="password" type="password" required>
    <button type="submit" class="btn">Log in</button>
  </form>
</section>
{{end}}

<script>
const AppConfig = {{.AppConfig}};
async function callAction(action, payload) {
  const res = await fetch(AppConfig.apiUrl, {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify(Object.assign({action: action}, payload || {})),
  });
  return res.json();
}
document.getElementById("orderForm").addEventListener("submit", async (e) => {
  e.preventDefault();
  const f = e.target;
  const items = [];
  document.querySelectorAll("input[name^=qty_]").forEach((q) => {
    const n = parseInt(q.value, 10);
    if (n > 0) items.push({id: q.name.slice(4), quantity: n});
  });
  const out = await callAction("saveOrder", {
    customer_name: f.customer_name.value,
    customer_phone: f.customer_phone.value,
    customer_email: f.customer_email.value,
    special_instructions: f.special_instructions.value,
    order_items: items,
  });
  alert(out.success ? "Order " + out.data.order_id + " received. Total $" + out.data.total.toFixed(2) : out.error);
});
const loginForm = document.getElementById("loginForm");
if (loginForm) loginForm.addEventListener("submit", async (e) => {
  e.preventDefault();
  const out = await callAction("login", {username: loginForm.username.value, password: loginForm.password.value});
  if (out.success) location.reload(); else alert(out.error);
});
const logoutLink = document.getElementById("logoutLink");
if (logoutLink) logoutLink.addEventListener("click", async (e) => {
  e.preventDefault();
  await callAction("logout");
  location.reload();
});
</script>

{{with .Debug}}
<div id="debug-panel">
  <strong>Debug</strong>
  <table>
    <tr><td>Request</td><td>{{.RequestID}}</td></tr>
    <tr><td>Render</td><td>{{printf "%.1f" .RenderMs}}ms</td></tr>
    <tr><td>Client IP</td><td>{{.ClientIP}}</td></tr>
    <tr><td>User Agent</td><td>{{.UserAgent}}</td></tr>
    <tr><td>Go</td><td>{{.Runtime.GoVersion}} · {{.Runtime.Goroutines}} goroutines · {{printf "%.2f" .Runtime.MemoryMB}}MB</td></tr>
    <tr><td>Session</td><td>{{if .User}}{{.User}} ({{.Role}}){{else}}guest{{end}}</td></tr>
    <tr><td>Database</td><td>{{.Database}}</td></tr>
  </table>
</div>
{{end}}
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Title       string
	AppName     string
	Sections    []menu.Section
	MenuError   bool
	MaxQuantity int
	User        *auth.Session
	AppConfig   appConfig
	Debug       *debugPanel
}

// appConfig is embedded into the page as the AppConfig script object.
type appConfig struct {
	CurrentUser     *auth.SessionUser `json:"currentUser"`
	IsAuthenticated bool              `json:"isAuthenticated"`
	IsAdmin         bool              `json:"isAdmin"`
	APIURL          string            `json:"apiUrl"`
	ReqID           string            `json:"reqId"`
	DebugEnabled    bool              `json:"debugEnabled"`
}

type debugPanel struct {
	RequestID string
	RenderMs  float64
	ClientIP  string
	UserAgent string
	Runtime   runtimeInfo
	User      string
	Role      string
	Database  string
}

var homeFuncs = template.FuncMap{
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}

// handleHome returns an HTTP handler for the menu page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Funcs(homeFuncs).Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		info := requestInfoFrom(r.Context())
		sess := auth.FromContext(r.Context())

		data := homeData{
			Title:       s.cfg.AppName + " - Southern Food Truck",
			AppName:     s.cfg.AppName,
			MaxQuantity: orders.MaxQuantity,
			User:        sess,
			AppConfig: appConfig{
				IsAuthenticated: sess.Authenticated(),
				IsAdmin:         sess.IsAdmin(),
				APIURL:          "/api/index.php",
				ReqID:           info.ID,
				DebugEnabled:    info.Debug,
			},
		}
		if sess.Authenticated() {
			data.AppConfig.CurrentUser = &auth.SessionUser{ID: sess.UserID, Username: sess.Username, Role: sess.Role, Name: sess.Name}
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		items, err := s.menu.Available(ctx, "")
		if err != nil {
			s.logger.Error(fmt.Sprintf("%s - home menu load: %v", logPrefix, err), "request_id", info.ID)
			data.MenuError = true
		} else {
			data.Sections = menu.GroupByCategory(items)
		}

		if info.Debug {
			db := s.probeDatabase(ctx)
			data.Debug = &debugPanel{
				RequestID: info.ID,
				RenderMs:  float64(time.Since(info.Start).Microseconds()) / 1000,
				ClientIP:  info.ClientIP,
				UserAgent: r.UserAgent(),
				Runtime:   readRuntime(),
				User:      sess.Username,
				Role:      roleOf(sess),
				Database:  db.Status,
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			s.logger.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
		}
	}
}
