package discord

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSwitch struct {
	engaged  []string
	released []string
}

func (f *fakeSwitch) Engage(_ context.Context, reason, actor string) error {
	f.engaged = append(f.engaged, reason+"|"+actor)
	return nil
}

func (f *fakeSwitch) Release(_ context.Context, actor string) error {
	f.released = append(f.released, actor)
	return nil
}

type signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return signer{pub: pub, priv: priv}
}

func (s signer) request(body string) *http.Request {
	ts := "1700000000"
	sig := ed25519.Sign(s.priv, []byte(ts+body))
	req := httptest.NewRequest(http.MethodPost, "/api/discord", strings.NewReader(body))
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))
	req.Header.Set("X-Signature-Timestamp", ts)
	return req
}

func serve(t *testing.T, h http.Handler, req *http.Request) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "discord:interactions_test - body %q", rec.Body.String())
	return rec.Code, out
}

func content(out map[string]any) string {
	data, _ := out["data"].(map[string]any)
	s, _ := data["content"].(string)
	return s
}

func TestInteractions_Transport(t *testing.T) {
	s := newSigner(t)
	sw := &fakeSwitch{}
	h := NewInteractions(hex.EncodeToString(s.pub), "", sw)

	code, _ := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/discord", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	code, out := serve(t, NewInteractions("", "", sw), s.request(`{"type":1}`))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Discord signature verification not configured", out["error"])

	code, _ = serve(t, NewInteractions("zz", "", sw), s.request(`{"type":1}`))
	assert.Equal(t, http.StatusInternalServerError, code)

	other := newSigner(t)
	code, out = serve(t, h, other.request(`{"type":1}`))
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid request signature", out["error"])

	req := s.request(`{"type":1}`)
	req.Header.Set("X-Signature-Timestamp", "1700000001")
	code, _ = serve(t, h, req)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, out = serve(t, h, s.request(`{"type":1}`))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(ResponsePong), out["type"])

	_, out = serve(t, h, s.request(`{"type":3}`))
	assert.Equal(t, "Unsupported interaction.", content(out))
	_, out = serve(t, h, s.request(`not json`))
	assert.Equal(t, "Unsupported interaction.", content(out))
	assert.Empty(t, sw.engaged)
}

func TestInteractions_Commands(t *testing.T) {
	s := newSigner(t)
	sw := &fakeSwitch{}
	h := NewInteractions(hex.EncodeToString(s.pub), "42", sw)

	_, out := serve(t, h, s.request(`{"type":2,"data":{"name":"kill"},"member":{"user":{"id":"7"}}}`))
	assert.Equal(t, "Not allowed.", content(out))
	assert.Equal(t, float64(FlagEphemeral), out["data"].(map[string]any)["flags"])
	assert.Empty(t, sw.engaged)

	_, out = serve(t, h, s.request(`{"type":2,"data":{"name":"KILL","options":[{"name":"reason","value":" Restock "}]},"member":{"user":{"id":"42"}}}`))
	assert.Equal(t, "🔴 Kill switch engaged.\nReason: Restock", content(out))
	assert.Equal(t, []string{"Restock|discord:42"}, sw.engaged)

	_, out = serve(t, h, s.request(`{"type":2,"data":{"name":"kill"},"user":{"id":"42"}}`))
	assert.Equal(t, "🔴 Kill switch engaged.\nReason: (none)", content(out))

	_, out = serve(t, h, s.request(`{"type":2,"data":{"name":"resume"},"user":{"id":"42"}}`))
	assert.Equal(t, "🟢 Application resumed.", content(out))
	assert.Equal(t, []string{"discord:42"}, sw.released)

	_, out = serve(t, h, s.request(`{"type":2,"data":{"name":"dance"},"user":{"id":"42"}}`))
	assert.Equal(t, "Unknown command.", content(out))
}
