package discord

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const interactionsLogPrefix = "discord:interactions"

// Interaction and response types.
const (
	InteractionPing               = 1
	InteractionApplicationCommand = 2

	ResponsePong           = 1
	ResponseChannelMessage = 4

	// FlagEphemeral shows a reply only to the invoking user.
	FlagEphemeral = 64
)

const maxInteractionBody = 64 << 10

// KillSwitch is what the slash commands drive.
type KillSwitch interface {
	Engage(ctx context.Context, reason, actor string) error
	Release(ctx context.Context, actor string) error
}

// Interactions serves POST /api/discord.
type Interactions struct {
	publicKey   ed25519.PublicKey
	allowedUser string
	sw          KillSwitch
}

// NewInteractions creates the endpoint. An empty or malformed publicKeyHex
// leaves verification unconfigured and every request is refused with 500.
func NewInteractions(publicKeyHex, allowedUserID string, sw KillSwitch) *Interactions {
	in := &Interactions{allowedUser: strings.TrimSpace(allowedUserID), sw: sw}
	if publicKeyHex == "" {
		return in
	}
	key, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil || len(key) != ed25519.PublicKeySize {
		slog.Error(fmt.Sprintf("%s - DISCORD_PUBLIC_KEY is not a hex ed25519 public key", interactionsLogPrefix))
		return in
	}
	in.publicKey = ed25519.PublicKey(key)
	return in
}

// Verify checks an interaction signature: hex sig over timestamp+body.
func Verify(publicKey ed25519.PublicKey, sigHex, timestamp string, body []byte) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize || len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return ed25519.Verify(publicKey, msg, sig)
}

func (in *Interactions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method Not Allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInteractionBody))
	if err != nil {
		body = nil
	}
	if in.publicKey == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Discord signature verification not configured"})
		return
	}
	if !Verify(in.publicKey, r.Header.Get("X-Signature-Ed25519"), r.Header.Get("X-Signature-Timestamp"), body) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid request signature"})
		return
	}

	var payload gjson.Result
	if gjson.ValidBytes(body) {
		payload = gjson.ParseBytes(body)
	}
	typ := payload.Get("type")
	if typ.Type == gjson.Number && typ.Int() == InteractionPing {
		writeJSON(w, http.StatusOK, map[string]any{"type": ResponsePong})
		return
	}
	if typ.Type != gjson.Number || typ.Int() != InteractionApplicationCommand {
		writeJSON(w, http.StatusOK, reply("Unsupported interaction.", false))
		return
	}

	cmd := strings.ToLower(payload.Get("data.name").String())
	userID := payload.Get("member.user.id").String()
	if userID == "" {
		userID = payload.Get("user.id").String()
	}
	if in.allowedUser != "" && userID != in.allowedUser {
		slog.Warn(fmt.Sprintf("%s - rejected /%s from user %s", interactionsLogPrefix, cmd, userID))
		writeJSON(w, http.StatusOK, reply("Not allowed.", true))
		return
	}
	actor := "discord:" + userID

	switch cmd {
	case "kill":
		reason := strings.TrimSpace(payload.Get("data.options.0.value").String())
		if err := in.sw.Engage(r.Context(), reason, actor); err != nil {
			slog.Error(fmt.Sprintf("%s - engage failed: %v", interactionsLogPrefix, err))
		}
		shown := reason
		if shown == "" {
			shown = "(none)"
		}
		writeJSON(w, http.StatusOK, reply("🔴 Kill switch engaged.\nReason: "+shown, true))
	case "resume":
		if err := in.sw.Release(r.Context(), actor); err != nil {
			slog.Error(fmt.Sprintf("%s - release failed: %v", interactionsLogPrefix, err))
		}
		writeJSON(w, http.StatusOK, reply("🟢 Application resumed.", true))
	default:
		writeJSON(w, http.StatusOK, reply("Unknown command.", false))
	}
}

func reply(content string, ephemeral bool) map[string]any {
	data := map[string]any{"content": content}
	if ephemeral {
		data["flags"] = FlagEphemeral
	}
	return map[string]any{"type": ResponseChannelMessage, "data": data}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
