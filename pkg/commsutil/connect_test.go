package commsutil

import (
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

const connectTestPrefix = "commsutil:connect_test"

func TestValidateURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"nats://localhost:4222", false},
		{"nats://a:4222, tls://b:4222", false},
		{"wss://events.example.com", false},
		{"", true},
		{"   ", true},
		{"http://localhost:4222", true},
		{"localhost:4222", true},
		{"nats://a:4222,redis://b:6379", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s - ValidateURL(%q) err = %v, wantErr %v", connectTestPrefix, tt.raw, err, tt.wantErr)
		}
	}
}

func TestDial_RejectsBadURL(t *testing.T) {
	nc, err := Dial(Options{URL: "invalid://not-a-nats-server", Name: "test-client"})
	if err == nil {
		Drain(nc)
		t.Fatalf("%s - expected error for invalid URL", connectTestPrefix)
	}
	if nc != nil {
		t.Errorf("%s - expected nil connection on error", connectTestPrefix)
	}
}

func TestDial_EmbeddedServer(t *testing.T) {
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("%s - start server: %v", connectTestPrefix, err)
	}
	go ns.Start()
	t.Cleanup(ns.Shutdown)
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatalf("%s - server not ready", connectTestPrefix)
	}

	nc, err := Dial(Options{URL: ns.ClientURL(), Name: "cyfrying-test", Timeout: time.Second})
	if err != nil {
		t.Fatalf("%s - Dial: %v", connectTestPrefix, err)
	}
	if !nc.IsConnected() {
		t.Errorf("%s - expected connected client", connectTestPrefix)
	}
	Drain(nc)
	Drain(nc)
	Drain(nil)
}

func TestRedactURL(t *testing.T) {
	got := redactURL("nats://user:secret@a:4222,nats://b:4222")
	if strings.Contains(got, "secret") || strings.Contains(got, "user:") {
		t.Errorf("%s - credentials leaked: %q", connectTestPrefix, got)
	}
	if !strings.Contains(got, "nats://b:4222") {
		t.Errorf("%s - plain server dropped: %q", connectTestPrefix, got)
	}
}
