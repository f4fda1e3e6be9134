package commsutil

import (
	"testing"
	"time"
)

func TestEncodeDecodePayload(t *testing.T) {
	type killState struct {
		On     bool   `json:"on"`
		Reason string `json:"reason"`
	}

	data, err := EncodePayload(TopicKillSwitchChanged, "node-a", killState{On: true, Reason: "Restock"})
	if err != nil {
		t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
	}

	var got killState
	msg, err := DecodePayload(data, &got)
	if err != nil {
		t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
	}
	if msg.Topic != TopicKillSwitchChanged || msg.Source != "node-a" {
		t.Errorf("commsutil:codec_test - header = %s/%s", msg.Topic, msg.Source)
	}
	if time.Since(msg.Time) > time.Minute {
		t.Errorf("commsutil:codec_test - unexpected time %v", msg.Time)
	}
	if !got.On || got.Reason != "Restock" {
		t.Errorf("commsutil:codec_test - data = %+v", got)
	}
}

func TestEncodePayload_Unserializable(t *testing.T) {
	if _, err := EncodePayload(TopicMenuChanged, "x", make(chan int)); err == nil {
		t.Fatal("commsutil:codec_test - expected error for channel payload")
	}
}

func TestDecodePayload_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{invalid}`},
		{"empty", ``},
		{"missing data", `{"topic":"menu.changed","source":"a"}`},
		{"wrong data shape", `{"topic":"menu.changed","data":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var target struct{ ItemID string }
			if _, err := DecodePayload([]byte(tt.data), &target); err == nil {
				t.Error("commsutil:codec_test - expected error but got nil")
			}
		})
	}
}

func TestDecodePayload_HeaderOnly(t *testing.T) {
	msg, err := DecodePayload([]byte(`{"topic":"orders.created","source":"b"}`), nil)
	if err != nil {
		t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
	}
	if msg.Source != "b" {
		t.Errorf("commsutil:codec_test - Source = %q, want b", msg.Source)
	}
}
