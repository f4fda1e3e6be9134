package dispatcher

import (
	"encoding/json"
	"testing"
)

func TestPayload_Accessors(t *testing.T) {
	p := Payload{
		"name":      "Burrito",
		"price":     "8.50",
		"qty":       float64(3),
		"half":      2.5,
		"available": "on",
		"flag":      true,
		"num":       json.Number("12"),
		"blank":     "   ",
		"nothing":   nil,
	}

	if got := p.String("name"); got != "Burrito" {
		t.Errorf("expected Burrito, got %q", got)
	}
	if got := p.String("qty"); got != "3" {
		t.Errorf("expected 3, got %q", got)
	}
	if got := p.String("nothing"); got != "" {
		t.Errorf("expected empty string for nil, got %q", got)
	}
	if f, ok := p.Float("price"); !ok || f != 8.5 {
		t.Errorf("expected 8.5, got %v %v", f, ok)
	}
	if n, ok := p.Int("num"); !ok || n != 12 {
		t.Errorf("expected 12, got %v %v", n, ok)
	}
	if _, ok := p.Int("half"); ok {
		t.Error("fractional value must not convert to int")
	}
	if b, ok := p.Bool("available"); !ok || !b {
		t.Errorf("expected on to be true, got %v %v", b, ok)
	}
	if b, ok := p.Bool("flag"); !ok || !b {
		t.Errorf("expected true, got %v %v", b, ok)
	}
	if _, ok := p.Bool("name"); ok {
		t.Error("arbitrary string must not convert to bool")
	}
}

func TestPayload_Missing(t *testing.T) {
	p := Payload{"name": "Taco", "blank": " ", "nothing": nil}

	tests := []struct {
		fields []string
		want   string
	}{
		{[]string{"name"}, ""},
		{[]string{"name", "price"}, "price"},
		{[]string{"blank"}, "blank"},
		{[]string{"nothing", "name"}, "nothing"},
	}
	for _, tt := range tests {
		if got := p.Missing(tt.fields...); got != tt.want {
			t.Errorf("Missing(%v): expected %q, got %q", tt.fields, tt.want, got)
		}
	}
}

func TestPayload_Decode(t *testing.T) {
	p := Payload{"username": "admin", "password": "secret"}
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := p.Decode(&creds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.Username != "admin" || creds.Password != "secret" {
		t.Errorf("unexpected decode result %+v", creds)
	}
}

func TestRegistry_Actions(t *testing.T) {
	reg := NewRegistry()
	reg.Register("login", nil)
	reg.Register("addMenuItem", ValueHandler(nil))
	reg.Register("getMenuItems", ValueHandler(nil))

	got := reg.Actions()
	want := []string{"addMenuItem", "getMenuItems", "login"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
	if _, ok := reg.Resolve("login"); ok {
		t.Error("nil handler must resolve as unregistered")
	}
}
