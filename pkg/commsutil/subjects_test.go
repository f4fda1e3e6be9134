package commsutil

import "testing"

func TestBuildSubject(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		topic     string
		want      string
	}{
		{"default namespace", "", TopicOrderCreated, "cyfrying.orders.created"},
		{"custom namespace", "truck2", TopicMenuChanged, "truck2.menu.changed"},
		{"dotted namespace", "food.truck", TopicKillSwitchChanged, "food_truck.killswitch.changed"},
		{"spaced namespace", " my truck ", TopicMenuChanged, "my_truck.menu.changed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSubject(tt.namespace, tt.topic)
			if got != tt.want {
				t.Errorf("commsutil:subjects_test - BuildSubject(%q, %q) = %q, want %q", tt.namespace, tt.topic, got, tt.want)
			}
		})
	}
}

func TestWildcardSubject(t *testing.T) {
	if got := WildcardSubject(""); got != "cyfrying.>" {
		t.Errorf("commsutil:subjects_test - WildcardSubject = %q, want cyfrying.>", got)
	}
}
