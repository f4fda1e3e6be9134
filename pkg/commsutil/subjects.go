package commsutil

import (
	"fmt"
	"strings"
)

// DefaultNamespace prefixes every subject unless SERVICE_NAME overrides it.
const DefaultNamespace = "cyfrying"

// Event topics, appended to the namespace.
const (
	TopicOrderCreated      = "orders.created"
	TopicMenuChanged       = "menu.changed"
	TopicKillSwitchChanged = "killswitch.changed"
)

// BuildSubject joins namespace and topic. Dots and spaces in the namespace are
// replaced so it stays a single subject token.
func BuildSubject(namespace, topic string) string {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		ns = DefaultNamespace
	}
	ns = strings.NewReplacer(".", "_", " ", "_").Replace(ns)
	return fmt.Sprintf("%s.%s", ns, topic)
}

// WildcardSubject matches every topic of namespace.
func WildcardSubject(namespace string) string {
	return BuildSubject(namespace, ">")
}
