package killswitch

import (
	"fmt"

	comms "github.com/nats-io/nats.go"

	"github.com/cyfrying/foodtruck/pkg/commsutil"
	"github.com/cyfrying/foodtruck/pkg/events"
)

// Subscribe drops the cached state whenever another instance announces a
// change on <namespace>.killswitch.changed. Messages whose source equals
// self are ignored since Engage and Release already invalidate locally.
func (s *Switch) Subscribe(nc *comms.Conn, namespace, self string) (*comms.Subscription, error) {
	subject := commsutil.BuildSubject(namespace, commsutil.TopicKillSwitchChanged)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var ev events.KillSwitchChangedEvent
		m, err := commsutil.DecodePayload(msg.Data, &ev)
		if err != nil {
			s.logger.Warn(fmt.Sprintf("%s - bad killswitch message: %v", logPrefix, err))
			return
		}
		if self != "" && m.Source == self {
			return
		}
		s.Invalidate()
		s.logger.Info(fmt.Sprintf("%s - kill switch changed by %s (on=%v)", logPrefix, m.Source, ev.On))
	})
	if err != nil {
		return nil, fmt.Errorf("%s - subscribe %s: %w", logPrefix, subject, err)
	}
	return sub, nil
}
