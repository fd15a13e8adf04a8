package notify

import (
	"log"

	"github.com/sgazanfar/avatar-ai-serverless/internal/observability"
	"github.com/sgazanfar/avatar-ai-serverless/internal/protocol"
	"github.com/sgazanfar/avatar-ai-serverless/internal/session"
)

// Notifier is the single egress path for server-to-client envelopes. Every
// send resolves the target through the registry at delivery time, so a frame
// produced for a user who reconnected mid-pipeline lands on the new
// connection, and one produced for a user who left is dropped quietly.
type Notifier struct {
	registry *session.Registry
	metrics  *observability.Metrics
}

func NewNotifier(registry *session.Registry, metrics *observability.Metrics) *Notifier {
	return &Notifier{registry: registry, metrics: metrics}
}

// Notify delivers env to userID's live connection. It reports whether the
// envelope was written; a missing session is not an error, just a miss.
// A failed write evicts the session so the registry never holds a dead
// connection that would eat every later notification.
func (n *Notifier) Notify(userID string, env protocol.Outbound) bool {
	conn, err := n.registry.Lookup(userID)
	if err != nil {
		log.Printf("notify: dropping %s for user %s: no active session", env.Kind(), userID)
		n.metrics.IncNotifyDrop("absent")
		return false
	}

	if err := conn.Send(env); err != nil {
		log.Printf("notify: send %s to user %s failed, evicting session: %v", env.Kind(), userID, err)
		if n.registry.Drop(userID, conn) {
			n.metrics.IncSessionEvent("evicted")
			n.metrics.SetActiveSessions(n.registry.ActiveCount())
		}
		_ = conn.Close()
		n.metrics.IncNotifyDrop("send_failed")
		return false
	}

	_ = n.registry.MarkActivity(userID)
	n.metrics.IncWSMessage("out", string(env.Kind()))
	return true
}
