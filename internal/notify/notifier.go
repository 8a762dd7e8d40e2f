package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"callpilot/internal/calls"

	"github.com/redis/go-redis/v9"
)

// Channel layout: every update goes to the broadcast channel and to the
// call's own channel. Live streams subscribe per call; dashboards can
// subscribe to the broadcast.
const broadcastChannel = "calls:events"

func callChannel(callID string) string { return "calls:events:" + callID }

// publisher is the slice of the redis client the notifier uses.
// *redis.Client satisfies it; tests substitute a fake.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Notifier publishes call record changes over Redis pub/sub. Publishing is
// best-effort: a failed publish is logged and dropped, never surfaced to
// the call path. Subscribers fall back to polling the read endpoint.
type Notifier struct {
	pub publisher
	log *slog.Logger
}

func NewNotifier(rdb *redis.Client, log *slog.Logger) *Notifier {
	return &Notifier{pub: rdb, log: log}
}

// CallUpdated implements the orchestrator's notifier hook. The payload is
// the full record, same shape as the read endpoint, so stream consumers
// and pollers parse one format.
func (n *Notifier) CallUpdated(ctx context.Context, rec calls.CallRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		n.log.Error("call update encode failed", "call_id", rec.ID, "error", err)
		return
	}
	for _, ch := range []string{broadcastChannel, callChannel(rec.ID)} {
		if err := n.pub.Publish(ctx, ch, payload).Err(); err != nil {
			n.log.Warn("call update publish failed", "call_id", rec.ID, "channel", ch, "error", err)
		}
	}
}
