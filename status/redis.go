package status

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"storyreel-pipeline/types"
)

// Publisher forwards a run's step events to a redis channel so observers
// outside the process (UI backends, dashboards) can follow a run live.
type Publisher struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

// NewPublisher creates a publisher for the given channel.
func NewPublisher(rdb *redis.Client, channel string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{rdb: rdb, channel: channel, log: log}
}

type wireEvent struct {
	RunID string `json:"run_id"`
	types.StepEvent
}

// Forward drains a bus subscription into redis until the channel closes
// or the context ends. Publish errors are logged and skipped; the feed is
// best-effort and must never push back on the pipeline.
func (p *Publisher) Forward(ctx context.Context, runID string, events <-chan types.StepEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(wireEvent{RunID: runID, StepEvent: ev})
			if err != nil {
				p.log.Warn("status publish: marshal failed", "error", err)
				continue
			}
			if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
				p.log.Warn("status publish failed", "channel", p.channel, "error", err)
			}
		}
	}
}
