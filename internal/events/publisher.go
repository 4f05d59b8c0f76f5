// Package events publishes committed transitions to Redis so the Gateway
// can forward them to dashboards over SSE.
package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"zodiac/pipeline-service/internal/pipeline"
)

// ChannelStageChanged is the pub/sub channel for transition events.
const ChannelStageChanged = "EVENT_STAGE_CHANGED"

// Publisher implements pipeline.EventPublisher over Redis pub/sub.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher returns a Publisher on the given client.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// StageChanged publishes one committed transition. The caller treats a
// failure as non-fatal.
func (p *Publisher) StageChanged(ctx context.Context, ev pipeline.Event) error {
	payload, err := json.Marshal(map[string]string{
		"type":        ChannelStageChanged,
		"jobId":       ev.JobID,
		"candidateId": ev.CandidateID,
		"from":        string(ev.FromState),
		"to":          string(ev.ToState),
		"triggeredBy": string(ev.TriggeredBy),
	})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, ChannelStageChanged, payload).Err()
}
