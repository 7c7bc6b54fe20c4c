// Package analytics records run outcome counters in Redis, bucketed by
// time window. Counters feed dashboards; losing them never affects runs.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/han0110/zkevm-chain/internal/domain"
)

type Config struct {
	// Window is the counter bucket size. Default: 1 hour.
	Window time.Duration
	// Retention is how long counters live. Default: 30 days.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:    time.Hour,
		Retention: 30 * 24 * time.Hour,
	}
}

type RedisSink struct {
	client *redis.Client
	config Config
}

func NewRedisSink(client *redis.Client, config Config) *RedisSink {
	if config.Window == 0 {
		config.Window = time.Hour
	}
	if config.Retention == 0 {
		config.Retention = 30 * 24 * time.Hour
	}
	return &RedisSink{client: client, config: config}
}

// Record counts a finished run. Fire-and-forget: failures are logged,
// never propagated.
func (s *RedisSink) Record(ctx context.Context, run domain.PipelineRun) {
	if !run.Status.Terminal() {
		return
	}

	keys := []string{
		outcomeKey(string(run.Status), run.FinishedAt, s.config.Window),
		groupKey(string(run.GroupKey), string(run.Status), run.FinishedAt, s.config.Window),
	}
	if run.Status == domain.RunStatusFailed && run.FailedStage != "" {
		keys = append(keys, stageFailureKey(run.FailedStage, run.FinishedAt, s.config.Window))
	}

	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, s.config.Retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: run=%s redis pipeline: %v", run.ID, err)
	}
}

func outcomeKey(status string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("autogen:runs:%s:%s", status, truncateToBucket(t, window))
}

func groupKey(group, status string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("autogen:g:%s:%s:%s", group, status, truncateToBucket(t, window))
}

func stageFailureKey(stage string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("autogen:stage:%s:failed:%s", stage, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case time.Hour:
		return t.Format("2006010215")
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Truncate(window).Format("200601021504")
	}
}
