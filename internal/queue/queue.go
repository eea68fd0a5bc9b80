package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
)

// Queue is a Redis-list job queue with named lanes. Producers RPUSH JSON
// payloads; one worker goroutine per lane BLPOPs and runs the handler
// under a bounded retry strategy. Jobs that exhaust their retries are
// logged as permanently failed and dropped; click tracking is not
// availability-critical.
type Queue struct {
	rdb *redis.Client
	log *zerolog.Logger
}

func New(rdb *redis.Client, log *zerolog.Logger) *Queue {
	return &Queue{
		rdb: rdb,
		log: log,
	}
}

type Handler func(ctx context.Context, payload []byte) error

func (q *Queue) Enqueue(ctx context.Context, lane string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}
	if err := q.rdb.Client.RPush(ctx, laneKey(lane), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job on lane %s: %w", lane, err)
	}
	return nil
}

// EnqueueAfter schedules a job after a delay. The timer lives in this
// process; a restart during the delay drops the job, which the flush lane
// tolerates (the next threshold crossing reschedules it).
func (q *Queue) EnqueueAfter(ctx context.Context, lane string, payload interface{}, delay time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}
	if delay <= 0 {
		if err := q.rdb.Client.RPush(ctx, laneKey(lane), data).Err(); err != nil {
			return fmt.Errorf("failed to enqueue job on lane %s: %w", lane, err)
		}
		return nil
	}

	time.AfterFunc(delay, func() {
		pushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.rdb.Client.RPush(pushCtx, laneKey(lane), data).Err(); err != nil {
			q.log.Error().Msgf("failed to enqueue delayed job on lane %s: %v", lane, err)
		}
	})
	return nil
}

// Worker consumes one lane until the context is cancelled. Each job runs
// through retry.Do with the given strategy; per-job ordering is preserved
// but cross-job ordering is not guaranteed once retries interleave with
// other workers.
func (q *Queue) Worker(ctx context.Context, lane string, handler Handler, strat retry.Strategy) {
	key := laneKey(lane)
	q.log.Info().Msgf("queue worker started on lane %s", lane)

	for {
		select {
		case <-ctx.Done():
			q.log.Info().Msgf("queue worker on lane %s stopped", lane)
			return
		default:
		}

		res, err := q.rdb.Client.BLPop(ctx, time.Second, key).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				q.log.Info().Msgf("queue worker on lane %s stopped", lane)
				return
			}
			q.log.Warn().Msgf("failed to pop job on lane %s: %v", lane, err)
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}

		payload := []byte(res[1])
		if err := retry.Do(func() error {
			return handler(ctx, payload)
		}, strat); err != nil {
			q.log.Error().Msgf("job on lane %s permanently failed, dropping: %v", lane, err)
		}
	}
}

func laneKey(lane string) string {
	return "queue:" + lane
}
