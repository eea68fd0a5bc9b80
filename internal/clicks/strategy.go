package clicks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Queue lanes shared by the accounting strategy and the batch processor.
const (
	LaneClicks = "clicks"
	LaneFlush  = "flush"
)

// Mode selects how click events are durably recorded. It is chosen once
// at startup from configuration.
type Mode string

const (
	// ModeDisabled persists no click events. Counters are incremented
	// only for links without a click limit.
	ModeDisabled Mode = "disabled"
	// ModeQueued hands every event to the durable job queue. Safe
	// default.
	ModeQueued Mode = "queued"
	// ModeBatched buffers events in Redis and flushes them in bulk.
	ModeBatched Mode = "batched"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDisabled, ModeQueued, ModeBatched:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown click accounting mode: %q", s)
}

type Counter interface {
	IncrementClickCount(ctx context.Context, linkID int64) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, lane string, payload interface{}) error
}

type Buffer interface {
	Push(ctx context.Context, payload []byte) error
	IncrLive(ctx context.Context, linkID int64) error
	Len(ctx context.Context) (int64, error)
}

type Mirror interface {
	Enabled() bool
	Send(ctx context.Context, ev Event) error
}

// Accountant records click events according to the configured mode and
// keeps link counters correct in all of them. Click-limited links always
// get an immediate atomic increment; their counter may never lag behind
// served redirects by more than the in-flight requests.
type Accountant struct {
	mode      Mode
	counter   Counter
	queue     Enqueuer
	buffer    Buffer
	mirror    Mirror
	threshold int64
	log       *zerolog.Logger
}

func NewAccountant(mode Mode, counter Counter, queue Enqueuer, buffer Buffer, mirror Mirror, threshold int64, log *zerolog.Logger) *Accountant {
	if threshold <= 0 {
		threshold = 100
	}
	return &Accountant{
		mode:      mode,
		counter:   counter,
		queue:     queue,
		buffer:    buffer,
		mirror:    mirror,
		threshold: threshold,
		log:       log,
	}
}

func (a *Accountant) Mode() Mode {
	return a.mode
}

// Record accounts for one served redirect. It never returns an error to
// the redirect path; all failures are logged and absorbed here because
// click tracking must not degrade redirect availability.
func (a *Accountant) Record(ctx context.Context, ev Event) {
	a.dispatchMirror(ev)

	switch a.mode {
	case ModeDisabled:
		// Limited links are skipped entirely: an unverifiable count is
		// worse than none for limit enforcement. Flagged for product
		// clarification.
		if ev.Limited {
			return
		}
		if err := a.counter.IncrementClickCount(ctx, ev.LinkID); err != nil {
			a.log.Warn().Msgf("failed to increment counter for link %d: %v", ev.LinkID, err)
		}

	case ModeQueued:
		a.recordQueued(ctx, ev)

	case ModeBatched:
		a.recordBatched(ctx, ev)
	}
}

func (a *Accountant) recordQueued(ctx context.Context, ev Event) {
	if err := a.counter.IncrementClickCount(ctx, ev.LinkID); err != nil {
		a.log.Warn().Msgf("failed to increment counter for link %d: %v", ev.LinkID, err)
	}
	if err := a.queue.Enqueue(ctx, LaneClicks, ev); err != nil {
		a.log.Error().Msgf("failed to enqueue click for link %d: %v", ev.LinkID, err)
	}
}

func (a *Accountant) recordBatched(ctx context.Context, ev Event) {
	// Limited links never participate in coalesced batch increments; the
	// exact increment happens here, up front.
	if ev.Limited {
		if err := a.counter.IncrementClickCount(ctx, ev.LinkID); err != nil {
			a.log.Warn().Msgf("failed to increment counter for limited link %d: %v", ev.LinkID, err)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		a.log.Error().Msgf("failed to encode click for link %d: %v", ev.LinkID, err)
		return
	}

	if err := a.buffer.Push(ctx, payload); err != nil {
		// Buffer backend unreachable: fall back to the durable queue for
		// this event instead of dropping it.
		a.log.Warn().Msgf("pending buffer unavailable, falling back to queue: %v", err)
		if !ev.Limited {
			if err := a.counter.IncrementClickCount(ctx, ev.LinkID); err != nil {
				a.log.Warn().Msgf("failed to increment counter for link %d: %v", ev.LinkID, err)
			}
		}
		if err := a.queue.Enqueue(ctx, LaneClicks, ev); err != nil {
			a.log.Error().Msgf("failed to enqueue click for link %d after buffer fallback: %v", ev.LinkID, err)
		}
		return
	}

	if !ev.Limited {
		if err := a.buffer.IncrLive(ctx, ev.LinkID); err != nil {
			a.log.Warn().Msgf("failed to increment live counter for link %d: %v", ev.LinkID, err)
		}
	}

	n, err := a.buffer.Len(ctx)
	if err != nil {
		a.log.Warn().Msgf("failed to read pending buffer length: %v", err)
		return
	}
	if n > 0 && n%a.threshold == 0 {
		if err := a.queue.Enqueue(ctx, LaneFlush, flushSignal{}); err != nil {
			a.log.Error().Msgf("failed to schedule batch flush: %v", err)
		}
	}
}

// dispatchMirror forwards the event to the external analytics sink,
// fire-and-forget. The mirror applies its own bounded retry; failures are
// logged here and go no further.
func (a *Accountant) dispatchMirror(ev Event) {
	if a.mirror == nil || !a.mirror.Enabled() {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.log.Error().Msgf("panic in analytics mirror dispatch: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.mirror.Send(ctx, ev); err != nil {
			a.log.Warn().Msgf("analytics mirror failed for link %d: %v", ev.LinkID, err)
		}
	}()
}

type flushSignal struct{}
