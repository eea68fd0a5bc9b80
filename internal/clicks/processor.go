package clicks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"linkhub/internal/repo"
)

type ClickStore interface {
	CreateClick(ctx context.Context, click repo.ClickEntity) error
	BulkInsertClicks(ctx context.Context, clicks []repo.ClickEntity) error
	BatchIncrementClickCounts(ctx context.Context, counts map[int64]int64) error
}

type DrainBuffer interface {
	Pop(ctx context.Context) ([]byte, error)
	Requeue(ctx context.Context, payloads [][]byte) error
	DecrLive(ctx context.Context, linkID int64, n int64) error
}

type Geo interface {
	Available() bool
	Lookup(ip string) (country, city string)
}

type Scheduler interface {
	EnqueueAfter(ctx context.Context, lane string, payload interface{}, delay time.Duration) error
}

// Processor drains the pending buffer in bounded slices, enriches the
// events, bulk-persists them and reconciles per-link counters.
//
// The drain is pop-then-persist: a crash between the pop and the bulk
// insert loses that slice. A failed insert requeues the slice, which
// softens but does not close the window. Accepted at-most-once tradeoff.
type Processor struct {
	buffer    DrainBuffer
	store     ClickStore
	geo       Geo
	sched     Scheduler
	batchSize int
	followUp  time.Duration
	log       *zerolog.Logger
}

func NewProcessor(buffer DrainBuffer, store ClickStore, geo Geo, sched Scheduler, batchSize int, followUp time.Duration, log *zerolog.Logger) *Processor {
	if batchSize <= 0 {
		batchSize = 100
	}
	if followUp <= 0 {
		followUp = 5 * time.Second
	}
	return &Processor{
		buffer:    buffer,
		store:     store,
		geo:       geo,
		sched:     sched,
		batchSize: batchSize,
		followUp:  followUp,
		log:       log,
	}
}

// Run drains up to one batch and returns how many entries were taken off
// the buffer. A full batch suggests more data is pending; the caller
// decides whether to schedule a follow-up run.
func (p *Processor) Run(ctx context.Context) (int, error) {
	var (
		raw    [][]byte
		events []Event
	)

	for len(raw) < p.batchSize {
		payload, err := p.buffer.Pop(ctx)
		if err != nil {
			return len(raw), err
		}
		if payload == nil {
			break
		}
		raw = append(raw, payload)

		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			p.log.Warn().Msgf("dropping undecodable pending click: %v", err)
			continue
		}
		events = append(events, ev)
	}

	if len(raw) == 0 {
		return 0, nil
	}

	entities := make([]repo.ClickEntity, 0, len(events))
	for i := range events {
		p.enrich(&events[i])
		entities = append(entities, events[i].ToEntity())
	}

	if err := p.store.BulkInsertClicks(ctx, entities); err != nil {
		p.log.Error().Msgf("bulk insert of %d clicks failed, requeueing: %v", len(entities), err)
		if reqErr := p.buffer.Requeue(ctx, raw); reqErr != nil {
			p.log.Error().Msgf("failed to requeue %d clicks, slice lost: %v", len(raw), reqErr)
		}
		return 0, err
	}

	// Limited links were incremented exactly at click time; only
	// unlimited links take coalesced increments here.
	counts := make(map[int64]int64)
	for _, ev := range events {
		if ev.Limited {
			continue
		}
		counts[ev.LinkID]++
	}
	if len(counts) > 0 {
		if err := p.store.BatchIncrementClickCounts(ctx, counts); err != nil {
			// Events are already durable; counters catch up on a later
			// reconcile. Not a run failure.
			p.log.Warn().Msgf("batch counter increment failed: %v", err)
		} else {
			for linkID, n := range counts {
				if err := p.buffer.DecrLive(ctx, linkID, n); err != nil {
					p.log.Warn().Msgf("failed to settle live counter for link %d: %v", linkID, err)
				}
			}
		}
	}

	return len(raw), nil
}

// HandleFlush is the queue handler for the flush lane. It runs one drain
// and schedules exactly one follow-up when the drain filled the whole
// batch. The follow-up goes through the queue rather than recursing, so
// termination stays externally bounded.
func (p *Processor) HandleFlush(ctx context.Context, _ []byte) error {
	drained, err := p.Run(ctx)
	if err != nil {
		return err
	}

	if drained == p.batchSize && p.sched != nil {
		if err := p.sched.EnqueueAfter(ctx, LaneFlush, flushSignal{}, p.followUp); err != nil {
			p.log.Error().Msgf("failed to schedule follow-up flush: %v", err)
		}
	}
	return nil
}

// HandleClick is the queue handler for the durable clicks lane: one event
// per job, enriched and persisted individually.
func (p *Processor) HandleClick(ctx context.Context, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		p.log.Error().Msgf("dropping undecodable click job: %v", err)
		return nil
	}

	p.enrich(&ev)
	return p.store.CreateClick(ctx, ev.ToEntity())
}

func (p *Processor) enrich(ev *Event) {
	if ev.Country != "" || ev.IP == "" {
		return
	}
	if p.geo == nil || !p.geo.Available() {
		return
	}
	ev.Country, ev.City = p.geo.Lookup(ev.IP)
}
