package sentry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/orbital-sentry/internal/imagery"
)

// Service orchestrates acquisition, baseline bookkeeping, diffing and rendering
// for every key of a plan.
type Service struct {
	source     ImageSource
	baselines  BaselineStore
	runs       RunStore
	publishers []Publisher
	now        func() time.Time
}

// NewService creates a new Service.
func NewService(source ImageSource, baselines BaselineStore, runs RunStore, publishers ...Publisher) *Service {
	return &Service{
		source:     source,
		baselines:  baselines,
		runs:       runs,
		publishers: publishers,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run processes every key of plan for the given capture date. Keys are
// independent: a failure is recorded in that key's Outcome and never aborts
// the run. If ctx is done, keys that have not finished are abandoned.
func (s *Service) Run(ctx context.Context, plan Plan, date time.Time) *RunReport {
	date = Day(date)
	jobs := plan.jobs()
	report := &RunReport{
		ID:        uuid.NewString(),
		Date:      date,
		StartedAt: s.now(),
		Outcomes:  make([]Outcome, len(jobs)),
	}

	log.Info().Str("run", report.ID).Str("date", date.Format(time.DateOnly)).Int("keys", len(jobs)).Msg("run started")

	workers := plan.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	next := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				report.Outcomes[i] = s.processKey(ctx, plan, jobs[i], date)
			}
		}()
	}
	for i := range jobs {
		next <- i
	}
	close(next)
	wg.Wait()

	report.FinishedAt = s.now()

	ev := log.Info().Str("run", report.ID).Dur("elapsed", report.FinishedAt.Sub(report.StartedAt))
	for state, n := range report.Counts() {
		ev = ev.Int(string(state), n)
	}
	ev.Msg("run completed")

	return report
}

// Scan runs the plan, records the report and hands it to every publisher.
// Publisher failures are joined into the returned error; the report is
// recorded regardless. Publishing is detached from ctx's deadline so keys
// that finished before it elapsed are still reported.
func (s *Service) Scan(ctx context.Context, plan Plan, date time.Time) (*RunReport, error) {
	report := s.Run(ctx, plan, date)
	if s.runs != nil {
		s.runs.SaveRun(report)
	}

	pubCtx := context.WithoutCancel(ctx)
	var errs []error
	for _, p := range s.publishers {
		if err := p.Publish(pubCtx, report); err != nil {
			log.Error().Err(err).Str("run", report.ID).Msg("failed to publish report")
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

func (s *Service) processKey(ctx context.Context, plan Plan, j job, date time.Time) Outcome {
	out := Outcome{Key: j.key, Target: j.target, Layer: j.layer, Date: date, State: StateFetching}
	logger := log.With().Str("key", j.key.String()).Logger()

	if j.err != nil {
		out.State, out.Err = StateRejected, j.err
		logger.Error().Err(j.err).Str("target", j.target.ID).Str("layer", j.layer.Name).Msg("key rejected")
		return out
	}
	if err := ctx.Err(); err != nil {
		out.State, out.Err = StateAbandoned, err
		return out
	}

	snap, err := s.fetch(ctx, j, date)
	if err != nil {
		out.Err = err
		if ctx.Err() != nil {
			out.State = StateAbandoned
			return out
		}
		out.State = StateFetchFailed
		logger.Warn().Err(err).Msg("fetch failed; skipping key for this run")
		return out
	}
	out.State, out.Snapshot = StateFetched, snap

	if plan.ASCIIWidth > 0 {
		grid := imagery.RenderASCII(snap.Image, plan.ASCIIWidth)
		if !grid.Available {
			logger.Debug().Str("reason", grid.Reason).Msg("ascii rendering unavailable")
		}
		out.ASCII = &grid
	}

	if err := ctx.Err(); err != nil {
		out.State, out.Err = StateAbandoned, err
		return out
	}

	ref, created, err := s.baselines.EnsureReference(ctx, j.key, *snap)
	if err != nil {
		out.Err = err
		if ctx.Err() != nil {
			out.State = StateAbandoned
			return out
		}
		out.State = StateStorageFailed
		logger.Error().Err(err).Msg("baseline unavailable")
		return out
	}
	if created {
		out.State = StateBaselineCreated
		logger.Info().Msg("no reference found; baseline created")
		return out
	}

	diff, err := imagery.ComputeDiff(ref.Image, snap.Image, j.layer.Enhancement)
	if err != nil {
		out.State, out.Err = StateDiffFailed, err
		logger.Error().Err(err).Msg("diff failed")
		return out
	}
	out.State, out.Diff = StateDiffed, diff
	logger.Info().Int("changed", diff.Changed).Float64("fraction", diff.ChangedFraction).Msg("diff computed")
	return out
}

func (s *Service) fetch(ctx context.Context, j job, date time.Time) (*Snapshot, error) {
	req := FetchRequest{
		Key:    j.key,
		Target: j.target,
		Layer:  j.layer,
		BBox:   j.target.BBox(),
		Width:  j.layer.Width,
		Height: j.layer.Height,
		Date:   date,
	}

	raw, contentType, err := s.source.Fetch(ctx, req)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			if fe.Key.IsZero() {
				fe.Key = j.key
			}
			return nil, err
		}
		kind := FetchTransport
		if ctx.Err() != nil {
			kind = FetchCanceled
		}
		return nil, &FetchError{Key: j.key, Kind: kind, Err: err}
	}

	img, _, err := imagery.Decode(raw)
	if err != nil {
		return nil, &FetchError{Key: j.key, Kind: FetchUndecodable, Err: err}
	}

	return &Snapshot{
		Key:         j.key,
		Date:        date,
		ContentType: contentType,
		Raw:         raw,
		Image:       img,
	}, nil
}

// LatestRun delegates to the underlying run store.
func (s *Service) LatestRun() (*RunReport, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("no run store configured")
	}
	return s.runs.Latest()
}

// RunsBetween delegates to the underlying run store.
func (s *Service) RunsBetween(from, to time.Time) ([]*RunReport, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("no run store configured")
	}
	return s.runs.Range(from, to)
}

// LatestOutcome delegates to the underlying run store.
func (s *Service) LatestOutcome(key Key) (Outcome, error) {
	if s.runs == nil {
		return Outcome{}, fmt.Errorf("no run store configured")
	}
	return s.runs.LatestOutcome(key)
}
