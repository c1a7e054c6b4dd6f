package sentry

import (
	"time"

	"github.com/i474232898/orbital-sentry/internal/imagery"
)

// State is a per-key pipeline state. Every state except fetching and
// fetched is terminal for the run.
type State string

const (
	StateFetching        State = "fetching"
	StateFetched         State = "fetched"
	StateFetchFailed     State = "fetch_failed"
	StateBaselineCreated State = "baseline_created"
	StateDiffed          State = "diffed"
	StateDiffFailed      State = "diff_failed"
	StateStorageFailed   State = "storage_failed"
	StateAbandoned       State = "abandoned"
	StateRejected        State = "rejected"
)

// Reported reports whether outcomes in this state belong in the report.
func (s State) Reported() bool {
	switch s {
	case StateBaselineCreated, StateDiffed, StateDiffFailed:
		return true
	default:
		return false
	}
}

// Outcome is what happened to one key during one run.
type Outcome struct {
	Key    Key
	Target Target
	Layer  Layer
	Date   time.Time
	State  State

	// Snapshot is set once the key reached fetched.
	Snapshot *Snapshot
	// Diff is set only in StateDiffed.
	Diff *imagery.Diff
	// ASCII is set when rendering was requested for a fetched key.
	ASCII *imagery.ASCIIGrid

	Err error
}

// RunReport collects the outcomes of one run in plan order.
type RunReport struct {
	ID         string
	Date       time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
}

// Reported returns the outcomes that belong in the report, in plan order.
func (r *RunReport) Reported() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.State.Reported() {
			out = append(out, o)
		}
	}
	return out
}

// Outcome returns the outcome for key, if the run has one.
func (r *RunReport) Outcome(key Key) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Key == key {
			return o, true
		}
	}
	return Outcome{}, false
}

// Counts tallies outcomes by state.
func (r *RunReport) Counts() map[State]int {
	counts := make(map[State]int)
	for _, o := range r.Outcomes {
		counts[o.State]++
	}
	return counts
}

// OutcomeSummary is the JSON view of an Outcome.
type OutcomeSummary struct {
	Key         string  `json:"key"`
	Target      string  `json:"target"`
	Name        string  `json:"name"`
	Layer       string  `json:"layer"`
	Coordinates string  `json:"coordinates"`
	BBox        BBox    `json:"bbox"`
	Date        string  `json:"date"`
	State       State   `json:"state"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	HasDiff     bool    `json:"hasDiff"`
	Changed     int     `json:"changedPixels,omitempty"`
	Fraction    float64 `json:"changedFraction,omitempty"`
	MaxChange   uint8   `json:"maxChange,omitempty"`
	MeanChange  float64 `json:"meanChange,omitempty"`
	ASCII       bool    `json:"asciiAvailable"`
	Error       string  `json:"error,omitempty"`
}

// Summary flattens the outcome for JSON output.
func (o Outcome) Summary() OutcomeSummary {
	s := OutcomeSummary{
		Key:         o.Key.String(),
		Target:      o.Target.ID,
		Name:        o.Target.Name,
		Layer:       o.Layer.Name,
		Coordinates: o.Target.Coordinates(),
		BBox:        o.Target.BBox(),
		Date:        o.Date.Format(time.DateOnly),
		State:       o.State,
		HasDiff:     o.Diff != nil,
		ASCII:       o.ASCII != nil && o.ASCII.Available,
	}
	if o.Snapshot != nil {
		size := o.Snapshot.Size()
		s.Width, s.Height = size.X, size.Y
	}
	if o.Diff != nil {
		s.Changed = o.Diff.Changed
		s.Fraction = o.Diff.ChangedFraction
		s.MaxChange = o.Diff.Max
		s.MeanChange = o.Diff.Mean
	}
	if o.Err != nil {
		s.Error = o.Err.Error()
	}
	return s
}

// RunSummary is the JSON view of a RunReport.
type RunSummary struct {
	ID         string           `json:"id"`
	Date       string           `json:"date"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Counts     map[State]int    `json:"counts"`
	Outcomes   []OutcomeSummary `json:"outcomes"`
}

// Summary flattens the report for JSON output.
func (r *RunReport) Summary() RunSummary {
	s := RunSummary{
		ID:         r.ID,
		Date:       r.Date.Format(time.DateOnly),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Counts:     r.Counts(),
		Outcomes:   make([]OutcomeSummary, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		s.Outcomes = append(s.Outcomes, o.Summary())
	}
	return s
}
