package sentry_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/orbital-sentry/internal/imagery"
	"github.com/i474232898/orbital-sentry/internal/report"
	"github.com/i474232898/orbital-sentry/internal/sentry"
	"github.com/i474232898/orbital-sentry/internal/store"
)

// fakeSource serves queued payloads per key and records requests.
type fakeSource struct {
	mu       sync.Mutex
	payloads map[string][][]byte
	errs     map[string]error
	requests []sentry.FetchRequest
}

func newFakeSource() *fakeSource {
	return &fakeSource{payloads: map[string][][]byte{}, errs: map[string]error{}}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) queue(key string, raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[key] = append(f.payloads[key], raw)
}

func (f *fakeSource) Fetch(ctx context.Context, req sentry.FetchRequest) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	k := req.Key.String()
	if err := f.errs[k]; err != nil {
		return nil, "", err
	}
	q := f.payloads[k]
	if len(q) == 0 {
		return nil, "", &sentry.FetchError{Key: req.Key, Kind: sentry.FetchStatus, StatusCode: 404}
	}
	raw := q[0]
	f.payloads[k] = q[1:]
	return raw, "image/png", nil
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	raw, err := imagery.EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	return raw
}

func fill(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func testPlan(targets ...string) sentry.Plan {
	plan := sentry.Plan{
		Layers: []sentry.Layer{{
			Name:        "night",
			ProviderID:  "VIIRS_SNPP_DayNightBand_ENCC",
			Format:      "image/png",
			Width:       40,
			Height:      40,
			Enhancement: 5,
		}},
		ASCIIWidth: 20,
	}
	for _, id := range targets {
		plan.Targets = append(plan.Targets, sentry.Target{ID: id, Name: id, Lat: 6.5, Lon: 3.4, Zoom: 0.1})
	}
	return plan
}

func newService(t *testing.T, src sentry.ImageSource) (*sentry.Service, *store.MemoryStore) {
	t.Helper()
	baselines, err := store.NewFileBaselineStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBaselineStore: %v", err)
	}
	runs := store.NewMemoryStore(10, 0)
	return sentry.NewService(src, baselines, runs), runs
}

func TestRunTwoRunsDetectsCornerChange(t *testing.T) {
	const factor = 5.0
	x := fill(40, 40, color.NRGBA{R: 30, G: 40, B: 50, A: 0xff})
	y := fill(40, 40, color.NRGBA{R: 30, G: 40, B: 50, A: 0xff})
	for py := 0; py < 10; py++ {
		for px := 0; px < 10; px++ {
			y.SetNRGBA(px, py, color.NRGBA{R: 60, G: 20, B: 150, A: 0xff})
		}
	}

	src := newFakeSource()
	src.queue("lagos/night", encode(t, x))
	src.queue("lagos/night", encode(t, y))
	svc, _ := newService(t, src)
	plan := testPlan("lagos")
	ctx := context.Background()

	first := svc.Run(ctx, plan, time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC))
	if len(first.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(first.Outcomes))
	}
	if o := first.Outcomes[0]; o.State != sentry.StateBaselineCreated || o.Diff != nil {
		t.Fatalf("run 1: state %q diff %v, want baseline_created with no diff", o.State, o.Diff)
	}

	second := svc.Run(ctx, plan, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC))
	o := second.Outcomes[0]
	if o.State != sentry.StateDiffed || o.Diff == nil {
		t.Fatalf("run 2: state %q err %v, want diffed", o.State, o.Err)
	}

	want := color.NRGBA{R: 150, G: 100, B: 255, A: 0xff} // |30-60|*5, |40-20|*5, clamp(|50-150|*5)
	d := o.Diff.Image
	for py := 0; py < 40; py++ {
		for px := 0; px < 40; px++ {
			got := d.NRGBAAt(px, py)
			if px < 10 && py < 10 {
				if got != want {
					t.Fatalf("(%d,%d) = %v, want %v", px, py, got, want)
				}
			} else if got.R != 0 || got.G != 0 || got.B != 0 {
				t.Fatalf("(%d,%d) = %v, want zero", px, py, got)
			}
		}
	}
	if o.Diff.Changed != 100 {
		t.Errorf("changed = %d, want 100", o.Diff.Changed)
	}
	if o.ASCII == nil || !o.ASCII.Available || len(o.ASCII.Lines[0]) != 20 {
		t.Errorf("expected a 20-column ascii grid, got %+v", o.ASCII)
	}
}

func TestRunKeysAreIndependent(t *testing.T) {
	img := encode(t, fill(40, 40, color.NRGBA{R: 1, A: 0xff}))
	src := newFakeSource()
	src.queue("lagos/night", img)
	src.queue("delta/night", []byte("<html>oops</html>"))
	src.errs["tokyo/night"] = errors.New("connection reset")

	svc, _ := newService(t, src)
	run := svc.Run(context.Background(), testPlan("lagos", "tokyo", "delta"), time.Now())

	states := map[string]sentry.State{}
	for _, o := range run.Outcomes {
		states[o.Key.String()] = o.State
	}
	if states["lagos/night"] != sentry.StateBaselineCreated {
		t.Errorf("lagos: %q", states["lagos/night"])
	}
	if states["tokyo/night"] != sentry.StateFetchFailed {
		t.Errorf("tokyo: %q", states["tokyo/night"])
	}
	if states["delta/night"] != sentry.StateFetchFailed {
		t.Errorf("delta: %q", states["delta/night"])
	}

	for _, o := range run.Outcomes {
		if o.State != sentry.StateFetchFailed {
			continue
		}
		var fe *sentry.FetchError
		if !errors.As(o.Err, &fe) {
			t.Errorf("%s: expected FetchError, got %v", o.Key, o.Err)
		}
	}
	if reported := run.Reported(); len(reported) != 1 || reported[0].Key.String() != "lagos/night" {
		t.Errorf("reported = %d outcomes", len(reported))
	}
}

func TestRunUndecodablePayloadIsFetchFailure(t *testing.T) {
	src := newFakeSource()
	src.queue("lagos/night", []byte("definitely not an image"))
	svc, _ := newService(t, src)

	o := svc.Run(context.Background(), testPlan("lagos"), time.Now()).Outcomes[0]
	var fe *sentry.FetchError
	if !errors.As(o.Err, &fe) || fe.Kind != sentry.FetchUndecodable {
		t.Fatalf("expected undecodable FetchError, got %v", o.Err)
	}
}

func TestRunDimensionMismatch(t *testing.T) {
	src := newFakeSource()
	src.queue("lagos/night", encode(t, fill(40, 40, color.NRGBA{A: 0xff})))
	src.queue("lagos/night", encode(t, fill(80, 80, color.NRGBA{A: 0xff})))
	svc, _ := newService(t, src)
	plan := testPlan("lagos")

	svc.Run(context.Background(), plan, time.Now())
	o := svc.Run(context.Background(), plan, time.Now()).Outcomes[0]

	if o.State != sentry.StateDiffFailed {
		t.Fatalf("state = %q, want diff_failed", o.State)
	}
	var mismatch *imagery.DimensionMismatchError
	if !errors.As(o.Err, &mismatch) {
		t.Errorf("expected DimensionMismatchError, got %v", o.Err)
	}
	if o.Snapshot == nil || o.Diff != nil {
		t.Error("expected snapshot without diff")
	}
	if !o.State.Reported() {
		t.Error("diff_failed keys are still reported")
	}
}

func TestRunCanceledContextAbandonsKeys(t *testing.T) {
	src := newFakeSource()
	src.queue("lagos/night", encode(t, fill(40, 40, color.NRGBA{A: 0xff})))
	svc, _ := newService(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := svc.Run(ctx, testPlan("lagos"), time.Now()).Outcomes[0]
	if o.State != sentry.StateAbandoned {
		t.Fatalf("state = %q, want abandoned", o.State)
	}
	if len(src.requests) != 0 {
		t.Errorf("expected no fetch after cancellation, got %d", len(src.requests))
	}
}

func TestRunRejectsInvalidKeys(t *testing.T) {
	src := newFakeSource()
	svc, _ := newService(t, src)
	plan := testPlan("Bad/ID")

	o := svc.Run(context.Background(), plan, time.Now()).Outcomes[0]
	if o.State != sentry.StateRejected || !errors.Is(o.Err, sentry.ErrInvalidKey) {
		t.Fatalf("state = %q err = %v", o.State, o.Err)
	}
}

func TestRunConcurrentKeepsPlanOrder(t *testing.T) {
	src := newFakeSource()
	ids := []string{"a1", "b2", "c3", "d4", "e5", "f6"}
	for _, id := range ids {
		src.queue(id+"/night", encode(t, fill(40, 40, color.NRGBA{G: 9, A: 0xff})))
	}
	svc, _ := newService(t, src)
	plan := testPlan(ids...)
	plan.Concurrency = 4

	run := svc.Run(context.Background(), plan, time.Now())
	for i, o := range run.Outcomes {
		if o.Key.Target() != ids[i] {
			t.Errorf("outcome %d is %s, want %s", i, o.Key, ids[i])
		}
		if o.State != sentry.StateBaselineCreated {
			t.Errorf("%s: state %q", o.Key, o.State)
		}
	}
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(ctx context.Context, r *sentry.RunReport) error {
	p.calls++
	return errors.New("disk full")
}

func TestScanRecordsAndPublishes(t *testing.T) {
	src := newFakeSource()
	src.queue("lagos/night", encode(t, fill(40, 40, color.NRGBA{A: 0xff})))
	baselines, err := store.NewFileBaselineStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBaselineStore: %v", err)
	}
	runs := store.NewMemoryStore(10, 0)
	pub := &failingPublisher{}
	svc := sentry.NewService(src, baselines, runs, pub)

	run, err := svc.Scan(context.Background(), testPlan("lagos"), time.Now())
	if err == nil {
		t.Error("expected publisher error to surface")
	}
	if pub.calls != 1 {
		t.Errorf("publisher calls = %d", pub.calls)
	}

	latest, lerr := svc.LatestRun()
	if lerr != nil || latest.ID != run.ID {
		t.Fatalf("LatestRun = %v, %v", latest, lerr)
	}

	key, _ := sentry.NewKey("lagos", "night")
	o, oerr := svc.LatestOutcome(key)
	if oerr != nil || o.State != sentry.StateBaselineCreated {
		t.Errorf("LatestOutcome = %q, %v", o.State, oerr)
	}
}

// slowSource blocks every key of target slow until the request context ends.
type slowSource struct {
	*fakeSource
	slow string
}

func (s *slowSource) Fetch(ctx context.Context, req sentry.FetchRequest) ([]byte, string, error) {
	if req.Key.Target() == s.slow {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	return s.fakeSource.Fetch(ctx, req)
}

func TestScanPublishesFinishedKeysAfterDeadline(t *testing.T) {
	src := &slowSource{fakeSource: newFakeSource(), slow: "slow"}
	src.queue("fast/night", encode(t, fill(40, 40, color.NRGBA{R: 10, A: 0xff})))

	baselines, err := store.NewFileBaselineStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBaselineStore: %v", err)
	}
	outDir := t.TempDir()
	svc := sentry.NewService(src, baselines, store.NewMemoryStore(10, 0), report.NewWriter(outDir))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r, err := svc.Scan(ctx, testPlan("fast", "slow"), time.Now())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := r.Outcomes[0].State; got != sentry.StateBaselineCreated {
		t.Errorf("fast/night state = %q, want baseline_created", got)
	}
	if got := r.Outcomes[1].State; got != sentry.StateAbandoned {
		t.Errorf("slow/night state = %q, want abandoned", got)
	}

	readme, err := os.ReadFile(filepath.Join(outDir, "README.md"))
	if err != nil {
		t.Fatalf("expected README after deadline: %v", err)
	}
	if !strings.Contains(string(readme), "## fast · night") {
		t.Errorf("finished key missing from README:\n%s", readme)
	}
	if strings.Contains(string(readme), "## slow") {
		t.Errorf("abandoned key should not be reported")
	}
	if _, err := os.Stat(filepath.Join(outDir, "satellite_data.json")); err != nil {
		t.Errorf("expected dashboard after deadline: %v", err)
	}
}
