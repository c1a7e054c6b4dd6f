// Package report assembles the human-readable outputs of a run: image
// artifacts, a Markdown README and the JSON dashboard document.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/orbital-sentry/internal/common"
	"github.com/i474232898/orbital-sentry/internal/imagery"
	"github.com/i474232898/orbital-sentry/internal/sentry"
)

const (
	imagesDir     = "images"
	readmeName    = "README.md"
	dashboardName = "satellite_data.json"
)

//go:embed readme.md.tmpl
var readmeTemplate string

var readmeTmpl = template.Must(template.New("readme").Parse(readmeTemplate))

var _ sentry.Publisher = (*Writer)(nil)

// Writer publishes run reports into an output directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Entry is one reported key as rendered in the documents.
type Entry struct {
	Key         string
	Target      string
	Name        string
	Layer       string
	Coordinates string
	BBox        string
	AreaKm2     float64
	ImagePath   string
	ArchivePath string
	DiffPath    string
	Status      string
	Note        string
	Changed     int
	Fraction    float64
	Max         uint8
	Mean        float64
	Enhancement float64
	ASCII       string
}

// ChangedPercent is Fraction as a percentage.
func (e Entry) ChangedPercent() float64 {
	return e.Fraction * 100
}

// Dashboard is the JSON document consumed by the web frontend.
type Dashboard struct {
	LastUpdated string     `json:"last_updated"`
	RunID       string     `json:"run_id"`
	Locations   []Location `json:"locations"`
}

// Location is one dashboard entry.
type Location struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Coordinates     string  `json:"coordinates"`
	Layer           string  `json:"layer"`
	ImageURL        string  `json:"image_url"`
	LatestURL       string  `json:"latest_url"`
	DiffURL         string  `json:"diff_url,omitempty"`
	Status          string  `json:"status"`
	ChangedFraction float64 `json:"changed_fraction"`
}

// Publish writes image artifacts for every reported outcome, then the README
// and dashboard. A key whose artifacts cannot be written is left out of the
// documents; an error is returned only if the documents themselves fail.
func (w *Writer) Publish(ctx context.Context, r *sentry.RunReport) error {
	entries := make([]Entry, 0, len(r.Outcomes))
	for _, o := range r.Reported() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := w.writeArtifacts(o)
		if err != nil {
			log.Error().Err(err).Str("key", o.Key.String()).Msg("failed to write report artifacts")
			continue
		}
		entries = append(entries, e)
	}

	date := r.Date.Format(time.DateOnly)

	readme, err := RenderMarkdown(r.ID, date, entries)
	if err != nil {
		return err
	}
	if err := common.WriteFileAtomic(filepath.Join(w.dir, readmeName), readme, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", readmeName, err)
	}

	dash, err := json.MarshalIndent(BuildDashboard(r.ID, date, entries), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard: %w", err)
	}
	if err := common.WriteFileAtomic(filepath.Join(w.dir, dashboardName), dash, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dashboardName, err)
	}

	log.Info().Str("run", r.ID).Str("dir", w.dir).Int("entries", len(entries)).Msg("report published")
	return nil
}

func (w *Writer) writeArtifacts(o sentry.Outcome) (Entry, error) {
	if o.Snapshot == nil {
		return Entry{}, fmt.Errorf("outcome %s has no snapshot", o.Key)
	}
	e := NewEntry(o)

	if err := common.WriteFileAtomic(filepath.Join(w.dir, filepath.FromSlash(e.ImagePath)), o.Snapshot.Raw, 0644); err != nil {
		return Entry{}, fmt.Errorf("failed to write latest image: %w", err)
	}
	// Dated copies are never pruned; they are the dashboard's history.
	if err := common.WriteFileAtomic(filepath.Join(w.dir, filepath.FromSlash(e.ArchivePath)), o.Snapshot.Raw, 0644); err != nil {
		return Entry{}, fmt.Errorf("failed to write dated image: %w", err)
	}

	if o.Diff != nil {
		png, err := imagery.EncodePNG(o.Diff.Image)
		if err != nil {
			return Entry{}, err
		}
		if err := common.WriteFileAtomic(filepath.Join(w.dir, filepath.FromSlash(e.DiffPath)), png, 0644); err != nil {
			return Entry{}, fmt.Errorf("failed to write diff map: %w", err)
		}
	}
	return e, nil
}

// NewEntry builds the document view of a reported outcome.
func NewEntry(o sentry.Outcome) Entry {
	base := o.Key.Target() + "_" + o.Key.Layer()
	e := Entry{
		Key:         o.Key.String(),
		Target:      o.Target.ID,
		Name:        o.Target.Name,
		Layer:       o.Layer.Name,
		Coordinates: o.Target.Coordinates(),
		BBox:        o.Target.BBox().String(),
		AreaKm2:     o.Target.AreaKm2(),
		Enhancement: o.Layer.Enhancement,
	}
	if o.Snapshot != nil {
		ext := imageExt(o.Snapshot.ContentType)
		e.ImagePath = path.Join(imagesDir, base+"_latest"+ext)
		e.ArchivePath = path.Join(imagesDir, base+"_"+o.Date.Format(time.DateOnly)+ext)
	}

	switch o.State {
	case sentry.StateBaselineCreated:
		e.Status = "Baseline"
		e.Note = "No reference existed for this view; this scan is now the baseline. Change detection starts with the next scan."
	case sentry.StateDiffFailed:
		e.Status = "Unavailable"
		e.Note = fmt.Sprintf("Change detection unavailable this scan: %v.", o.Err)
	case sentry.StateDiffed:
		e.DiffPath = path.Join(imagesDir, base+"_diff.png")
		e.Changed = o.Diff.Changed
		e.Fraction = o.Diff.ChangedFraction
		e.Max = o.Diff.Max
		e.Mean = o.Diff.Mean
		e.Status = "Stable"
		if o.Diff.Changed > 0 {
			e.Status = "Changed"
		}
	}

	if o.ASCII != nil {
		e.ASCII = o.ASCII.String()
	}
	return e
}

// RenderMarkdown renders the README document.
func RenderMarkdown(runID, date string, entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	err := readmeTmpl.Execute(&buf, struct {
		RunID   string
		Date    string
		Entries []Entry
	}{runID, date, entries})
	if err != nil {
		return nil, fmt.Errorf("failed to render readme: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildDashboard builds the dashboard document.
func BuildDashboard(runID, date string, entries []Entry) Dashboard {
	d := Dashboard{LastUpdated: date, RunID: runID, Locations: make([]Location, 0, len(entries))}
	for _, e := range entries {
		loc := Location{
			ID:              e.Target,
			Name:            e.Name,
			Coordinates:     e.Coordinates,
			Layer:           e.Layer,
			ImageURL:        "/" + e.ArchivePath,
			LatestURL:       "/" + e.ImagePath,
			Status:          e.Status,
			ChangedFraction: e.Fraction,
		}
		if e.DiffPath != "" {
			loc.DiffURL = "/" + e.DiffPath
		}
		d.Locations = append(d.Locations, loc)
	}
	return d
}

func imageExt(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return ".jpg"
	case strings.Contains(ct, "tiff"):
		return ".tif"
	case strings.Contains(ct, "gif"):
		return ".gif"
	default:
		return ".png"
	}
}
