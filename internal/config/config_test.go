package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SENTRY_PLAN_FILE", "SENTRY_LAYERS", "GIBS_WMS_URL", "HTTP_TIMEOUT",
		"SCAN_INTERVAL", "RUN_TIMEOUT", "IMAGERY_LAG_DAYS", "SCAN_CONCURRENCY",
		"ASCII_WIDTH", "BASELINE_DIR", "OUTPUT_DIR", "STORE_MAX_HISTORY",
		"STORE_MAX_AGE", "PORT", "LOG_LEVEL", "GEOCODER_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ScanInterval != 24*time.Hour || cfg.RunTimeout != 5*time.Minute || cfg.HTTPTimeout != 20*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.Port != "8080" || cfg.BaselineDir != "./data/reference" || cfg.OutputDir != "./public" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Plan.ASCIIWidth != 60 || cfg.Plan.Concurrency != 1 {
		t.Fatalf("unexpected plan settings: width=%d concurrency=%d", cfg.Plan.ASCIIWidth, cfg.Plan.Concurrency)
	}
	if got := len(cfg.Plan.Keys()); got != 9 {
		t.Fatalf("expected 3 targets x 3 layers, got %d keys", got)
	}
	night, ok := cfg.Plan.Layer("night")
	if !ok || !night.Transparent || night.Enhancement != 5.0 || night.Width != 800 || night.Height != 800 {
		t.Fatalf("unexpected night layer: %+v", night)
	}
}

func TestLoadLayerFilter(t *testing.T) {
	clearEnv(t)
	t.Setenv("SENTRY_LAYERS", "night, visual")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Plan.Layers) != 2 || cfg.Plan.Layers[0].Name != "night" || cfg.Plan.Layers[1].Name != "visual" {
		t.Fatalf("unexpected layers: %+v", cfg.Plan.Layers)
	}

	t.Setenv("SENTRY_LAYERS", "radar")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "radar") {
		t.Fatalf("expected unknown layer error, got %v", err)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("SCAN_INTERVAL", "daily")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SCAN_INTERVAL") {
		t.Fatalf("expected SCAN_INTERVAL error, got %v", err)
	}
}

func TestLoadPlanFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "plan.json")
	doc := `{
		"targets": [{"id": "cairo", "name": "Cairo", "lat": 30.04, "lon": 31.24, "zoom": 0.2, "layers": ["night"]}]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SENTRY_PLAN_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	keys := cfg.Plan.Keys()
	if len(keys) != 1 || keys[0].String() != "cairo/night" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	// Layers fall back to the defaults when the file names none.
	if len(cfg.Plan.Layers) != 3 {
		t.Fatalf("expected default layers, got %d", len(cfg.Plan.Layers))
	}
}

func TestBuildPlanRejects(t *testing.T) {
	tests := []struct {
		name string
		pf   PlanFile
		want string
	}{
		{
			name: "latitude out of range",
			pf: PlanFile{
				Targets: []TargetConfig{{ID: "x", Name: "X", Lat: ptr(91), Lon: ptr(0), Zoom: 0.1}},
				Layers:  DefaultLayers(),
			},
			want: "Lat",
		},
		{
			name: "non-positive enhancement",
			pf: PlanFile{
				Targets: DefaultTargets(),
				Layers:  []LayerConfig{{Name: "v", ProviderID: "P", Format: "image/png", Width: 10, Height: 10}},
			},
			want: "Enhancement",
		},
		{
			name: "unsupported format",
			pf: PlanFile{
				Targets: DefaultTargets(),
				Layers:  []LayerConfig{{Name: "v", ProviderID: "P", Format: "image/webp", Width: 10, Height: 10, Enhancement: 1}},
			},
			want: "Format",
		},
		{
			name: "duplicate target",
			pf: PlanFile{
				Targets: append(DefaultTargets(), DefaultTargets()[0]),
				Layers:  DefaultLayers(),
			},
			want: "duplicate target",
		},
		{
			name: "unknown layer reference",
			pf: PlanFile{
				Targets: []TargetConfig{{ID: "x", Name: "X", Lat: ptr(1), Lon: ptr(1), Zoom: 0.1, Layers: []string{"radar"}}},
				Layers:  DefaultLayers(),
			},
			want: "unknown layer",
		},
		{
			name: "id not usable as key",
			pf: PlanFile{
				Targets: []TargetConfig{{ID: "Lagos City", Name: "Lagos", Lat: ptr(1), Lon: ptr(1), Zoom: 0.1}},
				Layers:  DefaultLayers(),
			},
			want: "invalid key",
		},
		{
			name: "box crosses the antimeridian",
			pf: PlanFile{
				Targets: []TargetConfig{{ID: "fiji", Name: "Fiji", Lat: ptr(-17.7), Lon: ptr(179.95), Zoom: 0.1}},
				Layers:  DefaultLayers(),
			},
			want: "antimeridian",
		},
		{
			name: "missing coordinates without geocoder key",
			pf: PlanFile{
				Targets: []TargetConfig{{ID: "x", Name: "Nowhere", Zoom: 0.1}},
				Layers:  DefaultLayers(),
			},
			want: "GEOCODER_API_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildPlan(tt.pf, "")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestBuildPlanGeocodes(t *testing.T) {
	orig := geocode
	defer func() { geocode = orig }()

	var asked string
	geocode = func(apiKey, name string) (float64, float64, error) {
		if apiKey != "secret" {
			t.Fatalf("unexpected api key %q", apiKey)
		}
		asked = name
		return 30.04, 31.24, nil
	}

	pf := PlanFile{
		Targets: []TargetConfig{{ID: "cairo", Name: "Cairo", Zoom: 0.2}},
		Layers:  DefaultLayers(),
	}
	plan, err := BuildPlan(pf, "secret")
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if asked != "Cairo" {
		t.Fatalf("expected geocoder to be asked for Cairo, got %q", asked)
	}
	if plan.Targets[0].Lat != 30.04 || plan.Targets[0].Lon != 31.24 {
		t.Fatalf("unexpected coordinates: %+v", plan.Targets[0])
	}

	geocode = func(string, string) (float64, float64, error) {
		return 0, 0, errors.New("quota exceeded")
	}
	if _, err := BuildPlan(pf, "secret"); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected geocoder error, got %v", err)
	}
}

func TestCaptureDate(t *testing.T) {
	cfg := &AppConfig{ImageryLagDays: 1}
	now := time.Date(2024, 3, 1, 2, 30, 0, 0, time.UTC)

	got := cfg.CaptureDate(now)
	want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
