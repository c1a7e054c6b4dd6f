package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/orbital-sentry/internal/sentry"
	"github.com/i474232898/orbital-sentry/internal/sentry/providers"
)

var validate = validator.New()

type AppConfig struct {
	WMSURL      string
	HTTPTimeout time.Duration

	// ScanInterval controls how often every target is scanned.
	ScanInterval time.Duration
	// RunTimeout bounds a whole run; unfinished keys are abandoned.
	RunTimeout time.Duration
	// ImageryLagDays shifts the capture date back to allow for upload delay.
	ImageryLagDays int

	Plan sentry.Plan

	BaselineDir string
	OutputDir   string

	// In-memory run history retention.
	StoreMaxHistory int           // max number of runs kept (0 = unlimited)
	StoreMaxAge     time.Duration // max age of runs (0 = unlimited)

	Port     string
	LogLevel string
}

// TargetConfig is a target as written in the plan file. Lat and Lon may be
// omitted and resolved by geocoding Name.
type TargetConfig struct {
	ID     string            `json:"id" validate:"required,max=64"`
	Name   string            `json:"name" validate:"required"`
	Lat    *float64          `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon    *float64          `json:"lon" validate:"omitempty,gte=-180,lte=180"`
	Zoom   float64           `json:"zoom" validate:"gt=0,lte=45"`
	Layers []string          `json:"layers"`
	Extras map[string]string `json:"extras"`
}

// LayerConfig is a layer as written in the plan file.
type LayerConfig struct {
	Name        string  `json:"name" validate:"required"`
	ProviderID  string  `json:"provider_id" validate:"required"`
	Format      string  `json:"format" validate:"required,oneof=image/png image/jpeg image/tiff image/gif"`
	Transparent bool    `json:"transparent"`
	Width       int     `json:"width" validate:"gte=1,lte=4096"`
	Height      int     `json:"height" validate:"gte=1,lte=4096"`
	Enhancement float64 `json:"enhancement" validate:"gt=0,lte=100"`
}

// PlanFile is the JSON document named by SENTRY_PLAN_FILE.
type PlanFile struct {
	Targets []TargetConfig `json:"targets" validate:"omitempty,dive"`
	Layers  []LayerConfig  `json:"layers" validate:"omitempty,dive"`
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file found or error loading it")
	}
	cfg := &AppConfig{}

	cfg.WMSURL = getenvDefault("GIBS_WMS_URL", providers.DefaultGIBSURL)

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "20s"); err != nil {
		return nil, err
	}
	if cfg.ScanInterval, err = getenvDuration("SCAN_INTERVAL", "24h"); err != nil {
		return nil, err
	}
	if cfg.RunTimeout, err = getenvDuration("RUN_TIMEOUT", "5m"); err != nil {
		return nil, err
	}
	cfg.ImageryLagDays = getenvInt("IMAGERY_LAG_DAYS", 0)

	cfg.BaselineDir = getenvDefault("BASELINE_DIR", "./data/reference")
	cfg.OutputDir = getenvDefault("OUTPUT_DIR", "./public")

	// Run history retention.
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 30) // roughly a month of daily scans
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "720h"); err != nil {
		return nil, err
	}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	plan, err := loadPlan(os.Getenv("SENTRY_PLAN_FILE"), os.Getenv("SENTRY_LAYERS"), os.Getenv("GEOCODER_API_KEY"))
	if err != nil {
		return nil, err
	}
	plan.ASCIIWidth = getenvInt("ASCII_WIDTH", 60)
	plan.Concurrency = getenvInt("SCAN_CONCURRENCY", 1)
	cfg.Plan = plan

	return cfg, nil
}

// CaptureDate is the imagery date a scan started at now should request.
func (c *AppConfig) CaptureDate(now time.Time) time.Time {
	return sentry.Day(now).AddDate(0, 0, -c.ImageryLagDays)
}

func loadPlan(path, layerFilter, geocoderKey string) (sentry.Plan, error) {
	pf := PlanFile{Targets: DefaultTargets(), Layers: DefaultLayers()}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return sentry.Plan{}, fmt.Errorf("failed to read SENTRY_PLAN_FILE: %w", err)
		}
		var custom PlanFile
		if err := json.Unmarshal(raw, &custom); err != nil {
			return sentry.Plan{}, fmt.Errorf("invalid SENTRY_PLAN_FILE: %w", err)
		}
		if len(custom.Targets) > 0 {
			pf.Targets = custom.Targets
		}
		if len(custom.Layers) > 0 {
			pf.Layers = custom.Layers
		}
	}

	if layerFilter != "" {
		layers, err := selectLayers(pf.Layers, strings.Split(layerFilter, ","))
		if err != nil {
			return sentry.Plan{}, err
		}
		pf.Layers = layers
	}

	return BuildPlan(pf, geocoderKey)
}

// BuildPlan validates a plan file and converts it, resolving any targets
// without coordinates through the geocoder.
func BuildPlan(pf PlanFile, geocoderKey string) (sentry.Plan, error) {
	if err := validate.Struct(pf); err != nil {
		return sentry.Plan{}, fmt.Errorf("invalid plan: %w", err)
	}

	plan := sentry.Plan{}
	layerNames := make(map[string]bool, len(pf.Layers))
	for _, l := range pf.Layers {
		if layerNames[l.Name] {
			return sentry.Plan{}, fmt.Errorf("duplicate layer %q", l.Name)
		}
		layerNames[l.Name] = true
		plan.Layers = append(plan.Layers, sentry.Layer{
			Name:        l.Name,
			ProviderID:  l.ProviderID,
			Format:      l.Format,
			Transparent: l.Transparent,
			Width:       l.Width,
			Height:      l.Height,
			Enhancement: l.Enhancement,
		})
	}

	seen := make(map[string]bool, len(pf.Targets))
	for _, tc := range pf.Targets {
		if seen[tc.ID] {
			return sentry.Plan{}, fmt.Errorf("duplicate target %q", tc.ID)
		}
		seen[tc.ID] = true

		for _, name := range tc.Layers {
			if !layerNames[name] {
				return sentry.Plan{}, fmt.Errorf("target %q references unknown layer %q", tc.ID, name)
			}
		}
		for name := range layerNames {
			if _, err := sentry.NewKey(tc.ID, name); err != nil {
				return sentry.Plan{}, err
			}
		}

		lat, lon, err := coordinates(tc, geocoderKey)
		if err != nil {
			return sentry.Plan{}, err
		}
		target := sentry.Target{
			ID:     tc.ID,
			Name:   tc.Name,
			Lat:    lat,
			Lon:    lon,
			Zoom:   tc.Zoom,
			Layers: tc.Layers,
			Extras: tc.Extras,
		}
		if target.CrossesAntimeridian() {
			return sentry.Plan{}, fmt.Errorf("target %q: bounding box %s crosses the antimeridian", tc.ID, target.BBox())
		}
		plan.Targets = append(plan.Targets, target)
	}

	return plan, nil
}

func selectLayers(all []LayerConfig, names []string) ([]LayerConfig, error) {
	var out []LayerConfig
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		found := false
		for _, l := range all {
			if l.Name == n {
				out = append(out, l)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("invalid SENTRY_LAYERS: unknown layer %q", n)
		}
	}
	return out, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
