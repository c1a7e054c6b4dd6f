package cli

import (
	"fmt"
	"net/http"

	"github.com/i474232898/orbital-sentry/internal/config"
	"github.com/i474232898/orbital-sentry/internal/report"
	"github.com/i474232898/orbital-sentry/internal/sentry"
	"github.com/i474232898/orbital-sentry/internal/sentry/providers"
	"github.com/i474232898/orbital-sentry/internal/store"
)

// components are the long-lived pieces every command that scans needs.
type components struct {
	service   *sentry.Service
	baselines *store.FileBaselineStore
	runs      *store.MemoryStore
}

func newComponents(cfg *config.AppConfig) (*components, error) {
	// Shared HTTP client for outbound imagery calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Imagery source with a circuit breaker; failed keys are skipped, never retried.
	source := providers.NewGIBSProvider(httpClient, cfg.WMSURL)

	baselines, err := store.NewFileBaselineStore(cfg.BaselineDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open baseline store: %w", err)
	}

	// In-memory run history with configured retention.
	runs := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	service := sentry.NewService(source, baselines, runs, report.NewWriter(cfg.OutputDir))

	return &components{service: service, baselines: baselines, runs: runs}, nil
}
