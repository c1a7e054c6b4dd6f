package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/orbital-sentry/internal/imagery"
	"github.com/i474232898/orbital-sentry/internal/scheduler"
	"github.com/i474232898/orbital-sentry/internal/sentry"
	"github.com/i474232898/orbital-sentry/internal/store"
)

var validate = validator.New()

// ScanTrigger starts an immediate scan and blocks until it finishes.
type ScanTrigger interface {
	RunNow(ctx context.Context) (*sentry.RunReport, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. trigger may be
// nil, in which case manual scans are unavailable.
func RegisterRoutes(app *fiber.App, service *sentry.Service, trigger ScanTrigger) {
	v1 := app.Group("/api/v1")

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		report, err := service.LatestRun()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no scan has completed yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch latest run")
		}
		return c.JSON(report.Summary())
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reports, err := service.RunsBetween(req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no runs for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch run history")
		}

		runs := make([]sentry.RunSummary, 0, len(reports))
		for _, r := range reports {
			runs = append(runs, r.Summary())
		}
		return c.JSON(fiber.Map{
			"from": req.From,
			"to":   req.To,
			"runs": runs,
		})
	})

	key := v1.Group("/targets/:target/layers/:layer")

	key.Get("/", func(c *fiber.Ctx) error {
		o, err := latestOutcome(c, service)
		if err != nil {
			return err
		}
		return c.JSON(o.Summary())
	})

	key.Get("/ascii", func(c *fiber.Ctx) error {
		o, err := latestOutcome(c, service)
		if err != nil {
			return err
		}
		if o.ASCII == nil {
			return fiber.NewError(fiber.StatusNotFound, "no ascii rendering for requested key")
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(o.ASCII.String())
	})

	key.Get("/snapshot", func(c *fiber.Ctx) error {
		o, err := latestOutcome(c, service)
		if err != nil {
			return err
		}
		if o.Snapshot == nil || len(o.Snapshot.Raw) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no snapshot for requested key")
		}
		c.Set(fiber.HeaderContentType, o.Snapshot.ContentType)
		return c.Send(o.Snapshot.Raw)
	})

	key.Get("/diff", func(c *fiber.Ctx) error {
		o, err := latestOutcome(c, service)
		if err != nil {
			return err
		}
		if o.Diff == nil {
			return fiber.NewError(fiber.StatusNotFound, "no diff for requested key")
		}
		raw, err := imagery.EncodePNG(o.Diff.Image)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to encode diff")
		}
		c.Set(fiber.HeaderContentType, "image/png")
		return c.Send(raw)
	})

	v1.Post("/scans", func(c *fiber.Ctx) error {
		if trigger == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "manual scans are disabled")
		}
		report, err := trigger.RunNow(c.UserContext())
		if err != nil {
			if errors.Is(err, scheduler.ErrScanInProgress) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			if report == nil {
				return fiber.NewError(fiber.StatusInternalServerError, "scan failed")
			}
		}
		return c.Status(fiber.StatusAccepted).JSON(report.Summary())
	})
}

func latestOutcome(c *fiber.Ctx, service *sentry.Service) (sentry.Outcome, error) {
	k, err := sentry.NewKey(c.Params("target"), c.Params("layer"))
	if err != nil {
		return sentry.Outcome{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	o, err := service.LatestOutcome(k)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return sentry.Outcome{}, fiber.NewError(fiber.StatusNotFound, "no data for requested key")
		}
		return sentry.Outcome{}, fiber.NewError(fiber.StatusInternalServerError, "failed to fetch outcome")
	}
	return o, nil
}

// historyQuery holds query parameters for the run history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
