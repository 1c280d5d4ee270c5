package httpapi

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/meteolv/meteo-sync/internal/meteo"
)

var validate = validator.New()

// syncTimeout bounds one API-triggered sync run.
const syncTimeout = 10 * time.Minute

// RegisterRoutes wires the HTTP handlers into the Fiber app. metrics is the
// configured abbreviation set used by the manual sync trigger.
func RegisterRoutes(app *fiber.App, service *meteo.Service, metrics []string) {
	v1 := app.Group("/api/v1")

	v1.Get("/metrics", func(c *fiber.Ctx) error {
		return c.JSON(meteo.Catalog())
	})

	v1.Get("/metrics/:abbr", func(c *fiber.Ctx) error {
		abbr, err := parseAbbrParam(c)
		if err != nil {
			return err
		}

		doc, err := service.Get(c.Context(), abbr)
		if err != nil {
			if errors.Is(err, meteo.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no data for requested metric")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch metric document")
		}
		return c.JSON(doc)
	})

	v1.Get("/metrics/:abbr/observations", func(c *fiber.Ctx) error {
		abbr, err := parseAbbrParam(c)
		if err != nil {
			return err
		}
		var q observationQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		obs, err := service.Observations(c.Context(), abbr, q.Station, q.From, q.To)
		if err != nil {
			if errors.Is(err, meteo.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no data for requested metric")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch observations")
		}
		return c.JSON(fiber.Map{
			"abbreviation": abbr,
			"station":      q.Station,
			"observations": obs,
		})
	})

	v1.Get("/export", func(c *fiber.Ctx) error {
		docs, err := service.Export(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to export collection")
		}
		return c.JSON(docs)
	})

	v1.Post("/sync", func(c *fiber.Ctx) error {
		runID := uuid.NewString()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
			defer cancel()
			if err := service.SyncAll(ctx, metrics); err != nil {
				log.Printf("sync run %s failed: %v", runID, err)
			}
		}()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"run_id": runID,
			"status": "started",
		})
	})
}

func parseAbbrParam(c *fiber.Ctx) (string, error) {
	abbr := c.Params("abbr")
	if err := validate.Var(abbr, "required,uppercase,alphanum,min=2,max=8"); err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid metric abbreviation")
	}
	if !meteo.IsKnown(abbr) {
		return "", fiber.NewError(fiber.StatusNotFound, "unknown metric abbreviation")
	}
	return abbr, nil
}

// observationQuery holds the optional observation filters.
type observationQuery struct {
	Station string
	From    time.Time
	To      time.Time
}

func (q *observationQuery) bind(c *fiber.Ctx) error {
	q.Station = c.Query("station")

	if fromStr := c.Query("from"); fromStr != "" {
		from, err := parseTime(fromStr)
		if err != nil {
			return err
		}
		q.From = from
	}
	if toStr := c.Query("to"); toStr != "" {
		to, err := parseTime(toStr)
		if err != nil {
			return err
		}
		q.To = to
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return errors.New("to must not be before from")
	}
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
