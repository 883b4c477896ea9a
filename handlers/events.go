// handlers/events.go
package handlers

import (
	"time"

	"grubs-service/middleware"
	"grubs-service/models"
	"grubs-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type createEventRequest struct {
	Name          string           `json:"name" validate:"required,max=200"`
	Description   string           `json:"description"`
	Latitude      *float64         `json:"latitude" validate:"required,latitude"`
	Longitude     *float64         `json:"longitude" validate:"required,longitude"`
	RadiusMeters  int              `json:"radius_meters" validate:"omitempty,min=10,max=10000"`
	StartsAt      *time.Time       `json:"starts_at" validate:"required"`
	EndsAt        *time.Time       `json:"ends_at" validate:"required"`
	MinAttendance *int             `json:"min_attendance" validate:"omitempty,min=2"`
	CurrencyRate  *decimal.Decimal `json:"currency_rate"`
}

type updateEventRequest struct {
	Name          *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Description   *string          `json:"description"`
	Latitude      *float64         `json:"latitude" validate:"omitempty,latitude"`
	Longitude     *float64         `json:"longitude" validate:"omitempty,longitude"`
	RadiusMeters  *int             `json:"radius_meters" validate:"omitempty,min=10,max=10000"`
	StartsAt      *time.Time       `json:"starts_at"`
	EndsAt        *time.Time       `json:"ends_at"`
	MinAttendance *int             `json:"min_attendance" validate:"omitempty,min=2"`
	CurrencyRate  *decimal.Decimal `json:"currency_rate"`
}

func (r updateEventRequest) patch() models.EventPatch {
	return models.EventPatch{
		Name:          r.Name,
		Description:   r.Description,
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		RadiusMeters:  r.RadiusMeters,
		StartsAt:      r.StartsAt,
		EndsAt:        r.EndsAt,
		MinAttendance: r.MinAttendance,
		CurrencyRate:  r.CurrencyRate,
	}
}

func SetupEventRoutes(secured fiber.Router, events *services.EventService, now func() time.Time, log *zap.Logger) {
	secured.Get("/groups/:id/events", func(c *fiber.Ctx) error {
		status := models.EventStatus(c.Query("status"))
		list, err := events.GroupEvents(c.UserContext(), c.Params("id"), middleware.UserID(c), status, c.QueryBool("upcoming"), now())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"events": list})
	})

	secured.Post("/groups/:id/events", func(c *fiber.Ctx) error {
		var req createEventRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		ev, err := events.CreateEvent(c.UserContext(), c.Params("id"), middleware.UserID(c), services.EventInput{
			Name:          req.Name,
			Description:   req.Description,
			Latitude:      *req.Latitude,
			Longitude:     *req.Longitude,
			RadiusMeters:  req.RadiusMeters,
			StartsAt:      *req.StartsAt,
			EndsAt:        *req.EndsAt,
			MinAttendance: req.MinAttendance,
			CurrencyRate:  req.CurrencyRate,
		}, now())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"event": ev})
	})

	secured.Get("/events/:id", func(c *fiber.Ctx) error {
		d, err := events.Details(c.UserContext(), c.Params("id"), middleware.UserID(c))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(d)
	})

	secured.Patch("/events/:id", func(c *fiber.Ctx) error {
		var req updateEventRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		ev, err := events.UpdateEvent(c.UserContext(), c.Params("id"), middleware.UserID(c), req.patch(), now())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"event": ev})
	})

	secured.Delete("/events/:id", func(c *fiber.Ctx) error {
		ev, err := events.CancelEvent(c.UserContext(), c.Params("id"), middleware.UserID(c), now())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(fiber.Map{"event": ev})
	})

	secured.Get("/events/:id/attendees", func(c *fiber.Ctx) error {
		list, err := events.Attendees(c.UserContext(), c.Params("id"), middleware.UserID(c))
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(list)
	})

	secured.Post("/events/:id/checkin", func(c *fiber.Ctx) error {
		var req coordinatesRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		res, err := events.CheckIn(c.UserContext(), c.Params("id"), middleware.UserID(c), *req.Latitude, *req.Longitude, now())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	secured.Post("/events/:id/ping", func(c *fiber.Ctx) error {
		var req coordinatesRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		res, err := events.Ping(c.UserContext(), c.Params("id"), middleware.UserID(c), *req.Latitude, *req.Longitude, now())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(res)
	})
}
