// handlers/location.go
package handlers

import (
	"time"

	"grubs-service/middleware"
	"grubs-service/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type coordinatesRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

func SetupLocationRoutes(secured fiber.Router, positions *services.PositionService, now func() time.Time, log *zap.Logger) {
	secured.Post("/location", func(c *fiber.Ctx) error {
		var req coordinatesRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		res, err := positions.ReportPosition(c.UserContext(), middleware.UserID(c), *req.Latitude, *req.Longitude, now())
		if err != nil {
			return respondError(c, log, err)
		}
		out := fiber.Map{"success": true}
		if res.IsNearOthers != nil {
			out["isNearOthers"] = *res.IsNearOthers
		}
		if res.EncounterCount != nil {
			out["encounterCount"] = *res.EncounterCount
		}
		return c.JSON(out)
	})

	secured.Get("/nearby", func(c *fiber.Ctx) error {
		view, err := positions.Nearby(c.UserContext(), middleware.UserID(c), now())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(view)
	})
}
