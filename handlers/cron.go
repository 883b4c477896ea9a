// handlers/cron.go
package handlers

import (
	"time"

	"grubs-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SetupCronRoutes exposes the tick to an external cron trigger. GET is accepted as well as
// POST because hosted cron runners only issue GETs.
func SetupCronRoutes(r fiber.Router, driver *services.TickDriver, now func() time.Time, log *zap.Logger) {
	run := func(c *fiber.Ctx) error {
		res, err := driver.RunTick(c.UserContext(), now())
		if errors.Is(err, services.ErrTickInProgress) {
			return respondError(c, log, err)
		}
		if err != nil {
			log.Error("[Cron] tick aborted", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "tick failed",
				"details": err.Error(),
				"results": res,
			})
		}
		return c.JSON(fiber.Map{
			"success":   true,
			"timestamp": res.At,
			"results":   res,
		})
	}
	r.Post("/tick", run)
	r.Get("/tick", run)
}
