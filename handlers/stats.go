// handlers/stats.go
package handlers

import (
	"time"

	"grubs-service/middleware"
	"grubs-service/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func SetupStatsRoutes(secured fiber.Router, stats *services.StatsService, now func() time.Time, log *zap.Logger) {
	secured.Get("/dashboard/stats", func(c *fiber.Ctx) error {
		summary, err := stats.EarningsSummary(c.UserContext(), middleware.UserID(c), now())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(summary)
	})

	secured.Get("/groups/:slug/leaderboard", func(c *fiber.Ctx) error {
		board, err := stats.GroupBoard(c.UserContext(), c.Params("slug"), middleware.UserID(c), c.QueryInt("limit", 10), now())
		if err != nil {
			return respondError(c, log, err)
		}
		return c.JSON(board)
	})
}
