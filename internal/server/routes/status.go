package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rpki-cache/rpki-cache/internal/server"
	"github.com/rpki-cache/rpki-cache/internal/version"
)

// RegisterStatusRoutes 暴露 /-/ 诊断接口，供运维查询缓存树状态与版本。
func RegisterStatusRoutes(app *fiber.App, reporter server.CacheReporter) {
	if app == nil || reporter == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		stats := reporter.Stats()
		return c.JSON(fiber.Map{
			"version":     version.Full(),
			"run_id":      stats.RunID,
			"run_started": stats.RunStarted,
			"prepared":    stats.Prepared,
			"repository":  stats.LocalRepository,
		})
	})

	app.Get("/-/cache", func(c fiber.Ctx) error {
		return c.JSON(reporter.Stats())
	})
}
