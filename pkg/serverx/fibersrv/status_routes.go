package fibersrv

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/marcodd23/go-txqueue/pkg/dbx"
	"github.com/marcodd23/go-txqueue/pkg/logx"
	"github.com/marcodd23/go-txqueue/pkg/txqueue"
)

// HealthCheckTimeout bounds the wait of the /health probe query.
const HealthCheckTimeout = 2 * time.Second

// StatusSource - what the status routes read from the wrapped connection.
// *txqueue.Conn satisfies it.
type StatusSource interface {
	Stats() txqueue.Stats
	Get(sql string, args []any, done func(row dbx.Row, err error))
}

// RegisterStatusRoutes mounts on router:
//   - GET /status: the connection Stats as JSON.
//   - GET /health: a "SELECT 1" issued through the connection. It waits
//     behind an open transaction like any other call, so a transaction held
//     longer than HealthCheckTimeout turns the probe to 503.
func RegisterStatusRoutes(router fiber.Router, source StatusSource) {
	router.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(source.Stats())
	})

	router.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), HealthCheckTimeout)
		defer cancel()

		_, err := txqueue.WaitResult(ctx, func(done func(dbx.Row, error)) {
			source.Get("SELECT 1", nil, done)
		})
		if err != nil {
			logx.GetLogger().LogWarning(ctx, "health check failed", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": err.Error()})
		}

		return c.JSON(fiber.Map{"status": "ok"})
	})
}
