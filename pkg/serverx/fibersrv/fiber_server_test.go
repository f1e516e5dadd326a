package fibersrv_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/marcodd23/go-txqueue/pkg/configmgr"
	"github.com/marcodd23/go-txqueue/pkg/serverx/fibersrv"
	"github.com/marcodd23/go-txqueue/pkg/txqueue"
	"github.com/marcodd23/go-txqueue/test/fakedriver"
	"github.com/stretchr/testify/require"
)

func newStatusApp(conn *txqueue.Conn) *fiber.App {
	app := fiber.New(fiber.Config{JSONEncoder: json.Marshal, JSONDecoder: json.Unmarshal})
	fibersrv.RegisterStatusRoutes(app, conn)

	return app
}

func getJSON(t *testing.T, app *fiber.App, path string) (int, map[string]any) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))

	return resp.StatusCode, decoded
}

func TestNewFiberServer_UsesServiceConfig(t *testing.T) {
	cfg := configmgr.BaseConfig{
		Name:   "txqueue-status",
		Server: &configmgr.ServerConfig{Port: "0", Concurrency: 16, DisableStartupMessage: true},
	}

	srv := fibersrv.NewFiberServer(cfg)
	require.Same(t, srv, fibersrv.NewFiberServer(configmgr.BaseConfig{Name: "other"}))

	app := srv.GetServer()
	require.Equal(t, "txqueue-status", app.Config().AppName)
	require.Equal(t, 16, app.Config().Concurrency)
	require.True(t, app.Config().StrictRouting)

	setupCalled := false
	srv.Setup(context.Background(), func(app *fiber.App) {
		setupCalled = true
	})
	require.True(t, setupCalled)
}

func TestStatusRoute_ReportsTransactionState(t *testing.T) {
	d := fakedriver.NewManual()
	conn := txqueue.New(context.Background(), d, txqueue.Config{})
	app := newStatusApp(conn)

	conn.Run("SELECT * FROM t", nil, nil)
	conn.BeginTransaction(nil)
	conn.Run("UPDATE t SET x = 1", nil, nil)

	code, body := getJSON(t, app, "/status")
	require.Equal(t, fiber.StatusOK, code)
	require.Equal(t, "beginning", body["transactionState"])
	require.Equal(t, float64(1), body["pendingLocks"])
	require.Equal(t, float64(1), body["queuedOperations"])
	require.Equal(t, float64(1), body["transactionsStarted"])
}

func TestHealthRoute(t *testing.T) {
	t.Run("TestHealthy", func(t *testing.T) {
		conn := txqueue.New(context.Background(), fakedriver.New(), txqueue.Config{})

		code, body := getJSON(t, newStatusApp(conn), "/health")
		require.Equal(t, fiber.StatusOK, code)
		require.Equal(t, "ok", body["status"])
	})

	t.Run("TestProbeQueryFails", func(t *testing.T) {
		d := fakedriver.New()
		d.FailOn("SELECT 1", errors.New("connection reset"))
		conn := txqueue.New(context.Background(), d, txqueue.Config{})

		code, body := getJSON(t, newStatusApp(conn), "/health")
		require.Equal(t, fiber.StatusServiceUnavailable, code)
		require.Equal(t, "unavailable", body["status"])
		require.Contains(t, body["error"], "connection reset")
	})
}
