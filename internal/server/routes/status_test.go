package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/rpki-cache/rpki-cache/internal/cache"
	"github.com/rpki-cache/rpki-cache/internal/server"
)

type reporterStub struct {
	stats cache.Stats
}

func (r *reporterStub) Stats() cache.Stats {
	return r.stats
}

func newStatusApp(t *testing.T, stats cache.Stats) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reporter := &reporterStub{stats: stats}
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Cache:      reporter,
		ListenPort: 9323,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	RegisterStatusRoutes(app, reporter)
	return app
}

func TestStatusRouteReportsRunState(t *testing.T) {
	app := newStatusApp(t, cache.Stats{
		RunID:           "run-42",
		RunStarted:      time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		LocalRepository: "/tmp/repo",
		Prepared:        true,
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if payload["run_id"] != "run-42" {
		t.Fatalf("run_id 不符: %v", payload["run_id"])
	}
	if payload["prepared"] != true {
		t.Fatalf("prepared 不符: %v", payload["prepared"])
	}
	if payload["version"] == "" {
		t.Fatalf("应包含版本信息")
	}
}

func TestCacheRouteReportsTreeStats(t *testing.T) {
	app := newStatusApp(t, cache.Stats{
		RunID: "run-42",
		Trees: []cache.TreeStats{
			{Protocol: "rsync", Nodes: 3, Direct: 1, Succeeded: 1},
			{Protocol: "https", Nodes: 2, Files: 1},
		},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/cache", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}

	var payload cache.Stats
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(payload.Trees) != 2 || payload.Trees[0].Protocol != "rsync" {
		t.Fatalf("协议树统计不符: %+v", payload.Trees)
	}
}
