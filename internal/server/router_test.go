package server

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/rpki-cache/rpki-cache/internal/cache"
)

type statsStub struct {
	stats cache.Stats
}

func (s *statsStub) Stats() cache.Stats {
	return s.stats
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:     logger,
		Cache:      &statsStub{},
		ListenPort: 9323,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}

func TestNewAppSetsRequestID(t *testing.T) {
	app := newTestApp(t)
	app.Get("/probe", func(c fiber.Ctx) error {
		if RequestID(c) == "" {
			t.Errorf("expected request ID in context")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/probe", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestNewAppRejectsMissingDependencies(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if _, err := NewApp(AppOptions{Cache: &statsStub{}, ListenPort: 9323}); err == nil {
		t.Fatalf("缺少 logger 应报错")
	}
	if _, err := NewApp(AppOptions{Logger: logger, ListenPort: 9323}); err == nil {
		t.Fatalf("缺少 cache reporter 应报错")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Cache: &statsStub{}, ListenPort: 0}); err == nil {
		t.Fatalf("非法端口应报错")
	}
}
