package transport

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/courier-notify/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantError string
		wantLevel zapcore.Level
	}{
		{
			name:      "client error",
			err:       fiber.NewError(fiber.StatusNotFound, "notification not found"),
			wantCode:  fiber.StatusNotFound,
			wantError: "notification not found",
			wantLevel: zapcore.WarnLevel,
		},
		{
			name:      "explicit server error",
			err:       fiber.NewError(fiber.StatusServiceUnavailable, "store unavailable"),
			wantCode:  fiber.StatusServiceUnavailable,
			wantError: "store unavailable",
			wantLevel: zapcore.ErrorLevel,
		},
		{
			name:      "unexpected error is masked",
			err:       errors.New("pq: connection reset"),
			wantCode:  fiber.StatusInternalServerError,
			wantError: "internal server error",
			wantLevel: zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
			app.Get("/boom", func(c *fiber.Ctx) error {
				c.SetUserContext(observability.WithCorrelationID(c.UserContext(), "cid-7"))
				return tt.err
			})

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}

			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tt.wantError {
				t.Fatalf("error = %q, want %q", body["error"], tt.wantError)
			}
			if body["correlationId"] != "cid-7" {
				t.Fatalf("correlationId = %q, want cid-7", body["correlationId"])
			}

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Fatalf("log level = %s, want %s", entries[0].Level, tt.wantLevel)
			}
			if got := entries[0].ContextMap()["correlationId"]; got != "cid-7" {
				t.Fatalf("logged correlationId = %v, want cid-7", got)
			}
		})
	}
}
