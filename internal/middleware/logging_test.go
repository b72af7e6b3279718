package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"success logs info", http.StatusOK, "level=INFO"},
		{"server error logs warn", http.StatusBadGateway, "level=WARN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			e := echo.New()
			e.Use(RequestLogger(logger))
			e.POST("/api/agent", func(c echo.Context) error {
				c.Response().Header().Set(echo.HeaderXRequestID, "req-1")
				return c.String(tt.status, "body")
			})

			req := httptest.NewRequest(http.MethodPost, "/api/agent", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			out := buf.String()
			for _, want := range []string{tt.wantLevel, "path=/api/agent", "request_id=req-1", "bytes_out=4"} {
				if !strings.Contains(out, want) {
					t.Errorf("log = %q, want %q", out, want)
				}
			}
		})
	}
}
