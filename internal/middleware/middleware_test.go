package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/activity-records-go/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString(SubjectKey)})
	})
	return r
}

func serve(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	svc := auth.NewJWTService("middleware-secret")
	token, err := svc.GenerateToken("phone-1", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	r := newRouter(Auth(svc))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, tt.header)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := serve(r, "Bearer "+token)
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["subject"] != "phone-1" {
		t.Errorf("subject = %q, want phone-1", body["subject"])
	}
}

func TestAuthDisabled(t *testing.T) {
	r := newRouter(Auth(nil))
	if w := serve(r, ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := NewRateLimiter(ctx, 2, time.Minute)
	now := time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	r := newRouter(RateLimit(limiter))

	for i := range 2 {
		if w := serve(r, ""); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	if w := serve(r, ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", w.Code)
	}

	now = now.Add(time.Minute)
	if w := serve(r, ""); w.Code != http.StatusOK {
		t.Errorf("status after window = %d, want 200", w.Code)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := newRouter(Logger(logger))

	req := httptest.NewRequest(http.MethodGet, "/ping?x=1", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	for _, want := range []string{`"method":"GET"`, `"path":"/ping?x=1"`, `"status":200`, `"route":"/ping"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %s missing %s", line, want)
		}
	}
}
