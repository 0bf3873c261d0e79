package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Skufu/lungtriage/internal/analysis"
	"github.com/Skufu/lungtriage/internal/api"
	"github.com/Skufu/lungtriage/internal/classifier"
	"github.com/Skufu/lungtriage/internal/store"
	"github.com/Skufu/lungtriage/internal/triage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type fakeDB struct {
	err error
}

func (f fakeDB) Ping(ctx context.Context) error {
	return f.err
}

func testDeps(t *testing.T, db HealthChecker) routerDeps {
	t.Helper()
	uploads, err := analysis.NewUploads(t.TempDir())
	if err != nil {
		t.Fatalf("uploads: %v", err)
	}
	registry := classifier.NewRegistry(zerolog.Nop())
	registry.MarkUnavailable(triage.Pneumonia, classifier.StatusNotFound, "onnx", "models/pneumonia.onnx")
	mem := store.NewMemory()
	return routerDeps{
		db:     db,
		models: registry,
		handler: api.New(api.Options{
			Store:    mem,
			Analyzer: analysis.NewService(registry, mem, uploads, zerolog.Nop()),
			Models:   registry,
			Uploads:  uploads,
			Logger:   zerolog.Nop(),
		}),
		logger:      zerolog.Nop(),
		maxBody:     1 << 20,
		corsOrigins: []string{"*"},
	}
}

func TestRouterHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := setupRouter(testDeps(t, fakeDB{}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestRouterReadyz(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		db   HealthChecker
		code int
		want string
	}{
		{"db disabled", nil, http.StatusOK, `"db":"disabled"`},
		{"db healthy", fakeDB{}, http.StatusOK, `"db":"ok"`},
		{"db down", fakeDB{err: errors.New("connection refused")}, http.StatusServiceUnavailable, `"status":"degraded"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := setupRouter(testDeps(t, tc.db))
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/readyz", nil)
			router.ServeHTTP(w, req)

			if w.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, w.Code)
			}
			body := w.Body.String()
			if !strings.Contains(body, tc.want) || !strings.Contains(body, `"status":"not_found"`) {
				t.Fatalf("unexpected body: %s", body)
			}
		})
	}
}

func TestRouterMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := setupRouter(testDeps(t, nil))

	for _, path := range []string{"/healthz", "/metrics"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", path, nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, w.Code)
		}
		if path == "/metrics" && !strings.Contains(w.Body.String(), "lungtriage_http_requests_total") {
			t.Fatalf("expected request metrics, got %s", w.Body.String())
		}
	}
}

func TestRouterMountsAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := setupRouter(testDeps(t, nil))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/models/status", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ready":0`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestRouterRejectsOversizedUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := testDeps(t, nil)
	deps.maxBody = 64
	router := setupRouter(deps)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/patients", strings.NewReader(`{"name":"`+strings.Repeat("x", 200)+`","age":1,"gender":"f"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected truncated body to be rejected, got %d", w.Code)
	}
}

// Ensure limitBodySize middleware allows small payloads and blocks large ones.
func TestLimitBodySize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(limitBodySize(10))
	router.POST("/echo", func(c *gin.Context) {
		_, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too large"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	t.Run("within limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/echo", strings.NewReader("12345"))
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/echo", strings.NewReader("01234567890"))
		router.ServeHTTP(w, req)
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413, got %d", w.Code)
		}
	})
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRouterStaticRoot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "API_TOKEN=s3cret\n")
	writeFile(t, filepath.Join(dir, "uploads", "scan.png"), "PNGDATA")
	writeFile(t, filepath.Join(dir, "web", "index.html"), "<html></html>")
	writeFile(t, filepath.Join(dir, "web", "app.js"), "console.log(1)")
	writeFile(t, filepath.Join(dir, "leaky", "index.html"), "<html></html>")
	writeFile(t, filepath.Join(dir, "leaky", ".env.local"), "API_TOKEN=s3cret\n")
	writeFile(t, filepath.Join(dir, "shared", "index.html"), "<html></html>")
	writeFile(t, filepath.Join(dir, "shared", "uploads", "scan.png"), "PNGDATA")

	cases := []struct {
		name      string
		root      string
		uploadDir string
		path      string
		code      int
	}{
		{"frontend asset", filepath.Join(dir, "web"), filepath.Join(dir, "uploads"), "/static/app.js", http.StatusOK},
		{"frontend index", filepath.Join(dir, "web"), filepath.Join(dir, "uploads"), "/", http.StatusOK},
		{"working dir env", dir, filepath.Join(dir, "uploads"), "/static/.env", http.StatusNotFound},
		{"working dir uploads", dir, filepath.Join(dir, "uploads"), "/static/uploads/scan.png", http.StatusNotFound},
		{"env variant", filepath.Join(dir, "leaky"), filepath.Join(dir, "uploads"), "/static/.env.local", http.StatusNotFound},
		{"nested uploads", filepath.Join(dir, "shared"), filepath.Join(dir, "shared", "uploads"), "/static/uploads/scan.png", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := testDeps(t, nil)
			deps.staticRoot = tc.root
			deps.uploadDir = tc.uploadDir
			router := setupRouter(deps)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", tc.path, nil)
			router.ServeHTTP(w, req)
			if w.Code != tc.code {
				t.Fatalf("GET %s: expected %d, got %d", tc.path, tc.code, w.Code)
			}
			if strings.Contains(w.Body.String(), "s3cret") || strings.Contains(w.Body.String(), "PNGDATA") {
				t.Fatalf("GET %s leaked %q", tc.path, w.Body.String())
			}
		})
	}
}

func TestCheckStaticRoot(t *testing.T) {
	dir := t.TempDir()
	web := filepath.Join(dir, "web")
	writeFile(t, filepath.Join(web, "index.html"), "<html></html>")

	if err := checkStaticRoot(web, filepath.Join(dir, "uploads")); err != nil {
		t.Fatalf("expected sibling upload dir to be allowed: %v", err)
	}
	if err := checkStaticRoot(web, filepath.Join(dir, "web-uploads")); err != nil {
		t.Fatalf("expected prefix-named sibling to be allowed: %v", err)
	}
	if err := checkStaticRoot(web, web); err == nil {
		t.Fatal("expected upload dir equal to static root to be refused")
	}
	if err := checkStaticRoot(dir, filepath.Join(dir, "uploads")); err == nil {
		t.Fatal("expected parent of upload dir to be refused")
	}
}

func TestDetectStaticRoot(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	if got := detectStaticRoot(); got != "" {
		t.Fatalf("expected no static root, got %q", got)
	}

	// An index.html in the working directory itself is never served.
	writeFile(t, filepath.Join(dir, "index.html"), "<html></html>")
	if got := detectStaticRoot(); got != "" {
		t.Fatalf("expected working directory to be ignored, got %q", got)
	}

	web := filepath.Join(dir, "web")
	if err := os.MkdirAll(web, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(web, "index.html"), []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := detectStaticRoot()
	if resolved, _ := filepath.EvalSymlinks(got); resolved != mustEval(t, web) {
		t.Fatalf("expected %q, got %q", web, got)
	}
}

func mustEval(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}
