package frontend

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jo-hoe/gopix/internal/core"
	"github.com/labstack/echo/v4"
)

func newFrontendTestConfig(t *testing.T) *core.ServiceConfig {
	t.Helper()
	return &core.ServiceConfig{
		Port:         8080,
		MediaRoot:    filepath.Join(t.TempDir(), "media"),
		MediaBaseURL: "/media",
		Database: core.Database{
			Type:             "sqlite",
			ConnectionString: ":memory:",
		},
		Optimization: core.OptimizationConfig{
			Enabled:     true,
			AutoConvert: true,
			EnableWebp:  true,
			AvifQuality: 50,
			WebpQuality: 85,
			WebpMethod:  4,
			// Low floors so the small test image is processed.
			MinSavingsPercent:  0,
			MinSourceSizeBytes: 1,
			MaxDimension:       4000,
			TimeoutSeconds:     30,
		},
		ThumbnailWidth: 480,
	}
}

func newFrontendTestServer(t *testing.T) (*echo.Echo, *core.CoreService) {
	t.Helper()
	config := newFrontendTestConfig(t)
	coreService := core.NewCoreService(config)
	t.Cleanup(func() {
		if err := coreService.Close(); err != nil {
			t.Errorf("failed to close core service: %v", err)
		}
	})

	e := echo.New()
	NewFrontendService(config, coreService).SetRoutes(e)
	return e, coreService
}

func TestIndexPreloadsOptimizedVariants(t *testing.T) {
	server, coreService := newFrontendTestServer(t)

	source := encodeTestPNG(t, 64, 64)
	if _, _, err := coreService.AddAsset(context.Background(), "pattern.png", "image/png", bytes.NewReader(source)); err != nil {
		t.Fatalf("failed to add asset: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/"+MainPageName, nil)
	req.Header.Set("Accept", "text/html,image/webp,*/*;q=0.8")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `rel="preload"`) {
		t.Fatal("expected a preload hint for the optimized variant")
	}
	if !strings.Contains(body, `type="image/webp"`) {
		t.Error("expected the preload hint to carry the webp mime type")
	}
	if !strings.Contains(body, ".webp") {
		t.Error("expected the preload hint to point at the webp variant")
	}
}

func TestIndexWithoutAcceptHasNoPreloads(t *testing.T) {
	server, coreService := newFrontendTestServer(t)

	source := encodeTestPNG(t, 64, 64)
	if _, _, err := coreService.AddAsset(context.Background(), "pattern.png", "image/png", bytes.NewReader(source)); err != nil {
		t.Fatalf("failed to add asset: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/"+MainPageName, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `rel="preload"`) {
		t.Error("expected no preload hints without an Accept header")
	}
}
