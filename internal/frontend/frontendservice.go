package frontend

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/jo-hoe/gopix/internal/backend/database"
	"github.com/jo-hoe/gopix/internal/backend/optimize"
	"github.com/jo-hoe/gopix/internal/backend/rewrite"
	"github.com/jo-hoe/gopix/internal/core"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName = "index.html"
	mimePNG      = "image/png"

	// Preload hints are only worth emitting for the assets shown first.
	maxPreloadLinks = 5
)

type preloadLink struct {
	URL  string
	Type string
}

type indexData struct {
	Preloads []preloadLink
}

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
	}
}

// rootRedirectHandler redirects root path to index.html
func (service *FrontendService) rootRedirectHandler(ctx echo.Context) error {
	return ctx.Redirect(http.StatusMovedPermanently, "/"+MainPageName)
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	// Create template renderer
	e.Renderer = &Template{
		templates: template.Must(template.New("").ParseFS(templateFS, viewsPattern)),
	}

	e.GET("/", service.rootRedirectHandler) // Redirect root to index.html
	e.GET("/"+MainPageName, service.indexHandler)
	e.POST("/htmx/uploadAsset", service.htmxUploadAssetHandler)

	e.GET("/htmx/assets", service.htmxListAssetsHandler)
	e.GET("/htmx/asset/thumb/:id", service.htmxGetThumbnailByIDHandler)
	e.DELETE("/htmx/asset/:id", service.htmxDeleteAssetHandler)

	// Favicon (SVG) route
	e.GET("/icon.svg", service.iconHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	data := indexData{
		Preloads: service.preloadLinks(ctx),
	}
	return ctx.Render(http.StatusOK, MainPageName, data)
}

// preloadLinks lists optimized variants of the first assets so the
// browser can fetch them before the asset list renders. Assets without
// a variant the client accepts are skipped.
func (service *FrontendService) preloadLinks(ctx echo.Context) []preloadLink {
	accept := rewrite.ParseAccept(ctx.Request().Header.Get("Accept"))
	if !accept.Any() {
		return nil
	}

	assets, err := service.coreService.GetAllAssets()
	if err != nil {
		slog.Warn("preloadLinks: failed to list assets", "error", err)
		return nil
	}

	rewriter := service.coreService.Rewriter()
	links := make([]preloadLink, 0, maxPreloadLinks)
	for _, asset := range assets {
		if len(links) == maxPreloadLinks {
			break
		}
		url := rewriter.BestURL(ctx.Request().Context(), asset, accept)
		if url == rewriter.AssetURL(asset) {
			continue
		}
		mimeType := "image/webp"
		if strings.HasSuffix(url, ".avif") {
			mimeType = "image/avif"
		}
		links = append(links, preloadLink{URL: url, Type: mimeType})
	}
	return links
}

func (service *FrontendService) htmxUploadAssetHandler(ctx echo.Context) error {
	file, err := ctx.FormFile("file")
	if err != nil {
		slog.Error("htmxUploadAssetHandler: failed to get uploaded file",
			"status", http.StatusBadRequest, "error", err)
		return ctx.String(http.StatusBadRequest, "Failed to get uploaded file")
	}

	src, err := file.Open()
	if err != nil {
		slog.Error("htmxUploadAssetHandler: failed to open uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return ctx.String(http.StatusInternalServerError, "Failed to open uploaded file")
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("htmxUploadAssetHandler: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	mimeType := file.Header.Get(echo.HeaderContentType)
	asset, result, err := service.coreService.AddAsset(ctx.Request().Context(), file.Filename, mimeType, src)
	if err != nil {
		slog.Error("htmxUploadAssetHandler: failed to ingest uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return ctx.String(http.StatusInternalServerError, "Failed to process uploaded file")
	}

	ts := service.timestampNanoStr()

	// Out-of-band swap keeps the asset list in sync after an upload.
	listHTML, listErr := service.buildAssetListHTML(ts)
	if listErr != nil {
		slog.Error("htmxUploadAssetHandler: failed to list assets for OOB update",
			"status", http.StatusInternalServerError, "error", listErr)
		html := fmt.Sprintf(`<div id="upload-result">Uploaded file: %s</div>`, asset.FileName)
		return ctx.HTML(http.StatusOK, html)
	}
	listOOB := fmt.Sprintf(`<div id="asset-list" hx-swap-oob="true">%s</div>`, listHTML)

	html := fmt.Sprintf(`<div id="upload-result">Uploaded file: %s%s</div>%s`,
		asset.FileName, uploadOutcomeHTML(result), listOOB)
	return ctx.HTML(http.StatusOK, html)
}

func (service *FrontendService) htmxListAssetsHandler(ctx echo.Context) error {
	listHTML, err := service.buildAssetListHTML(service.timestampNanoStr())
	if err != nil {
		slog.Error("htmxListAssetsHandler: failed to list assets",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to list assets")
	}

	// Prevent caching so the latest assets are always shown
	service.setNoCache(ctx)

	return ctx.HTML(http.StatusOK, listHTML)
}

func (service *FrontendService) htmxGetThumbnailByIDHandler(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		slog.Warn("htmxGetThumbnailByIDHandler: invalid asset id",
			"status", http.StatusBadRequest, "id", ctx.Param("id"))
		return ctx.String(http.StatusBadRequest, "Invalid asset ID")
	}

	asset, err := service.coreService.GetAsset(id)
	if err != nil || asset == nil {
		slog.Warn("htmxGetThumbnailByIDHandler: asset not available",
			"status", http.StatusNotFound, "asset_id", id, "error", err)
		return ctx.String(http.StatusNotFound, "Asset not available")
	}

	data, err := os.ReadFile(service.coreService.MediaStore().Path(asset.RelPath))
	if err != nil {
		slog.Warn("htmxGetThumbnailByIDHandler: media file not readable",
			"status", http.StatusNotFound, "asset_id", id, "error", err)
		return ctx.String(http.StatusNotFound, "Asset not available")
	}

	thumbnail, err := renderThumbnail(data, service.config.ThumbnailWidth)
	if err != nil || len(thumbnail) == 0 {
		slog.Warn("htmxGetThumbnailByIDHandler: thumbnail not available",
			"status", http.StatusNotFound, "asset_id", id, "error", err)
		return ctx.String(http.StatusNotFound, "Thumbnail not available")
	}

	// Prevent caching
	service.setNoCache(ctx)

	return ctx.Blob(http.StatusOK, mimePNG, thumbnail)
}

func (service *FrontendService) htmxDeleteAssetHandler(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		slog.Warn("htmxDeleteAssetHandler: invalid asset id",
			"status", http.StatusBadRequest, "id", ctx.Param("id"))
		return ctx.String(http.StatusBadRequest, "Invalid asset ID")
	}

	if err := service.coreService.DeleteAsset(ctx.Request().Context(), id); err != nil {
		slog.Error("htmxDeleteAssetHandler: failed to delete asset",
			"status", http.StatusInternalServerError, "asset_id", id, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to delete asset")
	}

	listHTML, err := service.buildAssetListHTML(service.timestampNanoStr())
	if err != nil {
		slog.Error("htmxDeleteAssetHandler: failed to list assets after delete",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to list assets")
	}

	// Prevent caching so the latest state is shown
	service.setNoCache(ctx)

	return ctx.HTML(http.StatusOK, listHTML)
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}

func (service *FrontendService) timestampNanoStr() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func (service *FrontendService) buildAssetListHTML(ts string) (string, error) {
	assets, err := service.coreService.GetAllAssets()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if len(assets) == 0 {
		b.WriteString(`<p>No assets uploaded yet.</p>`)
		return b.String(), nil
	}

	b.WriteString(`<div class="vertical-list" id="asset-sort-list">`)
	for _, asset := range assets {
		record, err := service.coreService.GetConversion(asset.ID)
		if err != nil {
			return "", err
		}

		b.WriteString(fmt.Sprintf(`<div class="vertical-item" data-id="%d" style="margin-bottom:1rem"><article>
	<img src="/htmx/asset/thumb/%d?ts=%s" alt="Thumbnail %s" style="max-width:100%%;height:auto">
	<footer style="display:flex;gap:0.5rem;align-items:center;flex-wrap:wrap">
		<small>%s · %dx%d · %s</small>
		%s
		<button hx-delete="/htmx/asset/%d" hx-target="#asset-list" hx-swap="innerHTML" class="secondary">Delete</button>
	</footer>
</article></div>`, asset.ID, asset.ID, ts, asset.FileName,
			asset.FileName, asset.Width, asset.Height, formatBytes(asset.Size),
			optimizationBadgeHTML(record), asset.ID))
	}
	b.WriteString(`</div>`)
	return b.String(), nil
}

// optimizationBadgeHTML summarizes the conversion record of one asset.
func optimizationBadgeHTML(record *database.ConversionRecord) string {
	if record == nil {
		return `<small>not optimized</small>`
	}
	switch record.Status {
	case database.StatusCompleted:
		best := record.OriginalSize
		if record.AvifSize != nil && *record.AvifSize < best {
			best = *record.AvifSize
		}
		if record.WebpSize != nil && *record.WebpSize < best {
			best = *record.WebpSize
		}
		savings := optimize.SavingsPercent(record.OriginalSize, best)
		return fmt.Sprintf(`<small>optimized · %.1f%% saved</small>`, savings)
	case database.StatusSkipped:
		return `<small>skipped · savings below threshold</small>`
	case database.StatusFailed:
		return `<small>optimization failed</small>`
	default:
		return fmt.Sprintf(`<small>%s</small>`, record.Status)
	}
}

func uploadOutcomeHTML(result *optimize.Result) string {
	if result == nil || !result.Eligible {
		return ""
	}
	switch result.Status {
	case database.StatusCompleted:
		return " (optimized)"
	case database.StatusSkipped:
		return " (kept original, savings below threshold)"
	case database.StatusFailed:
		return " (optimization failed)"
	}
	return ""
}

func formatBytes(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := templateFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}
