package backend

import (
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jo-hoe/gopix/internal/backend/database"
	"github.com/jo-hoe/gopix/internal/backend/imageprocessing"
	"github.com/jo-hoe/gopix/internal/backend/optimize"
	"github.com/jo-hoe/gopix/internal/backend/rewrite"
	"github.com/jo-hoe/gopix/internal/core"

	"github.com/labstack/echo/v4"
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

type AssetResponse struct {
	ID        int64  `json:"id"`
	FileName  string `json:"fileName"`
	URL       string `json:"url"`
	Mime      string `json:"mime"`
	Size      int64  `json:"size"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	CreatedAt string `json:"createdAt"`

	Optimization *OptimizationResponse `json:"optimization,omitempty"`
}

type OptimizationResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message,omitempty"`
	AvifURL     *string  `json:"avifUrl,omitempty"`
	WebpURL     *string  `json:"webpUrl,omitempty"`
	AvifSavings *float64 `json:"avifSavingsPercent,omitempty"`
	WebpSavings *float64 `json:"webpSavingsPercent,omitempty"`
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "API Service is running")
	})

	e.POST("/api/assets", s.createAsset)
	e.GET("/api/assets", s.listAssets)
	e.GET("/api/assets/:id", s.getAsset)
	e.GET("/api/assets/:id/markup", s.getMarkup)
	e.POST("/api/assets/:id/convert", s.convertAsset)
	e.DELETE("/api/assets/:id", s.deleteAsset)
	e.GET("/api/stats", s.getStats)
	e.GET("/api/capabilities", s.getCapabilities)

	e.GET(path.Join(s.config.MediaBaseURL, "*"), s.serveMedia)
}

func (s *APIService) createAsset(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing form file 'file'")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
	}
	defer file.Close()

	mimeType := fileHeader.Header.Get(echo.HeaderContentType)
	asset, _, err := s.coreService.AddAsset(c.Request().Context(), fileHeader.Filename, mimeType, file)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	record, err := s.coreService.GetConversion(asset.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, s.toResponse(asset, record))
}

func (s *APIService) listAssets(c echo.Context) error {
	assets, err := s.coreService.GetAllAssets()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	responses := make([]*AssetResponse, 0, len(assets))
	for _, asset := range assets {
		record, err := s.coreService.GetConversion(asset.ID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		responses = append(responses, s.toResponse(asset, record))
	}
	return c.JSON(http.StatusOK, responses)
}

func (s *APIService) getAsset(c echo.Context) error {
	asset, err := s.loadAsset(c)
	if err != nil {
		return err
	}

	record, err := s.coreService.GetConversion(asset.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.toResponse(asset, record))
}

// getMarkup returns the picture element for an asset, ready to embed.
// The element carries every kept variant; format selection is left to
// the browser.
func (s *APIService) getMarkup(c echo.Context) error {
	asset, err := s.loadAsset(c)
	if err != nil {
		return err
	}

	rewriter := s.coreService.Rewriter()
	imgTag := rewriter.ImgTag(asset, map[string]string{
		"alt":     asset.FileName,
		"loading": "lazy",
	})
	markup := rewriter.PictureElement(c.Request().Context(), asset, imgTag)
	return c.HTML(http.StatusOK, markup)
}

type ConvertRequest struct {
	// Formats restricts which variants are produced; empty means every
	// format enabled in the settings.
	Formats []string `json:"formats" validate:"omitempty,dive,oneof=avif webp"`
}

type ConvertResponse struct {
	Eligible     bool                  `json:"eligible"`
	Status       string                `json:"status,omitempty"`
	Message      string                `json:"message,omitempty"`
	Optimization *OptimizationResponse `json:"optimization,omitempty"`
}

// convertAsset runs the conversion pipeline on demand for an existing
// asset, e.g. after settings changed or a variant file was lost.
func (s *APIService) convertAsset(c echo.Context) error {
	asset, err := s.loadAsset(c)
	if err != nil {
		return err
	}

	request := new(ConvertRequest)
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(request); err != nil {
		return err
	}

	result, err := s.coreService.ConvertAsset(c.Request().Context(), asset.ID, request.Formats)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if result == nil {
		return echo.NewHTTPError(http.StatusNotFound, "asset not found")
	}

	response := &ConvertResponse{
		Eligible: result.Eligible,
		Status:   result.Status,
		Message:  result.Message,
	}
	if result.Eligible {
		record, err := s.coreService.GetConversion(asset.ID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if record != nil {
			response.Optimization = s.toOptimizationResponse(asset, record)
		}
	}
	return c.JSON(http.StatusOK, response)
}

func (s *APIService) deleteAsset(c echo.Context) error {
	asset, err := s.loadAsset(c)
	if err != nil {
		return err
	}

	if err := s.coreService.DeleteAsset(c.Request().Context(), asset.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIService) getStats(c echo.Context) error {
	stats, err := s.coreService.GetOptimizationStats()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *APIService) getCapabilities(c echo.Context) error {
	return c.JSON(http.StatusOK, s.coreService.Capabilities())
}

// serveMedia delivers media files with content negotiation: when the
// request accepts AVIF or WebP and a kept variant exists, the variant
// file is served in place of the original.
func (s *APIService) serveMedia(c echo.Context) error {
	requested := c.Param("*")

	// The wildcard arrives unnormalized; a path with dot segments must
	// never resolve to a file outside the media root.
	root := s.coreService.MediaStore().Root()
	filePath := s.coreService.MediaStore().Path(requested)
	if !strings.HasPrefix(filePath, root+string(filepath.Separator)) {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}

	c.Response().Header().Add("Vary", "Accept")

	if imageprocessing.IsOptimizedExt(requested) {
		return c.File(filePath)
	}

	accept := rewrite.ParseAccept(c.Request().Header.Get("Accept"))
	if accept.Any() {
		if variant := s.bestVariantPath(c, requested, accept); variant != "" {
			return c.File(variant)
		}
	}
	return c.File(filePath)
}

func (s *APIService) bestVariantPath(c echo.Context, requested string, accept rewrite.ClientSupport) string {
	asset, err := s.coreService.FindAssetByFileName(path.Base(requested))
	if err != nil || asset == nil || asset.RelPath != requested {
		return ""
	}

	url := s.coreService.Rewriter().BestURL(c.Request().Context(), asset, accept)
	original := s.coreService.Rewriter().AssetURL(asset)
	if url == original {
		return ""
	}
	return s.coreService.MediaStore().Path(urlSuffix(url, s.config.MediaBaseURL))
}

func (s *APIService) loadAsset(c echo.Context) (*database.Asset, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid asset id")
	}

	asset, err := s.coreService.GetAsset(id)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if asset == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "asset not found")
	}
	return asset, nil
}

func (s *APIService) toResponse(asset *database.Asset, record *database.ConversionRecord) *AssetResponse {
	response := &AssetResponse{
		ID:        asset.ID,
		FileName:  asset.FileName,
		URL:       s.coreService.Rewriter().AssetURL(asset),
		Mime:      asset.Mime,
		Size:      asset.Size,
		Width:     asset.Width,
		Height:    asset.Height,
		CreatedAt: asset.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if record != nil {
		response.Optimization = s.toOptimizationResponse(asset, record)
	}
	return response
}

func (s *APIService) toOptimizationResponse(asset *database.Asset, record *database.ConversionRecord) *OptimizationResponse {
	response := &OptimizationResponse{
		Status:  record.Status,
		Message: record.Message,
	}
	if record.AvifPath != nil {
		url := s.variantURL(*record.AvifPath)
		response.AvifURL = &url
		if record.AvifSize != nil {
			savings := optimize.SavingsPercent(record.OriginalSize, *record.AvifSize)
			response.AvifSavings = &savings
		}
	}
	if record.WebpPath != nil {
		url := s.variantURL(*record.WebpPath)
		response.WebpURL = &url
		if record.WebpSize != nil {
			savings := optimize.SavingsPercent(record.OriginalSize, *record.WebpSize)
			response.WebpSavings = &savings
		}
	}
	return response
}

func (s *APIService) variantURL(relPath string) string {
	return s.config.MediaBaseURL + "/" + relPath
}

func urlSuffix(url, baseURL string) string {
	return strings.TrimPrefix(strings.TrimPrefix(url, baseURL), "/")
}
