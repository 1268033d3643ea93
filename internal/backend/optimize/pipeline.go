// Package optimize runs the upload-triggered conversion pipeline:
// eligibility gates, per-format conversion, savings evaluation against
// the configured threshold, and the conversion-record upsert. It is
// strictly best-effort; nothing in here may fail an upload.
package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jo-hoe/gopix/internal/backend/cache"
	"github.com/jo-hoe/gopix/internal/backend/database"
	"github.com/jo-hoe/gopix/internal/backend/imageprocessing"
)

// Settings is the pipeline's slice of the service configuration,
// injected explicitly instead of read from a global.
type Settings struct {
	Enabled     bool
	AutoConvert bool

	EnableAvif  bool
	EnableWebp  bool
	AvifQuality int
	WebpQuality int
	AvifSpeed   int
	WebpMethod  int

	MinSavingsPercent  float64
	MinSourceSizeBytes int64
	MaxDimension       int
	Timeout            time.Duration
}

// FormatConverter is the converter contract the pipeline depends on.
type FormatConverter interface {
	Convert(ctx context.Context, sourcePath string, format imageprocessing.Format, opts imageprocessing.EncodeOptions) (*imageprocessing.Output, error)
}

// Result is the transient outcome of one pipeline run, before it is
// mapped into the persisted conversion record.
type Result struct {
	AssetID      int64
	Eligible     bool
	Status       string
	Message      string
	OriginalSize int64
	AvifPath     string
	AvifSize     int64
	AvifSavings  float64
	WebpPath     string
	WebpSize     int64
	WebpSavings  float64
}

type Pipeline struct {
	settings  Settings
	converter FormatConverter
	db        database.DatabaseService
	cache     *cache.RecordCache
	mediaRoot string
}

func NewPipeline(settings Settings, converter FormatConverter, db database.DatabaseService, recordCache *cache.RecordCache, mediaRoot string) *Pipeline {
	return &Pipeline{
		settings:  settings,
		converter: converter,
		db:        db,
		cache:     recordCache,
		mediaRoot: mediaRoot,
	}
}

// ProcessAsset converts a freshly ingested asset. It is idempotent:
// re-running on an already-converted asset overwrites its record. The
// returned result is informational; callers must treat any outcome as
// non-fatal.
func (p *Pipeline) ProcessAsset(ctx context.Context, asset *database.Asset) *Result {
	return p.process(ctx, asset, p.settings.EnableAvif, p.settings.EnableWebp)
}

// ProcessAssetFormats is ProcessAsset restricted to the requested
// target formats, for on-demand reconversion. Formats not enabled in
// the settings stay off; an empty list means every enabled format.
func (p *Pipeline) ProcessAssetFormats(ctx context.Context, asset *database.Asset, formats []imageprocessing.Format) *Result {
	enableAvif := p.settings.EnableAvif
	enableWebp := p.settings.EnableWebp
	if len(formats) > 0 {
		requestedAvif, requestedWebp := false, false
		for _, format := range formats {
			switch format {
			case imageprocessing.FormatAvif:
				requestedAvif = true
			case imageprocessing.FormatWebp:
				requestedWebp = true
			}
		}
		enableAvif = enableAvif && requestedAvif
		enableWebp = enableWebp && requestedWebp
	}
	return p.process(ctx, asset, enableAvif, enableWebp)
}

func (p *Pipeline) process(ctx context.Context, asset *database.Asset, enableAvif, enableWebp bool) *Result {
	result := &Result{AssetID: asset.ID}

	if !p.eligible(asset, result) {
		return result
	}
	result.Eligible = true

	sourcePath := filepath.Join(p.mediaRoot, filepath.FromSlash(asset.RelPath))
	info, err := os.Stat(sourcePath)
	if err != nil {
		slog.Error("source file missing at conversion time", "asset_id", asset.ID, "path", sourcePath, "error", err)
		result.Status = database.StatusFailed
		result.Message = fmt.Sprintf("source file not readable: %v", err)
		p.persist(ctx, asset, result)
		return result
	}
	result.OriginalSize = info.Size()

	ctx, cancel := context.WithTimeout(ctx, p.settings.Timeout)
	defer cancel()

	if enableAvif {
		p.convertFormat(ctx, asset, sourcePath, imageprocessing.FormatAvif, result)
	}
	if enableWebp {
		p.convertFormat(ctx, asset, sourcePath, imageprocessing.FormatWebp, result)
	}

	p.applyThreshold(asset, result)
	p.persist(ctx, asset, result)
	return result
}

func (p *Pipeline) eligible(asset *database.Asset, result *Result) bool {
	if !p.settings.Enabled || !p.settings.AutoConvert {
		return false
	}
	if !imageprocessing.IsConvertibleMIME(asset.Mime) {
		return false
	}
	if asset.Size < p.settings.MinSourceSizeBytes {
		slog.Debug("asset below size floor; skipping optimization",
			"asset_id", asset.ID, "size_bytes", asset.Size, "floor_bytes", p.settings.MinSourceSizeBytes)
		return false
	}
	if asset.Width > p.settings.MaxDimension || asset.Height > p.settings.MaxDimension {
		slog.Debug("asset exceeds dimension cap; skipping optimization",
			"asset_id", asset.ID, "width", asset.Width, "height", asset.Height, "cap", p.settings.MaxDimension)
		return false
	}
	return true
}

func (p *Pipeline) convertFormat(ctx context.Context, asset *database.Asset, sourcePath string, format imageprocessing.Format, result *Result) {
	opts := imageprocessing.EncodeOptions{
		Quality: p.settings.AvifQuality,
		Speed:   p.settings.AvifSpeed,
		Method:  p.settings.WebpMethod,
	}
	if format == imageprocessing.FormatWebp {
		opts.Quality = p.settings.WebpQuality
	}

	output, err := p.converter.Convert(ctx, sourcePath, format, opts)
	if err != nil {
		// Per-format failure is tolerated; the other format may still
		// make the asset worth optimizing.
		slog.Warn("conversion failed", "asset_id", asset.ID, "format", format, "error", err)
		return
	}

	savings := SavingsPercent(result.OriginalSize, output.Size)
	switch format {
	case imageprocessing.FormatAvif:
		result.AvifPath = output.Path
		result.AvifSize = output.Size
		result.AvifSavings = savings
	case imageprocessing.FormatWebp:
		result.WebpPath = output.Path
		result.WebpSize = output.Size
		result.WebpSavings = savings
	}
	slog.Info("conversion succeeded",
		"asset_id", asset.ID,
		"format", format,
		"output_size_bytes", output.Size,
		"savings_percent", fmt.Sprintf("%.1f", savings))
}

// applyThreshold decides the final status. Variants that do not clear
// the minimum savings bar are deleted; keeping them would be storage
// bloat without a delivery benefit.
func (p *Pipeline) applyThreshold(asset *database.Asset, result *Result) {
	if result.AvifPath == "" && result.WebpPath == "" {
		result.Status = database.StatusFailed
		result.Message = "no variant could be produced"
		return
	}

	bestSavings := result.AvifSavings
	if result.WebpSavings > bestSavings {
		bestSavings = result.WebpSavings
	}

	if bestSavings < p.settings.MinSavingsPercent {
		p.removeVariants(result)
		result.Status = database.StatusSkipped
		result.Message = fmt.Sprintf(
			"below savings threshold: AVIF %.0f%%, WebP %.0f%% (minimum %.0f%% required)",
			result.AvifSavings, result.WebpSavings, p.settings.MinSavingsPercent)
		slog.Info("variants discarded below savings threshold",
			"asset_id", asset.ID,
			"best_savings_percent", fmt.Sprintf("%.1f", bestSavings),
			"threshold_percent", p.settings.MinSavingsPercent)
		return
	}

	result.Status = database.StatusCompleted
	result.Message = fmt.Sprintf(
		"converted: AVIF %.0f%% savings, WebP %.0f%% savings",
		result.AvifSavings, result.WebpSavings)
}

func (p *Pipeline) removeVariants(result *Result) {
	for _, path := range []string{result.AvifPath, result.WebpPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove discarded variant", "path", path, "error", err)
		}
	}
	result.AvifPath = ""
	result.AvifSize = 0
	result.WebpPath = ""
	result.WebpSize = 0
}

// persist maps the result into a conversion record, upserts it, and
// refreshes the record cache. Store failures are logged, never raised:
// the upload has already succeeded and must stay that way.
func (p *Pipeline) persist(ctx context.Context, asset *database.Asset, result *Result) {
	record := &database.ConversionRecord{
		AssetID:        asset.ID,
		OriginalFormat: asset.Mime,
		OriginalSize:   result.OriginalSize,
		Status:         result.Status,
		Message:        result.Message,
		UpdatedAt:      time.Now(),
	}
	if result.AvifPath != "" {
		relPath := p.relToMediaRoot(result.AvifPath)
		record.AvifPath = &relPath
		record.AvifSize = &result.AvifSize
	}
	if result.WebpPath != "" {
		relPath := p.relToMediaRoot(result.WebpPath)
		record.WebpPath = &relPath
		record.WebpSize = &result.WebpSize
	}

	if err := p.db.UpsertConversion(record); err != nil {
		slog.Error("failed to persist conversion record", "asset_id", asset.ID, "error", err)
		return
	}
	p.cache.Set(ctx, record)
}

func (p *Pipeline) relToMediaRoot(path string) string {
	rel, err := filepath.Rel(p.mediaRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
