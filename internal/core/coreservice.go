package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/jo-hoe/gopix/internal/backend/cache"
	"github.com/jo-hoe/gopix/internal/backend/database"
	"github.com/jo-hoe/gopix/internal/backend/imageprocessing"
	"github.com/jo-hoe/gopix/internal/backend/optimize"
	"github.com/jo-hoe/gopix/internal/backend/rewrite"
)

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	recordCache     *cache.RecordCache
	converter       *imageprocessing.Converter
	pipeline        *optimize.Pipeline
	rewriter        *rewrite.Rewriter
	mediaStore      *MediaStore
}

func NewCoreService(config *ServiceConfig) *CoreService {
	databaseService, err := getDatabaseService(config)
	if err != nil {
		slog.Error("failed to initialize database service", "error", err)
		panic(err)
	}

	recordCache, err := cache.NewRecordCache(config.Cache.Address, config.Cache.DB, time.Duration(config.Cache.TTLSeconds)*time.Second)
	if err != nil {
		slog.Error("failed to initialize record cache", "error", err)
		panic(err)
	}

	mediaStore, err := NewMediaStore(config.MediaRoot)
	if err != nil {
		slog.Error("failed to initialize media store", "error", err)
		panic(err)
	}

	converter := imageprocessing.NewConverter()
	pipeline := optimize.NewPipeline(pipelineSettings(config), converter, databaseService, recordCache, config.MediaRoot)
	rewriter := rewrite.NewRewriter(databaseService, recordCache, config.MediaRoot, config.MediaBaseURL, config.Optimization.Enabled)

	return &CoreService{
		config:          config,
		databaseService: databaseService,
		recordCache:     recordCache,
		converter:       converter,
		pipeline:        pipeline,
		rewriter:        rewriter,
		mediaStore:      mediaStore,
	}
}

func (service *CoreService) Rewriter() *rewrite.Rewriter {
	return service.rewriter
}

func (service *CoreService) MediaStore() *MediaStore {
	return service.mediaStore
}

// AddAsset ingests one uploaded file: it is stored under the media
// root, registered in the database, and handed to the conversion
// pipeline. Pipeline failures never fail the upload.
func (service *CoreService) AddAsset(ctx context.Context, fileName, mimeType string, reader io.Reader) (*database.Asset, *optimize.Result, error) {
	relPath, size, err := service.mediaStore.Save(fileName, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("could not store upload: %w", err)
	}

	asset := &database.Asset{
		FileName: fileNameOf(relPath),
		RelPath:  relPath,
		Mime:     mimeType,
		Size:     size,
	}
	if probe, err := imageprocessing.Probe(service.mediaStore.Path(relPath)); err == nil {
		asset.Width = probe.Width
		asset.Height = probe.Height
		if asset.Mime == "" {
			asset.Mime = probe.MIME
		}
	}

	id, err := service.databaseService.CreateAsset(asset)
	if err != nil {
		removeErr := service.mediaStore.Remove(relPath)
		if removeErr != nil {
			slog.Warn("could not remove orphaned upload", "path", relPath, "error", removeErr)
		}
		return nil, nil, fmt.Errorf("could not register asset: %w", err)
	}
	asset.ID = id

	result := service.pipeline.ProcessAsset(ctx, asset)
	return asset, result, nil
}

// ConvertAsset re-runs the conversion pipeline for an existing asset,
// optionally restricted to the named target formats. The record upsert
// makes repeated conversions safe.
func (service *CoreService) ConvertAsset(ctx context.Context, id int64, formatNames []string) (*optimize.Result, error) {
	asset, err := service.databaseService.GetAssetByID(id)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, nil
	}

	formats := make([]imageprocessing.Format, 0, len(formatNames))
	for _, name := range formatNames {
		format, err := imageprocessing.ParseFormat(name)
		if err != nil {
			return nil, err
		}
		formats = append(formats, format)
	}
	return service.pipeline.ProcessAssetFormats(ctx, asset, formats), nil
}

func (service *CoreService) GetAsset(id int64) (*database.Asset, error) {
	return service.databaseService.GetAssetByID(id)
}

func (service *CoreService) FindAssetByFileName(fileName string) (*database.Asset, error) {
	return service.databaseService.GetAssetByFileName(fileName)
}

func (service *CoreService) GetAllAssets() ([]*database.Asset, error) {
	return service.databaseService.GetAllAssets()
}

func (service *CoreService) GetConversion(assetID int64) (*database.ConversionRecord, error) {
	return service.databaseService.GetConversionByAssetID(assetID)
}

// DeleteAsset removes the asset row, its conversion record, the
// original file and any optimized variants.
func (service *CoreService) DeleteAsset(ctx context.Context, id int64) error {
	asset, err := service.databaseService.GetAssetByID(id)
	if err != nil {
		return err
	}
	if asset == nil {
		return nil
	}

	record, err := service.databaseService.GetConversionByAssetID(id)
	if err != nil {
		slog.Warn("could not load conversion record for deletion", "assetId", id, "error", err)
	}

	if err := service.databaseService.DeleteConversion(id); err != nil {
		return fmt.Errorf("could not delete conversion record: %w", err)
	}
	if err := service.databaseService.DeleteAsset(id); err != nil {
		return fmt.Errorf("could not delete asset: %w", err)
	}
	service.recordCache.Invalidate(ctx, id)

	if err := service.mediaStore.Remove(asset.RelPath); err != nil {
		slog.Warn("could not remove media file", "path", asset.RelPath, "error", err)
	}
	if record != nil {
		for _, variant := range []*string{record.AvifPath, record.WebpPath} {
			if variant == nil {
				continue
			}
			if err := service.mediaStore.Remove(*variant); err != nil {
				slog.Warn("could not remove variant file", "path", *variant, "error", err)
			}
		}
	}
	return nil
}

func (service *CoreService) GetOptimizationStats() (*database.OptimizationStats, error) {
	return service.databaseService.GetOptimizationStats()
}

// Capabilities lists each conversion backend with the formats it can
// produce, in fallback order.
func (service *CoreService) Capabilities() map[string][]string {
	return service.converter.Capabilities()
}

func (service *CoreService) Close() error {
	if err := service.recordCache.Close(); err != nil {
		slog.Warn("could not close record cache", "error", err)
	}
	return service.databaseService.Close()
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func pipelineSettings(config *ServiceConfig) optimize.Settings {
	opt := config.Optimization
	return optimize.Settings{
		Enabled:            opt.Enabled,
		AutoConvert:        opt.AutoConvert,
		EnableAvif:         opt.EnableAvif,
		EnableWebp:         opt.EnableWebp,
		AvifQuality:        opt.AvifQuality,
		WebpQuality:        opt.WebpQuality,
		AvifSpeed:          opt.AvifSpeed,
		WebpMethod:         opt.WebpMethod,
		MinSavingsPercent:  opt.MinSavingsPercent,
		MinSourceSizeBytes: opt.MinSourceSizeBytes,
		MaxDimension:       opt.MaxDimension,
		Timeout:            time.Duration(opt.TimeoutSeconds) * time.Second,
	}
}

func fileNameOf(relPath string) string {
	return path.Base(relPath)
}
