package database

import "time"

// Conversion statuses. A row moves from pending to exactly one of the
// other three after a conversion attempt.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Asset is one uploaded media file.
type Asset struct {
	ID       int64  `db:"id"`
	FileName string `db:"file_name"`
	// RelPath is the storage path relative to the media root, e.g.
	// "2026/08/sunset.jpg". It doubles as the public URL suffix.
	RelPath   string    `db:"rel_path"`
	Mime      string    `db:"mime"`
	Size      int64     `db:"size"`
	Width     int       `db:"width"`
	Height    int       `db:"height"`
	CreatedAt time.Time `db:"created_at"`
}

// ConversionRecord is the persisted outcome of optimizing one asset.
// There is at most one row per asset; repeated conversion attempts
// overwrite the previous outcome.
type ConversionRecord struct {
	AssetID        int64  `db:"asset_id"`
	OriginalFormat string `db:"original_format"`
	// Variant paths are relative to the media root and nil when the
	// format was not produced or was discarded.
	AvifPath     *string   `db:"avif_path"`
	WebpPath     *string   `db:"webp_path"`
	OriginalSize int64     `db:"original_size"`
	AvifSize     *int64    `db:"avif_size"`
	WebpSize     *int64    `db:"webp_size"`
	Status       string    `db:"status"`
	Message      string    `db:"message"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// HasVariant reports whether at least one optimized variant is recorded.
func (r *ConversionRecord) HasVariant() bool {
	return r != nil && (r.AvifPath != nil || r.WebpPath != nil)
}

// OptimizationStats aggregates the conversions table for admin views.
type OptimizationStats struct {
	TotalConversions  int64   `json:"totalConversions"`
	AvifConversions   int64   `json:"avifConversions"`
	WebpConversions   int64   `json:"webpConversions"`
	SkippedAssets     int64   `json:"skippedAssets"`
	FailedAssets      int64   `json:"failedAssets"`
	TotalBytesSaved   int64   `json:"totalBytesSaved"`
	AverageSavingsPct float64 `json:"averageSavingsPercent"`
}
