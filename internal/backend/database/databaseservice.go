package database

import "database/sql"

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	CreateAsset(asset *Asset) (int64, error)
	GetAssetByID(id int64) (*Asset, error)
	// GetAssetByFileName resolves render-time URLs back to an asset.
	// Matching is by exact stored file name.
	GetAssetByFileName(fileName string) (*Asset, error)
	GetAllAssets() ([]*Asset, error)
	DeleteAsset(id int64) error

	// UpsertConversion writes the conversion outcome for an asset as a
	// single atomic insert-or-update keyed by asset_id, so concurrent
	// attempts on the same asset can never produce two rows.
	UpsertConversion(record *ConversionRecord) error
	GetConversionByAssetID(assetID int64) (*ConversionRecord, error)
	DeleteConversion(assetID int64) error

	GetOptimizationStats() (*OptimizationStats, error)
}
