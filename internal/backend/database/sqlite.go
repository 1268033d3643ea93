package database

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}

	// An in-memory database exists per connection; without this the
	// pool would hand out fresh, empty databases.
	if strings.Contains(connectionString, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() (*sql.DB, error) {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT NOT NULL,
		rel_path TEXT NOT NULL UNIQUE,
		mime TEXT NOT NULL,
		size INTEGER NOT NULL,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS conversions (
		asset_id INTEGER PRIMARY KEY REFERENCES assets(id),
		original_format TEXT NOT NULL,
		avif_path TEXT,
		webp_path TEXT,
		original_size INTEGER NOT NULL,
		avif_size INTEGER,
		webp_size INTEGER,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_assets_file_name ON assets(file_name)`)
	if err != nil {
		return nil, err
	}

	return s.db, nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLiteDatabase) CreateAsset(asset *Asset) (int64, error) {
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now()
	}
	result, err := s.db.Exec(
		"INSERT INTO assets (file_name, rel_path, mime, size, width, height, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		asset.FileName, asset.RelPath, asset.Mime, asset.Size, asset.Width, asset.Height, asset.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	asset.ID = id
	return id, nil
}

func (s *SQLiteDatabase) GetAssetByID(id int64) (*Asset, error) {
	row := s.db.QueryRow(
		"SELECT id, file_name, rel_path, mime, size, width, height, created_at FROM assets WHERE id = ?", id)
	return scanAsset(row)
}

func (s *SQLiteDatabase) GetAssetByFileName(fileName string) (*Asset, error) {
	row := s.db.QueryRow(
		"SELECT id, file_name, rel_path, mime, size, width, height, created_at FROM assets WHERE file_name = ? ORDER BY id LIMIT 1",
		fileName)
	return scanAsset(row)
}

func (s *SQLiteDatabase) GetAllAssets() ([]*Asset, error) {
	rows, err := s.db.Query(
		"SELECT id, file_name, rel_path, mime, size, width, height, created_at FROM assets ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	var assets []*Asset
	for rows.Next() {
		var a Asset
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.FileName, &a.RelPath, &a.Mime, &a.Size, &a.Width, &a.Height, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(createdAt, 0)
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

func (s *SQLiteDatabase) DeleteAsset(id int64) error {
	_, err := s.db.Exec("DELETE FROM assets WHERE id = ?", id)
	return err
}

func (s *SQLiteDatabase) UpsertConversion(record *ConversionRecord) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO conversions
		(asset_id, original_format, avif_path, webp_path, original_size, avif_size, webp_size, status, message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			original_format = excluded.original_format,
			avif_path = excluded.avif_path,
			webp_path = excluded.webp_path,
			original_size = excluded.original_size,
			avif_size = excluded.avif_size,
			webp_size = excluded.webp_size,
			status = excluded.status,
			message = excluded.message,
			updated_at = excluded.updated_at`,
		record.AssetID, record.OriginalFormat, record.AvifPath, record.WebpPath,
		record.OriginalSize, record.AvifSize, record.WebpSize,
		record.Status, record.Message, record.UpdatedAt.Unix(),
	)
	return err
}

func (s *SQLiteDatabase) GetConversionByAssetID(assetID int64) (*ConversionRecord, error) {
	row := s.db.QueryRow(`SELECT asset_id, original_format, avif_path, webp_path,
		original_size, avif_size, webp_size, status, message, updated_at
		FROM conversions WHERE asset_id = ?`, assetID)

	var r ConversionRecord
	var updatedAt int64
	err := row.Scan(&r.AssetID, &r.OriginalFormat, &r.AvifPath, &r.WebpPath,
		&r.OriginalSize, &r.AvifSize, &r.WebpSize, &r.Status, &r.Message, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}

func (s *SQLiteDatabase) DeleteConversion(assetID int64) error {
	_, err := s.db.Exec("DELETE FROM conversions WHERE asset_id = ?", assetID)
	return err
}

func (s *SQLiteDatabase) GetOptimizationStats() (*OptimizationStats, error) {
	stats := &OptimizationStats{}

	row := s.db.QueryRow(`SELECT
		COUNT(CASE WHEN status = ? THEN 1 END),
		COUNT(CASE WHEN status = ? AND avif_path IS NOT NULL THEN 1 END),
		COUNT(CASE WHEN status = ? AND webp_path IS NOT NULL THEN 1 END),
		COUNT(CASE WHEN status = ? THEN 1 END),
		COUNT(CASE WHEN status = ? THEN 1 END),
		COALESCE(SUM(CASE WHEN status = ? THEN
			original_size - MIN(COALESCE(avif_size, original_size), COALESCE(webp_size, original_size))
		END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN original_size END), 0)
		FROM conversions`,
		StatusCompleted, StatusCompleted, StatusCompleted,
		StatusSkipped, StatusFailed,
		StatusCompleted, StatusCompleted)

	var totalOriginal int64
	err := row.Scan(&stats.TotalConversions, &stats.AvifConversions, &stats.WebpConversions,
		&stats.SkippedAssets, &stats.FailedAssets, &stats.TotalBytesSaved, &totalOriginal)
	if err != nil {
		return nil, err
	}

	if totalOriginal > 0 {
		stats.AverageSavingsPct = float64(stats.TotalBytesSaved) / float64(totalOriginal) * 100
	}

	return stats, nil
}

func scanAsset(row *sql.Row) (*Asset, error) {
	var a Asset
	var createdAt int64
	err := row.Scan(&a.ID, &a.FileName, &a.RelPath, &a.Mime, &a.Size, &a.Width, &a.Height, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}
