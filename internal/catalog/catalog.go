package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Asset is one finished extraction: the isolated image and the generated
// 3D model, both already uploaded, plus the pin they came from.
type Asset struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	SourceImageURL  string    `json:"source_image_url"`
	ItemDescription string    `json:"item_description"`
	ImageURL        string    `json:"image_url"`
	ImageKey        string    `json:"image_key"`
	ModelURL        string    `json:"model_url"`
	ModelKey        string    `json:"model_key"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store is the sqlite-backed asset index.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// SaveAsset records a finished extraction. A zero ID and CreatedAt are
// filled in.
func (s *Store) SaveAsset(ctx context.Context, asset *Asset) error {
	if asset == nil {
		return fmt.Errorf("asset is nil")
	}
	if asset.ID == "" {
		id := uuid.New()
		asset.ID = hex.EncodeToString(id[:])
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO assets (
			id, job_id, source_image_url, item_description, image_url, image_key, model_url, model_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			job_id=excluded.job_id,
			source_image_url=excluded.source_image_url,
			item_description=excluded.item_description,
			image_url=excluded.image_url,
			image_key=excluded.image_key,
			model_url=excluded.model_url,
			model_key=excluded.model_key`,
		asset.ID,
		asset.JobID,
		asset.SourceImageURL,
		asset.ItemDescription,
		asset.ImageURL,
		asset.ImageKey,
		asset.ModelURL,
		asset.ModelKey,
		asset.CreatedAt,
	)
	return err
}

// ListAssets returns the most recent assets, newest first.
func (s *Store) ListAssets(ctx context.Context, limit int) ([]*Asset, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, source_image_url, item_description, image_url, image_key, model_url, model_key, created_at
		 FROM assets
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*Asset, 0)
	for rows.Next() {
		var item Asset
		if err := rows.Scan(
			&item.ID,
			&item.JobID,
			&item.SourceImageURL,
			&item.ItemDescription,
			&item.ImageURL,
			&item.ImageKey,
			&item.ModelURL,
			&item.ModelKey,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// GetAsset looks up one asset by id.
func (s *Store) GetAsset(ctx context.Context, id string) (*Asset, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, job_id, source_image_url, item_description, image_url, image_key, model_url, model_key, created_at
		 FROM assets
		 WHERE id = ?`,
		id,
	)
	var item Asset
	if err := row.Scan(
		&item.ID,
		&item.JobID,
		&item.SourceImageURL,
		&item.ItemDescription,
		&item.ImageURL,
		&item.ImageKey,
		&item.ModelURL,
		&item.ModelKey,
		&item.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &item, true, nil
}
