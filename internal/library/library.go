// Package library implements the device media library as a SQLite index over
// a directory tree. Scan keeps the index in sync with the directory; queries
// only touch the database, so listing stays cheap for large libraries.
package library

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/banux/nxt-media/internal/logging"
	"github.com/banux/nxt-media/internal/media"
	"github.com/banux/nxt-media/internal/metrics"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned by Resolve for an unknown id or a vanished file.
var ErrNotFound = errors.New("asset not found")

// Index is a SQLite-backed media library. It implements media.Library.
type Index struct {
	root string
	db   *sql.DB
}

var _ media.Library = (*Index)(nil)

// New opens (or creates) the index database at dbPath for the library rooted
// at dir. It does not scan; call Scan to populate the index.
func New(dir, dbPath string) (*Index, error) {
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve library dir %q: %w", dir, err)
		}
		dir = abs
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", dbPath, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	ix := &Index{root: dir, db: db}
	if err := ix.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return ix, nil
}

// Close releases database resources.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Root returns the absolute library directory, or "" if none is configured.
func (ix *Index) Root() string {
	return ix.root
}

func (ix *Index) createSchema() error {
	_, err := ix.db.Exec(`
CREATE TABLE IF NOT EXISTS assets (
    id           TEXT PRIMARY KEY,
    path         TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    kind         INTEGER NOT NULL DEFAULT 0,
    size         INTEGER NOT NULL DEFAULT 0,
    added_at     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_assets_kind_added ON assets(kind, added_at DESC);
`)
	return err
}

type diskEntry struct {
	kind    media.Kind
	size    int64
	modTime time.Time
}

// Scan walks the library directory, indexes newly found image and video
// files, and removes rows whose files no longer exist. Rows already indexed
// are left untouched.
func (ix *Index) Scan(ctx context.Context) error {
	if ix.root == "" {
		return media.ErrAccessDenied
	}
	start := time.Now()
	defer func() { metrics.RecordLibraryScan(time.Since(start)) }()

	onDisk := make(map[string]diskEntry)
	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == ix.root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != ix.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		_, kind := media.Classify(d.Name())
		if kind == media.Unknown {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		onDisk[path] = diskEntry{kind: kind, size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning directory %q: %w", ix.root, err)
	}

	rows, err := ix.db.QueryContext(ctx, `SELECT id, path FROM assets`)
	if err != nil {
		return fmt.Errorf("query assets: %w", err)
	}
	inDB := make(map[string]string) // path -> id
	for rows.Next() {
		var id, p string
		if err := rows.Scan(&id, &p); err != nil {
			rows.Close()
			return err
		}
		inDB[p] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	added := 0
	for path, e := range onDisk {
		if _, exists := inDB[path]; exists {
			continue
		}
		_, err := ix.db.ExecContext(ctx, `
INSERT OR IGNORE INTO assets (id, path, display_name, kind, size, added_at)
VALUES (?,?,?,?,?,?)`,
			pathToID(path), path, filepath.Base(path), int(e.kind), e.size, e.modTime.Unix())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.L().Warn("index asset", zap.String("path", path), zap.Error(err))
			continue
		}
		added++
	}

	removed := 0
	for p, id := range inDB {
		if _, ok := onDisk[p]; ok {
			continue
		}
		if _, err := ix.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete stale asset %q: %w", id, err)
		}
		removed++
	}

	logging.L().Debug("library scanned",
		zap.String("root", ix.root),
		zap.Int("added", added),
		zap.Int("removed", removed),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Access reports whether the library can be read. It returns an error
// wrapping media.ErrAccessDenied when no directory is configured or the
// directory is unreadable.
func (ix *Index) Access(ctx context.Context) error {
	if ix.root == "" {
		return media.ErrAccessDenied
	}
	f, err := os.Open(ix.root)
	if err != nil {
		return fmt.Errorf("%w: %v", media.ErrAccessDenied, err)
	}
	_, err = f.Readdirnames(1)
	f.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", media.ErrAccessDenied, err)
	}
	return ix.db.PingContext(ctx)
}

// Assets returns up to limit indexed assets of kind, newest first.
// A non-positive limit returns every match.
func (ix *Index) Assets(ctx context.Context, kind media.Kind, limit int) ([]media.Asset, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := ix.db.QueryContext(ctx, `
SELECT id, display_name, kind, size, added_at FROM assets
WHERE kind = ?
ORDER BY added_at DESC, display_name ASC
LIMIT ?`, int(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var out []media.Asset
	for rows.Next() {
		var (
			a       media.Asset
			k       int
			addedAt int64
		)
		if err := rows.Scan(&a.ID, &a.DisplayName, &k, &a.Size, &addedAt); err != nil {
			return nil, err
		}
		a.Kind = media.Kind(k)
		a.AddedAt = time.Unix(addedAt, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Resolve returns the file path backing the asset id. It fails with
// ErrNotFound if the id is unknown or the file has been removed since the
// last scan.
func (ix *Index) Resolve(ctx context.Context, id string) (string, error) {
	var path string
	err := ix.db.QueryRowContext(ctx, `SELECT path FROM assets WHERE id = ?`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("resolve asset %q: %w", id, err)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrNotFound, id, err)
	}
	return path, nil
}

// pathToID generates a stable string ID from a file path using a short SHA-256 hash.
func pathToID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return fmt.Sprintf("%x", sum[:8])
}
