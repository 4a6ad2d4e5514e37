// Package routes implements the persistent route table: short user-chosen
// names mapped to single media files, mirrored to a JSON document on disk.
package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/banux/nxt-media/internal/logging"
	"github.com/banux/nxt-media/internal/media"
	"github.com/banux/nxt-media/internal/metrics"
)

var (
	ErrExists      = errors.New("route already exists")
	ErrNotFound    = errors.New("route not found")
	ErrInvalidName = errors.New("route name is empty")
)

// record is the on-disk form of a route. Older files used targetPath and
// displayName; both spellings are accepted on load.
type record struct {
	Route       string `json:"route"`
	MediaPath   string `json:"mediaPath"`
	MediaName   string `json:"mediaName"`
	TargetPath  string `json:"targetPath,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsImage     bool   `json:"isImage"`
	IsVideo     bool   `json:"isVideo"`
}

func toRecord(r media.Route) record {
	img, vid := r.Kind.Flags()
	return record{
		Route:     r.Name,
		MediaPath: r.TargetPath,
		MediaName: r.DisplayName,
		IsImage:   img,
		IsVideo:   vid,
	}
}

func (rec record) toRoute() media.Route {
	r := media.Route{
		Name:        Normalize(rec.Route),
		TargetPath:  rec.MediaPath,
		DisplayName: rec.MediaName,
		Kind:        media.KindFromFlags(rec.IsImage, rec.IsVideo),
	}
	if r.TargetPath == "" {
		r.TargetPath = rec.TargetPath
	}
	if r.DisplayName == "" {
		r.DisplayName = rec.DisplayName
	}
	return r
}

// Normalize strips one leading slash from a route name.
func Normalize(name string) string {
	return strings.TrimPrefix(name, "/")
}

// Table is the in-memory route set plus its JSON mirror. It is safe for
// concurrent use. The set is loaded lazily on first access.
type Table struct {
	path string

	mu     sync.RWMutex
	loaded bool
	routes map[string]media.Route
}

// New returns a Table persisted at path. Nothing is read until first use.
func New(path string) *Table {
	return &Table{path: path}
}

// ensureLoaded loads the table from disk if needed. Callers must hold t.mu
// for writing.
func (t *Table) ensureLoaded() {
	if t.loaded {
		return
	}
	t.routes = t.load()
	t.loaded = true
	metrics.SetRoutes(len(t.routes))
}

// load reads the persisted routes. A missing or corrupt file yields an empty
// table.
func (t *Table) load() map[string]media.Route {
	routes := make(map[string]media.Route)
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return routes
	}
	if err != nil {
		logging.L().Warn("read route table", zap.String("path", t.path), zap.Error(err))
		return routes
	}
	var recs []record
	if err := json.Unmarshal(data, &recs); err != nil {
		logging.L().Warn("corrupt route table, starting empty", zap.String("path", t.path), zap.Error(err))
		return routes
	}
	for _, rec := range recs {
		r := rec.toRoute()
		if r.Name == "" {
			continue
		}
		routes[r.Name] = r
	}
	return routes
}

// save writes the table atomically. Must be called with t.mu held.
func (t *Table) save() error {
	recs := make([]record, 0, len(t.routes))
	for _, r := range t.sortedLocked() {
		recs = append(recs, toRecord(r))
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal routes: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("create routes dir: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write routes: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename routes: %w", err)
	}
	return nil
}

// commit persists the table. On failure the previous entry for name is
// restored so memory keeps mirroring disk.
func (t *Table) commit(name string, prev media.Route, hadPrev bool) error {
	if err := t.save(); err != nil {
		if hadPrev {
			t.routes[name] = prev
		} else {
			delete(t.routes, name)
		}
		return err
	}
	metrics.SetRoutes(len(t.routes))
	return nil
}

// Add inserts a new route. It fails with ErrExists if the normalized name is
// already taken.
func (t *Table) Add(r media.Route) error {
	r.Name = Normalize(r.Name)
	if r.Name == "" {
		return ErrInvalidName
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLoaded()

	if _, ok := t.routes[r.Name]; ok {
		return fmt.Errorf("%w: %q", ErrExists, r.Name)
	}
	t.routes[r.Name] = r
	return t.commit(r.Name, media.Route{}, false)
}

// Update replaces an existing route in place. It fails with ErrNotFound if
// the normalized name is absent.
func (t *Table) Update(r media.Route) error {
	r.Name = Normalize(r.Name)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLoaded()

	prev, ok := t.routes[r.Name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, r.Name)
	}
	t.routes[r.Name] = r
	return t.commit(r.Name, prev, true)
}

// Delete removes a route. It fails with ErrNotFound if the normalized name is
// absent.
func (t *Table) Delete(name string) error {
	name = Normalize(name)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLoaded()

	prev, ok := t.routes[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(t.routes, name)
	if err := t.save(); err != nil {
		t.routes[name] = prev
		return err
	}
	metrics.SetRoutes(len(t.routes))
	return nil
}

// Get looks up a route by name.
func (t *Table) Get(name string) (media.Route, bool) {
	name = Normalize(name)

	t.mu.RLock()
	if t.loaded {
		r, ok := t.routes[name]
		t.mu.RUnlock()
		return r, ok
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLoaded()
	r, ok := t.routes[name]
	return r, ok
}

// List returns a copy of all routes sorted by name.
func (t *Table) List() []media.Route {
	t.mu.RLock()
	if t.loaded {
		defer t.mu.RUnlock()
		return t.sortedLocked()
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLoaded()
	return t.sortedLocked()
}

func (t *Table) sortedLocked() []media.Route {
	out := make([]media.Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invalidate drops the in-memory set; the next access reloads from disk.
func (t *Table) Invalidate() {
	t.mu.Lock()
	t.loaded = false
	t.routes = nil
	t.mu.Unlock()
}
