// Package mediacache merges the media library and the uploads directory into
// a cached listing of addressable files. The listing is kept until it is
// invalidated or a caller forces a refresh.
package mediacache

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banux/nxt-media/internal/logging"
	"github.com/banux/nxt-media/internal/media"
	"github.com/banux/nxt-media/internal/metrics"
	"github.com/banux/nxt-media/internal/uploads"
)

const (
	// maxFillAttempts bounds how often List repopulates when invalidations
	// keep arriving during a fill.
	maxFillAttempts = 3

	// Prefix is the virtual path prefix of every cached file.
	Prefix = "/media/"

	uploadsSegment = "uploads/"
)

// UploadLister is the uploads directory as seen by the cache.
type UploadLister interface {
	List() ([]uploads.Entry, error)
	Path(name string) (string, bool)
}

// Options bound the library source.
type Options struct {
	// LibraryTimeout bounds the access check and each asset query.
	LibraryTimeout time.Duration

	// ItemTimeout bounds resolving a single asset to its file.
	ItemTimeout time.Duration

	MaxImages int
	MaxVideos int
}

// Cache is the in-memory media listing. It is safe for concurrent use.
type Cache struct {
	lib     media.Library
	uploads UploadLister
	opts    Options

	mu        sync.RWMutex
	files     []media.File
	populated bool
	gen       uint64

	// fill serialises repopulation so concurrent misses populate once.
	fill sync.Mutex
}

// New returns an empty Cache. lib may be nil when no library is configured.
func New(lib media.Library, up UploadLister, opts Options) *Cache {
	if opts.LibraryTimeout <= 0 {
		opts.LibraryTimeout = 3 * time.Second
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 500 * time.Millisecond
	}
	return &Cache{lib: lib, uploads: up, opts: opts}
}

// List returns the cached files, repopulating when the cache is empty or
// force is set. It never fails: unavailable sources contribute nothing.
// The returned slice is a copy owned by the caller.
func (c *Cache) List(ctx context.Context, force bool) []media.File {
	c.mu.RLock()
	if c.populated && !force {
		files := c.files
		c.mu.RUnlock()
		return slices.Clone(files)
	}
	gen := c.gen
	c.mu.RUnlock()

	c.fill.Lock()
	defer c.fill.Unlock()

	// Someone else repopulated while we waited.
	c.mu.RLock()
	if c.populated && c.gen != gen {
		files := c.files
		c.mu.RUnlock()
		return slices.Clone(files)
	}
	c.mu.RUnlock()

	// The listing is shared by every caller, so one caller going away must
	// not cut the library source short. Per-call timeouts still apply.
	fillCtx := context.WithoutCancel(ctx)

	var files []media.File
	for attempt := 0; attempt < maxFillAttempts; attempt++ {
		c.mu.RLock()
		start := c.gen
		c.mu.RUnlock()

		var degraded bool
		files, degraded = c.populate(fillCtx)
		metrics.RecordCachePopulation(len(files), degraded)
		if degraded {
			logging.WithContext(ctx).Warn("media cache populated with degraded library source",
				zap.Int("entries", len(files)))
		}

		c.mu.Lock()
		if c.gen == start {
			c.files = files
			c.populated = true
			c.gen++
			c.mu.Unlock()
			return slices.Clone(files)
		}
		// Invalidated mid-fill: the listing may predate the change.
		c.mu.Unlock()
	}

	// Still racing invalidations; answer this caller but leave the cache
	// unpopulated so the next List starts over.
	return files
}

// Invalidate drops the cached listing; the next List repopulates.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.files = nil
	c.populated = false
	c.gen++
	c.mu.Unlock()
}

// Lookup resolves a virtual path such as "/media/uploads/a.jpg" or
// "/media/<id>/<name>". Upload paths never touch the library.
func (c *Cache) Lookup(ctx context.Context, virtualPath string) (media.File, bool) {
	p := strings.TrimPrefix(virtualPath, "/")
	p = strings.TrimPrefix(p, "media/")
	if p == "" {
		return media.File{}, false
	}

	if name, ok := strings.CutPrefix(p, uploadsSegment); ok {
		if c.uploads == nil {
			return media.File{}, false
		}
		path, found := c.uploads.Path(name)
		if !found {
			return media.File{}, false
		}
		_, kind := media.Classify(name)
		return media.File{
			DisplayName: name,
			VirtualPath: Prefix + uploadsSegment + name,
			Kind:        kind,
			Path:        path,
			Source:      media.SourceUploads,
		}, true
	}

	id, _, _ := strings.Cut(p, "/")
	if id == "" {
		return media.File{}, false
	}
	needle := "/" + id + "/"
	for _, f := range c.List(ctx, false) {
		if strings.Contains(f.VirtualPath, needle) {
			return f, true
		}
	}
	return media.File{}, false
}

// populate merges the library and uploads sources, library first. degraded
// reports that the library source was denied, timed out or failed.
func (c *Cache) populate(ctx context.Context) ([]media.File, bool) {
	libFiles, degraded := c.libraryFiles(ctx)
	upFiles := c.uploadFiles(ctx)

	files := make([]media.File, 0, len(libFiles)+len(upFiles))
	files = append(files, libFiles...)
	files = append(files, upFiles...)
	return files, degraded
}

func (c *Cache) libraryFiles(ctx context.Context) ([]media.File, bool) {
	if c.lib == nil {
		return nil, false
	}
	log := logging.WithContext(ctx)

	actx, cancel := context.WithTimeout(ctx, c.opts.LibraryTimeout)
	err := c.lib.Access(actx)
	cancel()
	if err != nil {
		if errors.Is(err, media.ErrAccessDenied) {
			log.Info("media library unavailable", zap.Error(err))
		} else {
			log.Warn("media library access check failed", zap.Error(err))
		}
		return nil, true
	}

	degraded := false
	var out []media.File
	for _, q := range []struct {
		kind  media.Kind
		limit int
	}{
		{media.Image, c.opts.MaxImages},
		{media.Video, c.opts.MaxVideos},
	} {
		qctx, cancel := context.WithTimeout(ctx, c.opts.LibraryTimeout)
		assets, err := c.lib.Assets(qctx, q.kind, q.limit)
		cancel()
		if err != nil {
			log.Warn("list library assets", zap.Stringer("kind", q.kind), zap.Error(err))
			degraded = true
			continue
		}
		for _, a := range assets {
			rctx, cancel := context.WithTimeout(ctx, c.opts.ItemTimeout)
			path, err := c.lib.Resolve(rctx, a.ID)
			cancel()
			if err != nil {
				log.Debug("skip unresolved asset", zap.String("id", a.ID), zap.Error(err))
				continue
			}
			out = append(out, media.File{
				DisplayName: a.DisplayName,
				VirtualPath: Prefix + a.ID + "/" + a.DisplayName,
				Kind:        a.Kind,
				Path:        path,
				Source:      media.SourceLibrary,
			})
		}
	}
	return out, degraded
}

func (c *Cache) uploadFiles(ctx context.Context) []media.File {
	if c.uploads == nil {
		return nil
	}
	entries, err := c.uploads.List()
	if err != nil {
		logging.WithContext(ctx).Warn("list uploads", zap.Error(err))
		return nil
	}
	out := make([]media.File, 0, len(entries))
	for _, e := range entries {
		_, kind := media.Classify(e.Name)
		out = append(out, media.File{
			DisplayName: e.Name,
			VirtualPath: Prefix + uploadsSegment + e.Name,
			Kind:        kind,
			Path:        e.Path,
			Source:      media.SourceUploads,
		})
	}
	return out
}
