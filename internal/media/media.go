// Package media provides the core media types for nxt-media.
// It defines the addressable file, route and library asset types and the
// Library interface that asset store implementations satisfy.
package media

import (
	"context"
	"errors"
	"time"
)

// Kind classifies a media item.
type Kind int

const (
	Unknown Kind = iota
	Image
	Video
)

// String returns the lower-case name used in JSON listings.
func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Video:
		return "video"
	default:
		return "unknown"
	}
}

// KindFromFlags maps the isImage/isVideo pair used on the wire to a Kind.
// Video wins when both flags are set.
func KindFromFlags(isImage, isVideo bool) Kind {
	switch {
	case isVideo:
		return Video
	case isImage:
		return Image
	default:
		return Unknown
	}
}

// Flags returns the isImage/isVideo pair for k.
func (k Kind) Flags() (isImage, isVideo bool) {
	return k == Image, k == Video
}

// Source identifies where a discovered File came from.
type Source int

const (
	SourceLibrary Source = iota
	SourceUploads
)

// File is a discoverable media item held by the media cache.
type File struct {
	// DisplayName is the human-readable label (usually the file name).
	DisplayName string

	// VirtualPath addresses the file over HTTP, e.g. "/media/uploads/a.jpg".
	VirtualPath string

	// Kind is the media classification.
	Kind Kind

	// Path is the absolute file-system path of the backing file.
	Path string

	// Source is the discovery source.
	Source Source
}

// Route is a persistent, user-defined alias for a single file.
type Route struct {
	// Name is the unique key, stored without a leading slash. Case-sensitive.
	Name string

	// TargetPath is the absolute path of the backing file.
	TargetPath string

	// DisplayName is the human-readable label. Defaults to the file name.
	DisplayName string

	// Kind is the media classification of the target.
	Kind Kind
}

// Asset is a single entry of the library index.
type Asset struct {
	// ID is a stable per-asset identifier.
	ID string

	// DisplayName is the asset's file name.
	DisplayName string

	// Kind is Image or Video.
	Kind Kind

	// Size is the file size in bytes.
	Size int64

	// AddedAt is when the asset was first indexed.
	AddedAt time.Time
}

// ErrAccessDenied is returned by a Library that cannot be accessed.
var ErrAccessDenied = errors.New("library access denied")

// Library is the device-wide asset store the media cache discovers from.
// All methods must honour ctx cancellation.
type Library interface {
	// Access checks that the store can be read. It returns ErrAccessDenied
	// when the store is unavailable.
	Access(ctx context.Context) error

	// Assets returns up to limit assets of the given kind, newest first.
	Assets(ctx context.Context, kind Kind, limit int) ([]Asset, error)

	// Resolve returns the backing file path for the asset id.
	Resolve(ctx context.Context, id string) (string, error)
}
