package media

import (
	"path/filepath"
	"strings"
)

type extInfo struct {
	contentType string
	kind        Kind
}

var extensions = map[string]extInfo{
	".jpg":  {"image/jpeg", Image},
	".jpeg": {"image/jpeg", Image},
	".png":  {"image/png", Image},
	".gif":  {"image/gif", Image},
	".webp": {"image/webp", Image},
	".bmp":  {"image/bmp", Image},
	".svg":  {"image/svg+xml", Image},
	".mp4":  {"video/mp4", Video},
	".m4v":  {"video/x-m4v", Video},
	".mov":  {"video/quicktime", Video},
	".avi":  {"video/x-msvideo", Video},
	".webm": {"video/webm", Video},
	".mkv":  {"video/x-matroska", Video},
}

// Classify returns the content type and kind for a file name based on its
// extension. Unrecognised extensions yield ("", Unknown).
func Classify(name string) (string, Kind) {
	info, ok := extensions[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return "", Unknown
	}
	return info.contentType, info.kind
}

// ContentType returns the content type to serve name with. When the
// extension is not recognised it falls back to the most common type of the
// served kind.
func ContentType(name string, served Kind) string {
	if ct, _ := Classify(name); ct != "" {
		return ct
	}
	switch served {
	case Image:
		return "image/jpeg"
	case Video:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
