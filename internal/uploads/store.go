// Package uploads manages the uploads directory: validated file names,
// atomic writes and directory listing.
package uploads

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrInvalidName is returned for upload names that are empty, absolute or
// would escape the uploads directory.
var ErrInvalidName = errors.New("invalid upload file name")

// Entry describes a stored upload.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is the uploads directory. Names are flat: no sub-directories.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created lazily on the
// first Save, so a missing directory simply lists as empty.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads dir %q: %w", dir, err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute uploads directory.
func (s *Store) Dir() string {
	return s.dir
}

// CleanName trims surrounding whitespace and quotes from name and rejects
// anything that is not a plain file name.
func CleanName(name string) (string, error) {
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	switch {
	case name == "", name == ".", name == "..":
		return "", ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"):
		return "", ErrInvalidName
	case strings.Contains(name, ".."):
		return "", ErrInvalidName
	case filepath.IsAbs(name), filepath.VolumeName(name) != "":
		return "", ErrInvalidName
	}
	return name, nil
}

// Save writes data as name inside the uploads directory and returns the
// absolute path. An existing file with the same name is replaced.
func (s *Store) Save(name string, data []byte) (string, error) {
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}

	dest := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("rename upload: %w", err)
	}
	return dest, nil
}

// Path returns the absolute path of the stored upload name, if it exists as
// a regular file.
func (s *Store) Path(name string) (string, bool) {
	name, err := CleanName(name)
	if err != nil {
		return "", false
	}
	p := filepath.Join(s.dir, name)
	st, err := os.Stat(p)
	if err != nil || !st.Mode().IsRegular() {
		return "", false
	}
	return p, true
}

// List returns the stored uploads sorted by name. A missing directory yields
// no entries and no error. Temp files from in-flight saves are skipped.
func (s *Store) List() ([]Entry, error) {
	ents, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read uploads dir: %w", err)
	}
	out := make([]Entry, 0, len(ents))
	for _, e := range ents {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:    e.Name(),
			Path:    filepath.Join(s.dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
