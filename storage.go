package imagechat

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TimestampLayout is the layout of the timestamp embedded in file names.
const TimestampLayout = "20060102_150405"

// FileExtension is appended to every stored file name.
const FileExtension = ".jpg"

// ErrInvalidFileName is returned for names that are not a single path element.
var ErrInvalidFileName = errors.New("invalid file name")

// DiskStore keeps uploaded inputs and generated outputs as plain files in a
// single directory. Names follow {prefix}_{timestamp}[_{index}].jpg and are
// handed out by Allocate. A name stays reserved until Release, so two
// in-flight requests never share a file.
type DiskStore struct {
	dir string

	mu       sync.Mutex
	reserved map[string]bool
}

// NewDiskStore creates the directory if needed and returns a store rooted there.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, ErrStorageNotConfigured
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return &DiskStore{
		dir:      dir,
		reserved: make(map[string]bool),
	}, nil
}

// FileName builds {prefix}_{timestamp}[_{index}].jpg. A negative index omits the suffix.
func FileName(prefix string, ts time.Time, index int) string {
	name := prefix + "_" + ts.Format(TimestampLayout)
	if index >= 0 {
		name += "_" + strconv.Itoa(index)
	}
	return name + FileExtension
}

// Allocate reserves file names for one request. A name is free when it is
// neither reserved nor present on disk; callers Release the names once the
// files are written or abandoned.
//
// With n < 1 a single unindexed name is returned; on collision it gains a
// _k suffix starting at 1. With n >= 1, n indexed names are returned with
// consecutive indexes starting at the lowest offset where all are free.
func (s *DiskStore) Allocate(prefix string, ts time.Time, n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 1 {
		name := FileName(prefix, ts, -1)
		for k := 1; s.taken(name); k++ {
			name = FileName(prefix, ts, k)
		}
		s.reserved[name] = true
		return []string{name}
	}

	for offset := 0; ; offset++ {
		names := make([]string, 0, n)
		free := true
		for i := 0; i < n; i++ {
			name := FileName(prefix, ts, offset+i)
			if s.taken(name) {
				free = false
				break
			}
			names = append(names, name)
		}
		if free {
			for _, name := range names {
				s.reserved[name] = true
			}
			return names
		}
	}
}

// Release drops the reservations for names. Written files keep their names
// taken through their presence on disk.
func (s *DiskStore) Release(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		delete(s.reserved, name)
	}
}

func (s *DiskStore) taken(name string) bool {
	if s.reserved[name] {
		return true
	}
	_, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil
}

// Dir returns the directory backing the store.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Path resolves a stored file name to its path on disk.
func (s *DiskStore) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// Write copies r into the named file, replacing any previous content.
func (s *DiskStore) Write(name string, r io.Reader) (int64, error) {
	path, err := s.Path(name)
	if err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	return n, nil
}

// Read returns the content of the named file.
func (s *DiskStore) Read(name string) ([]byte, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Remove deletes the named files, ignoring ones that do not exist.
func (s *DiskStore) Remove(names ...string) error {
	var errs []error
	for _, name := range names {
		path, err := s.Path(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Exists reports whether the named file is present as a regular file.
func (s *DiskStore) Exists(name string) bool {
	path, err := s.Path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// GetMIMEType guesses an image MIME type from a file extension.
func GetMIMEType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
