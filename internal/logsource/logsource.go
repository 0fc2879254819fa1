package logsource

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tinytelemetry/logtally/internal/logparse"
)

// ErrNoClientFolder is returned when a logs root holds no client folder.
var ErrNoClientFolder = errors.New("logsource: no client folders found")

// Source supplies the set of files a client uploads.
type Source interface {
	Files() ([]string, error) // paths in upload order
	Name() string             // "dir", "client-folder", "stdin"
}

// DirSource lists the supported log files in one directory.
type DirSource struct {
	dir string
}

// NewDirSource creates a source over dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (d *DirSource) Files() ([]string, error) { return ListLogFiles(d.dir) }
func (d *DirSource) Name() string             { return "dir" }

// Dir returns the directory being listed.
func (d *DirSource) Dir() string { return d.dir }

// ListLogFiles returns the regular files in dir with a supported extension,
// sorted by name. Sub-directories are not descended into.
func ListLogFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("logsource: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("logsource: %s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("logsource: read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if IsSupported(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// IsSupported reports whether name has an extension clients upload.
func IsSupported(name string) bool {
	return slices.Contains(logparse.SupportedExtensions, strings.ToLower(filepath.Ext(name)))
}

// PickClientFolder returns a random sub-directory of root whose name
// contains "client". A nil rng uses the global source.
func PickClientFolder(root string, rng *rand.Rand) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w in %s", ErrNoClientFolder, root)
		}
		return "", fmt.Errorf("logsource: read %s: %w", root, err)
	}
	var folders []string
	for _, e := range entries {
		if e.IsDir() && strings.Contains(e.Name(), "client") {
			folders = append(folders, filepath.Join(root, e.Name()))
		}
	}
	if len(folders) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoClientFolder, root)
	}
	if rng == nil {
		return folders[rand.IntN(len(folders))], nil
	}
	return folders[rng.IntN(len(folders))], nil
}

// NewClientFolderSource picks a client folder under root and lists it.
func NewClientFolderSource(root string, rng *rand.Rand) (*DirSource, error) {
	dir, err := PickClientFolder(root, rng)
	if err != nil {
		return nil, err
	}
	return NewDirSource(dir), nil
}
