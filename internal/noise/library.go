package noise

import (
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"

	"github.com/zeng-zr/tts-batch/internal/fileutil"
)

// RandomType is the sentinel selecting a uniform-random asset from the whole
// catalog. RandomFromListType is an accepted alias.
const (
	RandomType         = "random"
	RandomFromListType = "random_from_list"
)

// Asset is one catalogued noise file. Type is the filename stem.
type Asset struct {
	Path string
	Type string
}

// Library is a flat set of noise assets recursively discovered under a root
// directory. The catalog is loaded once at construction and must be
// explicitly refreshed to pick up filesystem changes. A missing root is a
// non-fatal warning leaving the catalog empty, unlike the voice library.
type Library struct {
	root   string
	assets []Asset
	log    *logger.Logger
}

// NewLibrary scans the root and builds the catalog.
func NewLibrary(root string, log *logger.Logger) *Library {
	library := &Library{
		root:   root,
		assets: nil,
		log:    log,
	}

	library.Refresh()

	return library
}

// Refresh rescans the root directory, replacing the catalog.
func (l *Library) Refresh() {
	l.assets = nil

	if !dirExists(l.root) {
		l.log.Warn("Noise directory not found: %s", l.root)

		return
	}

	walkErr := filepath.WalkDir(l.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".wav" || ext == ".mp3" {
			l.assets = append(l.assets, Asset{
				Path: path,
				Type: fileutil.Stem(path),
			})
		}

		return nil
	})
	if walkErr != nil {
		l.log.Warn("Failed to scan noise directory %s: %v", l.root, walkErr)
	}

	l.log.Info("Loaded %d noise files from %s (including subdirectories)", len(l.assets), l.root)
}

// Asset returns the catalogued asset matching the given type by filename
// stem, or a uniform-random asset for the random sentinel. Returns nil on a
// miss or when the catalog is empty.
func (l *Library) Asset(noiseType string) *Asset {
	if len(l.assets) == 0 {
		l.log.Warn("No noise files available")

		return nil
	}

	if noiseType == RandomType || noiseType == RandomFromListType {
		selected := l.assets[rand.Intn(len(l.assets))]
		l.log.Info("Randomly selected noise file: %s", filepath.Base(selected.Path))

		return &selected
	}

	for i := range l.assets {
		if l.assets[i].Type == noiseType {
			asset := l.assets[i]

			return &asset
		}
	}

	l.log.Warn("Noise type '%s' not found", noiseType)

	return nil
}

// RandomAssets samples count assets without replacement, clamped to the
// catalog size.
func (l *Library) RandomAssets(count int) []Asset {
	if len(l.assets) == 0 {
		l.log.Warn("No noise files available")

		return nil
	}

	if count > len(l.assets) {
		count = len(l.assets)
	}

	selected := make([]Asset, 0, count)
	for _, index := range rand.Perm(len(l.assets))[:count] {
		selected = append(selected, l.assets[index])
	}

	l.log.Info("Randomly selected %d noise files", len(selected))

	return selected
}

// Count returns the catalog size.
func (l *Library) Count() int {
	return len(l.assets)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}
