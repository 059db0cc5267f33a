package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"
)

var ErrDirectoryNotFound = errors.New("scenes directory not found")

// Scene is one audio+image(+logo) unit of the final video.
type Scene struct {
	Index     int
	AudioPath string
	ImagePath string
	LogoPath  string // empty when the scene has no logo

	// Duration is filled in from the audio asset before compilation.
	Duration float64
}

func (s Scene) HasLogo() bool {
	return s.LogoPath != ""
}

// Inventory is the result of one directory scan. It is rebuilt on every render.
type Inventory struct {
	Dir     string
	Scenes  []Scene
	Skipped []int // indices that had audio but no image
}

var audioName = regexp.MustCompile(`^scene_(\d+)\.mp3$`)

// AudioFileName, ImageFileName and LogoFileName give the asset names for a
// scene number as it is spelled on disk.
func AudioFileName(num string) string { return "scene_" + num + ".mp3" }
func ImageFileName(num string) string { return "scene_" + num + ".png" }
func LogoFileName(num string) string  { return "scene_" + num + "_logo.png" }

// Scan lists dir and collects the scenes that have both an audio and an image
// asset, ordered by numeric index. Scenes with audio but no image are skipped
// with a warning. An empty inventory is not an error.
func Scan(dir string, log *zap.Logger) (*Inventory, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
		}
		return nil, fmt.Errorf("stat scenes directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotFound, dir)
	}

	// os.ReadDir returns entries sorted by name, which makes duplicate
	// spellings of one index (scene_1 / scene_01) resolve deterministically.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenes directory: %w", err)
	}

	spelling := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := audioName.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			log.Warn("scene index out of range", zap.String("file", entry.Name()))
			continue
		}
		if prev, ok := spelling[idx]; ok {
			log.Warn("duplicate scene index",
				zap.Int("index", idx),
				zap.String("kept", AudioFileName(prev)),
				zap.String("ignored", entry.Name()))
			continue
		}
		spelling[idx] = m[1]
	}

	indices := make([]int, 0, len(spelling))
	for idx := range spelling {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	inv := &Inventory{Dir: dir, Scenes: make([]Scene, 0, len(indices))}
	for _, idx := range indices {
		num := spelling[idx]
		scene := Scene{
			Index:     idx,
			AudioPath: filepath.Join(dir, AudioFileName(num)),
			ImagePath: filepath.Join(dir, ImageFileName(num)),
		}
		if !isFile(scene.ImagePath) {
			log.Warn("scene skipped: image missing",
				zap.Int("index", idx),
				zap.String("image", scene.ImagePath))
			inv.Skipped = append(inv.Skipped, idx)
			continue
		}
		if logo := filepath.Join(dir, LogoFileName(num)); isFile(logo) {
			scene.LogoPath = logo
		}
		inv.Scenes = append(inv.Scenes, scene)
	}

	return inv, nil
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
