package history_store

import (
	"log"
	"path/filepath"
	"strings"

	"comfy_studio/comfy_api"
	"comfy_studio/entities"
)

type ResolutionState int

const (
	// StateRemote: no local copy was found, the engine link is used as is.
	StateRemote ResolutionState = iota
	// StateLocalFallback: the image was found on local disk.
	StateLocalFallback
	// StateUnresolved: the stored reference is a local path that no longer exists.
	StateUnresolved
)

func (s ResolutionState) String() string {
	switch s {
	case StateRemote:
		return "remote"
	case StateLocalFallback:
		return "local"
	default:
		return "unresolved"
	}
}

type Resolution struct {
	Path  string
	State ResolutionState
}

// Extensions tried after the original one when looking for a moved image.
var fallbackExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}

// Resolve finds where an entry's image can be read from. Images are often moved
// out of the engine's output tree after generation, so local directories are
// probed before falling back to the stored reference.
func (s *storeImpl) Resolve(entry entities.HistoryEntry) Resolution {
	if entry.Image == "" {
		return Resolution{State: StateUnresolved}
	}

	ref, isViewURL := comfy_api.ParseViewURL(entry.Image)

	if !isViewURL {
		if comfy_api.IsRemote(entry.Image) {
			return Resolution{Path: entry.Image, State: StateRemote}
		}

		if fileExists(entry.Image) {
			return Resolution{Path: entry.Image, State: StateLocalFallback}
		}

		ref = entities.ImageRef{Filename: filepath.Base(entry.Image)}
	}

	if path, ok := s.probe(ref); ok {
		return Resolution{Path: path, State: StateLocalFallback}
	}

	if isViewURL {
		return Resolution{Path: entry.Image, State: StateRemote}
	}

	return Resolution{Path: entry.Image, State: StateUnresolved}
}

func (s *storeImpl) ResolveImagePath(entry entities.HistoryEntry) string {
	return s.Resolve(entry).Path
}

// ResolveThumbnailPath returns a cached thumbnail for locally resolvable
// images, rendering it on first use. Remote links come back unchanged and any
// rendering failure falls back to the full image.
func (s *storeImpl) ResolveThumbnailPath(entry entities.HistoryEntry) string {
	resolution := s.Resolve(entry)

	if resolution.State != StateLocalFallback || s.thumbnailDir == "" {
		return resolution.Path
	}

	thumbPath := s.thumbnailPath(filepath.Base(resolution.Path))

	if fileExists(thumbPath) {
		return thumbPath
	}

	err := s.renderer.RenderFile(resolution.Path, thumbPath)
	if err != nil {
		log.Printf("Error generating thumbnail for %s: %v", resolution.Path, err)

		return resolution.Path
	}

	return thumbPath
}

func (s *storeImpl) probe(ref entities.ImageRef) (string, bool) {
	filename := filepath.Base(filepath.FromSlash(ref.Filename))
	if filename == "." || filename == string(filepath.Separator) {
		return "", false
	}

	names := candidateNames(filename)

	for _, dir := range s.candidateDirs(ref.Subfolder) {
		for _, name := range names {
			path := filepath.Join(dir, name)

			if fileExists(path) {
				return path, true
			}
		}
	}

	return "", false
}

// candidateDirs lists the directories to probe: the backup directory (flat,
// then with the subfolder), then engine output directories guessed from the
// launcher script, then the configured engine output directory.
func (s *storeImpl) candidateDirs(subfolder string) []string {
	subfolder = filepath.FromSlash(subfolder)
	if subfolder != "" && !filepath.IsLocal(subfolder) {
		subfolder = ""
	}

	dirs := make([]string, 0, 8)

	if s.backupDir != "" {
		dirs = append(dirs, s.backupDir)

		if subfolder != "" {
			dirs = append(dirs, filepath.Join(s.backupDir, subfolder))
		}
	}

	outputDirs := make([]string, 0, 3)

	if s.launchScript != "" {
		root := filepath.Dir(s.launchScript)
		outputDirs = append(outputDirs, filepath.Join(root, "ComfyUI", "output"), filepath.Join(root, "output"))
	}

	if s.engineOutputDir != "" {
		outputDirs = append(outputDirs, s.engineOutputDir)
	}

	for _, dir := range outputDirs {
		if subfolder != "" {
			dirs = append(dirs, filepath.Join(dir, subfolder))
		}

		dirs = append(dirs, dir)
	}

	return dirs
}

// candidateNames yields the original name, the same stem with each fallback
// extension, and the exact original filename, without duplicates.
func candidateNames(filename string) []string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	names := make([]string, 0, len(fallbackExtensions)+2)
	seen := make(map[string]bool, len(fallbackExtensions)+2)

	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	add(stem + ext)

	for _, fallback := range fallbackExtensions {
		if !strings.EqualFold(fallback, ext) {
			add(stem + fallback)
		}
	}

	add(filename)

	return names
}
