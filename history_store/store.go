package history_store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"comfy_studio/atomic_file"
	"comfy_studio/clock"
	"comfy_studio/comfy_api"
	"comfy_studio/entities"
	"comfy_studio/thumbnail_renderer"
)

const backupTimeFormat = "20060102_150405"

var ErrNothingToBackup = errors.New("history log does not exist")

type storeImpl struct {
	historyFile     string
	thumbnailDir    string
	backupDir       string
	launchScript    string
	engineOutputDir string
	renderer        thumbnail_renderer.Renderer
	clock           clock.Clock
	writeFile       func(path string, data []byte) error

	// mu is held across every load-modify-save cycle on the log, so a
	// generation appending while an entry is deleted cannot lose either change.
	mu sync.Mutex
}

type Config struct {
	HistoryFile string
	// ThumbnailDir disables thumbnail caching when empty.
	ThumbnailDir string
	// BackupDir, LaunchScript and EngineOutputDir are probed, in that order,
	// when an entry's image has to be found on disk.
	BackupDir       string
	LaunchScript    string
	EngineOutputDir string
	Renderer        thumbnail_renderer.Renderer
	Clock           clock.Clock
}

func New(cfg Config) (Store, error) {
	if cfg.HistoryFile == "" {
		return nil, errors.New("missing history file")
	}

	renderer := cfg.Renderer
	if renderer == nil {
		var err error

		renderer, err = thumbnail_renderer.New(thumbnail_renderer.Config{})
		if err != nil {
			return nil, err
		}
	}

	storeClock := cfg.Clock
	if storeClock == nil {
		storeClock = clock.NewClock()
	}

	return &storeImpl{
		historyFile:     cfg.HistoryFile,
		thumbnailDir:    cfg.ThumbnailDir,
		backupDir:       cfg.BackupDir,
		launchScript:    cfg.LaunchScript,
		engineOutputDir: cfg.EngineOutputDir,
		renderer:        renderer,
		clock:           storeClock,
		writeFile:       atomic_file.Write,
	}, nil
}

// Load returns the persisted history, newest first. A missing log is created
// empty. An unreadable or corrupt log is reported as empty history.
func (s *storeImpl) Load() []entities.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

func (s *storeImpl) load() []entities.HistoryEntry {
	data, err := os.ReadFile(s.historyFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if writeErr := s.save(nil); writeErr != nil {
				log.Printf("Error creating history log %s: %v", s.historyFile, writeErr)
			}

			return []entities.HistoryEntry{}
		}

		log.Printf("Error reading history log %s: %v", s.historyFile, err)

		return []entities.HistoryEntry{}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []entities.HistoryEntry{}
	}

	var history []entities.HistoryEntry

	err = json.Unmarshal(data, &history)
	if err != nil {
		log.Printf("History log %s is corrupt, treating as empty: %v", s.historyFile, err)

		return []entities.HistoryEntry{}
	}

	if history == nil {
		history = []entities.HistoryEntry{}
	}

	return history
}

// Save rewrites the whole log through a temp file and rename.
func (s *storeImpl) Save(history []entities.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(history)
}

func (s *storeImpl) save(history []entities.HistoryEntry) error {
	if history == nil {
		history = []entities.HistoryEntry{}
	}

	buf := new(bytes.Buffer)

	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "    ")

	err := encoder.Encode(history)
	if err != nil {
		return err
	}

	return s.writeFile(s.historyFile, buf.Bytes())
}

// Append records a finished job at the head of the log. When imageBytes are
// given a thumbnail is cached eagerly; failing to do so never fails the append.
func (s *storeImpl) Append(
	entry entities.HistoryEntry,
	ref entities.ImageRef,
	engineURL string,
	imageBytes []byte,
) (entities.HistoryEntry, error) {
	entry.Image = comfy_api.ViewURL(engineURL, ref)

	err := s.prepend(entry)
	if err != nil {
		return entities.HistoryEntry{}, fmt.Errorf("failed to save history: %w", err)
	}

	if len(imageBytes) > 0 && s.thumbnailDir != "" {
		thumbPath := s.thumbnailPath(ref.Filename)

		if !fileExists(thumbPath) {
			renderErr := s.renderer.RenderBytes(imageBytes, thumbPath)
			if renderErr != nil {
				log.Printf("Error generating thumbnail for %s: %v", ref.Filename, renderErr)
			}
		}
	}

	return entry, nil
}

func (s *storeImpl) prepend(entry entities.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.load()

	updated := make([]entities.HistoryEntry, 0, len(history)+1)
	updated = append(updated, entry)
	updated = append(updated, history...)

	return s.save(updated)
}

// DeleteEntry removes history[index] and, when its image lives on local disk,
// the image and its thumbnail. The entry is looked up again in the current
// log, so entries written since history was loaded are kept. The log is
// rewritten before any file is touched, so a failed save leaves everything as
// it was.
func (s *storeImpl) DeleteEntry(history []entities.HistoryEntry, index int) ([]entities.HistoryEntry, error) {
	if index < 0 || index >= len(history) {
		return history, nil
	}

	target := history[index]

	updated, removed, err := s.mutate(target, index, func(current []entities.HistoryEntry, pos int) []entities.HistoryEntry {
		updated := make([]entities.HistoryEntry, 0, len(current)-1)
		updated = append(updated, current[:pos]...)

		return append(updated, current[pos+1:]...)
	})
	if err != nil {
		return history, err
	}

	if removed {
		s.removeImageFiles(target)
	}

	return updated, nil
}

func (s *storeImpl) ToggleFavorite(history []entities.HistoryEntry, index int) ([]entities.HistoryEntry, error) {
	if index < 0 || index >= len(history) {
		return history, nil
	}

	updated, _, err := s.mutate(history[index], index, func(current []entities.HistoryEntry, pos int) []entities.HistoryEntry {
		updated := make([]entities.HistoryEntry, len(current))
		copy(updated, current)

		updated[pos].Favorite = !updated[pos].Favorite

		return updated
	})
	if err != nil {
		return history, err
	}

	return updated, nil
}

// mutate applies change to target's position in the current log and saves the
// result. When target is no longer in the log the current log is returned
// unchanged and applied is false.
func (s *storeImpl) mutate(
	target entities.HistoryEntry,
	hint int,
	change func(current []entities.HistoryEntry, pos int) []entities.HistoryEntry,
) ([]entities.HistoryEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.load()

	pos := indexNear(current, target, hint)
	if pos < 0 {
		log.Printf("History entry %q is no longer in %s, nothing changed", target.Image, s.historyFile)

		return current, false, nil
	}

	updated := change(current, pos)

	err := s.save(updated)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save history: %w", err)
	}

	return updated, true, nil
}

func (s *storeImpl) removeImageFiles(entry entities.HistoryEntry) {
	resolution := s.Resolve(entry)
	if resolution.State != StateLocalFallback {
		return
	}

	removeErr := os.Remove(resolution.Path)

	switch {
	case removeErr == nil:
		log.Printf("Deleted image %s", resolution.Path)
	case !errors.Is(removeErr, os.ErrNotExist):
		log.Printf("Error deleting image %s: %v", resolution.Path, removeErr)
	}

	if s.thumbnailDir == "" {
		return
	}

	thumbPath := s.thumbnailPath(filepath.Base(resolution.Path))

	removeErr = os.Remove(thumbPath)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		log.Printf("Error deleting thumbnail %s: %v", thumbPath, removeErr)
	}
}

// Backup copies the live log to <file>.<YYYYMMDD_HHMMSS>.bak next to it.
func (s *storeImpl) Backup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backup()
}

func (s *storeImpl) backup() (string, error) {
	data, err := os.ReadFile(s.historyFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNothingToBackup
		}

		return "", err
	}

	backupPath := fmt.Sprintf("%s.%s.bak", s.historyFile, s.clock.Now().Format(backupTimeFormat))

	err = s.writeFile(backupPath, data)
	if err != nil {
		return "", fmt.Errorf("failed to write backup %s: %w", backupPath, err)
	}

	log.Printf("Backed up history to %s", backupPath)

	return backupPath, nil
}

// Clear removes the live log, but only after a backup of it succeeded. A log
// that does not exist is already clear.
func (s *storeImpl) Clear() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backupPath, err := s.backup()
	if err != nil {
		if errors.Is(err, ErrNothingToBackup) {
			return "", nil
		}

		return "", fmt.Errorf("history not cleared, backup failed: %w", err)
	}

	err = os.Remove(s.historyFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return backupPath, err
	}

	log.Printf("Cleared history log %s", s.historyFile)

	return backupPath, nil
}

// thumbnailPath keys the cache on the full base name, extension included, so
// shot.png and shot.jpg never share a thumbnail.
func (s *storeImpl) thumbnailPath(filename string) string {
	base := filepath.Base(filepath.FromSlash(filename))

	return filepath.Join(s.thumbnailDir, base+thumbnail_renderer.Extension)
}

// IndexOf returns the position of the first entry in history that records the
// same generation as entry, or -1. The favorite flag is not compared.
func IndexOf(history []entities.HistoryEntry, entry entities.HistoryEntry) int {
	return indexNear(history, entry, -1)
}

// indexNear prefers history[hint] when it matches, so duplicates resolve to
// the position the caller was looking at.
func indexNear(history []entities.HistoryEntry, entry entities.HistoryEntry, hint int) int {
	if hint >= 0 && hint < len(history) && sameGeneration(history[hint], entry) {
		return hint
	}

	for i := range history {
		if sameGeneration(history[i], entry) {
			return i
		}
	}

	return -1
}

func sameGeneration(a, b entities.HistoryEntry) bool {
	return a.Image == b.Image &&
		a.Seed == b.Seed &&
		a.Prompt == b.Prompt &&
		a.NegativePrompt == b.NegativePrompt &&
		a.Caption == b.Caption
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}
