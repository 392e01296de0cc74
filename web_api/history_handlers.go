package web_api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"comfy_studio/comfy_api"
	"comfy_studio/entities"
	"comfy_studio/history_store"

	"github.com/gin-gonic/gin"
)

type entryResponse struct {
	Index      int                   `json:"index"`
	Entry      entities.HistoryEntry `json:"entry"`
	Resolution string                `json:"resolution"`
	ImagePath  string                `json:"image_path"`
}

func (s *serverImpl) handleListHistory(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid page")

		return
	}

	size := s.config().GalleryPageSize
	if raw := c.Query("size"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil || size <= 0 {
			fail(c, http.StatusBadRequest, "invalid page size")

			return
		}
	}

	favoritesOnly, _ := strconv.ParseBool(c.DefaultQuery("favorites", "false"))

	view := history_store.BuildView(s.historyStore.Load(), page, size, favoritesOnly)

	success(c, view, view.Label)
}

// entryAt loads the history and checks the :index path parameter against it.
func (s *serverImpl) entryAt(c *gin.Context) ([]entities.HistoryEntry, int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid history index")

		return nil, 0, false
	}

	history := s.historyStore.Load()

	if index < 0 || index >= len(history) {
		fail(c, http.StatusNotFound, fmt.Sprintf("no history entry at index %d", index))

		return nil, 0, false
	}

	return history, index, true
}

func (s *serverImpl) handleGetEntry(c *gin.Context) {
	history, index, ok := s.entryAt(c)
	if !ok {
		return
	}

	resolution := s.historyStore.Resolve(history[index])

	success(c, entryResponse{
		Index:      index,
		Entry:      history[index],
		Resolution: resolution.State.String(),
		ImagePath:  resolution.Path,
	}, "")
}

func (s *serverImpl) handleRestoreEntry(c *gin.Context) {
	history, index, ok := s.entryAt(c)
	if !ok {
		return
	}

	success(c, history[index].Parameters(), "restored")
}

func (s *serverImpl) handleEntryImage(c *gin.Context) {
	history, index, ok := s.entryAt(c)
	if !ok {
		return
	}

	resolution := s.historyStore.Resolve(history[index])

	switch resolution.State {
	case history_store.StateLocalFallback:
		c.File(resolution.Path)
	case history_store.StateRemote:
		c.Redirect(http.StatusFound, resolution.Path)
	default:
		fail(c, http.StatusNotFound, "image not found: "+resolution.Path)
	}
}

func (s *serverImpl) handleEntryThumbnail(c *gin.Context) {
	history, index, ok := s.entryAt(c)
	if !ok {
		return
	}

	path := s.historyStore.ResolveThumbnailPath(history[index])

	switch {
	case comfy_api.IsRemote(path):
		c.Redirect(http.StatusFound, path)
	case path == "":
		fail(c, http.StatusNotFound, "entry has no image")
	default:
		c.File(path)
	}
}

func (s *serverImpl) handleToggleFavorite(c *gin.Context) {
	history, index, ok := s.entryAt(c)
	if !ok {
		return
	}

	updated, err := s.historyStore.ToggleFavorite(history, index)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())

		return
	}

	pos := history_store.IndexOf(updated, history[index])
	if pos < 0 {
		fail(c, http.StatusNotFound, fmt.Sprintf("history entry %d was removed", index))

		return
	}

	success(c, entryResponse{Index: pos, Entry: updated[pos]}, "favorite updated")
}

func (s *serverImpl) handleDeleteEntry(c *gin.Context) {
	history, index, ok := s.entryAt(c)
	if !ok {
		return
	}

	updated, err := s.historyStore.DeleteEntry(history, index)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())

		return
	}

	success(c, gin.H{"total": len(updated)}, "deleted")
}

func (s *serverImpl) handleBackupHistory(c *gin.Context) {
	path, err := s.historyStore.Backup()
	if err != nil {
		if errors.Is(err, history_store.ErrNothingToBackup) {
			fail(c, http.StatusNotFound, err.Error())

			return
		}

		fail(c, http.StatusInternalServerError, err.Error())

		return
	}

	success(c, gin.H{"backup": path}, "backed up")
}

func (s *serverImpl) handleClearHistory(c *gin.Context) {
	path, err := s.historyStore.Clear()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())

		return
	}

	success(c, gin.H{"backup": path}, "cleared")
}
