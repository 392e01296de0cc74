package history_store

import "comfy_studio/entities"

type Store interface {
	Load() []entities.HistoryEntry
	Save(history []entities.HistoryEntry) error
	Append(entry entities.HistoryEntry, ref entities.ImageRef, engineURL string, imageBytes []byte) (entities.HistoryEntry, error)

	Resolve(entry entities.HistoryEntry) Resolution
	ResolveImagePath(entry entities.HistoryEntry) string
	ResolveThumbnailPath(entry entities.HistoryEntry) string

	DeleteEntry(history []entities.HistoryEntry, index int) ([]entities.HistoryEntry, error)
	ToggleFavorite(history []entities.HistoryEntry, index int) ([]entities.HistoryEntry, error)

	Backup() (string, error)
	Clear() (string, error)
}
