package history_store

import (
	"fmt"

	"comfy_studio/entities"
)

const DefaultPageSize = 60

func Page(history []entities.HistoryEntry, page, size int) []entities.HistoryEntry {
	if size <= 0 || page < 0 {
		return []entities.HistoryEntry{}
	}

	start := page * size
	if start >= len(history) {
		return []entities.HistoryEntry{}
	}

	end := start + size
	if end > len(history) {
		end = len(history)
	}

	return history[start:end]
}

func FilterFavorites(history []entities.HistoryEntry) []entities.HistoryEntry {
	favorites := make([]entities.HistoryEntry, 0)

	for _, entry := range history {
		if entry.Favorite {
			favorites = append(favorites, entry)
		}
	}

	return favorites
}

func PageCount(total, size int) int {
	if size <= 0 || total <= 0 {
		return 1
	}

	return (total + size - 1) / size
}

func PageLabel(history []entities.HistoryEntry, page, size int) string {
	return fmt.Sprintf("Page %d / %d (Total: %d)", page+1, PageCount(len(history), size), len(history))
}

type ViewItem struct {
	// Index addresses the entry in the full history, also when the view is
	// filtered to favorites.
	Index int                   `json:"index"`
	Entry entities.HistoryEntry `json:"entry"`
}

type View struct {
	Items         []ViewItem `json:"items"`
	Page          int        `json:"page"`
	PageCount     int        `json:"page_count"`
	Total         int        `json:"total"`
	FavoritesOnly bool       `json:"favorites_only"`
	Label         string     `json:"label"`
}

// BuildView pages through history, optionally restricted to favorites. Totals
// and page counts are computed over what is actually shown, and page is
// clamped into range.
func BuildView(history []entities.HistoryEntry, page, size int, favoritesOnly bool) View {
	if size <= 0 {
		size = DefaultPageSize
	}

	items := make([]ViewItem, 0, len(history))
	visible := make([]entities.HistoryEntry, 0, len(history))

	for i, entry := range history {
		if favoritesOnly && !entry.Favorite {
			continue
		}

		items = append(items, ViewItem{Index: i, Entry: entry})
		visible = append(visible, entry)
	}

	pageCount := PageCount(len(visible), size)

	if page >= pageCount {
		page = pageCount - 1
	}

	if page < 0 {
		page = 0
	}

	start := page * size
	end := start + size

	if start > len(items) {
		start = len(items)
	}

	if end > len(items) {
		end = len(items)
	}

	label := PageLabel(visible, page, size)
	if favoritesOnly {
		label += " (Favorites)"
	}

	return View{
		Items:         items[start:end],
		Page:          page,
		PageCount:     pageCount,
		Total:         len(visible),
		FavoritesOnly: favoritesOnly,
		Label:         label,
	}
}
