package generation_orchestrator

import (
	"strings"

	"comfy_studio/entities"
)

const tagSeparator = ", "

// PresetTokens lists the selected tag presets in the order they prefix the
// prompt: quality, enabled years, decade, time period, meta, safety, custom.
func PresetTokens(tags entities.TagSelection) []string {
	tokens := make([]string, 0)
	tokens = appendNonEmpty(tokens, tags.Quality)

	for _, year := range tags.Years {
		if year.Enabled {
			tokens = append(tokens, "year "+year.Value)
		}
	}

	tokens = appendNonEmpty(tokens, tags.Decade)
	tokens = appendNonEmpty(tokens, tags.TimePeriod)
	tokens = appendNonEmpty(tokens, tags.Meta)
	tokens = appendNonEmpty(tokens, tags.Safety)
	tokens = appendNonEmpty(tokens, tags.Custom)

	return tokens
}

// BuildPrompt prefixes the free text with the selected presets.
func BuildPrompt(prompt string, tags entities.TagSelection) string {
	tokens := PresetTokens(tags)
	if len(tokens) == 0 {
		return prompt
	}

	return strings.Join(tokens, tagSeparator) + tagSeparator + prompt
}

func appendNonEmpty(tokens, tags []string) []string {
	for _, tag := range tags {
		if strings.TrimSpace(tag) != "" {
			tokens = append(tokens, tag)
		}
	}

	return tokens
}

func Caption(seed uint64, samplerName string) string {
	return "Seed: " + formatSeed(seed) + " | " + samplerName
}
