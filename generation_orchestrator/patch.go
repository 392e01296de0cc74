package generation_orchestrator

import (
	"log"
	"strconv"

	"comfy_studio/entities"
	"comfy_studio/workflow_template"
)

type slotPatch struct {
	title  string
	values map[string]any
}

// patchTemplate writes the generation parameters into the well-known slots.
// A slot whose title is not in the template is skipped and keeps the
// template's own values.
func patchTemplate(
	template workflow_template.Template,
	titles workflow_template.SlotTitles,
	params entities.GenerationParameters,
	positivePrompt string,
	seed uint64,
) []string {
	index := workflow_template.NewSlotIndex(template)

	patches := []slotPatch{
		{title: titles.PositivePrompt, values: map[string]any{"text": positivePrompt}},
		{title: titles.NegativePrompt, values: map[string]any{"text": params.NegativePrompt}},
		{title: titles.LatentImage, values: map[string]any{"width": params.Width, "height": params.Height}},
		{title: titles.Sampler, values: map[string]any{
			"seed":         seed,
			"cfg":          params.CfgScale,
			"steps":        params.Steps,
			"sampler_name": params.SamplerName,
		}},
	}

	skipped := make([]string, 0)

	for _, patch := range patches {
		nodeID, ok := index.Lookup(patch.title)
		if !ok {
			log.Printf("Workflow has no node titled %q, keeping its defaults", patch.title)

			skipped = append(skipped, patch.title)

			continue
		}

		err := template.SetInputs(nodeID, patch.values)
		if err != nil {
			log.Printf("Error patching node %s (%q): %v", nodeID, patch.title, err)

			skipped = append(skipped, patch.title)
		}
	}

	return skipped
}

func withDefaultTitles(titles workflow_template.SlotTitles) workflow_template.SlotTitles {
	defaults := workflow_template.DefaultSlotTitles()

	if titles.PositivePrompt == "" {
		titles.PositivePrompt = defaults.PositivePrompt
	}

	if titles.NegativePrompt == "" {
		titles.NegativePrompt = defaults.NegativePrompt
	}

	if titles.LatentImage == "" {
		titles.LatentImage = defaults.LatentImage
	}

	if titles.Sampler == "" {
		titles.Sampler = defaults.Sampler
	}

	return titles
}

func formatSeed(seed uint64) string {
	return strconv.FormatUint(seed, 10)
}
