package entities

// HistoryEntry is one persisted generation. The JSON layout is the on-disk
// history log format and must stay stable.
type HistoryEntry struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"neg_prompt"`
	Seed           uint64   `json:"seed"`
	CfgScale       float64  `json:"cfg"`
	Steps          int      `json:"steps"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	SamplerName    string   `json:"sampler_name"`
	QualityTags    []string `json:"quality_tags"`
	Year1Enabled   bool     `json:"y1_en"`
	Year1Value     string   `json:"y1_val"`
	Year2Enabled   bool     `json:"y2_en"`
	Year2Value     string   `json:"y2_val"`
	Year3Enabled   bool     `json:"y3_en"`
	Year3Value     string   `json:"y3_val"`
	DecadeTags     []string `json:"decade_tags"`
	PeriodTags     []string `json:"period_tags"`
	MetaTags       []string `json:"meta_tags"`
	SafetyTags     []string `json:"safety_tags"`
	CustomTags     []string `json:"custom_tags"`
	Caption        string   `json:"caption"`
	Image          string   `json:"image"`
	Favorite       bool     `json:"favorite"`
}

// NewHistoryEntry copies every parameter out of params, so later edits to the
// form never leak into the stored record.
func NewHistoryEntry(params GenerationParameters, seed uint64, caption string) HistoryEntry {
	tags := params.Tags

	return HistoryEntry{
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Seed:           seed,
		CfgScale:       params.CfgScale,
		Steps:          params.Steps,
		Width:          params.Width,
		Height:         params.Height,
		SamplerName:    params.SamplerName,
		QualityTags:    copyTags(tags.Quality),
		Year1Enabled:   tags.Years[0].Enabled,
		Year1Value:     tags.Years[0].Value,
		Year2Enabled:   tags.Years[1].Enabled,
		Year2Value:     tags.Years[1].Value,
		Year3Enabled:   tags.Years[2].Enabled,
		Year3Value:     tags.Years[2].Value,
		DecadeTags:     copyTags(tags.Decade),
		PeriodTags:     copyTags(tags.TimePeriod),
		MetaTags:       copyTags(tags.Meta),
		SafetyTags:     copyTags(tags.Safety),
		CustomTags:     copyTags(tags.Custom),
		Caption:        caption,
	}
}

// Parameters rebuilds the inputs that produced this entry. The stored seed is
// pinned so a restore reproduces the image exactly.
func (e HistoryEntry) Parameters() GenerationParameters {
	return GenerationParameters{
		Prompt:         e.Prompt,
		NegativePrompt: e.NegativePrompt,
		Seed:           e.Seed,
		RandomizeSeed:  false,
		CfgScale:       e.CfgScale,
		Steps:          e.Steps,
		Width:          e.Width,
		Height:         e.Height,
		SamplerName:    e.SamplerName,
		Tags: TagSelection{
			Quality: copyTags(e.QualityTags),
			Years: [YearSlotCount]YearSlot{
				{Enabled: e.Year1Enabled, Value: e.Year1Value},
				{Enabled: e.Year2Enabled, Value: e.Year2Value},
				{Enabled: e.Year3Enabled, Value: e.Year3Value},
			},
			Decade:     copyTags(e.DecadeTags),
			TimePeriod: copyTags(e.PeriodTags),
			Meta:       copyTags(e.MetaTags),
			Safety:     copyTags(e.SafetyTags),
			Custom:     copyTags(e.CustomTags),
		},
	}
}

func copyTags(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)

	return out
}
