package entities

// YearSlotCount is the number of independently toggleable "year <YYYY>" tokens.
const YearSlotCount = 3

type YearSlot struct {
	Enabled bool   `json:"enabled"`
	Value   string `json:"value"`
}

type TagSelection struct {
	Quality    []string                `json:"quality"`
	Years      [YearSlotCount]YearSlot `json:"years"`
	Decade     []string                `json:"decade"`
	TimePeriod []string                `json:"time_period"`
	Meta       []string                `json:"meta"`
	Safety     []string                `json:"safety"`
	Custom     []string                `json:"custom"`
}

// GenerationParameters is what the form hands to the orchestrator. Seed is
// only meaningful when RandomizeSeed is false.
type GenerationParameters struct {
	Prompt         string       `json:"prompt"`
	NegativePrompt string       `json:"negative_prompt"`
	Seed           uint64       `json:"seed"`
	RandomizeSeed  bool         `json:"randomize_seed"`
	CfgScale       float64      `json:"cfg_scale"`
	Steps          int          `json:"steps"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	SamplerName    string       `json:"sampler_name"`
	Tags           TagSelection `json:"tags"`
}
