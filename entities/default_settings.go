package entities

type DefaultSettings struct {
	Profile        string  `json:"profile"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CfgScale       float64 `json:"cfg_scale"`
	SamplerName    string  `json:"sampler_name"`
	NegativePrompt string  `json:"negative_prompt"`
}
