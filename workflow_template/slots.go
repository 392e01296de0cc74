package workflow_template

// Titles of the slots the orchestrator rewrites. Template authors keep these
// stable even when node ids change.
const (
	DefaultPositivePromptTitle = "CLIP Text Encode (Positive Prompt)"
	DefaultNegativePromptTitle = "CLIP Text Encode (Negative Prompt)"
	DefaultLatentImageTitle    = "空の潜在画像"
	DefaultSamplerTitle        = "Kサンプラー"
)

type SlotTitles struct {
	PositivePrompt string `json:"positive_prompt" mapstructure:"positive_prompt"`
	NegativePrompt string `json:"negative_prompt" mapstructure:"negative_prompt"`
	LatentImage    string `json:"latent_image" mapstructure:"latent_image"`
	Sampler        string `json:"sampler" mapstructure:"sampler"`
}

func DefaultSlotTitles() SlotTitles {
	return SlotTitles{
		PositivePrompt: DefaultPositivePromptTitle,
		NegativePrompt: DefaultNegativePromptTitle,
		LatentImage:    DefaultLatentImageTitle,
		Sampler:        DefaultSamplerTitle,
	}
}

// SlotIndex maps a node title to the first node carrying it.
type SlotIndex map[string]string

// NewSlotIndex builds the title index once per loaded template. Nodes are
// visited in NodeIDs order, so duplicate titles always resolve to the same node.
func NewSlotIndex(t Template) SlotIndex {
	index := make(SlotIndex, len(t))

	for _, id := range t.NodeIDs() {
		title := t[id].Title()
		if title == "" {
			continue
		}

		if _, taken := index[title]; !taken {
			index[title] = id
		}
	}

	return index
}

func (s SlotIndex) Lookup(title string) (string, bool) {
	id, ok := s[title]

	return id, ok
}

// FindSlotByTitle scans the template for the first node whose metadata title
// equals title.
func FindSlotByTitle(t Template, title string) (string, bool) {
	for _, id := range t.NodeIDs() {
		if t[id].Title() == title {
			return id, true
		}
	}

	return "", false
}
