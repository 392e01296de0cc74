package entities

// ImageRef is the engine's handle for a produced file, as served by /view.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}
