package png_info_extractor

type Extractor interface {
	ExtractWorkflowInfo() (*PNGInfo, error)
}
