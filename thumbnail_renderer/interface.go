package thumbnail_renderer

type Renderer interface {
	RenderFile(srcPath, dstPath string) error
	RenderBytes(src []byte, dstPath string) error
}
