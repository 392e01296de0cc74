// adapted from https://github.com/parsiya/Go-Security/blob/master/png-tests/png-chunk-extraction.go

package png_info_extractor

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"

	"comfy_studio/workflow_template"
)

// 89 50 4E 47 0D 0A 1A 0A
var pngHeader = "\x89\x50\x4E\x47\x0D\x0A\x1A\x0A"
var iHDRlength = 13

// Text chunk keywords the engine writes into every saved image.
const (
	promptKeyword   = "prompt"
	workflowKeyword = "workflow"
)

var seedInputs = []string{"seed", "noise_seed"}

// Each chunk starts with a uint32 length (big endian), then 4 byte name,
// then data and finally the CRC32 of the chunk data.
type chunk struct {
	Length int
	CType  string
	Data   []byte
}

var errChunkTooLong = errors.New("chunk length exceeds remaining data")

// populate reads one chunk. The CRC is skipped, not verified. The declared
// length is checked against what is left of r before anything is allocated.
func (c *chunk) populate(r *bytes.Reader) error {
	buf := make([]byte, 4)

	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	c.Length = int(binary.BigEndian.Uint32(buf))

	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	c.CType = string(buf)

	if c.Length > r.Len() {
		return fmt.Errorf("%s chunk declares %d bytes, %d left: %w", c.CType, c.Length, r.Len(), errChunkTooLong)
	}

	data := make([]byte, c.Length)

	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	c.Data = data

	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	return nil
}

type extractorImpl struct {
	width  int
	height int
	chunks []*chunk
}

type Config struct {
	PngData []byte
}

func New(cfg Config) (Extractor, error) {
	if cfg.PngData == nil {
		return nil, errors.New("png data is nil")
	}

	header := make([]byte, 8)

	imgFile := bytes.NewReader(cfg.PngData)

	if _, err := io.ReadFull(imgFile, header); err != nil {
		log.Printf("Error reading PNG header: %v", err)

		return nil, err
	}

	if string(header) != pngHeader {
		log.Printf("Wrong PNG header. Got %x - Expected %x", header, pngHeader)

		return nil, errors.New("wrong PNG header")
	}

	extractor := &extractorImpl{}

	var err error

	for err == nil {
		var c chunk

		err = (&c).populate(imgFile)

		if err == nil {
			extractor.chunks = append(extractor.chunks, &c)
		}
	}

	if !errors.Is(err, io.EOF) && len(extractor.chunks) == 0 {
		return nil, fmt.Errorf("failed to read PNG chunks: %w", err)
	}

	if err = extractor.parseIHDR(); err != nil {
		return nil, err
	}

	return extractor, nil
}

// parseIHDR reads the image size from the mandatory first chunk.
func (e *extractorImpl) parseIHDR() error {
	if len(e.chunks) == 0 || e.chunks[0].CType != "IHDR" {
		return errors.New("missing IHDR chunk")
	}

	iHDR := e.chunks[0]
	if iHDR.Length != iHDRlength {
		return fmt.Errorf("invalid IHDR length: got %d - expected %d", iHDR.Length, iHDRlength)
	}

	e.width = int(binary.BigEndian.Uint32(iHDR.Data[0:4]))
	e.height = int(binary.BigEndian.Uint32(iHDR.Data[4:8]))

	if e.width <= 0 || e.height <= 0 {
		return fmt.Errorf("invalid size in IHDR: %dx%d", e.width, e.height)
	}

	return nil
}

// PNGInfo is the generation metadata the engine embeds in its output. Prompt
// holds the API-format node graph that was executed, Workflow the editor graph.
type PNGInfo struct {
	Width    int
	Height   int
	Prompt   string
	Workflow string
}

func (e *extractorImpl) ExtractWorkflowInfo() (*PNGInfo, error) {
	info := &PNGInfo{
		Width:  e.width,
		Height: e.height,
	}

	for _, c := range e.chunks {
		if c.CType != "tEXt" {
			continue
		}

		keyword, text, found := bytes.Cut(c.Data, []byte{0})
		if !found {
			continue
		}

		switch string(keyword) {
		case promptKeyword:
			info.Prompt = string(text)
		case workflowKeyword:
			info.Workflow = string(text)
		}
	}

	return info, nil
}

// SamplerSeed reads the seed the embedded graph was executed with. The node
// titled samplerTitle is preferred; otherwise the first node carrying a seed
// input is used.
func (i *PNGInfo) SamplerSeed(samplerTitle string) (uint64, bool) {
	if i == nil || i.Prompt == "" {
		return 0, false
	}

	graph, err := workflow_template.Parse([]byte(i.Prompt))
	if err != nil {
		return 0, false
	}

	if samplerTitle != "" {
		if nodeID, ok := workflow_template.FindSlotByTitle(graph, samplerTitle); ok {
			if seed, ok := nodeSeed(graph, nodeID); ok {
				return seed, true
			}
		}
	}

	for _, nodeID := range graph.NodeIDs() {
		if seed, ok := nodeSeed(graph, nodeID); ok {
			return seed, true
		}
	}

	return 0, false
}

func nodeSeed(graph workflow_template.Template, nodeID string) (uint64, bool) {
	for _, name := range seedInputs {
		value, ok := graph.Input(nodeID, name)
		if !ok {
			continue
		}

		switch v := value.(type) {
		case json.Number:
			seed, err := strconv.ParseUint(v.String(), 10, 64)
			if err == nil {
				return seed, true
			}
		case float64:
			if v >= 0 {
				return uint64(v), true
			}
		}
	}

	return 0, false
}
