package png_info_extractor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"testing"
)

const graph = `{
  "3": {"class_type": "KSampler", "inputs": {"seed": 18446744073709551557, "steps": 28}, "_meta": {"title": "Kサンプラー"}},
  "12": {"class_type": "KSamplerAdvanced", "inputs": {"noise_seed": 7}, "_meta": {"title": "Refiner"}}
}`

func textChunk(keyword, text string) []byte {
	data := append([]byte(keyword), 0)
	data = append(data, text...)

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))

	typed := append([]byte("tEXt"), data...)
	buf.Write(typed)
	_ = binary.Write(buf, binary.BigEndian, crc32.ChecksumIEEE(typed))

	return buf.Bytes()
}

// pngWithText encodes a small image and splices text chunks in after IHDR.
func pngWithText(t *testing.T, chunks ...[]byte) []byte {
	t.Helper()

	encoded := new(bytes.Buffer)
	if err := png.Encode(encoded, image.NewGray(image.Rect(0, 0, 32, 16))); err != nil {
		t.Fatalf("encode: %v", err)
	}

	raw := encoded.Bytes()
	// signature (8) + IHDR length, type, data and crc (4+4+13+4)
	split := 8 + 25

	out := append([]byte{}, raw[:split]...)
	for _, c := range chunks {
		out = append(out, c...)
	}

	return append(out, raw[split:]...)
}

func TestExtractWorkflowInfo(t *testing.T) {
	data := pngWithText(t, textChunk("prompt", graph), textChunk("workflow", `{"nodes": []}`))

	extractor, err := New(Config{PngData: data})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	info, err := extractor.ExtractWorkflowInfo()
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if info.Width != 32 || info.Height != 16 {
		t.Fatalf("unexpected size %dx%d", info.Width, info.Height)
	}

	if info.Prompt != graph || info.Workflow != `{"nodes": []}` {
		t.Fatalf("unexpected text chunks: %+v", info)
	}
}

func TestSamplerSeed(t *testing.T) {
	info := &PNGInfo{Prompt: graph}

	seed, ok := info.SamplerSeed("Kサンプラー")
	if !ok || seed != 18446744073709551557 {
		t.Fatalf("got %d %v", seed, ok)
	}

	seed, ok = info.SamplerSeed("Refiner")
	if !ok || seed != 7 {
		t.Fatalf("got %d %v", seed, ok)
	}

	seed, ok = info.SamplerSeed("no such title")
	if !ok || seed != 18446744073709551557 {
		t.Fatalf("expected first seeded node, got %d %v", seed, ok)
	}

	if _, ok = (&PNGInfo{}).SamplerSeed("Kサンプラー"); ok {
		t.Fatalf("expected no seed without embedded graph")
	}
}

func TestPlainPNGHasNoWorkflow(t *testing.T) {
	extractor, err := New(Config{PngData: pngWithText(t)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	info, err := extractor.ExtractWorkflowInfo()
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if info.Prompt != "" {
		t.Fatalf("unexpected prompt %q", info.Prompt)
	}
}

func TestRejectsNonPNG(t *testing.T) {
	if _, err := New(Config{PngData: []byte("GIF89a not a png")}); err == nil {
		t.Fatalf("expected error")
	}

	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for nil data")
	}
}

func TestOversizedChunkLengthIsRejected(t *testing.T) {
	// A tEXt chunk header claiming ~4 GiB, followed by only a few bytes.
	bogus := new(bytes.Buffer)
	_ = binary.Write(bogus, binary.BigEndian, uint32(0xFFFFFFF0))
	bogus.WriteString("tEXtprompt")

	extractor, err := New(Config{PngData: pngWithText(t, bogus.Bytes())})
	if err != nil {
		t.Fatalf("chunks before the bad one should still be usable: %v", err)
	}

	info, err := extractor.ExtractWorkflowInfo()
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if info.Width != 32 || info.Height != 16 || info.Prompt != "" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestOversizedFirstChunkFails(t *testing.T) {
	data := []byte(pngHeader)
	data = binary.BigEndian.AppendUint32(data, 0x7FFFFFFF)
	data = append(data, "IHDR"...)

	_, err := New(Config{PngData: data})
	if !errors.Is(err, errChunkTooLong) {
		t.Fatalf("expected errChunkTooLong, got %v", err)
	}
}
