package comfy_api

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"comfy_studio/entities"
)

const (
	DefaultEngineHost = "127.0.0.1"
	DefaultEnginePort = "8188"

	defaultImageType = "output"
)

// NormalizeBaseURL trims whitespace and trailing slashes so stored links do not
// depend on how the URL was typed.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// ViewURL builds the engine link for an image, escaping filename and subfolder.
func ViewURL(baseURL string, ref entities.ImageRef) string {
	imageType := ref.Type
	if imageType == "" {
		imageType = defaultImageType
	}

	return fmt.Sprintf("%s/view?filename=%s&subfolder=%s&type=%s",
		NormalizeBaseURL(baseURL),
		url.QueryEscape(ref.Filename),
		url.QueryEscape(ref.Subfolder),
		imageType)
}

// ParseViewURL extracts the image ref from a link built by ViewURL. ok is false
// for anything that is not an http(s) /view link with a filename.
func ParseViewURL(raw string) (entities.ImageRef, bool) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return entities.ImageRef{}, false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return entities.ImageRef{}, false
	}

	query := parsed.Query()

	ref := entities.ImageRef{
		Filename:  query.Get("filename"),
		Subfolder: query.Get("subfolder"),
		Type:      query.Get("type"),
	}

	if ref.Filename == "" {
		return entities.ImageRef{}, false
	}

	return ref, true
}

func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// CheckStatus reports whether the engine's TCP port accepts connections.
func CheckStatus(rawURL string, timeout time.Duration) bool {
	host := DefaultEngineHost
	port := DefaultEnginePort

	parsed, err := url.Parse(NormalizeBaseURL(rawURL))
	if err == nil {
		if parsed.Hostname() != "" {
			host = parsed.Hostname()
		}

		if parsed.Port() != "" {
			port = parsed.Port()
		}
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), timeout)
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}
