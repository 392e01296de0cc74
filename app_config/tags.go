package app_config

import "strings"

const defaultMarker = "+"

// ParseTaggedList splits a comma separated settings string into its tags. Tags
// written with a leading "+" are also returned as defaults.
func ParseTaggedList(raw string) ([]string, []string) {
	tags := make([]string, 0)
	defaults := make([]string, 0)

	for _, part := range strings.Split(raw, ",") {
		tag := strings.TrimSpace(part)

		isDefault := strings.HasPrefix(tag, defaultMarker)
		if isDefault {
			tag = strings.TrimSpace(strings.TrimPrefix(tag, defaultMarker))
		}

		if tag == "" {
			continue
		}

		tags = append(tags, tag)

		if isDefault {
			defaults = append(defaults, tag)
		}
	}

	return tags, defaults
}

func FormatTaggedList(tags, defaults []string) string {
	isDefault := make(map[string]bool, len(defaults))
	for _, tag := range defaults {
		isDefault[tag] = true
	}

	parts := make([]string, 0, len(tags))

	for _, tag := range tags {
		if isDefault[tag] {
			tag = defaultMarker + tag
		}

		parts = append(parts, tag)
	}

	return strings.Join(parts, ", ")
}
