package codegen

import (
	"strings"
)

const (
	fenceMarker = "```"

	// maxFenceDepth bounds both nesting inside one span and re-extraction passes.
	maxFenceDepth = 8
)

var languageTags = map[string]bool{
	"python": true, "py": true, "python3": true,
	"javascript": true, "js": true, "jsx": true, "tsx": true, "typescript": true, "ts": true,
	"react": true, "html": true, "json": true,
}

type fenceState int

const (
	outsideFence fenceState = iota
	insideFence
)

// ExtractCode returns the source code contained in a raw synthesis response.
// The first fenced block wins; if its content is itself fenced, the innermost
// content is returned. A response with no fence is returned whole, minus a
// leading bare language tag line. An unclosed fence runs to end of input.
func ExtractCode(raw string) string {
	text := strings.TrimSpace(raw)
	found := false
	for i := 0; i < maxFenceDepth; i++ {
		// Only a span that is itself wrapped in a fence is re-extracted.
		if found && !strings.HasPrefix(text, fenceMarker) {
			break
		}
		inner, ok := firstFencedSpan(text)
		if !ok {
			break
		}
		found = true
		text = strings.TrimSpace(inner)
	}
	if !found {
		return stripLanguageTag(text)
	}
	return text
}

// firstFencedSpan scans line by line. A fence line with an info string, or a
// bare fence before any content, opens a nested level; any other bare fence
// closes one. The span ends when depth returns to 0.
func firstFencedSpan(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	state := outsideFence
	depth := 0
	var body []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		isFence := strings.HasPrefix(trimmed, fenceMarker)
		info := strings.TrimSpace(strings.TrimLeft(trimmed, "`"))

		switch state {
		case outsideFence:
			if isFence {
				state = insideFence
				depth = 1
			}
		case insideFence:
			if isFence {
				switch {
				case depth >= maxFenceDepth:
					if info == "" {
						depth--
					}
				case info != "" || blank(body):
					// a bare fence before any content opens an untagged nested block
					depth++
				default:
					depth--
				}
				if depth == 0 {
					return strings.Join(body, "\n"), true
				}
			}
			body = append(body, line)
		}
	}

	if state == insideFence {
		return strings.Join(body, "\n"), true
	}
	return "", false
}

func blank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

func stripLanguageTag(text string) string {
	first, rest, found := strings.Cut(text, "\n")
	if found && languageTags[strings.ToLower(strings.TrimSpace(first))] {
		return strings.TrimSpace(rest)
	}
	return text
}
