package commands

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// MaxSelectOptions is the most options a selection menu can show.
const MaxSelectOptions = 25

// ListSelectableOptions returns the catalog sorted, cut to max entries, and
// whether anything was cut. A non-positive max selects MaxSelectOptions.
func ListSelectableOptions(catalog []string, max int) ([]string, bool) {
	if max <= 0 {
		max = MaxSelectOptions
	}
	sorted := slices.Clone(catalog)
	slices.Sort(sorted)
	if len(sorted) <= max {
		return sorted, false
	}
	return sorted[:max], true
}

// Embed limits enforced by the chat platform.
const (
	maxFieldChars = 1024
	maxFields     = 25
	maxEmbedChars = 6000
)

// chunkLines packs lines into field values of at most maxFieldChars
// characters. A line longer than a field is clipped. It stops early when the
// embed limits would be exceeded and reports how many lines were packed.
func chunkLines(lines []string) (chunks []string, packed int) {
	var chunk string
	var total int
	for _, line := range lines {
		line = clipLine(line, maxFieldChars)
		n := utf8.RuneCountInString(line)
		if chunk != "" && utf8.RuneCountInString(chunk)+n > maxFieldChars {
			if len(chunks) == maxFields-1 {
				break
			}
			chunks = append(chunks, chunk)
			chunk = ""
		}
		if total+n > maxEmbedChars {
			break
		}
		chunk += line
		total += n
		packed++
	}
	if chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks, packed
}

// clipLine cuts line to at most max characters, marking the cut with an
// ellipsis and keeping a trailing newline.
func clipLine(line string, max int) string {
	if utf8.RuneCountInString(line) <= max {
		return line
	}
	suffix := "…"
	if strings.HasSuffix(line, "\n") {
		suffix += "\n"
	}
	r := []rune(line)
	return string(r[:max-utf8.RuneCountInString(suffix)]) + suffix
}
