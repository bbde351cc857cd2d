package knowledge

import "strings"

// Chunk sizes tuned for support documents: enough context per chunk, with
// overlap so answers spanning a boundary survive.
const (
	ChunkSize    = 500
	ChunkOverlap = 100
)

// separators in preference order; the empty string means "split anywhere".
var separators = []string{"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""}

// Split chunks text recursively along the separator ladder. Pieces (each
// keeping its separator) are merged up to ChunkSize runes; a chunk that
// starts with the ChunkOverlap runes carried from the previous chunk can
// reach ChunkSize+ChunkOverlap runes. No overlap is carried into or out of a
// piece that has to be split further.
func Split(text string) []string {
	var out []string
	splitRecursive(text, separators, &out)
	return out
}

func splitRecursive(text string, seps []string, out *[]string) {
	runes := []rune(text)
	if len(runes) <= ChunkSize {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			*out = append(*out, trimmed)
		}
		return
	}

	sep := seps[0]
	rest := seps[1:]

	var parts []string
	if sep == "" {
		// Hard split by rune count.
		for i := 0; i < len(runes); i += ChunkSize - ChunkOverlap {
			end := i + ChunkSize
			if end > len(runes) {
				end = len(runes)
			}
			parts = append(parts, string(runes[i:end]))
			if end == len(runes) {
				break
			}
		}
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				*out = append(*out, trimmed)
			}
		}
		return
	}

	pieces := strings.SplitAfter(text, sep)
	if len(pieces) == 1 {
		splitRecursive(text, rest, out)
		return
	}

	// Merge pieces greedily up to ChunkSize, carrying the overlap tail into
	// the next chunk.
	var current []rune
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunk := strings.TrimSpace(string(current))
		if chunk != "" {
			*out = append(*out, chunk)
		}
		if len(current) > ChunkOverlap {
			current = append([]rune(nil), current[len(current)-ChunkOverlap:]...)
		}
	}
	for _, piece := range pieces {
		pr := []rune(piece)
		if len(pr) > ChunkSize {
			flush()
			current = nil
			splitRecursive(piece, rest, out)
			continue
		}
		if len(current)+len(pr) > ChunkSize {
			flush()
		}
		current = append(current, pr...)
	}
	if chunk := strings.TrimSpace(string(current)); chunk != "" {
		*out = append(*out, chunk)
	}
}
