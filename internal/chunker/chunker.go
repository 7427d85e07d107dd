// Package chunker splits message content into natural-boundary chunks sized
// for embedding, honoring sentence/newline boundaries before falling back to
// a forced split.
package chunker

// Chunk splits text into substrings whose concatenation equals text (Property
// A: chunk roundtrip). Segments longer than maxChars are halved until every
// piece is at most maxChars; the following merge of pieces shorter than
// minChars does not cap its output, so a merged chunk can exceed maxChars.
// minChars/maxChars follow
// the defaults named in the design (120/480); maxChars <= 0 returns text
// unchanged, empty text returns [""], and minChars > maxChars is clamped to
// maxChars.
func Chunk(text string, minChars, maxChars int) []string {
	if maxChars <= 0 {
		return []string{text}
	}
	if text == "" {
		return []string{text}
	}
	if minChars > maxChars {
		minChars = maxChars
	}

	provisional := splitOnBoundaries(text)
	normalized := make([]string, 0, len(provisional))
	for _, seg := range provisional {
		normalized = append(normalized, splitToMax(seg, maxChars)...)
	}

	if minChars <= 0 || len(normalized) <= 1 {
		return normalized
	}

	chunks := normalized
	for {
		merged, changed := mergeSmall(chunks, minChars)
		chunks = merged
		if !changed || len(chunks) <= 1 {
			break
		}
		if allAtLeast(chunks, minChars) {
			break
		}
	}
	return chunks
}

// splitOnBoundaries closes the current chunk after every "。" or "\n", a run
// of bytes rather than runes since both boundary characters are safe to
// split on at the byte level (newline is ASCII, "。" is a 3-byte UTF-8
// sequence that never appears as a sub-sequence of another rune).
func splitOnBoundaries(text string) []string {
	boundaries := map[byte]bool{'\n': true}
	const fullStop = "。"

	var provisional []string
	start := 0
	i := 0
	for i < len(text) {
		if boundaries[text[i]] {
			provisional = append(provisional, text[start:i+1])
			start = i + 1
			i++
			continue
		}
		if i+len(fullStop) <= len(text) && text[i:i+len(fullStop)] == fullStop {
			end := i + len(fullStop)
			provisional = append(provisional, text[start:end])
			start = end
			i = end
			continue
		}
		i++
	}
	if start < len(text) {
		provisional = append(provisional, text[start:])
	}
	if len(provisional) == 0 {
		provisional = []string{text}
	}
	return provisional
}

func splitToMax(segment string, maxChars int) []string {
	pieces := []string{segment}
	var result []string
	for len(pieces) > 0 {
		part := pieces[0]
		pieces = pieces[1:]
		if runeLen(part) > maxChars {
			r := []rune(part)
			mid := len(r) / 2
			pieces = append([]string{string(r[:mid]), string(r[mid:])}, pieces...)
			continue
		}
		result = append(result, part)
	}
	return result
}

func runeLen(s string) int {
	return len([]rune(s))
}

// mergeSmall prepends an undersized chunk to its successor, or appends it to
// the last merged chunk when no successor exists, matching the Python
// reference's single-pass merge semantics exactly.
func mergeSmall(segments []string, minChars int) ([]string, bool) {
	changed := false
	var merged []string
	total := len(segments)
	segs := append([]string(nil), segments...)

	i := 0
	for i < total {
		segment := segs[i]
		if runeLen(segment) >= minChars || total == 1 {
			merged = append(merged, segment)
			i++
			continue
		}
		if i+1 < total {
			segs[i+1] = segment + segs[i+1]
			changed = true
		} else if len(merged) > 0 {
			merged[len(merged)-1] = merged[len(merged)-1] + segment
			changed = true
		} else {
			merged = append(merged, segment)
		}
		i++
	}
	if !changed {
		return segments, false
	}
	return merged, true
}

func allAtLeast(chunks []string, minChars int) bool {
	for _, c := range chunks {
		if runeLen(c) < minChars {
			return false
		}
	}
	return true
}
