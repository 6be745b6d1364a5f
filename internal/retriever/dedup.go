package retriever

import "strings"

// deduplicate drops candidates whose content is highly similar to a
// higher-ranked one. Input order is kept, so positions stay dense.
func deduplicate(candidates []Candidate, threshold float64) []Candidate {
	if len(candidates) <= 1 {
		return candidates
	}

	wordSets := make([]map[string]struct{}, len(candidates))
	for i, c := range candidates {
		wordSets[i] = tokenize(c.Content)
	}

	keep := make([]bool, len(candidates))
	for i := range keep {
		keep[i] = true
	}

	for i := range candidates {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			if keep[j] && jaccardSimilarity(wordSets[i], wordSets[j]) >= threshold {
				keep[j] = false
			}
		}
	}

	out := make([]Candidate, 0, len(candidates))
	for i, c := range candidates {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

// tokenize converts content into a set of lowercase words.
func tokenize(content string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(content))
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'()[]{}=<>")
		if len(word) > 2 {
			set[word] = struct{}{}
		}
	}
	return set
}

// jaccardSimilarity returns |a ∩ b| / |a ∪ b|, in [0, 1].
func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	intersection := 0
	for word := range a {
		if _, ok := b[word]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(a)+len(b)-intersection)
}
