package consensus

import (
	"strings"
	"unicode"
)

// SimilarityFunc scores two texts in [0,1]. The engine only calls it for
// distinct pairs and mirrors the result, so the matrix is symmetric even when
// the function is not.
type SimilarityFunc func(a, b string) float64

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "that": true, "the": true, "this": true,
	"to": true, "was": true, "were": true, "will": true, "with": true,
}

// normalizeText lowercases text, turns punctuation into spaces and drops stop
// words.
func normalizeText(text string) string {
	text = strings.ToLower(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return ' '
		}
		return r
	}, text)

	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))
	for _, word := range words {
		if !stopWords[word] {
			filtered = append(filtered, word)
		}
	}
	return strings.Join(filtered, " ")
}

// WordOverlap is the default similarity: multiset word overlap of the
// normalised texts, weighted by how close the two word counts are.
func WordOverlap(a, b string) float64 {
	words1 := strings.Fields(normalizeText(a))
	words2 := strings.Fields(normalizeText(b))

	freq1 := make(map[string]int, len(words1))
	freq2 := make(map[string]int, len(words2))
	for _, word := range words1 {
		freq1[word]++
	}
	for _, word := range words2 {
		freq2[word]++
	}

	intersection := 0.0
	union := 0.0
	for word, count1 := range freq1 {
		if count2, exists := freq2[word]; exists {
			intersection += float64(min(count1, count2))
		}
		union += float64(max(count1, freq2[word]))
	}
	for word, count2 := range freq2 {
		if _, exists := freq1[word]; !exists {
			union += float64(count2)
		}
	}

	if union == 0 {
		return 1.0
	}

	// Weight longer matches more heavily
	lengthFactor := float64(min(len(words1), len(words2))) / float64(max(len(words1), len(words2)))
	return clamp01((intersection / union) * (0.7 + 0.3*lengthFactor))
}

// Matrix builds the pairwise similarity matrix of texts: square, symmetric,
// exactly 1.0 on the diagonal and clamped to [0,1] elsewhere.
func Matrix(texts []string, sim SimilarityFunc) [][]float64 {
	if sim == nil {
		sim = WordOverlap
	}
	n := len(texts)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1.0
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := clamp01(sim(texts[i], texts[j]))
			m[i][j] = s
			m[j][i] = s
		}
	}
	return m
}

func clamp01(f float64) float64 {
	switch {
	case f != f: // NaN
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
