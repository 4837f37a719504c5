// File: internal/agent/similarity.go
package agent

import "strings"

// Similarity is the Jaccard index of the lowercase word sets of a and b.
// Empty inputs have similarity 0.
func Similarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

// DescriptionsSimilar reports whether two screen descriptions count as the
// same screen.
func DescriptionsSimilar(a, b string, threshold float64) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false
	}
	return Similarity(a, b) >= threshold
}

func wordSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// recordDescription appends desc to the bounded description window and
// updates the duplicate counter against the previous description.
func recordDescription(s *Session, desc string, window int, threshold float64) bool {
	duplicate := DescriptionsSimilar(desc, s.LastDescription(), threshold)
	if duplicate {
		s.ConsecutiveDuplicates++
	} else {
		s.ConsecutiveDuplicates = 0
	}

	s.Descriptions = append(s.Descriptions, desc)
	if window > 0 && len(s.Descriptions) > window {
		s.Descriptions = append([]string(nil), s.Descriptions[len(s.Descriptions)-window:]...)
	}
	return duplicate
}
