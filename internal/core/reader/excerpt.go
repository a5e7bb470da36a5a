package reader

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultExcerptBudget is the character budget of an excerpt.
const DefaultExcerptBudget = 18000

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "all": {},
	"any": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {}, "out": {},
	"his": {}, "has": {}, "how": {}, "what": {}, "when": {}, "where": {}, "who": {}, "why": {},
	"does": {}, "this": {}, "that": {}, "with": {}, "from": {}, "about": {}, "book": {},
	"tell": {}, "they": {}, "them": {}, "there": {}, "which": {}, "would": {}, "could": {},
	"should": {}, "into": {}, "than": {}, "then": {}, "have": {}, "been": {}, "were": {},
}

// SelectExcerpt returns at most budget characters of text, preferring the
// paragraphs that share the most keywords with query. Chosen paragraphs keep
// their document order. With no usable keywords the head of the text is used.
func SelectExcerpt(text, query string, budget int) string {
	if budget <= 0 {
		budget = DefaultExcerptBudget
	}
	if runeLen(text) <= budget {
		return text
	}

	keywords := keywordsOf(query)
	if len(keywords) == 0 {
		return truncate(text, budget)
	}

	paras := splitParagraphs(text)
	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, 0, len(paras))
	for i, p := range paras {
		if s := score(p, keywords); s > 0 {
			ranked = append(ranked, scored{idx: i, score: s})
		}
	}
	if len(ranked) == 0 {
		return truncate(text, budget)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	const sep = "\n\n"
	chosen := map[int]string{}
	remaining := budget
	for _, r := range ranked {
		p := paras[r.idx]
		cost := runeLen(p)
		if len(chosen) > 0 {
			cost += len(sep)
		}
		if cost <= remaining {
			chosen[r.idx] = p
			remaining -= cost
			continue
		}
		if len(chosen) == 0 {
			// The best paragraph alone is over budget.
			return truncate(p, budget)
		}
	}

	idxs := make([]int, 0, len(chosen))
	for i := range chosen {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	parts := make([]string, len(idxs))
	for i, idx := range idxs {
		parts[i] = chosen[idx]
	}
	return strings.Join(parts, sep)
}

func keywordsOf(query string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(query), notWordRune) {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func score(paragraph string, keywords []string) int {
	lower := strings.ToLower(paragraph)
	s := 0
	for _, k := range keywords {
		s += strings.Count(lower, k)
	}
	return s
}

func splitParagraphs(text string) []string {
	sep := "\n\n"
	if !strings.Contains(text, sep) {
		sep = "\n"
	}
	raw := strings.Split(text, sep)
	out := raw[:0]
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
