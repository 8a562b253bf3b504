// Package names normalizes counterparty names so that formatting noise does
// not decide whether two records refer to the same party.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Normalize folds full-width forms, lowercases, and drops whitespace and
// punctuation. "北京 某某（有限）公司" and "北京某某(有限)公司" normalize equal.
func Normalize(name string) string {
	folded := strings.ToLower(width.Fold.String(name))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Equal reports whether two names normalize to the same non-empty value.
func Equal(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

// Similarity is 1 - levenshtein/maxLen over normalized runes, in [0,1].
func Similarity(a, b string) float64 {
	ra := []rune(Normalize(a))
	rb := []rune(Normalize(b))
	if len(ra) == 0 && len(rb) == 0 {
		return 0
	}
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// LikelyPerson guesses whether a payer name belongs to an individual rather
// than an organisation.
func LikelyPerson(name string) bool {
	trimmed := strings.Join(strings.Fields(name), " ")
	if trimmed == "" {
		return false
	}
	for _, kw := range orgKeywords {
		if strings.Contains(trimmed, kw) {
			return false
		}
	}
	for _, w := range strings.Fields(strings.ToLower(trimmed)) {
		if orgWords[strings.Trim(w, ".,")] {
			return false
		}
	}

	compact := strings.ReplaceAll(trimmed, " ", "")
	runes := []rune(strings.NewReplacer("·", "", "•", "").Replace(compact))
	if allHan(runes) {
		return len(runes) >= 2 && len(runes) <= 4
	}

	words := strings.Fields(trimmed)
	if len(words) < 2 || len(words) > 3 {
		return false
	}
	for _, w := range words {
		for _, r := range w {
			if !unicode.IsLetter(r) && r != '.' && r != '-' && r != '\'' {
				return false
			}
		}
	}
	return true
}

func allHan(runes []rune) bool {
	if len(runes) == 0 {
		return false
	}
	for _, r := range runes {
		if !unicode.Is(unicode.Han, r) {
			return false
		}
	}
	return true
}

var orgKeywords = []string{
	"公司", "有限", "集团", "商店", "店铺", "厂", "企业", "事务所", "银行", "证券",
	"保险", "基金", "学校", "医院", "政府", "机关", "协会", "中心", "研究所", "院",
}

var orgWords = map[string]bool{
	"ltd": true, "llc": true, "inc": true, "corp": true, "co": true, "company": true,
	"gmbh": true, "limited": true, "bank": true, "group": true, "trading": true,
}
