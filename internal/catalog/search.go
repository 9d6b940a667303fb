package catalog

import (
	"regexp"
	"strings"
)

// MatchKind 搜索结果的类型标签，调用方显式决定 NoMatch 是否进入下一阶段。
type MatchKind int

const (
	NoMatch MatchKind = iota
	Matched
	Ambiguous
)

func (k MatchKind) String() string {
	switch k {
	case Matched:
		return "matched"
	case Ambiguous:
		return "ambiguous"
	default:
		return "no_match"
	}
}

// Result 搜索结果。
// Matched：Canonical 为命中的商品，Variants 为剩余候选规格（可能已按关键词收窄）。
// Ambiguous：Canonicals 为并列的多个商品（每个一个代表规格）。
type Result struct {
	Kind       MatchKind
	Canonical  string
	Variants   []Item
	Canonicals []Item
}

var (
	nonWord   = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	qtyToken  = regexp.MustCompile(`^(x\d+|\d+x|\d+)$`)
	stopWords = map[string]bool{
		"i": true, "want": true, "need": true, "give": true, "me": true, "please": true, "pls": true,
		"plz": true, "order": true, "a": true, "an": true, "the": true, "of": true, "some": true,
		"to": true, "get": true, "can": true, "you": true, "send": true, "add": true, "bro": true,
		"sir": true, "and": true, "with": true, "for": true, "my": true, "us": true, "also": true,
		"one": true, "two": true, "three": true, "four": true, "five": true, "six": true,
		"seven": true, "eight": true, "nine": true, "ten": true, "piece": true, "pieces": true,
		"venum": true, "vendum": true, "kudunga": true,
	}
)

// Tokenize 小写、去标点、按空白切分。
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	s = nonWord.ReplaceAllString(s, " ")
	return strings.Fields(s)
}

// QueryTokens 去掉停用词和数量词后的有效检索词。
func QueryTokens(s string) []string {
	var out []string
	for _, t := range Tokenize(s) {
		if stopWords[t] || qtyToken.MatchString(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Search 在整个目录中做规格感知的检索。
func Search(items []Item, query string) Result {
	q := QueryTokens(query)
	if len(q) == 0 || len(items) == 0 {
		return Result{Kind: NoMatch}
	}

	best := 0
	var top []Item
	for _, rep := range Canonicals(items) {
		score := 0
		for _, v := range Variants(items, rep.Canonical) {
			if s := overlap(q, nameTokens(v)); s > score {
				score = s
			}
		}
		switch {
		case score == 0 || score < best:
			continue
		case score > best:
			best = score
			top = []Item{rep}
		default:
			top = append(top, rep)
		}
	}

	switch len(top) {
	case 0:
		return Result{Kind: NoMatch}
	case 1:
		canonical := top[0].Canonical
		variants := Variants(items, canonical)
		if len(variants) > 1 {
			if narrowed := MatchVariants(variants, query); len(narrowed) > 0 {
				variants = narrowed
			}
		}
		return Result{Kind: Matched, Canonical: canonical, Variants: variants}
	default:
		return Result{Kind: Ambiguous, Canonicals: top}
	}
}

// MatchVariants 用规格专属关键词（去掉 canonical 自身的词）打分，返回得分 > 0 的规格。
func MatchVariants(variants []Item, query string) []Item {
	q := QueryTokens(query)
	if len(q) == 0 {
		return nil
	}
	var out []Item
	for _, v := range variants {
		if overlap(q, variantTokens(v)) > 0 {
			out = append(out, v)
		}
	}
	return out
}

// MatchCandidateLabel 单词模糊匹配候选标签，用于数字列表状态下的文字回复。
func MatchCandidateLabel(labels []string, query string) []int {
	q := QueryTokens(query)
	if len(q) == 0 {
		return nil
	}
	var hits []int
	for i, l := range labels {
		if overlap(q, Tokenize(l)) > 0 {
			hits = append(hits, i)
		}
	}
	return hits
}

// nameTokens 名称类词（不含规格），避免只说 "large" 就命中商品。
func nameTokens(it Item) []string {
	toks := Tokenize(it.Canonical)
	toks = append(toks, Tokenize(it.Brand)...)
	for _, t := range Tokenize(it.DisplayName) {
		if !containsToken(Tokenize(it.Variant), t) {
			toks = append(toks, t)
		}
	}
	return toks
}

func variantTokens(it Item) []string {
	base := Tokenize(it.Canonical)
	var out []string
	for _, t := range append(append(Tokenize(it.Variant), Tokenize(it.Brand)...), Tokenize(it.DisplayName)...) {
		if !containsToken(base, t) {
			out = append(out, t)
		}
	}
	return out
}

// overlap 统计 query 中能在 target 找到（含模糊）匹配的词数。
func overlap(query, target []string) int {
	n := 0
	for _, q := range query {
		for _, t := range target {
			if fuzzyEqual(q, t) {
				n++
				break
			}
		}
	}
	return n
}

func containsToken(list []string, tok string) bool {
	for _, t := range list {
		if t == tok {
			return true
		}
	}
	return false
}

// fuzzyEqual 完全相等、>=4 字符前缀、或小编辑距离（拼写容错 biriyani/biryani）。
func fuzzyEqual(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) >= 4 && len(b) >= 4 && (strings.HasPrefix(a, b) || strings.HasPrefix(b, a)) {
		return true
	}
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	switch {
	case shorter >= 8:
		return levenshtein(a, b) <= 2
	case shorter >= 5:
		return levenshtein(a, b) <= 1
	}
	return false
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
