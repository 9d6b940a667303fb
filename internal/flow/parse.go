package flow

import (
	"regexp"
	"strconv"
	"strings"

	"chat_order/internal/convo"
)

var (
	multiSplit   = regexp.MustCompile(`\s*(?:,|;|&|\+|\n|\band\b)\s*`)
	leadingQty   = regexp.MustCompile(`^(\d{1,3})\s*(?:x\s*)?(.+)$`)
	trailingQty  = regexp.MustCompile(`^(.+?)\s*(?:x\s*(\d{1,3})|(\d{1,3})\s*x)$`)
	xQty         = regexp.MustCompile(`^x?\s*(\d{1,3})\s*x?$`)
	digitsOnly   = regexp.MustCompile(`^\d+$`)
	addressStart = regexp.MustCompile(`^\d+[-/]?\d*\s+\w`)

	wordNumbers = map[string]int{
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
		"a": 1, "an": 1, "single": 1, "couple": 2, "dozen": 12,
		"onnu": 1, "rendu": 2, "moonu": 3, "naalu": 4, "anju": 5,
	}

	addressKeywords = []string{
		"street", "st", "road", "rd", "block", "flat", "floor", "apartment", "apt", "house", "door",
		"nagar", "colony", "layout", "main", "cross", "lane", "avenue", "sector", "phase",
		"near", "opp", "opposite", "behind", "plot", "villa", "tower", "salai", "theru", "veethi",
		"pin", "pincode",
	}

	yesWords  = []string{"yes", "y", "yeah", "yep", "ok", "okay", "sure", "add", "add it", "aama", "haan", "ha"}
	noWords   = []string{"no", "n", "nope", "nah", "vendam", "illa"}
	skipWords = []string{"skip", "later", "not now", "next"}
	paidWords = []string{"paid", "done", "payment done", "i paid", "sent", "completed", "transferred"}
)

// MaxQty 单行允许的最大数量。
const MaxQty = 99

// ParseMultiItem 按分隔符拆分多商品消息。只有拆出 >=2 项时才返回队列。
func ParseMultiItem(raw string) []convo.QueueEntry {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return nil
	}
	parts := multiSplit.Split(text, -1)
	var out []convo.QueueEntry
	for _, p := range parts {
		p = strings.Trim(p, " .!?")
		if p == "" {
			continue
		}
		name, qty := splitQty(p)
		if name == "" {
			continue
		}
		out = append(out, convo.QueueEntry{Name: name, Qty: qty, Raw: p})
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

// splitQty "2 chicken biryani" / "biryani x2" / "two coke" -> 名称与数量，没写数量时 qty=0。
func splitQty(p string) (string, int) {
	if m := leadingQty.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		return strings.TrimSpace(m[2]), n
	}
	fields := strings.Fields(p)
	if len(fields) > 1 {
		if n, ok := wordNumbers[fields[0]]; ok {
			return strings.Join(fields[1:], " "), n
		}
	}
	if m := trailingQty.FindStringSubmatch(p); m != nil {
		n := m[2]
		if n == "" {
			n = m[3]
		}
		v, _ := strconv.Atoi(n)
		return strings.TrimSpace(m[1]), v
	}
	return p, 0
}

// QtyHint 单商品消息里携带的数量。
func QtyHint(text string) int {
	_, n := splitQty(strings.ToLower(strings.TrimSpace(text)))
	return n
}

// ParseChoice 纯数字回复，返回 1 起始的序号。
func ParseChoice(text string) (int, bool) {
	t := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if !digitsOnly.MatchString(t) {
		return 0, false
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseQuantity 数量回复："3"、"x3"、"three"、"3 plates"。不接受 0 和超过 MaxQty 的值。
func ParseQuantity(text string) (int, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if m := xQty.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, n > 0 && n <= MaxQty
	}
	fields := strings.Fields(t)
	if len(fields) == 0 || len(fields) > 3 {
		return 0, false
	}
	if n, err := strconv.Atoi(fields[0]); err == nil {
		return n, n > 0 && n <= MaxQty
	}
	if n, ok := wordNumbers[fields[0]]; ok {
		return n, n <= MaxQty
	}
	return 0, false
}

// LooksLikeAddress 地址启发式：关键词、门牌号开头、或长度超过 15 个字符。
func LooksLikeAddress(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	if len([]rune(t)) > 15 {
		return true
	}
	if addressStart.MatchString(t) {
		return true
	}
	return hasWord(t, addressKeywords)
}

func isYes(t string) bool  { return hasPhrase(t, yesWords) }
func isNo(t string) bool   { return hasPhrase(t, noWords) }
func isSkip(t string) bool { return hasPhrase(t, skipWords) }
func isPaid(t string) bool { return hasPhrase(t, paidWords) }

// hasPhrase 整句等于某个短语。
func hasPhrase(t string, phrases []string) bool {
	t = strings.Trim(strings.ToLower(strings.TrimSpace(t)), ".!")
	for _, p := range phrases {
		if t == p {
			return true
		}
	}
	return false
}

// hasWord 任意一个词命中。
func hasWord(t string, words []string) bool {
	padded := " " + strings.Join(strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '/' || r == '-' || r == '#'
	}), " ") + " "
	for _, w := range words {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}
