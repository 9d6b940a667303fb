// Package meta 识别与会话状态无关的控制类消息（重置、返回、帮助、菜单、转人工、纯问候）。
// 纯函数，无 I/O。
package meta

import (
	"regexp"
	"strings"
)

// Kind 控制意图类型。
type Kind string

const (
	None     Kind = ""
	Reset    Kind = "reset"
	Back     Kind = "back"
	Help     Kind = "help"
	Menu     Kind = "menu"
	Agent    Kind = "agent"
	Greeting Kind = "greeting"
)

// IsEscape 重置与返回都走全局逃生通道。
func (k Kind) IsEscape() bool { return k == Reset || k == Back }

var (
	resetPhrases = []string{
		"cancel", "reset", "restart", "start over", "start again", "clear cart", "empty cart",
		"quit", "cancel pannu", "cancel pannunga", "order vendam",
	}
	backPhrases  = []string{"go back", "take me back"}
	backExact    = []string{"back", "previous", "undo", "pinnadi"}
	agentPhrases = []string{
		"agent", "human", "real person", "talk to someone", "talk to a person", "customer care",
		"representative", "call me", "manager", "owner",
	}
	helpPhrases = []string{"help", "how to order", "how does this work", "confused", "udhavi", "support"}
	menuPhrases = []string{"menu", "show menu", "price list", "catalog", "catalogue", "items list", "what do you have"}

	greetingTokens = map[string]bool{
		"hi": true, "hii": true, "hiii": true, "hello": true, "helo": true, "hey": true, "heyy": true,
		"hai": true, "vanakkam": true, "namaste": true, "namaskar": true, "yo": true, "gm": true,
		"hola": true,
	}
	greetingPhrases = []string{"good morning", "good afternoon", "good evening", "good night"}
	fillerTokens    = map[string]bool{
		"bro": true, "sir": true, "madam": true, "anna": true, "akka": true, "there": true,
		"team": true, "all": true, "ji": true, "boss": true, "dear": true, "friend": true,
		"da": true, "thambi": true, "everyone": true,
	}

	punct = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// Detect 对原始文本做分类。逃生词优先于一切（"hi cancel" 是重置）。
func Detect(raw string) Kind {
	text := clean(raw)
	if text == "" {
		return None
	}
	switch {
	case containsAny(text, resetPhrases):
		return Reset
	case containsAny(text, backPhrases) || equalsAny(text, backExact):
		return Back
	case containsAny(text, agentPhrases):
		return Agent
	case containsAny(text, helpPhrases):
		return Help
	case containsAny(text, menuPhrases):
		return Menu
	case isPureGreeting(text):
		return Greeting
	}
	return None
}

// IsExactAgent 整条消息就是转人工请求。结算状态里地址文本可能顺带出现 "manager"、"agent" 等词，只认整句。
func IsExactAgent(raw string) bool {
	return equalsAny(clean(raw), agentPhrases)
}

// IsEscape 便捷判断：是否命中全局重置/返回词表。
func IsEscape(raw string) bool {
	return Detect(raw).IsEscape()
}

// isPureGreeting 保守判定：完全等于问候词，或 <=3 个词且首词是问候、其余都是称呼类填充词。
func isPureGreeting(text string) bool {
	for _, p := range greetingPhrases {
		if text == p {
			return true
		}
	}
	toks := strings.Fields(text)
	if len(toks) == 0 || len(toks) > 3 {
		return false
	}
	if !greetingTokens[toks[0]] {
		return false
	}
	for _, t := range toks[1:] {
		if !fillerTokens[t] {
			return false
		}
	}
	return true
}

func clean(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = punct.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func equalsAny(text string, words []string) bool {
	for _, w := range words {
		if text == w {
			return true
		}
	}
	return false
}

// containsAny 按词边界做包含判断，避免 "feedback" 命中 "back"。
func containsAny(text string, phrases []string) bool {
	padded := " " + text + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
