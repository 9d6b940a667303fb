// Package llm 基于 OpenAI 兼容接口的意图分类器，只输出封闭标签集中的一个。
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chat_order/internal/logger"

	openai "github.com/sashabaranov/go-openai"
)

// chatClient 便于测试替换。
type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Classifier 单次受限补全，返回 {intent, confidence}。
type Classifier struct {
	client  chatClient
	model   string
	timeout time.Duration
	log     *logger.Logger
}

// New apiKey 为空时返回 nil，路由会直接跳过 LLM 层。
func New(apiKey, model string, timeout time.Duration, log *logger.Logger) *Classifier {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return newWithClient(openai.NewClient(apiKey), model, timeout, log)
}

func newWithClient(client chatClient, model string, timeout time.Duration, log *logger.Logger) *Classifier {
	if log == nil {
		log = logger.Nop()
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Classifier{client: client, model: model, timeout: timeout, log: log}
}

const systemPrompt = `You route customer chat messages for a small shop.
Classify the message into exactly one label from: %s.
Use "unknown" for item orders, quantities, greetings, or anything that is not a question about the shop.
Reply with minified JSON only: {"intent":"<label>","confidence":<0..1>}`

// Classify 实现 intent.Classifier。超时与错误都返回 error，由调用方跳过该层。
func (c *Classifier) Classify(ctx context.Context, text string, labels []string) (string, float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, strings.Join(labels, ", "))},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
		MaxTokens:   40,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, errors.New("chat completion: empty choices")
	}
	label, conf, err := ParseResult(resp.Choices[0].Message.Content)
	if err != nil {
		c.log.Debug("llm output unparseable", "error", err)
		return "", 0, err
	}
	if !contains(labels, label) {
		return "unknown", 0, nil
	}
	return label, conf, nil
}

// ParseResult 宽松解析：容忍代码块包裹、前后多余文字、confidence 为字符串或百分比。
func ParseResult(content string) (string, float64, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", 0, fmt.Errorf("no json object in %q", content)
	}

	var raw struct {
		Intent     string          `json:"intent"`
		Label      string          `json:"label"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return "", 0, fmt.Errorf("decode classifier json: %w", err)
	}
	label := raw.Intent
	if label == "" {
		label = raw.Label
	}
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return "", 0, errors.New("classifier json missing intent")
	}
	return label, parseConfidence(raw.Confidence), nil
}

func parseConfidence(raw json.RawMessage) float64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0
	}
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0
	}
	if pct || v > 1 {
		v /= 100
	}
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
