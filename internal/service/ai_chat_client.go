package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mindcompanion/internal/logging"
	"go.uber.org/zap"
)

const (
	AIProviderOpenAI   = "openai"
	AIProviderDeepSeek = "deepseek"

	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultDeepSeekModel   = "deepseek-chat"
	defaultAITimeout       = 30 * time.Second
	defaultReplyMaxTokens  = 800
)

// ErrAIAPIKeyMissing 在未配置模型 API Key 时返回，对话会退化为兜底回复。
var ErrAIAPIKeyMissing = errors.New("api key is required")

const companionSystemPrompt = `You are a close friend and supportive companion, not a therapist or medical professional.
Talk casually and warmly, listen without judgement and give practical, complete answers.
Reply in the same language the user writes in.
If the user mentions self-harm or suicide, respond with care and encourage them to reach out to local emergency services or a crisis line right away.`

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ResponderOptions 配置 OpenAI 兼容的对话接口。
type ResponderOptions struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// ChatResponder 通过 OpenAI 兼容的 chat/completions 接口生成回复，支持 OpenAI 与 DeepSeek。
type ChatResponder struct {
	http        httpDoer
	label       string
	baseURL     string
	model       string
	apiKey      string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// NewChatResponder 按服务商填充默认地址与模型。
func NewChatResponder(opts ResponderOptions, logger *zap.Logger) *ChatResponder {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultAITimeout
	}

	c := &ChatResponder{
		http:        &http.Client{Timeout: timeout},
		label:       "OpenAI",
		baseURL:     defaultOpenAIBaseURL,
		model:       defaultOpenAIModel,
		apiKey:      strings.TrimSpace(opts.APIKey),
		maxTokens:   defaultReplyMaxTokens,
		temperature: 0.8,
		logger:      logging.OrNop(logger),
	}
	if normalizeAIProvider(opts.Provider) == AIProviderDeepSeek {
		c.label = "DeepSeek"
		c.baseURL = defaultDeepSeekBaseURL
		c.model = defaultDeepSeekModel
	}
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		c.baseURL = base
	}
	if model := strings.TrimSpace(opts.Model); model != "" {
		c.model = model
	}
	return c
}

// SetHTTPClient 替换底层 HTTP 客户端，传 nil 时恢复默认客户端。
func (c *ChatResponder) SetHTTPClient(client httpDoer) {
	if client == nil {
		c.http = &http.Client{Timeout: defaultAITimeout}
		return
	}
	c.http = client
}

// Respond 携带最近的对话上下文请求模型回复。
func (c *ChatResponder) Respond(ctx context.Context, message string, history []ConversationTurn) (string, error) {
	if c.apiKey == "" {
		return "", ErrAIAPIKeyMissing
	}

	messages := make([]chatMessage, 0, len(history)*2+2)
	messages = append(messages, chatMessage{Role: "system", Content: companionSystemPrompt})
	for _, turn := range history {
		messages = append(messages,
			chatMessage{Role: "user", Content: turn.Message},
			chatMessage{Role: "assistant", Content: turn.AIResponse},
		)
	}
	messages = append(messages, chatMessage{Role: "user", Content: message})

	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("构造请求失败: %w", err)
	}
	logAIExchange(c.logger, "chat", "request", message)

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("创建 %s 请求失败: %w", c.label, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "mindcompanion/1.0")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("请求 %s 接口失败: %w", c.label, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("读取 %s 响应失败: %w", c.label, err)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", fmt.Errorf("解析 %s 响应失败: %w", c.label, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		errMsg := strings.TrimSpace(completion.Error.Message)
		if errMsg == "" {
			errMsg = resp.Status
		}
		return "", fmt.Errorf("%s 接口返回错误：%s", c.label, errMsg)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%s 接口未返回结果", c.label)
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%s 接口返回空回复", c.label)
	}
	logAIExchange(c.logger, "chat", "response", content,
		zap.Int("prompt_tokens", completion.Usage.PromptTokens),
		zap.Int("completion_tokens", completion.Usage.CompletionTokens))
	return content, nil
}

func normalizeAIProvider(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case AIProviderDeepSeek:
		return AIProviderDeepSeek
	case AIProviderOpenAI, "":
		return AIProviderOpenAI
	default:
		return ""
	}
}
