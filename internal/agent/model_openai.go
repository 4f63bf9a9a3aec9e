package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	defaultModelName = "qwen-plus"
	// OpenAI 兼容端点（DashScope 兼容模式），可通过配置覆盖为任意兼容服务
	defaultAPIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"

	// 结构化抽取要求确定性解码
	extractionTemperature = 0.0
)

// OpenAIChatModel 通过 OpenAI 兼容的 chat/completions HTTP 接口实现
// model.ToolCallingChatModel，用于结构化信息抽取。温度固定为0，
// 同一输入应产生稳定输出。
type OpenAIChatModel struct {
	apiKey     string
	modelName  string
	apiURL     string
	httpClient *http.Client
}

// OpenAIChatModelOption 配置选项
type OpenAIChatModelOption func(*OpenAIChatModel)

// WithHTTPTimeout 设置底层HTTP客户端超时
func WithHTTPTimeout(timeout time.Duration) OpenAIChatModelOption {
	return func(m *OpenAIChatModel) {
		m.httpClient.Timeout = timeout
	}
}

// NewOpenAIChatModel 创建 OpenAI 兼容的聊天模型客户端
func NewOpenAIChatModel(apiKey, modelName, apiURL string, options ...OpenAIChatModelOption) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultAPIURL
	}

	m := &OpenAIChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range options {
		opt(m)
	}

	log.Printf("使用 OpenAI 兼容 LLM 客户端，API URL: %s, 模型: %s", m.apiURL, m.modelName)
	return m, nil
}

type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"` // eino schema.Message 的 role/content 与 OpenAI 格式兼容
	Temperature float64           `json:"temperature"`
}

type chatCompletionChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatCompletionResponse struct {
	Id      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
}

// Generate 实现 model.ChatModel 接口
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	reqPayload := chatCompletionRequest{
		Model:       m.modelName,
		Messages:    messages,
		Temperature: extractionTemperature,
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w。响应体: %s", err, string(bodyBytes))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项: %s", string(bodyBytes))
	}

	apiMessage := resp.Choices[0].Message
	content := ""
	if apiMessage.Content != nil {
		content = *apiMessage.Content
	}

	result := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: content,
	}
	if result.Role == "" {
		result.Role = schema.RoleType("assistant")
	}
	return result, nil
}

// Stream 实现 model.ChatModel 接口（结构化抽取不需要流式输出）
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAIChatModel 的 Stream 方法未实现")
}

// BindTools 实现 model.ChatModel 接口。抽取链路不使用工具调用。
func (m *OpenAIChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) > 0 {
		return fmt.Errorf("OpenAIChatModel 不支持工具调用")
	}
	return nil
}

// WithTools 实现 model.ToolCallingChatModel 接口
func (m *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if err := m.BindTools(tools); err != nil {
		return nil, err
	}
	return m, nil
}

var _ model.ChatModel = (*OpenAIChatModel)(nil)
var _ model.ToolCallingChatModel = (*OpenAIChatModel)(nil)
