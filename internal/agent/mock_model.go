package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse 定义了 MockChatClient 的单次预期响应
type MockResponse struct {
	Content string
	Error   error
}

// MockChatClient 是用于测试的 model.ChatModel 模拟实现。
// 支持固定响应、顺序响应、以及按提示词内容路由响应（并发抽取
// 的章节顺序不确定，测试需要按内容匹配）。
type MockChatClient struct {
	mu sync.Mutex

	// 固定响应
	ExpectedResponse string
	ExpectedError    error

	// 顺序响应
	SequentialResponses []MockResponse
	ResponseIndex       int
	IsSequential        bool

	// 按提示词子串路由: 子串 -> 响应
	RoutedResponses map[string]MockResponse

	ReceivedMessages []*schema.Message
}

// NewMockChatClient 创建返回固定响应的 MockChatClient
func NewMockChatClient(expectedResponse string, expectedError error) *MockChatClient {
	return &MockChatClient{
		ExpectedResponse: expectedResponse,
		ExpectedError:    expectedError,
	}
}

// NewMockChatClientSequential 创建按顺序返回不同响应的 MockChatClient
func NewMockChatClientSequential(responses []MockResponse) *MockChatClient {
	if len(responses) == 0 {
		// 避免panic：无响应配置时客户端总是报错
		return &MockChatClient{
			IsSequential:        true,
			SequentialResponses: []MockResponse{{Error: errors.New("mock client has no responses configured")}},
		}
	}
	return &MockChatClient{
		SequentialResponses: responses,
		IsSequential:        true,
	}
}

// NewMockChatClientRouted 创建按提示词子串路由响应的 MockChatClient
func NewMockChatClientRouted(routes map[string]MockResponse) *MockChatClient {
	return &MockChatClient{RoutedResponses: routes}
}

// Generate 模拟 LLM 的 Generate 方法
func (m *MockChatClient) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReceivedMessages = append(m.ReceivedMessages, input...)

	if m.RoutedResponses != nil {
		for _, msg := range input {
			for needle, resp := range m.RoutedResponses {
				if needle != "" && strings.Contains(msg.Content, needle) {
					if resp.Error != nil {
						return nil, resp.Error
					}
					return schema.AssistantMessage(resp.Content, nil), nil
				}
			}
		}
		return nil, fmt.Errorf("mock client has no route for given prompt")
	}

	if m.IsSequential {
		if m.ResponseIndex >= len(m.SequentialResponses) {
			return nil, errors.New("mock client has run out of sequential responses")
		}
		resp := m.SequentialResponses[m.ResponseIndex]
		m.ResponseIndex++
		if resp.Error != nil {
			return nil, resp.Error
		}
		return schema.AssistantMessage(resp.Content, nil), nil
	}

	if m.ExpectedError != nil {
		return nil, m.ExpectedError
	}
	return schema.AssistantMessage(m.ExpectedResponse, nil), nil
}

// Stream 模拟 LLM 的 Stream 方法
func (m *MockChatClient) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("streaming not implemented in MockChatClient")
}

// BindTools 模拟绑定工具的方法
func (m *MockChatClient) BindTools(tools []*schema.ToolInfo) error {
	return nil
}

// GetReceivedMessages 返回所有调用中累积的已接收消息
func (m *MockChatClient) GetReceivedMessages() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*schema.Message(nil), m.ReceivedMessages...)
}
