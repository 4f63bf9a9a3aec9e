package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const extractionSystemPrompt = "You are an ATS-grade CV parser. You extract structured information from CV text and always answer with a single valid JSON object, nothing else."

var jsonFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON 从LLM响应中定位JSON对象。优先匹配```json围栏，
// 其次做花括号配对扫描。找不到时返回空字符串。
func extractJSON(text string) string {
	if m := jsonFenceRegex.FindStringSubmatch(text); len(m) > 1 {
		return m[1]
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// isRetryableError 判断LLM调用错误是否值得有限重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout", "deadline exceeded", "connection refused", "connection reset",
		"429", "too many requests", "500", "502", "503", "504",
		"rate limit", "temporarily unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// callLLM 以系统提示词+用户提示词发起一次Generate调用，
// 对瞬时错误做有限重试（指数退避）。
func callLLM(ctx context.Context, llm model.ChatModel, prompt string, maxRetries int) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(extractionSystemPrompt),
		schema.UserMessage(prompt),
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		response, err := llm.Generate(ctx, messages)
		if err == nil {
			return response.Content, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}
	return "", fmt.Errorf("LLM调用失败: %w", lastErr)
}

// cleanStringList 去除列表中的空白项并裁剪首尾空白
func cleanStringList(items []string) []string {
	var cleaned []string
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

// collapseSpaces 折叠重复空白。headline等单行字段禁止出现连续空格。
func collapseSpaces(s *string) *string {
	if s == nil {
		return nil
	}
	collapsed := strings.Join(strings.Fields(*s), " ")
	if collapsed == "" {
		return nil
	}
	return &collapsed
}

// trimOrNil 裁剪首尾空白，空串归一化为nil。缺失的字段保持null，不编造。
func trimOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
