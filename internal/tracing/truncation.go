package tracing

import (
	"strings"
)

const (
	// DefaultMaxLength 默认最大属性长度
	DefaultMaxLength = 200

	// MaxSQLLength SQL语句最大长度
	MaxSQLLength = 500

	// MaxRedisLength Redis键值最大长度
	MaxRedisLength = 100

	// MaxProfileLength 档案内容最大长度
	MaxProfileLength = 150
)

// maskPIILookup 需要掩码处理的关键字映射
var maskPIILookup = map[string]bool{
	"email":    true,
	"phone":    true,
	"password": true,
	"address":  true,
	"name":     true,
	"secret":   true,
	"token":    true,
	"api_key":  true,
}

// TruncateAttr 截断属性值到指定长度，超长部分以省略号结尾
func TruncateAttr(value string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if len(value) <= maxLength {
		return value
	}
	return value[:maxLength] + "..."
}

// MaskPII 根据属性键判断是否需要掩码，候选人身份字段一律不进span
func MaskPII(key, value string) string {
	lowerKey := strings.ToLower(key)
	for piiKey := range maskPIILookup {
		if strings.Contains(lowerKey, piiKey) {
			return mask(value)
		}
	}
	return value
}

// mask 保留首尾各一个字符，中间以星号代替
func mask(value string) string {
	if len(value) <= 2 {
		return "**"
	}
	return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
}
