package tools

import (
	stdjson "encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Arguments 是大模型传入的工具参数。
type Arguments map[string]any

// ParseArguments 解析 JSON 对象形式的参数，空字符串视为空对象。
func ParseArguments(raw string) (Arguments, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return Arguments{}, nil
	}
	var args Arguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %v", err)
	}
	if args == nil {
		args = Arguments{}
	}
	return args, nil
}

// String 以字符串形式返回参数，缺失时返回空串。
func (a Arguments) String(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case stdjson.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Required 返回非空字符串参数，否则返回错误。
func (a Arguments) Required(key string) (string, error) {
	v := a.String(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// BigInt 把十进制或 0x 前缀的十六进制参数解析为非负整数。
func (a Arguments) BigInt(key string) (*big.Int, error) {
	raw, err := a.Required(key)
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(raw, 0)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}
