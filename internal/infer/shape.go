package infer

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// 形状抽取限制：最多三层、每个对象最多取 10 个键
const (
	shapeMaxDepth = 2
	shapeMaxKeys  = 10
)

// ExtractShape 将 JSON 正文压缩为结构样本：保留字段名，
// 值归一为类型标记，数组只保留首个元素。非 JSON 正文返回 nil
func ExtractShape(body string) json.RawMessage {
	if body == "" {
		return nil
	}
	parsed := gjson.Parse(body)
	if !parsed.IsObject() && !parsed.IsArray() {
		return nil
	}
	shape := shapeOf(parsed, 0)
	raw, err := json.Marshal(shape)
	if err != nil {
		return nil
	}
	return raw
}

// FieldCount 递归统计形状样本中的字段数量，用于判断样本是否更丰富
func FieldCount(shape json.RawMessage) int {
	if len(shape) == 0 {
		return 0
	}
	return countFields(gjson.ParseBytes(shape))
}

func shapeOf(v gjson.Result, depth int) any {
	if depth > shapeMaxDepth {
		return "..."
	}
	switch {
	case v.IsObject():
		out := make(map[string]any)
		n := 0
		v.ForEach(func(key, value gjson.Result) bool {
			if n >= shapeMaxKeys {
				return false
			}
			out[key.String()] = shapeOf(value, depth+1)
			n++
			return true
		})
		return out
	case v.IsArray():
		arr := v.Array()
		if len(arr) == 0 {
			return []any{}
		}
		return []any{shapeOf(arr[0], depth+1)}
	case v.Type == gjson.String:
		return "str"
	case v.Type == gjson.Number:
		return "num"
	case v.Type == gjson.True || v.Type == gjson.False:
		return "bool"
	default:
		return nil
	}
}

func countFields(v gjson.Result) int {
	n := 0
	if v.IsObject() {
		v.ForEach(func(key, value gjson.Result) bool {
			n++
			n += countFields(value)
			return true
		})
		return n
	}
	if v.IsArray() {
		for _, item := range v.Array() {
			n += countFields(item)
		}
	}
	return n
}
