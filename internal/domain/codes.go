package domain

import "strconv"

// 验证码提取范围
const (
	MinCodeLength = 4
	MaxCodeLength = 8
	MinCodeValue  = 1000
	MaxCodeValue  = 99999999
)

// ExtractCodes 扫描正文中连续的数字串，返回看起来像一次性验证码的部分。
//
// 只接受长度 4-8 且数值落在 [1000, 99999999] 的完整数字串，
// 结果按首次出现顺序去重。这是启发式过滤，不保证精确。
func ExtractCodes(body string) []string {
	codes := make([]string, 0)
	seen := make(map[string]struct{})

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		run := body[start:end]
		start = -1
		if len(run) < MinCodeLength || len(run) > MaxCodeLength {
			return
		}
		value, err := strconv.Atoi(run)
		if err != nil || value < MinCodeValue || value > MaxCodeValue {
			return
		}
		if _, ok := seen[run]; ok {
			return
		}
		seen[run] = struct{}{}
		codes = append(codes, run)
	}

	for i := 0; i < len(body); i++ {
		c := body[i]
		if c >= '0' && c <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(body))

	return codes
}
