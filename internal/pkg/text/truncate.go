package text

// Truncate 将超长字符串截断到 max 字节并追加省略号；max<=0 表示不截断。
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	// 避免在多字节字符中间截断
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
