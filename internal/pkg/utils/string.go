package utils

// Truncate cuts content to maxLen bytes, appending "..." when it had to.
func Truncate(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "..."
}

// Truncate80 truncates to 80 bytes, the preview length used in debug logs.
func Truncate80(content string) string {
	return Truncate(content, 80)
}
