package telegram

import "strings"

const telegramTextLimit = 4000

// splitText cuts s into chunks Telegram accepts, preferring newline
// boundaries. A fenced code block cut in half is closed and reopened so
// Markdown tables survive the split.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	start := 0
	reopen := false
	for start < len(rs) {
		budget := limit
		if reopen {
			budget -= len("```\n")
		}
		end := min(start+budget-len("\n```"), len(rs))
		if end <= start {
			end = min(start+1, len(rs))
		}

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= budget/3 {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if reopen {
			chunk = "```\n" + chunk
		}
		open := strings.Count(chunk, "```")%2 == 1
		if open && end < len(rs) {
			chunk += "\n```"
		}
		out = append(out, chunk)
		reopen = open && end < len(rs)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
