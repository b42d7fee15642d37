package alerts

import (
	"fmt"
	"strings"

	"statusbot/internal/notify"
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown makes s safe inside a Markdown v1 entity.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

// FormatDigest renders the active alerts of one category as a single
// message for the daily run. No alerts yields an all-clear line.
func FormatDigest(category notify.Category, alerts []notify.Alert) string {
	var own []notify.Alert
	for _, a := range alerts {
		if a.Category == category {
			own = append(own, a)
		}
	}
	if len(own) == 0 {
		return fmt.Sprintf("✅ *%s*\n\nNo active alerts.", category.Name())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *%s* - %d active", category.Name(), len(own))
	for _, a := range own {
		b.WriteString("\n\n")
		b.WriteString(a.Message)
	}
	return b.String()
}
