package domain

import (
	"fmt"
	"strings"
)

// MaxPRCommentLength is the hard UTF-8 character cap spec.md §6 places on
// a posted PR comment; overflow is truncated with an ellipsis and a
// pointer back to the full report.
const MaxPRCommentLength = 60000

// FormatPRComment renders the summary comment posted to a pull request
// after a report completes, per spec.md §6's exact template.
func FormatPRComment(reportURL string, entries []ReportEntry) string {
	var b strings.Builder
	b.WriteString("## 🤖 Code Review 结果\n\n")
	fmt.Fprintf(&b, "📄 [点击查看完整报告](%s)\n\n", reportURL)

	for _, entry := range entries {
		fmt.Fprintf(&b, "### %s\n", entry.Rule)
		for i, finding := range entry.Content {
			fmt.Fprintf(&b, "%d. **%s**\n", i+1, finding.Title)
			if finding.Filepath != "" {
				fmt.Fprintf(&b, "   - 📁 `%s`\n", finding.Filepath)
			}
			fmt.Fprintf(&b, "   - 描述：%s\n", finding.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n*此评论由 AWS Code Reviewer 自动生成*")

	return truncateComment(b.String(), reportURL)
}

func truncateComment(comment, reportURL string) string {
	runes := []rune(comment)
	if len(runes) <= MaxPRCommentLength {
		return comment
	}

	pointer := fmt.Sprintf("\n\n…\n\n📄 [完整内容请查看报告](%s)", reportURL)
	pointerRunes := []rune(pointer)
	keep := MaxPRCommentLength - len(pointerRunes)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + pointer
}
