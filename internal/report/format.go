package report

import (
	"fmt"
	"strings"

	"example.com/healthdash/internal/domain"
	"example.com/healthdash/internal/insights"
)

// FormatMessage renders the chat message for one day in Slack mrkdwn.
func FormatMessage(summary domain.DailySummary, in insights.Insights) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Daily health report for %s*\n", summary.Date)
	b.WriteString(headline(summary))
	b.WriteString("\n")

	if text := strings.TrimSpace(in.Summary); text != "" {
		fmt.Fprintf(&b, "\n%s\n", text)
	}
	writeSection(&b, "Highlights", in.Highlights)
	writeSection(&b, "To improve", in.Improvements)
	writeSection(&b, "Tips for today", in.ActionableTips)
	return strings.TrimRight(b.String(), "\n")
}

func headline(s domain.DailySummary) string {
	parts := []string{
		fmt.Sprintf("Steps: %s", groupThousands(s.Steps)),
		fmt.Sprintf("Calories: %s", groupThousands(s.Calories)),
		fmt.Sprintf("Active: %d min", s.ActiveMinutes),
	}
	if s.SleepDurationMinutes > 0 {
		parts = append(parts, fmt.Sprintf("Sleep: %dh %02dm", s.SleepDurationMinutes/60, s.SleepDurationMinutes%60))
	}
	if s.RestingHeartRate != nil {
		parts = append(parts, fmt.Sprintf("Resting HR: %d bpm", *s.RestingHeartRate))
	}
	if s.Weight != nil {
		parts = append(parts, fmt.Sprintf("Weight: %.1f kg", *s.Weight))
	}
	if s.VO2Max != nil {
		parts = append(parts, fmt.Sprintf("VO2 max: %s", *s.VO2Max))
	}
	if s.SpO2Avg != nil {
		parts = append(parts, fmt.Sprintf("SpO2: %.1f%%", *s.SpO2Avg))
	}
	return strings.Join(parts, " | ")
}

func writeSection(b *strings.Builder, title string, items []string) {
	var kept []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		return
	}
	fmt.Fprintf(b, "\n*%s*\n", title)
	for _, item := range kept {
		fmt.Fprintf(b, "• %s\n", item)
	}
}

func groupThousands(n int) string {
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	s := fmt.Sprintf("%d", n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return sign + s
}
