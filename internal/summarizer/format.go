package summarizer

import (
	"fmt"
	"strings"

	"github.com/daxia778/tg-monitor/internal/store"
)

// formatMessages renders a message slice as the plain-text chat transcript
// handed to the LLM, inserting a group-change banner whenever the group
// id changes mid-list.
func formatMessages(messages []store.Message, groupTitles map[int64]string) string {
	var b strings.Builder
	var currentGroup int64 = -1
	first := true

	for _, msg := range messages {
		if msg.GroupID != currentGroup {
			if !first {
				b.WriteString("\n")
			}
			title := groupTitles[msg.GroupID]
			if title == "" {
				title = fmt.Sprintf("group %d", msg.GroupID)
			}
			b.WriteString(strings.Repeat("=", 40) + "\n")
			fmt.Fprintf(&b, "Group: %s\n", title)
			b.WriteString(strings.Repeat("=", 40) + "\n")
			currentGroup = msg.GroupID
			first = false
		}

		dateStr := msg.Date
		if len(dateStr) >= 19 {
			dateStr = strings.ReplaceAll(dateStr[:19], "T", " ")
		}
		sender := "?"
		if msg.SenderName.Valid {
			sender = msg.SenderName.String
		}
		text := msg.Text.String

		var extras []string
		if msg.MediaType.Valid && msg.MediaType.String != "" {
			extras = append(extras, "["+msg.MediaType.String+"]")
		}
		if msg.ForwardFrom.Valid && msg.ForwardFrom.String != "" {
			extras = append(extras, "[forwarded from: "+msg.ForwardFrom.String+"]")
		}
		if msg.ReplyToID.Valid {
			extras = append(extras, fmt.Sprintf("[reply to #%d]", msg.ReplyToID.Int64))
		}
		extraStr := ""
		if len(extras) > 0 {
			extraStr = " " + strings.Join(extras, " ")
		}

		// Truncate oversized messages so one long paste can't blow out the
		// context window handed to the LLM.
		if len(text) > 500 {
			text = text[:250] + "\n...[long text truncated]...\n" + text[len(text)-250:]
		}

		fmt.Fprintf(&b, "[%s] %s: %s%s\n", dateStr, sender, text, extraStr)
	}

	return b.String()
}
