package server

import (
	"fmt"
	"strings"
	"time"

	"msimchat/internal/frame"
	"msimchat/internal/store"
)

// historyMargin is the safety margin subtracted from the content
// field's capacity before the renderer decides a block must truncate.
const historyMargin = 16

// historyLimit caps how many rows a single history reply ever pulls
// from the store before rendering; truncateHistoryBlock trims further
// if even that many lines would overflow one frame.
const historyLimit = 500

const historyTimeLayout = "2006-01-02 15:04:05"

func renderDirectHistory(messages []store.DirectMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, historyLine(m.Timestamp, m.Sender, m.Body))
	}
	return truncateHistoryBlock(lines)
}

func renderGroupHistory(messages []store.GroupMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, historyLine(m.Timestamp, m.Sender, m.Body))
	}
	return truncateHistoryBlock(lines)
}

func historyLine(ts time.Time, sender, body string) string {
	return fmt.Sprintf("[%s] %s: %s\n", ts.UTC().Format(historyTimeLayout), sender, body)
}

// truncateHistoryBlock joins lines and, if the result would exceed the
// content field's capacity minus a safety margin, truncates at a line
// boundary and appends a final "...\n".
func truncateHistoryBlock(lines []string) string {
	limit := frame.ContentSize - 1 - historyMargin

	var b strings.Builder
	for _, line := range lines {
		if b.Len()+len(line) > limit {
			b.WriteString("...\n")
			return b.String()
		}
		b.WriteString(line)
	}
	return b.String()
}
