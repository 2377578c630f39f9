package agent

import (
	"fmt"
	"strings"

	"github.com/relaychat/relay/pkg/models"
)

// HistoryFormatter renders a message slice to flat text for embedding in a
// {{history}} template substitution.
type HistoryFormatter func(messages []models.Message) string

// DefaultHistoryFormatter renders one "<role>: <content>" line per message.
func DefaultHistoryFormatter(messages []models.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content.String())
	}
	return b.String()
}
