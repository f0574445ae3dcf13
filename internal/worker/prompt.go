package worker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vklg/chatlens/internal/models"
)

// Bounds on the raw-message excerpt fed to the generation service. Whole
// chats run to years of history; the narrative only needs recent texture.
const (
	excerptMaxMessages = 150
	excerptMaxBytes    = 16 * 1024
)

// buildPrompt assembles the generation prompt from the personalization
// payload, the classifier metrics and a bounded excerpt of recent messages.
func buildPrompt(job *models.Job, metrics map[string]float64, messages []models.Message) string {
	var b strings.Builder

	b.WriteString("You are a relationship analyst. Write a warm, honest narrative report ")
	fmt.Fprintf(&b, "about the conversation between %s and %s.\n", job.Input.SelfName, job.Input.PartnerName)
	if job.Input.Goal != "" {
		fmt.Fprintf(&b, "The reader wants to understand: %s\n", job.Input.Goal)
	}

	b.WriteString("\nComputed metrics (0 to 1):\n")
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %.3f\n", k, metrics[k])
	}

	b.WriteString("\nRecent excerpt:\n")
	b.WriteString(Excerpt(messages, excerptMaxMessages, excerptMaxBytes))
	b.WriteString("\nGround every observation in the metrics or the excerpt. Do not invent events.\n")
	return b.String()
}

// Excerpt renders the most recent messages, capped by count and total bytes,
// oldest first so the narrative reads chronologically.
func Excerpt(messages []models.Message, maxMessages, maxBytes int) string {
	start := len(messages) - maxMessages
	if start < 0 {
		start = 0
	}
	recent := messages[start:]

	// Walk backwards accumulating the byte budget, then emit forwards.
	total := 0
	cut := 0
	for i := len(recent) - 1; i >= 0; i-- {
		size := len(recent[i].Sender) + len(recent[i].Text) + 4
		if total+size > maxBytes {
			cut = i + 1
			break
		}
		total += size
	}

	var b strings.Builder
	for _, m := range recent[cut:] {
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Text)
	}
	return b.String()
}
