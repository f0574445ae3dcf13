package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/vklg/chatlens/internal/models"
	"github.com/vklg/chatlens/internal/narrative"
)

// Quick insights bypass the job queue entirely, so they must stay small
// enough to narrate inside one held-open request.
const quickInsightMaxMessages = 200

type quickInsightPayload struct {
	Messages []models.Message `json:"messages"`
	Goal     string           `json:"goal"`
}

// handleQuickInsight streams a narrative for a small pasted excerpt directly
// to the caller, token by token, without creating a job. Premium only.
func (s *Server) handleQuickInsight(w http.ResponseWriter, r *http.Request) {
	var payload quickInsightPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(payload.Messages) == 0 {
		RespondWithError(w, http.StatusBadRequest, "No messages provided")
		return
	}
	if len(payload.Messages) > quickInsightMaxMessages {
		RespondWithError(w, http.StatusBadRequest,
			fmt.Sprintf("Quick insights are limited to %d messages; upload a full export instead", quickInsightMaxMessages))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	cfg := s.app.Config
	narrator := narrative.New(cfg.Narrator.URL, cfg.Narrator.Model,
		time.Duration(cfg.Narrator.TimeoutMinutes)*time.Minute)

	var prompt strings.Builder
	prompt.WriteString("Give a short, candid read of this conversation excerpt.\n")
	if payload.Goal != "" {
		fmt.Fprintf(&prompt, "The reader wants to understand: %s\n", payload.Goal)
	}
	prompt.WriteString("\nExcerpt:\n")
	for _, m := range payload.Messages {
		fmt.Fprintf(&prompt, "%s: %s\n", m.Sender, m.Text)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	wrote := false
	_, err := narrator.Generate(r.Context(), prompt.String(), func(text string) {
		w.Write([]byte(text))
		flusher.Flush()
		wrote = true
	})
	if err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		log.Printf("Quick insight generation failed (partial=%v): %v", wrote, err)
	}
}
