// Package parser turns exported chat logs into a normalized message
// sequence. It understands the two common WhatsApp text layouts, a generic
// JSON export, and zip archives wrapping either (WhatsApp's "Export chat"
// produces a zip with a single .txt inside).
package parser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mholt/archives"

	"github.com/vklg/chatlens/internal/models"
)

// Scanner buffer ceiling. Individual chat messages are small, but some
// exports contain very long pasted lines.
const maxLineBytes = 1 << 20

var (
	// [1/2/24, 3:04:05 PM] Ana: text
	bracketHeader = regexp.MustCompile(`^\[(\d{1,2}/\d{1,2}/\d{2,4}, [^\]]+)\] ([^:]+): (.*)$`)
	// 1/2/24, 15:04 - Ana: text
	dashHeader = regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4}, \d{1,2}:\d{2}(?::\d{2})?(?: ?[AP]M)?) - ([^:]+): (.*)$`)
	// A line that opens with a timestamp but has no "sender:" part is a
	// system notice ("Messages and calls are end-to-end encrypted...", group
	// renames), not a continuation of the previous message.
	systemLine = regexp.MustCompile(`^(\[)?\d{1,2}/\d{1,2}/\d{2,4}, \d{1,2}:\d{2}`)
)

var timestampLayouts = []string{
	"1/2/06, 3:04:05 PM",
	"1/2/06, 3:04 PM",
	"1/2/2006, 3:04:05 PM",
	"1/2/2006, 3:04 PM",
	"1/2/06, 15:04:05",
	"1/2/06, 15:04",
	"1/2/2006, 15:04:05",
	"1/2/2006, 15:04",
	"2/1/2006, 15:04",
}

// Messages that carry no conversational content.
var skippedTexts = map[string]bool{
	"<Media omitted>":           true,
	"image omitted":             true,
	"video omitted":             true,
	"audio omitted":             true,
	"sticker omitted":           true,
	"This message was deleted.": true,
}

// ParseFile reads the uploaded export at path and returns the normalized
// message sequence. Zip archives are unwrapped to their first .txt or .json
// entry.
func ParseFile(path string) ([]models.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat export: %w", err)
	}
	defer f.Close()

	magic := make([]byte, 2)
	n, _ := io.ReadFull(f, magic)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if n == 2 && magic[0] == 'P' && magic[1] == 'K' {
		return parseZip(f)
	}
	return Parse(f)
}

// Parse reads a plain-text or JSON chat export from r.
func Parse(r io.Reader) ([]models.Message, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(512)
	if looksLikeJSON(head) {
		return parseJSON(br)
	}
	return parseText(br)
}

// parseZip extracts the first .txt or .json entry and parses it.
func parseZip(r io.Reader) ([]models.Message, error) {
	var messages []models.Message
	found := false
	err := archives.Zip{}.Extract(context.Background(), r, func(ctx context.Context, f archives.FileInfo) error {
		if found || f.IsDir() {
			return nil
		}
		name := strings.ToLower(f.NameInArchive)
		if !strings.HasSuffix(name, ".txt") && !strings.HasSuffix(name, ".json") {
			return nil
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		messages, err = Parse(rc)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read zip archive: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("archive contains no chat export")
	}
	return messages, nil
}

func looksLikeJSON(head []byte) bool {
	trimmed := bytes.TrimLeft(head, " \t\r\n\uFEFF")
	if len(trimmed) < 2 || trimmed[0] != '[' {
		return false
	}
	// A WhatsApp text export also starts with '[', but the next content
	// character of a JSON export is '{' or ']'.
	rest := bytes.TrimLeft(trimmed[1:], " \t\r\n")
	return len(rest) > 0 && (rest[0] == '{' || rest[0] == ']')
}

func parseJSON(r io.Reader) ([]models.Message, error) {
	var raw []struct {
		Sender    string `json:"sender"`
		Timestamp string `json:"timestamp"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON chat export: %w", err)
	}
	messages := make([]models.Message, 0, len(raw))
	for _, m := range raw {
		if m.Sender == "" || skippedTexts[m.Text] {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, m.Timestamp)
		messages = append(messages, models.Message{Sender: m.Sender, Timestamp: ts, Text: m.Text})
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("chat export contains no messages")
	}
	return messages, nil
}

func parseText(r io.Reader) ([]models.Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var messages []models.Message
	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "\uFEFF")
		// Strip the LTR marks WhatsApp sprinkles into exports.
		line = strings.ReplaceAll(line, "‎", "")
		if strings.TrimSpace(line) == "" {
			continue
		}

		sender, ts, text, ok := matchHeader(line)
		if !ok {
			if systemLine.MatchString(line) {
				continue
			}
			// Continuation of a multi-line message.
			if len(messages) > 0 {
				messages[len(messages)-1].Text += "\n" + line
			}
			continue
		}
		if skippedTexts[text] || isSystemNotice(text) {
			continue
		}
		messages = append(messages, models.Message{Sender: sender, Timestamp: ts, Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat export: %w", err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("chat export contains no messages")
	}
	return messages, nil
}

func matchHeader(line string) (sender string, ts time.Time, text string, ok bool) {
	var raw string
	if m := bracketHeader.FindStringSubmatch(line); m != nil {
		raw, sender, text = m[1], m[2], m[3]
	} else if m := dashHeader.FindStringSubmatch(line); m != nil {
		raw, sender, text = m[1], m[2], m[3]
	} else {
		return "", time.Time{}, "", false
	}
	ts = parseTimestamp(raw)
	return strings.TrimSpace(sender), ts, text, true
}

func parseTimestamp(raw string) time.Time {
	raw = strings.ReplaceAll(raw, " ", " ") // narrow no-break space before AM/PM
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func isSystemNotice(text string) bool {
	return strings.Contains(text, "end-to-end encrypted")
}

// Participants returns the distinct sender names in first-seen order.
func Participants(messages []models.Message) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range messages {
		if !seen[m.Sender] {
			seen[m.Sender] = true
			names = append(names, m.Sender)
		}
	}
	return names
}
