// ABOUTME: Command grammar for chat intake: submit, cancel and resource reports
// ABOUTME: Pure parsing; letter validation is left to the ability catalog

// Package intake parses user commands posted in the source chat.
package intake

import (
	"strconv"
	"strings"

	"github.com/2389/coven-conclave/internal/chat"
)

// Kind identifies a parsed command.
type Kind int

const (
	KindNone Kind = iota
	KindSubmit
	KindCancel
	KindResource
)

// CancelWord follows the job prefix to cancel the active job.
const CancelWord = "отмена"

// Command is one parsed chat command.
type Command struct {
	Kind Kind
	// Letters is the raw text after the job prefix, for KindSubmit.
	Letters string
	// Value is the reported counter, for KindResource.
	Value int
}

// Grammar holds the command prefixes.
type Grammar struct {
	JobPrefix      string
	ResourcePrefix string
}

// Parse classifies text. Matching is case-insensitive and whitespace-tolerant;
// letters may follow the job prefix with or without a space.
func (g Grammar) Parse(text string) Command {
	norm := chat.NormalizeText(text)
	if norm == "" {
		return Command{}
	}

	if p := strings.ToLower(g.JobPrefix); p != "" && strings.HasPrefix(norm, p) {
		rest := strings.TrimSpace(strings.TrimPrefix(norm, p))
		switch {
		case rest == CancelWord:
			return Command{Kind: KindCancel}
		case rest == "":
			return Command{}
		default:
			return Command{Kind: KindSubmit, Letters: strings.ReplaceAll(rest, " ", "")}
		}
	}

	if p := strings.ToLower(g.ResourcePrefix); p != "" && strings.HasPrefix(norm, p) {
		rest := strings.TrimSpace(strings.TrimPrefix(norm, p))
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return Command{}
		}
		return Command{Kind: KindResource, Value: n}
	}

	return Command{}
}
