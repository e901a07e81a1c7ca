// ABOUTME: Registration and final-summary message builders for jobs
// ABOUTME: Markdown text rendered to HTML with goldmark; no network or state

package notify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/coven-conclave/internal/ability"
	"github.com/2389/coven-conclave/internal/jobs"
)

// Message is a chat message in two renderings.
type Message struct {
	Text string
	HTML string
}

// OwnerFunc maps an agent ID to the chat user that owns it, or "".
type OwnerFunc func(agentID string) string

type effect struct {
	emoji    string
	normal   string
	critical string
}

var effects = map[string]effect{
	"а": {"🗡️", "Атака +20%!", "Атака +30%!🍀"},
	"з": {"🛡️", "Защита +20%!", "Защита +30%!🍀"},
	"у": {"🍀", "Удача +6!", "Удача +9!🍀"},
	"л": {"🌀", "Проклятие неудачи +20%!", "Проклятие неудачи +30%!🍀"},
	"б": {"💢", "Проклятие боли +20%!", "Проклятие боли +30%!🍀"},
	"ю": {"📉", "Проклятие добычи -20%!", "Проклятие добычи -30%!🍀"},
	"т": {"🔥", "Очищение огнем", ""},
	"с": {"✨", "Очищение светом", ""},
	"и": {"☀️", "Очищение (сняты проклятия)", ""},
	"в": {"♻️", "Воскрешение", ""},
}

var raceEmoji = map[string]string{
	"ч": "👨",
	"г": "👺",
	"н": "💀",
	"э": "🧝",
	"м": "⛏️",
	"д": "😈",
	"о": "👹",
}

// Notifier renders job messages.
type Notifier struct {
	md            goldmark.Markdown
	commandPrefix string
}

// New creates a Notifier. commandPrefix is quoted in the cancel hint.
func New(commandPrefix string) *Notifier {
	return &Notifier{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		commandPrefix: commandPrefix,
	}
}

// Registration acknowledges a newly accepted job.
func (n *Notifier) Registration(letters string) Message {
	lines := []string{
		fmt.Sprintf("✅ Заявка принята: **%s**", letters),
		fmt.Sprintf("📊 Ожидается шагов: %d", len(ability.Keys(letters))),
		fmt.Sprintf("📌 Для отмены напишите: `%s отмена`", n.commandPrefix),
	}
	return n.render(lines)
}

// Rejected tells the user their previous job is still running.
func (n *Notifier) Rejected(pending []string) Message {
	line := "⏳ Предыдущая заявка ещё выполняется"
	if len(pending) > 0 {
		line += fmt.Sprintf(", осталось: **%s**", strings.Join(pending, ""))
	}
	return n.render([]string{line})
}

// Cancelled confirms a cancellation.
func (n *Notifier) Cancelled(found bool) Message {
	if !found {
		return n.render([]string{"ℹ️ Активных заявок нет"})
	}
	return n.render([]string{"🛑 Заявка отменена"})
}

// Final summarizes a finished job. Each step mentions the owner of the agent
// that performed it, falling back to the requester.
func (n *Notifier) Final(userID string, agg jobs.Aggregate, owners OwnerFunc) Message {
	if len(agg.Steps) == 0 {
		return Message{}
	}

	anyApplied, allAlready := false, true
	for _, st := range agg.Steps {
		switch st.Status {
		case jobs.StatusApplied:
			anyApplied = true
			allAlready = false
		case jobs.StatusAlready:
		default:
			allAlready = false
		}
	}

	header := "🎉 Заявка выполнена!"
	if allAlready && !anyApplied {
		header = "🎉 Всё уже было наложено ранее!"
	}
	lines := []string{header}

	for _, st := range agg.Steps {
		mention := userID
		if owners != nil && st.AgentID != "" {
			if owner := owners(st.AgentID); owner != "" {
				mention = owner
			}
		}
		lines = append(lines, stepLine(mention, st))
	}
	lines = append(lines, fmt.Sprintf("%s Итого: %d", link("💰", userID), agg.TotalValue))
	return n.render(lines)
}

func stepLine(mention string, st jobs.Outcome) string {
	label := st.AbilityLabel
	if label == "" {
		label = st.AbilityKey
	}

	switch st.Status {
	case jobs.StatusAbandoned:
		return fmt.Sprintf("%s %s пропущено", link("⏳", mention), label)
	case jobs.StatusAlready:
		return fmt.Sprintf("%s %s уже было", link("🚫", mention), label)
	}

	if race, ok := ability.Races[st.AbilityKey]; ok {
		return fmt.Sprintf("%s %s!", link(raceEmoji[st.AbilityKey], mention), capitalize(race))
	}
	if e, ok := effects[st.AbilityKey]; ok {
		text := e.normal
		if st.Critical && e.critical != "" {
			text = e.critical
		}
		return fmt.Sprintf("%s %s", link(e.emoji, mention), text)
	}
	return fmt.Sprintf("%s %s (%d)", link("✨", mention), label, st.Value)
}

func link(text, userID string) string {
	if userID == "" {
		return text
	}
	return fmt.Sprintf("[%s](https://matrix.to/#/%s)", text, userID)
}

func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

// render joins lines as markdown and converts them to HTML. A conversion
// failure leaves HTML empty; the markdown body is still sendable.
func (n *Notifier) render(lines []string) Message {
	text := strings.Join(lines, "\n")
	var buf bytes.Buffer
	if err := n.md.Convert([]byte(text), &buf); err != nil {
		return Message{Text: text}
	}
	return Message{Text: text, HTML: strings.TrimSpace(buf.String())}
}
