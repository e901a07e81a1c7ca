// ABOUTME: Tests for job message builders
// ABOUTME: Checks per-step lines, headers and the HTML rendering

package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-conclave/internal/jobs"
)

func TestRegistration(t *testing.T) {
	n := New("!баф")
	msg := n.Registration("чаз")

	assert.Contains(t, msg.Text, "**чаз**")
	assert.Contains(t, msg.Text, "Ожидается шагов: 3")
	assert.Contains(t, msg.Text, "`!баф отмена`")
	assert.Contains(t, msg.HTML, "<strong>чаз</strong>")
	assert.Contains(t, msg.HTML, "<code>!баф отмена</code>")
	assert.Contains(t, msg.HTML, "<br")
}

func TestFinal(t *testing.T) {
	n := New("!баф")
	owners := map[string]string{"x": "@owner:test"}

	agg := jobs.Aggregate{
		Steps: []jobs.Outcome{
			{AgentID: "x", AbilityKey: "а", AbilityLabel: "атаки", Value: 150, Critical: true, Status: jobs.StatusApplied},
			{AgentID: "y", AbilityKey: "г", AbilityLabel: "гоблина", Value: 100, Status: jobs.StatusApplied},
			{AgentID: "y", AbilityKey: "у", AbilityLabel: "удачи", Status: jobs.StatusAlready},
			{AbilityKey: "т", AbilityLabel: "очищение огнем", Status: jobs.StatusAbandoned},
		},
		TotalValue: 250,
		Expected:   4,
		Completed:  4,
	}

	msg := n.Final("@req:test", agg, func(id string) string { return owners[id] })
	lines := strings.Split(msg.Text, "\n")
	require.Len(t, lines, 6)

	assert.Equal(t, "🎉 Заявка выполнена!", lines[0])
	assert.Equal(t, "[🗡️](https://matrix.to/#/@owner:test) Атака +30%!🍀", lines[1])
	assert.Equal(t, "[👺](https://matrix.to/#/@req:test) Гоблин!", lines[2])
	assert.Equal(t, "[🚫](https://matrix.to/#/@req:test) удачи уже было", lines[3])
	assert.Equal(t, "[⏳](https://matrix.to/#/@req:test) очищение огнем пропущено", lines[4])
	assert.Equal(t, "[💰](https://matrix.to/#/@req:test) Итого: 250", lines[5])

	assert.Contains(t, msg.HTML, `<a href="https://matrix.to/#/@owner:test">🗡️</a>`)
}

func TestFinalAllAlready(t *testing.T) {
	n := New("!баф")
	agg := jobs.Aggregate{
		Steps:    []jobs.Outcome{{AbilityKey: "а", AbilityLabel: "атаки", Status: jobs.StatusAlready}},
		Expected: 1, Completed: 1,
	}

	msg := n.Final("@req:test", agg, nil)
	assert.True(t, strings.HasPrefix(msg.Text, "🎉 Всё уже было наложено ранее!"))
}

func TestFinalEmpty(t *testing.T) {
	assert.Equal(t, Message{}, New("!баф").Final("@req:test", jobs.Aggregate{}, nil))
}

func TestRejectedAndCancelled(t *testing.T) {
	n := New("!баф")
	assert.Contains(t, n.Rejected([]string{"а", "з"}).Text, "**аз**")
	assert.Contains(t, n.Cancelled(true).Text, "отменена")
	assert.Contains(t, n.Cancelled(false).Text, "нет")
}
