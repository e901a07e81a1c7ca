// ABOUTME: Tests for chat command parsing
// ABOUTME: Table-driven over submit, cancel, resource and noise inputs

package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	g := Grammar{JobPrefix: "!баф", ResourcePrefix: "!голоса"}

	tests := []struct {
		name string
		text string
		want Command
	}{
		{"submit", "!баф чаз", Command{Kind: KindSubmit, Letters: "чаз"}},
		{"submit without space", "!бафу", Command{Kind: KindSubmit, Letters: "у"}},
		{"submit mixed case and spacing", "  !БАФ   а з ", Command{Kind: KindSubmit, Letters: "аз"}},
		{"cancel", "!баф отмена", Command{Kind: KindCancel}},
		{"cancel upper case", "!Баф   ОТМЕНА", Command{Kind: KindCancel}},
		{"bare prefix", "!баф", Command{}},
		{"resource", "!голоса 12", Command{Kind: KindResource, Value: 12}},
		{"resource zero", "!голоса 0", Command{Kind: KindResource, Value: 0}},
		{"resource not a number", "!голоса много", Command{}},
		{"resource negative", "!голоса -3", Command{}},
		{"other text", "привет всем", Command{}},
		{"empty", "   ", Command{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Parse(tt.text))
		})
	}
}

func TestParseWithoutResourcePrefix(t *testing.T) {
	g := Grammar{JobPrefix: "!баф"}
	assert.Equal(t, Command{}, g.Parse("!голоса 5"))
}
