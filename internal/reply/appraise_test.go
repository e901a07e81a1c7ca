// ABOUTME: Tests for the appraisal table thresholds
// ABOUTME: Exercises percent, luck, marker and race rules

package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-conclave/internal/ability"
)

func TestAppraise(t *testing.T) {
	cat := ability.DefaultCatalog()
	table := DefaultAppraisalTable()

	resolve := func(key string) ability.Ability {
		ab, ok := cat.Resolve(key)
		require.True(t, ok)
		return ab
	}
	light := func(key string) ability.Ability {
		ab, ok := cat.Lookup(ability.RoleLightIncarnation, key)
		require.True(t, ok)
		return ab
	}

	tests := []struct {
		name     string
		ab       ability.Ability
		text     string
		value    int
		critical bool
	}{
		{"attack normal", resolve("а"), "На вас наложено благословение атаки", 100, false},
		{"attack critical percent", resolve("а"), "атака повышена на 30%", 150, true},
		{"attack normal percent", resolve("а"), "атака повышена на 20%", 100, false},
		{"attack marker", resolve("з"), "Критическое благословение защиты!", 150, true},
		{"luck critical", resolve("у"), "удача повышена на 9", 150, true},
		{"luck normal", resolve("у"), "удача повышена на 6", 100, false},
		{"luck clover", resolve("у"), "🍀 удача", 150, true},
		{"curse percent", resolve("б"), "боль 30%", 150, true},
		{"curse normal", resolve("б"), "боль 20%", 100, false},
		{"race never critical", resolve("ч"), "наложено благословение человека 30%", 100, false},
		{"cleansing marker", light("и"), "критическое очищение", 150, true},
		{"attack off-tier percent", resolve("а"), "атака повышена на 40%", 100, false},
		{"attack off-tier percent with marker", resolve("з"), "критический баф: защита повышена на 25%", 150, true},
		{"luck off-tier", resolve("у"), "удача повышена на 12", 100, false},
		{"luck value ignores marker", resolve("у"), "критическая удача повышена на 6", 100, false},
		{"bare plus is not luck", resolve("у"), "+9 к чему-то", 100, false},
		{"curse off-tier percent", resolve("б"), "сила уменьшена на 50%", 100, false},
		{"curse marker", resolve("б"), "критическое проклятие боли", 150, true},
		{"curse normal percent beats marker", resolve("б"), "критическое проклятие: уменьшена на 20%", 100, false},
		{"cleansing percent ignored", light("и"), "очищение 30%", 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Appraise(tt.ab, tt.text)
			assert.Equal(t, tt.value, got.Value)
			assert.Equal(t, tt.critical, got.Critical)
		})
	}
}
