// ABOUTME: Tests for reply classification priority and value capture
// ABOUTME: Error categories must beat success when both appear

package reply

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name  string
		texts []string
		want  Category
	}{
		{"success", []string{"✨На Вас наложено благословение атаки!"}, CategorySuccess},
		{"curse success", []string{"На вас наложено проклятие боли"}, CategorySuccess},
		{"already", []string{"На эту цель уже действует такое благословение"}, CategoryAlready},
		{"race conflict", []string{"Нельзя наложить благословение уже имеющейся у цели расы"}, CategoryAlready},
		{"no resource", []string{"Для этого требуется Голос древних"}, CategoryNoResource},
		{"cooldown", []string{"Социальные эффекты можно накладывать только через определенное время. Оставшееся время: 41 сек."}, CategoryCooldown},
		{"wrong capability", []string{"Вы не являетесь апостолом этой расы"}, CategoryWrongCapability},
		{"not eligible", []string{"Вы не являетесь апостолом"}, CategoryNotEligible},
		{"unrelated", []string{"благословение атаки", "привет"}, CategoryNone},
		{"empty", nil, CategoryNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.texts).Category)
		})
	}
}

func TestClassifyErrorOutranksSuccess(t *testing.T) {
	c := NewClassifier(nil)

	got := c.Classify([]string{"Наложено благословение... но вы не являетесь апостолом этой расы"})
	assert.Equal(t, CategoryWrongCapability, got.Category)

	// across messages the priority holds too
	got = c.Classify([]string{"На вас наложено благословение", "Вы не являетесь апостолом этой расы"})
	assert.Equal(t, CategoryWrongCapability, got.Category)
	assert.Equal(t, "Вы не являетесь апостолом этой расы", got.Text)
}

func TestClassifySuccessOutranksAlreadyAndCooldown(t *testing.T) {
	c := NewClassifier(nil)

	got := c.Classify([]string{
		"Оставшееся время: 10 сек",
		"На эту цель уже действует такое благословение",
		"На вас наложено благословение защиты",
	})
	assert.Equal(t, CategorySuccess, got.Category)
	assert.True(t, got.HasRemaining, "remaining time is captured regardless of category")
	assert.Equal(t, 10*time.Second, got.Remaining)
}

func TestClassifyCapturesResource(t *testing.T) {
	c := NewClassifier(nil)

	got := c.Classify([]string{"На вас наложено благословение удачи. Голос у Апостола: 3", "Голос у Апостола: 2"})
	assert.True(t, got.HasResource)
	assert.Equal(t, 2, got.Resource)

	got = c.Classify([]string{"Голос у проклинающего: 0"})
	assert.True(t, got.HasResource)
	assert.Equal(t, 0, got.Resource)
	assert.Equal(t, CategoryNone, got.Category)
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "wrong_capability", CategoryWrongCapability.String())
	assert.Equal(t, "category(42)", Category(42).String())
}
