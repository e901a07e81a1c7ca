// ABOUTME: Built-in catalog of roles, abilities and race capability keys
// ABOUTME: Cooldowns and labels match the game's published values

package ability

import "time"

// Races maps capability keys to race names.
var Races = map[string]string{
	"ч": "человек",
	"г": "гоблин",
	"н": "нежить",
	"э": "эльф",
	"м": "гном",
	"д": "демон",
	"о": "орк",
}

// raceGenitive is the form used in blessing text ("благословение гоблина").
var raceGenitive = map[string]string{
	"ч": "человека",
	"г": "гоблина",
	"н": "нежити",
	"э": "эльфа",
	"м": "гнома",
	"д": "демона",
	"о": "орка",
}

// DefaultCatalog returns the catalog used by the game.
func DefaultCatalog() *Catalog {
	apostle := RoleSpec{
		Role:             RoleApostle,
		Title:            "Апостол",
		Prefix:           "благословение",
		ConsumesResource: true,
		DefaultCooldown:  61 * time.Second,
		Abilities: []Ability{
			{Key: "а", Label: "атаки", ConsumesResource: true},
			{Key: "з", Label: "защиты", ConsumesResource: true},
			{Key: "у", Label: "удачи", ConsumesResource: true},
		},
	}
	for _, key := range []string{"ч", "г", "н", "э", "м", "д", "о"} {
		apostle.Abilities = append(apostle.Abilities, Ability{
			Key:              key,
			Label:            raceGenitive[key],
			ConsumesResource: true,
			Capability:       key,
		})
	}

	roles := []RoleSpec{
		apostle,
		{
			Role:            RoleWarlock,
			Title:           "Чернокнижник",
			Prefix:          "проклятие",
			DefaultCooldown: time.Hour,
			Abilities: []Ability{
				{Key: "л", Label: "неудачи"},
				{Key: "б", Label: "боли"},
				{Key: "ю", Label: "добычи"},
			},
		},
		{
			Role:  RoleCrusader,
			Title: "Крестоносец",
			Abilities: []Ability{
				{Key: "в", Label: "воскрешение", Text: "воскрешение", Cooldown: 6 * time.Hour},
				{Key: "т", Label: "очищение огнем", Text: "очищение огнем", Cooldown: 15*time.Minute + 10*time.Second},
			},
		},
		{
			Role:  RoleLightIncarnation,
			Title: "Воплощение света",
			Abilities: []Ability{
				{Key: "и", Label: "очищение", Text: "очищение", Cooldown: 61 * time.Second},
				{Key: "в", Label: "воскрешение", Text: "воскрешение", Cooldown: 6 * time.Hour},
				{Key: "с", Label: "очищение светом", Text: "очищение светом", Cooldown: 15*time.Minute + 10*time.Second},
			},
		},
		{Role: RoleObserver, Title: "Наблюдатель"},
	}
	return NewCatalog(roles, Races)
}
