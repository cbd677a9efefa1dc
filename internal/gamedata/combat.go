// internal/gamedata/combat.go
package gamedata

import (
	"sort"
	"strings"

	"github.com/Corphon/AIDungeonMaster/internal/models"
)

// EnemyTemplate is one entry of the enemy roster.
type EnemyTemplate struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HP        int    `json:"hp"`
	Attack    int    `json:"attack"`
	Defense   int    `json:"defense"`
	XPReward  int    `json:"xp_reward"`
	DamageDie string `json:"damage_die"`
	Dexterity int    `json:"dexterity"`
	Boss      bool   `json:"boss,omitempty"`
}

var enemies = map[string]EnemyTemplate{
	"goblin":         {ID: "goblin", Name: "Goblin", HP: 30, Attack: 40, Defense: 30, XPReward: 15, DamageDie: "1d6", Dexterity: 12},
	"forest_spirit":  {ID: "forest_spirit", Name: "Forest Spirit", HP: 45, Attack: 50, Defense: 40, XPReward: 25, DamageDie: "1d6", Dexterity: 14},
	"lost_soul":      {ID: "lost_soul", Name: "Lost Soul", HP: 35, Attack: 45, Defense: 25, XPReward: 20, DamageDie: "1d6", Dexterity: 13},
	"dark_centurion": {ID: "dark_centurion", Name: "Dark Centurion", HP: 80, Attack: 75, Defense: 70, XPReward: 50, DamageDie: "1d10", Dexterity: 10},
	"xenos_scout":    {ID: "xenos_scout", Name: "Xenos Scout", HP: 50, Attack: 60, Defense: 45, XPReward: 30, DamageDie: "1d8", Dexterity: 16},
	"daemonhost":     {ID: "daemonhost", Name: "Daemonhost", HP: 120, Attack: 90, Defense: 60, XPReward: 70, DamageDie: "2d6", Dexterity: 12},
	"harpy_swarm":    {ID: "harpy_swarm", Name: "Harpy Swarm", HP: 60, Attack: 55, Defense: 35, XPReward: 35, DamageDie: "1d8", Dexterity: 17},
	"ork_warrior":    {ID: "ork_warrior", Name: "Ork Warrior", HP: 90, Attack: 80, Defense: 55, XPReward: 45, DamageDie: "1d10", Dexterity: 9},
	"dragon":         {ID: "dragon", Name: "Dragon", HP: 300, Attack: 120, Defense: 80, XPReward: 100, DamageDie: "2d10", Dexterity: 10, Boss: true},
}

// Enemy looks up a template by id or display name, case-insensitively.
func Enemy(id string) (EnemyTemplate, bool) {
	key := strings.ToLower(strings.TrimSpace(id))
	if t, ok := enemies[key]; ok {
		return t, true
	}
	key = strings.ReplaceAll(key, " ", "_")
	t, ok := enemies[key]
	return t, ok
}

// EnemyIDs lists the roster sorted by id.
func EnemyIDs() []string {
	ids := make([]string, 0, len(enemies))
	for id := range enemies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AttackBonus converts an attack stat into a d20 bonus.
func AttackBonus(attack int) int {
	return attack / 15
}

// ArmorClass converts a defense stat into an armor class.
func ArmorClass(defense int) int {
	return 10 + defense/15
}

// SpellKind is the effect class of a spell.
type SpellKind string

const (
	SpellDamage  SpellKind = "damage"
	SpellHealing SpellKind = "healing"
	SpellDefense SpellKind = "defense"
)

// Spell is a registry entry.
type Spell struct {
	Name      string    `json:"name"`
	Kind      SpellKind `json:"kind"`
	Magnitude int       `json:"magnitude"`
	// Status is applied to the caster for defense spells.
	Status string `json:"status,omitempty"`
}

var spells = map[string]Spell{
	"fireball":       {Name: "Fireball", Kind: SpellDamage, Magnitude: 25},
	"lightning bolt": {Name: "Lightning Bolt", Kind: SpellDamage, Magnitude: 20},
	"magic missile":  {Name: "Magic Missile", Kind: SpellDamage, Magnitude: 15},
	"heal":           {Name: "Heal", Kind: SpellHealing, Magnitude: 25},
	"greater heal":   {Name: "Greater Heal", Kind: SpellHealing, Magnitude: 40},
	"shield":         {Name: "Shield", Kind: SpellDefense, Magnitude: 5, Status: "shielded"},
}

// DefaultSpell stands in for names missing from the registry.
var DefaultSpell = Spell{Name: "Arcane Bolt", Kind: SpellDamage, Magnitude: 10}

// LookupSpell returns the registry entry for name, or DefaultSpell with
// known=false.
func LookupSpell(name string) (spell Spell, known bool) {
	s, ok := spells[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return DefaultSpell, false
	}
	return s, true
}

// SpellNames lists registered spells sorted.
func SpellNames() []string {
	names := make([]string, 0, len(spells))
	for _, s := range spells {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

var items = map[string]models.Item{
	"health potion":         {Name: "Health Potion", Kind: models.ItemKindPotion, HealAmount: 30, Description: "Restores 30 hp."},
	"greater health potion": {Name: "Greater Health Potion", Kind: models.ItemKindPotion, HealAmount: 60, Description: "Restores 60 hp."},
	"elixir":                {Name: "Elixir", Kind: models.ItemKindPotion, HealAmount: 100, Description: "Restores 100 hp."},
	"iron sword":            {Name: "Iron Sword", Kind: models.ItemKindWeapon, DamageDie: "1d8"},
	"steel greatsword":      {Name: "Steel Greatsword", Kind: models.ItemKindWeapon, DamageDie: "2d6"},
	"hunting bow":           {Name: "Hunting Bow", Kind: models.ItemKindWeapon, DamageDie: "1d8"},
	"dagger":                {Name: "Dagger", Kind: models.ItemKindWeapon, DamageDie: "1d4"},
	"leather armor":         {Name: "Leather Armor", Kind: models.ItemKindArmor, DefenseBonus: 1},
	"chain mail":            {Name: "Chain Mail", Kind: models.ItemKindArmor, DefenseBonus: 2},
	"ancient key":           {Name: "Ancient Key", Kind: models.ItemKindKey},
	"royal seal":            {Name: "Royal Seal", Kind: models.ItemKindKey},
}

// LookupItem returns the catalog entry for name.
func LookupItem(name string) (models.Item, bool) {
	it, ok := items[strings.ToLower(strings.TrimSpace(name))]
	return it, ok
}

// ResolveItem fills in the kind and fields of a bare named item from the
// catalog. Unknown names become misc items.
func ResolveItem(it models.Item) models.Item {
	if it.Kind != "" {
		return it
	}
	if known, ok := LookupItem(it.Name); ok {
		return known
	}
	it.Kind = models.ItemKindMisc
	return it
}

// CombatHealing returns the heal amount of a combat-usable item.
func CombatHealing(name string) (int, bool) {
	it, ok := LookupItem(name)
	if !ok || it.Kind != models.ItemKindPotion {
		return 0, false
	}
	return it.HealAmount, true
}
