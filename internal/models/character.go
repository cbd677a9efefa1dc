// internal/models/character.go
package models

// ClassID names an entry in the fixed class registry.
type ClassID string

const (
	ClassWarrior ClassID = "warrior"
	ClassMage    ClassID = "mage"
	ClassRogue   ClassID = "rogue"
	ClassCleric  ClassID = "cleric"
	ClassRanger  ClassID = "ranger"
)

// SkillEffect is the closed set of effect tags a skill can carry.
type SkillEffect string

const (
	SkillEffectAttack   SkillEffect = "attack"
	SkillEffectStun     SkillEffect = "stun"
	SkillEffectTeamBuff SkillEffect = "team_buff"
	SkillEffectHeal     SkillEffect = "heal"
	SkillEffectPoison   SkillEffect = "poison"
	SkillEffectEscape   SkillEffect = "escape"
	SkillEffectUltimate SkillEffect = "ultimate"
)

// Skill is one entry of a class skill tree.
type Skill struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	RequiredXP  int         `json:"required_xp"`
	Unlocked    bool        `json:"unlocked"`
	Effect      SkillEffect `json:"effect"`
}

// Stats are the numeric attributes of a character.
type Stats struct {
	HP        int `json:"hp"`
	MaxHP     int `json:"max_hp"`
	Attack    int `json:"attack"`
	Defense   int `json:"defense"`
	Mana      int `json:"mana"`
	MaxMana   int `json:"max_mana"`
	Dexterity int `json:"dexterity"`
}

// Character is a player character and its progression.
type Character struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Class ClassID `json:"class"`
	Stats Stats   `json:"stats"`

	Level            int `json:"level"`
	XP               int `json:"xp"`
	XPToNext         int `json:"xp_to_next"`
	SkillPoints      int `json:"skill_points"`
	TotalSkillPoints int `json:"total_skill_points"`

	GoodEvil   int       `json:"good_evil"`
	Alignment  Alignment `json:"alignment"`
	Reputation int       `json:"reputation"`

	Inventory []Item  `json:"inventory"`
	Skills    []Skill `json:"skills"`
}

// Clone returns a deep copy.
func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Inventory = cloneSlice(c.Inventory)
	cp.Skills = cloneSlice(c.Skills)
	return &cp
}

// UnlockedSkills returns the names of unlocked skills in tree order.
func (c *Character) UnlockedSkills() []string {
	names := make([]string, 0, len(c.Skills))
	for _, s := range c.Skills {
		if s.Unlocked {
			names = append(names, s.Name)
		}
	}
	return names
}

// FindItem returns the inventory index of the first item named name, or -1.
func (c *Character) FindItem(name string) int {
	for i, it := range c.Inventory {
		if it.Name == name {
			return i
		}
	}
	return -1
}

// EquippedWeapon returns the first weapon in the inventory.
func (c *Character) EquippedWeapon() (Item, bool) {
	for _, it := range c.Inventory {
		if it.Kind == ItemKindWeapon && it.DamageDie != "" {
			return it, true
		}
	}
	return Item{}, false
}

// ArmorBonus sums the defense bonus of carried armor.
func (c *Character) ArmorBonus() int {
	total := 0
	for _, it := range c.Inventory {
		if it.Kind == ItemKindArmor {
			total += it.DefenseBonus
		}
	}
	return total
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
