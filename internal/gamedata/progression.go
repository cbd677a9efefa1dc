// internal/gamedata/progression.go
package gamedata

import (
	"strings"

	"github.com/Corphon/AIDungeonMaster/internal/models"
)

// MaxLevel is the highest reachable character level.
const MaxLevel = 10

// xpSchedule[i] is the total xp required to be level i+1.
var xpSchedule = [MaxLevel]int{0, 100, 250, 450, 700, 1000, 1350, 1750, 2200, 2700}

// XPRequired returns the total xp needed to reach level. Levels outside
// [1, MaxLevel] return -1.
func XPRequired(level int) int {
	if level < 1 || level > MaxLevel {
		return -1
	}
	return xpSchedule[level-1]
}

// XPSchedule returns a copy of the schedule.
func XPSchedule() []int {
	out := make([]int, len(xpSchedule))
	copy(out, xpSchedule[:])
	return out
}

// LevelTier is the reward for reaching a level.
type LevelTier struct {
	SkillPoints  int `json:"skill_points"`
	MaxHPBonus   int `json:"max_hp_bonus"`
	AttackBonus  int `json:"attack_bonus"`
	DefenseBonus int `json:"defense_bonus"`
}

// TierFor returns the rewards granted on reaching level.
func TierFor(level int) LevelTier {
	switch {
	case level <= 4:
		return LevelTier{SkillPoints: 1, MaxHPBonus: 10, AttackBonus: 2, DefenseBonus: 2}
	case level <= 7:
		return LevelTier{SkillPoints: 2, MaxHPBonus: 15, AttackBonus: 3, DefenseBonus: 3}
	default:
		return LevelTier{SkillPoints: 3, MaxHPBonus: 20, AttackBonus: 4, DefenseBonus: 4}
	}
}

// ClassDef is one entry of the class registry.
type ClassDef struct {
	ID          models.ClassID `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	BaseStats   models.Stats   `json:"base_stats"`
	DamageDie   string         `json:"damage_die"`
	SkillTree   []models.Skill `json:"skill_tree"`
}

var classes = map[models.ClassID]ClassDef{
	models.ClassWarrior: {
		ID:          models.ClassWarrior,
		Name:        "Warrior",
		Description: "A frontline fighter who trades blows and shields allies.",
		BaseStats:   models.Stats{HP: 120, MaxHP: 120, Attack: 85, Defense: 90, Dexterity: 12},
		DamageDie:   "1d8",
		SkillTree: []models.Skill{
			{Name: "Slash", Description: "A quick blade strike.", RequiredXP: 0, Effect: models.SkillEffectAttack},
			{Name: "Shield Bash", Description: "Stuns a foe with a shield blow.", RequiredXP: 10, Effect: models.SkillEffectStun},
			{Name: "Battle Cry", Description: "Raises the party's fighting spirit.", RequiredXP: 20, Effect: models.SkillEffectTeamBuff},
			{Name: "Berserker Rage", Description: "An unstoppable flurry of blows.", RequiredXP: 40, Effect: models.SkillEffectUltimate},
		},
	},
	models.ClassMage: {
		ID:          models.ClassMage,
		Name:        "Mage",
		Description: "A scholar of the arcane who bends fire and frost.",
		BaseStats:   models.Stats{HP: 80, MaxHP: 80, Attack: 100, Defense: 50, Mana: 100, MaxMana: 100, Dexterity: 12},
		DamageDie:   "1d6",
		SkillTree: []models.Skill{
			{Name: "Magic Missile", Description: "Darts of force that never miss.", RequiredXP: 0, Effect: models.SkillEffectAttack},
			{Name: "Frost Nova", Description: "Freezes nearby enemies in place.", RequiredXP: 10, Effect: models.SkillEffectStun},
			{Name: "Mana Shield", Description: "Wraps the party in protective wards.", RequiredXP: 20, Effect: models.SkillEffectTeamBuff},
			{Name: "Meteor Storm", Description: "Calls burning stone from the sky.", RequiredXP: 40, Effect: models.SkillEffectUltimate},
		},
	},
	models.ClassRogue: {
		ID:          models.ClassRogue,
		Name:        "Rogue",
		Description: "A quick blade in the dark.",
		BaseStats:   models.Stats{HP: 90, MaxHP: 90, Attack: 95, Defense: 60, Dexterity: 16},
		DamageDie:   "1d6",
		SkillTree: []models.Skill{
			{Name: "Backstab", Description: "Strikes where the armor is thin.", RequiredXP: 0, Effect: models.SkillEffectAttack},
			{Name: "Poison Blade", Description: "Coats the blade in venom.", RequiredXP: 10, Effect: models.SkillEffectPoison},
			{Name: "Smoke Bomb", Description: "Vanishes in a cloud of smoke.", RequiredXP: 20, Effect: models.SkillEffectEscape},
			{Name: "Shadow Dance", Description: "Strikes from every shadow at once.", RequiredXP: 40, Effect: models.SkillEffectUltimate},
		},
	},
	models.ClassCleric: {
		ID:          models.ClassCleric,
		Name:        "Cleric",
		Description: "A servant of the light who mends wounds.",
		BaseStats:   models.Stats{HP: 100, MaxHP: 100, Attack: 60, Defense: 80, Mana: 80, MaxMana: 80, Dexterity: 10},
		DamageDie:   "1d6",
		SkillTree: []models.Skill{
			{Name: "Smite", Description: "A blow charged with holy power.", RequiredXP: 0, Effect: models.SkillEffectAttack},
			{Name: "Healing Light", Description: "Closes wounds with radiant light.", RequiredXP: 10, Effect: models.SkillEffectHeal},
			{Name: "Blessing", Description: "Grants the party divine favor.", RequiredXP: 20, Effect: models.SkillEffectTeamBuff},
			{Name: "Divine Intervention", Description: "The gods answer in person.", RequiredXP: 40, Effect: models.SkillEffectUltimate},
		},
	},
	models.ClassRanger: {
		ID:          models.ClassRanger,
		Name:        "Ranger",
		Description: "A hunter of the wilds with bow and snare.",
		BaseStats:   models.Stats{HP: 100, MaxHP: 100, Attack: 90, Defense: 70, Dexterity: 15},
		DamageDie:   "1d8",
		SkillTree: []models.Skill{
			{Name: "Aimed Shot", Description: "A careful arrow to a weak spot.", RequiredXP: 0, Effect: models.SkillEffectAttack},
			{Name: "Entangle", Description: "Roots bind the target.", RequiredXP: 10, Effect: models.SkillEffectStun},
			{Name: "Venom Arrow", Description: "An arrow tipped with serpent venom.", RequiredXP: 20, Effect: models.SkillEffectPoison},
			{Name: "Rain of Arrows", Description: "Darkens the sky with shafts.", RequiredXP: 40, Effect: models.SkillEffectUltimate},
		},
	},
}

// Class looks up a class definition, ignoring case and surrounding space.
// The returned skill tree is a copy.
func Class(id models.ClassID) (ClassDef, bool) {
	def, ok := classes[models.ClassID(strings.ToLower(strings.TrimSpace(string(id))))]
	if !ok {
		return ClassDef{}, false
	}
	def.SkillTree = append([]models.Skill(nil), def.SkillTree...)
	return def, true
}

// ClassIDs lists the registry in a stable order.
func ClassIDs() []models.ClassID {
	return []models.ClassID{
		models.ClassWarrior,
		models.ClassMage,
		models.ClassRogue,
		models.ClassCleric,
		models.ClassRanger,
	}
}
