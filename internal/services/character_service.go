// internal/services/character_service.go
package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/gamedata"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

// Effect step names, in application order.
const (
	StepHealth          = "health"
	StepXP              = "xp"
	StepKarma           = "karma"
	StepReputation      = "reputation"
	StepRelationship    = "relationship"
	StepInventoryAdd    = "inventory.add"
	StepInventoryRemove = "inventory.remove"
)

// RelationshipAdjuster receives relationship deltas from effects. The NPC
// engine implements it.
type RelationshipAdjuster interface {
	AdjustRelationship(npcID string, delta int, source string) error
}

// CharacterService owns character creation and progression.
type CharacterService struct {
	logger *utils.Logger
}

// XPResult reports what an xp award changed.
type XPResult struct {
	Awarded      int      `json:"awarded"`
	LevelsGained []int    `json:"levels_gained,omitempty"`
	Unlocked     []string `json:"unlocked,omitempty"`
}

// EffectReport records every step apply_effect performed, in order.
type EffectReport struct {
	Steps           []string       `json:"steps"`
	HealthDelta     int            `json:"health_delta,omitempty"`
	XP              XPResult       `json:"xp"`
	KarmaDelta      int            `json:"karma_delta,omitempty"`
	ReputationDelta int            `json:"reputation_delta,omitempty"`
	Relationships   map[string]int `json:"relationships,omitempty"`
	ItemsAdded      []string       `json:"items_added,omitempty"`
	ItemsRemoved    []string       `json:"items_removed,omitempty"`
	MissingItems    []string       `json:"missing_items,omitempty"`
}

// UseResult is the outcome of use_item.
type UseResult struct {
	Item   models.Item `json:"item"`
	Healed int         `json:"healed"`
}

func NewCharacterService(logger *utils.Logger) *CharacterService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &CharacterService{logger: logger}
}

// CreateCharacter builds a level 1 character of the given class with the
// first skill of its tree unlocked.
func (s *CharacterService) CreateCharacter(name string, classID models.ClassID) (*models.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewInvalidInputError("character name is required", nil)
	}
	def, ok := gamedata.Class(classID)
	if !ok {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown class %q", classID), nil)
	}

	c := &models.Character{
		ID:        "char_" + uuid.NewString(),
		Name:      name,
		Class:     def.ID,
		Stats:     def.BaseStats,
		Level:     1,
		XPToNext:  gamedata.XPRequired(2),
		Alignment: models.AlignmentNeutral,
		Inventory: []models.Item{},
		Skills:    def.SkillTree,
	}
	if len(c.Skills) > 0 {
		c.Skills[0].Unlocked = true
	}

	s.logger.Info("character created", map[string]interface{}{
		"character_id": c.ID,
		"class":        c.Class,
	})
	return c, nil
}

// GetSkillTree returns a copy of a class's skill tree.
func (s *CharacterService) GetSkillTree(classID models.ClassID) ([]models.Skill, error) {
	def, ok := gamedata.Class(classID)
	if !ok {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown class %q", classID), nil)
	}
	return def.SkillTree, nil
}

// CheckInvariants reports character state that no command may produce.
func (s *CharacterService) CheckInvariants(c *models.Character) error {
	switch {
	case c == nil:
		return apperrors.NewInvariantError("character is nil", nil)
	case c.Stats.HP < 0:
		return apperrors.NewInvariantError(fmt.Sprintf("character %s has negative hp %d", c.ID, c.Stats.HP), nil)
	case c.Stats.HP > c.Stats.MaxHP:
		return apperrors.NewInvariantError(fmt.Sprintf("character %s hp %d exceeds max %d", c.ID, c.Stats.HP, c.Stats.MaxHP), nil)
	case c.XP < 0:
		return apperrors.NewInvariantError(fmt.Sprintf("character %s has negative xp", c.ID), nil)
	case c.Level < 1 || c.Level > gamedata.MaxLevel:
		return apperrors.NewInvariantError(fmt.Sprintf("character %s level %d out of range", c.ID, c.Level), nil)
	}
	for _, sk := range c.Skills {
		if sk.Unlocked && sk.RequiredXP > c.XP {
			return apperrors.NewInvariantError(fmt.Sprintf("skill %q unlocked below its xp requirement", sk.Name), nil)
		}
	}
	return nil
}

// AwardXP adds delta xp, applies any due level-ups and unlocks skills.
// A zero delta changes nothing.
func (s *CharacterService) AwardXP(c *models.Character, delta int) (XPResult, error) {
	if delta < 0 {
		return XPResult{}, apperrors.NewInvalidInputError(fmt.Sprintf("xp delta must not be negative, got %d", delta), nil)
	}
	if delta == 0 {
		return XPResult{}, nil
	}
	c.XP += delta
	res := XPResult{Awarded: delta}
	res.LevelsGained = s.LevelUpIfDue(c)
	res.Unlocked = s.UnlockAvailableSkills(c)

	if len(res.LevelsGained) > 0 {
		s.logger.Info("character levelled up", map[string]interface{}{
			"character_id": c.ID,
			"level":        c.Level,
		})
	}
	return res, nil
}

// LevelUpIfDue raises the level while the xp threshold of the next level is
// met. It returns the levels reached.
func (s *CharacterService) LevelUpIfDue(c *models.Character) []int {
	var gained []int
	for c.Level < gamedata.MaxLevel && c.XP >= gamedata.XPRequired(c.Level+1) {
		c.Level++
		tier := gamedata.TierFor(c.Level)
		c.SkillPoints += tier.SkillPoints
		c.TotalSkillPoints += tier.SkillPoints
		c.Stats.MaxHP += tier.MaxHPBonus
		c.Stats.HP += tier.MaxHPBonus
		c.Stats.Attack += tier.AttackBonus
		c.Stats.Defense += tier.DefenseBonus
		gained = append(gained, c.Level)
	}
	if c.Level < gamedata.MaxLevel {
		c.XPToNext = gamedata.XPRequired(c.Level+1) - c.XP
	} else {
		c.XPToNext = 0
	}
	return gained
}

// UnlockAvailableSkills unlocks every skill whose requirement is met.
func (s *CharacterService) UnlockAvailableSkills(c *models.Character) []string {
	var unlocked []string
	for i := range c.Skills {
		if !c.Skills[i].Unlocked && c.Skills[i].RequiredXP <= c.XP {
			c.Skills[i].Unlocked = true
			unlocked = append(unlocked, c.Skills[i].Name)
		}
	}
	return unlocked
}

// ApplyEffect applies an effect's character-side deltas in fixed order:
// health, xp, karma, reputation, relationship, inventory add, inventory
// remove. moral may be nil when no moral tracker is attached; npcs may be nil
// when the effect names no NPC.
func (s *CharacterService) ApplyEffect(c *models.Character, moral *models.PlayerMoralState, eff *models.Effect, npcs RelationshipAdjuster, source string) (EffectReport, error) {
	report := EffectReport{Steps: []string{}}
	if eff == nil {
		return report, nil
	}
	if c.Stats.HP > c.Stats.MaxHP {
		return report, apperrors.NewInvariantError(fmt.Sprintf("character %s hp %d exceeds max %d", c.ID, c.Stats.HP, c.Stats.MaxHP), nil)
	}
	if eff.XP < 0 {
		return report, apperrors.NewInvalidInputError(fmt.Sprintf("effect xp must not be negative, got %d", eff.XP), nil)
	}
	if len(eff.Relationships) > 0 && npcs == nil {
		return report, apperrors.NewInvalidInputError("effect names npcs but no npc engine is attached", nil)
	}

	if eff.Health != 0 {
		before := c.Stats.HP
		c.Stats.HP = clampInt(c.Stats.HP+eff.Health, 0, c.Stats.MaxHP)
		report.HealthDelta = c.Stats.HP - before
		report.Steps = append(report.Steps, StepHealth)
	}

	if eff.XP > 0 {
		xp, err := s.AwardXP(c, eff.XP)
		if err != nil {
			return report, err
		}
		report.XP = xp
		report.Steps = append(report.Steps, StepXP)
	}

	if eff.Karma != 0 {
		s.applyKarma(c, moral, eff.Karma)
		report.KarmaDelta = eff.Karma
		report.Steps = append(report.Steps, StepKarma)
	}

	if eff.Reputation != 0 {
		c.Reputation += eff.Reputation
		if moral != nil {
			moral.Reputation += eff.Reputation
		}
		report.ReputationDelta = eff.Reputation
		report.Steps = append(report.Steps, StepReputation)
	}

	if len(eff.Relationships) > 0 {
		report.Relationships = make(map[string]int, len(eff.Relationships))
		for _, npcID := range eff.RelationshipNPCs() {
			delta := eff.Relationships[npcID]
			if err := npcs.AdjustRelationship(npcID, delta, source); err != nil {
				return report, err
			}
			report.Relationships[npcID] = delta
		}
		report.Steps = append(report.Steps, StepRelationship)
	}

	if len(eff.InventoryAdd) > 0 {
		for _, it := range eff.InventoryAdd {
			if err := s.AddItem(c, it); err != nil {
				return report, err
			}
			report.ItemsAdded = append(report.ItemsAdded, it.Name)
		}
		report.Steps = append(report.Steps, StepInventoryAdd)
	}

	if len(eff.InventoryRemove) > 0 {
		for _, name := range eff.InventoryRemove {
			if idx := c.FindItem(name); idx >= 0 {
				c.Inventory = append(c.Inventory[:idx], c.Inventory[idx+1:]...)
				report.ItemsRemoved = append(report.ItemsRemoved, name)
			} else {
				report.MissingItems = append(report.MissingItems, name)
			}
		}
		report.Steps = append(report.Steps, StepInventoryRemove)
	}

	return report, nil
}

// applyKarma shifts good_evil and mirrors the change into the moral tracker.
func (s *CharacterService) applyKarma(c *models.Character, moral *models.PlayerMoralState, delta int) {
	c.GoodEvil += delta
	if moral == nil {
		return
	}
	moral.KarmaPoints += delta
	switch {
	case delta > 0:
		moral.Tally(models.MoralClassGood)
	case delta < 0:
		moral.Tally(models.MoralClassBad)
	}
	c.Alignment = moral.Alignment
}

// AddItem appends an item, filling in catalog fields for bare names.
func (s *CharacterService) AddItem(c *models.Character, it models.Item) error {
	if strings.TrimSpace(it.Name) == "" {
		return apperrors.NewInvalidInputError("item name is required", nil)
	}
	it = gamedata.ResolveItem(it)
	if !it.Kind.Valid() {
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown item kind %q", it.Kind), nil)
	}
	c.Inventory = append(c.Inventory, it)
	return nil
}

// UseItem removes the item at index and applies its effect. Potions heal up
// to max hp; other kinds have no effect when used.
func (s *CharacterService) UseItem(c *models.Character, index int) (UseResult, error) {
	if index < 0 || index >= len(c.Inventory) {
		return UseResult{}, apperrors.NewInvalidInputError(fmt.Sprintf("no inventory item at index %d", index), nil)
	}
	if c.Stats.HP > c.Stats.MaxHP {
		return UseResult{}, apperrors.NewInvariantError(fmt.Sprintf("character %s hp %d exceeds max %d", c.ID, c.Stats.HP, c.Stats.MaxHP), nil)
	}

	it := c.Inventory[index]
	c.Inventory = append(c.Inventory[:index], c.Inventory[index+1:]...)

	res := UseResult{Item: it}
	if it.Kind == models.ItemKindPotion {
		before := c.Stats.HP
		c.Stats.HP = clampInt(c.Stats.HP+it.HealAmount, 0, c.Stats.MaxHP)
		res.Healed = c.Stats.HP - before
	}
	return res, nil
}

// SetHP writes a combat result back, clamped to [0, max_hp].
func (s *CharacterService) SetHP(c *models.Character, hp int) {
	c.Stats.HP = clampInt(hp, 0, c.Stats.MaxHP)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
