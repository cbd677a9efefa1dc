package services

import (
	"bytes"
	"reflect"
	"testing"

	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/gamedata"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

func quietLogger() *utils.Logger {
	return utils.NewLogger(&bytes.Buffer{}, utils.ERROR)
}

func newWarrior(t *testing.T) (*CharacterService, *models.Character) {
	t.Helper()
	svc := NewCharacterService(quietLogger())
	c, err := svc.CreateCharacter("Arin", models.ClassWarrior)
	if err != nil {
		t.Fatalf("create character: %v", err)
	}
	return svc, c
}

type recordingAdjuster struct {
	calls []string
	err   error
}

func (r *recordingAdjuster) AdjustRelationship(npcID string, delta int, source string) error {
	r.calls = append(r.calls, npcID)
	return r.err
}

func TestCreateCharacterWarrior(t *testing.T) {
	_, c := newWarrior(t)

	if c.Stats.HP != 120 || c.Stats.MaxHP != 120 || c.Stats.Attack != 85 || c.Stats.Defense != 90 {
		t.Fatalf("unexpected warrior stats %+v", c.Stats)
	}
	if c.XP != 0 || c.Level != 1 || c.GoodEvil != 0 || len(c.Inventory) != 0 {
		t.Fatalf("unexpected starting progression: %+v", c)
	}
	if len(c.Skills) != 4 {
		t.Fatalf("expected 4 skills, got %d", len(c.Skills))
	}
	if c.Skills[0].Name != "Slash" || !c.Skills[0].Unlocked {
		t.Fatalf("first skill should be an unlocked Slash, got %+v", c.Skills[0])
	}
	for _, s := range c.Skills[1:] {
		if s.Unlocked {
			t.Fatalf("skill %s should start locked", s.Name)
		}
	}
}

func TestCreateCharacterDoesNotShareSkillTree(t *testing.T) {
	svc, a := newWarrior(t)
	b, err := svc.CreateCharacter("Bree", models.ClassWarrior)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a.Skills[1].Unlocked = true
	if b.Skills[1].Unlocked {
		t.Fatal("characters share a skill slice")
	}
}

func TestCreateCharacterRejectsUnknownClass(t *testing.T) {
	svc := NewCharacterService(quietLogger())
	_, err := svc.CreateCharacter("Arin", "bard")
	if !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAwardXPUnlocksSecondSkill(t *testing.T) {
	svc, c := newWarrior(t)
	res, err := svc.AwardXP(c, 10)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if c.XP != 10 || c.Level != 1 {
		t.Fatalf("xp=%d level=%d, want 10/1", c.XP, c.Level)
	}
	if !c.Skills[1].Unlocked {
		t.Fatal("second warrior skill should be unlocked at 10 xp")
	}
	if c.Skills[2].Unlocked || c.Skills[3].Unlocked {
		t.Fatal("later skills unlocked too early")
	}
	if !reflect.DeepEqual(res.Unlocked, []string{"Shield Bash"}) {
		t.Fatalf("unlocked = %v", res.Unlocked)
	}
}

func TestAwardZeroXPIsNoop(t *testing.T) {
	svc, c := newWarrior(t)
	res, err := svc.AwardXP(c, 0)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if c.XP != 0 || c.Level != 1 || c.XPToNext != 100 || c.Skills[1].Unlocked {
		t.Fatalf("zero xp changed the character: %+v", c)
	}
	if res.Awarded != 0 || len(res.LevelsGained) != 0 || len(res.Unlocked) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAwardXPRejectsNegative(t *testing.T) {
	svc, c := newWarrior(t)
	if _, err := svc.AwardXP(c, -1); !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAwardXPExactBoundaryLevelsOnce(t *testing.T) {
	svc, c := newWarrior(t)
	tier := gamedata.TierFor(2)

	res, err := svc.AwardXP(c, gamedata.XPRequired(2))
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if !reflect.DeepEqual(res.LevelsGained, []int{2}) {
		t.Fatalf("levels gained = %v, want [2]", res.LevelsGained)
	}
	if c.Level != 2 {
		t.Fatalf("level = %d", c.Level)
	}
	if c.Stats.MaxHP != 120+tier.MaxHPBonus || c.Stats.HP != 120+tier.MaxHPBonus {
		t.Fatalf("hp %d/%d after level up", c.Stats.HP, c.Stats.MaxHP)
	}
	if c.SkillPoints != tier.SkillPoints {
		t.Fatalf("skill points = %d", c.SkillPoints)
	}
	if c.XPToNext != gamedata.XPRequired(3)-c.XP {
		t.Fatalf("xp to next = %d", c.XPToNext)
	}
}

func TestLevelUpRaisesHPWithoutHealing(t *testing.T) {
	svc, c := newWarrior(t)
	c.Stats.HP = 50
	if _, err := svc.AwardXP(c, 100); err != nil {
		t.Fatalf("award: %v", err)
	}
	if want := 50 + gamedata.TierFor(2).MaxHPBonus; c.Stats.HP != want {
		t.Fatalf("hp = %d, want %d", c.Stats.HP, want)
	}
}

func TestLevelCapsAtMax(t *testing.T) {
	svc, c := newWarrior(t)
	if _, err := svc.AwardXP(c, 100000); err != nil {
		t.Fatalf("award: %v", err)
	}
	if c.Level != gamedata.MaxLevel || c.XPToNext != 0 {
		t.Fatalf("level=%d xp_to_next=%d", c.Level, c.XPToNext)
	}
	if err := svc.CheckInvariants(c); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestApplyEffectOrder(t *testing.T) {
	svc, c := newWarrior(t)
	moral := models.NewPlayerMoralState()
	npcs := &recordingAdjuster{}
	eff := &models.Effect{
		Health:          -500,
		XP:              10,
		Karma:           -8,
		Reputation:      3,
		Relationships:   map[string]int{"guard": 5},
		InventoryAdd:    []models.Item{{Name: "Health Potion"}},
		InventoryRemove: []string{"Royal Seal"},
	}

	report, err := svc.ApplyEffect(c, &moral, eff, npcs, "test")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := []string{StepHealth, StepXP, StepKarma, StepReputation, StepRelationship, StepInventoryAdd, StepInventoryRemove}
	if !reflect.DeepEqual(report.Steps, want) {
		t.Fatalf("steps = %v, want %v", report.Steps, want)
	}
	if c.Stats.HP != 0 {
		t.Fatalf("hp should clamp to 0, got %d", c.Stats.HP)
	}
	if c.XP != 10 || c.GoodEvil != -8 || c.Reputation != 3 {
		t.Fatalf("xp=%d good_evil=%d reputation=%d", c.XP, c.GoodEvil, c.Reputation)
	}
	if moral.BadActions != 1 || moral.KarmaPoints != -8 || c.Alignment != models.AlignmentVeryBad {
		t.Fatalf("moral state not mirrored: %+v, character alignment %s", moral, c.Alignment)
	}
	if !reflect.DeepEqual(npcs.calls, []string{"guard"}) {
		t.Fatalf("relationship calls = %v", npcs.calls)
	}
	if len(c.Inventory) != 1 || c.Inventory[0].Kind != models.ItemKindPotion {
		t.Fatalf("inventory = %+v", c.Inventory)
	}
	if !reflect.DeepEqual(report.MissingItems, []string{"Royal Seal"}) {
		t.Fatalf("missing items = %v", report.MissingItems)
	}
}

func TestApplyEffectHealthClampsToMax(t *testing.T) {
	svc, c := newWarrior(t)
	c.Stats.HP = 100
	if _, err := svc.ApplyEffect(c, nil, &models.Effect{Health: 50}, nil, "test"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if c.Stats.HP != c.Stats.MaxHP {
		t.Fatalf("hp = %d, want %d", c.Stats.HP, c.Stats.MaxHP)
	}
}

func TestApplyEffectRemovesFirstMatchOnly(t *testing.T) {
	svc, c := newWarrior(t)
	c.Inventory = []models.Item{
		{Name: "Dagger", Kind: models.ItemKindWeapon, DamageDie: "1d4"},
		{Name: "Health Potion", Kind: models.ItemKindPotion, HealAmount: 30},
		{Name: "Dagger", Kind: models.ItemKindWeapon, DamageDie: "1d4"},
	}
	if _, err := svc.ApplyEffect(c, nil, &models.Effect{InventoryRemove: []string{"Dagger"}}, nil, "test"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(c.Inventory) != 2 || c.Inventory[0].Name != "Health Potion" || c.Inventory[1].Name != "Dagger" {
		t.Fatalf("inventory = %+v", c.Inventory)
	}
}

func TestApplyEffectRejectsCorruptHP(t *testing.T) {
	svc, c := newWarrior(t)
	c.Stats.HP = c.Stats.MaxHP + 1
	_, err := svc.ApplyEffect(c, nil, &models.Effect{XP: 5}, nil, "test")
	if !apperrors.IsInvariantError(err) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if c.XP != 0 {
		t.Fatal("effect applied despite the violation")
	}
}

func TestApplyEffectNeedsAdjusterForRelationships(t *testing.T) {
	svc, c := newWarrior(t)
	_, err := svc.ApplyEffect(c, nil, &models.Effect{Relationships: map[string]int{"guard": 1}}, nil, "test")
	if !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUseItem(t *testing.T) {
	svc, c := newWarrior(t)
	c.Stats.HP = 100
	if err := svc.AddItem(c, models.Item{Name: "Health Potion"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	res, err := svc.UseItem(c, 0)
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if res.Healed != 20 || c.Stats.HP != 120 {
		t.Fatalf("healed %d to %d hp", res.Healed, c.Stats.HP)
	}
	if len(c.Inventory) != 0 {
		t.Fatal("item was not removed")
	}
	if _, err := svc.UseItem(c, 0); !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected invalid input for missing index, got %v", err)
	}
}

func TestUseNonPotionHasNoEffect(t *testing.T) {
	svc, c := newWarrior(t)
	c.Stats.HP = 60
	if err := svc.AddItem(c, models.Item{Name: "Ancient Key"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	res, err := svc.UseItem(c, 0)
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if res.Healed != 0 || c.Stats.HP != 60 || len(c.Inventory) != 0 {
		t.Fatalf("unexpected use result %+v hp=%d", res, c.Stats.HP)
	}
}

func TestGetSkillTree(t *testing.T) {
	svc := NewCharacterService(quietLogger())
	tree, err := svc.GetSkillTree(models.ClassMage)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(tree) != 4 || tree[3].Effect != models.SkillEffectUltimate {
		t.Fatalf("unexpected mage tree %+v", tree)
	}
	for _, id := range []models.ClassID{"Warrior", " ROGUE "} {
		if _, err := svc.GetSkillTree(id); err != nil {
			t.Fatalf("tree for %q: %v", id, err)
		}
	}
	c, err := svc.CreateCharacter("Arin", "Warrior")
	if err != nil || c.Class != models.ClassWarrior {
		t.Fatalf("create with mixed-case class: %+v, %v", c, err)
	}
	if _, err := svc.GetSkillTree("bard"); !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
