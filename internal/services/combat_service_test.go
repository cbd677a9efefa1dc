package services

import (
	"testing"

	"github.com/Corphon/AIDungeonMaster/internal/dice"
	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/gamedata"
	"github.com/Corphon/AIDungeonMaster/internal/models"
)

func startGoblinFight(t *testing.T, faces ...int) (*CombatResolver, *models.CombatSession, *models.Character) {
	t.Helper()
	_, warrior := newWarrior(t)
	r := NewCombatResolver(quietLogger(), nil)
	cs, err := r.StartCombat(dice.NewScripted(faces...), []*models.Character{warrior}, []string{"goblin"})
	if err != nil {
		t.Fatalf("start combat: %v", err)
	}
	return r, cs, warrior
}

func TestStartCombatOrdersByInitiative(t *testing.T) {
	_, cs, warrior := startGoblinFight(t, 15, 5)

	if got := cs.TurnQueue; len(got) != 2 || got[0] != warrior.ID || got[1] != "goblin_1" {
		t.Fatalf("turn queue = %v", got)
	}
	if cs.State != models.CombatStatePlayerTurn || cs.Round != 1 {
		t.Fatalf("state=%s round=%d", cs.State, cs.Round)
	}
	if e := cs.Entities[warrior.ID]; e.Initiative != 16 || e.AttackBonus != 5 || e.DamageDie != "1d8" {
		t.Fatalf("warrior entity %+v", e)
	}
	if e := cs.Entities["goblin_1"]; e.Initiative != 6 || e.ArmorClass != 12 || e.HP != 30 {
		t.Fatalf("goblin entity %+v", e)
	}
}

func TestStartCombatValidation(t *testing.T) {
	_, warrior := newWarrior(t)
	r := NewCombatResolver(quietLogger(), nil)

	cases := []struct {
		name    string
		party   []*models.Character
		enemies []string
	}{
		{"no party", nil, []string{"goblin"}},
		{"no enemies", []*models.Character{warrior}, nil},
		{"unknown enemy", []*models.Character{warrior}, []string{"kraken"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.StartCombat(dice.NewScripted(), tc.party, tc.enemies); !apperrors.IsInvalidInputError(err) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestAttackHitsGoblin(t *testing.T) {
	r, cs, warrior := startGoblinFight(t, 15, 5, 18, 6)

	res, err := r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionAttack, TargetID: "goblin_1"})
	if err != nil {
		t.Fatalf("attack: %v", err)
	}
	if res.Entry.Outcome != "hit" || res.Entry.Roll != 18 || res.Entry.Total != 23 || res.Entry.Damage != 6 {
		t.Fatalf("log entry %+v", res.Entry)
	}
	state, err := r.CurrentState(cs.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if hp := state.Entities["goblin_1"].HP; hp != 24 {
		t.Fatalf("goblin hp = %d, want 24", hp)
	}
	if res.State != models.CombatStateEnemyTurn || res.NextID != "goblin_1" {
		t.Fatalf("state=%s next=%s", res.State, res.NextID)
	}
	if err := CheckCombatInvariants(state); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestAttackMissBelowArmorClass(t *testing.T) {
	r, cs, warrior := startGoblinFight(t, 15, 5, 2)
	res, err := r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionAttack, TargetID: "goblin_1"})
	if err != nil {
		t.Fatalf("attack: %v", err)
	}
	if res.Entry.Outcome != "miss" || res.Entry.Damage != 0 {
		t.Fatalf("entry %+v", res.Entry)
	}
}

func TestFailedFleeAdvancesTurn(t *testing.T) {
	r, cs, warrior := startGoblinFight(t, 15, 5, 3)

	res, err := r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionFlee})
	if err != nil {
		t.Fatalf("flee: %v", err)
	}
	if res.Escaped || res.Entry.Outcome != "flee_failed" {
		t.Fatalf("unexpected flee result %+v", res)
	}
	if res.NextID != "goblin_1" || res.State != models.CombatStateEnemyTurn {
		t.Fatalf("turn did not pass to goblin: %+v", res)
	}
	if len(res.Alive) != 2 {
		t.Fatalf("alive = %v", res.Alive)
	}
}

func TestSuccessfulFleeRemovesActor(t *testing.T) {
	chars := NewCharacterService(quietLogger())
	warrior, _ := chars.CreateCharacter("Arin", models.ClassWarrior)
	mage, _ := chars.CreateCharacter("Mira", models.ClassMage)
	r := NewCombatResolver(quietLogger(), nil)

	cs, err := r.StartCombat(dice.NewScripted(15, 1, 5, 12), []*models.Character{warrior, mage}, []string{"goblin"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if cs.CurrentActor() != warrior.ID {
		t.Fatalf("warrior should act first, queue %v", cs.TurnQueue)
	}

	res, err := r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionFlee})
	if err != nil {
		t.Fatalf("flee: %v", err)
	}
	if !res.Escaped || res.Entry.Outcome != "escaped" {
		t.Fatalf("flee result %+v", res)
	}
	state, _ := r.CurrentState(cs.ID)
	if _, ok := state.Entities[warrior.ID]; ok {
		t.Fatal("fled entity still present")
	}
	for _, id := range state.TurnQueue {
		if id == warrior.ID {
			t.Fatal("fled entity still queued")
		}
	}
	if state.State.Finished() {
		t.Fatalf("combat should continue, got %s", state.State)
	}

	_, err = r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionAttack, TargetID: "goblin_1"})
	if !apperrors.IsNotFoundError(err) {
		t.Fatalf("expected not found for fled actor, got %v", err)
	}
}

func TestActionPreconditions(t *testing.T) {
	r, cs, warrior := startGoblinFight(t, 15, 5)

	_, err := r.PerformAction(cs.ID, models.CombatAction{ActorID: "goblin_1", Type: models.ActionAttack, TargetID: warrior.ID})
	if apperrors.CodeOf(err) != apperrors.CodeNotYourTurn {
		t.Fatalf("expected NOT_YOUR_TURN, got %v", err)
	}

	_, err = r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionAttack, TargetID: warrior.ID})
	if apperrors.CodeOf(err) != apperrors.CodeInvalidTarget {
		t.Fatalf("expected INVALID_TARGET for self attack, got %v", err)
	}

	_, err = r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionAttack, TargetID: "dragon_9"})
	if apperrors.CodeOf(err) != apperrors.CodeInvalidTarget {
		t.Fatalf("expected INVALID_TARGET for missing target, got %v", err)
	}

	_, err = r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: "dance"})
	if apperrors.CodeOf(err) != apperrors.CodeInvalidAction {
		t.Fatalf("expected INVALID_ACTION, got %v", err)
	}

	if _, err := r.PerformAction("combat_missing", models.CombatAction{}); apperrors.CodeOf(err) != apperrors.CodeUnknownSession {
		t.Fatalf("expected UNKNOWN_SESSION, got %v", err)
	}
}

func TestDeadActorRejected(t *testing.T) {
	chars := NewCharacterService(quietLogger())
	warrior, _ := chars.CreateCharacter("Arin", models.ClassWarrior)
	mage, _ := chars.CreateCharacter("Mira", models.ClassMage)
	r := NewCombatResolver(quietLogger(), nil)

	cs, err := r.StartCombat(dice.NewScripted(15, 1, 5), []*models.Character{warrior, mage}, []string{"goblin"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	r.mu.Lock()
	live := r.sessions[cs.ID].session
	live.Entities[mage.ID].HP = 0
	live.Entities[mage.ID].IsAlive = false
	live.TurnQueue = []string{warrior.ID, "goblin_1"}
	r.mu.Unlock()

	_, err = r.PerformAction(cs.ID, models.CombatAction{ActorID: mage.ID, Type: models.ActionDefend})
	if apperrors.CodeOf(err) != apperrors.CodeDeadActor {
		t.Fatalf("expected DEAD_ACTOR, got %v", err)
	}
}

func TestKillingLastEnemyIsVictory(t *testing.T) {
	r, cs, warrior := startGoblinFight(t, 15, 5)
	r.mu.Lock()
	r.sessions[cs.ID].session.Entities["goblin_1"].HP = 3
	r.mu.Unlock()

	res, err := r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionSpell, SpellName: "magic missile", TargetID: "goblin_1"})
	if err != nil {
		t.Fatalf("spell: %v", err)
	}
	if res.Entry.Outcome != "kill" || res.Entry.Damage != 3 {
		t.Fatalf("entry %+v", res.Entry)
	}
	if res.State != models.CombatStateVictory {
		t.Fatalf("state = %s", res.State)
	}
	state, _ := r.CurrentState(cs.ID)
	if state.Entities["goblin_1"].HP != 0 || len(state.TurnQueue) != 1 {
		t.Fatalf("goblin %+v queue %v", state.Entities["goblin_1"], state.TurnQueue)
	}
	if err := CheckCombatInvariants(state); err != nil {
		t.Fatalf("invariants: %v", err)
	}

	_, err = r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionDefend})
	if apperrors.CodeOf(err) != apperrors.CodeCombatOver {
		t.Fatalf("expected COMBAT_OVER, got %v", err)
	}
}

func TestDefendRaisesArmorUntilNextTurn(t *testing.T) {
	r, cs, warrior := startGoblinFight(t, 15, 5, 1)
	base := cs.Entities[warrior.ID].ArmorClass

	if _, err := r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionDefend}); err != nil {
		t.Fatalf("defend: %v", err)
	}
	state, _ := r.CurrentState(cs.ID)
	if ac := state.Entities[warrior.ID].ArmorClass; ac != base+2 {
		t.Fatalf("ac = %d, want %d", ac, base+2)
	}

	action, err := r.EnemyAction(cs.ID)
	if err != nil {
		t.Fatalf("enemy action: %v", err)
	}
	if action.TargetID != warrior.ID {
		t.Fatalf("enemy targets %s", action.TargetID)
	}
	if _, err := r.PerformAction(cs.ID, action); err != nil {
		t.Fatalf("enemy attack: %v", err)
	}
	if _, err := r.PerformAction(cs.ID, models.CombatAction{ActorID: warrior.ID, Type: models.ActionItem, ItemName: "Health Potion"}); err != nil {
		t.Fatalf("item: %v", err)
	}
	state, _ = r.CurrentState(cs.ID)
	if ac := state.Entities[warrior.ID].ArmorClass; ac != base {
		t.Fatalf("ac after next turn = %d, want %d", ac, base)
	}
	if state.Round != 2 {
		t.Fatalf("round = %d", state.Round)
	}
}

func TestEnemyTargetsWeakestPlayer(t *testing.T) {
	chars := NewCharacterService(quietLogger())
	warrior, _ := chars.CreateCharacter("Arin", models.ClassWarrior)
	mage, _ := chars.CreateCharacter("Mira", models.ClassMage)
	r := NewCombatResolver(quietLogger(), nil)

	cs, err := r.StartCombat(dice.NewScripted(1, 1, 20), []*models.Character{warrior, mage}, []string{"goblin"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if cs.CurrentActor() != "goblin_1" {
		t.Fatalf("goblin should act first, queue %v", cs.TurnQueue)
	}
	action, err := r.EnemyAction(cs.ID)
	if err != nil {
		t.Fatalf("enemy action: %v", err)
	}
	want := warrior.ID
	if mage.Stats.HP < warrior.Stats.HP {
		want = mage.ID
	}
	if action.TargetID != want {
		t.Fatalf("target = %s, want %s", action.TargetID, want)
	}
}

func TestCombatLogIsBounded(t *testing.T) {
	r, cs, _ := startGoblinFight(t, 15, 5)
	r.mu.Lock()
	live := r.sessions[cs.ID].session
	for i := 0; i < models.MaxCombatLog+25; i++ {
		r.appendLog(live, models.CombatLogEntry{Outcome: "noop"})
	}
	n, last, first := len(live.Log), live.Log[len(live.Log)-1].Seq, live.Log[0].Seq
	r.mu.Unlock()

	if n != models.MaxCombatLog {
		t.Fatalf("log length = %d", n)
	}
	if last-first != models.MaxCombatLog-1 {
		t.Fatalf("log is not the newest contiguous window: %d..%d", first, last)
	}
}

func TestApplyAssistance(t *testing.T) {
	r, cs, warrior := startGoblinFight(t, 15, 5)
	help := gamedata.Assistance{Damage: 3, Defense: 2, Healing: 10}
	if err := r.ApplyAssistance(cs.ID, warrior.ID, help, "Captain Reyes"); err != nil {
		t.Fatalf("assist: %v", err)
	}
	state, _ := r.CurrentState(cs.ID)
	e := state.Entities[warrior.ID]
	if e.AttackBonus != 8 || e.HP != e.MaxHP {
		t.Fatalf("entity after assistance %+v", e)
	}
	if err := r.ApplyAssistance(cs.ID, "nobody", help, "x"); apperrors.CodeOf(err) != apperrors.CodeInvalidTarget {
		t.Fatalf("expected INVALID_TARGET, got %v", err)
	}
}

func TestEndCombatRemovesSession(t *testing.T) {
	r, cs, _ := startGoblinFight(t, 15, 5)
	if _, err := r.EndCombat(cs.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := r.CurrentState(cs.ID); apperrors.CodeOf(err) != apperrors.CodeUnknownSession {
		t.Fatalf("expected UNKNOWN_SESSION, got %v", err)
	}
}

func TestCheckCombatInvariantsDetectsCorruption(t *testing.T) {
	_, cs, warrior := startGoblinFight(t, 15, 5)
	cs.Entities[warrior.ID].HP = cs.Entities[warrior.ID].MaxHP + 1
	if err := CheckCombatInvariants(cs); !apperrors.IsInvariantError(err) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}
