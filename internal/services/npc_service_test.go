package services

import (
	"reflect"
	"testing"

	"github.com/Corphon/AIDungeonMaster/internal/dice"
	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/models"
)

func palaceScenario() *models.Scenario {
	return &models.Scenario{
		ID:    "palace",
		Title: "The Palace",
		StoryNodes: map[string]*models.StoryNode{
			models.StartNodeID: {Title: "Gate", Description: "The palace gate.", Location: "royal_palace"},
		},
		NPCRelationships: map[string]models.NPCDeclaration{
			"guard": {
				Name:             "Captain Reyes",
				Role:             "guard captain",
				Personality:      models.PersonalityHonorable,
				RelationshipType: "ally",
				Secrets:          []string{"The king is an impostor"},
				ItemsOffered:     []models.Item{{Name: "Royal Seal"}},
			},
			"merchant": {
				Name:        "Vex",
				Role:        "merchant",
				Personality: models.PersonalityGreedy,
			},
		},
		AdvancedStorytelling: &models.AdvancedStorytelling{
			ContextualTriggers: models.ContextualTriggers{
				LocationBased: map[string]models.TriggerSpec{
					"royal_palace": {BetrayalChance: 1.0, Triggers: []string{"The guards lower their spears at you."}},
				},
			},
		},
	}
}

func newPalaceEngine(t *testing.T, rng dice.Roller) (*NPCEngine, *models.PlayerMoralState) {
	t.Helper()
	moral := models.NewPlayerMoralState()
	e := NewNPCEngine(palaceScenario(), rng, &moral, quietLogger())
	if err := e.LoadScenarioNPCs(); err != nil {
		t.Fatalf("load npcs: %v", err)
	}
	return e, &moral
}

func TestCreateNPCDefaults(t *testing.T) {
	e, _ := newPalaceEngine(t, dice.NewScripted())
	st := e.State()
	guard := st.NPCs["guard"]
	if guard.TrustLevel != 50 || guard.RespectLevel != 50 || guard.RelationshipLevel != 0 || guard.FearLevel != 0 {
		t.Fatalf("unexpected starting scalars %+v", guard)
	}
	if guard.Traits.TrustThreshold != 0.6 {
		t.Fatalf("traits not taken from personality profile: %+v", guard.Traits)
	}
	if _, err := e.CreateNPC("guard", models.NPCDeclaration{Name: "Dup", Personality: models.PersonalityWise}); !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := e.CreateNPC("x", models.NPCDeclaration{Name: "X", Personality: "grumpy"}); !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected unknown personality rejection, got %v", err)
	}
}

func TestKillInnocentDecision(t *testing.T) {
	e, moral := newPalaceEngine(t, dice.NewScripted())

	out, err := e.RecordDecision(models.Decision{
		Type:         "karma_action",
		Choice:       "kill_innocent",
		AffectedNPCs: []string{"guard"},
	}, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if out.Record.KarmaDelta != -20 || out.Record.MoralImplication != models.MoralClassBad || out.Record.Seq != 1 {
		t.Fatalf("record %+v", out.Record)
	}
	if moral.KarmaPoints != -20 || moral.BadActions != 1 || moral.Alignment != models.AlignmentVeryBad {
		t.Fatalf("moral %+v", *moral)
	}
	if out.Relationships["guard"] != -28 {
		t.Fatalf("guard delta = %d, want -28", out.Relationships["guard"])
	}

	rel, err := e.QueryRelationship("guard")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if rel.RelationshipLevel != -28 || rel.Standing != -2 || rel.Status != "Hostile" {
		t.Fatalf("relationship %+v", rel)
	}
	view, _ := e.PublicView("guard")
	if view.Mood != models.MoodAngry {
		t.Fatalf("mood = %s", view.Mood)
	}
	if len(rel.Ledger.Interactions) != 1 || rel.Ledger.Interactions[0].KarmaDelta != -20 {
		t.Fatalf("ledger %+v", rel.Ledger)
	}
	if len(out.Events) != 0 {
		t.Fatalf("no context was given, events = %v", out.Events)
	}
}

func TestRecordDecisionValidation(t *testing.T) {
	e, moral := newPalaceEngine(t, dice.NewScripted())
	if _, err := e.RecordDecision(models.Decision{Type: "combat"}, nil); !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := e.RecordDecision(models.Decision{Type: "combat", Choice: "spare_enemy", AffectedNPCs: []string{"ghost"}}, nil); !apperrors.IsNotFoundError(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if moral.GoodActions+moral.BadActions+moral.NeutralActions != 0 || len(e.Decisions()) != 0 {
		t.Fatal("rejected decision changed state")
	}
}

func TestLocationBetrayalTrigger(t *testing.T) {
	e, _ := newPalaceEngine(t, dice.NewScripted())
	ctx := models.NewStoryContext()
	ctx.Location = "royal_palace"
	ctx.BetrayalSusceptibility = 1.0

	out, err := e.RecordDecision(models.Decision{Type: "dialogue", Choice: "bargain"}, &ctx)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(out.Events) != 1 {
		t.Fatalf("events = %v", out.Events)
	}
	ev := out.Events[0]
	if ev.Kind != models.TriggerBetrayal || ev.Source != "location:royal_palace" || ev.Chance != 1.0 {
		t.Fatalf("event %+v", ev)
	}
	if ev.Description != "The guards lower their spears at you." {
		t.Fatalf("description %q", ev.Description)
	}
	if ctx.EmotionalState != models.EmotionDevastated || ctx.TrustLevel != 0.2 || ctx.BetrayalSusceptibility != 1.0 {
		t.Fatalf("context not updated: %+v", ctx)
	}
	if !reflect.DeepEqual(ctx.RecentEvents, []string{"betrayal"}) {
		t.Fatalf("recent events %v", ctx.RecentEvents)
	}
}

func TestTriggersSilentWithZeroSusceptibility(t *testing.T) {
	e, _ := newPalaceEngine(t, dice.NewScripted())
	ctx := models.NewStoryContext()
	ctx.Location = "royal_palace"
	ctx.BetrayalSusceptibility = 0

	if evs := e.CheckTriggers(&ctx); len(evs) != 0 {
		t.Fatalf("events = %v", evs)
	}
}

func TestInteractRevealsSecretAtTrustThreshold(t *testing.T) {
	// face 2 makes the interaction noise zero
	e, moral := newPalaceEngine(t, dice.NewScripted(2))

	res, err := e.Interact("guard", "Help the wounded guard")
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if res.MoralClass != models.MoralClassGood || res.Delta != 10 {
		t.Fatalf("result %+v", res)
	}
	if res.View.Mood != models.MoodPleased {
		t.Fatalf("mood = %s", res.View.Mood)
	}
	if res.RevealedSecret != "The king is an impostor" {
		t.Fatalf("revealed %q", res.RevealedSecret)
	}
	if !moral.KnowsSecret("The king is an impostor") || moral.KarmaPoints != 5 {
		t.Fatalf("moral %+v", *moral)
	}
	if !reflect.DeepEqual(res.View.KnownSecrets, []string{"The king is an impostor"}) {
		t.Fatalf("view secrets %v", res.View.KnownSecrets)
	}
}

func TestHostileActionRevealsNoSecret(t *testing.T) {
	sc := palaceScenario()
	sc.NPCRelationships["friend"] = models.NPCDeclaration{
		Name:        "Mira",
		Role:        "innkeeper",
		Personality: models.PersonalityFriendly,
		Secrets:     []string{"Mira hides the rebels"},
	}
	moral := models.NewPlayerMoralState()
	e := NewNPCEngine(sc, dice.NewScripted(2, 2), &moral, quietLogger())
	if err := e.LoadScenarioNPCs(); err != nil {
		t.Fatalf("load npcs: %v", err)
	}

	res, err := e.Interact("friend", "attack the innkeeper")
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if res.Delta >= 0 || res.RevealedSecret != "" || moral.KnowsSecret("Mira hides the rebels") {
		t.Fatalf("hostile action: delta %d revealed %q known %v", res.Delta, res.RevealedSecret, moral.KnownSecrets)
	}

	res, err = e.Interact("friend", "help the innkeeper")
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if res.Delta <= 0 || res.RevealedSecret != "Mira hides the rebels" {
		t.Fatalf("friendly action: delta %d revealed %q", res.Delta, res.RevealedSecret)
	}
}

func TestInteractNeutralAction(t *testing.T) {
	e, moral := newPalaceEngine(t, dice.NewScripted(2))
	res, err := e.Interact("merchant", "chat about the weather")
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if res.MoralClass != models.MoralClassNeutral || res.Delta != 0 || moral.NeutralActions != 1 {
		t.Fatalf("result %+v moral %+v", res, *moral)
	}
	if _, err := e.Interact("nobody", "help"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.Interact("merchant", "  "); !apperrors.IsInvalidInputError(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestScalarsStayInRange(t *testing.T) {
	e, moral := newPalaceEngine(t, dice.NewScripted())
	for i := 0; i < 20; i++ {
		if err := e.AdjustRelationship("guard", 40, "test"); err != nil {
			t.Fatalf("adjust: %v", err)
		}
	}
	rel, _ := e.QueryRelationship("guard")
	if rel.RelationshipLevel != 100 {
		t.Fatalf("relationship = %d", rel.RelationshipLevel)
	}
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if !reflect.DeepEqual(rel.Ledger.UnlockedEvents, []models.LedgerEvent{models.LedgerEventTrustedFriend}) {
		t.Fatalf("unlocked events %v", rel.Ledger.UnlockedEvents)
	}
	if !reflect.DeepEqual(moral.TrustedBy, []string{"guard"}) {
		t.Fatalf("trusted by %v", moral.TrustedBy)
	}

	for i := 0; i < 20; i++ {
		_ = e.AdjustRelationship("guard", -40, "test")
	}
	rel, _ = e.QueryRelationship("guard")
	if rel.RelationshipLevel != -100 || len(moral.TrustedBy) != 0 {
		t.Fatalf("relationship %d trusted by %v", rel.RelationshipLevel, moral.TrustedBy)
	}
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestAskForItemThreshold(t *testing.T) {
	e, _ := newPalaceEngine(t, dice.NewScripted())

	res, err := e.AskForItem("guard", "Royal Seal")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.Granted || res.Reason != "not_trusted" || res.Threshold != 30 {
		t.Fatalf("result %+v", res)
	}

	_ = e.AdjustRelationship("guard", 30, "test")
	res, err = e.AskForItem("guard", "royal seal")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !res.Granted || res.Item == nil || res.Item.Kind != models.ItemKindKey {
		t.Fatalf("result %+v", res)
	}

	res, _ = e.AskForItem("guard", "Royal Seal")
	if res.Granted || res.Reason != "already_given" {
		t.Fatalf("second ask %+v", res)
	}
	if _, err := e.AskForItem("guard", "Dragon Egg"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAskForCombatHelp(t *testing.T) {
	cases := []struct {
		name     string
		roll     float64
		good     bool
		wantHelp bool
		wantP    float64
	}{
		{"neutral player declined", 0.6, false, false, 0.5},
		{"neutral player helped", 0.4, false, true, 0.5},
		{"good player helped", 0.7, true, true, 0.8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, moral := newPalaceEngine(t, dice.NewScripted().WithFloats(tc.roll))
			if tc.good {
				moral.Tally(models.MoralClassGood)
			}
			res, err := e.AskForCombatHelp("guard")
			if err != nil {
				t.Fatalf("ask: %v", err)
			}
			if res.WillHelp != tc.wantHelp || res.Probability < tc.wantP-1e-9 || res.Probability > tc.wantP+1e-9 {
				t.Fatalf("result %+v", res)
			}
			if res.WillHelp && res.Assistance.Healing != 15 {
				t.Fatalf("assistance %+v", res.Assistance)
			}
		})
	}
}

func TestBetrayalWarningsAndHints(t *testing.T) {
	e, _ := newPalaceEngine(t, dice.NewScripted())
	_, err := e.CreateNPC("seer", models.NPCDeclaration{
		Name:        "Old Ilsa",
		Personality: models.PersonalityWise,
		Traits:      &models.PersonalityTraits{TrustThreshold: 0.9, Generosity: 0.5},
		Secrets:     []string{"The well is cursed"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = e.AdjustRelationship("seer", 25, "test")
	_ = e.AdjustRelationship("merchant", -30, "test")

	ctx := models.NewStoryContext()
	ctx.Location = "royal_palace"
	warnings := e.BetrayalWarnings(ctx)
	if len(warnings) != 1 || warnings[0].NPCID != "merchant" || warnings[0].Reason != "hostile relationship" {
		t.Fatalf("warnings %+v", warnings)
	}

	hints := e.PlotTwistHints(ctx)
	if len(hints) != 1 || hints[0].Source != "npc:seer" {
		t.Fatalf("hints %+v", hints)
	}
}

func TestNPCStateRoundTrip(t *testing.T) {
	e, _ := newPalaceEngine(t, dice.NewScripted())
	_ = e.AdjustRelationship("guard", 12, "test")
	if _, err := e.RecordDecision(models.Decision{Type: "quest", Choice: "help_npc", AffectedNPCs: []string{"merchant"}}, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	st := e.State()

	moral := models.NewPlayerMoralState()
	other := NewNPCEngine(palaceScenario(), dice.NewScripted(), &moral, quietLogger())
	other.Restore(st)
	if !reflect.DeepEqual(other.State(), st) {
		t.Fatal("restored state differs")
	}

	st.NPCs["guard"].RelationshipLevel = 99
	if rel, _ := other.QueryRelationship("guard"); rel.RelationshipLevel != 12 {
		t.Fatalf("restore shares npc pointers: %d", rel.RelationshipLevel)
	}
}
