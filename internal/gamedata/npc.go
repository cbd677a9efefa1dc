// internal/gamedata/npc.go
package gamedata

import (
	"sort"

	"github.com/Corphon/AIDungeonMaster/internal/models"
)

// Base relationship deltas by moral class.
const (
	BaseGoodDelta    = 5
	BaseBadDelta     = -10
	BaseNeutralDelta = 0

	// KarmaPerAction is the karma shift of a plain good or bad interaction.
	KarmaPerAction = 5
)

var goodVerbs = map[string]bool{
	"help": true, "heal": true, "donate": true, "protect": true, "save": true, "rescue": true,
	"give": true, "share": true, "spare": true, "defend": true, "comfort": true, "forgive": true,
}

var badVerbs = map[string]bool{
	"attack": true, "steal": true, "kill": true, "betray": true, "deceive": true, "threaten": true,
	"lie": true, "rob": true, "insult": true, "murder": true, "bully": true, "extort": true,
}

// ClassifyVerb maps one lower-case verb to its moral class.
func ClassifyVerb(verb string) models.MoralClass {
	switch {
	case goodVerbs[verb]:
		return models.MoralClassGood
	case badVerbs[verb]:
		return models.MoralClassBad
	default:
		return models.MoralClassNeutral
	}
}

// BaseDelta is the relationship delta before personality and noise.
func BaseDelta(class models.MoralClass) int {
	switch class {
	case models.MoralClassGood:
		return BaseGoodDelta
	case models.MoralClassBad:
		return BaseBadDelta
	default:
		return BaseNeutralDelta
	}
}

// Assistance is what an NPC contributes when it joins a fight.
type Assistance struct {
	Damage  int `json:"damage"`
	Defense int `json:"defense"`
	Healing int `json:"healing"`
}

// PersonalityProfile drives every personality-specific rule.
type PersonalityProfile struct {
	Traits models.PersonalityTraits

	GoodAdjust int
	BadAdjust  int
	// VerbAdjust applies to specific verbs on top of the class adjustment.
	VerbAdjust map[string]int
	// NoiseLow and NoiseSpan define extra uniform noise: NoiseLow + IntN(NoiseSpan).
	NoiseLow  int
	NoiseSpan int

	HelpModifier float64
	// GoodPlayerHelpBonus applies when the player is good or very good.
	GoodPlayerHelpBonus float64
	Assistance          Assistance
}

var profiles = map[models.Personality]PersonalityProfile{
	models.PersonalityHonorable: {
		Traits:              traits(0.6, 0.4, 0.6, 0.7, 0.8, 0.3, 0.8, 0.7, 0.3),
		GoodAdjust:          5,
		BadAdjust:           -8,
		GoodPlayerHelpBonus: 0.3,
		Assistance:          Assistance{Damage: 2, Defense: 2, Healing: 15},
	},
	models.PersonalityGreedy: {
		Traits:       traits(0.7, 0.5, 0.2, 0.4, 0.3, 0.6, 0.6, 0.5, 0.7),
		VerbAdjust:   map[string]int{"trade": 8, "donate": 8, "give": 6, "pay": 8, "bribe": 10, "steal": -5},
		HelpModifier: -0.2,
		Assistance:   Assistance{Damage: 2, Defense: 0, Healing: 5},
	},
	models.PersonalityMysterious: {
		Traits:     traits(0.8, 0.5, 0.4, 0.5, 0.5, 0.7, 0.9, 0.6, 0.2),
		NoiseLow:   -2,
		NoiseSpan:  6,
		Assistance: Assistance{Damage: 3, Defense: 1, Healing: 10},
	},
	models.PersonalityBrave: {
		Traits:       traits(0.5, 0.6, 0.5, 0.9, 0.7, 0.3, 0.6, 0.7, 0.4),
		VerbAdjust:   map[string]int{"protect": 3, "defend": 3, "spare": -2},
		HelpModifier: 0.2,
		Assistance:   Assistance{Damage: 4, Defense: 1, Healing: 5},
	},
	models.PersonalityCowardly: {
		Traits:       traits(0.6, 0.3, 0.4, 0.1, 0.4, 0.7, 0.5, 0.3, 0.8),
		VerbAdjust:   map[string]int{"threaten": -5, "attack": -5, "comfort": 3},
		HelpModifier: -0.3,
		Assistance:   Assistance{Damage: 0, Defense: 1, Healing: 5},
	},
	models.PersonalityLoyal: {
		Traits:       traits(0.5, 0.5, 0.6, 0.7, 0.9, 0.4, 0.8, 0.7, 0.3),
		BadAdjust:    -3,
		VerbAdjust:   map[string]int{"betray": -10, "protect": 3},
		HelpModifier: 0.1,
		Assistance:   Assistance{Damage: 2, Defense: 3, Healing: 10},
	},
	models.PersonalityTreacherous: {
		Traits:       traits(0.8, 0.4, 0.3, 0.4, 0.1, 0.8, 0.7, 0.4, 0.5),
		VerbAdjust:   map[string]int{"deceive": 3, "betray": 5},
		HelpModifier: -0.1,
		Assistance:   Assistance{Damage: 1, Defense: 0, Healing: 0},
	},
	models.PersonalityFriendly: {
		Traits:       traits(0.3, 0.7, 0.7, 0.5, 0.6, 0.2, 0.6, 0.8, 0.6),
		GoodAdjust:   3,
		HelpModifier: 0.1,
		Assistance:   Assistance{Damage: 1, Defense: 1, Healing: 15},
	},
	models.PersonalityHostile: {
		Traits:       traits(0.9, 0.2, 0.1, 0.6, 0.3, 0.9, 0.7, 0.3, 0.3),
		GoodAdjust:   -2,
		BadAdjust:    -3,
		HelpModifier: -0.2,
		Assistance:   Assistance{Damage: 1, Defense: 0, Healing: 0},
	},
	models.PersonalityWise: {
		Traits:     traits(0.6, 0.7, 0.6, 0.6, 0.6, 0.5, 0.9, 0.9, 0.2),
		VerbAdjust: map[string]int{"forgive": 3, "insult": -3},
		Assistance: Assistance{Damage: 1, Defense: 2, Healing: 20},
	},
}

func traits(trust, anger, generosity, bravery, loyalty, suspicion, memory, stability, influence float64) models.PersonalityTraits {
	return models.PersonalityTraits{
		TrustThreshold:          trust,
		AngerThreshold:          anger,
		Generosity:              generosity,
		Bravery:                 bravery,
		Loyalty:                 loyalty,
		Suspiciousness:          suspicion,
		MemoryRetention:         memory,
		EmotionalStability:      stability,
		InfluenceSusceptibility: influence,
	}
}

// Profile returns the profile of a personality.
func Profile(p models.Personality) (PersonalityProfile, bool) {
	prof, ok := profiles[p]
	return prof, ok
}

// Personalities lists the closed enumeration sorted.
func Personalities() []models.Personality {
	out := make([]models.Personality, 0, len(profiles))
	for p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ItemThreshold is the relationship level at which an NPC of the given
// generosity hands over an offered item.
func ItemThreshold(generosity float64) int {
	return int(60 - generosity*50)
}

var karmaCatalog = []models.KarmaAction{
	{ID: "kill_innocent", Label: "Kill an innocent", Delta: -20, Category: models.MoralClassBad},
	{ID: "spare_enemy", Label: "Spare a defeated enemy", Delta: 10, Category: models.MoralClassGood},
	{ID: "help_npc", Label: "Help someone in need", Delta: 5, Category: models.MoralClassGood},
	{ID: "steal_item", Label: "Steal an item", Delta: -8, Category: models.MoralClassBad},
	{ID: "complete_quest", Label: "Complete a quest", Delta: 10, Category: models.MoralClassGood},
	{ID: "betray_quest_giver", Label: "Betray a quest giver", Delta: -15, Category: models.MoralClassBad},
	{ID: "rescue_prisoner", Label: "Rescue a prisoner", Delta: 12, Category: models.MoralClassGood},
	{ID: "threaten_npc", Label: "Threaten someone", Delta: -5, Category: models.MoralClassBad},
	{ID: "negotiate_peace", Label: "Negotiate a peace", Delta: 8, Category: models.MoralClassGood},
	{ID: "bargain", Label: "Strike a bargain", Delta: 0, Category: models.MoralClassNeutral},
}

// KarmaAction looks up a catalogued action.
func KarmaAction(id string) (models.KarmaAction, bool) {
	for _, a := range karmaCatalog {
		if a.ID == id {
			return a, true
		}
	}
	return models.KarmaAction{}, false
}

// KarmaCatalog returns a copy of the catalog.
func KarmaCatalog() []models.KarmaAction {
	return append([]models.KarmaAction(nil), karmaCatalog...)
}

// Decision types and their impact weights.
const (
	DecisionCombat      = "combat"
	DecisionDialogue    = "dialogue"
	DecisionQuest       = "quest"
	DecisionKarmaAction = "karma_action"
	DecisionMoralChoice = "moral_choice"
)

var decisionWeights = map[string]float64{
	DecisionCombat:      1.0,
	DecisionDialogue:    0.5,
	DecisionQuest:       1.5,
	DecisionKarmaAction: 1.0,
	DecisionMoralChoice: 1.2,
}

// DecisionWeight returns the weight of a decision type; unknown types weigh 1.
func DecisionWeight(kind string) float64 {
	if w, ok := decisionWeights[kind]; ok {
		return w
	}
	return 1.0
}
