// internal/models/npc.go
package models

import "time"

// Personality is the closed set of NPC temperaments.
type Personality string

const (
	PersonalityHonorable   Personality = "honorable"
	PersonalityGreedy      Personality = "greedy"
	PersonalityMysterious  Personality = "mysterious"
	PersonalityBrave       Personality = "brave"
	PersonalityCowardly    Personality = "cowardly"
	PersonalityLoyal       Personality = "loyal"
	PersonalityTreacherous Personality = "treacherous"
	PersonalityFriendly    Personality = "friendly"
	PersonalityHostile     Personality = "hostile"
	PersonalityWise        Personality = "wise"
)

// MoralAlignment is an NPC's own moral stance.
type MoralAlignment string

const (
	MoralGood    MoralAlignment = "good"
	MoralNeutral MoralAlignment = "neutral"
	MoralEvil    MoralAlignment = "evil"
)

// Mood summarizes the last relationship change.
type Mood string

const (
	MoodHappy        Mood = "happy"
	MoodPleased      Mood = "pleased"
	MoodNeutral      Mood = "neutral"
	MoodDisappointed Mood = "disappointed"
	MoodAngry        Mood = "angry"
)

// PersonalityTraits are scalar levels in [0, 1].
type PersonalityTraits struct {
	TrustThreshold          float64 `json:"trust_threshold"`
	AngerThreshold          float64 `json:"anger_threshold"`
	Generosity              float64 `json:"generosity"`
	Bravery                 float64 `json:"bravery"`
	Loyalty                 float64 `json:"loyalty"`
	Suspiciousness          float64 `json:"suspiciousness"`
	MemoryRetention         float64 `json:"memory_retention"`
	EmotionalStability      float64 `json:"emotional_stability"`
	InfluenceSusceptibility float64 `json:"influence_susceptibility"`
}

// NPC is the engine-internal record. It never leaves the NPC engine; callers
// outside receive NPCPublicView.
type NPC struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Role             string            `json:"role"`
	Description      string            `json:"description"`
	Personality      Personality       `json:"personality"`
	Traits           PersonalityTraits `json:"traits"`
	Alignment        MoralAlignment    `json:"alignment"`
	RelationshipType string            `json:"relationship_type,omitempty"`

	RelationshipLevel int `json:"relationship_level"`
	TrustLevel        int `json:"trust_level"`
	FearLevel         int `json:"fear_level"`
	RespectLevel      int `json:"respect_level"`

	Mood          Mood              `json:"mood"`
	LastDelta     int               `json:"last_delta"`
	Secrets       []string          `json:"secrets"`
	KnownSecrets  []string          `json:"known_secrets"`
	QuestsOffered []string          `json:"quests_offered"`
	ItemsOffered  []Item            `json:"items_offered"`
	ItemsGiven    []string          `json:"items_given"`
	Relationships map[string]string `json:"relationships"`
}

// NPCPublicView is the only NPC shape allowed across the engine boundary.
type NPCPublicView struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Role               string      `json:"role"`
	Description        string      `json:"description"`
	Personality        Personality `json:"personality"`
	Mood               Mood        `json:"mood"`
	KnownSecrets       []string    `json:"known_secrets"`
	RelationshipStatus string      `json:"relationship_status"`
	Disposition        string      `json:"disposition"`
	QuestsOffered      []string    `json:"quests_offered"`
}

// Clone returns a deep copy.
func (n *NPC) Clone() *NPC {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Secrets = cloneSlice(n.Secrets)
	cp.KnownSecrets = cloneSlice(n.KnownSecrets)
	cp.QuestsOffered = cloneSlice(n.QuestsOffered)
	cp.ItemsOffered = cloneSlice(n.ItemsOffered)
	cp.ItemsGiven = cloneSlice(n.ItemsGiven)
	if n.Relationships != nil {
		cp.Relationships = make(map[string]string, len(n.Relationships))
		for k, v := range n.Relationships {
			cp.Relationships[k] = v
		}
	}
	return &cp
}

// LedgerEvent names a special relationship milestone.
type LedgerEvent string

const (
	LedgerEventTrustedFriend LedgerEvent = "trusted_friend"
	LedgerEventSwornEnemy    LedgerEvent = "sworn_enemy"
)

// MaxLedgerEntries bounds a ledger's interaction list.
const MaxLedgerEntries = 50

// LedgerEntry is one audited interaction.
type LedgerEntry struct {
	ActionID          string    `json:"action_id"`
	KarmaDelta        int       `json:"karma_delta"`
	RelationshipDelta int       `json:"relationship_delta"`
	TrustDelta        int       `json:"trust_delta"`
	Timestamp         time.Time `json:"timestamp"`
}

// RelationshipLedger is the append-only audit trail for one NPC.
type RelationshipLedger struct {
	NPCID          string        `json:"npc_id"`
	Interactions   []LedgerEntry `json:"interactions"`
	UnlockedEvents []LedgerEvent `json:"unlocked_events"`
}

func (l *RelationshipLedger) HasEvent(ev LedgerEvent) bool {
	for _, e := range l.UnlockedEvents {
		if e == ev {
			return true
		}
	}
	return false
}

func (l *RelationshipLedger) Clone() *RelationshipLedger {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Interactions = cloneSlice(l.Interactions)
	cp.UnlockedEvents = cloneSlice(l.UnlockedEvents)
	return &cp
}
