// internal/models/save.go
package models

import (
	"time"

	"github.com/Corphon/AIDungeonMaster/internal/dice"
)

// SnapshotVersion is written into every snapshot.
const SnapshotVersion = "1.0"

// SaveKind partitions manual and automatic saves.
type SaveKind string

const (
	SaveKindManual SaveKind = "manual"
	SaveKindAuto   SaveKind = "auto"
)

// GameStateSummary locates the session in its scenario.
type GameStateSummary struct {
	ScenarioID  string `json:"scenario_id"`
	CurrentNode string `json:"current_node"`
	Complete    bool   `json:"complete"`
	Commands    int    `json:"commands"`
}

// CampaignProgress is the story-side history of a session.
type CampaignProgress struct {
	VisitedNodes []string         `json:"visited_nodes"`
	Decisions    []DecisionRecord `json:"decisions"`
	Context      StoryContext     `json:"context"`
	Events       []TriggerEvent   `json:"events"`
}

// QuestProgress tracks one quest chain.
type QuestProgress struct {
	QuestID   string `json:"quest_id"`
	Title     string `json:"title"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Done      bool   `json:"done"`
}

// SaveSnapshot is a self-contained serialization of one session.
type SaveSnapshot struct {
	Version       string                         `json:"version"`
	SaveID        string                         `json:"save_id"`
	Kind          SaveKind                       `json:"kind"`
	SessionID     string                         `json:"session_id"`
	Timestamp     time.Time                      `json:"timestamp"`
	Characters    []*Character                   `json:"characters"`
	GameState     GameStateSummary               `json:"game_state"`
	Campaign      CampaignProgress               `json:"campaign"`
	NPCs          map[string]*NPC                `json:"npcs"`
	Ledgers       map[string]*RelationshipLedger `json:"ledgers"`
	SkillProgress map[string][]string            `json:"skill_progress"`
	Moral         PlayerMoralState               `json:"moral"`
	Inventory     []Item                         `json:"inventory"`
	Quests        []QuestProgress                `json:"quests"`
	Combat        *CombatSession                 `json:"combat,omitempty"`
	RNG           dice.State                     `json:"rng"`
	Metadata      map[string]string              `json:"metadata,omitempty"`
}

// SaveDescriptor is one entry of a save listing.
type SaveDescriptor struct {
	SaveID         string    `json:"save_id"`
	Kind           SaveKind  `json:"kind"`
	SessionID      string    `json:"session_id"`
	ScenarioID     string    `json:"scenario_id"`
	Timestamp      time.Time `json:"timestamp"`
	CharacterName  string    `json:"character_name"`
	CharacterLevel int       `json:"character_level"`
}

// Descriptor summarizes the snapshot for listings.
func (s *SaveSnapshot) Descriptor() SaveDescriptor {
	d := SaveDescriptor{
		SaveID:     s.SaveID,
		Kind:       s.Kind,
		SessionID:  s.SessionID,
		ScenarioID: s.GameState.ScenarioID,
		Timestamp:  s.Timestamp,
	}
	if len(s.Characters) > 0 && s.Characters[0] != nil {
		d.CharacterName = s.Characters[0].Name
		d.CharacterLevel = s.Characters[0].Level
	}
	return d
}

// SaveFilter narrows a listing. Zero fields match everything.
type SaveFilter struct {
	Kind      SaveKind `json:"kind,omitempty" form:"kind"`
	SessionID string   `json:"session_id,omitempty" form:"session_id"`
}

func (f SaveFilter) Match(d SaveDescriptor) bool {
	if f.Kind != "" && f.Kind != d.Kind {
		return false
	}
	if f.SessionID != "" && f.SessionID != d.SessionID {
		return false
	}
	return true
}
