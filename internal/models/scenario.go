// internal/models/scenario.go
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StartNodeID is the distinguished entry node of every scenario.
const StartNodeID = "start"

// ScenarioFile is the persisted layout of a scenario document.
type ScenarioFile struct {
	EnhancedScenarios map[string]*Scenario `json:"enhanced_scenarios"`
}

// Scenario is an immutable directed graph of story nodes plus its NPC
// declarations and trigger tables.
type Scenario struct {
	ID                   string                    `json:"-"`
	Title                string                    `json:"title"`
	Theme                string                    `json:"theme"`
	Difficulty           string                    `json:"difficulty"`
	MinLevel             int                       `json:"min_level"`
	MaxLevel             int                       `json:"max_level"`
	StoryNodes           map[string]*StoryNode     `json:"story_nodes"`
	NPCRelationships     map[string]NPCDeclaration `json:"npc_relationships,omitempty"`
	QuestChains          map[string]QuestChain     `json:"quest_chains,omitempty"`
	AdvancedStorytelling *AdvancedStorytelling     `json:"advanced_storytelling,omitempty"`
}

// StoryNode is one vertex of the graph.
type StoryNode struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Choices     []Choice `json:"choices"`
	Location    string   `json:"location,omitempty"`
	Encounter   []string `json:"encounter,omitempty"`
}

// Choice is an edge. A nil NextNode ends the scenario.
type Choice struct {
	Text     string  `json:"text"`
	NextNode *string `json:"next_node"`
	Effect   *Effect `json:"effect,omitempty"`
}

// IsTerminal reports whether taking the choice completes the scenario.
func (c Choice) IsTerminal() bool {
	return c.NextNode == nil
}

// NPCDeclaration introduces an NPC in a scenario file.
type NPCDeclaration struct {
	Name             string             `json:"name"`
	Role             string             `json:"role"`
	Description      string             `json:"description,omitempty"`
	Personality      Personality        `json:"personality"`
	Alignment        MoralAlignment     `json:"alignment,omitempty"`
	RelationshipType string             `json:"relationship_type,omitempty"`
	Traits           *PersonalityTraits `json:"traits,omitempty"`
	Secrets          []string           `json:"secrets,omitempty"`
	QuestsOffered    []string           `json:"quests_offered,omitempty"`
	ItemsOffered     []Item             `json:"items_offered,omitempty"`
	Relationships    map[string]string  `json:"relationships,omitempty"`
}

// QuestChain is an ordered list of node ids that completes a quest.
type QuestChain struct {
	Title    string   `json:"title"`
	Steps    []string `json:"steps"`
	RewardXP int      `json:"reward_xp"`
}

// AdvancedStorytelling carries the contextual trigger tables.
type AdvancedStorytelling struct {
	ContextualTriggers ContextualTriggers `json:"contextual_triggers"`
}

type ContextualTriggers struct {
	LocationBased     map[string]TriggerSpec `json:"location_based,omitempty"`
	RelationshipBased map[string]TriggerSpec `json:"relationship_based,omitempty"`
}

// TriggerSpec holds the two base chances of a trigger table entry.
type TriggerSpec struct {
	BetrayalChance  float64  `json:"betrayal_chance"`
	PlotTwistChance float64  `json:"plot_twist_chance"`
	Triggers        []string `json:"triggers,omitempty"`
}

// LocationTrigger returns the location entry for loc.
func (s *Scenario) LocationTrigger(loc string) (TriggerSpec, bool) {
	if s.AdvancedStorytelling == nil || loc == "" {
		return TriggerSpec{}, false
	}
	spec, ok := s.AdvancedStorytelling.ContextualTriggers.LocationBased[loc]
	return spec, ok
}

// RelationshipTrigger returns the relationship entry for kind.
func (s *Scenario) RelationshipTrigger(kind string) (TriggerSpec, bool) {
	if s.AdvancedStorytelling == nil || kind == "" {
		return TriggerSpec{}, false
	}
	spec, ok := s.AdvancedStorytelling.ContextualTriggers.RelationshipBased[kind]
	return spec, ok
}

// NodeIDs returns the node ids sorted.
func (s *Scenario) NodeIDs() []string {
	ids := make([]string, 0, len(s.StoryNodes))
	for id := range s.StoryNodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidationError lists every structural problem found in a scenario.
type ValidationError struct {
	ScenarioID string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scenario %q is invalid: %s", e.ScenarioID, strings.Join(e.Problems, "; "))
}

// Validate checks the graph: "start" exists, every next_node resolves, quest
// steps and effect relationship targets name known nodes and NPCs.
func (s *Scenario) Validate() error {
	var problems []string
	if len(s.StoryNodes) == 0 {
		problems = append(problems, "story_nodes is empty")
	}
	if _, ok := s.StoryNodes[StartNodeID]; !ok {
		problems = append(problems, `missing "start" node`)
	}

	for _, id := range s.NodeIDs() {
		node := s.StoryNodes[id]
		if node == nil {
			problems = append(problems, fmt.Sprintf("node %q is null", id))
			continue
		}
		for i, ch := range node.Choices {
			if ch.NextNode != nil {
				if _, ok := s.StoryNodes[*ch.NextNode]; !ok {
					problems = append(problems, fmt.Sprintf("%s.choices[%d] -> unresolved next_node %q", id, i, *ch.NextNode))
				}
			}
			if ch.Effect == nil {
				continue
			}
			for _, npcID := range ch.Effect.RelationshipNPCs() {
				if _, ok := s.NPCRelationships[npcID]; !ok {
					problems = append(problems, fmt.Sprintf("%s.choices[%d] -> unknown npc %q", id, i, npcID))
				}
			}
		}
	}

	questIDs := make([]string, 0, len(s.QuestChains))
	for id := range s.QuestChains {
		questIDs = append(questIDs, id)
	}
	sort.Strings(questIDs)
	for _, qid := range questIDs {
		for _, step := range s.QuestChains[qid].Steps {
			if _, ok := s.StoryNodes[step]; !ok {
				problems = append(problems, fmt.Sprintf("quest %q -> unknown step %q", qid, step))
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{ScenarioID: s.ID, Problems: problems}
	}
	return nil
}

// Effect is the typed form of a choice's flat effect map. Zero fields are
// absent keys.
type Effect struct {
	Health          int            `json:"-"`
	XP              int            `json:"-"`
	Karma           int            `json:"-"`
	Reputation      int            `json:"-"`
	Relationships   map[string]int `json:"-"`
	InventoryAdd    []Item         `json:"-"`
	InventoryRemove []string       `json:"-"`

	Location       string `json:"-"`
	EmotionalState string `json:"-"`
	ContextType    string `json:"-"`
	Event          string `json:"-"`
}

const relationshipPrefix = "relationship."

// IsEmpty reports whether applying the effect would change nothing.
func (e *Effect) IsEmpty() bool {
	if e == nil {
		return true
	}
	return e.Health == 0 && e.XP == 0 && e.Karma == 0 && e.Reputation == 0 &&
		len(e.Relationships) == 0 && len(e.InventoryAdd) == 0 && len(e.InventoryRemove) == 0 &&
		e.Location == "" && e.EmotionalState == "" && e.ContextType == "" && e.Event == ""
}

// HasContextChanges reports whether any story-context key is set.
func (e *Effect) HasContextChanges() bool {
	return e != nil && (e.Location != "" || e.EmotionalState != "" || e.ContextType != "" || e.Event != "")
}

// RelationshipNPCs returns the NPC ids named by relationship keys, sorted.
func (e *Effect) RelationshipNPCs() []string {
	if e == nil {
		return nil
	}
	ids := make([]string, 0, len(e.Relationships))
	for id := range e.Relationships {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Effect) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("effect: %w", err)
	}
	var out Effect
	for key, val := range raw {
		var err error
		switch {
		case key == "health":
			err = json.Unmarshal(val, &out.Health)
		case key == "xp":
			err = json.Unmarshal(val, &out.XP)
		case key == "karma":
			err = json.Unmarshal(val, &out.Karma)
		case key == "reputation":
			err = json.Unmarshal(val, &out.Reputation)
		case strings.HasPrefix(key, relationshipPrefix):
			npcID := strings.TrimPrefix(key, relationshipPrefix)
			if npcID == "" {
				return fmt.Errorf("effect: empty npc id in %q", key)
			}
			var delta int
			err = json.Unmarshal(val, &delta)
			if out.Relationships == nil {
				out.Relationships = make(map[string]int)
			}
			out.Relationships[npcID] = delta
		case key == "inventory.add":
			out.InventoryAdd, err = decodeItems(val)
		case key == "inventory.remove":
			out.InventoryRemove, err = decodeNames(val)
		case key == "location":
			err = json.Unmarshal(val, &out.Location)
		case key == "emotional_state":
			err = json.Unmarshal(val, &out.EmotionalState)
		case key == "context_type":
			err = json.Unmarshal(val, &out.ContextType)
		case key == "event":
			err = json.Unmarshal(val, &out.Event)
		default:
			return fmt.Errorf("effect: unknown key %q", key)
		}
		if err != nil {
			return fmt.Errorf("effect key %q: %w", key, err)
		}
	}
	*e = out
	return nil
}

func (e Effect) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{})
	if e.Health != 0 {
		m["health"] = e.Health
	}
	if e.XP != 0 {
		m["xp"] = e.XP
	}
	if e.Karma != 0 {
		m["karma"] = e.Karma
	}
	if e.Reputation != 0 {
		m["reputation"] = e.Reputation
	}
	for id, delta := range e.Relationships {
		m[relationshipPrefix+id] = delta
	}
	if len(e.InventoryAdd) > 0 {
		m["inventory.add"] = e.InventoryAdd
	}
	if len(e.InventoryRemove) > 0 {
		m["inventory.remove"] = e.InventoryRemove
	}
	if e.Location != "" {
		m["location"] = e.Location
	}
	if e.EmotionalState != "" {
		m["emotional_state"] = e.EmotionalState
	}
	if e.ContextType != "" {
		m["context_type"] = e.ContextType
	}
	if e.Event != "" {
		m["event"] = e.Event
	}
	return json.Marshal(m)
}

// decodeItems accepts a name, an item object, or an array of either.
func decodeItems(val json.RawMessage) ([]Item, error) {
	trimmed := strings.TrimSpace(string(val))
	if strings.HasPrefix(trimmed, "[") {
		var parts []json.RawMessage
		if err := json.Unmarshal(val, &parts); err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(parts))
		for _, p := range parts {
			it, err := decodeItem(p)
			if err != nil {
				return nil, err
			}
			items = append(items, it)
		}
		return items, nil
	}
	it, err := decodeItem(val)
	if err != nil {
		return nil, err
	}
	return []Item{it}, nil
}

func decodeItem(val json.RawMessage) (Item, error) {
	var name string
	if err := json.Unmarshal(val, &name); err == nil {
		if name == "" {
			return Item{}, fmt.Errorf("empty item name")
		}
		return Item{Name: name}, nil
	}
	var it Item
	if err := json.Unmarshal(val, &it); err != nil {
		return Item{}, err
	}
	if it.Name == "" {
		return Item{}, fmt.Errorf("item without name")
	}
	if it.Kind != "" && !it.Kind.Valid() {
		return Item{}, fmt.Errorf("unknown item kind %q", it.Kind)
	}
	return it, nil
}

func decodeNames(val json.RawMessage) ([]string, error) {
	var one string
	if err := json.Unmarshal(val, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(val, &many); err != nil {
		return nil, err
	}
	return many, nil
}
