// internal/models/combat.go
package models

import (
	"encoding/json"
	"fmt"
)

// CombatState is the phase of a combat session. Each state has exactly one
// wire form, used by JSON and by saves.
type CombatState int

const (
	CombatStateInitiative CombatState = iota
	CombatStatePlayerTurn
	CombatStateEnemyTurn
	CombatStateVictory
	CombatStateDefeat
)

var combatStateNames = [...]string{"initiative", "player_turn", "enemy_turn", "victory", "defeat"}

func (s CombatState) String() string {
	if int(s) < 0 || int(s) >= len(combatStateNames) {
		return "unknown"
	}
	return combatStateNames[s]
}

// Finished reports whether the session reached victory or defeat.
func (s CombatState) Finished() bool {
	return s == CombatStateVictory || s == CombatStateDefeat
}

func ParseCombatState(name string) (CombatState, error) {
	for i, n := range combatStateNames {
		if n == name {
			return CombatState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown combat state %q", name)
}

func (s CombatState) MarshalJSON() ([]byte, error) {
	if int(s) < 0 || int(s) >= len(combatStateNames) {
		return nil, fmt.Errorf("invalid combat state %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *CombatState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseCombatState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ActionType is the closed set of combat actions.
type ActionType string

const (
	ActionAttack ActionType = "attack"
	ActionDefend ActionType = "defend"
	ActionSpell  ActionType = "spell"
	ActionItem   ActionType = "item"
	ActionFlee   ActionType = "flee"
)

// StatusDefending marks an entity that defended on its last turn.
const StatusDefending = "defending"

// CombatEntity is a participant built from a character or enemy template.
// It is never shared with the character record.
type CombatEntity struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	HP            int      `json:"hp"`
	MaxHP         int      `json:"max_hp"`
	ArmorClass    int      `json:"armor_class"`
	AttackBonus   int      `json:"attack_bonus"`
	DamageDie     string   `json:"damage_die"`
	Dexterity     int      `json:"dexterity"`
	Initiative    int      `json:"initiative"`
	IsPlayer      bool     `json:"is_player"`
	IsAlive       bool     `json:"is_alive"`
	StatusEffects []string `json:"status_effects"`
	XPReward      int      `json:"xp_reward,omitempty"`
	CharacterID   string   `json:"character_id,omitempty"`
	TemplateID    string   `json:"template_id,omitempty"`
}

func (e *CombatEntity) HasStatus(status string) bool {
	for _, s := range e.StatusEffects {
		if s == status {
			return true
		}
	}
	return false
}

func (e *CombatEntity) RemoveStatus(status string) {
	kept := e.StatusEffects[:0]
	for _, s := range e.StatusEffects {
		if s != status {
			kept = append(kept, s)
		}
	}
	e.StatusEffects = kept
}

// CombatAction is a request to act on the current turn.
type CombatAction struct {
	ActorID   string     `json:"actor_id"`
	Type      ActionType `json:"type"`
	TargetID  string     `json:"target_id,omitempty"`
	SpellName string     `json:"spell_name,omitempty"`
	ItemName  string     `json:"item_name,omitempty"`
}

// CombatLogEntry records one resolved action.
type CombatLogEntry struct {
	Seq      int        `json:"seq"`
	Round    int        `json:"round"`
	ActorID  string     `json:"actor_id"`
	Action   ActionType `json:"action"`
	TargetID string     `json:"target_id,omitempty"`
	Roll     int        `json:"roll,omitempty"`
	Total    int        `json:"total,omitempty"`
	Damage   int        `json:"damage,omitempty"`
	Healing  int        `json:"healing,omitempty"`
	Outcome  string     `json:"outcome"`
	Message  string     `json:"message"`
}

// MaxCombatLog bounds CombatSession.Log.
const MaxCombatLog = 200

// CombatSession is a self-contained turn-based encounter.
type CombatSession struct {
	ID          string                   `json:"id"`
	Entities    map[string]*CombatEntity `json:"entities"`
	Order       []string                 `json:"order"`
	TurnQueue   []string                 `json:"turn_queue"`
	CurrentTurn int                      `json:"current_turn"`
	Round       int                      `json:"round"`
	State       CombatState              `json:"state"`
	Log         []CombatLogEntry         `json:"log"`
	NextSeq     int                      `json:"next_seq"`
	Escaped     []string                 `json:"escaped"`
	Slain       []string                 `json:"slain"`
}

// CurrentActor returns the id at the head of the turn.
func (cs *CombatSession) CurrentActor() string {
	if cs.CurrentTurn < 0 || cs.CurrentTurn >= len(cs.TurnQueue) {
		return ""
	}
	return cs.TurnQueue[cs.CurrentTurn]
}

// AliveIDs returns alive entity ids in insertion order.
func (cs *CombatSession) AliveIDs() []string {
	ids := make([]string, 0, len(cs.Order))
	for _, id := range cs.Order {
		if e, ok := cs.Entities[id]; ok && e.IsAlive {
			ids = append(ids, id)
		}
	}
	return ids
}

// AnyAlive reports whether an alive entity with the given side remains.
func (cs *CombatSession) AnyAlive(player bool) bool {
	for _, id := range cs.Order {
		if e, ok := cs.Entities[id]; ok && e.IsAlive && e.IsPlayer == player {
			return true
		}
	}
	return false
}

// Tail returns up to n most recent log entries.
func (cs *CombatSession) Tail(n int) []CombatLogEntry {
	if n <= 0 || n >= len(cs.Log) {
		return cloneSlice(cs.Log)
	}
	return cloneSlice(cs.Log[len(cs.Log)-n:])
}

// Clone returns a deep copy.
func (cs *CombatSession) Clone() *CombatSession {
	if cs == nil {
		return nil
	}
	cp := *cs
	cp.Entities = make(map[string]*CombatEntity, len(cs.Entities))
	for id, e := range cs.Entities {
		ec := *e
		ec.StatusEffects = cloneSlice(e.StatusEffects)
		cp.Entities[id] = &ec
	}
	cp.Order = cloneSlice(cs.Order)
	cp.TurnQueue = cloneSlice(cs.TurnQueue)
	cp.Log = cloneSlice(cs.Log)
	cp.Escaped = cloneSlice(cs.Escaped)
	cp.Slain = cloneSlice(cs.Slain)
	return &cp
}
