// internal/services/combat_service.go
package services

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Corphon/AIDungeonMaster/internal/dice"
	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/gamedata"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

const (
	defaultDexterity = 10
	defendACBonus    = 2
	fleeDC           = 10
	fallbackDie      = "1d4"
)

// CombatResolver runs turn-based combat sessions. Each session owns the
// roller it was started with.
type CombatResolver struct {
	mu       sync.Mutex
	sessions map[string]*combatEntry
	logger   *utils.Logger
	metrics  *utils.GameMetrics
}

type combatEntry struct {
	session *models.CombatSession
	rng     dice.Roller
}

// ActionOption is one legal action for the current actor.
type ActionOption struct {
	Type    models.ActionType `json:"type"`
	Targets []string          `json:"targets,omitempty"`
	Spells  []string          `json:"spells,omitempty"`
	Items   []string          `json:"items,omitempty"`
}

// AvailableActions lists what the current actor may do.
type AvailableActions struct {
	CombatID string         `json:"combat_id"`
	ActorID  string         `json:"actor_id"`
	IsPlayer bool           `json:"is_player"`
	Actions  []ActionOption `json:"actions"`
}

// ActionResult is returned by PerformAction.
type ActionResult struct {
	Entry   models.CombatLogEntry   `json:"entry"`
	Escaped bool                    `json:"escaped"`
	State   models.CombatState      `json:"state"`
	Round   int                     `json:"round"`
	NextID  string                  `json:"next_actor,omitempty"`
	Alive   []string                `json:"alive"`
	LogTail []models.CombatLogEntry `json:"log_tail"`
}

func NewCombatResolver(logger *utils.Logger, metrics *utils.GameMetrics) *CombatResolver {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &CombatResolver{
		sessions: make(map[string]*combatEntry),
		logger:   logger,
		metrics:  metrics,
	}
}

// PlayerEntity derives a combat entity from a character. Equipment sets the
// damage die and adds armor.
func PlayerEntity(c *models.Character) *models.CombatEntity {
	die := fallbackDie
	if def, ok := gamedata.Class(c.Class); ok && def.DamageDie != "" {
		die = def.DamageDie
	}
	if w, ok := c.EquippedWeapon(); ok {
		die = w.DamageDie
	}
	dex := c.Stats.Dexterity
	if dex == 0 {
		dex = defaultDexterity
	}
	return &models.CombatEntity{
		ID:            c.ID,
		Name:          c.Name,
		HP:            c.Stats.HP,
		MaxHP:         c.Stats.MaxHP,
		ArmorClass:    gamedata.ArmorClass(c.Stats.Defense) + c.ArmorBonus(),
		AttackBonus:   gamedata.AttackBonus(c.Stats.Attack),
		DamageDie:     die,
		Dexterity:     dex,
		IsPlayer:      true,
		IsAlive:       c.Stats.HP > 0,
		StatusEffects: []string{},
		CharacterID:   c.ID,
	}
}

// EnemyEntity derives a combat entity from a template.
func EnemyEntity(t gamedata.EnemyTemplate, id string) *models.CombatEntity {
	dex := t.Dexterity
	if dex == 0 {
		dex = defaultDexterity
	}
	return &models.CombatEntity{
		ID:            id,
		Name:          t.Name,
		HP:            t.HP,
		MaxHP:         t.HP,
		ArmorClass:    gamedata.ArmorClass(t.Defense),
		AttackBonus:   gamedata.AttackBonus(t.Attack),
		DamageDie:     t.DamageDie,
		Dexterity:     dex,
		IsAlive:       true,
		StatusEffects: []string{},
		XPReward:      t.XPReward,
		TemplateID:    t.ID,
	}
}

// StartCombat builds entities for the party and each enemy template, rolls
// initiative and orders the turn queue.
func (r *CombatResolver) StartCombat(rng dice.Roller, party []*models.Character, enemyIDs []string) (*models.CombatSession, error) {
	if rng == nil {
		return nil, apperrors.NewInvalidInputError("combat requires a dice roller", nil)
	}
	if len(party) == 0 {
		return nil, apperrors.NewInvalidInputError("combat requires at least one player", nil)
	}
	if len(enemyIDs) == 0 {
		return nil, apperrors.NewInvalidInputError("combat requires at least one enemy", nil)
	}

	cs := &models.CombatSession{
		ID:       "combat_" + uuid.NewString(),
		Entities: make(map[string]*models.CombatEntity),
		Round:    1,
		State:    models.CombatStateInitiative,
		Log:      []models.CombatLogEntry{},
		Escaped:  []string{},
		Slain:    []string{},
	}

	for _, c := range party {
		if c == nil {
			return nil, apperrors.NewInvalidInputError("nil party member", nil)
		}
		if c.Stats.HP <= 0 {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("%s cannot fight with 0 hp", c.Name), nil)
		}
		e := PlayerEntity(c)
		if _, dup := cs.Entities[e.ID]; dup {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("duplicate party member %s", e.ID), nil)
		}
		cs.Entities[e.ID] = e
		cs.Order = append(cs.Order, e.ID)
	}
	for i, tid := range enemyIDs {
		t, ok := gamedata.Enemy(tid)
		if !ok {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown enemy template %q", tid), nil)
		}
		e := EnemyEntity(t, fmt.Sprintf("%s_%d", t.ID, i+1))
		cs.Entities[e.ID] = e
		cs.Order = append(cs.Order, e.ID)
	}

	for _, id := range cs.Order {
		e := cs.Entities[id]
		e.Initiative = dice.D20(rng) + dice.AbilityModifier(e.Dexterity)
	}
	queue := append([]string(nil), cs.Order...)
	sort.SliceStable(queue, func(i, j int) bool {
		return cs.Entities[queue[i]].Initiative > cs.Entities[queue[j]].Initiative
	})
	cs.TurnQueue = queue
	cs.CurrentTurn = 0
	cs.State = turnState(cs)

	r.appendLog(cs, models.CombatLogEntry{
		ActorID: "",
		Outcome: "initiative",
		Message: fmt.Sprintf("initiative order: %v", queue),
	})

	r.mu.Lock()
	r.sessions[cs.ID] = &combatEntry{session: cs, rng: rng}
	r.mu.Unlock()

	r.logger.Info("combat started", map[string]interface{}{
		"combat_id": cs.ID,
		"enemies":   enemyIDs,
		"first":     cs.CurrentActor(),
	})
	return cs.Clone(), nil
}

// Restore registers a combat session loaded from a snapshot.
func (r *CombatResolver) Restore(cs *models.CombatSession, rng dice.Roller) error {
	if cs == nil || cs.ID == "" {
		return apperrors.NewInvalidInputError("combat session has no id", nil)
	}
	if err := CheckCombatInvariants(cs); err != nil {
		return err
	}
	r.mu.Lock()
	r.sessions[cs.ID] = &combatEntry{session: cs.Clone(), rng: rng}
	r.mu.Unlock()
	return nil
}

// CurrentState returns a copy of the session.
func (r *CombatResolver) CurrentState(id string) (*models.CombatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.ErrUnknownSession
	}
	return entry.session.Clone(), nil
}

// AvailableActions lists legal actions for the current actor. Enemies may
// only attack or flee. carried names the items the actor holds; only those
// usable in combat are offered, and the item option is left out when none
// are. A finished session has no actions.
func (r *CombatResolver) AvailableActions(id string, carried []string) (AvailableActions, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return AvailableActions{}, apperrors.ErrUnknownSession
	}
	cs := entry.session
	out := AvailableActions{CombatID: cs.ID, Actions: []ActionOption{}}
	if cs.State.Finished() {
		return out, nil
	}
	actor := cs.Entities[cs.CurrentActor()]
	if actor == nil {
		return out, nil
	}
	out.ActorID = actor.ID
	out.IsPlayer = actor.IsPlayer

	var foes, allies []string
	for _, id := range cs.AliveIDs() {
		if cs.Entities[id].IsPlayer == actor.IsPlayer {
			allies = append(allies, id)
		} else {
			foes = append(foes, id)
		}
	}

	out.Actions = append(out.Actions, ActionOption{Type: models.ActionAttack, Targets: foes})
	if actor.IsPlayer {
		out.Actions = append(out.Actions,
			ActionOption{Type: models.ActionDefend},
			ActionOption{Type: models.ActionSpell, Targets: append(append([]string{}, foes...), allies...), Spells: gamedata.SpellNames()},
		)
		var usable []string
		seen := make(map[string]bool)
		for _, name := range carried {
			if _, ok := gamedata.CombatHealing(name); ok && !seen[name] {
				seen[name] = true
				usable = append(usable, name)
			}
		}
		if len(usable) > 0 {
			out.Actions = append(out.Actions, ActionOption{Type: models.ActionItem, Items: usable})
		}
	}
	out.Actions = append(out.Actions, ActionOption{Type: models.ActionFlee})
	return out, nil
}

// PerformAction resolves one action by the current actor and advances the
// turn.
func (r *CombatResolver) PerformAction(id string, action models.CombatAction) (ActionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[id]
	if !ok {
		return ActionResult{}, apperrors.ErrUnknownSession
	}
	cs := entry.session
	if cs.State.Finished() {
		return ActionResult{}, apperrors.NewPreconditionError(apperrors.CodeCombatOver, fmt.Sprintf("combat already ended in %s", cs.State))
	}

	actor, ok := cs.Entities[action.ActorID]
	if !ok {
		return ActionResult{}, apperrors.NewNotFoundError(fmt.Sprintf("entity %q is not in this combat", action.ActorID), nil)
	}
	if !actor.IsAlive {
		return ActionResult{}, apperrors.ErrDeadActor
	}
	if cs.CurrentActor() != actor.ID {
		return ActionResult{}, apperrors.ErrNotYourTurn
	}
	if err := validateAction(cs, actor, action); err != nil {
		return ActionResult{}, err
	}

	if actor.HasStatus(models.StatusDefending) {
		actor.RemoveStatus(models.StatusDefending)
		actor.ArmorClass -= defendACBonus
	}

	logEntry := models.CombatLogEntry{
		ActorID:  actor.ID,
		Action:   action.Type,
		TargetID: action.TargetID,
	}
	escaped := false

	switch action.Type {
	case models.ActionAttack:
		r.resolveAttack(entry.rng, cs, actor, cs.Entities[action.TargetID], &logEntry)
	case models.ActionDefend:
		actor.ArmorClass += defendACBonus
		actor.StatusEffects = append(actor.StatusEffects, models.StatusDefending)
		logEntry.Outcome = "defending"
		logEntry.Message = fmt.Sprintf("%s raises a guard (AC %d)", actor.Name, actor.ArmorClass)
	case models.ActionSpell:
		r.resolveSpell(cs, actor, action, &logEntry)
	case models.ActionItem:
		heal, _ := gamedata.CombatHealing(action.ItemName)
		before := actor.HP
		actor.HP = clampInt(actor.HP+heal, 0, actor.MaxHP)
		logEntry.TargetID = actor.ID
		logEntry.Healing = actor.HP - before
		logEntry.Outcome = "item"
		logEntry.Message = fmt.Sprintf("%s uses %s and recovers %d hp", actor.Name, action.ItemName, logEntry.Healing)
	case models.ActionFlee:
		roll := dice.D20(entry.rng)
		logEntry.Roll = roll
		logEntry.Total = roll
		if roll >= fleeDC {
			escaped = true
			logEntry.Outcome = "escaped"
			logEntry.Message = fmt.Sprintf("%s flees the fight", actor.Name)
		} else {
			logEntry.Outcome = "flee_failed"
			logEntry.Message = fmt.Sprintf("%s fails to escape", actor.Name)
		}
	}

	r.appendLog(cs, logEntry)
	logEntry = cs.Log[len(cs.Log)-1]
	if r.metrics != nil {
		r.metrics.RecordCombatAction(string(action.Type))
	}

	r.advance(cs, actor.ID, escaped)

	return ActionResult{
		Entry:   logEntry,
		Escaped: escaped,
		State:   cs.State,
		Round:   cs.Round,
		NextID:  cs.CurrentActor(),
		Alive:   cs.AliveIDs(),
		LogTail: cs.Tail(5),
	}, nil
}

func validateAction(cs *models.CombatSession, actor *models.CombatEntity, action models.CombatAction) error {
	switch action.Type {
	case models.ActionAttack:
		return validateTarget(cs, actor, action.TargetID, false)
	case models.ActionFlee:
		return nil
	case models.ActionDefend, models.ActionSpell, models.ActionItem:
		if !actor.IsPlayer {
			return apperrors.NewInvalidInputError(fmt.Sprintf("%s may not %s", actor.Name, action.Type), nil).WithCode(apperrors.CodeInvalidAction)
		}
	default:
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown action %q", action.Type), nil).WithCode(apperrors.CodeInvalidAction)
	}

	switch action.Type {
	case models.ActionSpell:
		spell, _ := gamedata.LookupSpell(action.SpellName)
		if spell.Kind == gamedata.SpellDamage {
			return validateTarget(cs, actor, action.TargetID, false)
		}
		if action.TargetID != "" {
			return validateTarget(cs, actor, action.TargetID, true)
		}
	case models.ActionItem:
		if _, ok := gamedata.CombatHealing(action.ItemName); !ok {
			return apperrors.NewInvalidInputError(fmt.Sprintf("item %q cannot be used in combat", action.ItemName), nil)
		}
	}
	return nil
}

func validateTarget(cs *models.CombatSession, actor *models.CombatEntity, targetID string, allowSelf bool) error {
	target, ok := cs.Entities[targetID]
	if !ok || !target.IsAlive {
		return apperrors.ErrInvalidTarget
	}
	if target.ID == actor.ID && !allowSelf {
		return apperrors.ErrInvalidTarget
	}
	return nil
}

func (r *CombatResolver) resolveAttack(rng dice.Roller, cs *models.CombatSession, actor, target *models.CombatEntity, entry *models.CombatLogEntry) {
	roll := dice.D20(rng)
	entry.Roll = roll
	entry.Total = roll + actor.AttackBonus
	if entry.Total < target.ArmorClass {
		entry.Outcome = "miss"
		entry.Message = fmt.Sprintf("%s misses %s (%d vs AC %d)", actor.Name, target.Name, entry.Total, target.ArmorClass)
		return
	}

	expr, err := dice.ParseExpression(actor.DamageDie)
	if err != nil {
		expr, _ = dice.ParseExpression(fallbackDie)
	}
	dmg, _ := expr.Roll(rng)
	entry.Damage = r.damage(cs, target, dmg.Total)
	entry.Outcome = "hit"
	entry.Message = fmt.Sprintf("%s hits %s for %d damage (%d vs AC %d)", actor.Name, target.Name, entry.Damage, entry.Total, target.ArmorClass)
	if !target.IsAlive {
		entry.Outcome = "kill"
		entry.Message += fmt.Sprintf("; %s falls", target.Name)
	}
}

func (r *CombatResolver) resolveSpell(cs *models.CombatSession, actor *models.CombatEntity, action models.CombatAction, entry *models.CombatLogEntry) {
	spell, _ := gamedata.LookupSpell(action.SpellName)
	switch spell.Kind {
	case gamedata.SpellDamage:
		target := cs.Entities[action.TargetID]
		entry.Damage = r.damage(cs, target, spell.Magnitude)
		entry.Outcome = "spell_damage"
		entry.Message = fmt.Sprintf("%s casts %s on %s for %d damage", actor.Name, spell.Name, target.Name, entry.Damage)
		if !target.IsAlive {
			entry.Outcome = "kill"
			entry.Message += fmt.Sprintf("; %s falls", target.Name)
		}
	case gamedata.SpellHealing:
		target := actor
		if action.TargetID != "" {
			target = cs.Entities[action.TargetID]
		}
		before := target.HP
		target.HP = clampInt(target.HP+spell.Magnitude, 0, target.MaxHP)
		entry.TargetID = target.ID
		entry.Healing = target.HP - before
		entry.Outcome = "spell_heal"
		entry.Message = fmt.Sprintf("%s casts %s and restores %d hp to %s", actor.Name, spell.Name, entry.Healing, target.Name)
	case gamedata.SpellDefense:
		target := actor
		if action.TargetID != "" {
			target = cs.Entities[action.TargetID]
		}
		entry.TargetID = target.ID
		entry.Outcome = "spell_defense"
		if target.HasStatus(spell.Status) {
			entry.Message = fmt.Sprintf("%s is already under %s", target.Name, spell.Name)
			break
		}
		target.ArmorClass += spell.Magnitude
		target.StatusEffects = append(target.StatusEffects, spell.Status)
		entry.Message = fmt.Sprintf("%s casts %s on %s (AC %d)", actor.Name, spell.Name, target.Name, target.ArmorClass)
	}
	entry.Action = models.ActionSpell
}

// damage applies hp loss clamped at zero and returns the damage dealt.
func (r *CombatResolver) damage(cs *models.CombatSession, target *models.CombatEntity, amount int) int {
	if amount < 0 {
		amount = 0
	}
	before := target.HP
	target.HP = clampInt(target.HP-amount, 0, target.MaxHP)
	if target.HP == 0 && target.IsAlive {
		target.IsAlive = false
		cs.Slain = append(cs.Slain, target.ID)
	}
	return before - target.HP
}

// advance removes the fled actor, prunes the dead, picks the next actor and
// checks termination.
func (r *CombatResolver) advance(cs *models.CombatSession, actorID string, escaped bool) {
	old := cs.TurnQueue
	idx := cs.CurrentTurn

	if escaped {
		delete(cs.Entities, actorID)
		cs.Order = models.RemoveString(cs.Order, actorID)
		cs.Escaped = append(cs.Escaped, actorID)
	}

	alive := make(map[string]bool, len(old))
	queue := make([]string, 0, len(old))
	for _, id := range old {
		if e, ok := cs.Entities[id]; ok && e.IsAlive {
			alive[id] = true
			queue = append(queue, id)
		}
	}

	next := ""
	wrapped := false
	for k := 1; k <= len(old); k++ {
		cand := old[(idx+k)%len(old)]
		if alive[cand] {
			next = cand
			wrapped = idx+k >= len(old)
			break
		}
	}

	cs.TurnQueue = queue
	cs.CurrentTurn = 0
	for i, id := range queue {
		if id == next {
			cs.CurrentTurn = i
			break
		}
	}
	if wrapped {
		cs.Round++
	}

	switch {
	case !cs.AnyAlive(true):
		cs.State = models.CombatStateDefeat
	case !cs.AnyAlive(false):
		cs.State = models.CombatStateVictory
	default:
		cs.State = turnState(cs)
	}
}

func turnState(cs *models.CombatSession) models.CombatState {
	if e, ok := cs.Entities[cs.CurrentActor()]; ok && e.IsPlayer {
		return models.CombatStatePlayerTurn
	}
	return models.CombatStateEnemyTurn
}

func (r *CombatResolver) appendLog(cs *models.CombatSession, entry models.CombatLogEntry) {
	cs.NextSeq++
	entry.Seq = cs.NextSeq
	entry.Round = cs.Round
	cs.Log = append(cs.Log, entry)
	if n := len(cs.Log); n > models.MaxCombatLog {
		cs.Log = append([]models.CombatLogEntry{}, cs.Log[n-models.MaxCombatLog:]...)
	}
}

// EnemyAction picks the current enemy's move: attack the weakest alive
// player, ties broken by insertion order.
func (r *CombatResolver) EnemyAction(id string) (models.CombatAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return models.CombatAction{}, apperrors.ErrUnknownSession
	}
	cs := entry.session
	actor := cs.Entities[cs.CurrentActor()]
	if cs.State.Finished() || actor == nil || actor.IsPlayer {
		return models.CombatAction{}, apperrors.NewPreconditionError(apperrors.CodeNotYourTurn, "no enemy is due to act")
	}
	var target *models.CombatEntity
	for _, eid := range cs.Order {
		e := cs.Entities[eid]
		if e == nil || !e.IsAlive || !e.IsPlayer {
			continue
		}
		if target == nil || e.HP < target.HP {
			target = e
		}
	}
	if target == nil {
		return models.CombatAction{}, apperrors.ErrInvalidTarget
	}
	return models.CombatAction{ActorID: actor.ID, Type: models.ActionAttack, TargetID: target.ID}, nil
}

// ApplyAssistance grants NPC help to an entity: attack bonus, armor and
// healing.
func (r *CombatResolver) ApplyAssistance(id, entityID string, help gamedata.Assistance, helper string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return apperrors.ErrUnknownSession
	}
	cs := entry.session
	if cs.State.Finished() {
		return apperrors.NewPreconditionError(apperrors.CodeCombatOver, "combat already ended")
	}
	e, ok := cs.Entities[entityID]
	if !ok || !e.IsAlive {
		return apperrors.ErrInvalidTarget
	}
	e.AttackBonus += help.Damage
	e.ArmorClass += help.Defense
	before := e.HP
	e.HP = clampInt(e.HP+help.Healing, 0, e.MaxHP)
	r.appendLog(cs, models.CombatLogEntry{
		ActorID:  helper,
		TargetID: e.ID,
		Healing:  e.HP - before,
		Outcome:  "assist",
		Message:  fmt.Sprintf("%s joins the fight beside %s", helper, e.Name),
	})
	return nil
}

// EndCombat removes a session and returns its final state.
func (r *CombatResolver) EndCombat(id string) (*models.CombatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.ErrUnknownSession
	}
	delete(r.sessions, id)
	r.logger.Info("combat ended", map[string]interface{}{
		"combat_id": id,
		"state":     entry.session.State.String(),
		"rounds":    entry.session.Round,
	})
	return entry.session, nil
}

// CheckCombatInvariants verifies the queue and terminal-state rules.
func CheckCombatInvariants(cs *models.CombatSession) error {
	alive := cs.AliveIDs()
	if len(alive) != len(cs.TurnQueue) {
		return apperrors.NewInvariantError(fmt.Sprintf("turn queue %v is not the alive set %v", cs.TurnQueue, alive), nil)
	}
	seen := make(map[string]bool, len(cs.TurnQueue))
	for _, id := range cs.TurnQueue {
		e, ok := cs.Entities[id]
		if !ok || !e.IsAlive || seen[id] {
			return apperrors.NewInvariantError(fmt.Sprintf("turn queue entry %q is invalid", id), nil)
		}
		seen[id] = true
	}
	for _, e := range cs.Entities {
		if e.HP < 0 || e.HP > e.MaxHP {
			return apperrors.NewInvariantError(fmt.Sprintf("entity %s hp %d out of range", e.ID, e.HP), nil)
		}
	}
	if (cs.State == models.CombatStateVictory) != !cs.AnyAlive(false) {
		return apperrors.NewInvariantError("victory state disagrees with enemies alive", nil)
	}
	if (cs.State == models.CombatStateDefeat) != !cs.AnyAlive(true) {
		return apperrors.NewInvariantError("defeat state disagrees with players alive", nil)
	}
	if !cs.State.Finished() {
		if e, ok := cs.Entities[cs.CurrentActor()]; !ok || !e.IsAlive {
			return apperrors.NewInvariantError("current turn does not point at an alive entity", nil)
		}
	}
	return nil
}
