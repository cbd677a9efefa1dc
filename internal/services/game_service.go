// internal/services/game_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/AIDungeonMaster/internal/dice"
	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/gamedata"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

const (
	defaultIdleTimeout = 30 * time.Minute
	maxEnemyTurns      = 100
	combatLogTail      = 5
)

// GameSession is the mutable state of one play-through. All access goes
// through GameService under the session lock.
type GameSession struct {
	ID         string
	ScenarioID string
	Party      []*models.Character
	Story      *StoryEngine
	NPCs       *NPCEngine
	CombatID   string

	ReadOnly       bool
	ReadOnlyReason string
	Commands       int
	CreatedAt      time.Time
	LastActive     time.Time

	// moral is shared with NPCs by pointer and must never be reassigned
	// as a whole outside restore.
	moral models.PlayerMoralState
	rng   *dice.Stream
}

// Leader is the first party member; single-character commands act on it.
func (s *GameSession) Leader() *models.Character {
	if len(s.Party) == 0 {
		return nil
	}
	return s.Party[0]
}

func (s *GameSession) member(id string) *models.Character {
	for _, c := range s.Party {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// GameServiceOptions wires a GameService.
type GameServiceOptions struct {
	Scenarios   map[string]*models.Scenario
	Characters  *CharacterService
	Combat      *CombatResolver
	Saves       *SaveService
	Locks       *LockManager
	Events      *EventService
	Narrator    *LLMService
	Metrics     *utils.GameMetrics
	Logger      *utils.Logger
	IdleTimeout time.Duration
}

// GameService is the session service: it receives (session, command) pairs
// from the transport and drives the engines.
type GameService struct {
	mu         sync.RWMutex
	sessions   map[string]*GameSession
	characters map[string]*models.Character
	combats    map[string]string

	scenarios map[string]*models.Scenario

	chars    *CharacterService
	combat   *CombatResolver
	saves    *SaveService
	locks    *LockManager
	events   *EventService
	narrator *LLMService
	metrics  *utils.GameMetrics
	logger   *utils.Logger

	idleTimeout time.Duration
	now         func() time.Time
	newSeed     func() (uint64, error)

	diceMu sync.Mutex
	dice   *dice.Stream
}

func NewGameService(opts GameServiceOptions) (*GameService, error) {
	if opts.Saves == nil {
		return nil, fmt.Errorf("game service requires a save service")
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	if opts.Characters == nil {
		opts.Characters = NewCharacterService(opts.Logger)
	}
	if opts.Combat == nil {
		opts.Combat = NewCombatResolver(opts.Logger, opts.Metrics)
	}
	if opts.Locks == nil {
		opts.Locks = NewLockManager()
	}
	if opts.Events == nil {
		opts.Events = NewEventService()
	}
	if opts.Narrator == nil {
		opts.Narrator = NewEmptyLLMService()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.Scenarios == nil {
		shipped, err := gamedata.ShippedScenarios()
		if err != nil {
			return nil, fmt.Errorf("load shipped scenarios: %w", err)
		}
		opts.Scenarios = shipped
	}

	seed, err := dice.NewSeed()
	if err != nil {
		return nil, err
	}
	return &GameService{
		sessions:    make(map[string]*GameSession),
		characters:  make(map[string]*models.Character),
		combats:     make(map[string]string),
		scenarios:   opts.Scenarios,
		chars:       opts.Characters,
		combat:      opts.Combat,
		saves:       opts.Saves,
		locks:       opts.Locks,
		events:      opts.Events,
		narrator:    opts.Narrator,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		idleTimeout: opts.IdleTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		newSeed:     dice.NewSeed,
		dice:        dice.NewStream(seed),
	}, nil
}

// Events exposes the session feed for the transport.
func (g *GameService) Events() *EventService {
	return g.events
}

// Narrator exposes the text oracle wrapper for configuration updates.
func (g *GameService) Narrator() *LLMService {
	return g.narrator
}

// Scenarios lists the loaded scenarios sorted by id.
func (g *GameService) Scenarios() []StorySummary {
	ids := make([]string, 0, len(g.scenarios))
	for id := range g.scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]StorySummary, 0, len(ids))
	for _, id := range ids {
		sc := g.scenarios[id]
		out = append(out, StorySummary{ScenarioID: id, Title: sc.Title, Theme: sc.Theme, TotalNodes: len(sc.StoryNodes)})
	}
	return out
}

// ActiveSessions reports how many sessions are in memory.
func (g *GameService) ActiveSessions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

func (g *GameService) session(id string) (*GameSession, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sess, ok := g.sessions[id]
	if !ok {
		return nil, apperrors.WrapError(apperrors.ErrUnknownSession, fmt.Sprintf("session %q", id), apperrors.ErrorTypeNotFound)
	}
	return sess, nil
}

func (g *GameService) publish(sessionID, kind, message string, data interface{}) {
	g.events.Publish(GameEvent{Type: kind, SessionID: sessionID, Message: message, Data: data})
}

// checkpoint is the in-memory state a failed command is rolled back to.
type checkpoint struct {
	party    []*models.Character
	combatID string
	moral    models.PlayerMoralState
	story    StoryState
	npcs     NPCState
	rng      dice.State
	combat   *models.CombatSession
}

func (g *GameService) checkpoint(sess *GameSession) (*checkpoint, error) {
	rng, err := sess.rng.State()
	if err != nil {
		return nil, apperrors.NewInvariantError("capture rng", err)
	}
	cp := &checkpoint{
		party: make([]*models.Character, len(sess.Party)),
		moral: sess.moral.Clone(),
		story: sess.Story.State(),
		npcs:  sess.NPCs.State(),
		rng:   rng,
	}
	cp.combatID = sess.CombatID
	for i, c := range sess.Party {
		cp.party[i] = c.Clone()
	}
	if sess.CombatID != "" {
		if cs, err := g.combat.CurrentState(sess.CombatID); err == nil {
			cp.combat = cs
		}
	}
	return cp, nil
}

func (g *GameService) rollback(sess *GameSession, cp *checkpoint) {
	sess.Party = cp.party
	sess.moral = cp.moral
	if err := sess.Story.Restore(sess.Story.Scenario(), cp.story); err != nil {
		g.logger.Error("story rollback failed", map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
	}
	sess.NPCs.Restore(cp.npcs)
	if err := sess.rng.Reset(cp.rng); err != nil {
		g.logger.Error("rng rollback failed", map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
	}
	if sess.CombatID != "" && sess.CombatID != cp.combatID {
		g.dropCombat(sess.CombatID)
	}
	sess.CombatID = cp.combatID
	if cp.combat != nil {
		if err := g.combat.Restore(cp.combat, sess.rng); err != nil {
			g.logger.Error("combat rollback failed", map[string]interface{}{"session_id": sess.ID, "error": err.Error()})
		}
		g.mu.Lock()
		g.combats[cp.combat.ID] = sess.ID
		g.mu.Unlock()
	}
}

// verify checks every cross-engine invariant after a command.
func (g *GameService) verify(sess *GameSession) error {
	for _, c := range sess.Party {
		if err := g.chars.CheckInvariants(c); err != nil {
			return err
		}
	}
	if err := sess.NPCs.CheckInvariants(); err != nil {
		return err
	}
	if sess.CombatID != "" {
		cs, err := g.combat.CurrentState(sess.CombatID)
		if err != nil {
			return apperrors.NewInvariantError(fmt.Sprintf("session combat %s is gone", sess.CombatID), err)
		}
		if err := CheckCombatInvariants(cs); err != nil {
			return err
		}
	}
	return nil
}

// run executes fn under the session lock. Mutating commands are rolled back
// when rejected, turn the session read-only on an invariant violation and
// autosave on success. The returned warnings never carry a failure of fn.
func (g *GameService) run(ctx context.Context, sessionID, command string, mutate bool, fn func(sess *GameSession) error) ([]string, error) {
	start := time.Now()
	var warnings []string
	err := g.locks.ExecuteWithSessionLock(sessionID, func() error {
		sess, err := g.session(sessionID)
		if err != nil {
			return err
		}
		if !mutate {
			return fn(sess)
		}
		if sess.ReadOnly {
			return apperrors.WrapError(apperrors.ErrSessionReadOnly, sess.ReadOnlyReason, apperrors.ErrorTypeInvariant)
		}

		cp, err := g.checkpoint(sess)
		if err != nil {
			return err
		}
		err = fn(sess)
		if err == nil {
			sess.Story.Context().NPCTrust = sess.NPCs.NPCTrust()
			err = g.verify(sess)
		}
		switch {
		case err == nil:
		case apperrors.IsInvariantError(err):
			sess.ReadOnly = true
			sess.ReadOnlyReason = err.Error()
			g.logger.Error("session invariant violated", map[string]interface{}{
				"session_id": sessionID,
				"command":    command,
				"error":      err.Error(),
			})
			g.publish(sessionID, EventError, "session is read-only until reloaded", map[string]string{"reason": err.Error()})
			return err
		case apperrors.IsPersistenceError(err):
			return err
		default:
			g.rollback(sess, cp)
			return err
		}

		sess.Commands++
		sess.LastActive = g.now()
		g.logger.Info("command applied", map[string]interface{}{
			"session_id": sessionID,
			"command":    command,
		})
		if w := g.autosave(ctx, sess); w != "" {
			warnings = append(warnings, w)
		}
		return nil
	})
	if g.metrics != nil {
		g.metrics.RecordCommand(command, time.Since(start), err)
	}
	return warnings, err
}

func (g *GameService) autosave(ctx context.Context, sess *GameSession) string {
	snap, err := g.snapshot(sess)
	if err == nil {
		_, err = g.saves.Autosave(ctx, sess.ID, snap)
	}
	if g.metrics != nil {
		g.metrics.RecordAutosave(err)
	}
	if err == nil {
		return ""
	}
	msg := "autosave failed: " + err.Error()
	g.logger.Warn("autosave failed", map[string]interface{}{
		"session_id": sess.ID,
		"error":      err.Error(),
	})
	g.publish(sess.ID, EventWarning, msg, nil)
	return msg
}

// CreateCharacter builds a character and keeps it until a session claims it.
func (g *GameService) CreateCharacter(name string, classID models.ClassID) (*models.Character, error) {
	start := time.Now()
	c, err := g.chars.CreateCharacter(name, classID)
	if g.metrics != nil {
		g.metrics.RecordCommand("create_character", time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.characters[c.ID] = c.Clone()
	g.mu.Unlock()
	return c, nil
}

// SkillTree returns a class's tree.
func (g *GameService) SkillTree(classID models.ClassID) ([]models.Skill, error) {
	return g.chars.GetSkillTree(classID)
}

// RollDice rolls one die. With a session id the session's stream is used,
// so the roll is part of its replayable history.
func (g *GameService) RollDice(ctx context.Context, sessionID, kind string, modifier int) (dice.RollResult, error) {
	if _, err := dice.ParseDieKind(kind); err != nil {
		return dice.RollResult{}, apperrors.NewInvalidInputError(err.Error(), err)
	}
	if sessionID == "" {
		g.diceMu.Lock()
		defer g.diceMu.Unlock()
		return dice.RollDie(g.dice, kind, modifier)
	}
	var res dice.RollResult
	_, err := g.run(ctx, sessionID, "roll_dice", true, func(sess *GameSession) error {
		var err error
		res, err = dice.RollDie(sess.rng, kind, modifier)
		return err
	})
	return res, err
}

// SessionStart is returned by StartSession.
type SessionStart struct {
	SessionID string    `json:"session_id"`
	Scene     Scene     `json:"scene"`
	Narration Narration `json:"narration"`
}

// StartSession opens a scenario for a party of created characters.
func (g *GameService) StartSession(ctx context.Context, scenarioID string, partyIDs []string) (SessionStart, error) {
	start := time.Now()
	out, err := g.startSession(ctx, scenarioID, partyIDs)
	if g.metrics != nil {
		g.metrics.RecordCommand("start_session", time.Since(start), err)
	}
	return out, err
}

func (g *GameService) startSession(ctx context.Context, scenarioID string, partyIDs []string) (SessionStart, error) {
	sc, ok := g.scenarios[scenarioID]
	if !ok {
		return SessionStart{}, apperrors.NewNotFoundError(fmt.Sprintf("scenario %q not found", scenarioID), nil)
	}
	if len(partyIDs) == 0 {
		return SessionStart{}, apperrors.NewInvalidInputError("party must contain at least one character", nil)
	}

	g.mu.Lock()
	party := make([]*models.Character, 0, len(partyIDs))
	seen := make(map[string]bool, len(partyIDs))
	for _, id := range partyIDs {
		c, ok := g.characters[id]
		if !ok {
			g.mu.Unlock()
			return SessionStart{}, apperrors.NewNotFoundError(fmt.Sprintf("character %q not found", id), nil)
		}
		if seen[id] {
			g.mu.Unlock()
			return SessionStart{}, apperrors.NewInvalidInputError(fmt.Sprintf("character %q listed twice", id), nil)
		}
		seen[id] = true
		party = append(party, c.Clone())
	}
	// claimed characters leave the pool so no other session can take them,
	// and go back to it if the session cannot be built
	claimed := make(map[string]*models.Character, len(partyIDs))
	for _, id := range partyIDs {
		claimed[id] = g.characters[id]
		delete(g.characters, id)
	}
	g.mu.Unlock()
	built := false
	defer func() {
		if built {
			return
		}
		g.mu.Lock()
		for id, c := range claimed {
			g.characters[id] = c
		}
		g.mu.Unlock()
	}()

	seed, err := g.newSeed()
	if err != nil {
		return SessionStart{}, apperrors.NewInvariantError("seed rng", err)
	}
	now := g.now()
	sess := &GameSession{
		ID:         "session_" + uuid.NewString(),
		ScenarioID: sc.ID,
		Party:      party,
		Story:      NewStoryEngine(g.logger),
		CreatedAt:  now,
		LastActive: now,
		moral:      models.NewPlayerMoralState(),
		rng:        dice.NewStream(seed),
	}
	if err := sess.Story.LoadScenario(sc); err != nil {
		return SessionStart{}, err
	}
	sess.NPCs = NewNPCEngine(sc, sess.rng, &sess.moral, g.logger)
	if err := sess.NPCs.LoadScenarioNPCs(); err != nil {
		return SessionStart{}, err
	}
	sess.Story.Context().NPCTrust = sess.NPCs.NPCTrust()

	scene, err := sess.Story.CurrentNode()
	if err != nil {
		return SessionStart{}, err
	}

	built = true
	g.mu.Lock()
	g.sessions[sess.ID] = sess
	active := len(g.sessions)
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.SetActiveSessions(active)
	}

	g.logger.Info("session started", map[string]interface{}{
		"session_id":  sess.ID,
		"scenario_id": sc.ID,
		"party":       partyIDs,
	})

	narration := g.narrator.NarrateScene(ctx, scene, sess.Leader())
	_ = g.locks.ExecuteWithSessionLock(sess.ID, func() error {
		g.autosave(ctx, sess)
		return nil
	})
	g.publish(sess.ID, EventScene, scene.Title, scene)
	return SessionStart{SessionID: sess.ID, Scene: scene, Narration: narration}, nil
}

// SessionView is the read model returned by SessionState.
type SessionView struct {
	SessionID        string                  `json:"session_id"`
	ScenarioID       string                  `json:"scenario_id"`
	CurrentNode      Scene                   `json:"current_node"`
	Character        *models.Character       `json:"character"`
	Party            []*models.Character     `json:"party"`
	Combat           *models.CombatSession   `json:"combat,omitempty"`
	NPCs             []models.NPCPublicView  `json:"npc_public_views"`
	Moral            models.PlayerMoralState `json:"moral"`
	Summary          StorySummary            `json:"summary"`
	BetrayalWarnings []BetrayalWarning       `json:"betrayal_warnings"`
	PlotTwistHints   []PlotTwistHint         `json:"plot_twist_hints"`
	ReadOnly         bool                    `json:"read_only"`
	Commands         int                     `json:"commands"`
}

// SessionState returns a copy of everything a client may see.
func (g *GameService) SessionState(ctx context.Context, sessionID string) (SessionView, error) {
	var view SessionView
	_, err := g.run(ctx, sessionID, "session_state", false, func(sess *GameSession) error {
		scene, err := sess.Story.CurrentNode()
		if err != nil {
			return err
		}
		party := make([]*models.Character, len(sess.Party))
		for i, c := range sess.Party {
			party[i] = c.Clone()
		}
		storyCtx := sess.Story.Context().Clone()
		view = SessionView{
			SessionID:        sess.ID,
			ScenarioID:       sess.ScenarioID,
			CurrentNode:      scene,
			Party:            party,
			NPCs:             sess.NPCs.PublicViews(),
			Moral:            sess.moral.Clone(),
			Summary:          sess.Story.ActiveSummary(),
			BetrayalWarnings: sess.NPCs.BetrayalWarnings(storyCtx),
			PlotTwistHints:   sess.NPCs.PlotTwistHints(storyCtx),
			ReadOnly:         sess.ReadOnly,
			Commands:         sess.Commands,
		}
		if len(party) > 0 {
			view.Character = party[0]
		}
		if sess.CombatID != "" {
			if cs, err := g.combat.CurrentState(sess.CombatID); err == nil {
				view.Combat = cs
			}
		}
		return nil
	})
	return view, err
}

// ChoiceOutcome is returned by ApplyChoice.
type ChoiceOutcome struct {
	ChoiceResult
	Narration Narration `json:"narration"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// ApplyChoice advances the story for the session leader.
func (g *GameService) ApplyChoice(ctx context.Context, sessionID string, index int) (ChoiceOutcome, error) {
	var out ChoiceOutcome
	warnings, err := g.run(ctx, sessionID, "apply_choice", true, func(sess *GameSession) error {
		if sess.CombatID != "" {
			return apperrors.NewPreconditionError(apperrors.CodeCombatActive, "finish the current combat first")
		}
		res, err := sess.Story.ApplyChoice(index, g.chars, sess.Leader(), &sess.moral, sess.NPCs)
		if err != nil {
			return err
		}
		out.ChoiceResult = res
		for _, ev := range res.Events {
			if g.metrics != nil {
				g.metrics.RecordTriggerEvent(string(ev.Kind))
			}
			g.publish(sess.ID, EventTrigger, ev.Alert(), ev)
		}
		out.Narration = g.narrator.NarrateScene(ctx, res.Scene, sess.Leader())
		g.publish(sess.ID, EventScene, res.Scene.Title, res.Scene)
		return nil
	})
	out.Warnings = warnings
	return out, err
}

// StartCombat spawns a fight for the session party. With no enemy ids the
// current node's encounter is used.
func (g *GameService) StartCombat(ctx context.Context, sessionID string, enemyIDs []string) (*models.CombatSession, []string, error) {
	var cs *models.CombatSession
	warnings, err := g.run(ctx, sessionID, "start_combat", true, func(sess *GameSession) error {
		if sess.CombatID != "" {
			return apperrors.NewPreconditionError(apperrors.CodeCombatActive, fmt.Sprintf("combat %s is already running", sess.CombatID))
		}
		ids := enemyIDs
		if len(ids) == 0 {
			scene, err := sess.Story.CurrentNode()
			if err != nil {
				return err
			}
			ids = scene.Encounter
		}
		alive := make([]*models.Character, 0, len(sess.Party))
		for _, c := range sess.Party {
			if c.Stats.HP > 0 {
				alive = append(alive, c)
			}
		}
		if len(alive) == 0 {
			return apperrors.NewPreconditionError(apperrors.CodePreconditionFailed, "no party member can fight")
		}
		started, err := g.combat.StartCombat(sess.rng, alive, ids)
		if err != nil {
			return err
		}
		sess.CombatID = started.ID
		g.mu.Lock()
		g.combats[started.ID] = sess.ID
		g.mu.Unlock()
		g.publish(sess.ID, EventCombat, "combat started", started)

		// enemies that won initiative act before the first player turn
		if _, err := g.enemyTurns(started.ID, started.State); err != nil {
			return err
		}
		cs, err = g.combat.CurrentState(started.ID)
		if err != nil {
			return err
		}
		if cs.State.Finished() {
			if _, _, err := g.finishCombat(sess, cs, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		cs = nil
	}
	return cs, warnings, err
}

func (g *GameService) dropCombat(combatID string) {
	_, _ = g.combat.EndCombat(combatID)
	g.mu.Lock()
	delete(g.combats, combatID)
	g.mu.Unlock()
}

func (g *GameService) combatSession(combatID string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sessionID, ok := g.combats[combatID]
	if !ok {
		return "", apperrors.WrapError(apperrors.ErrUnknownSession, fmt.Sprintf("combat %q", combatID), apperrors.ErrorTypeNotFound)
	}
	return sessionID, nil
}

// CombatActions lists the legal actions of the current actor.
func (g *GameService) CombatActions(ctx context.Context, combatID string) (AvailableActions, error) {
	sessionID, err := g.combatSession(combatID)
	if err != nil {
		return AvailableActions{}, err
	}
	var out AvailableActions
	_, err = g.run(ctx, sessionID, "combat_actions", false, func(sess *GameSession) error {
		cs, err := g.combat.CurrentState(combatID)
		if err != nil {
			return err
		}
		var carried []string
		if actor := sess.member(cs.CurrentActor()); actor != nil {
			for _, it := range actor.Inventory {
				carried = append(carried, it.Name)
			}
		}
		out, err = g.combat.AvailableActions(combatID, carried)
		return err
	})
	return out, err
}

// CombatTurn is returned by CombatAction.
type CombatTurn struct {
	CombatID  string                  `json:"combat_id"`
	Player    ActionResult            `json:"player"`
	Enemy     []ActionResult          `json:"enemy_turns,omitempty"`
	LogTail   []models.CombatLogEntry `json:"log_tail"`
	State     models.CombatState      `json:"state"`
	Alive     []string                `json:"alive"`
	Escaped   bool                    `json:"escaped"`
	Outcome   string                  `json:"outcome,omitempty"`
	XPAwarded int                     `json:"xp_awarded,omitempty"`
	Narration *Narration              `json:"narration,omitempty"`
	Warnings  []string                `json:"warnings,omitempty"`
}

// CombatAction resolves a player action, then every enemy turn up to the
// next player turn or the end of the fight.
func (g *GameService) CombatAction(ctx context.Context, combatID string, action models.CombatAction) (CombatTurn, error) {
	sessionID, err := g.combatSession(combatID)
	if err != nil {
		return CombatTurn{}, err
	}
	out := CombatTurn{CombatID: combatID}
	warnings, err := g.run(ctx, sessionID, "combat_action", true, func(sess *GameSession) error {
		if sess.CombatID != combatID {
			return apperrors.ErrUnknownSession
		}
		before, err := g.combat.CurrentState(combatID)
		if err != nil {
			return err
		}
		if action.ActorID == "" {
			action.ActorID = before.CurrentActor()
		}
		if e, ok := before.Entities[action.ActorID]; ok && !e.IsPlayer {
			return apperrors.WrapError(apperrors.ErrInvalidAction, "enemy turns are resolved automatically", apperrors.ErrorTypeInvalidInput)
		}

		actor := sess.member(action.ActorID)
		itemIndex := -1
		if action.Type == models.ActionItem && actor != nil {
			itemIndex = actor.FindItem(action.ItemName)
			if itemIndex < 0 {
				return apperrors.NewInvalidInputError(fmt.Sprintf("%s carries no %q", actor.Name, action.ItemName), nil)
			}
		}

		res, err := g.combat.PerformAction(combatID, action)
		if err != nil {
			return err
		}
		out.Player = res
		if itemIndex >= 0 {
			actor.Inventory = append(actor.Inventory[:itemIndex], actor.Inventory[itemIndex+1:]...)
		}
		if res.Escaped && actor != nil {
			g.chars.SetHP(actor, before.Entities[actor.ID].HP)
		}

		out.Enemy, err = g.enemyTurns(combatID, res.State)
		if err != nil {
			return err
		}

		cs, err := g.combat.CurrentState(combatID)
		if err != nil {
			return err
		}
		out.State = cs.State
		out.Alive = cs.AliveIDs()
		out.LogTail = cs.Tail(combatLogTail)
		out.Escaped = res.Escaped
		g.publish(sess.ID, EventCombat, res.Entry.Message, out.LogTail)

		if cs.State.Finished() {
			outcome, xp, err := g.finishCombat(sess, cs, res.Escaped)
			if err != nil {
				return err
			}
			out.Outcome = outcome
			out.XPAwarded = xp
			n := g.narrator.NarrateCombat(ctx, outcome, out.LogTail, gamedata.FallbackCombatSummary(outcome))
			out.Narration = &n
			g.publish(sess.ID, EventCombat, "combat "+outcome, map[string]interface{}{"outcome": outcome, "xp": xp})
		}
		return nil
	})
	out.Warnings = warnings
	return out, err
}

// enemyTurns resolves enemy moves until a player is due or the fight ends.
func (g *GameService) enemyTurns(combatID string, state models.CombatState) ([]ActionResult, error) {
	var out []ActionResult
	for i := 0; state == models.CombatStateEnemyTurn && i < maxEnemyTurns; i++ {
		move, err := g.combat.EnemyAction(combatID)
		if err != nil {
			return out, err
		}
		res, err := g.combat.PerformAction(combatID, move)
		if err != nil {
			return out, err
		}
		out = append(out, res)
		state = res.State
	}
	return out, nil
}

// finishCombat writes hp back, awards xp on victory and retires the
// resolver session.
func (g *GameService) finishCombat(sess *GameSession, cs *models.CombatSession, escaped bool) (string, int, error) {
	outcome := cs.State.String()
	if escaped && cs.State != models.CombatStateVictory {
		outcome = "escaped"
	}
	for _, c := range sess.Party {
		if e, ok := cs.Entities[c.ID]; ok {
			g.chars.SetHP(c, e.HP)
		}
	}

	xp := 0
	if cs.State == models.CombatStateVictory {
		for _, id := range cs.Slain {
			if e, ok := cs.Entities[id]; ok && !e.IsPlayer {
				xp += e.XPReward
			}
		}
		if xp > 0 {
			for _, c := range sess.Party {
				if e, ok := cs.Entities[c.ID]; !ok || !e.IsAlive {
					continue
				}
				if _, err := g.chars.AwardXP(c, xp); err != nil {
					return outcome, 0, err
				}
			}
		}
	}

	if _, err := g.combat.EndCombat(cs.ID); err != nil {
		return outcome, xp, err
	}
	g.mu.Lock()
	delete(g.combats, cs.ID)
	g.mu.Unlock()
	sess.CombatID = ""

	g.logger.Info("combat resolved", map[string]interface{}{
		"session_id": sess.ID,
		"combat_id":  cs.ID,
		"outcome":    outcome,
		"xp":         xp,
	})
	return outcome, xp, nil
}

// NPCInteraction is returned by NPCInteract.
type NPCInteraction struct {
	InteractionResult
	Narration Narration `json:"narration"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// NPCInteract applies a player action toward an NPC and voices the reply.
func (g *GameService) NPCInteract(ctx context.Context, sessionID, npcID, label string) (NPCInteraction, error) {
	var out NPCInteraction
	warnings, err := g.run(ctx, sessionID, "npc_interact", true, func(sess *GameSession) error {
		res, err := sess.NPCs.Interact(npcID, label)
		if err != nil {
			return err
		}
		leader := sess.Leader()
		leader.Alignment = sess.moral.Alignment
		out.InteractionResult = res
		out.Narration = g.narrator.NarrateDialogue(ctx, res.View, label, res.Dialogue)
		g.publish(sess.ID, EventNPC, out.Narration.Text, res.View)
		return nil
	})
	out.Warnings = warnings
	return out, err
}

// DecisionResult is returned by RecordDecision.
type DecisionResult struct {
	DecisionOutcome
	Warnings []string `json:"warnings,omitempty"`
}

// RecordDecision records a moral decision and runs the trigger check.
func (g *GameService) RecordDecision(ctx context.Context, sessionID string, d models.Decision) (DecisionResult, error) {
	var out DecisionResult
	warnings, err := g.run(ctx, sessionID, "record_decision", true, func(sess *GameSession) error {
		res, err := sess.NPCs.RecordDecision(d, sess.Story.Context())
		if err != nil {
			return err
		}
		sess.Leader().Alignment = sess.moral.Alignment
		sess.Story.AppendEvents(res.Events)
		for _, ev := range res.Events {
			if g.metrics != nil {
				g.metrics.RecordTriggerEvent(string(ev.Kind))
			}
			g.publish(sess.ID, EventTrigger, ev.Alert(), ev)
		}
		out.DecisionOutcome = res
		return nil
	})
	out.Warnings = warnings
	return out, err
}

// QueryRelationship returns the standing and ledger of one NPC.
func (g *GameService) QueryRelationship(ctx context.Context, sessionID, npcID string) (RelationshipStatus, error) {
	var out RelationshipStatus
	_, err := g.run(ctx, sessionID, "query_relationship", false, func(sess *GameSession) error {
		var err error
		out, err = sess.NPCs.QueryRelationship(npcID)
		return err
	})
	return out, err
}

// HelpOutcome is returned by AskForHelp.
type HelpOutcome struct {
	HelpResult
	Applied  bool     `json:"applied"`
	Warnings []string `json:"warnings,omitempty"`
}

// AskForHelp asks an NPC to join the current fight; accepted help is applied
// to the leader's combat entity.
func (g *GameService) AskForHelp(ctx context.Context, sessionID, npcID string) (HelpOutcome, error) {
	var out HelpOutcome
	warnings, err := g.run(ctx, sessionID, "ask_for_help", true, func(sess *GameSession) error {
		res, err := sess.NPCs.AskForCombatHelp(npcID)
		if err != nil {
			return err
		}
		out.HelpResult = res
		if res.WillHelp && sess.CombatID != "" {
			view, _ := sess.NPCs.PublicView(npcID)
			if err := g.combat.ApplyAssistance(sess.CombatID, sess.Leader().ID, res.Assistance, view.Name); err != nil {
				return err
			}
			out.Applied = true
		}
		g.publish(sess.ID, EventNPC, "help requested", out)
		return nil
	})
	out.Warnings = warnings
	return out, err
}

// ItemOutcome is returned by AskForItem.
type ItemOutcome struct {
	ItemResult
	Warnings []string `json:"warnings,omitempty"`
}

// AskForItem asks an NPC for an offered item; a granted item joins the
// leader's inventory.
func (g *GameService) AskForItem(ctx context.Context, sessionID, npcID, itemName string) (ItemOutcome, error) {
	var out ItemOutcome
	warnings, err := g.run(ctx, sessionID, "ask_for_item", true, func(sess *GameSession) error {
		res, err := sess.NPCs.AskForItem(npcID, itemName)
		if err != nil {
			return err
		}
		if res.Granted && res.Item != nil {
			if err := g.chars.AddItem(sess.Leader(), *res.Item); err != nil {
				return err
			}
		}
		out.ItemResult = res
		return nil
	})
	out.Warnings = warnings
	return out, err
}

// UseItem consumes an inventory item outside combat.
func (g *GameService) UseItem(ctx context.Context, sessionID string, index int) (UseResult, []string, error) {
	var out UseResult
	warnings, err := g.run(ctx, sessionID, "use_item", true, func(sess *GameSession) error {
		if sess.CombatID != "" {
			return apperrors.NewPreconditionError(apperrors.CodeCombatActive, "use combat item actions during a fight")
		}
		var err error
		out, err = g.chars.UseItem(sess.Leader(), index)
		return err
	})
	return out, warnings, err
}

func (g *GameService) snapshot(sess *GameSession) (*models.SaveSnapshot, error) {
	rng, err := sess.rng.State()
	if err != nil {
		return nil, apperrors.NewPersistenceError("capture rng", err)
	}
	story := sess.Story.State()
	npcs := sess.NPCs.State()

	snap := &models.SaveSnapshot{
		Characters: make([]*models.Character, len(sess.Party)),
		GameState: models.GameStateSummary{
			ScenarioID:  story.ScenarioID,
			CurrentNode: story.CurrentNode,
			Complete:    story.Complete,
			Commands:    sess.Commands,
		},
		Campaign: models.CampaignProgress{
			VisitedNodes: story.Visited,
			Decisions:    npcs.Decisions,
			Context:      story.Context,
			Events:       story.Events,
		},
		NPCs:          npcs.NPCs,
		Ledgers:       npcs.Ledgers,
		SkillProgress: make(map[string][]string, len(sess.Party)),
		Moral:         sess.moral.Clone(),
		Inventory:     []models.Item{},
		Quests:        story.Quests,
		RNG:           rng,
		Metadata: map[string]string{
			"created_at": sess.CreatedAt.Format(time.RFC3339),
		},
	}
	for i, c := range sess.Party {
		snap.Characters[i] = c.Clone()
		snap.SkillProgress[c.ID] = c.UnlockedSkills()
	}
	if leader := sess.Leader(); leader != nil {
		snap.Inventory = append(snap.Inventory, leader.Inventory...)
	}
	if sess.CombatID != "" {
		cs, err := g.combat.CurrentState(sess.CombatID)
		if err != nil {
			return nil, apperrors.NewPersistenceError("capture combat", err)
		}
		snap.Combat = cs
	}
	return snap, nil
}

// Save writes a manual snapshot of the session.
func (g *GameService) Save(ctx context.Context, sessionID string) (string, error) {
	var saveID string
	_, err := g.run(ctx, sessionID, "save", false, func(sess *GameSession) error {
		// a read-only session failed its invariants and must not be persisted
		if sess.ReadOnly {
			return apperrors.WrapError(apperrors.ErrSessionReadOnly, sess.ReadOnlyReason, apperrors.ErrorTypeInvariant)
		}
		snap, err := g.snapshot(sess)
		if err != nil {
			return err
		}
		saveID, err = g.saves.Save(ctx, sess.ID, snap)
		if err != nil {
			return err
		}
		g.publish(sess.ID, EventSave, saveID, nil)
		return nil
	})
	return saveID, err
}

// Load rebuilds a session from a snapshot under the snapshot's session id,
// replacing any live session with that id. A read-only session becomes
// writable again this way.
func (g *GameService) Load(ctx context.Context, saveID string) (string, error) {
	start := time.Now()
	sessionID, err := g.load(ctx, saveID)
	if g.metrics != nil {
		g.metrics.RecordCommand("load", time.Since(start), err)
	}
	return sessionID, err
}

func (g *GameService) load(ctx context.Context, saveID string) (string, error) {
	snap, err := g.saves.Load(ctx, saveID)
	if err != nil {
		return "", err
	}
	sess, err := g.restore(snap)
	if err != nil {
		return "", err
	}

	err = g.locks.ExecuteWithSessionLock(sess.ID, func() error {
		if snap.Combat != nil {
			if err := g.combat.Restore(snap.Combat, sess.rng); err != nil {
				return err
			}
		}
		g.mu.Lock()
		old, exists := g.sessions[sess.ID]
		g.sessions[sess.ID] = sess
		if exists && old.CombatID != "" {
			delete(g.combats, old.CombatID)
		}
		if sess.CombatID != "" {
			g.combats[sess.CombatID] = sess.ID
		}
		active := len(g.sessions)
		g.mu.Unlock()

		if exists && old.CombatID != "" && old.CombatID != sess.CombatID {
			_, _ = g.combat.EndCombat(old.CombatID)
		}
		if g.metrics != nil {
			g.metrics.SetActiveSessions(active)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	g.logger.Info("session loaded", map[string]interface{}{
		"session_id": sess.ID,
		"save_id":    saveID,
	})
	g.publish(sess.ID, EventSave, "loaded "+saveID, nil)
	return sess.ID, nil
}

func (g *GameService) restore(snap *models.SaveSnapshot) (*GameSession, error) {
	sc, ok := g.scenarios[snap.GameState.ScenarioID]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("scenario %q not found", snap.GameState.ScenarioID), nil)
	}
	if len(snap.Characters) == 0 {
		return nil, apperrors.NewPersistenceError(fmt.Sprintf("snapshot %s has no characters", snap.SaveID), nil)
	}
	rng, err := dice.RestoreStream(snap.RNG)
	if err != nil {
		return nil, apperrors.NewPersistenceError("restore rng", err)
	}

	now := g.now()
	sess := &GameSession{
		ID:         snap.SessionID,
		ScenarioID: sc.ID,
		Party:      make([]*models.Character, len(snap.Characters)),
		Story:      NewStoryEngine(g.logger),
		Commands:   snap.GameState.Commands,
		CreatedAt:  now,
		LastActive: now,
		moral:      snap.Moral.Clone(),
		rng:        rng,
	}
	if ts, err := time.Parse(time.RFC3339, snap.Metadata["created_at"]); err == nil {
		sess.CreatedAt = ts
	}
	for i, c := range snap.Characters {
		if c == nil {
			return nil, apperrors.NewPersistenceError(fmt.Sprintf("snapshot %s has an empty character slot", snap.SaveID), nil)
		}
		sess.Party[i] = c.Clone()
	}

	err = sess.Story.Restore(sc, StoryState{
		ScenarioID:  sc.ID,
		CurrentNode: snap.GameState.CurrentNode,
		Visited:     snap.Campaign.VisitedNodes,
		Complete:    snap.GameState.Complete,
		Context:     snap.Campaign.Context,
		Events:      snap.Campaign.Events,
		Quests:      snap.Quests,
	})
	if err != nil {
		return nil, err
	}
	sess.NPCs = NewNPCEngine(sc, sess.rng, &sess.moral, g.logger)
	sess.NPCs.Restore(NPCState{
		NPCs:      snap.NPCs,
		Ledgers:   snap.Ledgers,
		Decisions: snap.Campaign.Decisions,
	})
	for _, c := range sess.Party {
		if err := g.chars.CheckInvariants(c); err != nil {
			return nil, apperrors.NewPersistenceError(fmt.Sprintf("snapshot %s is inconsistent", snap.SaveID), err)
		}
	}
	if err := sess.NPCs.CheckInvariants(); err != nil {
		return nil, apperrors.NewPersistenceError(fmt.Sprintf("snapshot %s is inconsistent", snap.SaveID), err)
	}
	if snap.Combat != nil {
		if err := CheckCombatInvariants(snap.Combat); err != nil {
			return nil, apperrors.NewPersistenceError(fmt.Sprintf("snapshot %s has a broken combat", snap.SaveID), err)
		}
		sess.CombatID = snap.Combat.ID
	}
	return sess, nil
}

// ListSaves lists snapshots newest first.
func (g *GameService) ListSaves(ctx context.Context, filter models.SaveFilter) ([]models.SaveDescriptor, error) {
	return g.saves.List(ctx, filter)
}

// DeleteSave removes a snapshot.
func (g *GameService) DeleteSave(ctx context.Context, saveID string) error {
	return g.saves.Delete(ctx, saveID)
}

// EndSession autosaves and evicts a session.
func (g *GameService) EndSession(ctx context.Context, sessionID string) error {
	err := g.locks.ExecuteWithSessionLock(sessionID, func() error {
		sess, err := g.session(sessionID)
		if err != nil {
			return err
		}
		if !sess.ReadOnly {
			g.autosave(ctx, sess)
		}
		g.evict(sess)
		return nil
	})
	if err == nil {
		g.locks.Forget(sessionID)
	}
	return err
}

func (g *GameService) evict(sess *GameSession) {
	g.mu.Lock()
	delete(g.sessions, sess.ID)
	if sess.CombatID != "" {
		delete(g.combats, sess.CombatID)
	}
	active := len(g.sessions)
	g.mu.Unlock()
	if sess.CombatID != "" {
		_, _ = g.combat.EndCombat(sess.CombatID)
	}
	g.events.CloseSession(sess.ID)
	if g.metrics != nil {
		g.metrics.SetActiveSessions(active)
	}
	g.logger.Info("session evicted", map[string]interface{}{"session_id": sess.ID})
}

// CleanupIdleSessions autosaves and evicts sessions idle past the timeout.
func (g *GameService) CleanupIdleSessions(ctx context.Context) int {
	cutoff := g.now().Add(-g.idleTimeout)
	g.mu.RLock()
	var idle []string
	for id, sess := range g.sessions {
		if sess.LastActive.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	g.mu.RUnlock()

	removed := 0
	for _, id := range idle {
		err := g.locks.ExecuteWithSessionLock(id, func() error {
			sess, err := g.session(id)
			if err != nil || !sess.LastActive.Before(cutoff) {
				return err
			}
			if !sess.ReadOnly {
				g.autosave(ctx, sess)
			}
			g.evict(sess)
			removed++
			return nil
		})
		if err == nil {
			g.locks.Forget(id)
		}
	}
	g.locks.CleanupUnusedLocks()
	return removed
}

// RunJanitor evicts idle sessions every interval until ctx is done.
func (g *GameService) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := g.CleanupIdleSessions(ctx); n > 0 {
				g.logger.Info("idle sessions evicted", map[string]interface{}{"count": n})
			}
		}
	}
}

// Shutdown autosaves every live session.
func (g *GameService) Shutdown(ctx context.Context) {
	g.mu.RLock()
	ids := make([]string, 0, len(g.sessions))
	for id := range g.sessions {
		ids = append(ids, id)
	}
	g.mu.RUnlock()
	for _, id := range ids {
		_ = g.locks.ExecuteWithSessionLock(id, func() error {
			if sess, err := g.session(id); err == nil && !sess.ReadOnly {
				g.autosave(ctx, sess)
			}
			return nil
		})
	}
}
