// internal/services/story_service.go
package services

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/gamedata"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

// Story steps appended after the effect steps of a choice.
const (
	StepContext    = "context"
	StepTriggers   = "triggers"
	StepTransition = "transition"
)

// maxStoryEvents bounds the trigger events kept in campaign progress.
const maxStoryEvents = 50

// StoryHooks is what a choice needs from the NPC side of the session.
type StoryHooks interface {
	RelationshipAdjuster
	CheckTriggers(ctx *models.StoryContext) []models.TriggerEvent
	RecordDecision(d models.Decision, ctx *models.StoryContext) (DecisionOutcome, error)
}

// StoryEngine walks one scenario graph for one session.
type StoryEngine struct {
	scenario *models.Scenario
	current  string
	visited  []string
	complete bool
	context  models.StoryContext
	events   []models.TriggerEvent
	quests   map[string]*models.QuestProgress
	logger   *utils.Logger
}

// SceneChoice is a choice as shown to the player.
type SceneChoice struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Terminal bool   `json:"terminal,omitempty"`
}

// Scene is the outgoing view of a node.
type Scene struct {
	ScenarioID  string                `json:"scenario_id"`
	NodeID      string                `json:"node_id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Location    string                `json:"location,omitempty"`
	Choices     []SceneChoice         `json:"choices"`
	Encounter   []string              `json:"encounter,omitempty"`
	Complete    bool                  `json:"complete"`
	Events      []models.TriggerEvent `json:"events,omitempty"`
}

// ChoiceResult is returned by ApplyChoice.
type ChoiceResult struct {
	Scene           Scene                  `json:"new_node"`
	Effects         EffectReport           `json:"effects_applied"`
	Steps           []string               `json:"steps"`
	Events          []models.TriggerEvent  `json:"events"`
	QuestsCompleted []models.QuestProgress `json:"quests_completed,omitempty"`
}

// StorySummary is returned by ActiveSummary.
type StorySummary struct {
	ScenarioID   string                 `json:"scenario_id"`
	Title        string                 `json:"title"`
	Theme        string                 `json:"theme"`
	CurrentNode  string                 `json:"current_node"`
	NodeTitle    string                 `json:"node_title"`
	VisitedNodes int                    `json:"visited_nodes"`
	TotalNodes   int                    `json:"total_nodes"`
	Complete     bool                   `json:"complete"`
	Context      models.StoryContext    `json:"context"`
	Quests       []models.QuestProgress `json:"quests"`
	LastEvents   []models.TriggerEvent  `json:"last_events"`
}

// StoryState is the serializable part of the engine.
type StoryState struct {
	ScenarioID  string
	CurrentNode string
	Visited     []string
	Complete    bool
	Context     models.StoryContext
	Events      []models.TriggerEvent
	Quests      []models.QuestProgress
}

func NewStoryEngine(logger *utils.Logger) *StoryEngine {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &StoryEngine{logger: logger}
}

// LoadScenario validates sc and positions the engine at its start node.
// A graph with unresolved targets is rejected here, never mid-play.
func (s *StoryEngine) LoadScenario(sc *models.Scenario) error {
	if sc == nil {
		return apperrors.NewInvalidInputError("scenario is required", nil)
	}
	if err := gamedata.ValidateScenario(sc); err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeInvariant, "scenario rejected", err).
			WithCode(apperrors.CodeUnresolvedNextNode)
	}

	s.scenario = sc
	s.current = models.StartNodeID
	s.visited = []string{models.StartNodeID}
	s.complete = false
	s.context = models.NewStoryContext()
	s.events = []models.TriggerEvent{}
	s.quests = make(map[string]*models.QuestProgress, len(sc.QuestChains))
	for id, q := range sc.QuestChains {
		s.quests[id] = &models.QuestProgress{QuestID: id, Title: q.Title, Total: len(q.Steps)}
	}
	if loc := sc.StoryNodes[models.StartNodeID].Location; loc != "" {
		s.context.Location = loc
	}
	s.refreshQuests()

	s.logger.Info("scenario loaded", map[string]interface{}{
		"scenario_id": sc.ID,
		"nodes":       len(sc.StoryNodes),
	})
	return nil
}

// Scenario returns the loaded graph.
func (s *StoryEngine) Scenario() *models.Scenario {
	return s.scenario
}

// Context exposes the live story context.
func (s *StoryEngine) Context() *models.StoryContext {
	return &s.context
}

// CurrentNodeID returns the id of the current node.
func (s *StoryEngine) CurrentNodeID() string {
	return s.current
}

// Complete reports whether a terminal choice was taken.
func (s *StoryEngine) Complete() bool {
	return s.complete
}

// CurrentNode renders the current node.
func (s *StoryEngine) CurrentNode() (Scene, error) {
	if s.scenario == nil {
		return Scene{}, apperrors.NewPreconditionError(apperrors.CodePreconditionFailed, "no scenario loaded")
	}
	node, ok := s.scenario.StoryNodes[s.current]
	if !ok {
		return Scene{}, apperrors.NewInvariantError(fmt.Sprintf("current node %q missing from scenario %s", s.current, s.scenario.ID), nil).
			WithCode(apperrors.CodeUnresolvedNextNode)
	}
	return s.render(s.current, node, nil), nil
}

func (s *StoryEngine) render(id string, node *models.StoryNode, events []models.TriggerEvent) Scene {
	scene := Scene{
		ScenarioID:  s.scenario.ID,
		NodeID:      id,
		Title:       node.Title,
		Description: node.Description,
		Location:    node.Location,
		Choices:     []SceneChoice{},
		Complete:    s.complete,
		Events:      events,
	}
	if !s.complete {
		for i, ch := range node.Choices {
			scene.Choices = append(scene.Choices, SceneChoice{Index: i, Text: ch.Text, Terminal: ch.IsTerminal()})
		}
		scene.Encounter = append([]string{}, node.Encounter...)
	}
	if len(events) > 0 {
		lines := make([]string, 0, len(events)+1)
		lines = append(lines, scene.Description)
		for _, ev := range events {
			lines = append(lines, ev.Alert())
		}
		scene.Description = strings.Join(lines, "\n\n")
	}
	return scene
}

// ApplyChoice runs one choice: effects, story context, triggers, then the
// transition. The returned Steps record that order.
func (s *StoryEngine) ApplyChoice(index int, chars *CharacterService, c *models.Character, moral *models.PlayerMoralState, hooks StoryHooks) (ChoiceResult, error) {
	if s.scenario == nil {
		return ChoiceResult{}, apperrors.NewPreconditionError(apperrors.CodePreconditionFailed, "no scenario loaded")
	}
	if s.complete {
		return ChoiceResult{}, apperrors.NewPreconditionError(apperrors.CodeScenarioComplete, "scenario is complete")
	}
	node, ok := s.scenario.StoryNodes[s.current]
	if !ok {
		return ChoiceResult{}, apperrors.NewInvariantError(fmt.Sprintf("current node %q missing", s.current), nil).
			WithCode(apperrors.CodeUnresolvedNextNode)
	}
	if index < 0 || index >= len(node.Choices) {
		return ChoiceResult{}, apperrors.WrapError(apperrors.ErrUnknownChoice,
			fmt.Sprintf("choice %d on node %s (%d choices)", index, s.current, len(node.Choices)),
			apperrors.ErrorTypePrecondition)
	}
	choice := node.Choices[index]
	if !choice.IsTerminal() {
		if _, ok := s.scenario.StoryNodes[*choice.NextNode]; !ok {
			return ChoiceResult{}, apperrors.NewInvariantError(fmt.Sprintf("choice %d on %s points at missing node %q", index, s.current, *choice.NextNode), nil).
				WithCode(apperrors.CodeUnresolvedNextNode)
		}
	}

	source := fmt.Sprintf("choice:%s/%d", s.current, index)
	report, err := chars.ApplyEffect(c, moral, choice.Effect, hooks, source)
	if err != nil {
		return ChoiceResult{}, err
	}
	res := ChoiceResult{Effects: report, Steps: append([]string{}, report.Steps...)}

	if eff := choice.Effect; eff != nil && eff.HasContextChanges() {
		if eff.Location != "" {
			s.context.Location = eff.Location
		}
		if eff.EmotionalState != "" {
			s.context.EmotionalState = eff.EmotionalState
		}
		if eff.ContextType != "" {
			s.context.ContextType = eff.ContextType
		}
		s.context.PushEvent(eff.Event)
		res.Steps = append(res.Steps, StepContext)
	}

	res.Events = hooks.CheckTriggers(&s.context)
	res.Steps = append(res.Steps, StepTriggers)
	s.AppendEvents(res.Events)

	if choice.IsTerminal() {
		s.complete = true
	} else {
		s.current = *choice.NextNode
		s.visited = append(s.visited, s.current)
		if loc := s.scenario.StoryNodes[s.current].Location; loc != "" {
			s.context.Location = loc
		}
	}
	res.Steps = append(res.Steps, StepTransition)

	for _, q := range s.refreshQuests() {
		chain := s.scenario.QuestChains[q.QuestID]
		if chain.RewardXP > 0 {
			if _, err := chars.AwardXP(c, chain.RewardXP); err != nil {
				return res, err
			}
		}
		if _, err := hooks.RecordDecision(models.Decision{Type: "quest", Choice: "complete_quest"}, nil); err != nil {
			return res, err
		}
		res.QuestsCompleted = append(res.QuestsCompleted, q)
	}

	res.Scene = s.render(s.current, s.scenario.StoryNodes[s.current], res.Events)
	s.logger.Info("choice applied", map[string]interface{}{
		"scenario_id": s.scenario.ID,
		"choice":      index,
		"node":        s.current,
		"complete":    s.complete,
		"events":      len(res.Events),
	})
	return res, nil
}

// AppendEvents adds trigger events raised outside a choice, such as by a
// recorded decision, to the campaign history.
func (s *StoryEngine) AppendEvents(events []models.TriggerEvent) {
	s.events = append(s.events, events...)
	if n := len(s.events); n > maxStoryEvents {
		s.events = append([]models.TriggerEvent{}, s.events[n-maxStoryEvents:]...)
	}
}

// refreshQuests recomputes progress from the visit history and returns the
// quests that just completed. A step counts once every earlier step of the
// chain has been visited before it.
func (s *StoryEngine) refreshQuests() []models.QuestProgress {
	var done []models.QuestProgress
	for _, id := range s.questIDs() {
		q := s.quests[id]
		if q.Done {
			continue
		}
		steps := s.scenario.QuestChains[id].Steps
		completed := 0
		for _, node := range s.visited {
			if completed < len(steps) && node == steps[completed] {
				completed++
			}
		}
		q.Completed = completed
		if completed == len(steps) && len(steps) > 0 {
			q.Done = true
			done = append(done, *q)
		}
	}
	return done
}

func (s *StoryEngine) questIDs() []string {
	ids := make([]string, 0, len(s.quests))
	for id := range s.quests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Quests returns quest progress sorted by id.
func (s *StoryEngine) Quests() []models.QuestProgress {
	out := make([]models.QuestProgress, 0, len(s.quests))
	for _, id := range s.questIDs() {
		out = append(out, *s.quests[id])
	}
	return out
}

// ActiveSummary reports where the session stands in its scenario.
func (s *StoryEngine) ActiveSummary() StorySummary {
	if s.scenario == nil {
		return StorySummary{}
	}
	sum := StorySummary{
		ScenarioID:   s.scenario.ID,
		Title:        s.scenario.Title,
		Theme:        s.scenario.Theme,
		CurrentNode:  s.current,
		VisitedNodes: len(s.visited),
		TotalNodes:   len(s.scenario.StoryNodes),
		Complete:     s.complete,
		Context:      s.context.Clone(),
		Quests:       s.Quests(),
		LastEvents:   []models.TriggerEvent{},
	}
	if node, ok := s.scenario.StoryNodes[s.current]; ok {
		sum.NodeTitle = node.Title
	}
	tail := s.events
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	sum.LastEvents = append(sum.LastEvents, tail...)
	return sum
}

// State exports a copy for snapshots.
func (s *StoryEngine) State() StoryState {
	st := StoryState{
		CurrentNode: s.current,
		Visited:     append([]string{}, s.visited...),
		Complete:    s.complete,
		Context:     s.context.Clone(),
		Events:      append([]models.TriggerEvent{}, s.events...),
		Quests:      s.Quests(),
	}
	if s.scenario != nil {
		st.ScenarioID = s.scenario.ID
	}
	return st
}

// Restore positions the engine on sc using a snapshot copy.
func (s *StoryEngine) Restore(sc *models.Scenario, st StoryState) error {
	if sc == nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("scenario %q not found", st.ScenarioID), nil)
	}
	if _, ok := sc.StoryNodes[st.CurrentNode]; !ok {
		return apperrors.NewInvariantError(fmt.Sprintf("snapshot node %q missing from scenario %s", st.CurrentNode, sc.ID), nil).
			WithCode(apperrors.CodeUnresolvedNextNode)
	}
	s.scenario = sc
	s.current = st.CurrentNode
	s.visited = append([]string{}, st.Visited...)
	s.complete = st.Complete
	s.context = st.Context.Clone()
	if s.context.NPCTrust == nil {
		s.context.NPCTrust = map[string]float64{}
	}
	if s.context.RecentEvents == nil {
		s.context.RecentEvents = []string{}
	}
	s.events = append([]models.TriggerEvent{}, st.Events...)
	s.quests = make(map[string]*models.QuestProgress, len(sc.QuestChains))
	for id, q := range sc.QuestChains {
		s.quests[id] = &models.QuestProgress{QuestID: id, Title: q.Title, Total: len(q.Steps)}
	}
	for _, q := range st.Quests {
		if cur, ok := s.quests[q.QuestID]; ok {
			cp := q
			cur.Completed, cur.Done = cp.Completed, cp.Done
		}
	}
	return nil
}
