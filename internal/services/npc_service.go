// internal/services/npc_service.go
package services

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/Corphon/AIDungeonMaster/internal/dice"
	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/gamedata"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

// Scalar bounds and thresholds.
const (
	minRelationship = -100
	maxRelationship = 100
	minScalar       = 0
	maxScalar       = 100

	trustedByThreshold = 70
	fearedByThreshold  = 70

	friendStanding = 8
	enemyStanding  = -8
)

// NPCEngine maintains NPC relationships, the player's moral state and the
// contextual triggers for one session. It is not safe for concurrent use;
// the session lock serializes access.
type NPCEngine struct {
	scenario  *models.Scenario
	rng       dice.Roller
	moral     *models.PlayerMoralState
	npcs      map[string]*models.NPC
	ledgers   map[string]*models.RelationshipLedger
	decisions []models.DecisionRecord
	fold      cases.Caser
	logger    *utils.Logger
	now       func() time.Time
}

// InteractionResult is returned by Interact.
type InteractionResult struct {
	View           models.NPCPublicView `json:"npc"`
	Action         string               `json:"action"`
	MoralClass     models.MoralClass    `json:"moral_class"`
	Delta          int                  `json:"delta"`
	RevealedSecret string               `json:"revealed_secret,omitempty"`
	UnlockedEvents []models.LedgerEvent `json:"unlocked_events,omitempty"`
	Alignment      models.Alignment     `json:"alignment"`
	Dialogue       string               `json:"dialogue"`
}

// DecisionOutcome is returned by RecordDecision.
type DecisionOutcome struct {
	Record        models.DecisionRecord `json:"record"`
	Relationships map[string]int        `json:"relationships"`
	Events        []models.TriggerEvent `json:"events"`
	Alignment     models.Alignment      `json:"alignment"`
}

// RelationshipStatus is returned by QueryRelationship.
type RelationshipStatus struct {
	NPCID             string                     `json:"npc_id"`
	Name              string                     `json:"name"`
	RelationshipLevel int                        `json:"relationship_level"`
	Standing          int                        `json:"standing"`
	Status            string                     `json:"status"`
	Disposition       string                     `json:"disposition"`
	Ledger            *models.RelationshipLedger `json:"ledger"`
}

// HelpResult is returned by AskForCombatHelp.
type HelpResult struct {
	NPCID       string              `json:"npc_id"`
	WillHelp    bool                `json:"will_help"`
	Probability float64             `json:"probability"`
	Assistance  gamedata.Assistance `json:"assistance_bonuses"`
}

// ItemResult is returned by AskForItem.
type ItemResult struct {
	NPCID     string       `json:"npc_id"`
	Granted   bool         `json:"granted"`
	Item      *models.Item `json:"item,omitempty"`
	Threshold int          `json:"threshold"`
	Reason    string       `json:"reason,omitempty"`
}

// BetrayalWarning flags an NPC likely to turn.
type BetrayalWarning struct {
	NPCID  string  `json:"npc_id"`
	Name   string  `json:"name"`
	Risk   float64 `json:"risk"`
	Reason string  `json:"reason"`
}

// PlotTwistHint points at a likely revelation.
type PlotTwistHint struct {
	Source string  `json:"source"`
	Chance float64 `json:"chance"`
	Hint   string  `json:"hint"`
}

// NPCState is the serializable part of the engine.
type NPCState struct {
	NPCs      map[string]*models.NPC                `json:"npcs"`
	Ledgers   map[string]*models.RelationshipLedger `json:"ledgers"`
	Decisions []models.DecisionRecord               `json:"decisions"`
}

// NewNPCEngine creates the engine for a session. moral is the session's
// player moral state and is updated in place.
func NewNPCEngine(scenario *models.Scenario, rng dice.Roller, moral *models.PlayerMoralState, logger *utils.Logger) *NPCEngine {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &NPCEngine{
		scenario:  scenario,
		rng:       rng,
		moral:     moral,
		npcs:      make(map[string]*models.NPC),
		ledgers:   make(map[string]*models.RelationshipLedger),
		decisions: []models.DecisionRecord{},
		fold:      cases.Fold(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// LoadScenarioNPCs creates every NPC the scenario declares.
func (e *NPCEngine) LoadScenarioNPCs() error {
	if e.scenario == nil {
		return nil
	}
	ids := make([]string, 0, len(e.scenario.NPCRelationships))
	for id := range e.scenario.NPCRelationships {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := e.CreateNPC(id, e.scenario.NPCRelationships[id]); err != nil {
			return err
		}
	}
	return nil
}

// CreateNPC registers an NPC from its declaration and returns its public
// view.
func (e *NPCEngine) CreateNPC(id string, decl models.NPCDeclaration) (models.NPCPublicView, error) {
	if strings.TrimSpace(id) == "" {
		return models.NPCPublicView{}, apperrors.NewInvalidInputError("npc id is required", nil)
	}
	if _, dup := e.npcs[id]; dup {
		return models.NPCPublicView{}, apperrors.NewInvalidInputError(fmt.Sprintf("npc %q already exists", id), nil)
	}
	profile, ok := gamedata.Profile(decl.Personality)
	if !ok {
		return models.NPCPublicView{}, apperrors.NewInvalidInputError(fmt.Sprintf("unknown personality %q", decl.Personality), nil)
	}
	traits := profile.Traits
	if decl.Traits != nil {
		traits = *decl.Traits
	}
	alignment := decl.Alignment
	if alignment == "" {
		alignment = models.MoralNeutral
	}

	npc := &models.NPC{
		ID:               id,
		Name:             decl.Name,
		Role:             decl.Role,
		Description:      decl.Description,
		Personality:      decl.Personality,
		Traits:           traits,
		Alignment:        alignment,
		RelationshipType: decl.RelationshipType,
		TrustLevel:       50,
		RespectLevel:     50,
		Mood:             models.MoodNeutral,
		Secrets:          append([]string{}, decl.Secrets...),
		KnownSecrets:     []string{},
		QuestsOffered:    append([]string{}, decl.QuestsOffered...),
		ItemsOffered:     append([]models.Item{}, decl.ItemsOffered...),
		ItemsGiven:       []string{},
		Relationships:    map[string]string{},
	}
	for k, v := range decl.Relationships {
		npc.Relationships[k] = v
	}
	e.npcs[id] = npc
	e.ledgers[id] = &models.RelationshipLedger{
		NPCID:          id,
		Interactions:   []models.LedgerEntry{},
		UnlockedEvents: []models.LedgerEvent{},
	}
	return e.view(npc), nil
}

func (e *NPCEngine) get(id string) (*models.NPC, error) {
	npc, ok := e.npcs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("npc %q not found", id), nil)
	}
	return npc, nil
}

// Has reports whether the engine knows the NPC.
func (e *NPCEngine) Has(id string) bool {
	_, ok := e.npcs[id]
	return ok
}

// classify folds and splits a free-form action label and returns the moral
// class plus the verbs found.
func (e *NPCEngine) classify(label string) (models.MoralClass, []string) {
	words := strings.FieldsFunc(e.fold.String(label), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if c := gamedata.ClassifyVerb(w); c != models.MoralClassNeutral {
			return c, words
		}
	}
	return models.MoralClassNeutral, words
}

// Interact applies one player action toward an NPC.
func (e *NPCEngine) Interact(npcID, label string) (InteractionResult, error) {
	npc, err := e.get(npcID)
	if err != nil {
		return InteractionResult{}, err
	}
	if strings.TrimSpace(label) == "" {
		return InteractionResult{}, apperrors.NewInvalidInputError("action label is required", nil)
	}

	class, words := e.classify(label)
	profile, _ := gamedata.Profile(npc.Personality)

	delta := gamedata.BaseDelta(class)
	switch class {
	case models.MoralClassGood:
		delta += profile.GoodAdjust
	case models.MoralClassBad:
		delta += profile.BadAdjust
	}
	for _, w := range words {
		if adj, ok := profile.VerbAdjust[w]; ok {
			delta += adj
			break
		}
	}
	if profile.NoiseSpan > 0 {
		delta += profile.NoiseLow + e.rng.IntN(profile.NoiseSpan)
	}
	delta += e.rng.IntN(3) - 1

	karma := 0
	switch class {
	case models.MoralClassGood:
		karma = gamedata.KarmaPerAction
	case models.MoralClassBad:
		karma = -gamedata.KarmaPerAction
	}

	e.moral.Tally(class)
	e.moral.KarmaPoints += karma

	res := InteractionResult{
		Action:     label,
		MoralClass: class,
		Alignment:  e.moral.Alignment,
	}
	res.Delta, res.UnlockedEvents, res.RevealedSecret = e.shift(npc, delta, karma, "interact:"+label)
	res.View = e.view(npc)
	res.Dialogue = gamedata.FallbackDialogue(npc.Name, npc.Mood)

	e.logger.Info("npc interaction", map[string]interface{}{
		"npc_id":      npcID,
		"moral_class": class,
		"delta":       res.Delta,
	})
	return res, nil
}

// AdjustRelationship applies a story-effect delta. It implements
// RelationshipAdjuster.
func (e *NPCEngine) AdjustRelationship(npcID string, delta int, source string) error {
	npc, err := e.get(npcID)
	if err != nil {
		return err
	}
	e.shift(npc, delta, 0, source)
	return nil
}

// shift moves the four scalars, derives the mood, appends the ledger entry
// and refreshes the moral sets. It returns the applied relationship delta.
func (e *NPCEngine) shift(npc *models.NPC, delta, karma int, actionID string) (int, []models.LedgerEvent, string) {
	beforeRel := npc.RelationshipLevel
	beforeTrust := npc.TrustLevel

	npc.RelationshipLevel = clampInt(npc.RelationshipLevel+delta, minRelationship, maxRelationship)
	npc.TrustLevel = clampInt(npc.TrustLevel+delta, minScalar, maxScalar)
	npc.RespectLevel = clampInt(npc.RespectLevel+delta/2, minScalar, maxScalar)
	npc.FearLevel = clampInt(npc.FearLevel-delta/2, minScalar, maxScalar)
	npc.LastDelta = delta
	npc.Mood = moodFor(delta)

	ledger := e.ledgers[npc.ID]
	ledger.Interactions = append(ledger.Interactions, models.LedgerEntry{
		ActionID:          actionID,
		KarmaDelta:        karma,
		RelationshipDelta: npc.RelationshipLevel - beforeRel,
		TrustDelta:        npc.TrustLevel - beforeTrust,
		Timestamp:         e.now(),
	})
	if n := len(ledger.Interactions); n > models.MaxLedgerEntries {
		ledger.Interactions = append([]models.LedgerEntry{}, ledger.Interactions[n-models.MaxLedgerEntries:]...)
	}

	var unlocked []models.LedgerEvent
	standing := npc.RelationshipLevel / 10
	if standing >= friendStanding && !ledger.HasEvent(models.LedgerEventTrustedFriend) {
		ledger.UnlockedEvents = append(ledger.UnlockedEvents, models.LedgerEventTrustedFriend)
		unlocked = append(unlocked, models.LedgerEventTrustedFriend)
	}
	if standing <= enemyStanding && !ledger.HasEvent(models.LedgerEventSwornEnemy) {
		ledger.UnlockedEvents = append(ledger.UnlockedEvents, models.LedgerEventSwornEnemy)
		unlocked = append(unlocked, models.LedgerEventSwornEnemy)
	}

	if npc.TrustLevel >= trustedByThreshold {
		e.moral.TrustedBy = models.AddUnique(e.moral.TrustedBy, npc.ID)
	} else {
		e.moral.TrustedBy = models.RemoveString(e.moral.TrustedBy, npc.ID)
	}
	if npc.FearLevel >= fearedByThreshold {
		e.moral.FearedBy = models.AddUnique(e.moral.FearedBy, npc.ID)
	} else {
		e.moral.FearedBy = models.RemoveString(e.moral.FearedBy, npc.ID)
	}

	// only a warming interaction opens an NPC up
	revealed := ""
	if delta > 0 && float64(npc.TrustLevel) >= npc.Traits.TrustThreshold*100 {
		for _, s := range npc.Secrets {
			if !e.moral.KnowsSecret(s) {
				revealed = s
				npc.KnownSecrets = models.AddUnique(npc.KnownSecrets, s)
				e.moral.KnownSecrets = append(e.moral.KnownSecrets, s)
				break
			}
		}
	}

	return npc.RelationshipLevel - beforeRel, unlocked, revealed
}

func moodFor(delta int) models.Mood {
	switch {
	case delta > 10:
		return models.MoodHappy
	case delta > 5:
		return models.MoodPleased
	case delta < -10:
		return models.MoodAngry
	case delta < -5:
		return models.MoodDisappointed
	default:
		return models.MoodNeutral
	}
}

// RecordDecision writes an immutable decision record, updates the moral
// state and every affected NPC, then runs the trigger check against ctx.
func (e *NPCEngine) RecordDecision(d models.Decision, ctx *models.StoryContext) (DecisionOutcome, error) {
	if strings.TrimSpace(d.Type) == "" || strings.TrimSpace(d.Choice) == "" {
		return DecisionOutcome{}, apperrors.NewInvalidInputError("decision type and choice are required", nil)
	}
	for _, id := range d.AffectedNPCs {
		if _, err := e.get(id); err != nil {
			return DecisionOutcome{}, err
		}
	}

	class := d.MoralImplication
	karma := 0
	base := 0
	if action, ok := gamedata.KarmaAction(d.Choice); ok {
		class = action.Category
		karma = action.Delta
		base = action.Delta
	} else {
		if class == "" {
			class, _ = e.classify(d.Choice)
		}
		switch class {
		case models.MoralClassGood:
			karma = gamedata.KarmaPerAction
		case models.MoralClassBad:
			karma = -gamedata.KarmaPerAction
		}
		base = gamedata.BaseDelta(class)
	}

	e.moral.Tally(class)
	e.moral.KarmaPoints += karma

	rec := models.DecisionRecord{
		Seq:              len(e.decisions) + 1,
		Type:             d.Type,
		Choice:           d.Choice,
		AffectedNPCs:     append([]string{}, d.AffectedNPCs...),
		MoralImplication: class,
		KarmaDelta:       karma,
		Timestamp:        e.now(),
	}
	e.decisions = append(e.decisions, rec)

	out := DecisionOutcome{
		Record:        rec,
		Relationships: map[string]int{},
		Events:        []models.TriggerEvent{},
	}
	weight := gamedata.DecisionWeight(d.Type)
	for _, id := range d.AffectedNPCs {
		npc := e.npcs[id]
		profile, _ := gamedata.Profile(npc.Personality)
		delta := int(math.Round(float64(base) * weight))
		switch class {
		case models.MoralClassGood:
			delta += profile.GoodAdjust
		case models.MoralClassBad:
			delta += profile.BadAdjust
		}
		applied, _, _ := e.shift(npc, delta, karma, "decision:"+d.Choice)
		out.Relationships[id] = applied
	}

	if ctx != nil {
		out.Events = e.CheckTriggers(ctx)
	}
	out.Alignment = e.moral.Alignment

	e.logger.Info("decision recorded", map[string]interface{}{
		"type":      d.Type,
		"choice":    d.Choice,
		"karma":     karma,
		"alignment": e.moral.Alignment,
		"events":    len(out.Events),
	})
	return out, nil
}

type triggerCandidate struct {
	source   string
	npc      *models.NPC
	location string
	spec     models.TriggerSpec
}

func (e *NPCEngine) candidates(ctx *models.StoryContext) []triggerCandidate {
	if e.scenario == nil {
		return nil
	}
	var out []triggerCandidate
	if spec, ok := e.scenario.LocationTrigger(ctx.Location); ok {
		out = append(out, triggerCandidate{source: "location:" + ctx.Location, location: ctx.Location, spec: spec})
	}
	for _, id := range e.sortedIDs() {
		npc := e.npcs[id]
		if spec, ok := e.scenario.RelationshipTrigger(npc.RelationshipType); ok {
			out = append(out, triggerCandidate{source: "npc:" + id, npc: npc, spec: spec})
		}
	}
	return out
}

// scaleChance applies susceptibility, emotional state and recency.
func scaleChance(base, susceptibility float64, ctx *models.StoryContext) float64 {
	c := base * susceptibility
	switch ctx.EmotionalState {
	case models.EmotionVulnerable:
		c *= 1.5
	case models.EmotionConfident:
		c *= 0.7
	}
	if len(ctx.RecentEvents) > 3 {
		c *= 0.8
	}
	return models.Clamp01(c)
}

// CheckTriggers samples betrayal and plot-twist triggers. At most one event
// is emitted per call; the story context is updated for it.
func (e *NPCEngine) CheckTriggers(ctx *models.StoryContext) []models.TriggerEvent {
	for _, cand := range e.candidates(ctx) {
		if chance := scaleChance(cand.spec.BetrayalChance, ctx.BetrayalSusceptibility, ctx); chance > 0 && e.rng.Float64() < chance {
			ev := e.makeEvent(models.TriggerBetrayal, cand, chance)
			ctx.TrustLevel = models.Clamp01(ctx.TrustLevel - 0.3)
			ctx.EmotionalState = models.EmotionDevastated
			ctx.BetrayalSusceptibility = models.Clamp01(ctx.BetrayalSusceptibility + 0.2)
			ctx.PushEvent(string(models.TriggerBetrayal))
			return []models.TriggerEvent{ev}
		}
		if chance := scaleChance(cand.spec.PlotTwistChance, ctx.PlotTwistSusceptibility, ctx); chance > 0 && e.rng.Float64() < chance {
			ev := e.makeEvent(models.TriggerPlotTwist, cand, chance)
			ctx.PlotTwistSusceptibility = models.Clamp01(ctx.PlotTwistSusceptibility + 0.2)
			ctx.EmotionalState = models.EmotionShocked
			ctx.PowerLevel = models.Clamp01(ctx.PowerLevel + 0.1)
			ctx.PushEvent(string(models.TriggerPlotTwist))
			return []models.TriggerEvent{ev}
		}
	}
	return []models.TriggerEvent{}
}

func (e *NPCEngine) makeEvent(kind models.TriggerKind, cand triggerCandidate, chance float64) models.TriggerEvent {
	ev := models.TriggerEvent{
		Kind:     kind,
		Source:   cand.source,
		Location: cand.location,
		Chance:   chance,
	}
	if cand.npc != nil {
		ev.NPCID = cand.npc.ID
	}
	switch {
	case len(cand.spec.Triggers) > 0:
		ev.Description = cand.spec.Triggers[e.rng.IntN(len(cand.spec.Triggers))]
	case kind == models.TriggerBetrayal && cand.npc != nil:
		ev.Description = gamedata.FallbackBetrayal(cand.npc.Name)
	case kind == models.TriggerBetrayal:
		ev.Description = gamedata.FallbackBetrayal("")
	case cand.npc != nil:
		ev.Description = gamedata.FallbackPlotTwist(cand.npc.Name)
	default:
		ev.Description = gamedata.FallbackPlotTwist(strings.ReplaceAll(cand.location, "_", " "))
	}
	return ev
}

// QueryRelationship reports an NPC's standing and ledger.
func (e *NPCEngine) QueryRelationship(npcID string) (RelationshipStatus, error) {
	npc, err := e.get(npcID)
	if err != nil {
		return RelationshipStatus{}, err
	}
	return RelationshipStatus{
		NPCID:             npc.ID,
		Name:              npc.Name,
		RelationshipLevel: npc.RelationshipLevel,
		Standing:          npc.RelationshipLevel / 10,
		Status:            relationshipBucket(npc.RelationshipLevel),
		Disposition:       dispositionBucket(npc),
		Ledger:            e.ledgers[npcID].Clone(),
	}, nil
}

// AskForCombatHelp decides whether the NPC joins a fight.
func (e *NPCEngine) AskForCombatHelp(npcID string) (HelpResult, error) {
	npc, err := e.get(npcID)
	if err != nil {
		return HelpResult{}, err
	}
	profile, _ := gamedata.Profile(npc.Personality)
	p := float64(npc.RelationshipLevel+100) / 200
	p += profile.HelpModifier
	if e.moral.Alignment.IsGood() {
		p += profile.GoodPlayerHelpBonus
	}
	p = models.Clamp01(p)

	res := HelpResult{NPCID: npcID, Probability: p}
	if e.rng.Float64() < p {
		res.WillHelp = true
		res.Assistance = profile.Assistance
	}
	e.logger.Info("npc asked for combat help", map[string]interface{}{
		"npc_id":      npcID,
		"probability": p,
		"will_help":   res.WillHelp,
	})
	return res, nil
}

// AskForItem hands over an offered item once the relationship meets the
// NPC's generosity threshold. Each item is given at most once.
func (e *NPCEngine) AskForItem(npcID, itemName string) (ItemResult, error) {
	npc, err := e.get(npcID)
	if err != nil {
		return ItemResult{}, err
	}
	threshold := gamedata.ItemThreshold(npc.Traits.Generosity)
	res := ItemResult{NPCID: npcID, Threshold: threshold}

	var offered *models.Item
	for i := range npc.ItemsOffered {
		it := npc.ItemsOffered[i]
		if itemName != "" && !strings.EqualFold(it.Name, itemName) {
			continue
		}
		if itemName == "" && containsFold(npc.ItemsGiven, it.Name) {
			continue
		}
		offered = &it
		break
	}
	switch {
	case offered == nil && itemName != "":
		return res, apperrors.NewNotFoundError(fmt.Sprintf("%s does not offer %q", npc.Name, itemName), nil)
	case offered == nil:
		res.Reason = "nothing_to_offer"
		return res, nil
	case containsFold(npc.ItemsGiven, offered.Name):
		res.Reason = "already_given"
		return res, nil
	case npc.RelationshipLevel < threshold:
		res.Reason = "not_trusted"
		return res, nil
	}

	npc.ItemsGiven = append(npc.ItemsGiven, offered.Name)
	item := gamedata.ResolveItem(*offered)
	res.Granted = true
	res.Item = &item
	return res, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// PublicView returns the only NPC shape allowed outside the engine.
func (e *NPCEngine) PublicView(npcID string) (models.NPCPublicView, error) {
	npc, err := e.get(npcID)
	if err != nil {
		return models.NPCPublicView{}, err
	}
	return e.view(npc), nil
}

// PublicViews returns every NPC's public view sorted by id.
func (e *NPCEngine) PublicViews() []models.NPCPublicView {
	out := make([]models.NPCPublicView, 0, len(e.npcs))
	for _, id := range e.sortedIDs() {
		out = append(out, e.view(e.npcs[id]))
	}
	return out
}

func (e *NPCEngine) view(npc *models.NPC) models.NPCPublicView {
	known := []string{}
	for _, s := range npc.KnownSecrets {
		if e.moral.KnowsSecret(s) {
			known = append(known, s)
		}
	}
	return models.NPCPublicView{
		ID:                 npc.ID,
		Name:               npc.Name,
		Role:               npc.Role,
		Description:        npc.Description,
		Personality:        npc.Personality,
		Mood:               npc.Mood,
		KnownSecrets:       known,
		RelationshipStatus: relationshipBucket(npc.RelationshipLevel),
		Disposition:        dispositionBucket(npc),
		QuestsOffered:      append([]string{}, npc.QuestsOffered...),
	}
}

func relationshipBucket(level int) string {
	switch {
	case level >= 60:
		return "Very Friendly"
	case level >= 20:
		return "Friendly"
	case level > -20:
		return "Neutral"
	case level > -60:
		return "Hostile"
	default:
		return "Very Hostile"
	}
}

func dispositionBucket(npc *models.NPC) string {
	switch {
	case npc.FearLevel >= fearedByThreshold:
		return "fearful"
	case npc.TrustLevel >= trustedByThreshold:
		return "trusting"
	case npc.RespectLevel >= 70:
		return "respectful"
	case npc.RelationshipLevel <= -20:
		return "wary"
	default:
		return "reserved"
	}
}

// BetrayalWarnings lists NPCs whose betrayal risk under ctx is notable,
// highest risk first.
func (e *NPCEngine) BetrayalWarnings(ctx models.StoryContext) []BetrayalWarning {
	out := []BetrayalWarning{}
	for _, id := range e.sortedIDs() {
		npc := e.npcs[id]
		risk := 0.0
		reason := ""
		if e.scenario != nil {
			if spec, ok := e.scenario.RelationshipTrigger(npc.RelationshipType); ok {
				risk = scaleChance(spec.BetrayalChance, ctx.BetrayalSusceptibility, &ctx)
				reason = "relationship:" + npc.RelationshipType
			}
		}
		if npc.Personality == models.PersonalityTreacherous {
			risk = models.Clamp01(risk + 0.2)
			reason = "personality:treacherous"
		}
		if npc.RelationshipLevel <= -20 {
			risk = models.Clamp01(risk + 0.1)
			if reason == "" {
				reason = "hostile relationship"
			}
		}
		if risk > 0 {
			out = append(out, BetrayalWarning{NPCID: id, Name: npc.Name, Risk: risk, Reason: reason})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Risk > out[j].Risk })
	return out
}

// PlotTwistHints lists likely revelations under ctx.
func (e *NPCEngine) PlotTwistHints(ctx models.StoryContext) []PlotTwistHint {
	out := []PlotTwistHint{}
	if e.scenario != nil {
		if spec, ok := e.scenario.LocationTrigger(ctx.Location); ok && spec.PlotTwistChance > 0 {
			out = append(out, PlotTwistHint{
				Source: "location:" + ctx.Location,
				Chance: scaleChance(spec.PlotTwistChance, ctx.PlotTwistSusceptibility, &ctx),
				Hint:   fmt.Sprintf("Something about %s does not add up.", strings.ReplaceAll(ctx.Location, "_", " ")),
			})
		}
	}
	for _, id := range e.sortedIDs() {
		npc := e.npcs[id]
		hidden := 0
		for _, s := range npc.Secrets {
			if !e.moral.KnowsSecret(s) {
				hidden++
			}
		}
		if hidden > 0 && npc.RelationshipLevel >= 20 {
			out = append(out, PlotTwistHint{
				Source: "npc:" + id,
				Hint:   fmt.Sprintf("%s seems to be holding something back.", npc.Name),
			})
		}
	}
	return out
}

// Decisions returns the decision history.
func (e *NPCEngine) Decisions() []models.DecisionRecord {
	return append([]models.DecisionRecord{}, e.decisions...)
}

// NPCTrust maps each NPC to its trust on a 0..1 scale.
func (e *NPCEngine) NPCTrust() map[string]float64 {
	out := make(map[string]float64, len(e.npcs))
	for id, npc := range e.npcs {
		out[id] = float64(npc.TrustLevel) / 100
	}
	return out
}

// CheckInvariants verifies every NPC scalar is within bounds.
func (e *NPCEngine) CheckInvariants() error {
	for id, npc := range e.npcs {
		if npc.RelationshipLevel < minRelationship || npc.RelationshipLevel > maxRelationship {
			return apperrors.NewInvariantError(fmt.Sprintf("npc %s relationship %d out of range", id, npc.RelationshipLevel), nil)
		}
		for name, v := range map[string]int{"trust": npc.TrustLevel, "fear": npc.FearLevel, "respect": npc.RespectLevel} {
			if v < minScalar || v > maxScalar {
				return apperrors.NewInvariantError(fmt.Sprintf("npc %s %s %d out of range", id, name, v), nil)
			}
		}
	}
	return nil
}

// State exports a deep copy for snapshots.
func (e *NPCEngine) State() NPCState {
	st := NPCState{
		NPCs:      make(map[string]*models.NPC, len(e.npcs)),
		Ledgers:   make(map[string]*models.RelationshipLedger, len(e.ledgers)),
		Decisions: e.Decisions(),
	}
	for id, npc := range e.npcs {
		st.NPCs[id] = npc.Clone()
	}
	for id, l := range e.ledgers {
		st.Ledgers[id] = l.Clone()
	}
	return st
}

// Restore replaces the engine state with a snapshot copy.
func (e *NPCEngine) Restore(st NPCState) {
	e.npcs = make(map[string]*models.NPC, len(st.NPCs))
	e.ledgers = make(map[string]*models.RelationshipLedger, len(st.NPCs))
	for id, npc := range st.NPCs {
		e.npcs[id] = npc.Clone()
		if l, ok := st.Ledgers[id]; ok && l != nil {
			e.ledgers[id] = l.Clone()
		} else {
			e.ledgers[id] = &models.RelationshipLedger{NPCID: id, Interactions: []models.LedgerEntry{}, UnlockedEvents: []models.LedgerEvent{}}
		}
	}
	e.decisions = append([]models.DecisionRecord{}, st.Decisions...)
}

func (e *NPCEngine) sortedIDs() []string {
	ids := make([]string, 0, len(e.npcs))
	for id := range e.npcs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
