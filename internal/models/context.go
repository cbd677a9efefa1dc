// internal/models/context.go
package models

// Emotional states the trigger engine reads and writes.
const (
	EmotionNeutral    = "neutral"
	EmotionVulnerable = "vulnerable"
	EmotionConfident  = "confident"
	EmotionDevastated = "devastated"
	EmotionShocked    = "shocked"
)

// MaxRecentEvents bounds StoryContext.RecentEvents.
const MaxRecentEvents = 10

// StoryContext is the runtime projection used by contextual triggers.
type StoryContext struct {
	Location                string             `json:"location"`
	ContextType             string             `json:"context_type"`
	EmotionalState          string             `json:"emotional_state"`
	TrustLevel              float64            `json:"trust_level"`
	PowerLevel              float64            `json:"power_level"`
	NPCTrust                map[string]float64 `json:"npc_trust"`
	RecentEvents            []string           `json:"recent_events"`
	BetrayalSusceptibility  float64            `json:"betrayal_susceptibility"`
	PlotTwistSusceptibility float64            `json:"plot_twist_susceptibility"`
}

// NewStoryContext returns the default context for a new session.
func NewStoryContext() StoryContext {
	return StoryContext{
		ContextType:             "exploration",
		EmotionalState:          EmotionNeutral,
		TrustLevel:              0.5,
		PowerLevel:              0.5,
		NPCTrust:                map[string]float64{},
		RecentEvents:            []string{},
		BetrayalSusceptibility:  0.5,
		PlotTwistSusceptibility: 0.5,
	}
}

// PushEvent appends tag and keeps the newest MaxRecentEvents.
func (c *StoryContext) PushEvent(tag string) {
	if tag == "" {
		return
	}
	c.RecentEvents = append(c.RecentEvents, tag)
	if n := len(c.RecentEvents); n > MaxRecentEvents {
		c.RecentEvents = append([]string{}, c.RecentEvents[n-MaxRecentEvents:]...)
	}
}

func (c *StoryContext) Clone() StoryContext {
	cp := *c
	cp.RecentEvents = cloneSlice(c.RecentEvents)
	if c.NPCTrust != nil {
		cp.NPCTrust = make(map[string]float64, len(c.NPCTrust))
		for k, v := range c.NPCTrust {
			cp.NPCTrust[k] = v
		}
	}
	return cp
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// TriggerKind is betrayal or plot_twist.
type TriggerKind string

const (
	TriggerBetrayal  TriggerKind = "betrayal"
	TriggerPlotTwist TriggerKind = "plot_twist"
)

// TriggerEvent is emitted by the trigger check after a decision.
type TriggerEvent struct {
	Kind        TriggerKind `json:"kind"`
	Source      string      `json:"source"`
	NPCID       string      `json:"npc_id,omitempty"`
	Location    string      `json:"location,omitempty"`
	Chance      float64     `json:"chance"`
	Description string      `json:"description"`
}

// Alert is the line appended to the node text for this event.
func (e TriggerEvent) Alert() string {
	if e.Kind == TriggerBetrayal {
		return "BETRAYAL ALERT: " + e.Description
	}
	return "PLOT TWIST: " + e.Description
}
