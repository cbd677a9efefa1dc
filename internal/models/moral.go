// internal/models/moral.go
package models

import "time"

// Alignment is the player's overall moral label.
type Alignment string

const (
	AlignmentVeryGood Alignment = "very_good"
	AlignmentGood     Alignment = "good"
	AlignmentNeutral  Alignment = "neutral"
	AlignmentBad      Alignment = "bad"
	AlignmentVeryBad  Alignment = "very_bad"
)

// IsGood reports good or very_good.
func (a Alignment) IsGood() bool {
	return a == AlignmentGood || a == AlignmentVeryGood
}

// MoralClass classifies a single action.
type MoralClass string

const (
	MoralClassGood    MoralClass = "good"
	MoralClassBad     MoralClass = "bad"
	MoralClassNeutral MoralClass = "neutral"
)

// PlayerMoralState tracks the player's karma across a session.
type PlayerMoralState struct {
	Alignment      Alignment `json:"alignment"`
	GoodActions    int       `json:"good_actions"`
	BadActions     int       `json:"bad_actions"`
	NeutralActions int       `json:"neutral_actions"`
	KarmaPoints    int       `json:"karma_points"`
	Reputation     int       `json:"reputation"`
	TrustedBy      []string  `json:"trusted_by"`
	FearedBy       []string  `json:"feared_by"`
	KnownSecrets   []string  `json:"known_secrets"`
}

// NewPlayerMoralState returns the neutral starting state.
func NewPlayerMoralState() PlayerMoralState {
	return PlayerMoralState{
		Alignment:    AlignmentNeutral,
		TrustedBy:    []string{},
		FearedBy:     []string{},
		KnownSecrets: []string{},
	}
}

// ComputeAlignment derives the label from the three tallies. Ratios must
// strictly exceed a threshold; good is checked before bad.
func ComputeAlignment(good, bad, neutral int) Alignment {
	total := good + bad + neutral
	if total <= 0 {
		return AlignmentNeutral
	}
	goodRatio := float64(good) / float64(total)
	badRatio := float64(bad) / float64(total)

	switch {
	case goodRatio > 0.6:
		return AlignmentVeryGood
	case goodRatio > 0.4:
		return AlignmentGood
	case badRatio > 0.6:
		return AlignmentVeryBad
	case badRatio > 0.4:
		return AlignmentBad
	default:
		return AlignmentNeutral
	}
}

// Tally records one action of the given class and recomputes the label.
func (p *PlayerMoralState) Tally(class MoralClass) {
	switch class {
	case MoralClassGood:
		p.GoodActions++
	case MoralClassBad:
		p.BadActions++
	default:
		p.NeutralActions++
	}
	p.Alignment = ComputeAlignment(p.GoodActions, p.BadActions, p.NeutralActions)
}

func (p *PlayerMoralState) Clone() PlayerMoralState {
	cp := *p
	cp.TrustedBy = cloneSlice(p.TrustedBy)
	cp.FearedBy = cloneSlice(p.FearedBy)
	cp.KnownSecrets = cloneSlice(p.KnownSecrets)
	return cp
}

// KnowsSecret reports whether secret is in KnownSecrets.
func (p *PlayerMoralState) KnowsSecret(secret string) bool {
	return containsString(p.KnownSecrets, secret)
}

// Decision is a request to record a consequential player choice.
type Decision struct {
	Type             string     `json:"type"`
	Choice           string     `json:"choice"`
	AffectedNPCs     []string   `json:"affected_npcs"`
	MoralImplication MoralClass `json:"moral_implication,omitempty"`
}

// DecisionRecord is the immutable audit form of a Decision.
type DecisionRecord struct {
	Seq              int        `json:"seq"`
	Type             string     `json:"type"`
	Choice           string     `json:"choice"`
	AffectedNPCs     []string   `json:"affected_npcs"`
	MoralImplication MoralClass `json:"moral_implication"`
	KarmaDelta       int        `json:"karma_delta"`
	Timestamp        time.Time  `json:"timestamp"`
}

// KarmaAction is a catalogued action with a fixed karma delta.
type KarmaAction struct {
	ID       string     `json:"id"`
	Label    string     `json:"label"`
	Delta    int        `json:"delta"`
	Category MoralClass `json:"category"`
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// AddUnique appends s to list when absent.
func AddUnique(list []string, s string) []string {
	if containsString(list, s) {
		return list
	}
	return append(list, s)
}

// RemoveString drops every occurrence of s.
func RemoveString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
