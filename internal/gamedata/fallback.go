// internal/gamedata/fallback.go
package gamedata

import (
	"fmt"

	"github.com/Corphon/AIDungeonMaster/internal/models"
)

var dialogueByMood = map[models.Mood]string{
	models.MoodHappy:        "%s beams at you. \"I am glad our paths crossed, friend.\"",
	models.MoodPleased:      "%s nods approvingly. \"You have my thanks.\"",
	models.MoodNeutral:      "%s regards you without expression. \"What do you want?\"",
	models.MoodDisappointed: "%s frowns. \"I expected better of you.\"",
	models.MoodAngry:        "%s glares at you. \"Leave, before I lose my patience.\"",
}

// FallbackDialogue is the line used when the text oracle is unavailable.
func FallbackDialogue(name string, mood models.Mood) string {
	tmpl, ok := dialogueByMood[mood]
	if !ok {
		tmpl = dialogueByMood[models.MoodNeutral]
	}
	return fmt.Sprintf(tmpl, name)
}

// FallbackBetrayal describes a betrayal when the table gives no flavor text.
func FallbackBetrayal(who string) string {
	if who == "" {
		return "Someone you trusted has turned against you."
	}
	return fmt.Sprintf("%s has turned against you.", who)
}

// FallbackPlotTwist describes a plot twist when no flavor text is declared.
func FallbackPlotTwist(where string) string {
	if where == "" {
		return "Nothing is what it seemed."
	}
	return fmt.Sprintf("The truth about %s is not what it seemed.", where)
}

// FallbackCombatSummary narrates the end of a fight.
func FallbackCombatSummary(outcome string) string {
	switch outcome {
	case "victory":
		return "The last foe falls. The battlefield grows quiet."
	case "defeat":
		return "Darkness takes you as your strength gives out."
	case "escaped":
		return "You break away and flee into safety."
	default:
		return "The fight goes on."
	}
}
