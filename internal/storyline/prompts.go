package storyline

import (
	"fmt"
	"strings"
)

const (
	updatePrompt = `You are writing the inner life of %s, a person with an ongoing storyline.

Storyline: %s
Category: %s (%s)
Current phase: %s. %s
Current feeling: %s
Stakes: %s
How the user is involved: %s
How it started: %s

Recent updates, oldest first:
%s

Write the next small development in this storyline as %s would tell a close friend.
Rules:
1. updateType must be one of: %s
2. content is two or three sentences in first person, no greetings
3. emotionalTone is one or two words

Return strict JSON object: {"updateType":"...","content":"...","emotionalTone":"..."}`

	outcomePrompt = `%s's storyline "%s" (%s) has just ended with outcome: %s.
Stakes: %s
How it started: %s

Describe what happened in exactly one sentence, in first person.
Return strict JSON object: {"sentence":"..."}`

	closureStepPrompt = `%s's storyline "%s" ended with outcome %s: %s
Write a %s beat, %d of %d in the aftermath, feeling %s.
One or two sentences in first person.
Return strict JSON object: {"sentence":"..."}`

	lessonPrompt = `%s's storyline "%s" ended with outcome %s: %s
What is the one lesson %s takes away from it? Answer in exactly one sentence, in first person.
Return strict JSON object: {"sentence":"..."}`
)

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func buildUpdatePrompt(persona string, st Storyline, profile PhaseProfile, recent []Update) string {
	var b strings.Builder
	if len(recent) == 0 {
		b.WriteString("(no updates yet)")
	}
	for i, u := range recent {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- [%s, %s] %s", u.UpdateType, orNone(u.EmotionalTone), u.Content)
	}

	allowed := make([]string, 0, len(profile.AllowedUpdates))
	for _, t := range profile.AllowedUpdates {
		allowed = append(allowed, string(t))
	}

	return fmt.Sprintf(updatePrompt,
		persona,
		st.Title,
		st.Category, st.NarrativeType,
		st.Phase, profile.Guidance,
		orNone(st.CurrentEmotionalTone),
		orNone(st.Stakes),
		orNone(st.UserInvolvement),
		orNone(st.InitialAnnouncement),
		b.String(),
		persona,
		strings.Join(allowed, ", "),
	)
}

func buildOutcomePrompt(persona string, st Storyline, outcome Outcome) string {
	return fmt.Sprintf(outcomePrompt, persona, st.Title, st.Category, outcome,
		orNone(st.Stakes), orNone(st.InitialAnnouncement))
}

func buildClosureStepPrompt(persona string, st Storyline, outcome Outcome, description string, step UpdateType, index, total int, emotion string) string {
	return fmt.Sprintf(closureStepPrompt, persona, st.Title, outcome, orNone(description),
		strings.ReplaceAll(string(step), "_", " "), index+1, total, emotion)
}

func buildLessonPrompt(persona string, st Storyline, outcome Outcome, description string) string {
	return fmt.Sprintf(lessonPrompt, persona, st.Title, outcome, orNone(description), persona)
}

// fallbackClosureContent is used when a closure step cannot be generated.
func fallbackClosureContent(st Storyline, outcome Outcome, step UpdateType, emotion string) string {
	switch step {
	case UpdateOutcomeReaction:
		return fmt.Sprintf("So %s is over, and it was a %s. I feel %s.", st.Title, outcome, emotion)
	case UpdateGratitude:
		return fmt.Sprintf("I'm grateful for everyone who helped with %s.", st.Title)
	case UpdateReflection:
		return fmt.Sprintf("I keep thinking back on %s and how it played out.", st.Title)
	case UpdateLessonLearned:
		return fmt.Sprintf("%s taught me something I want to hold on to.", st.Title)
	case UpdateEmotionalProcessing:
		return fmt.Sprintf("Still working through how %s ended. Some days are easier than others.", st.Title)
	case UpdateLettingGo:
		return fmt.Sprintf("I'm letting %s go. It was the right call, even if it stings.", st.Title)
	case UpdateProcessing:
		return fmt.Sprintf("Still processing where %s ended up. It wasn't what I expected.", st.Title)
	case UpdateNewDirection:
		return fmt.Sprintf("%s turned into something different, and I'm curious where it goes next.", st.Title)
	case UpdateInitialReaction, UpdateExcitement, UpdatePlanning, UpdateAnticipation,
		UpdateRealityCheck, UpdateChallenge, UpdateSmallWin, UpdateProgress, UpdateSetback,
		UpdateMilestone, UpdateNervousness, UpdateClimaxMoment:
	}
	return fmt.Sprintf("Thinking about %s today. I feel %s.", st.Title, emotion)
}
