package storyline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
	"unicode"
)

const (
	CreationResultCreated  = "created"
	CreationResultRejected = "rejected"
)

// Rejection reasons recorded in the audit log.
const (
	ReasonCooldown  = "cooldown"
	ReasonDuplicate = "duplicate"
	ReasonExclusive = "active_storyline"
	ReasonError     = "error"
)

// CreationResult is the outcome of a gated creation request.
type CreationResult struct {
	Created        bool
	Storyline      *Storyline
	Reason         string
	Detail         string
	HoursRemaining int
}

// CreateStoryline runs the safety gate and creates the storyline when every
// check passes. Cooldown and duplicate checks fail open on store errors; the
// exclusivity check fails closed. Rejections are reported in the result, not
// as errors.
func (e *Engine) CreateStoryline(ctx context.Context, in NewStoryline) (*CreationResult, error) {
	now := e.now()
	in.EmotionalIntensity = clampIntensity(in.EmotionalIntensity)
	if err := validateNewStoryline(in); err != nil {
		return nil, err
	}

	if e.opts.Cooldown > 0 {
		last, err := e.store.LastSuccessfulCreation(ctx)
		switch {
		case err != nil:
			log.Printf("[storyline] warning: cooldown check failed, allowing creation: %v", err)
		case last != nil:
			if elapsed := now.Sub(*last); elapsed < e.opts.Cooldown {
				remaining := e.opts.Cooldown - elapsed
				hours := int(math.Ceil(remaining.Hours()))
				if hours < 1 {
					hours = 1
				}
				res := &CreationResult{
					Reason:         ReasonCooldown,
					HoursRemaining: hours,
					Detail:         fmt.Sprintf("last storyline created %s ago", elapsed.Round(time.Minute)),
				}
				e.audit(ctx, in, res)
				return res, nil
			}
		}
	}

	recent, err := e.store.ListCreatedSince(ctx, in.Category, now.Add(-e.opts.DuplicateWindow))
	if err != nil {
		log.Printf("[storyline] warning: duplicate check failed, allowing creation: %v", err)
	}
	for _, existing := range recent {
		score := TitleSimilarity(in.Title, existing.Title)
		if score >= e.opts.DuplicateThreshold {
			res := &CreationResult{
				Reason: ReasonDuplicate,
				Detail: fmt.Sprintf("similar to %q (%.2f)", existing.Title, score),
			}
			e.audit(ctx, in, res)
			return res, nil
		}
	}

	st, err := e.store.CreateStorylineExclusive(ctx, in, e.opts.Scope)
	if errors.Is(err, ErrActiveStoryline) {
		res := &CreationResult{Reason: ReasonExclusive, Detail: fmt.Sprintf("scope %s", e.opts.Scope)}
		e.audit(ctx, in, res)
		return res, nil
	}
	if err != nil {
		res := &CreationResult{Reason: ReasonError, Detail: err.Error()}
		e.audit(ctx, in, res)
		return res, fmt.Errorf("create storyline: %w", err)
	}

	res := &CreationResult{Created: true, Storyline: st}
	e.audit(ctx, in, res)
	log.Printf("[storyline] created %q (%s) id=%s", st.Title, st.Category, st.ID)

	if st.InitialAnnouncement != "" {
		if _, err := e.store.AppendUpdate(ctx, st.ID, NewUpdate{
			UpdateType:    UpdateInitialReaction,
			Content:       st.InitialAnnouncement,
			EmotionalTone: st.CurrentEmotionalTone,
		}); err != nil {
			log.Printf("[storyline] warning: initial update for %s failed: %v", st.ID, err)
		}
	}
	return res, nil
}

func (e *Engine) audit(ctx context.Context, in NewStoryline, res *CreationResult) {
	a := CreationAttempt{
		Title:     in.Title,
		Category:  in.Category,
		Result:    CreationResultRejected,
		Reason:    res.Reason,
		Detail:    res.Detail,
		CreatedAt: e.now(),
	}
	if res.Created {
		a.Result = CreationResultCreated
		a.CreatedAt = res.Storyline.CreatedAt
	}
	if err := e.store.RecordCreationAttempt(ctx, a); err != nil {
		log.Printf("[storyline] warning: audit creation attempt: %v", err)
	}
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "our": true, "your": true,
	"to": true, "of": true, "for": true, "and": true, "or": true, "in": true,
	"on": true, "at": true, "with": true, "about": true, "into": true, "from": true,
	"i": true, "im": true, "me": true, "is": true, "be": true, "it": true, "some": true,
}

// Activity words describe what is being done rather than what about, so two
// titles differing only in them are the same storyline.
var activityWords = map[string]bool{
	"learn": true, "lesson": true, "class": true, "course": true, "start": true,
	"new": true, "get": true, "try": true, "take": true, "do": true, "begin": true,
	"practice": true, "work": true, "first": true, "doing": true, "taking": true,
}

// titleWords normalizes a title into its distinguishing word set. When
// normalization removes everything the raw lowercase words are used.
func titleWords(title string) map[string]bool {
	raw := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	words := make(map[string]bool, len(raw))
	for _, w := range raw {
		w = strings.ReplaceAll(w, "'", "")
		if w == "" || stopwords[w] {
			continue
		}
		if activityWords[w] {
			continue
		}
		w = stem(w)
		if activityWords[w] {
			continue
		}
		words[w] = true
	}
	if len(words) > 0 {
		return words
	}
	for _, w := range raw {
		if w = strings.ReplaceAll(w, "'", ""); w != "" {
			words[w] = true
		}
	}
	return words
}

func stem(w string) string {
	switch {
	case len(w) > 5 && strings.HasSuffix(w, "ing"):
		w = strings.TrimSuffix(w, "ing")
		if n := len(w); n > 2 && w[n-1] == w[n-2] {
			w = w[:n-1]
		}
		return w
	case len(w) > 4 && strings.HasSuffix(w, "sses"):
		return strings.TrimSuffix(w, "es")
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return strings.TrimSuffix(w, "s")
	}
	return w
}

// TitleSimilarity is the Jaccard overlap of two normalized title word sets.
func TitleSimilarity(a, b string) float64 {
	wa, wb := titleWords(a), titleWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}
