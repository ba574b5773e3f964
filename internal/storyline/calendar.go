package storyline

import (
	"hash/fnv"
	"math/rand/v2"
	"time"
)

const dayLayout = "2006-01-02"

// Calendar does whole-day arithmetic in one fixed reference timezone so that
// day boundaries never drift with the host clock.
type Calendar struct {
	loc *time.Location
}

func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

func (c Calendar) Location() *time.Location { return c.location() }

func (c Calendar) location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// StartOfDay returns midnight of t's calendar date in the reference zone.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(c.location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.location())
}

// AddDays moves t by n calendar dates, keeping wall-clock time.
func (c Calendar) AddDays(t time.Time, n int) time.Time {
	return t.In(c.location()).AddDate(0, 0, n)
}

// DaysBetween counts calendar dates from from to to. Negative when to is
// earlier than from.
func (c Calendar) DaysBetween(from, to time.Time) int {
	fy, fm, fd := from.In(c.location()).Date()
	ty, tm, td := to.In(c.location()).Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// Key formats t's calendar date in the reference zone.
func (c Calendar) Key(t time.Time) string {
	return t.In(c.location()).Format(dayLayout)
}

// randomSource is the subset of *rand.Rand the engine draws from.
type randomSource interface {
	Float64() float64
}

// seededRand derives a stable source from a storyline, a processed day and a
// purpose, so replaying a day repeats its draws instead of re-rolling them.
func seededRand(storylineID, dayKey, purpose string) randomSource {
	h1 := fnv.New64a()
	_, _ = h1.Write([]byte(storylineID))
	_, _ = h1.Write([]byte{0})
	_, _ = h1.Write([]byte(purpose))
	h2 := fnv.New64a()
	_, _ = h2.Write([]byte(dayKey))
	return rand.New(rand.NewPCG(h1.Sum64(), h2.Sum64()))
}
