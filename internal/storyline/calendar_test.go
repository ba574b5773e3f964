package storyline

import (
	"testing"
	"time"
)

func TestCalendar_DaysBetweenUsesReferenceZone(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cal := NewCalendar(la)

	// 23:30 and 00:30 Los Angeles time are one calendar day apart even
	// though they fall on the same UTC date.
	late := time.Date(2026, 3, 10, 23, 30, 0, 0, la)
	early := late.Add(time.Hour)
	if got := cal.DaysBetween(late, early); got != 1 {
		t.Errorf("DaysBetween = %d, want 1", got)
	}
	if got := cal.DaysBetween(early, late); got != -1 {
		t.Errorf("DaysBetween reversed = %d, want -1", got)
	}
	if cal.Key(early) != "2026-03-11" {
		t.Errorf("Key = %s", cal.Key(early))
	}
}

func TestCalendar_AddDaysAcrossDST(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cal := NewCalendar(la)

	// DST starts 2026-03-08 in Los Angeles.
	start := time.Date(2026, 3, 7, 9, 0, 0, 0, la)
	next := cal.AddDays(start, 1)
	if next.Hour() != 9 || cal.DaysBetween(start, next) != 1 {
		t.Errorf("AddDays across DST = %v", next)
	}
	if d := next.Sub(start); d != 23*time.Hour {
		t.Errorf("elapsed = %v, want 23h", d)
	}
}

func TestCalendar_ZeroValueIsUTC(t *testing.T) {
	var cal Calendar
	if cal.Location() != time.UTC {
		t.Errorf("Location = %v", cal.Location())
	}
	if got := cal.StartOfDay(day0); !got.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("StartOfDay = %v", got)
	}
}

func TestSeededRand_Deterministic(t *testing.T) {
	a := seededRand("st-1", "2026-03-02", "transition").Float64()
	b := seededRand("st-1", "2026-03-02", "transition").Float64()
	if a != b {
		t.Fatalf("same seed drew %v and %v", a, b)
	}
	if a < 0 || a >= 1 {
		t.Errorf("draw %v out of range", a)
	}
	others := []float64{
		seededRand("st-1", "2026-03-03", "transition").Float64(),
		seededRand("st-2", "2026-03-02", "transition").Float64(),
		seededRand("st-1", "2026-03-02", "update").Float64(),
	}
	for i, o := range others {
		if o == a {
			t.Errorf("variant %d repeated the draw %v", i, a)
		}
	}
}
