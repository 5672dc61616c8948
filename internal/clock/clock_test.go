package clock

import (
	"context"
	"testing"
	"time"
)

func TestCalendarSnapshotFields(t *testing.T) {
	// 2024-02-29 is a Thursday, and a leap-year end-of-month.
	tm := time.Date(2024, time.February, 29, 13, 45, 30, 0, time.UTC)
	snap := calendarSnapshot(tm)

	if snap.Second != 30 || snap.Minute != 45 || snap.Hour != 13 {
		t.Fatalf("want 13:45:30, got %02d:%02d:%02d", snap.Hour, snap.Minute, snap.Second)
	}
	if snap.Day != 29 || snap.Month != 2 || snap.Year != 2024 {
		t.Fatalf("want 2024-02-29, got %d-%02d-%02d", snap.Year, snap.Month, snap.Day)
	}
	if snap.DayOfWeek != 3 { // Monday=0 .. Thursday=3
		t.Fatalf("want ISO day-of-week 3 (Thursday), got %d", snap.DayOfWeek)
	}
	if !snap.EndOfMonth {
		t.Fatal("want EndOfMonth true for Feb 29 in a leap year")
	}
	if !snap.LeapYear {
		t.Fatal("want LeapYear true for 2024")
	}
}

func TestCalendarSnapshotNonLeapYearEndOfMonth(t *testing.T) {
	tm := time.Date(2023, time.February, 28, 0, 0, 0, 0, time.UTC)
	snap := calendarSnapshot(tm)
	if !snap.EndOfMonth {
		t.Fatal("want EndOfMonth true for Feb 28 in a non-leap year")
	}
	if snap.LeapYear {
		t.Fatal("want LeapYear false for 2023")
	}
}

func TestIsLeapYear(t *testing.T) {
	cases := map[int]bool{2000: true, 1900: false, 2024: true, 2023: false}
	for year, want := range cases {
		if got := isLeapYear(year); got != want {
			t.Errorf("isLeapYear(%d) = %v, want %v", year, got, want)
		}
	}
}

func TestSolarSnapshotZeroWithoutGeo(t *testing.T) {
	c := New(0, 0, false)
	snap := c.solarSnapshot(time.Date(2024, time.June, 21, 12, 0, 0, 0, time.UTC))
	if snap.SolarAltitude != 0 || snap.SolarAzimuth != 0 {
		t.Fatalf("want zero-value solar snapshot without geo coordinates, got %+v", snap)
	}
}

func TestSolarSnapshotAltitudeAtSummerSolsticeNoon(t *testing.T) {
	// Near the equator at local solar noon on the summer solstice, the sun
	// should be close to overhead.
	c := New(0, 0, true)
	snap := c.solarSnapshot(time.Date(2024, time.June, 21, 12, 0, 0, 0, time.UTC))
	if snap.SolarAltitude < 60 {
		t.Fatalf("want a high solar altitude near the equator at solar noon, got %f", snap.SolarAltitude)
	}
}

func TestSubscribeSendsImmediateSnapshot(t *testing.T) {
	c := New(0, 0, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, stop := c.Subscribe(ctx, "utc")
	defer stop()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("want an immediate snapshot on subscribe")
	}
}
