package schedule

import (
	"testing"
	"time"
)

func weekdayPtr(d int) *int { return &d }

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		typ     Type
		cfg     Config
		wantErr bool
	}{
		{"once empty", TypeOnce, Config{}, false},
		{"daily default", TypeDaily, Config{}, false},
		{"weekly missing weekday", TypeWeekly, Config{}, true},
		{"weekly ok", TypeWeekly, Config{Weekday: weekdayPtr(2)}, false},
		{"weekly weekday out of range", TypeWeekly, Config{Weekday: weekdayPtr(9)}, true},
		{"monthly missing day", TypeMonthly, Config{}, true},
		{"monthly day 31 rejected", TypeMonthly, Config{DayOfMonth: 31}, true},
		{"monthly ok", TypeMonthly, Config{DayOfMonth: 15}, false},
		{"custom missing cron", TypeCustom, Config{}, true},
		{"custom bad cron", TypeCustom, Config{Cron: "not a cron"}, true},
		{"custom ok", TypeCustom, Config{Cron: "30 9 * * 1-5"}, false},
		{"unknown type", Type("hourly"), Config{}, true},
	}

	for _, tc := range cases {
		err := Validate(tc.typ, tc.cfg)
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestNextWeeklyAddsExactInterval(t *testing.T) {
	completed := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC) // a Tuesday

	next, err := Next(TypeWeekly, Config{Weekday: weekdayPtr(2)}, completed)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := completed.AddDate(0, 0, 7); !next.Equal(want) {
		t.Fatalf("expected %s got %s", want, next)
	}

	next, err = Next(TypeWeekly, Config{Weekday: weekdayPtr(2), Every: 2}, completed)
	if err != nil {
		t.Fatalf("Next every=2: %v", err)
	}
	if want := completed.AddDate(0, 0, 14); !next.Equal(want) {
		t.Fatalf("expected %s got %s", want, next)
	}
}

func TestNextDailyAndMonthly(t *testing.T) {
	after := time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)

	next, err := Next(TypeDaily, Config{}, after)
	if err != nil {
		t.Fatalf("Next daily: %v", err)
	}
	if want := after.AddDate(0, 0, 1); !next.Equal(want) {
		t.Fatalf("expected %s got %s", want, next)
	}

	next, err = Next(TypeMonthly, Config{DayOfMonth: 15}, after)
	if err != nil {
		t.Fatalf("Next monthly: %v", err)
	}
	if want := after.AddDate(0, 1, 0); !next.Equal(want) {
		t.Fatalf("expected %s got %s", want, next)
	}
}

func TestNextOnceRejected(t *testing.T) {
	if _, err := Next(TypeOnce, Config{}, time.Now()); err != ErrNotRecurring {
		t.Fatalf("expected ErrNotRecurring, got %v", err)
	}
}

func TestNextCustomFollowsCron(t *testing.T) {
	after := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	next, err := Next(TypeCustom, Config{Cron: "30 9 * * *"}, after)
	if err != nil {
		t.Fatalf("Next custom: %v", err)
	}
	if want := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected %s got %s", want, next)
	}
}

func TestFirstWeeklyAlignsToWeekday(t *testing.T) {
	from := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) // a Monday

	first, err := First(TypeWeekly, Config{Weekday: weekdayPtr(5)}, from)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if first.Weekday() != time.Friday {
		t.Fatalf("expected a Friday, got %s", first.Weekday())
	}
	if !first.After(from) {
		t.Fatalf("expected first run after %s, got %s", from, first)
	}
}

func TestFirstMonthlyRollsForward(t *testing.T) {
	from := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

	first, err := First(TypeMonthly, Config{DayOfMonth: 15}, from)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if first.Day() != 15 || first.Month() != time.April {
		t.Fatalf("expected April 15, got %s", first)
	}
}
