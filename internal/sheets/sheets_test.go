package sheets

import (
	"testing"
	"time"

	"github.com/leadpilot/leadpilot/internal/models"
)

func TestResolvePeriodExplicit(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	from, to, title, err := ResolvePeriod(now, "2026-08-01", "2026-08-15")
	if err != nil {
		t.Fatalf("ResolvePeriod failed: %v", err)
	}
	if from.Day() != 1 || from.Month() != time.August {
		t.Errorf("unexpected start: %v", from)
	}
	// End is exclusive, one day past the requested last day.
	if to.Day() != 16 {
		t.Errorf("expected exclusive end on the 16th, got %v", to)
	}
	if title != "01.08.2026-15.08.2026" {
		t.Errorf("unexpected title: %q", title)
	}
}

func TestResolvePeriodDefaultsToPreviousWeek(t *testing.T) {
	// A Sunday; the previous full week is Monday 17th through Sunday 23rd.
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	from, to, title, err := ResolvePeriod(now, "", "")
	if err != nil {
		t.Fatalf("ResolvePeriod failed: %v", err)
	}
	if from.Weekday() != time.Monday {
		t.Errorf("expected Monday start, got %v", from.Weekday())
	}
	if from.Day() != 17 || to.Day() != 24 {
		t.Errorf("unexpected range: %v .. %v", from, to)
	}
	if title == "" {
		t.Error("expected a generated title")
	}
}

func TestResolvePeriodRejectsBadInput(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if _, _, _, err := ResolvePeriod(now, "08/01/2026", "2026-08-15"); err == nil {
		t.Error("expected error for wrong date format")
	}
	if _, _, _, err := ResolvePeriod(now, "2026-08-15", "2026-08-01"); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestBuildRows(t *testing.T) {
	leads := []models.Lead{
		{
			UserID: "42", Name: "Ivan", DebtAmount: "400k", IncomeSource: "salary",
			Region: "Moscow", UTMSource: "promo_june",
			CreatedAt: time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC),
		},
		{UserID: "43", Name: "Petr", CreatedAt: time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)},
	}

	rows := buildRows(leads)
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][2] != "Ivan" || rows[1][6] != "promo_june" {
		t.Errorf("unexpected first row: %v", rows[1])
	}
	// Missing UTM renders as N/A.
	if rows[2][6] != "N/A" {
		t.Errorf("expected N/A for missing UTM, got %v", rows[2][6])
	}
}

func TestBuildRowsEmpty(t *testing.T) {
	rows := buildRows(nil)
	if len(rows) != 2 {
		t.Fatalf("expected header + placeholder, got %d rows", len(rows))
	}
}
