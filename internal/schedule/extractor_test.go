package schedule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 20, 10, 0, 0, 0, time.Local)
}

func TestExtract_StandardizedConfirmation(t *testing.T) {
	e := &Extractor{Now: fixedNow}

	content := `[14:31:02] AI Assistant (Sarah): Let me confirm the interview on 06-29-2025 at 04:30 PM. Does that work?`

	slot, ok := e.Extract(content)
	if !ok {
		t.Fatal("expected a slot")
	}
	if slot.Method != "standardized" {
		t.Errorf("Method = %q, want standardized", slot.Method)
	}
	if slot.FormattedDate != "29-06-2025" {
		t.Errorf("FormattedDate = %q, want 29-06-2025", slot.FormattedDate)
	}
	if slot.FormattedTime != "16:30" {
		t.Errorf("FormattedTime = %q, want 16:30", slot.FormattedTime)
	}
}

func TestExtract_LegacyMonthName(t *testing.T) {
	e := &Extractor{Now: fixedNow}

	content := `[14:30:40] User: Let's do June 29th at 4:30 PM then.`

	slot, ok := e.Extract(content)
	if !ok {
		t.Fatal("expected a slot")
	}
	if slot.Method != "legacy" {
		t.Errorf("Method = %q, want legacy", slot.Method)
	}
	if slot.Date.Month() != time.June || slot.Date.Day() != 29 || slot.Date.Year() != 2025 {
		t.Errorf("Date = %v, want June 29 2025", slot.Date)
	}
	if slot.FormattedTime != "16:30" {
		t.Errorf("FormattedTime = %q, want 16:30", slot.FormattedTime)
	}
}

func TestExtract_PassedDateRollsToNextYear(t *testing.T) {
	e := &Extractor{Now: fixedNow} // June 20th 2025

	slot, ok := e.Extract("User: How about March 3rd at 10 AM?")
	if !ok {
		t.Fatal("expected a slot")
	}
	if slot.Date.Year() != 2026 {
		t.Errorf("year = %d, want rollover to 2026", slot.Date.Year())
	}
}

func TestExtract_RelativeDates(t *testing.T) {
	e := &Extractor{Now: fixedNow}

	tests := []struct {
		content string
		wantDay int
	}{
		{"User: tomorrow at 2 PM works", 21},
		{"User: today at 2 PM works", 20},
		{"User: next week at 2 PM works", 27},
	}

	for _, tt := range tests {
		slot, ok := e.Extract(tt.content)
		if !ok {
			t.Fatalf("no slot for %q", tt.content)
		}
		if slot.Date.Day() != tt.wantDay {
			t.Errorf("%q: day = %d, want %d", tt.content, slot.Date.Day(), tt.wantDay)
		}
		if slot.FormattedTime != "14:00" {
			t.Errorf("%q: time = %q, want 14:00", tt.content, slot.FormattedTime)
		}
	}
}

func TestExtract_GeneralTimes(t *testing.T) {
	e := &Extractor{Now: fixedNow}

	tests := []struct {
		phrase string
		want   string
	}{
		{"morning", "09:00"},
		{"afternoon", "14:00"},
		{"evening", "18:00"},
	}

	for _, tt := range tests {
		slot, ok := e.Extract("User: tomorrow " + tt.phrase + " would be fine")
		if !ok {
			t.Fatalf("no slot for %q", tt.phrase)
		}
		if slot.FormattedTime != tt.want {
			t.Errorf("%q: time = %q, want %q", tt.phrase, slot.FormattedTime, tt.want)
		}
	}
}

func TestExtract_LastMentionWins(t *testing.T) {
	e := &Extractor{Now: fixedNow}

	content := `
[14:30:10] User: I was thinking July 1st at 9 AM.
[14:30:40] User: Actually, July 3rd at 11 AM is better.
`
	slot, ok := e.Extract(content)
	if !ok {
		t.Fatal("expected a slot")
	}
	if slot.Date.Day() != 3 {
		t.Errorf("day = %d, want the last mentioned date", slot.Date.Day())
	}
	if slot.FormattedTime != "11:00" {
		t.Errorf("time = %q, want 11:00", slot.FormattedTime)
	}
}

func TestExtract_NoSlot(t *testing.T) {
	e := &Extractor{Now: fixedNow}

	for _, content := range []string{
		"",
		"User: Sorry, wrong number.",
		"User: Call me back some other time.",
	} {
		if _, ok := e.Extract(content); ok {
			t.Errorf("unexpected slot in %q", content)
		}
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"4:30 PM", "16:30", true},
		{"12:00 PM", "12:00", true},
		{"12:15 AM", "00:15", true},
		{"9 AM", "09:00", true},
		{"4PM", "16:00", true},
		{"half past", "", false},
	}

	for _, tt := range tests {
		got, ok := parseClock(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseClock(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSweeper_ProcessAll(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a_call.txt", "AI Assistant (Sarah): Let me confirm the interview on 07-01-2025 at 10:00 AM.")
	write("b_call.txt", "User: wrong number, sorry.")
	write("notes.md", "not a transcript")

	sweeper := NewSweeper(dir, nil, nil)
	results, err := sweeper.ProcessAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (.txt files only)", len(results))
	}
	if !results[0].Found || results[0].Slot.FormattedTime != "10:00" {
		t.Errorf("first transcript: Found=%v Slot=%+v", results[0].Found, results[0].Slot)
	}
	if results[1].Found {
		t.Error("second transcript should have no slot")
	}
}

func TestSweeper_MissingDirectory(t *testing.T) {
	sweeper := NewSweeper(filepath.Join(t.TempDir(), "absent"), nil, nil)
	results, err := sweeper.ProcessAll(context.Background())
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}
