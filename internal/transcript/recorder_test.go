package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aimhi-ai/callbridge/internal/callcontext"
)

func testContext() callcontext.Context {
	return callcontext.Context{
		CandidateName: "Alex Rivera",
		Job:           callcontext.JobDetails{Title: "Backend Engineer"},
	}
}

func TestRecorder_FullLifecycle(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, nil, nil)

	start := time.Date(2025, 6, 20, 14, 30, 0, 0, time.UTC)
	rec.Open("MZ123", "CA1234567890abcdef", start, testContext())

	path, ok := rec.Path("MZ123")
	if !ok {
		t.Fatal("expected open transcript")
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "20250620_143000_Alex-Rivera_") {
		t.Errorf("filename = %q, want timestamp + sanitized name prefix", base)
	}
	if !strings.Contains(base, "90abcdef") {
		t.Errorf("filename = %q, want last 8 of call SID", base)
	}

	rec.Append("MZ123", SpeakerUser, "Yes, this is Alex.")
	rec.Append("MZ123", AgentSpeaker("Sarah"), "Great! Is now a good time to talk?")
	rec.Close("MZ123")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	for _, want := range []string{
		"AI Interview Call Transcript",
		"Candidate: Alex Rivera",
		"Job Title: Backend Engineer",
		"Call SID: CA1234567890abcdef",
		"Stream SID: MZ123",
		"User: Yes, this is Alex.",
		"AI Assistant (Sarah): Great! Is now a good time to talk?",
		"Call ended:",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("transcript missing %q\n%s", want, content)
		}
	}

	// User line must precede the agent line (write order preserved).
	if strings.Index(content, "User:") > strings.Index(content, "AI Assistant") {
		t.Error("transcript lines out of order")
	}
}

func TestRecorder_AppendWithoutOpenIsNoop(t *testing.T) {
	rec := NewRecorder(t.TempDir(), nil, nil)
	rec.Append("MZ404", SpeakerUser, "hello?")
	rec.Close("MZ404")
}

func TestRecorder_CloseTwice(t *testing.T) {
	rec := NewRecorder(t.TempDir(), nil, nil)
	rec.Open("MZ1", "CA1", time.Now(), callcontext.Context{})
	rec.Close("MZ1")
	rec.Close("MZ1")
}

func TestRecorder_OpenFailureDoesNotPanic(t *testing.T) {
	// A file where the directory should be makes MkdirAll fail.
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := NewRecorder(blocked, nil, nil)
	rec.Open("MZ1", "CA1", time.Now(), testContext())

	// The call proceeds without a transcript.
	if _, ok := rec.Path("MZ1"); ok {
		t.Error("expected no open transcript after failed open")
	}
	rec.Append("MZ1", SpeakerUser, "still talking")
	rec.Close("MZ1")
}

func TestRecorder_SkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(dir, nil, nil)
	rec.Open("MZ1", "CA1", time.Now(), testContext())
	path, _ := rec.Path("MZ1")

	rec.Append("MZ1", SpeakerUser, "   ")
	rec.Close("MZ1")

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "User:") {
		t.Error("blank utterance should not be written")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alex Rivera", "Alex-Rivera"},
		{"", "unknown"},
		{"  ", "unknown"},
		{"José García", "Jos-Garca"},
		{"../../etc/passwd", "etcpasswd"},
		{"O'Brien", "OBrien"},
		{"---", "unknown"},
	}

	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAccumulator(t *testing.T) {
	var acc Accumulator

	if !acc.Empty() {
		t.Fatal("new accumulator should be empty")
	}

	acc.Add("Let me confirm ")
	acc.Add("the interview on ")
	acc.Add("06-29-2025 at 04:30 PM.")

	if acc.Empty() {
		t.Fatal("accumulator should have pending text")
	}

	got := acc.Take()
	want := "Let me confirm the interview on 06-29-2025 at 04:30 PM."
	if got != want {
		t.Errorf("Take() = %q, want %q", got, want)
	}
	if !acc.Empty() {
		t.Error("Take must reset the accumulator")
	}
}
