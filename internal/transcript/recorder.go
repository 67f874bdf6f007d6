// Package transcript records per-call conversation logs as append-only
// text files, one per call.
package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aimhi-ai/callbridge/internal/callcontext"
	"github.com/aimhi-ai/callbridge/internal/observability"
)

// SpeakerUser tags the remote party's transcribed utterances.
const SpeakerUser = "User"

// AgentSpeaker returns the tag used for the AI agent's utterances.
func AgentSpeaker(agentName string) string {
	return "AI Assistant (" + agentName + ")"
}

const headerRule = "=================================================="

// Recorder writes call transcripts under a transcripts directory.
//
// Recording is best-effort: if the directory or file cannot be created the
// failure is logged and the call proceeds without a transcript. Append and
// Close are no-ops for sessions with no open file. Thread safe.
type Recorder struct {
	dir     string
	logger  *observability.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	files map[string]*logFile // keyed by stream SID
}

type logFile struct {
	f    *os.File
	path string
}

// NewRecorder creates a recorder writing under dir.
func NewRecorder(dir string, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		dir:     dir,
		logger:  logger,
		metrics: metrics,
		files:   make(map[string]*logFile),
	}
}

// Open creates the transcript file for a call and writes the header block.
//
// The filename is deterministic: start timestamp, sanitized candidate name,
// and the last 8 characters of the call SID, keeping files human-sortable
// and collision-free.
func (r *Recorder) Open(streamSID, callSID string, start time.Time, callCtx callcontext.Context) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.warn("create transcripts dir", err)
		return
	}

	name := SanitizeName(callCtx.CandidateName)
	filename := fmt.Sprintf("%s_%s_%s.txt", start.Format("20060102_150405"), name, lastN(callSID, 8))
	path := filepath.Join(r.dir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		r.warn("open transcript file", err)
		return
	}

	var header strings.Builder
	header.WriteString("AI Interview Call Transcript\n")
	if callCtx.CandidateName != "" {
		fmt.Fprintf(&header, "Candidate: %s\n", callCtx.CandidateName)
	}
	if callCtx.Job.Title != "" {
		fmt.Fprintf(&header, "Job Title: %s\n", callCtx.Job.Title)
	}
	fmt.Fprintf(&header, "Call SID: %s\n", callSID)
	fmt.Fprintf(&header, "Stream SID: %s\n", streamSID)
	fmt.Fprintf(&header, "Date: %s\n", start.Format("2006-01-02 15:04:05"))
	header.WriteString(headerRule + "\n\n")

	if _, err := f.WriteString(header.String()); err != nil {
		r.warn("write transcript header", err)
		f.Close()
		return
	}
	f.Sync()

	r.mu.Lock()
	r.files[streamSID] = &logFile{f: f, path: path}
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info(context.Background(), "Transcript file opened", "path", path)
	}
}

// Append writes one timestamped speaker line. No-op without an open file.
func (r *Recorder) Append(streamSID, speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	r.mu.Lock()
	lf := r.files[streamSID]
	r.mu.Unlock()
	if lf == nil {
		return
	}

	line := fmt.Sprintf("[%s] %s: %s\n\n", time.Now().Format("15:04:05"), speaker, text)
	if _, err := lf.f.WriteString(line); err != nil {
		r.warn("write transcript line", err)
		return
	}
	lf.f.Sync()

	if r.metrics != nil {
		label := "agent"
		if speaker == SpeakerUser {
			label = "user"
		}
		r.metrics.TranscriptLines.WithLabelValues(label).Inc()
	}
}

// Close writes the footer with the end time and releases the file handle.
// No-op without an open file; safe to call more than once.
func (r *Recorder) Close(streamSID string) {
	r.mu.Lock()
	lf := r.files[streamSID]
	delete(r.files, streamSID)
	r.mu.Unlock()
	if lf == nil {
		return
	}

	footer := fmt.Sprintf("\n%s\nCall ended: %s\n", headerRule, time.Now().Format("2006-01-02 15:04:05"))
	if _, err := lf.f.WriteString(footer); err != nil {
		r.warn("write transcript footer", err)
	}
	if err := lf.f.Close(); err != nil {
		r.warn("close transcript file", err)
	}

	if r.logger != nil {
		r.logger.Info(context.Background(), "Transcript file closed", "path", lf.path)
	}
}

// Path returns the transcript path for an open session, if any.
func (r *Recorder) Path(streamSID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lf, ok := r.files[streamSID]
	if !ok {
		return "", false
	}
	return lf.path, true
}

func (r *Recorder) warn(op string, err error) {
	if r.logger != nil {
		r.logger.Warn(context.Background(), "Transcript recording degraded", "op", op, "error", err)
	}
	if r.metrics != nil {
		r.metrics.ErrorCounter.WithLabelValues("transcript", "io").Inc()
	}
}

// SanitizeName reduces a candidate name to a filename-safe token.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteByte('-')
		}
	}

	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "unknown"
	}
	return out
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
