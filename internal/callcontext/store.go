// Package callcontext stores per-candidate personalization for calls that
// are about to be, or have just been, dialed.
//
// Context moves through two tiers: a staged "ready" slot for the next call
// (set before the telephony leg connects, so the opening line is personalized
// with zero lookup latency) and a map keyed by provider call SID once the SID
// is known. Both tiers are mirrored to durable storage so a process restart
// does not lose context for calls already dialed.
package callcontext

import (
	"context"
	"strings"
	"sync"

	"github.com/aimhi-ai/callbridge/internal/observability"
)

// JobDetails describes the role a candidate is being called about.
type JobDetails struct {
	Title       string `json:"title"`
	Seniority   string `json:"seniority,omitempty"`
	Type        string `json:"type,omitempty"`
	Keywords    string `json:"keywords,omitempty"`
	Description string `json:"description,omitempty"`
}

// Context is the personalization attached to one call.
type Context struct {
	CandidateName   string     `json:"candidateName"`
	Job             JobDetails `json:"jobDetails"`
	MatchPercentage float64    `json:"matchPercentage,omitempty"`
}

// FirstName returns the candidate's first name, used by the opening script.
func (c Context) FirstName() string {
	name := strings.TrimSpace(c.CandidateName)
	if name == "" {
		return ""
	}
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}

// IsZero reports whether no context is present.
func (c Context) IsZero() bool {
	return c.CandidateName == "" && c.Job == (JobDetails{})
}

// Source identifies which tier satisfied a context resolution.
type Source string

const (
	SourceAttached Source = "attached"
	SourceStaged   Source = "staged"
	SourceNone     Source = "none"
)

// Backend persists the store's tiers. Implementations must treat a missing
// durable record as empty, not as an error.
type Backend interface {
	// WriteStaged persists the staged "next call" slot.
	WriteStaged(ctx Context) error

	// WriteBatch persists the batch of simultaneously initiated calls,
	// keyed by candidate key, as a single durable record.
	WriteBatch(batch map[string]Context) error

	// WriteAttached persists the call-SID-keyed tier.
	WriteAttached(attached map[string]Context) error

	// Load restores all tiers. A nil staged pointer means no staged slot.
	Load() (staged *Context, batch map[string]Context, attached map[string]Context, err error)
}

// Store is the in-memory context store with a durable mirror.
//
// Persistence failures are logged and swallowed: loss of the durable copy
// must never take down an active call. Thread safe.
type Store struct {
	mu       sync.RWMutex
	staged   *Context
	batch    map[string]Context
	attached map[string]Context

	backend Backend
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewStore creates a store and reloads any durable state through the backend.
func NewStore(backend Backend, logger *observability.Logger, metrics *observability.Metrics) *Store {
	s := &Store{
		batch:    make(map[string]Context),
		attached: make(map[string]Context),
		backend:  backend,
		logger:   logger,
		metrics:  metrics,
	}

	staged, batch, attached, err := backend.Load()
	if err != nil {
		s.warnPersist("reload", err)
	} else {
		s.staged = staged
		if batch != nil {
			s.batch = batch
		}
		if attached != nil {
			s.attached = attached
		}
	}
	return s
}

// Prepare stages context for the very next call, overwriting any prior
// staged context, and persists it.
func (s *Store) Prepare(candidateName string, job JobDetails) {
	c := Context{CandidateName: candidateName, Job: job}

	s.mu.Lock()
	s.staged = &c
	s.mu.Unlock()

	if err := s.backend.WriteStaged(c); err != nil {
		s.warnPersist("staged", err)
	}
}

// PrepareBatch stages context for multiple simultaneously initiated calls,
// keyed by candidate key, persisted as a single durable record.
func (s *Store) PrepareBatch(batch map[string]Context) {
	copied := make(map[string]Context, len(batch))
	for k, v := range batch {
		copied[k] = v
	}

	s.mu.Lock()
	s.batch = copied
	s.mu.Unlock()

	if err := s.backend.WriteBatch(copied); err != nil {
		s.warnPersist("batch", err)
	}
}

// Attach binds context to a known call SID once the provider reports it.
func (s *Store) Attach(callSID, candidateName string, job JobDetails) {
	s.mu.Lock()
	s.attached[callSID] = Context{CandidateName: candidateName, Job: job}
	snapshot := s.snapshotAttachedLocked()
	s.mu.Unlock()

	if err := s.backend.WriteAttached(snapshot); err != nil {
		s.warnPersist("attached", err)
	}
}

// Lookup returns the context attached to a call SID. Read-only: calling it
// repeatedly for the same SID returns identical results.
func (s *Store) Lookup(callSID string) (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.attached[callSID]
	return c, ok
}

// LookupBatch returns a batch entry by candidate key.
func (s *Store) LookupBatch(candidateKey string) (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.batch[candidateKey]
	return c, ok
}

// ConsumeReady returns the staged "next call" context. The slot is
// deliberately not cleared: back-to-back calls dialed for the same candidate
// reuse it, and it is only removed administratively via Clear.
func (s *Store) ConsumeReady() (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.staged == nil {
		return Context{}, false
	}
	return *s.staged, true
}

// Resolve returns the context for a starting call using the ordered policy
// attached-by-call-SID, then staged, then none.
func (s *Store) Resolve(callSID string) (Context, Source) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.attached[callSID]; ok {
		s.countLookup(SourceAttached)
		return c, SourceAttached
	}
	if s.staged != nil {
		s.countLookup(SourceStaged)
		return *s.staged, SourceStaged
	}
	s.countLookup(SourceNone)
	return Context{}, SourceNone
}

// Clear removes the context attached to one call SID.
func (s *Store) Clear(callSID string) {
	s.mu.Lock()
	delete(s.attached, callSID)
	snapshot := s.snapshotAttachedLocked()
	s.mu.Unlock()

	if err := s.backend.WriteAttached(snapshot); err != nil {
		s.warnPersist("attached", err)
	}
}

// ClearAll wipes all staged, batch and attached context plus durable copies.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.staged = nil
	s.batch = make(map[string]Context)
	s.attached = make(map[string]Context)
	s.mu.Unlock()

	if err := s.backend.WriteStaged(Context{}); err != nil {
		s.warnPersist("staged", err)
	}
	if err := s.backend.WriteBatch(map[string]Context{}); err != nil {
		s.warnPersist("batch", err)
	}
	if err := s.backend.WriteAttached(map[string]Context{}); err != nil {
		s.warnPersist("attached", err)
	}
}

// Snapshot returns copies of all tiers, for inspection commands.
func (s *Store) Snapshot() (staged *Context, batch, attached map[string]Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.staged != nil {
		c := *s.staged
		staged = &c
	}
	batch = make(map[string]Context, len(s.batch))
	for k, v := range s.batch {
		batch[k] = v
	}
	attached = s.snapshotAttachedLocked()
	return staged, batch, attached
}

func (s *Store) snapshotAttachedLocked() map[string]Context {
	snapshot := make(map[string]Context, len(s.attached))
	for k, v := range s.attached {
		snapshot[k] = v
	}
	return snapshot
}

func (s *Store) countLookup(src Source) {
	if s.metrics != nil {
		s.metrics.ContextLookups.WithLabelValues(string(src)).Inc()
	}
}

func (s *Store) warnPersist(record string, err error) {
	if s.logger != nil {
		s.logger.Warn(context.Background(), "Context persistence failed; continuing in memory",
			"record", record, "error", err)
	}
	if s.metrics != nil {
		s.metrics.ErrorCounter.WithLabelValues("contextstore", "persist").Inc()
	}
}
