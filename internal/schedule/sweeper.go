package schedule

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aimhi-ai/callbridge/internal/observability"
)

// Result pairs a transcript file with its extraction outcome.
type Result struct {
	File  string
	Slot  Slot
	Found bool
}

// Sweeper runs slot extraction across a transcripts directory. It backs the
// `extract` CLI command and the periodic sweep inside `serve`.
type Sweeper struct {
	dir       string
	extractor *Extractor
	llm       *LLMExtractor // nil disables the fallback
	logger    *observability.Logger
}

// NewSweeper creates a sweeper over dir. llm may be nil.
func NewSweeper(dir string, llm *LLMExtractor, logger *observability.Logger) *Sweeper {
	return &Sweeper{
		dir:       dir,
		extractor: &Extractor{},
		llm:       llm,
		logger:    logger,
	}
}

// ProcessAll extracts slots from every transcript file in the directory.
// A missing directory yields no results and no error (nothing recorded yet).
func (s *Sweeper) ProcessAll(ctx context.Context) ([]Result, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	results := make([]Result, 0, len(names))
	for _, name := range names {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}
		results = append(results, s.processFile(ctx, filepath.Join(s.dir, name)))
	}
	return results, nil
}

// ProcessFile extracts the slot from a single transcript file.
func (s *Sweeper) ProcessFile(ctx context.Context, path string) (Result, error) {
	if _, err := os.Stat(path); err != nil {
		return Result{File: path}, err
	}
	return s.processFile(ctx, path), nil
}

func (s *Sweeper) processFile(ctx context.Context, path string) Result {
	result := Result{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "Skipping unreadable transcript", "path", path, "error", err)
		}
		return result
	}
	content := string(data)

	if slot, ok := s.extractor.Extract(content); ok {
		result.Slot = slot
		result.Found = true
	} else if s.llm != nil {
		slot, ok, err := s.llm.Extract(ctx, content)
		if err != nil && s.logger != nil {
			s.logger.Warn(ctx, "LLM slot extraction failed", "path", path, "error", err)
		}
		if ok {
			result.Slot = slot
			result.Found = true
		}
	}

	if s.logger != nil {
		if result.Found {
			s.logger.Info(ctx, "Interview slot extracted",
				"path", filepath.Base(path),
				"date", result.Slot.FormattedDate,
				"time", result.Slot.FormattedTime,
				"method", result.Slot.Method)
		} else {
			s.logger.Info(ctx, "No interview slot found", "path", filepath.Base(path))
		}
	}
	return result
}
