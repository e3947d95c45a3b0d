package main

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrTooManyMatches = errors.New("too many active matches")

// MatchManager handles creation, lookup and cleanup of matches
type MatchManager struct {
	mu      sync.RWMutex
	matches map[string]*Match
	created map[string]time.Time

	settings    MatchSettings
	maxMatches  int
	idleTimeout time.Duration
	results     ResultRecorder
	metrics     *Metrics
	log         zerolog.Logger
}

// NewMatchManager creates an empty registry. results and metrics may be nil.
func NewMatchManager(settings MatchSettings, maxMatches int, idleTimeout time.Duration, results ResultRecorder, metrics *Metrics, log zerolog.Logger) *MatchManager {
	return &MatchManager{
		matches:     make(map[string]*Match),
		created:     make(map[string]time.Time),
		settings:    settings,
		maxMatches:  maxMatches,
		idleTimeout: idleTimeout,
		results:     results,
		metrics:     metrics,
		log:         log,
	}
}

// CreateMatch starts a new match goroutine
func (mm *MatchManager) CreateMatch(name string) (*Match, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if len(mm.matches) >= mm.maxMatches {
		return nil, ErrTooManyMatches
	}

	id := GenerateUUID()
	m, err := NewMatch(id, name, mm.settings, mm.results, mm.metrics, mm.log)
	if err != nil {
		return nil, err
	}
	m.OnEmpty(func() { mm.RemoveMatch(id) })
	mm.matches[id] = m
	mm.created[id] = time.Now()
	go m.Run()

	mm.log.Info().Str("match", id).Str("name", name).Msg("match created")
	return m, nil
}

// GetMatch returns a match by ID, or nil
func (mm *MatchManager) GetMatch(id string) *Match {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.matches[id]
}

// RemoveMatch stops and forgets a match
func (mm *MatchManager) RemoveMatch(id string) {
	mm.mu.Lock()
	m, ok := mm.matches[id]
	delete(mm.matches, id)
	delete(mm.created, id)
	mm.mu.Unlock()

	if ok {
		m.Stop()
		mm.log.Info().Str("match", id).Msg("match removed")
	}
}

// ListMatches returns info about all active matches, oldest first
func (mm *MatchManager) ListMatches() []MatchInfo {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	ids := make([]string, 0, len(mm.matches))
	for id := range mm.matches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return mm.created[ids[i]].Before(mm.created[ids[j]])
	})

	list := make([]MatchInfo, 0, len(ids))
	for _, id := range ids {
		list = append(list, mm.matches[id].Info())
	}
	return list
}

// Count returns the number of active matches
func (mm *MatchManager) Count() int {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return len(mm.matches)
}

// RunReaper removes matches nobody has been seated in for the idle timeout
func (mm *MatchManager) RunReaper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			mm.reap(now)
		}
	}
}

func (mm *MatchManager) reap(now time.Time) int {
	mm.mu.RLock()
	var stale []string
	for id, m := range mm.matches {
		since := m.EmptySince()
		if !since.IsZero() && now.Sub(since) >= mm.idleTimeout {
			stale = append(stale, id)
		}
	}
	mm.mu.RUnlock()

	for _, id := range stale {
		mm.RemoveMatch(id)
	}
	return len(stale)
}

// StopAll stops every match, for shutdown
func (mm *MatchManager) StopAll() {
	mm.mu.Lock()
	matches := mm.matches
	mm.matches = make(map[string]*Match)
	mm.created = make(map[string]time.Time)
	mm.mu.Unlock()

	for _, m := range matches {
		m.Stop()
	}
}
