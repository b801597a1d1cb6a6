package main

import (
	"sync"
	"time"
)

// Stats keeps in-memory counters for the /health endpoint.
type Stats struct {
	mu            sync.Mutex
	started       time.Time
	imports       int64
	succeeded     int64
	failures      map[string]int64
	coversSaved   int64
	coversDropped int64
	totalDuration time.Duration
}

// StatsSnapshot is the JSON form of Stats.
type StatsSnapshot struct {
	Uptime            string           `json:"uptime"`
	Imports           int64            `json:"imports"`
	Succeeded         int64            `json:"succeeded"`
	Failures          map[string]int64 `json:"failures"`
	CoversSaved       int64            `json:"covers_saved"`
	CoversDropped     int64            `json:"covers_dropped"`
	AvgImportDuration string           `json:"avg_import_duration"`
}

func NewStats() *Stats {
	return &Stats{started: time.Now(), failures: make(map[string]int64)}
}

func (s *Stats) recordImport(d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imports++
	s.totalDuration += d
	if err == nil {
		s.succeeded++
		return
	}
	s.failures[errorKind(err).String()]++
}

func (s *Stats) recordCover(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.coversDropped++
		return
	}
	s.coversSaved++
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg time.Duration
	if s.imports > 0 {
		avg = s.totalDuration / time.Duration(s.imports)
	}
	failures := make(map[string]int64, len(s.failures))
	for k, v := range s.failures {
		failures[k] = v
	}
	return StatsSnapshot{
		Uptime:            time.Since(s.started).Round(time.Second).String(),
		Imports:           s.imports,
		Succeeded:         s.succeeded,
		Failures:          failures,
		CoversSaved:       s.coversSaved,
		CoversDropped:     s.coversDropped,
		AvgImportDuration: avg.String(),
	}
}
