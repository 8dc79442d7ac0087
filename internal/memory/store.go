// Package memory holds the bounded per-agent memory stores that feed agent
// prompts, plus the SQLite archive used to resume a session.
package memory

import (
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"eldritch/internal/logging"

	"github.com/oklog/ulid/v2"
)

// Relevance weights. They sum to 1 so a perfect record scores 1.0.
const (
	keywordWeight    = 0.4
	recencyWeight    = 0.3
	importanceWeight = 0.3

	// Recency halves after one hour.
	recencyScale = 3600.0

	MaxImportance = 10
)

// Record is one remembered exchange or observation. Records are never
// mutated after they enter a store.
type Record struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	Importance int            `json:"importance"`
	Type       string         `json:"type"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	seq uint64
}

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store clock.
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDefaultImportance sets the importance given to records added with a
// negative importance.
func WithDefaultImportance(v int) Option {
	return func(s *Store) {
		s.defaultImportance = clampImportance(v)
	}
}

// Store is a bounded, per-agent memory. Writers are serialized by mu;
// readers load the published snapshot and never block.
type Store struct {
	agentID           string
	capacity          int
	clock             Clock
	defaultImportance int

	mu      sync.Mutex
	entropy io.Reader
	nextSeq uint64

	records atomic.Pointer[[]Record]
}

// NewStore creates an empty store bounded at capacity records.
func NewStore(agentID string, capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	s := &Store{
		agentID:           agentID,
		capacity:          capacity,
		clock:             time.Now,
		defaultImportance: 5,
		entropy:           ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	empty := []Record{}
	s.records.Store(&empty)
	return s
}

// AgentID returns the owning agent.
func (s *Store) AgentID() string { return s.agentID }

// Capacity returns the maximum number of records kept.
func (s *Store) Capacity() int { return s.capacity }

// Len returns the current number of records.
func (s *Store) Len() int { return len(s.snapshot()) }

func (s *Store) snapshot() []Record {
	return *s.records.Load()
}

// Add inserts a record and evicts down to capacity. Missing ID and
// Timestamp are filled in; importance is clamped to 0-10. The stored
// record is returned.
func (s *Store) Add(r Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	if r.ID == "" {
		r.ID = s.newID(r.Timestamp)
	}
	if r.Importance < 0 {
		r.Importance = s.defaultImportance
	}
	r.Importance = clampImportance(r.Importance)
	r.Metadata = copyMetadata(r.Metadata)
	r.seq = s.nextSeq
	s.nextSeq++

	cur := s.snapshot()
	next := make([]Record, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, r)

	if len(next) > s.capacity {
		next = s.evict(next)
	}
	s.records.Store(&next)

	logging.MemoryDebug("[%s] added %s (type=%s importance=%d) size=%d", s.agentID, r.ID, r.Type, r.Importance, len(next))
	return r
}

// newID derives a ULID from ts. Timestamps outside the ULID range (before
// 1970, after 10889) fall back to the store clock, then the wall clock.
// Caller holds mu.
func (s *Store) newID(ts time.Time) string {
	for _, t := range []time.Time{ts, s.clock(), time.Now()} {
		if id, err := ulid.New(ulid.Timestamp(t), s.entropy); err == nil {
			return id.String()
		}
	}
	return ulid.Make().String()
}

// Remember is a convenience wrapper around Add.
func (s *Store) Remember(content, recordType string, importance int) Record {
	return s.Add(Record{Content: content, Type: recordType, Importance: importance})
}

// Cleanup evicts down to capacity. It is called by Add and only does work
// after Import or a capacity change.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot()
	if len(cur) <= s.capacity {
		return 0
	}
	next := s.evict(append([]Record(nil), cur...))
	s.records.Store(&next)
	return len(cur) - len(next)
}

// evict removes exactly len(recs)-capacity records chosen by the total
// order (importance, timestamp, seq) ascending. Survivors keep insertion
// order. Caller holds mu.
func (s *Store) evict(recs []Record) []Record {
	excess := len(recs) - s.capacity
	if excess <= 0 {
		return recs
	}

	order := make([]int, len(recs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return evictsBefore(recs[order[a]], recs[order[b]])
	})

	victims := make(map[uint64]bool, excess)
	for _, idx := range order[:excess] {
		victims[recs[idx].seq] = true
	}

	kept := make([]Record, 0, s.capacity)
	for _, r := range recs {
		if !victims[r.seq] {
			kept = append(kept, r)
		}
	}

	logging.Memory("[%s] evicted %d records, %d remain", s.agentID, excess, len(kept))
	logging.Audit().MemoryEvict(s.agentID, excess, len(kept))
	return kept
}

// evictsBefore is a strict total order: seq is unique per store.
func evictsBefore(a, b Record) bool {
	if a.Importance != b.Importance {
		return a.Importance < b.Importance
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.seq < b.seq
}

// Scored pairs a record with its relevance score.
type Scored struct {
	Record
	Score float64 `json:"score"`
}

// Relevant returns up to limit records ranked by relevance to keywords.
// A non-positive limit returns every record. It never modifies the store.
func (s *Store) Relevant(keywords []string, limit int) []Scored {
	recs := s.snapshot()
	if len(recs) == 0 {
		return nil
	}

	kws := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kws = append(kws, k)
		}
	}

	now := s.clock()
	scored := make([]Scored, len(recs))
	for i, r := range recs {
		scored[i] = Scored{Record: r, Score: score(r, kws, now)}
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.seq > b.seq
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func score(r Record, keywords []string, now time.Time) float64 {
	var kw float64
	if len(keywords) > 0 {
		content := strings.ToLower(r.Content)
		hits := 0
		for _, k := range keywords {
			if strings.Contains(content, k) {
				hits++
			}
		}
		kw = float64(hits) / float64(len(keywords))
	}

	age := now.Sub(r.Timestamp).Seconds()
	if age < 0 {
		age = 0
	}
	recency := 1.0 / (1.0 + age/recencyScale)
	importance := float64(r.Importance) / MaxImportance

	return keywordWeight*kw + recencyWeight*recency + importanceWeight*importance
}

// Recent returns the newest n records, oldest first.
func (s *Store) Recent(n int) []Record {
	recs := s.snapshot()
	if n <= 0 || n > len(recs) {
		n = len(recs)
	}
	return append([]Record(nil), recs[len(recs)-n:]...)
}

// Export returns a copy of all records in insertion order.
func (s *Store) Export() []Record {
	recs := s.snapshot()
	out := make([]Record, len(recs))
	for i, r := range recs {
		r.Metadata = copyMetadata(r.Metadata)
		out[i] = r
	}
	return out
}

// Import replaces the store contents with records, keeping their order as
// insertion order, then evicts down to capacity.
func (s *Store) Import(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Timestamp.IsZero() {
			r.Timestamp = s.clock()
		}
		if r.ID == "" {
			r.ID = s.newID(r.Timestamp)
		}
		r.Importance = clampImportance(r.Importance)
		r.Metadata = copyMetadata(r.Metadata)
		r.seq = s.nextSeq
		s.nextSeq++
		next = append(next, r)
	}
	if len(next) > s.capacity {
		next = s.evict(next)
	}
	s.records.Store(&next)
	logging.Memory("[%s] imported %d records", s.agentID, len(next))
}

// Clear drops every record.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	empty := []Record{}
	s.records.Store(&empty)
}

// Stats summarizes a store.
type Stats struct {
	AgentID  string         `json:"agent_id"`
	Count    int            `json:"count"`
	Capacity int            `json:"capacity"`
	ByType   map[string]int `json:"by_type"`
	Oldest   time.Time      `json:"oldest,omitempty"`
	Newest   time.Time      `json:"newest,omitempty"`
}

// Stats reports size and a per-type histogram.
func (s *Store) Stats() Stats {
	recs := s.snapshot()
	st := Stats{
		AgentID:  s.agentID,
		Count:    len(recs),
		Capacity: s.capacity,
		ByType:   make(map[string]int),
	}
	for _, r := range recs {
		st.ByType[r.Type]++
		if st.Oldest.IsZero() || r.Timestamp.Before(st.Oldest) {
			st.Oldest = r.Timestamp
		}
		if r.Timestamp.After(st.Newest) {
			st.Newest = r.Timestamp
		}
	}
	return st
}

func clampImportance(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
