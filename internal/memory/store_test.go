package memory

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func contents(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Content
	}
	return out
}

func TestStore_EvictionDeterministicOnTies(t *testing.T) {
	clock := &fakeClock{now: epoch}
	s := NewStore("narrative", 3, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		s.Add(Record{Content: fmt.Sprintf("memory %d", i), Importance: 5})
	}

	require.Equal(t, 3, s.Len())
	// Identical importance and timestamp: oldest insertions go first.
	assert.Equal(t, []string{"memory 7", "memory 8", "memory 9"}, contents(s.Export()))
}

func TestStore_EvictionOrder(t *testing.T) {
	clock := &fakeClock{now: epoch}
	s := NewStore("narrative", 3, WithClock(clock.Now))

	s.Add(Record{Content: "vital clue", Importance: 9})
	clock.Advance(time.Minute)
	s.Add(Record{Content: "old trivia", Importance: 1})
	clock.Advance(time.Minute)
	s.Add(Record{Content: "new trivia", Importance: 1})
	clock.Advance(time.Minute)
	s.Add(Record{Content: "moderate", Importance: 5})

	// Lowest importance, then oldest timestamp, is evicted; order is preserved.
	assert.Equal(t, []string{"vital clue", "new trivia", "moderate"}, contents(s.Export()))

	s.Add(Record{Content: "another", Importance: 5})
	assert.Equal(t, []string{"vital clue", "moderate", "another"}, contents(s.Export()))
}

func TestStore_AddFillsDefaults(t *testing.T) {
	clock := &fakeClock{now: epoch}
	s := NewStore("rules", 10, WithClock(clock.Now), WithDefaultImportance(7))

	r := s.Add(Record{Content: "x", Importance: -1})
	assert.NotEmpty(t, r.ID)
	assert.Len(t, r.ID, 26)
	assert.Equal(t, epoch, r.Timestamp)
	assert.Equal(t, 7, r.Importance)

	r = s.Add(Record{Content: "y", Importance: 42})
	assert.Equal(t, MaxImportance, r.Importance)

	r2 := s.Remember("z", "observation", 3)
	assert.NotEqual(t, r.ID, r2.ID)
	assert.Equal(t, "observation", r2.Type)
}

func TestStore_PreEpochTimestampsGetIDs(t *testing.T) {
	expedition := time.Date(1925, 3, 1, 22, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: expedition}
	s := NewStore("narrative", 10, WithClock(clock.Now))

	var r Record
	require.NotPanics(t, func() {
		r = s.Add(Record{Content: "The Emma sails from Auckland", Timestamp: expedition})
	})
	assert.Len(t, r.ID, 26)
	assert.Equal(t, expedition, r.Timestamp)

	require.NotPanics(t, func() {
		s.Import([]Record{
			{Content: "Johansen's diary", Timestamp: expedition.Add(-time.Hour)},
			{Content: "The Alert is boarded", Timestamp: expedition},
		})
	})
	recs := s.Export()
	require.Len(t, recs, 2)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
	for _, rec := range recs {
		assert.Len(t, rec.ID, 26)
	}
}

func TestStore_RelevantDoorExample(t *testing.T) {
	clock := &fakeClock{now: epoch}
	s := NewStore("narrative", 100, WithClock(clock.Now))

	s.Add(Record{Content: "The storm rattles the shutters", Importance: 8})
	s.Add(Record{Content: "A heavy oak door stands at the end of the hall", Importance: 4})
	s.Add(Record{Content: "The librarian warned about the cellar", Importance: 6})
	clock.Advance(10 * time.Minute)

	top := s.Relevant([]string{"door", "examine"}, 1)
	require.Len(t, top, 1)
	assert.Contains(t, strings.ToLower(top[0].Content), "door")
}

func TestStore_RelevantScoring(t *testing.T) {
	clock := &fakeClock{now: epoch}
	s := NewStore("narrative", 100, WithClock(clock.Now))

	s.Add(Record{Content: "examine the door", Importance: 10})
	clock.Advance(time.Hour)

	got := s.Relevant([]string{"DOOR", "examine"}, 0)
	require.Len(t, got, 1)
	// 0.4*1 + 0.3*(1/(1+1)) + 0.3*1
	assert.InDelta(t, 0.85, got[0].Score, 1e-9)
}

func TestStore_RelevantTieBreaks(t *testing.T) {
	clock := &fakeClock{now: epoch}
	s := NewStore("narrative", 100, WithClock(clock.Now))

	s.Add(Record{Content: "first", Importance: 5})
	s.Add(Record{Content: "second", Importance: 5})
	clock.Advance(-time.Second)
	s.Add(Record{Content: "older", Importance: 5})
	clock.Advance(time.Second)

	got := s.Relevant(nil, 0)
	names := make([]string, len(got))
	for i, g := range got {
		names[i] = g.Content
	}
	// "older" has a slightly lower recency score; among equal scores the
	// later insertion wins.
	assert.Equal(t, []string{"second", "first", "older"}, names)
}

func TestStore_RelevantIsPure(t *testing.T) {
	s := NewStore("narrative", 10)
	s.Remember("door", "exchange", 5)
	before := s.Export()
	_ = s.Relevant([]string{"door"}, 5)
	if diff := cmp.Diff(before, s.Export(), cmp.AllowUnexported(Record{})); diff != "" {
		t.Errorf("Relevant mutated the store (-before +after):\n%s", diff)
	}
}

func TestStore_ImportExportAndStats(t *testing.T) {
	clock := &fakeClock{now: epoch}
	src := NewStore("continuity", 10, WithClock(clock.Now))
	src.Remember("a", "exchange", 2)
	src.Remember("b", "exchange", 2)
	src.Remember("c", "flag", 9)

	dst := NewStore("continuity", 2, WithClock(clock.Now))
	dst.Import(src.Export())

	assert.Equal(t, []string{"b", "c"}, contents(dst.Export()))

	st := dst.Stats()
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 2, st.Capacity)
	assert.Equal(t, map[string]int{"exchange": 1, "flag": 1}, st.ByType)
	assert.Equal(t, epoch, st.Oldest)

	dst.Clear()
	assert.Equal(t, 0, dst.Len())
	assert.Empty(t, dst.Relevant([]string{"a"}, 3))
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := NewStore("narrative", 50)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Remember(fmt.Sprintf("w%d-%d", w, i), "exchange", i%10)
				_ = s.Relevant([]string{"w1"}, 3)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	seen := make(map[string]bool)
	for _, r := range s.Export() {
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestRegistry_PerAgentStores(t *testing.T) {
	reg := NewRegistry(5)
	a := reg.Store("narrative")
	b := reg.Store("rules")
	assert.Same(t, a, reg.Store("narrative"))
	assert.NotSame(t, a, b)
	assert.Equal(t, 5, a.Capacity())

	a.Remember("x", "exchange", 5)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []string{"narrative", "rules"}, reg.Agents())

	stats := reg.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats[0].Count)
}
