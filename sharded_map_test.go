package hashsmith

import (
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

func newShardedForTest[K comparable, V any](t *testing.T, options ...func(*MapConfig)) *ShardedMap[K, V] {
	t.Helper()
	m, err := NewShardedMap[K, V](options...)
	if err != nil {
		t.Fatalf("NewShardedMap: %v", err)
	}
	return m
}

// forEachShardedEngine runs fn against a ShardedMap of every engine kind.
func forEachShardedEngine(t *testing.T, fn func(t *testing.T, engine EngineKind)) {
	for _, kind := range []EngineKind{EngineSwiss, EngineRobinHood} {
		t.Run(kind.String(), func(t *testing.T) {
			fn(t, kind)
		})
	}
}

// keysInDistinctShards returns two int keys routed to different shards.
func keysInDistinctShards[V any](m *ShardedMap[int, V]) (a, b int) {
	ia := m.shardIndex(m.Hash(a))
	for b = 1; m.shardIndex(m.Hash(b)) == ia; b++ {
	}
	return a, b
}

func TestShardedMap_ShardCount(t *testing.T) {
	def := newShardedForTest[int, int](t)
	if want := ceilingPowerOfTwo(4 * runtime.GOMAXPROCS(0)); def.ShardCount() != want {
		t.Fatalf("default shards=%d want %d", def.ShardCount(), want)
	}

	cases := []struct {
		requested, want int
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{5, 8},
		{64, 64},
		{100, 128},
	}
	for _, c := range cases {
		m := newShardedForTest[int, int](t, WithShardCount(c.requested))
		if m.ShardCount() != c.want {
			t.Fatalf("WithShardCount(%d): %d shards, want %d", c.requested, m.ShardCount(), c.want)
		}
		if 1<<m.shardBits != c.want {
			t.Fatalf("shardBits=%d for %d shards", m.shardBits, c.want)
		}
	}
}

func TestShardedMap_InvalidConfiguration(t *testing.T) {
	cases := map[string][]func(*MapConfig){
		"zero shards":     {WithShardCount(0)},
		"negative shards": {WithShardCount(-4)},
		"too many shards": {WithShardCount(1<<maxShardBits + 1)},
		"null keys":       {WithNullKeys()},
		"load factor":     {WithLoadFactor(1)},
		"capacity":        {WithCapacity(0)},
		"engine":          {WithEngine(EngineKind(7))},
	}
	for name, opts := range cases {
		if _, err := NewShardedMap[int, int](opts...); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("%s: err=%v, want ErrInvalidConfiguration", name, err)
		}
	}
}

func TestShardedMap_CapacitySplit(t *testing.T) {
	m := newShardedForTest[int, int](t, WithShardCount(8), WithCapacity(1000))
	st := m.Stats()
	// 125 slots per shard round up to 128.
	if st.Capacity != 8*128 {
		t.Fatalf("capacity=%d", st.Capacity)
	}

	// A tiny capacity still gives every shard a table.
	m = newShardedForTest[int, int](t, WithShardCount(64), WithCapacity(1), WithEngine(EngineRobinHood))
	if st := m.Stats(); st.Capacity != 64*minRobinHoodCapacity {
		t.Fatalf("capacity=%d", st.Capacity)
	}
}

func TestShardedMap_SingleKeyOperations(t *testing.T) {
	forEachShardedEngine(t, func(t *testing.T, engine EngineKind) {
		m := newShardedForTest[string, int](t, WithEngine(engine), WithShardCount(4))

		if _, loaded := m.Put("a", 1); loaded {
			t.Fatal("Put reported a previous value on an empty map")
		}
		if prev, loaded := m.Put("a", 2); !loaded || prev != 1 {
			t.Fatalf("Put=%d,%v", prev, loaded)
		}
		if v, ok := m.Get("a"); !ok || v != 2 {
			t.Fatalf("Get=%d,%v", v, ok)
		}
		if !m.ContainsKey("a") || m.ContainsKey("b") {
			t.Fatal("ContainsKey wrong")
		}

		if prev, loaded := m.PutIfAbsent("a", 9); !loaded || prev != 2 {
			t.Fatalf("PutIfAbsent on present key=%d,%v", prev, loaded)
		}
		if _, loaded := m.PutIfAbsent("b", 3); loaded {
			t.Fatal("PutIfAbsent on absent key reported loaded")
		}
		if v, _ := m.Get("b"); v != 3 {
			t.Fatalf("b=%d", v)
		}

		if m.CompareAndSwap("a", 7, 8) {
			t.Fatal("CompareAndSwap succeeded with a stale old value")
		}
		if !m.CompareAndSwap("a", 2, 8) {
			t.Fatal("CompareAndSwap failed")
		}
		if m.CompareAndSwap("zz", 0, 1) || m.ContainsKey("zz") {
			t.Fatal("CompareAndSwap inserted an absent key")
		}

		if _, replaced := m.Replace("c", 1); replaced || m.ContainsKey("c") {
			t.Fatal("Replace inserted an absent key")
		}
		if prev, replaced := m.Replace("a", 10); !replaced || prev != 8 {
			t.Fatalf("Replace=%d,%v", prev, replaced)
		}

		if m.CompareAndDelete("a", 8) {
			t.Fatal("CompareAndDelete removed with a stale value")
		}
		if !m.CompareAndDelete("a", 10) || m.ContainsKey("a") {
			t.Fatal("CompareAndDelete failed")
		}

		if prev, removed := m.Remove("b"); !removed || prev != 3 {
			t.Fatalf("Remove=%d,%v", prev, removed)
		}
		if _, removed := m.Remove("b"); removed {
			t.Fatal("second Remove reported success")
		}
		if !m.IsEmpty() || m.Size() != 0 {
			t.Fatalf("size=%d", m.Size())
		}
	})
}

func TestShardedMap_ComputeFamily(t *testing.T) {
	m := newShardedForTest[string, int](t, WithShardCount(2))
	calls := 0

	v, ok := m.ComputeIfAbsent("k", func(string) (int, bool) {
		calls++
		return 1, true
	})
	if !ok || v != 1 || calls != 1 {
		t.Fatalf("ComputeIfAbsent=%d,%v calls=%d", v, ok, calls)
	}
	v, ok = m.ComputeIfAbsent("k", func(string) (int, bool) {
		calls++
		return 5, true
	})
	if !ok || v != 1 || calls != 1 {
		t.Fatalf("ComputeIfAbsent on present key=%d,%v calls=%d", v, ok, calls)
	}
	if v, ok = m.ComputeIfAbsent("skip", func(string) (int, bool) { return 9, false }); ok || v != 0 || m.ContainsKey("skip") {
		t.Fatalf("ComputeIfAbsent keep=false stored %d", v)
	}

	if v, ok = m.ComputeIfPresent("none", func(string, int) (int, bool) { return 1, true }); ok || m.ContainsKey("none") {
		t.Fatal("ComputeIfPresent created a key")
	}
	if v, ok = m.ComputeIfPresent("k", func(_ string, old int) (int, bool) { return old + 1, true }); !ok || v != 2 {
		t.Fatalf("ComputeIfPresent=%d,%v", v, ok)
	}
	if _, ok = m.ComputeIfPresent("k", func(string, int) (int, bool) { return 0, false }); ok || m.ContainsKey("k") {
		t.Fatal("ComputeIfPresent keep=false did not remove")
	}

	counter := func(_ string, old int, loaded bool) (int, bool) {
		if !loaded {
			return 1, true
		}
		return old + 1, old < 3
	}
	for want := 1; want <= 3; want++ {
		if v, ok = m.Compute("n", counter); !ok || v != want {
			t.Fatalf("Compute=%d,%v want %d", v, ok, want)
		}
	}
	if v, ok = m.Compute("n", counter); ok || v != 0 || m.ContainsKey("n") {
		t.Fatalf("Compute keep=false=%d,%v", v, ok)
	}
	if _, ok = m.Compute("absent", func(string, int, bool) (int, bool) { return 0, false }); ok || m.ContainsKey("absent") {
		t.Fatal("Compute keep=false on an absent key inserted it")
	}

	sum := func(old, value int) (int, bool) { return old + value, old+value != 0 }
	if v, ok = m.Merge("m", 4, sum); !ok || v != 4 {
		t.Fatalf("Merge absent=%d,%v", v, ok)
	}
	if v, ok = m.Merge("m", 6, sum); !ok || v != 10 {
		t.Fatalf("Merge present=%d,%v", v, ok)
	}
	if v, ok = m.Merge("m", -10, sum); ok || m.ContainsKey("m") {
		t.Fatalf("Merge to zero=%d,%v", v, ok)
	}
}

func TestShardedMap_Smoke(t *testing.T) {
	forEachShardedEngine(t, func(t *testing.T, engine EngineKind) {
		n := scaled(100000)
		m := newShardedForTest[int, int](t, WithEngine(engine), WithShardCount(16))
		for i := range n {
			m.Put(i, i*2)
		}
		if m.Size() != n {
			t.Fatalf("size=%d want %d", m.Size(), n)
		}
		for i := range n {
			if v, ok := m.Get(i); !ok || v != i*2 {
				t.Fatalf("Get(%d)=%d,%v", i, v, ok)
			}
		}
		for i := 0; i < n; i += 2 {
			m.Remove(i)
		}
		for i := range n {
			if m.ContainsKey(i) != (i%2 == 1) {
				t.Fatalf("key %d presence wrong", i)
			}
		}
		st := m.Stats()
		if st.Size != n/2 || st.Shards != 16 || st.Engine != engine {
			t.Fatalf("stats %v", st)
		}
		total := 0
		for _, s := range st.ShardSizes {
			total += s
		}
		if total != st.Size {
			t.Fatalf("shard sizes sum to %d, size %d", total, st.Size)
		}
	})
}

func TestShardedMap_PutAll(t *testing.T) {
	m := newShardedForTest[string, int](t, WithShardCount(8))
	src := make(map[string]int)
	for i := range 500 {
		src["k"+strconv.Itoa(i)] = i
	}
	before := make([]uintptr, m.ShardCount())
	for i := range m.shards {
		before[i] = m.shards[i].lock.seq.Load()
	}
	m.PutAll(src)
	m.PutAll(nil)
	if !m.EqualMap(src) {
		t.Fatal("PutAll lost mappings")
	}
	// Each exclusive acquisition moves the sequence by two; a batch locks
	// every non-empty shard exactly once and leaves empty ones alone.
	for i, n := range m.Stats().ShardSizes {
		want := uintptr(0)
		if n > 0 {
			want = 2
		}
		if delta := m.shards[i].lock.seq.Load() - before[i]; delta != want {
			t.Fatalf("shard %d (%d keys): sequence moved by %d, want %d", i, n, delta, want)
		}
	}

	m.PutAllSeq(func(yield func(string, int) bool) {
		_ = yield("dup", 1) && yield("dup", 2) && yield("k0", -1)
	})
	if v, _ := m.Get("dup"); v != 2 {
		t.Fatalf("later pair did not win: %d", v)
	}
	if v, _ := m.Get("k0"); v != -1 {
		t.Fatalf("k0=%d", v)
	}
	if m.Size() != 501 {
		t.Fatalf("size=%d", m.Size())
	}
}

func TestShardedMap_ClearAndContainsValue(t *testing.T) {
	m := newShardedForTest[int, string](t, WithShardCount(4))
	for i := range 100 {
		m.Put(i, "v"+strconv.Itoa(i))
	}
	capBefore := m.Stats().Capacity
	if !m.ContainsValue("v42") || m.ContainsValue("nope") {
		t.Fatal("ContainsValue wrong")
	}
	if !m.Values().Contains("v7") {
		t.Fatal("Values().Contains wrong")
	}
	m.Clear()
	if !m.IsEmpty() || m.Size() != 0 || m.ContainsValue("v42") {
		t.Fatal("Clear left mappings behind")
	}
	if m.Stats().Capacity != capBefore {
		t.Fatal("Clear changed capacity")
	}
}

func TestShardedMap_IteratorRemove(t *testing.T) {
	m := newShardedForTest[int, int](t, WithShardCount(4))
	for i := range 100 {
		m.Put(i, i)
	}
	it := m.Entries().Iterator()
	if err := it.Remove(); !errors.Is(err, ErrIllegalIteratorState) {
		t.Fatalf("Remove before Next: %v", err)
	}
	seen := 0
	for it.Next() {
		seen++
		if it.Key() != it.Value() {
			t.Fatalf("entry %d=%d", it.Key(), it.Value())
		}
		if it.Key()%2 == 0 {
			if err := it.Remove(); err != nil {
				t.Fatal(err)
			}
			if err := it.Remove(); !errors.Is(err, ErrIllegalIteratorState) {
				t.Fatalf("double Remove: %v", err)
			}
		}
	}
	if seen != 100 {
		t.Fatalf("iterated %d entries", seen)
	}
	if err := it.Remove(); !errors.Is(err, ErrIllegalIteratorState) {
		t.Fatalf("Remove after exhaustion: %v", err)
	}
	if m.Size() != 50 {
		t.Fatalf("size=%d", m.Size())
	}
	for k := range m.Keys().All() {
		if k%2 == 0 {
			t.Fatalf("even key %d survived", k)
		}
	}
}

func TestShardedMap_SnapshotIsolation(t *testing.T) {
	m := newShardedForTest[int, int](t, WithShardCount(4))
	for i := range 10 {
		m.Put(i, i)
	}
	it := m.Keys().Iterator()
	for i := 10; i < 20; i++ {
		m.Put(i, i)
	}
	m.Remove(0)
	var keys []int
	for it.Next() {
		keys = append(keys, it.Key())
	}
	slices.Sort(keys)
	if !slices.Equal(keys, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Fatalf("snapshot saw later writes: %v", keys)
	}

	n := 0
	for k, v := range m.All() {
		if k != v {
			t.Fatalf("%d=%d", k, v)
		}
		n++
		m.Put(k+1000, 0)
	}
	if n != 19 {
		t.Fatalf("All yielded %d", n)
	}
}

func TestShardedMap_EntrySetValue(t *testing.T) {
	m := newShardedForTest[string, int](t, WithShardCount(2))
	m.Put("a", 1)

	var e *Entry[string, int]
	for x := range m.Entries().All() {
		e = x
	}
	if e.Key() != "a" || e.Value() != 1 || e.String() != "a=1" {
		t.Fatalf("entry %v", e)
	}

	m.Put("a", 5)
	if prev, loaded := e.SetValue(7); !loaded || prev != 5 {
		t.Fatalf("SetValue=%d,%v, want live value 5", prev, loaded)
	}
	if e.Value() != 7 {
		t.Fatalf("entry value=%d", e.Value())
	}
	if v, _ := m.Get("a"); v != 7 {
		t.Fatalf("map value=%d", v)
	}

	m.Remove("a")
	if _, loaded := e.SetValue(8); loaded {
		t.Fatal("SetValue on a removed key reported loaded")
	}
	if v, ok := m.Get("a"); !ok || v != 8 {
		t.Fatalf("SetValue did not re-insert: %d,%v", v, ok)
	}
}

func TestShardedMap_Views(t *testing.T) {
	m := newShardedForTest[int, string](t, WithShardCount(4))
	for i := range 6 {
		v := "odd"
		if i%2 == 0 {
			v = "even"
		}
		m.Put(i, v)
	}

	vals := m.Values()
	if !vals.Remove("even") {
		t.Fatal("Values().Remove found nothing")
	}
	if m.Size() != 5 {
		t.Fatalf("Values().Remove removed %d mappings", 6-m.Size())
	}
	if vals.Remove("none") {
		t.Fatal("Values().Remove removed a missing value")
	}
	evens := 0
	for v := range vals.All() {
		if v == "even" {
			evens++
		}
	}
	if evens != 2 {
		t.Fatalf("%d even values left", evens)
	}

	keys := m.Keys()
	if !keys.Contains(1) || keys.Remove(100) || !keys.Remove(1) || keys.Contains(1) {
		t.Fatal("KeySet operations wrong")
	}

	entries := m.Entries()
	if !entries.Contains(3, "odd") || entries.Contains(3, "even") {
		t.Fatal("EntrySet.Contains wrong")
	}
	if entries.Remove(3, "even") || !entries.Remove(3, "odd") {
		t.Fatal("EntrySet.Remove wrong")
	}
	if entries.Size() != 3 || keys.Size() != 3 || vals.Size() != 3 {
		t.Fatalf("view sizes %d/%d/%d", entries.Size(), keys.Size(), vals.Size())
	}
	keys.Clear()
	if !entries.IsEmpty() || !vals.IsEmpty() {
		t.Fatal("Clear through a view left mappings")
	}
}

func TestShardedMap_ReplaceAll(t *testing.T) {
	forEachShardedEngine(t, func(t *testing.T, engine EngineKind) {
		m := newShardedForTest[int, int](t, WithEngine(engine), WithShardCount(4))
		for i := range 1000 {
			m.Put(i, i)
		}
		m.ReplaceAll(func(k, v int) int { return k + v })
		if m.Size() != 1000 {
			t.Fatalf("size=%d", m.Size())
		}
		for i := range 1000 {
			if v, _ := m.Get(i); v != 2*i {
				t.Fatalf("Get(%d)=%d", i, v)
			}
		}
	})
}

func TestShardedMap_EqualityAndHashCode(t *testing.T) {
	a := newShardedForTest[string, int](t, WithShardCount(2))
	b := newShardedForTest[string, int](t, WithShardCount(16), WithEngine(EngineRobinHood))
	ref := map[string]int{}
	for i := range 50 {
		k := fmt.Sprintf("key%02d", i)
		a.Put(k, i)
		b.Put(k, i)
		ref[k] = i
	}
	if !a.Equal(a) || !a.Equal(b) || !b.Equal(a) || !a.EqualMap(ref) {
		t.Fatal("equal maps compare unequal")
	}
	if a.HashCode() != b.HashCode() {
		t.Fatal("equal maps have different hash codes")
	}

	sw, err := NewSwissMap[string, int]()
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range ref {
		sw.Put(k, v)
	}
	if !a.Equal(sw) {
		t.Fatal("ShardedMap differs from an equal SwissMap")
	}
	if a.Equal(nil) {
		t.Fatal("Equal(nil)=true")
	}

	b.Put("key00", -1)
	if a.Equal(b) || a.HashCode() == b.HashCode() {
		t.Fatal("maps with a differing value compare equal")
	}
	b.Put("key00", 0)
	b.Put("extra", 0)
	if a.Equal(b) {
		t.Fatal("maps of different size compare equal")
	}
	delete(ref, "key01")
	ref["other"] = 1
	if a.EqualMap(ref) {
		t.Fatal("EqualMap ignored a differing key")
	}
}

func TestShardedMap_HashCodeSkipsUnhashableValues(t *testing.T) {
	a := newShardedForTest[int, any](t, WithShardCount(2))
	b := newShardedForTest[int, any](t, WithShardCount(4))
	a.Put(1, []int{1})
	b.Put(1, []int{2})
	a.Put(2, "x")
	b.Put(2, "x")
	a.Put(3, nil)
	b.Put(3, nil)

	// Slices held in an interface are skipped, so only the keys and the
	// comparable values count.
	if a.HashCode() != b.HashCode() {
		t.Fatal("unhashable values changed the hash code")
	}
	b.Put(2, "y")
	if a.HashCode() == b.HashCode() {
		t.Fatal("a differing comparable value did not change the hash code")
	}

	s := newShardedForTest[int, []byte](t, WithShardCount(2))
	s.Put(1, []byte("a"))
	s.HashCode()
}

func TestShardedMap_String(t *testing.T) {
	m := newShardedForTest[string, int](t, WithShardCount(1))
	if m.String() != "{}" {
		t.Fatalf("empty String=%q", m.String())
	}
	m.Put("a", 1)
	if m.String() != "{a=1}" {
		t.Fatalf("String=%q", m.String())
	}
	m.Put("b", 2)
	s := m.String()
	if s != "{a=1, b=2}" && s != "{b=2, a=1}" {
		t.Fatalf("String=%q", s)
	}
	if !strings.Contains(m.Stats().String(), "size=2") {
		t.Fatalf("Stats=%v", m.Stats())
	}
}

func TestShardedMap_NullKey(t *testing.T) {
	m := newShardedForTest[*int, int](t)
	expectPanicErr(t, ErrNullKey, func() { m.Put(nil, 1) })
	expectPanicErr(t, ErrNullKey, func() { m.Get(nil) })
	expectPanicErr(t, ErrNullKey, func() { m.ComputeIfAbsent(nil, func(*int) (int, bool) { return 0, true }) })
}

func TestShardedMap_ShardIsolation(t *testing.T) {
	m := newShardedForTest[int, int](t, WithShardCount(4))
	a, b := keysInDistinctShards(m)
	sa := &m.shards[m.shardIndex(m.Hash(a))]

	sa.lock.Lock()
	done := make(chan struct{})
	go func() {
		m.Put(b, 1)
		m.Get(b)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		sa.lock.Unlock()
		t.Fatal("write to another shard blocked behind a held shard lock")
	}
	sa.lock.Unlock()
}

func TestShardedMap_OptimisticFallback(t *testing.T) {
	m := newShardedForTest[int, int](t, WithShardCount(4))
	key := 7
	m.Put(key, 1)
	hash := m.Hash(key)
	s := m.shardFor(hash)
	if st := m.Stats(); st.OptimisticFallbacks != 0 {
		t.Fatalf("fallbacks=%d on an idle map", st.OptimisticFallbacks)
	}

	s.lock.Lock()
	got := make(chan int, 1)
	go func() {
		v, _ := m.Get(key)
		got <- v
	}()
	deadline := time.Now().Add(5 * time.Second)
	for s.fallbacks.Load() == 0 {
		if time.Now().After(deadline) {
			s.lock.Unlock()
			t.Fatal("reader never fell back to the shared lock")
		}
		runtime.Gosched()
	}
	s.engine.PutWithHash(key, 2, hash)
	s.lock.Unlock()

	if v := <-got; v != 2 {
		t.Fatalf("fallback read %d, want the value written under the lock", v)
	}
	if st := m.Stats(); st.OptimisticFallbacks != 1 {
		t.Fatalf("fallbacks=%d", st.OptimisticFallbacks)
	}
}

func TestShardedMap_CreationLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	m := newShardedForTest[int, int](t, WithShardCount(4), WithLogger(zap.New(core)))

	created := logs.FilterMessage("hashsmith: sharded map created").All()
	if len(created) != 1 {
		t.Fatalf("%d creation logs", len(created))
	}
	fields := created[0].ContextMap()
	if fields["shards"] != int64(4) || fields["engine"] != "swiss" {
		t.Fatalf("fields %v", fields)
	}

	for i := range 1000 {
		m.Put(i, i)
	}
	grown := logs.FilterMessage("hashsmith: table grown").All()
	if len(grown) == 0 {
		t.Fatal("no growth logged")
	}
	for _, e := range grown {
		if _, ok := e.ContextMap()["shard"]; !ok {
			t.Fatalf("growth log without shard field: %v", e.ContextMap())
		}
	}
}

// Each writer owns a disjoint key range and mirrors its writes into its own
// plain map, so the expected contents need no synchronization. Values carry
// their key in the high bits so readers can detect a value read under the
// wrong key.
func TestShardedMap_ConcurrentAgainstReference(t *testing.T) {
	forEachShardedEngine(t, func(t *testing.T, engine EngineKind) {
		const writers, readers, span = 4, 4, 2048
		ops := scaled(40000)
		m := newShardedForTest[int, int64](t, WithEngine(engine), WithShardCount(8), WithCapacity(16))
		expected := make([]map[int]int64, writers)

		encode := func(k, n int) int64 { return int64(k)<<32 | int64(n) }

		var g errgroup.Group
		var wg sync.WaitGroup
		stop := make(chan struct{})
		wg.Add(writers)
		for w := range writers {
			ref := make(map[int]int64)
			expected[w] = ref
			g.Go(func() error {
				defer wg.Done()
				base := w * span
				for i := range ops {
					k := base + (i*7919)%span
					switch i % 5 {
					case 0, 1, 2:
						v := encode(k, i)
						m.Put(k, v)
						ref[k] = v
					case 3:
						m.Remove(k)
						delete(ref, k)
					default:
						v, ok := m.Merge(k, encode(k, 1), func(old, _ int64) (int64, bool) { return old + 1, true })
						if !ok {
							return fmt.Errorf("Merge(%d) removed the key", k)
						}
						ref[k] = v
					}
				}
				return nil
			})
		}
		for range readers {
			g.Go(func() error {
				for i := 0; ; i++ {
					select {
					case <-stop:
						return nil
					default:
					}
					k := i % (writers * span)
					if v, ok := m.Get(k); ok && v>>32 != int64(k) {
						return fmt.Errorf("Get(%d) returned a value of key %d", k, v>>32)
					}
					m.ContainsKey(k)
				}
			})
		}
		go func() {
			wg.Wait()
			close(stop)
		}()
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}

		want := make(map[int]int64)
		for _, ref := range expected {
			maps.Copy(want, ref)
		}
		if !m.EqualMap(want) {
			got := maps.Collect(m.All())
			t.Fatalf("map diverged from reference: %d vs %d entries", len(got), len(want))
		}
		if len(want) != m.Size() {
			t.Fatalf("reference size=%d map size=%d", len(want), m.Size())
		}
	})
}
