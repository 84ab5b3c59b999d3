package hashsmith

import (
	"strconv"
	"sync"
	"testing"

	"github.com/llxisdsh/pb"
)

const (
	benchSmall = 1 << 6
	benchLarge = 1 << 16
)

var (
	benchStrings      = makeBenchStrings(benchSmall)
	benchStringsLarge = makeBenchStrings(benchLarge)
	benchInts         = makeBenchInts(benchLarge)
)

func makeBenchStrings(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i) + "-" + strconv.Itoa(i*7919)
	}
	return out
}

func makeBenchInts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i * 7919
	}
	return out
}

func BenchmarkSwissMapGet(b *testing.B) {
	for _, scan := range []ScanStrategy{ScanScalar, ScanVector} {
		b.Run(scan.String(), func(b *testing.B) {
			m, err := NewSwissMap[string, int](WithScanStrategy(scan))
			if err != nil {
				b.Fatal(err)
			}
			benchmarkTableGet(b, m, benchStringsLarge)
		})
	}
}

func BenchmarkRobinHoodMapGet(b *testing.B) {
	m, err := NewRobinHoodMap[string, int]()
	if err != nil {
		b.Fatal(err)
	}
	benchmarkTableGet(b, m, benchStringsLarge)
}

func benchmarkTableGet(b *testing.B, m interface {
	Put(string, int) (int, bool)
	Get(string) (int, bool)
}, data []string,
) {
	b.ReportAllocs()
	for i := range data {
		m.Put(data[i], i)
	}
	b.ResetTimer()
	i := 0
	for range b.N {
		_, _ = m.Get(data[i])
		i++
		if i >= len(data) {
			i = 0
		}
	}
}

func BenchmarkTablePutRemoveInt(b *testing.B) {
	for _, c := range engineCases[int, int]() {
		b.Run(c.name, func(b *testing.B) {
			m, err := c.make()
			if err != nil {
				b.Fatal(err)
			}
			b.ReportAllocs()
			b.ResetTimer()
			i := 0
			for range b.N {
				m.PutWithHash(benchInts[i], i, m.Hash(benchInts[i]))
				if i&1 == 1 {
					m.RemoveWithHash(benchInts[i-1], m.Hash(benchInts[i-1]))
				}
				i++
				if i >= len(benchInts) {
					i = 0
				}
			}
		})
	}
}

func BenchmarkShardedMapGetSmall(b *testing.B) {
	benchmarkShardedMapGet(b, benchStrings)
}

func BenchmarkShardedMapGetLarge(b *testing.B) {
	benchmarkShardedMapGet(b, benchStringsLarge)
}

func benchmarkShardedMapGet(b *testing.B, data []string) {
	for _, engine := range []EngineKind{EngineSwiss, EngineRobinHood} {
		b.Run(engine.String(), func(b *testing.B) {
			b.ReportAllocs()
			m, err := NewShardedMap[string, int](WithEngine(engine))
			if err != nil {
				b.Fatal(err)
			}
			for i := range data {
				m.Put(data[i], i)
			}
			b.ResetTimer()
			b.RunParallel(func(p *testing.PB) {
				i := 0
				for p.Next() {
					_, _ = m.Get(data[i])
					i++
					if i >= len(data) {
						i = 0
					}
				}
			})
		})
	}
}

// BenchmarkShardedMapMixed runs 10% writes, the rest reads.
func BenchmarkShardedMapMixed(b *testing.B) {
	b.ReportAllocs()
	m, err := NewShardedMap[int, int]()
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			k := benchInts[i]
			if i%10 == 0 {
				m.Put(k, i)
			} else {
				_, _ = m.Get(k)
			}
			i++
			if i >= len(benchInts) {
				i = 0
			}
		}
	})
}

func BenchmarkPbMapOfMixed(b *testing.B) {
	b.ReportAllocs()
	var m pb.MapOf[int, int]
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			k := benchInts[i]
			if i%10 == 0 {
				m.Store(k, i)
			} else {
				_, _ = m.Load(k)
			}
			i++
			if i >= len(benchInts) {
				i = 0
			}
		}
	})
}

func BenchmarkSyncMapMixed(b *testing.B) {
	b.ReportAllocs()
	var m sync.Map
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			k := benchInts[i]
			if i%10 == 0 {
				m.Store(k, i)
			} else {
				_, _ = m.Load(k)
			}
			i++
			if i >= len(benchInts) {
				i = 0
			}
		}
	})
}
