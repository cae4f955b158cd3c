package ioseq

import (
	"hash/fnv"

	"github.com/katalvlaran/dagflow/dagerr"
)

// Map returns a Reader lazily applying fn to every element of r.
func Map(r Reader, fn func(interface{}) (interface{}, error)) Reader {
	return &lazyReader{size: r.Size64(), mk: func() Iterator {
		return &mapIterator{inner: r.Iterator(), fn: fn}
	}}
}

// FlatMap returns a Reader lazily expanding every element of r into zero or
// more elements; the resulting Size64 is unknown ahead of time, so callers
// needing an exact length must materialize first (see Materialize).
func FlatMap(r Reader, fn func(interface{}) ([]interface{}, error)) Reader {
	return &lazyReader{size: -1, mk: func() Iterator {
		return &flatMapIterator{inner: r.Iterator(), fn: fn}
	}}
}

// Filter returns a Reader lazily skipping elements for which pred is false.
// Like FlatMap, the resulting length is unknown ahead of time.
func Filter(r Reader, pred func(interface{}) (bool, error)) Reader {
	return &lazyReader{size: -1, mk: func() Iterator {
		return &filterIterator{inner: r.Iterator(), pred: pred}
	}}
}

// Zip concatenates N parallel streams into tuples: row i of the result is
// []interface{}{readers[0][i], readers[1][i], ..., readers[n-1][i]}. All
// readers must report the same Size64, or Zip's iterator surfaces
// ErrShapeMismatch on the first mismatched row.
func Zip(readers ...Reader) Reader {
	var size int64 = -1
	if len(readers) > 0 {
		size = readers[0].Size64()
	}
	return &lazyReader{size: size, mk: func() Iterator {
		its := make([]Iterator, len(readers))
		for i, r := range readers {
			its[i] = r.Iterator()
		}
		return &zipIterator{its: its}
	}}
}

// Unzip splits a Reader of N-tuples into N parallel streams. width must
// equal the tuple arity; Unzip materializes eagerly since each output
// stream needs its own independent cursor over the same source.
func Unzip(r Reader, width int) ([]Reader, error) {
	cols := make([][]interface{}, width)
	it := r.Iterator()
	defer it.Close()
	for it.HasNext() {
		row, err := it.Next()
		if err != nil {
			return nil, err
		}
		tuple, ok := row.([]interface{})
		if !ok || len(tuple) != width {
			return nil, dagerr.ShapeMismatchError("ioseq.Unzip: expected %d-tuple, got %T", width, row)
		}
		for i := 0; i < width; i++ {
			cols[i] = append(cols[i], tuple[i])
		}
	}
	out := make([]Reader, width)
	for i := range cols {
		out[i] = FromSlice(cols[i])
	}
	return out, nil
}

// Materialize eagerly drains r into a slice-backed Reader, used after
// FlatMap/Filter when a downstream consumer needs an exact Size64 (e.g.
// before feeding a BATCH preparer's Finish).
func Materialize(r Reader) (Reader, error) {
	it := r.Iterator()
	defer it.Close()
	var out []interface{}
	for it.HasNext() {
		v, err := it.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return FromSlice(out), nil
}

// Shuffle returns a Reader presenting r's elements in a deterministic
// pseudo-random order seeded by seed. Equal seed + equal input always
// yields the equal output order.
func Shuffle(r Reader, seed int64) (Reader, error) {
	full, err := Materialize(r)
	if err != nil {
		return nil, err
	}
	data := full.(*sliceReader).data
	perm := make([]interface{}, len(data))
	copy(perm, data)
	rng := newSplitMix64(uint64(seed))
	for i := len(perm) - 1; i > 0; i-- {
		j := int(rng.next() % uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return FromSlice(perm), nil
}

// Sample returns the elements of r whose fractional position falls in the
// half-open segment [a, b), under a deterministic hash seeded by seed.
//
// Contract: two disjoint segments under the same seed yield disjoint
// element sets (membership is decided per-index by a pure hash of
// (seed, index), never by segment boundaries leaking into each other's
// computation), and segments exactly covering [0,1) yield an exhaustive
// partition, since every index falls into exactly one of the half-open
// sub-intervals of a partition of [0,1).
func Sample(r Reader, seed int64, a, b float64) (Reader, error) {
	it := r.Iterator()
	defer it.Close()
	var out []interface{}
	var idx int64
	for it.HasNext() {
		v, err := it.Next()
		if err != nil {
			return nil, err
		}
		if frac := sampleFraction(seed, idx); frac >= a && frac < b {
			out = append(out, v)
		}
		idx++
	}
	return FromSlice(out), nil
}

// sampleFraction maps (seed, index) to a value in [0,1) via FNV-1a over the
// two integers' bytes, giving a stable, uniformly-distributed assignment
// independent of segment boundaries.
func sampleFraction(seed int64, index int64) float64 {
	h := fnv.New64a()
	var buf [16]byte
	putInt64(buf[0:8], seed)
	putInt64(buf[8:16], index)
	_, _ = h.Write(buf[:])
	return float64(h.Sum64()>>11) / (1 << 53)
}

func putInt64(buf []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		buf[i] = byte(u >> (8 * i))
	}
}

// splitMix64 is a small, fast, deterministic PRNG used only for Shuffle's
// permutation; it needs no cryptographic properties, only reproducibility.
type splitMix64 struct{ state uint64 }

func newSplitMix64(seed uint64) *splitMix64 { return &splitMix64{state: seed} }

func (s *splitMix64) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// --- lazy combinator plumbing -------------------------------------------

type lazyReader struct {
	size int64
	mk   func() Iterator
}

func (l *lazyReader) Size64() int64   { return l.size }
func (l *lazyReader) Iterator() Iterator { return l.mk() }
func (l *lazyReader) Close() error    { return nil }

type mapIterator struct {
	inner Iterator
	fn    func(interface{}) (interface{}, error)
}

func (m *mapIterator) HasNext() bool { return m.inner.HasNext() }
func (m *mapIterator) Next() (interface{}, error) {
	v, err := m.inner.Next()
	if err != nil {
		return nil, err
	}
	return m.fn(v)
}
func (m *mapIterator) NextN(buf []interface{}) (int, error) {
	n := 0
	for n < len(buf) && m.HasNext() {
		v, err := m.Next()
		if err != nil {
			return n, err
		}
		buf[n] = v
		n++
	}
	return n, nil
}
func (m *mapIterator) Skip(n int64) error { return m.inner.Skip(n) }
func (m *mapIterator) Close() error       { return m.inner.Close() }

type flatMapIterator struct {
	inner   Iterator
	fn      func(interface{}) ([]interface{}, error)
	pending []interface{}
}

func (f *flatMapIterator) fill() error {
	for len(f.pending) == 0 && f.inner.HasNext() {
		v, err := f.inner.Next()
		if err != nil {
			return err
		}
		expanded, err := f.fn(v)
		if err != nil {
			return err
		}
		f.pending = expanded
	}
	return nil
}

func (f *flatMapIterator) HasNext() bool {
	_ = f.fill()
	return len(f.pending) > 0
}

func (f *flatMapIterator) Next() (interface{}, error) {
	if err := f.fill(); err != nil {
		return nil, err
	}
	if len(f.pending) == 0 {
		return nil, dagerr.ShapeMismatchError("ioseq: Next called past end of sequence")
	}
	v := f.pending[0]
	f.pending = f.pending[1:]
	return v, nil
}

func (f *flatMapIterator) NextN(buf []interface{}) (int, error) {
	n := 0
	for n < len(buf) && f.HasNext() {
		v, err := f.Next()
		if err != nil {
			return n, err
		}
		buf[n] = v
		n++
	}
	return n, nil
}
func (f *flatMapIterator) Skip(n int64) error {
	for i := int64(0); i < n; i++ {
		if _, err := f.Next(); err != nil {
			return err
		}
	}
	return nil
}
func (f *flatMapIterator) Close() error { return f.inner.Close() }

type filterIterator struct {
	inner   Iterator
	pred    func(interface{}) (bool, error)
	nextVal interface{}
	have    bool
}

func (fi *filterIterator) advance() error {
	for !fi.have && fi.inner.HasNext() {
		v, err := fi.inner.Next()
		if err != nil {
			return err
		}
		ok, err := fi.pred(v)
		if err != nil {
			return err
		}
		if ok {
			fi.nextVal, fi.have = v, true
		}
	}
	return nil
}

func (fi *filterIterator) HasNext() bool {
	_ = fi.advance()
	return fi.have
}

func (fi *filterIterator) Next() (interface{}, error) {
	if err := fi.advance(); err != nil {
		return nil, err
	}
	if !fi.have {
		return nil, dagerr.ShapeMismatchError("ioseq: Next called past end of sequence")
	}
	fi.have = false
	return fi.nextVal, nil
}

func (fi *filterIterator) NextN(buf []interface{}) (int, error) {
	n := 0
	for n < len(buf) && fi.HasNext() {
		v, err := fi.Next()
		if err != nil {
			return n, err
		}
		buf[n] = v
		n++
	}
	return n, nil
}
func (fi *filterIterator) Skip(n int64) error {
	for i := int64(0); i < n; i++ {
		if _, err := fi.Next(); err != nil {
			return err
		}
	}
	return nil
}
func (fi *filterIterator) Close() error { return fi.inner.Close() }

type zipIterator struct{ its []Iterator }

func (z *zipIterator) HasNext() bool {
	for _, it := range z.its {
		if it.HasNext() {
			return true
		}
	}
	return false
}

func (z *zipIterator) Next() (interface{}, error) {
	tuple := make([]interface{}, len(z.its))
	for i, it := range z.its {
		if !it.HasNext() {
			return nil, dagerr.ShapeMismatchError("ioseq.Zip: stream %d ended before the others", i)
		}
		v, err := it.Next()
		if err != nil {
			return nil, err
		}
		tuple[i] = v
	}
	return tuple, nil
}

func (z *zipIterator) NextN(buf []interface{}) (int, error) {
	n := 0
	for n < len(buf) && z.HasNext() {
		v, err := z.Next()
		if err != nil {
			return n, err
		}
		buf[n] = v
		n++
	}
	return n, nil
}

func (z *zipIterator) Skip(n int64) error {
	for _, it := range z.its {
		if err := it.Skip(n); err != nil {
			return err
		}
	}
	return nil
}

func (z *zipIterator) Close() error {
	for _, it := range z.its {
		_ = it.Close()
	}
	return nil
}
