package data

// Range is a key interval; a nil bound leaves that side open
type Range[K Key] struct {
	Start          *K
	StartExclusive bool
	End            *K
	EndExclusive   bool
}

type (
	CategoryRange = Range[Category]
	DoubleRange   = Range[float64]
	Int64Range    = Range[int64]
)

// All is the unbounded range
func All[K Key]() Range[K] {
	return Range[K]{}
}

// Closed is [start, end]
func Closed[K Key](start, end K) Range[K] {
	return Range[K]{Start: &start, End: &end}
}

// From is [start, +inf)
func From[K Key](start K) Range[K] {
	return Range[K]{Start: &start}
}

// Until is (-inf, end]
func Until[K Key](end K) Range[K] {
	return Range[K]{End: &end}
}

// HalfOpen is [start, end)
func HalfOpen[K Key](start, end K) Range[K] {
	return Range[K]{Start: &start, End: &end, EndExclusive: true}
}

// Contains reports whether key satisfies both bounds
func (r Range[K]) Contains(key K) bool {
	if r.Start != nil {
		c := CompareKeys(key, *r.Start)
		if c < 0 || (c == 0 && r.StartExclusive) {
			return false
		}
	}
	if r.End != nil {
		c := CompareKeys(key, *r.End)
		if c > 0 || (c == 0 && r.EndExclusive) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether no key can satisfy the range
func (r Range[K]) IsEmpty() bool {
	if r.Start == nil || r.End == nil {
		return false
	}
	c := CompareKeys(*r.Start, *r.End)
	if c > 0 {
		return true
	}
	return c == 0 && (r.StartExclusive || r.EndExclusive)
}
