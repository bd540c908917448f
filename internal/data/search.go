package data

import "sort"

// Search returns the index of key in v, or -1
func Search[K Key, V Value](v *Vector[K, V], key K) int {
	idx, found := LowerBound(v, key)
	if !found {
		return -1
	}
	return idx
}

// LowerBound returns the leftmost index whose key is >= key, and whether
// that key equals key. It returns Size() when every key is smaller.
func LowerBound[K Key, V Value](v *Vector[K, V], key K) (int, bool) {
	n := v.Size()
	idx := sort.Search(n, func(i int) bool {
		return CompareKeys(v.keys[i], key) >= 0
	})
	return idx, idx < n && CompareKeys(v.keys[idx], key) == 0
}

// UpperBound returns the index one past the rightmost key <= key, and
// whether an exact match exists
func UpperBound[K Key, V Value](v *Vector[K, V], key K) (int, bool) {
	n := v.Size()
	idx := sort.Search(n, func(i int) bool {
		return CompareKeys(v.keys[i], key) > 0
	})
	return idx, idx > 0 && CompareKeys(v.keys[idx-1], key) == 0
}

// FindStartIndex converts the start bound of r into the first inclusive row
// index, or -1 when r begins after the last row
func FindStartIndex[K Key, V Value](v *Vector[K, V], r Range[K]) int {
	n := v.Size()
	if n == 0 {
		return -1
	}
	if r.Start == nil {
		return 0
	}
	var idx int
	if r.StartExclusive {
		idx, _ = UpperBound(v, *r.Start)
	} else {
		idx, _ = LowerBound(v, *r.Start)
	}
	if idx >= n {
		return -1
	}
	return idx
}

// FindEndIndex converts the end bound of r into the last inclusive row
// index, or -1 when r ends before the first row
func FindEndIndex[K Key, V Value](v *Vector[K, V], r Range[K]) int {
	n := v.Size()
	if n == 0 {
		return -1
	}
	if r.End == nil {
		return n - 1
	}
	var idx int
	if r.EndExclusive {
		// last key strictly below end
		idx, _ = LowerBound(v, *r.End)
	} else {
		// last key at or below end
		idx, _ = UpperBound(v, *r.End)
	}
	return idx - 1
}
