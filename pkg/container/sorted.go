package container

import (
	"slices"
	"sort"

	"golang.org/x/exp/constraints"
)

type entry[K constraints.Ordered, V any] struct {
	key K
	val V
}

// SortedArray keeps values ordered by key and finds them by binary search.
type SortedArray[K constraints.Ordered, V any] struct {
	items []entry[K, V]
}

// NewSortedArray returns an empty array.
func NewSortedArray[K constraints.Ordered, V any]() *SortedArray[K, V] {
	return &SortedArray[K, V]{}
}

func (a *SortedArray[K, V]) search(k K) (int, bool) {
	i := sort.Search(len(a.items), func(i int) bool { return a.items[i].key >= k })
	return i, i < len(a.items) && a.items[i].key == k
}

// Len returns the number of entries.
func (a *SortedArray[K, V]) Len() int {
	return len(a.items)
}

// Set inserts or replaces the value for k. It reports whether k was new.
func (a *SortedArray[K, V]) Set(k K, v V) bool {
	i, found := a.search(k)
	if found {
		a.items[i].val = v
		return false
	}
	a.items = append(a.items, entry[K, V]{})
	copy(a.items[i+1:], a.items[i:])
	a.items[i] = entry[K, V]{key: k, val: v}
	return true
}

// Get returns the value for k.
func (a *SortedArray[K, V]) Get(k K) (V, bool) {
	if i, found := a.search(k); found {
		return a.items[i].val, true
	}
	var zero V
	return zero, false
}

// Delete removes k and returns its value.
func (a *SortedArray[K, V]) Delete(k K) (V, bool) {
	i, found := a.search(k)
	if !found {
		var zero V
		return zero, false
	}
	v := a.items[i].val
	a.items = slices.Delete(a.items, i, i+1)
	return v, true
}

// Ascend calls fn for each entry in key order until fn returns false.
func (a *SortedArray[K, V]) Ascend(fn func(k K, v V) bool) {
	for _, it := range a.items {
		if !fn(it.key, it.val) {
			return
		}
	}
}
