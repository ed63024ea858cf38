package plan

import "sort"

// SlotTable maps each distinct buffer size to a parameter slot. Slots follow
// ascending buffer order, so the table depends only on the multiset of sizes.
type SlotTable struct {
	sizes []int
}

// ResolveBuffers sorts and deduplicates per-layer buffer sizes.
func ResolveBuffers(sizes []int) SlotTable {
	sorted := make([]int, len(sizes))
	copy(sorted, sizes)
	sort.Ints(sorted)

	out := sorted[:0]
	for i, v := range sorted {
		if i > 0 && v == sorted[i-1] {
			continue
		}
		out = append(out, v)
	}
	return SlotTable{sizes: out}
}

func (t SlotTable) Len() int { return len(t.sizes) }

// Sizes returns the distinct buffer sizes in slot order.
func (t SlotTable) Sizes() []int {
	out := make([]int, len(t.sizes))
	copy(out, t.sizes)
	return out
}

// Slot returns the slot index assigned to size.
func (t SlotTable) Slot(size int) (int, bool) {
	i := sort.SearchInts(t.sizes, size)
	if i < len(t.sizes) && t.sizes[i] == size {
		return i, true
	}
	return 0, false
}
