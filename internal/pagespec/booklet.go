package pagespec

// ArrangeForBooklet reorders selection into 4-page signature imposition order
// over the whole document, then keeps only the selected pages.
//
// The document is padded to a multiple of four; padding slots are never
// emitted. For signature i the slots are left = padded-(2i+1) and right = 2i
// (0-based), emitted as left, right, right+1, left-1 when each lies within
// the document. The result follows imposition order, not selection order.
//
// Experimental: the ordering has only been checked against the documented
// formula, not against real folded output.
func ArrangeForBooklet(selection []int, totalPages int) []int {
	if totalPages <= 0 || len(selection) == 0 {
		return []int{}
	}
	want := make(map[int]struct{}, len(selection))
	for _, p := range selection {
		want[p] = struct{}{}
	}

	padded := (totalPages + 3) / 4 * 4
	out := make([]int, 0, len(selection))
	emit := func(slot int) {
		if slot < 0 || slot >= totalPages {
			return
		}
		if _, ok := want[slot+1]; ok {
			out = append(out, slot+1)
		}
	}
	for i := 0; i < padded/4; i++ {
		left := padded - (2*i + 1)
		right := 2 * i
		emit(left)
		emit(right)
		emit(right + 1)
		emit(left - 1)
	}
	return out
}

// ImpositionOrder is the booklet order of every page of a totalPages document.
func ImpositionOrder(totalPages int) []int {
	all := make([]int, totalPages)
	for i := range all {
		all[i] = i + 1
	}
	return ArrangeForBooklet(all, totalPages)
}
