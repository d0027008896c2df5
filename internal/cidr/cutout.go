package cidr

import "sort"

// Policy is an immutable pair of included and excluded block sets for one
// enforcement cycle.
type Policy struct {
	Included []Block
	Excluded []Block
}

// Cutouts computes the minimal set of disjoint blocks whose union equals
// include minus the union of all excludes that intersect it.
//
// The algorithm bisects the include block as a binary prefix tree: an
// exclude that fully covers a node removes it, a node untouched by any
// exclude is emitted whole, and anything in between is split into its two
// halves and processed independently. Excludes that fall outside a node
// are dropped before recursing, bounding the depth at 32 minus the include
// prefix length.
//
// The result is sorted by ascending numeric address. An exclude entirely
// outside include is ignored; an exclude covering all of include yields an
// empty result. Overlapping excludes are safe: the recursion walks the
// tree once, so shared address space is never removed twice.
func Cutouts(include Block, excludes []Block) []Block {
	out := make([]Block, 0)
	bisect(include, excludes, &out)
	// The depth-first walk already emits low halves before high halves,
	// but sort anyway so the ordering contract does not depend on it.
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func bisect(node Block, excludes []Block, out *[]Block) {
	relevant := excludes[:0:0]
	for _, ex := range excludes {
		if !ex.Overlaps(node) {
			continue
		}
		if ex.Contains(node) {
			// The whole node is excluded; it contributes nothing.
			return
		}
		relevant = append(relevant, ex)
	}

	if len(relevant) == 0 {
		*out = append(*out, node)
		return
	}

	// Every relevant exclude is a strict sub-block of node, so node is
	// splittable (an exclude of equal or shorter prefix would have
	// contained it).
	lo, hi := node.Halves()
	bisect(lo, relevant, out)
	bisect(hi, relevant, out)
}

// Coalesce deduplicates the given blocks, drops blocks contained in other
// blocks, and repeatedly merges sibling pairs into their parent until no
// further merge is possible. The result is sorted by ascending address.
func Coalesce(blocks []Block) []Block {
	if len(blocks) == 0 {
		return nil
	}

	sorted := make([]Block, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	// Absorb duplicates and contained blocks. After sorting, a containing
	// block always precedes the blocks it contains.
	absorbed := sorted[:0]
	for _, b := range sorted {
		if len(absorbed) > 0 && absorbed[len(absorbed)-1].Contains(b) {
			continue
		}
		absorbed = append(absorbed, b)
	}

	// Merge adjacent siblings bottom-up. Each pass may enable further
	// merges one level up, so repeat until stable.
	merged := absorbed
	for {
		next := make([]Block, 0, len(merged))
		changed := false
		for i := 0; i < len(merged); i++ {
			if i+1 < len(merged) && siblings(merged[i], merged[i+1]) {
				next = append(next, NewBlock(merged[i].First(), uint8(merged[i].PrefixLen()-1)))
				changed = true
				i++
				continue
			}
			next = append(next, merged[i])
		}
		merged = next
		if !changed {
			return merged
		}
	}
}

// siblings reports whether a and b are the low and high halves of the same
// parent block.
func siblings(a, b Block) bool {
	if a.prefixLen != b.prefixLen || a.prefixLen == 0 {
		return false
	}
	parent := NewBlock(a.addr, a.prefixLen-1)
	return parent.addr == a.addr && b.addr == a.addr|(uint32(1)<<(32-a.prefixLen))
}
