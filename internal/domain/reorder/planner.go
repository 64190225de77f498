// Package reorder computes the smallest set of reposition moves between two collection orderings.
//
// Moves are sequential: each one takes its item out of the order left by the moves before
// it and re-inserts it so the item ends at the 0-based NewPosition. Any prefix of a plan is
// therefore a valid request on its own, and submitting a plan in consecutive chunks yields
// the same order as submitting it at once. Apply implements exactly that contract.
package reorder

import (
	"slices"
	"sort"

	"github.com/acme/shelfsort/internal/domain/model"
	apperrors "github.com/acme/shelfsort/internal/errors"
)

// MaxMovesPerRequest is the upstream limit on reorder moves per mutation.
const MaxMovesPerRequest = 250

// Plan returns the moves that turn current into target.
// Items on the longest increasing subsequence of current (measured in target indexes)
// stay put; every other item gets exactly one move, ordered by ascending target index.
// Each move places its item directly after its target predecessor, so once all moves ran
// every item follows the one it follows in target.
func Plan(current, target []string) ([]model.Move, error) {
	targetIndex, err := indexOf(target, "target")
	if err != nil {
		return nil, err
	}
	if len(current) != len(target) {
		return nil, apperrors.Validationf("current has %d items, target has %d", len(current), len(target))
	}

	seq := make([]int, len(current))
	seen := make(map[string]struct{}, len(current))
	for i, id := range current {
		if _, dup := seen[id]; dup {
			return nil, apperrors.Validationf("duplicate id %q in current order", id)
		}
		seen[id] = struct{}{}
		idx, ok := targetIndex[id]
		if !ok {
			return nil, apperrors.Validationf("id %q missing from target order", id)
		}
		seq[i] = idx
	}

	stable := longestIncreasing(seq)

	moves := make([]model.Move, 0, len(seq)-countTrue(stable))
	for i, id := range current {
		if stable[i] {
			continue
		}
		moves = append(moves, model.Move{ID: id, NewPosition: seq[i]})
	}
	sort.Slice(moves, func(a, b int) bool { return moves[a].NewPosition < moves[b].NewPosition })

	// NewPosition holds the target index until here.
	order := slices.Clone(current)
	for i := range moves {
		m := &moves[i]
		at := slices.Index(order, m.ID)
		order = slices.Delete(order, at, at+1)
		pos := 0
		if m.NewPosition > 0 {
			pos = slices.Index(order, target[m.NewPosition-1]) + 1
		}
		order = slices.Insert(order, pos, m.ID)
		m.NewPosition = pos
	}
	return moves, nil
}

// PlanItems is Plan over item identifiers.
func PlanItems(current, target []model.Item) ([]model.Move, error) {
	return Plan(model.ItemIDs(current), model.ItemIDs(target))
}

// Apply performs moves against current one after another and returns the resulting order.
func Apply(current []string, moves []model.Move) ([]string, error) {
	out := slices.Clone(current)
	for _, m := range moves {
		at := slices.Index(out, m.ID)
		if at < 0 {
			return nil, apperrors.Validationf("move references unknown id %q", m.ID)
		}
		out = slices.Delete(out, at, at+1)
		if m.NewPosition < 0 || m.NewPosition > len(out) {
			return nil, apperrors.Validationf("position %d out of range for %q", m.NewPosition, m.ID)
		}
		out = slices.Insert(out, m.NewPosition, m.ID)
	}
	return out, nil
}

// Chunk splits moves into batches of at most size, preserving order.
func Chunk(moves []model.Move, size int) [][]model.Move {
	if size <= 0 {
		size = MaxMovesPerRequest
	}
	var batches [][]model.Move
	for start := 0; start < len(moves); start += size {
		end := min(start+size, len(moves))
		batches = append(batches, moves[start:end])
	}
	return batches
}

// LISLength returns the length of the longest strictly increasing subsequence.
func LISLength(seq []int) int {
	return countTrue(longestIncreasing(seq))
}

func indexOf(ids []string, label string) (map[string]int, error) {
	idx := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := idx[id]; dup {
			return nil, apperrors.Validationf("duplicate id %q in %s order", id, label)
		}
		idx[id] = i
	}
	return idx, nil
}

// longestIncreasing marks the positions of one longest strictly increasing subsequence
// using patience sorting with parent pointers.
func longestIncreasing(seq []int) []bool {
	member := make([]bool, len(seq))
	if len(seq) == 0 {
		return member
	}

	tails := make([]int, 0, len(seq)) // positions in seq
	parent := make([]int, len(seq))
	for i, v := range seq {
		pos := sort.Search(len(tails), func(k int) bool { return seq[tails[k]] >= v })
		parent[i] = -1
		if pos > 0 {
			parent[i] = tails[pos-1]
		}
		if pos == len(tails) {
			tails = append(tails, i)
		} else {
			tails[pos] = i
		}
	}

	for k := tails[len(tails)-1]; k >= 0; k = parent[k] {
		member[k] = true
	}
	return member
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
