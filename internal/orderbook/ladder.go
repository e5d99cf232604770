package orderbook

import (
	"slices"
)

// ladderError is a rejection reason before it is tied to a book.
type ladderError string

func (e ladderError) Error() string { return string(e) }

// buildImage validates levels as a full ladder. Size-0 levels are dropped,
// positions at or beyond depth are truncated, and the remainder must be
// contiguous from 0 and correctly ordered for side.
func buildImage(levels []PriceLevel, side Side, depth int) ([]PriceLevel, error) {
	out := make([]PriceLevel, 0, min(len(levels), depth))
	for _, lvl := range levels {
		if lvl.Position < 0 {
			return nil, ladderError(ReasonNegative)
		}
		if lvl.Size <= 0 || lvl.Position >= depth {
			continue
		}
		out = append(out, lvl)
	}

	slices.SortStableFunc(out, func(a, b PriceLevel) int { return a.Position - b.Position })

	for i, lvl := range out {
		if i > 0 && out[i-1].Position == lvl.Position {
			return nil, ladderError(ReasonDuplicate)
		}
		if lvl.Position != i {
			return nil, ladderError(ReasonGap)
		}
	}
	if !ordered(out, side) {
		return nil, ladderError(ReasonOrdering)
	}
	return out, nil
}

// mergeDelta applies position updates to a copy of current, in order.
// A positive size replaces the level at its position or appends it when the
// position is one past the end. A positive size further past the end is held
// until earlier updates in the same frame fill the positions below it, so a
// frame listing positions out of order still applies. A zero size removes
// the level and shifts the levels above it down by one. Updates beyond depth
// are truncated. The current ladder is never modified.
func mergeDelta(current, updates []PriceLevel, side Side, depth int) ([]PriceLevel, error) {
	out := slices.Clone(current)
	var held []PriceLevel

	for _, u := range updates {
		switch {
		case u.Position < 0:
			return nil, ladderError(ReasonNegative)
		case u.Position >= depth:
			continue
		case u.Size <= 0:
			if u.Position < len(out) {
				out = slices.Delete(out, u.Position, u.Position+1)
				renumber(out, u.Position)
			}
		case u.Position < len(out):
			out[u.Position] = PriceLevel{Position: u.Position, Price: u.Price, Size: u.Size}
		case u.Position == len(out):
			out = append(out, PriceLevel{Position: u.Position, Price: u.Price, Size: u.Size})
			out, held = placeHeld(out, held)
		default:
			held = append(held, u)
		}
	}

	if len(held) > 0 {
		return nil, ladderError(ReasonGap)
	}
	if !ordered(out, side) {
		return nil, ladderError(ReasonOrdering)
	}
	return out, nil
}

// placeHeld appends held updates while one of them targets the position one
// past the end. Held updates for the same position apply in arrival order.
func placeHeld(out, held []PriceLevel) ([]PriceLevel, []PriceLevel) {
	for len(held) > 0 {
		pos := len(out)
		placed := false
		kept := held[:0]
		for _, u := range held {
			if u.Position != pos {
				kept = append(kept, u)
				continue
			}
			lvl := PriceLevel{Position: pos, Price: u.Price, Size: u.Size}
			if placed {
				out[pos] = lvl
			} else {
				out = append(out, lvl)
				placed = true
			}
		}
		held = kept
		if !placed {
			break
		}
	}
	return out, held
}

func renumber(levels []PriceLevel, from int) {
	for i := from; i < len(levels); i++ {
		levels[i].Position = i
	}
}

// ordered reports whether prices strictly worsen with position: falling for
// bids, rising for asks.
func ordered(levels []PriceLevel, side Side) bool {
	for i := 1; i < len(levels); i++ {
		prev, cur := levels[i-1].Price, levels[i].Price
		if side == Bid && cur >= prev {
			return false
		}
		if side == Ask && cur <= prev {
			return false
		}
	}
	return true
}

// validLadder reports whether levels are contiguous, positive and ordered.
func validLadder(levels []PriceLevel, side Side, depth int) bool {
	if len(levels) > depth {
		return false
	}
	for i, lvl := range levels {
		if lvl.Position != i || lvl.Size <= 0 {
			return false
		}
	}
	return ordered(levels, side)
}
