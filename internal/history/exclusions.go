// Package history aggregates archived events into ordered per-year exclusion
// layers consumed by the assignment engine.
package history

import "sort"

// Pair is an ordered giver to receiver pairing.
type Pair struct {
	Giver    string
	Receiver string
}

// Layer holds the pairs contributed by a single archived year.
type Layer struct {
	Year  int
	Pairs map[Pair]struct{}
}

// NewLayer builds a layer from a giver to receiver map.
func NewLayer(year int, assignments map[string]string) Layer {
	pairs := make(map[Pair]struct{}, len(assignments))
	for giver, receiver := range assignments {
		if giver == "" || receiver == "" {
			continue
		}
		pairs[Pair{Giver: giver, Receiver: receiver}] = struct{}{}
	}
	return Layer{Year: year, Pairs: pairs}
}

// Exclusions is an ordered stack of year layers, oldest first. Self pairs are
// always forbidden regardless of depth.
type Exclusions struct {
	layers []Layer
}

// NewExclusions orders the supplied layers by year. Layers sharing a year are
// merged.
func NewExclusions(layers ...Layer) *Exclusions {
	byYear := make(map[int]Layer, len(layers))
	for _, l := range layers {
		existing, ok := byYear[l.Year]
		if !ok {
			existing = Layer{Year: l.Year, Pairs: make(map[Pair]struct{}, len(l.Pairs))}
		}
		for p := range l.Pairs {
			existing.Pairs[p] = struct{}{}
		}
		byYear[l.Year] = existing
	}
	out := &Exclusions{layers: make([]Layer, 0, len(byYear))}
	for _, l := range byYear {
		out.layers = append(out.layers, l)
	}
	sort.Slice(out.layers, func(i, j int) bool { return out.layers[i].Year < out.layers[j].Year })
	return out
}

// Forbidden reports whether giver may not be paired with receiver at the
// current depth.
func (e *Exclusions) Forbidden(giver, receiver string) bool {
	if giver == receiver {
		return true
	}
	if e == nil {
		return false
	}
	p := Pair{Giver: giver, Receiver: receiver}
	for _, l := range e.layers {
		if _, ok := l.Pairs[p]; ok {
			return true
		}
	}
	return false
}

// Relax drops the oldest remaining year. It returns false once only the self
// pair prohibitions remain.
func (e *Exclusions) Relax() (int, bool) {
	if e == nil || len(e.layers) == 0 {
		return 0, false
	}
	year := e.layers[0].Year
	e.layers = e.layers[1:]
	return year, true
}

// Depth is the number of year layers still in force.
func (e *Exclusions) Depth() int {
	if e == nil {
		return 0
	}
	return len(e.layers)
}

// Years lists the contributing years, oldest first.
func (e *Exclusions) Years() []int {
	if e == nil {
		return nil
	}
	years := make([]int, len(e.layers))
	for i, l := range e.layers {
		years[i] = l.Year
	}
	return years
}

// Clone returns an independent stack so relaxation does not affect the source.
// Layer pair sets are immutable once built and are shared.
func (e *Exclusions) Clone() *Exclusions {
	if e == nil {
		return &Exclusions{}
	}
	layers := make([]Layer, len(e.layers))
	copy(layers, e.layers)
	return &Exclusions{layers: layers}
}

// Pairs returns the union of all pairs at the current depth.
func (e *Exclusions) Pairs() map[Pair]struct{} {
	out := make(map[Pair]struct{})
	if e == nil {
		return out
	}
	for _, l := range e.layers {
		for p := range l.Pairs {
			out[p] = struct{}{}
		}
	}
	return out
}
