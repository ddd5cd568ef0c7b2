// Package assignment produces constrained derangements over a participant set.
package assignment

import (
	"context"
	"fmt"
	"math/bits"
	"sort"

	"secretsanta/internal/history"
	"secretsanta/pkg/domain"
)

const minAttempts = 1000

// DefaultAttemptBudget bounds resampling per exclusion depth at
// max(1000, 8·n·⌈log2 n⌉).
func DefaultAttemptBudget(n int) int {
	if n < 2 {
		return minAttempts
	}
	budget := 8 * n * bits.Len(uint(n-1))
	if budget < minAttempts {
		return minAttempts
	}
	return budget
}

// Result is a successful assignment plus how it was reached.
type Result struct {
	Assignments  map[string]string
	RelaxedYears []int
	Attempts     int
	Cycles       int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRandom overrides the randomness source.
func WithRandom(r Random) Option {
	return func(e *Engine) {
		if r != nil {
			e.random = r
		}
	}
}

// WithAttemptBudget overrides the per-depth attempt bound.
func WithAttemptBudget(fn func(n int) int) Option {
	return func(e *Engine) {
		if fn != nil {
			e.budget = fn
		}
	}
}

// Engine generates derangements honoring history exclusions. Each depth is
// sampled uniformly up to the attempt budget, then searched exhaustively by
// bipartite matching; the oldest year is relaxed only when that search proves
// the depth infeasible.
type Engine struct {
	random Random
	budget func(n int) int
}

// NewEngine constructs an engine backed by crypto/rand.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{random: NewCryptoRandom(), budget: DefaultAttemptBudget}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assign returns a bijection over participants with no fixed points and no
// excluded pair. The supplied exclusions are not modified.
func (e *Engine) Assign(ctx context.Context, participants []string, exclusions *history.Exclusions) (Result, error) {
	people := normalize(participants)
	n := len(people)
	if n < 2 {
		return Result{}, &domain.InfeasibleAssignmentError{Participants: n, Reason: "at least 2 participants are required"}
	}
	ex := exclusions.Clone()

	if n == 2 {
		a, b := people[0], people[1]
		if ex.Forbidden(a, b) || ex.Forbidden(b, a) {
			return Result{}, &domain.InfeasibleAssignmentError{Participants: n, Reason: "the only exchange between two participants is excluded by history"}
		}
		return Result{Assignments: map[string]string{a: b, b: a}, Attempts: 1, Cycles: 1}, nil
	}

	var relaxed []int
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if Admissible(people, ex) {
			mapping, attempts, err := e.sample(ctx, people, ex)
			total += attempts
			if err != nil {
				return Result{}, err
			}
			if mapping == nil {
				mapping, err = e.match(ctx, people, ex)
				if err != nil {
					return Result{}, err
				}
			}
			if mapping != nil {
				return Result{
					Assignments:  mapping,
					RelaxedYears: relaxed,
					Attempts:     total,
					Cycles:       CountCycles(mapping),
				}, nil
			}
		}
		year, ok := ex.Relax()
		if !ok {
			return Result{}, &domain.InfeasibleAssignmentError{
				Participants: n,
				Reason:       fmt.Sprintf("no valid derangement after relaxing %d history years", len(relaxed)),
			}
		}
		relaxed = append(relaxed, year)
	}
}

// sample draws up to budget permutations at the current depth. A nil mapping
// with nil error means the depth was exhausted.
func (e *Engine) sample(ctx context.Context, people []string, ex *history.Exclusions) (map[string]string, int, error) {
	n := len(people)
	limit := e.budget(n)
	if limit < 1 {
		limit = 1
	}
	perm := make([]int, n)
	for attempt := 1; attempt <= limit; attempt++ {
		if attempt%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, attempt, err
			}
		}
		if err := e.shuffle(perm); err != nil {
			return nil, attempt, err
		}
		candidate := make(map[string]string, n)
		for i, giver := range people {
			candidate[giver] = people[perm[i]]
		}
		if Validate(people, candidate, ex) == nil {
			return candidate, attempt, nil
		}
	}
	return nil, limit, nil
}

// shuffle fills perm with a uniformly random permutation (Fisher-Yates).
func (e *Engine) shuffle(perm []int) error {
	for i := range perm {
		perm[i] = i
	}
	for i := len(perm) - 1; i > 0; i-- {
		j, err := e.random.Intn(i + 1)
		if err != nil {
			return err
		}
		perm[i], perm[j] = perm[j], perm[i]
	}
	return nil
}

// Admissible reports whether every giver has at least one receiver left at the
// current depth. When it is false no sampling can succeed.
func Admissible(people []string, ex *history.Exclusions) bool {
	for _, giver := range people {
		ok := false
		for _, receiver := range people {
			if !ex.Forbidden(giver, receiver) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// ValidationError names the first check a candidate mapping failed.
type ValidationError struct {
	Check    string
	Giver    string
	Receiver string
}

// Checks, in evaluation order.
const (
	CheckBijective  = "bijective"
	CheckFixedPoint = "fixed_point"
	CheckExcluded   = "excluded"
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("assignment check %s failed for %s -> %s", e.Check, e.Giver, e.Receiver)
}

// Validate checks bijectivity, then fixed points, then exclusions. A nil
// exclusion stack only forbids self pairs.
func Validate(people []string, mapping map[string]string, ex *history.Exclusions) error {
	if len(mapping) != len(people) {
		return &ValidationError{Check: CheckBijective, Giver: fmt.Sprintf("%d givers", len(mapping)), Receiver: fmt.Sprintf("%d participants", len(people))}
	}
	members := make(map[string]struct{}, len(people))
	for _, p := range people {
		members[p] = struct{}{}
	}
	received := make(map[string]struct{}, len(people))
	for _, giver := range people {
		receiver, ok := mapping[giver]
		if !ok {
			return &ValidationError{Check: CheckBijective, Giver: giver}
		}
		if _, member := members[receiver]; !member {
			return &ValidationError{Check: CheckBijective, Giver: giver, Receiver: receiver}
		}
		if _, dup := received[receiver]; dup {
			return &ValidationError{Check: CheckBijective, Giver: giver, Receiver: receiver}
		}
		received[receiver] = struct{}{}
	}
	for _, giver := range people {
		if mapping[giver] == giver {
			return &ValidationError{Check: CheckFixedPoint, Giver: giver, Receiver: giver}
		}
	}
	for _, giver := range people {
		if receiver := mapping[giver]; ex.Forbidden(giver, receiver) {
			return &ValidationError{Check: CheckExcluded, Giver: giver, Receiver: receiver}
		}
	}
	return nil
}

// CountCycles walks successor links and counts disjoint cycles.
func CountCycles(mapping map[string]string) int {
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	seen := make(map[string]bool, len(mapping))
	cycles := 0
	for _, start := range keys {
		if seen[start] {
			continue
		}
		cycles++
		for cur := start; !seen[cur]; cur = mapping[cur] {
			seen[cur] = true
		}
	}
	return cycles
}

func normalize(participants []string) []string {
	seen := make(map[string]struct{}, len(participants))
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
