package assignment

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"secretsanta/internal/history"
	"secretsanta/pkg/domain"
)

func people(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%03d", i)
	}
	return out
}

func assertDerangement(t *testing.T, participants []string, mapping map[string]string, ex *history.Exclusions) {
	t.Helper()
	if err := Validate(normalize(participants), mapping, ex); err != nil {
		t.Fatalf("invalid assignment: %v (%v)", err, mapping)
	}
}

func TestAssignSizesTerminateWithValidDerangement(t *testing.T) {
	engine := NewEngine()
	for _, n := range []int{2, 3, 5, 10, 50, 150, 169, 200} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ps := people(n)
			res, err := engine.Assign(context.Background(), ps, nil)
			if err != nil {
				t.Fatalf("assign: %v", err)
			}
			if len(res.Assignments) != n {
				t.Fatalf("expected %d entries, got %d", n, len(res.Assignments))
			}
			assertDerangement(t, ps, res.Assignments, nil)
			if res.Cycles < 1 {
				t.Fatalf("expected at least one cycle")
			}
			if len(res.RelaxedYears) != 0 {
				t.Fatalf("no history, nothing to relax: %v", res.RelaxedYears)
			}
		})
	}
}

func TestAssignHonorsFullHistoryWhenFeasible(t *testing.T) {
	engine := NewEngine()
	ps := people(50)
	var layers []history.Layer
	for year := 2020; year < 2023; year++ {
		res, err := engine.Assign(context.Background(), ps, history.NewExclusions(layers...))
		if err != nil {
			t.Fatalf("assign %d: %v", year, err)
		}
		layers = append(layers, history.NewLayer(year, res.Assignments))
	}
	ex := history.NewExclusions(layers...)
	res, err := engine.Assign(context.Background(), ps, ex)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(res.RelaxedYears) != 0 {
		t.Fatalf("expected no relaxation for 50 participants, got %v", res.RelaxedYears)
	}
	assertDerangement(t, ps, res.Assignments, ex)
	if ex.Depth() != 3 {
		t.Fatalf("caller exclusions must not be relaxed, depth=%d", ex.Depth())
	}
}

// feasible reports by depth-first search whether any derangement avoids every
// pair forbidden by ex.
func feasible(ps []string, ex *history.Exclusions) bool {
	used := make([]bool, len(ps))
	var walk func(i int) bool
	walk = func(i int) bool {
		if i == len(ps) {
			return true
		}
		for r := range ps {
			if used[r] || ex.Forbidden(ps[i], ps[r]) {
				continue
			}
			used[r] = true
			if walk(i + 1) {
				return true
			}
			used[r] = false
		}
		return false
	}
	return walk(0)
}

func TestAssignSmallGroupsKeepFullHistoryWhenFeasible(t *testing.T) {
	engine := NewEngine()
	for _, n := range []int{4, 5, 6, 8, 10, 12} {
		for _, years := range []int{3, 4, 5} {
			t.Run(fmt.Sprintf("n=%d/years=%d", n, years), func(t *testing.T) {
				ps := people(n)
				for round := 0; round < 5; round++ {
					var layers []history.Layer
					for year := 0; year < years; year++ {
						res, err := engine.Assign(context.Background(), ps, history.NewExclusions(layers...))
						if err != nil {
							t.Fatalf("build year %d: %v", year, err)
						}
						layers = append(layers, history.NewLayer(2000+year, res.Assignments))
					}
					ex := history.NewExclusions(layers...)
					res, err := engine.Assign(context.Background(), ps, ex)
					if err != nil {
						t.Fatalf("assign: %v", err)
					}
					assertDerangement(t, ps, res.Assignments, relaxedCopy(ex, len(res.RelaxedYears)))
					if feasible(ps, ex) && len(res.RelaxedYears) != 0 {
						t.Fatalf("full history is satisfiable but years %v were relaxed", res.RelaxedYears)
					}
				}
			})
		}
	}
}

func TestAssignFindsRareDerangementWithTinyBudget(t *testing.T) {
	// Each giver may only give to the next participant, leaving exactly one
	// valid cycle among 8! permutations.
	ps := people(8)
	var layers []history.Layer
	year := 2000
	for i, giver := range ps {
		for j, receiver := range ps {
			if i == j || j == (i+1)%len(ps) {
				continue
			}
			layers = append(layers, history.NewLayer(year, map[string]string{giver: receiver}))
			year++
		}
	}
	ex := history.NewExclusions(layers...)
	engine := NewEngine(WithAttemptBudget(func(int) int { return 1 }))
	res, err := engine.Assign(context.Background(), ps, ex)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(res.RelaxedYears) != 0 {
		t.Fatalf("expected no relaxation, got %v", res.RelaxedYears)
	}
	for i, giver := range ps {
		if want := ps[(i+1)%len(ps)]; res.Assignments[giver] != want {
			t.Fatalf("%s should give to %s, got %s", giver, want, res.Assignments[giver])
		}
	}
}

func relaxedCopy(ex *history.Exclusions, drop int) *history.Exclusions {
	out := ex.Clone()
	for i := 0; i < drop; i++ {
		out.Relax()
	}
	return out
}

func TestAssignTooFewParticipants(t *testing.T) {
	engine := NewEngine()
	for _, ps := range [][]string{nil, {"a"}, {"a", "a"}, {"", "a"}} {
		_, err := engine.Assign(context.Background(), ps, nil)
		var infeasible *domain.InfeasibleAssignmentError
		if !errors.As(err, &infeasible) {
			t.Fatalf("expected infeasible error for %v, got %v", ps, err)
		}
	}
}

func TestAssignFivePeopleWithoutHistory(t *testing.T) {
	ps := []string{"A", "B", "C", "D", "E"}
	res, err := NewEngine().Assign(context.Background(), ps, nil)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(res.Assignments) != 5 {
		t.Fatalf("expected 5 entries, got %v", res.Assignments)
	}
	for giver, receiver := range res.Assignments {
		if giver == receiver {
			t.Fatalf("fixed point %s", giver)
		}
	}
	assertDerangement(t, ps, res.Assignments, nil)
}

func TestAssignTwoPeopleWithExcludedSwapIsInfeasible(t *testing.T) {
	ex := history.NewExclusions(history.NewLayer(2023, map[string]string{"A": "B", "B": "A"}))
	_, err := NewEngine().Assign(context.Background(), []string{"A", "B"}, ex)
	var infeasible *domain.InfeasibleAssignmentError
	if !errors.As(err, &infeasible) {
		t.Fatalf("expected infeasible error, got %v", err)
	}
	if infeasible.Participants != 2 {
		t.Fatalf("unexpected participant count %d", infeasible.Participants)
	}
}

func TestAssignSecondYearAvoidsFirstYearPairs(t *testing.T) {
	engine := NewEngine()
	ps := []string{"A", "B", "C", "D"}
	for i := 0; i < 50; i++ {
		first, err := engine.Assign(context.Background(), ps, nil)
		if err != nil {
			t.Fatalf("first year: %v", err)
		}
		ex := history.NewExclusions(history.NewLayer(2023, first.Assignments))
		second, err := engine.Assign(context.Background(), ps, ex)
		if err != nil {
			t.Fatalf("second year: %v", err)
		}
		if len(second.RelaxedYears) != 0 {
			t.Fatalf("relaxation should be unnecessary, got %v", second.RelaxedYears)
		}
		for giver, receiver := range second.Assignments {
			if first.Assignments[giver] == receiver {
				t.Fatalf("repeat pair %s -> %s", giver, receiver)
			}
		}
	}
}

func TestAssignRelaxesOldestYearFirst(t *testing.T) {
	forward := map[string]string{"A": "B", "B": "C", "C": "A"}
	backward := map[string]string{"A": "C", "C": "B", "B": "A"}
	ex := history.NewExclusions(
		history.NewLayer(2021, backward),
		history.NewLayer(2020, forward),
	)
	res, err := NewEngine().Assign(context.Background(), []string{"A", "B", "C"}, ex)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !reflect.DeepEqual(res.RelaxedYears, []int{2020}) {
		t.Fatalf("expected 2020 to be relaxed, got %v", res.RelaxedYears)
	}
	if !reflect.DeepEqual(res.Assignments, forward) {
		t.Fatalf("expected the 2020 cycle to be reused, got %v", res.Assignments)
	}
	if res.Cycles != 1 {
		t.Fatalf("expected single cycle, got %d", res.Cycles)
	}
}

func TestAssignPropagatesRandomFailure(t *testing.T) {
	engine := NewEngine(WithRandom(failingRandom{}))
	if _, err := engine.Assign(context.Background(), people(4), nil); err == nil {
		t.Fatalf("expected random failure to surface")
	}
}

func TestAssignHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEngine().Assign(ctx, people(5), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestAttemptBudgetIsBoundedAndGrows(t *testing.T) {
	if got := DefaultAttemptBudget(5); got != 1000 {
		t.Fatalf("expected floor of 1000, got %d", got)
	}
	if got := DefaultAttemptBudget(200); got != 8*200*8 {
		t.Fatalf("expected 12800, got %d", got)
	}
	var calls int
	engine := NewEngine(WithAttemptBudget(func(n int) int { calls++; return 3 }))
	if _, err := engine.Assign(context.Background(), people(6), nil); err != nil {
		// three attempts may legitimately be insufficient; the engine must
		// still terminate with a classified error
		var infeasible *domain.InfeasibleAssignmentError
		if !errors.As(err, &infeasible) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if calls == 0 {
		t.Fatalf("expected custom budget to be consulted")
	}
}

func TestValidateOrderOfChecks(t *testing.T) {
	ps := []string{"a", "b", "c"}
	cases := []struct {
		name    string
		mapping map[string]string
		ex      *history.Exclusions
		check   string
	}{
		{"missing giver", map[string]string{"a": "b", "b": "a"}, nil, CheckBijective},
		{"duplicate receiver", map[string]string{"a": "b", "b": "b", "c": "a"}, nil, CheckBijective},
		{"outsider", map[string]string{"a": "b", "b": "z", "c": "a"}, nil, CheckBijective},
		{"fixed point", map[string]string{"a": "a", "b": "c", "c": "b"}, nil, CheckFixedPoint},
		{"excluded", map[string]string{"a": "b", "b": "c", "c": "a"}, history.NewExclusions(history.NewLayer(2020, map[string]string{"b": "c"})), CheckExcluded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var verr *ValidationError
			if err := Validate(ps, tc.mapping, tc.ex); !errors.As(err, &verr) || verr.Check != tc.check {
				t.Fatalf("expected %s failure, got %v", tc.check, err)
			}
		})
	}
	if err := Validate(ps, map[string]string{"a": "b", "b": "c", "c": "a"}, nil); err != nil {
		t.Fatalf("expected valid mapping: %v", err)
	}
}

func TestCountCycles(t *testing.T) {
	if got := CountCycles(map[string]string{"a": "b", "b": "a", "c": "d", "d": "c"}); got != 2 {
		t.Fatalf("expected 2 cycles, got %d", got)
	}
	if got := CountCycles(map[string]string{"a": "b", "b": "c", "c": "a"}); got != 1 {
		t.Fatalf("expected 1 cycle, got %d", got)
	}
}

func TestCryptoRandomRejectsBiasedValues(t *testing.T) {
	var buf bytes.Buffer
	var word [8]byte
	// 2^64 mod 3 == 1, so 0 must be rejected.
	binary.LittleEndian.PutUint64(word[:], 0)
	buf.Write(word[:])
	binary.LittleEndian.PutUint64(word[:], 5)
	buf.Write(word[:])
	r := newReaderRandom(&buf)
	got, err := r.Intn(3)
	if err != nil {
		t.Fatalf("intn: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected 5 mod 3 = 2, got %d", got)
	}
	if _, err := r.Intn(3); err == nil {
		t.Fatalf("expected exhausted reader error")
	}
	if _, err := r.Intn(0); err == nil {
		t.Fatalf("expected invalid bound error")
	}
}

func TestCryptoRandomCoversRange(t *testing.T) {
	r := NewCryptoRandom()
	seen := make(map[int]bool)
	for i := 0; i < 500; i++ {
		v, err := r.Intn(4)
		if err != nil {
			t.Fatalf("intn: %v", err)
		}
		if v < 0 || v >= 4 {
			t.Fatalf("out of range %d", v)
		}
		seen[v] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected all residues, got %v", seen)
	}
}

type failingRandom struct{}

func (failingRandom) Intn(int) (int, error) { return 0, errors.New("entropy unavailable") }
