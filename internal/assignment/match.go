package assignment

import (
	"context"

	"secretsanta/internal/history"
)

// match searches for a perfect giver to receiver matching over the pairs
// allowed at the current depth. Givers are visited in random order and each
// giver's candidate list is shuffled, so repeated calls spread over the
// feasible assignments. A nil mapping with nil error proves that no valid
// derangement exists at this depth.
func (e *Engine) match(ctx context.Context, people []string, ex *history.Exclusions) (map[string]string, error) {
	n := len(people)
	allowed := make([][]int, n)
	for g, giver := range people {
		for r, receiver := range people {
			if !ex.Forbidden(giver, receiver) {
				allowed[g] = append(allowed[g], r)
			}
		}
		if len(allowed[g]) == 0 {
			return nil, nil
		}
		if err := e.permute(allowed[g]); err != nil {
			return nil, err
		}
	}

	order := make([]int, n)
	if err := e.shuffle(order); err != nil {
		return nil, err
	}

	owner := make([]int, n)
	for i := range owner {
		owner[i] = -1
	}
	visited := make([]int, n)
	stamp := 0

	var augment func(g int) bool
	augment = func(g int) bool {
		for _, r := range allowed[g] {
			if visited[r] == stamp {
				continue
			}
			visited[r] = stamp
			if owner[r] < 0 || augment(owner[r]) {
				owner[r] = g
				return true
			}
		}
		return false
	}

	for _, g := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stamp++
		if !augment(g) {
			return nil, nil
		}
	}

	mapping := make(map[string]string, n)
	for r, g := range owner {
		mapping[people[g]] = people[r]
	}
	return mapping, nil
}

// permute shuffles values in place.
func (e *Engine) permute(values []int) error {
	for i := len(values) - 1; i > 0; i-- {
		j, err := e.random.Intn(i + 1)
		if err != nil {
			return err
		}
		values[i], values[j] = values[j], values[i]
	}
	return nil
}
