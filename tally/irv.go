// Package tally implements the deterministic instant-runoff tally. It
// consumes a frozen snapshot of committed ballots and produces a winner (or
// an exhausted outcome) plus the full round-by-round audit trail. The engine
// performs no writes; given the same snapshot it always produces the same
// round sequence.
package tally

import (
	"fmt"
	"sort"

	"github.com/choices-project/pollcore/types"
)

// Run executes the instant-runoff tally over a snapshot.
//
// Each round counts the highest-ranked still-active candidate of every
// ballot. A candidate with a strict majority of the non-exhausted ballots
// wins. Otherwise the candidate with the lowest count is eliminated,
// breaking ties by fewest cumulative first-preference votes across all
// rounds so far and then by lowest candidate id. That tie-break order is
// part of the protocol: changing it changes results on existing polls.
//
// If every remaining candidate is tied on both current and cumulative
// counts, or no non-exhausted ballots remain, there is no information left
// to break the tie and the tally terminates with an exhausted outcome
// instead of fabricating a winner.
func Run(snap *types.Snapshot) (*types.TallyResult, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	active := make(map[types.CandidateID]bool, len(snap.Candidates))
	for _, cand := range snap.Candidates {
		if active[cand] {
			return nil, fmt.Errorf("duplicate candidate %q", cand)
		}
		active[cand] = true
	}

	cumulative := make(map[types.CandidateID]uint64, len(active))
	result := &types.TallyResult{Outcome: types.TallyExhausted}
	for number := uint32(1); ; number++ {
		counts := make(map[types.CandidateID]uint64, len(active))
		for cand := range active {
			counts[cand] = 0
		}
		var exhausted uint64
		for _, b := range snap.Ballots {
			if pref, ok := firstActive(b, active); ok {
				counts[pref]++
			} else {
				exhausted++
			}
		}
		round := &types.Round{Number: number, Counts: counts, Exhausted: exhausted}
		result.Rounds = append(result.Rounds, round)

		live := uint64(len(snap.Ballots)) - exhausted
		if live == 0 || len(active) == 0 {
			return result, nil
		}
		order := sortedCandidates(active)
		for _, cand := range order {
			if counts[cand]*2 > live {
				round.Winner = cand
				result.Outcome = types.TallyDecided
				result.Winner = cand
				return result, nil
			}
		}
		for cand, n := range counts {
			cumulative[cand] += n
		}

		lowest := filterMin(order, func(c types.CandidateID) uint64 { return counts[c] })
		if len(lowest) == len(order) && allEqual(lowest, cumulative) {
			// fully symmetric tie, no information left to break it
			return result, nil
		}
		lowest = filterMin(lowest, func(c types.CandidateID) uint64 { return cumulative[c] })
		// lowest is in candidate-id order, so [0] is the canonical pick
		round.Eliminated = lowest[0]
		delete(active, lowest[0])
	}
}

// firstActive returns the ballot's highest-ranked candidate still in the
// active set, or false if the ballot is exhausted.
func firstActive(b *types.Ballot, active map[types.CandidateID]bool) (types.CandidateID, bool) {
	for _, cand := range b.Ranking {
		if active[cand] {
			return cand, true
		}
	}
	return "", false
}

// sortedCandidates returns the active set in lexicographic id order, the
// only iteration order the engine ever uses.
func sortedCandidates(active map[types.CandidateID]bool) []types.CandidateID {
	order := make([]types.CandidateID, 0, len(active))
	for cand := range active {
		order = append(order, cand)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	return order
}

// filterMin returns the candidates with the minimum value of f, preserving
// the input order.
func filterMin(cands []types.CandidateID, f func(types.CandidateID) uint64) []types.CandidateID {
	min := f(cands[0])
	for _, cand := range cands[1:] {
		if v := f(cand); v < min {
			min = v
		}
	}
	out := cands[:0:0]
	for _, cand := range cands {
		if f(cand) == min {
			out = append(out, cand)
		}
	}
	return out
}

func allEqual(cands []types.CandidateID, values map[types.CandidateID]uint64) bool {
	for _, cand := range cands[1:] {
		if values[cand] != values[cands[0]] {
			return false
		}
	}
	return true
}
