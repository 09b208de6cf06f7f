package tally

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/fxamacker/cbor/v2"

	"github.com/choices-project/pollcore/types"
)

func newSnapshot(candidates []types.CandidateID, rankings ...[]types.CandidateID) *types.Snapshot {
	snap := &types.Snapshot{
		Candidates: candidates,
		Size:       uint64(len(rankings)),
	}
	for _, r := range rankings {
		snap.Ballots = append(snap.Ballots, &types.Ballot{Ranking: r})
	}
	return snap
}

func ranking(cands ...types.CandidateID) []types.CandidateID { return cands }

func TestRunMajorityAfterElimination(t *testing.T) {
	c := qt.New(t)

	// 5 ballots, no first-round majority; B is eliminated lowest, its
	// ballot transfers to C and C wins 3 of 5.
	snap := newSnapshot(
		[]types.CandidateID{"A", "B", "C"},
		ranking("A", "B"),
		ranking("A", "B"),
		ranking("B", "C"),
		ranking("C", "B"),
		ranking("C", "A"),
	)
	result, err := Run(snap)
	c.Assert(err, qt.IsNil)
	c.Assert(result.Outcome, qt.Equals, types.TallyDecided)
	c.Assert(result.Winner, qt.Equals, types.CandidateID("C"))
	c.Assert(result.Rounds, qt.HasLen, 2)

	r1 := result.Rounds[0]
	c.Assert(r1.Number, qt.Equals, uint32(1))
	c.Assert(r1.Counts, qt.DeepEquals, map[types.CandidateID]uint64{"A": 2, "B": 1, "C": 2})
	c.Assert(r1.Eliminated, qt.Equals, types.CandidateID("B"))
	c.Assert(r1.Exhausted, qt.Equals, uint64(0))

	r2 := result.Rounds[1]
	c.Assert(r2.Number, qt.Equals, uint32(2))
	c.Assert(r2.Counts, qt.DeepEquals, map[types.CandidateID]uint64{"A": 2, "C": 3})
	c.Assert(r2.Winner, qt.Equals, types.CandidateID("C"))
	c.Assert(r2.Eliminated, qt.Equals, types.CandidateID(""))
}

func TestRunFirstRoundMajority(t *testing.T) {
	c := qt.New(t)

	snap := newSnapshot(
		[]types.CandidateID{"A", "B"},
		ranking("A"), ranking("A"), ranking("B"),
	)
	result, err := Run(snap)
	c.Assert(err, qt.IsNil)
	c.Assert(result.Outcome, qt.Equals, types.TallyDecided)
	c.Assert(result.Winner, qt.Equals, types.CandidateID("A"))
	c.Assert(result.Rounds, qt.HasLen, 1)
}

func TestRunExhaustedOnSymmetricTie(t *testing.T) {
	c := qt.New(t)

	// C draws zero votes and is eliminated; A and B then tie with no
	// further preferences anywhere, so there is no winner to declare.
	snap := newSnapshot(
		[]types.CandidateID{"A", "B", "C"},
		ranking("A"),
		ranking("B"),
	)
	result, err := Run(snap)
	c.Assert(err, qt.IsNil)
	c.Assert(result.Outcome, qt.Equals, types.TallyExhausted)
	c.Assert(result.Winner, qt.Equals, types.CandidateID(""))
	c.Assert(result.Rounds, qt.HasLen, 2)

	r1 := result.Rounds[0]
	c.Assert(r1.Counts, qt.DeepEquals, map[types.CandidateID]uint64{"A": 1, "B": 1, "C": 0})
	c.Assert(r1.Eliminated, qt.Equals, types.CandidateID("C"))

	r2 := result.Rounds[1]
	c.Assert(r2.Counts, qt.DeepEquals, map[types.CandidateID]uint64{"A": 1, "B": 1})
	c.Assert(r2.Eliminated, qt.Equals, types.CandidateID(""))
	c.Assert(r2.Winner, qt.Equals, types.CandidateID(""))
}

func TestRunEmptySnapshot(t *testing.T) {
	c := qt.New(t)

	result, err := Run(newSnapshot([]types.CandidateID{"A", "B"}))
	c.Assert(err, qt.IsNil)
	c.Assert(result.Outcome, qt.Equals, types.TallyExhausted)
	c.Assert(result.Rounds, qt.HasLen, 1)
	c.Assert(result.Rounds[0].Counts, qt.DeepEquals, map[types.CandidateID]uint64{"A": 0, "B": 0})
}

func TestRunCountsExhaustedBallots(t *testing.T) {
	c := qt.New(t)

	// B and C tie lowest in round one with equal cumulative counts, so the
	// lowest id (B) goes. The two bare [B] ballots then exhaust but stay in
	// the round's denominator report.
	snap := newSnapshot(
		[]types.CandidateID{"A", "B", "C"},
		ranking("A"), ranking("A"), ranking("A"),
		ranking("B"), ranking("B"),
		ranking("C"), ranking("C"),
	)
	result, err := Run(snap)
	c.Assert(err, qt.IsNil)
	c.Assert(result.Outcome, qt.Equals, types.TallyDecided)
	c.Assert(result.Winner, qt.Equals, types.CandidateID("A"))
	c.Assert(result.Rounds, qt.HasLen, 2)
	c.Assert(result.Rounds[0].Eliminated, qt.Equals, types.CandidateID("B"))

	r2 := result.Rounds[1]
	c.Assert(r2.Counts, qt.DeepEquals, map[types.CandidateID]uint64{"A": 3, "C": 2})
	c.Assert(r2.Exhausted, qt.Equals, uint64(2))
}

func TestRunCumulativeTieBreak(t *testing.T) {
	c := qt.New(t)

	// Round two ties B and C on current count; C has the fewer cumulative
	// first-preference votes and is eliminated even though B has the lower
	// id. The id tie-break only applies when cumulative counts tie too.
	snap := newSnapshot(
		[]types.CandidateID{"A", "B", "C", "D"},
		ranking("A"), ranking("A"), ranking("A"), ranking("A"),
		ranking("B", "A"), ranking("B", "A"), ranking("B", "A"),
		ranking("C", "A"), ranking("C", "A"),
		ranking("D", "C"),
	)
	result, err := Run(snap)
	c.Assert(err, qt.IsNil)
	c.Assert(result.Outcome, qt.Equals, types.TallyDecided)
	c.Assert(result.Winner, qt.Equals, types.CandidateID("A"))
	c.Assert(result.Rounds, qt.HasLen, 3)

	c.Assert(result.Rounds[0].Eliminated, qt.Equals, types.CandidateID("D"))
	r2 := result.Rounds[1]
	c.Assert(r2.Counts, qt.DeepEquals, map[types.CandidateID]uint64{"A": 4, "B": 3, "C": 3})
	c.Assert(r2.Eliminated, qt.Equals, types.CandidateID("C"))
	r3 := result.Rounds[2]
	c.Assert(r3.Counts, qt.DeepEquals, map[types.CandidateID]uint64{"A": 6, "B": 3})
	c.Assert(r3.Exhausted, qt.Equals, uint64(1))
	c.Assert(r3.Winner, qt.Equals, types.CandidateID("A"))
}

func TestRunDeterminism(t *testing.T) {
	c := qt.New(t)

	snap := newSnapshot(
		[]types.CandidateID{"A", "B", "C", "D"},
		ranking("A", "B", "C"),
		ranking("B", "C"),
		ranking("C", "D", "A"),
		ranking("D"),
		ranking("D", "A"),
		ranking("B"),
		ranking("A", "D"),
	)
	em, err := cbor.CoreDetEncOptions().EncMode()
	c.Assert(err, qt.IsNil)

	first, err := Run(snap)
	c.Assert(err, qt.IsNil)
	firstBytes, err := em.Marshal(first)
	c.Assert(err, qt.IsNil)
	for i := 0; i < 20; i++ {
		again, err := Run(snap)
		c.Assert(err, qt.IsNil)
		againBytes, err := em.Marshal(again)
		c.Assert(err, qt.IsNil)
		c.Assert(againBytes, qt.DeepEquals, firstBytes)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	c := qt.New(t)

	_, err := Run(nil)
	c.Assert(err, qt.IsNotNil)
	_, err = Run(newSnapshot([]types.CandidateID{"A", "A"}))
	c.Assert(err, qt.IsNotNil)
}
