package types

import "encoding/json"

// TallyOutcome tags the terminal state of an instant-runoff tally.
type TallyOutcome uint8

const (
	// TallyDecided means a candidate reached a strict majority of the
	// non-exhausted ballots.
	TallyDecided TallyOutcome = iota
	// TallyExhausted means no candidate can reach a majority: either no
	// non-exhausted ballots remain, or every remaining candidate is tied
	// with no tie-break information left. It is a legitimate outcome, not
	// an error.
	TallyExhausted
)

func (o TallyOutcome) String() string {
	if o == TallyDecided {
		return "decided"
	}
	return "exhausted"
}

// Round is one elimination step of the instant-runoff tally. Rounds form an
// ordered, append-only sequence per poll; each is immutable once written.
type Round struct {
	// Number is the 1-based round index.
	Number uint32 `json:"number" cbor:"0,keyasint"`
	// Counts maps every candidate still active this round to its current
	// first-preference ballot count.
	Counts map[CandidateID]uint64 `json:"counts" cbor:"1,keyasint"`
	// Eliminated is the candidate removed at the end of this round. Empty
	// on the terminal round.
	Eliminated CandidateID `json:"eliminated,omitempty" cbor:"2,keyasint,omitempty"`
	// Winner is set only on the terminal round of a decided tally.
	Winner CandidateID `json:"winner,omitempty" cbor:"3,keyasint,omitempty"`
	// Exhausted is the number of ballots with no remaining active
	// preference as of this round.
	Exhausted uint64 `json:"exhausted" cbor:"4,keyasint"`
}

// TallyResult is the outcome of one tally run: the winner (if decided) and
// the full round-by-round audit trail.
type TallyResult struct {
	Outcome TallyOutcome `json:"outcome" cbor:"0,keyasint"`
	Winner  CandidateID  `json:"winner,omitempty" cbor:"1,keyasint,omitempty"`
	Rounds  []*Round     `json:"rounds" cbor:"2,keyasint"`
}

func (r *TallyResult) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(data)
}
