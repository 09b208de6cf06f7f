package types

import (
	"encoding/json"
	"time"
)

// Predicate selects ballots for a release query. All set conditions must
// match. A predicate with demographic attribute filters is cohort-scoped and
// subject to the k-anonymity floor.
type Predicate struct {
	// FirstPreference matches ballots whose top-ranked candidate is the
	// given one.
	FirstPreference CandidateID `json:"firstPreference,omitempty" cbor:"0,keyasint,omitempty"`
	// RankedCandidate matches ballots that rank the given candidate
	// anywhere.
	RankedCandidate CandidateID `json:"rankedCandidate,omitempty" cbor:"1,keyasint,omitempty"`
	// Attributes matches ballots whose demographic buckets carry every
	// listed key/value pair.
	Attributes map[string]string `json:"attributes,omitempty" cbor:"2,keyasint,omitempty"`
}

// Match reports whether the ballot satisfies every condition of the
// predicate.
func (p *Predicate) Match(b *Ballot) bool {
	if p.FirstPreference != "" && b.FirstPreference() != p.FirstPreference {
		return false
	}
	if p.RankedCandidate != "" {
		found := false
		for _, c := range b.Ranking {
			if c == p.RankedCandidate {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, v := range p.Attributes {
		if b.Attributes[k] != v {
			return false
		}
	}
	return true
}

// Cohort reports whether the predicate is cohort-scoped, i.e. filters on
// demographic attributes and therefore falls under the k-anonymity gate.
func (p *Predicate) Cohort() bool {
	return len(p.Attributes) > 0
}

// String returns the canonical JSON description of the predicate, used as
// the query description of release records.
func (p *Predicate) String() string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// Release record kinds.
const (
	ReleaseKindCount     = "count"
	ReleaseKindRatio     = "ratio"
	ReleaseKindHistogram = "histogram"
)

// ReleaseRecord is one published statistic and the audit trail of its
// disclosure. It is immutable once emitted. The true count is persisted for
// internal audit but never serialized into the public JSON record.
type ReleaseRecord struct {
	QueryID    string    `json:"queryId"               cbor:"0,keyasint"`
	PollID     HexBytes  `json:"pollId"                cbor:"1,keyasint"`
	Kind       string    `json:"kind"                  cbor:"2,keyasint"`
	Query      string    `json:"query"                 cbor:"3,keyasint"`
	TrueCount  int64     `json:"-"                     cbor:"4,keyasint"`
	Noised     *float64  `json:"noisedValue,omitempty" cbor:"5,keyasint,omitempty"`
	Epsilon    float64   `json:"epsilon"               cbor:"6,keyasint"`
	Suppressed bool      `json:"suppressed"            cbor:"7,keyasint"`
	CreatedAt  time.Time `json:"createdAt"             cbor:"8,keyasint"`
	// Buckets holds the noised per-bucket values of a histogram release.
	// Buckets below the k-anonymity floor are left out; Suppressed marks
	// that at least one bucket was withheld.
	Buckets map[string]float64 `json:"buckets,omitempty" cbor:"9,keyasint,omitempty"`
}
