package types

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// CandidateID identifies one candidate on a poll. Candidate IDs are compared
// by lexicographic byte order; that order is the canonical tie-break order of
// the tally and must not change once polls exist.
type CandidateID string

// PollStatus is the lifecycle state of a poll. Transitions are strictly
// one-way: Open -> Closed -> Snapshotted -> Tallied -> Published.
type PollStatus uint8

const (
	PollStatusOpen PollStatus = iota
	PollStatusClosed
	PollStatusSnapshotted
	PollStatusTallied
	PollStatusPublished
)

func (s PollStatus) String() string {
	switch s {
	case PollStatusOpen:
		return "open"
	case PollStatusClosed:
		return "closed"
	case PollStatusSnapshotted:
		return "snapshotted"
	case PollStatusTallied:
		return "tallied"
	case PollStatusPublished:
		return "published"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// PollConfig is the immutable configuration supplied at poll creation.
type PollConfig struct {
	Title          string        `json:"title"           cbor:"0,keyasint"`
	Candidates     []CandidateID `json:"candidates"      cbor:"1,keyasint"`
	StartTime      time.Time     `json:"startTime"       cbor:"2,keyasint"`
	EndTime        time.Time     `json:"endTime"         cbor:"3,keyasint"`
	EpsilonCeiling float64       `json:"epsilonCeiling"  cbor:"4,keyasint"`
	MinCohort      int           `json:"minCohort"       cbor:"5,keyasint"`
	PublishEpsilon float64       `json:"publishEpsilon"  cbor:"6,keyasint"`
}

// HasCandidate reports whether id is on the poll.
func (c *PollConfig) HasCandidate(id CandidateID) bool {
	for _, cand := range c.Candidates {
		if cand == id {
			return true
		}
	}
	return false
}

// Poll is a polling event together with its lifecycle state.
type Poll struct {
	ID           HexBytes   `json:"id"           cbor:"0,keyasint"`
	Config       PollConfig `json:"config"       cbor:"1,keyasint"`
	Status       PollStatus `json:"status"       cbor:"2,keyasint"`
	SnapshotSize uint64     `json:"snapshotSize" cbor:"3,keyasint"`
	CreatedAt    time.Time  `json:"createdAt"    cbor:"4,keyasint"`
}

func (p *Poll) String() string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// NewPollID derives a poll identifier from the poll title and creation time.
func NewPollID(title string, at time.Time) HexBytes {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s-%d", title, at.UnixNano())))
	return hash[:PollIDLen]
}

// Ballot is one voter's ranked submission for one poll. It is immutable once
// accepted by the commitment store. The voter commitment is an opaque one-way
// token minted by the identity service; the core never sees a real identity.
// Attributes carry optional demographic buckets used only by cohort release
// queries; they are never published raw.
type Ballot struct {
	PollID          HexBytes          `json:"pollId"               cbor:"0,keyasint"`
	VoterCommitment HexBytes          `json:"voterCommitment"      cbor:"1,keyasint"`
	Ranking         []CandidateID     `json:"ranking"              cbor:"2,keyasint"`
	CastAt          time.Time         `json:"castAt"               cbor:"3,keyasint"`
	Attributes      map[string]string `json:"attributes,omitempty" cbor:"4,keyasint,omitempty"`
}

// FirstPreference returns the ballot's highest-ranked candidate, or the empty
// string for an empty ranking.
func (b *Ballot) FirstPreference() CandidateID {
	if len(b.Ranking) == 0 {
		return ""
	}
	return b.Ranking[0]
}

// Snapshot is an immutable view of the first Size committed ballots of a
// poll, frozen at close time. The tally engine and the release layer only
// ever read from a snapshot, never from the live store.
type Snapshot struct {
	PollID     HexBytes      `json:"pollId"     cbor:"0,keyasint"`
	Candidates []CandidateID `json:"candidates" cbor:"1,keyasint"`
	Size       uint64        `json:"size"       cbor:"2,keyasint"`
	Root       HexBytes      `json:"root"       cbor:"3,keyasint"`
	// Ballots is populated from the commitment store on snapshot creation
	// and never serialized with the manifest.
	Ballots []*Ballot `json:"-" cbor:"-"`
}
