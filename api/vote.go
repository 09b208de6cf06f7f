package api

import (
	"encoding/json"
	"net/http"

	"github.com/choices-project/pollcore/types"
)

// Vote is the request body for casting a ballot.
type Vote struct {
	VoterCommitment types.HexBytes      `json:"voterCommitment"`
	Ranking         []types.CandidateID `json:"ranking"`
	Attributes      map[string]string   `json:"attributes,omitempty"`
}

// RootResponse is the response of the versioned root endpoint.
type RootResponse struct {
	PollID    types.HexBytes `json:"pollId"`
	LeafCount uint64         `json:"leafCount"`
	Root      types.HexBytes `json:"root"`
}

// castBallot commits a ballot on an open poll and returns the receipt
// POST /polls/{pollId}/votes
func (a *API) castBallot(w http.ResponseWriter, r *http.Request) {
	pollID, ok := urlPollID(r)
	if !ok {
		ErrMalformedPollID.Write(w)
		return
	}
	vote := &Vote{}
	if err := json.NewDecoder(r.Body).Decode(vote); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	receipt, err := a.orchestrator.CastBallot(pollID, vote.VoterCommitment, vote.Ranking, vote.Attributes)
	if err != nil {
		fromError(err).Write(w)
		return
	}
	httpWriteJSON(w, receipt)
}

// root returns the tree head at a given leaf count for independent audit
// GET /polls/{pollId}/root/{leafCount}
func (a *API) root(w http.ResponseWriter, r *http.Request) {
	pollID, ok := urlPollID(r)
	if !ok {
		ErrMalformedPollID.Write(w)
		return
	}
	leafCount, ok := urlLeafCount(r)
	if !ok {
		ErrMalformedLeafCount.Write(w)
		return
	}
	root, err := a.orchestrator.GetRoot(pollID, leafCount)
	if err != nil {
		fromError(err).Write(w)
		return
	}
	httpWriteJSON(w, RootResponse{PollID: pollID, LeafCount: leafCount, Root: root})
}

// inclusionProof returns the proof that a voter's ballot is committed
// GET /polls/{pollId}/proof/{voterCommitment}
func (a *API) inclusionProof(w http.ResponseWriter, r *http.Request) {
	pollID, ok := urlPollID(r)
	if !ok {
		ErrMalformedPollID.Write(w)
		return
	}
	voter, ok := urlVoterCommitment(r)
	if !ok {
		ErrMalformedVoterID.Write(w)
		return
	}
	proof, err := a.orchestrator.GetInclusionProof(pollID, voter)
	if err != nil {
		fromError(err).Write(w)
		return
	}
	httpWriteJSON(w, proof)
}
