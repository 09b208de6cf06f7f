package api

import (
	"encoding/json"
	"net/http"

	"github.com/choices-project/pollcore/log"
	"github.com/choices-project/pollcore/types"
)

// PollList is the response of the poll listing endpoint.
type PollList struct {
	Polls []types.HexBytes `json:"polls"`
}

// newPoll creates a new poll from its configuration
// POST /polls
func (a *API) newPoll(w http.ResponseWriter, r *http.Request) {
	config := types.PollConfig{}
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	poll, err := a.orchestrator.CreatePoll(config)
	if err != nil {
		ErrInvalidPollConfig.WithErr(err).Write(w)
		return
	}
	log.Infow("new poll", "pollId", poll.ID.String(), "title", config.Title)
	httpWriteJSON(w, poll)
}

// listPolls returns the stored poll ids
// GET /polls
func (a *API) listPolls(w http.ResponseWriter, r *http.Request) {
	ids, err := a.orchestrator.ListPolls()
	if err != nil {
		fromError(err).Write(w)
		return
	}
	list := PollList{Polls: []types.HexBytes{}}
	for _, id := range ids {
		list.Polls = append(list.Polls, id)
	}
	httpWriteJSON(w, list)
}

// poll returns the poll record with its lifecycle status
// GET /polls/{pollId}
func (a *API) poll(w http.ResponseWriter, r *http.Request) {
	pollID, ok := urlPollID(r)
	if !ok {
		ErrMalformedPollID.Write(w)
		return
	}
	poll, err := a.orchestrator.Poll(pollID)
	if err != nil {
		fromError(err).Write(w)
		return
	}
	httpWriteJSON(w, poll)
}

// closePoll freezes the snapshot, tallies and publishes the poll
// POST /polls/{pollId}/close
func (a *API) closePoll(w http.ResponseWriter, r *http.Request) {
	pollID, ok := urlPollID(r)
	if !ok {
		ErrMalformedPollID.Write(w)
		return
	}
	result, err := a.orchestrator.ClosePoll(pollID)
	if err != nil {
		fromError(err).Write(w)
		return
	}
	httpWriteJSON(w, result)
}

// result returns the raw winner and round trace of a published poll
// GET /polls/{pollId}/result
func (a *API) result(w http.ResponseWriter, r *http.Request) {
	pollID, ok := urlPollID(r)
	if !ok {
		ErrMalformedPollID.Write(w)
		return
	}
	result, err := a.orchestrator.GetResult(pollID)
	if err != nil {
		fromError(err).Write(w)
		return
	}
	httpWriteJSON(w, result)
}
