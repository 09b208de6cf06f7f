package api

import (
	"encoding/json"
	"net/http"

	"github.com/choices-project/pollcore/types"
)

// Query is the request body for an ad-hoc differentially private query. Kind
// selects between a single count, a two-predicate ratio, and a per-bucket
// histogram of one demographic attribute.
type Query struct {
	Kind        string           `json:"kind"`
	Predicate   *types.Predicate `json:"predicate,omitempty"`
	Numerator   *types.Predicate `json:"numerator,omitempty"`
	Denominator *types.Predicate `json:"denominator,omitempty"`
	Attribute   string           `json:"attribute,omitempty"`
	Epsilon     float64          `json:"epsilon"`
}

// BudgetResponse is the response of the budget endpoint.
type BudgetResponse struct {
	PollID    types.HexBytes `json:"pollId"`
	Remaining float64        `json:"remaining"`
}

// query serves an ad-hoc release query against the poll's snapshot
// POST /polls/{pollId}/queries
func (a *API) query(w http.ResponseWriter, r *http.Request) {
	pollID, ok := urlPollID(r)
	if !ok {
		ErrMalformedPollID.Write(w)
		return
	}
	q := &Query{}
	if err := json.NewDecoder(r.Body).Decode(q); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	if q.Epsilon <= 0 {
		ErrMalformedQuery.With("epsilon must be positive").Write(w)
		return
	}
	var record *types.ReleaseRecord
	var err error
	switch q.Kind {
	case types.ReleaseKindCount, "":
		if q.Predicate == nil {
			ErrMalformedQuery.With("count queries need a predicate").Write(w)
			return
		}
		record, err = a.orchestrator.QueryAggregate(pollID, q.Predicate, q.Epsilon)
	case types.ReleaseKindRatio:
		if q.Numerator == nil || q.Denominator == nil {
			ErrMalformedQuery.With("ratio queries need a numerator and a denominator").Write(w)
			return
		}
		record, err = a.orchestrator.QueryRatio(pollID, q.Numerator, q.Denominator, q.Epsilon)
	case types.ReleaseKindHistogram:
		if q.Attribute == "" {
			ErrMalformedQuery.With("histogram queries need an attribute").Write(w)
			return
		}
		record, err = a.orchestrator.QueryHistogram(pollID, q.Attribute, q.Epsilon)
	default:
		ErrMalformedQuery.Withf("unknown query kind %q", q.Kind).Write(w)
		return
	}
	if err != nil {
		fromError(err).Write(w)
		return
	}
	httpWriteJSON(w, record)
}

// releases returns the poll's disclosure audit trail
// GET /polls/{pollId}/releases
func (a *API) releases(w http.ResponseWriter, r *http.Request) {
	pollID, ok := urlPollID(r)
	if !ok {
		ErrMalformedPollID.Write(w)
		return
	}
	records, err := a.orchestrator.Releases(pollID)
	if err != nil {
		fromError(err).Write(w)
		return
	}
	if records == nil {
		records = []*types.ReleaseRecord{}
	}
	httpWriteJSON(w, records)
}

// budget returns the poll's remaining privacy budget
// GET /polls/{pollId}/budget
func (a *API) budget(w http.ResponseWriter, r *http.Request) {
	pollID, ok := urlPollID(r)
	if !ok {
		ErrMalformedPollID.Write(w)
		return
	}
	remaining, err := a.orchestrator.Remaining(pollID)
	if err != nil {
		fromError(err).Write(w)
		return
	}
	httpWriteJSON(w, BudgetResponse{PollID: pollID, Remaining: remaining})
}
