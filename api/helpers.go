package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/choices-project/pollcore/log"
	"github.com/choices-project/pollcore/types"
)

// httpWriteJSON helper function allows to write a JSON response.
func httpWriteJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	jdata, err := json.Marshal(data)
	if err != nil {
		ErrMarshalingServerJSONFailed.WithErr(err).Write(w)
		return
	}
	n, err := w.Write(jdata)
	if err != nil {
		log.Warnw("failed to write http response", "error", err)
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
	log.Debugw("api response", "bytes", n, "data", strings.ReplaceAll(string(jdata), "\"", ""))
}

// httpWriteOK helper function allows to write an OK response.
func httpWriteOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
}

// urlPollID parses the hex poll id URL parameter.
func urlPollID(r *http.Request) (types.HexBytes, bool) {
	pollID := types.HexBytes{}
	if err := pollID.SetString(chi.URLParam(r, PollURLParam)); err != nil {
		return nil, false
	}
	if len(pollID) != types.PollIDLen {
		return nil, false
	}
	return pollID, true
}

// urlVoterCommitment parses the hex voter commitment URL parameter.
func urlVoterCommitment(r *http.Request) (types.HexBytes, bool) {
	voter := types.HexBytes{}
	if err := voter.SetString(chi.URLParam(r, VoterURLParam)); err != nil || len(voter) == 0 {
		return nil, false
	}
	return voter, true
}

// urlLeafCount parses the decimal leaf count URL parameter.
func urlLeafCount(r *http.Request) (uint64, bool) {
	count, err := strconv.ParseUint(chi.URLParam(r, LeafCountURLParam), 10, 64)
	if err != nil {
		return 0, false
	}
	return count, true
}
