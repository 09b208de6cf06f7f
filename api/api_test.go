package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"
	exprand "golang.org/x/exp/rand"

	"github.com/choices-project/pollcore/commitment"
	"github.com/choices-project/pollcore/log"
	"github.com/choices-project/pollcore/orchestrator"
	"github.com/choices-project/pollcore/privacy"
	"github.com/choices-project/pollcore/storage"
	"github.com/choices-project/pollcore/types"
)

func TestMain(m *testing.M) {
	log.Init(log.LogLevelDebug, log.OutputStderr, nil)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) *httptest.Server {
	database := metadb.NewTest(t)
	ledger := privacy.NewLedger(database)
	releaser := privacy.NewReleaserWithSource(database, ledger, exprand.NewSource(11))
	o := orchestrator.New(storage.New(database), commitment.NewStore(database), releaser)
	a := &API{orchestrator: o}
	a.initRouter()
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path string, body, out any) int {
	t.Helper()
	c := qt.New(t)
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		c.Assert(err, qt.IsNil)
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, reqBody)
	c.Assert(err, qt.IsNil)
	resp, err := srv.Client().Do(req)
	c.Assert(err, qt.IsNil)
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode == http.StatusOK {
		c.Assert(json.NewDecoder(resp.Body).Decode(out), qt.IsNil)
	}
	return resp.StatusCode
}

func createTestPoll(t *testing.T, srv *httptest.Server) *types.Poll {
	c := qt.New(t)
	now := time.Now()
	config := types.PollConfig{
		Title:          "api poll",
		Candidates:     []types.CandidateID{"A", "B", "C"},
		StartTime:      now,
		EndTime:        now.Add(time.Hour),
		EpsilonCeiling: 10,
		MinCohort:      2,
		PublishEpsilon: 0.5,
	}
	poll := &types.Poll{}
	status := doRequest(t, srv, http.MethodPost, PollsEndpoint, config, poll)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(poll.ID, qt.HasLen, types.PollIDLen)
	return poll
}

func pollPath(poll *types.Poll, suffix string) string {
	return "/polls/" + poll.ID.String() + suffix
}

func castTestVote(t *testing.T, srv *httptest.Server, poll *types.Poll, voter int, ranking ...types.CandidateID) *orchestrator.Receipt {
	c := qt.New(t)
	vote := &Vote{
		VoterCommitment: []byte(fmt.Sprintf("voter-%03d", voter)),
		Ranking:         ranking,
	}
	receipt := &orchestrator.Receipt{}
	status := doRequest(t, srv, http.MethodPost, pollPath(poll, "/votes"), vote, receipt)
	c.Assert(status, qt.Equals, http.StatusOK)
	return receipt
}

func TestAPIPing(t *testing.T) {
	c := qt.New(t)
	srv := newTestServer(t)
	c.Assert(doRequest(t, srv, http.MethodGet, PingEndpoint, nil, nil), qt.Equals, http.StatusOK)
}

func TestAPIPollLifecycle(t *testing.T) {
	c := qt.New(t)
	srv := newTestServer(t)
	poll := createTestPoll(t, srv)

	// the poll record is served with its status
	got := &types.Poll{}
	status := doRequest(t, srv, http.MethodGet, pollPath(poll, ""), nil, got)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(got.Status, qt.Equals, types.PollStatusOpen)

	list := &PollList{}
	status = doRequest(t, srv, http.MethodGet, PollsEndpoint, nil, list)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(list.Polls, qt.HasLen, 1)

	castTestVote(t, srv, poll, 0, "A", "B")
	castTestVote(t, srv, poll, 1, "A", "B")
	castTestVote(t, srv, poll, 2, "B", "C")
	castTestVote(t, srv, poll, 3, "C", "B")
	receipt := castTestVote(t, srv, poll, 4, "C", "A")
	c.Assert(receipt.LeafIndex, qt.Equals, uint64(4))

	// result is a 404 until published
	status = doRequest(t, srv, http.MethodGet, pollPath(poll, "/result"), nil, nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)

	result := &types.TallyResult{}
	status = doRequest(t, srv, http.MethodPost, pollPath(poll, "/close"), nil, result)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(result.Winner, qt.Equals, types.CandidateID("C"))
	c.Assert(result.Rounds, qt.HasLen, 2)

	status = doRequest(t, srv, http.MethodGet, pollPath(poll, "/result"), nil, result)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(result.Outcome, qt.Equals, types.TallyDecided)

	// a second close and a late ballot both conflict
	status = doRequest(t, srv, http.MethodPost, pollPath(poll, "/close"), nil, nil)
	c.Assert(status, qt.Equals, http.StatusConflict)
	vote := &Vote{VoterCommitment: []byte("late"), Ranking: ranking("A")}
	status = doRequest(t, srv, http.MethodPost, pollPath(poll, "/votes"), vote, nil)
	c.Assert(status, qt.Equals, http.StatusConflict)
}

func TestAPIAuditEndpoints(t *testing.T) {
	c := qt.New(t)
	srv := newTestServer(t)
	poll := createTestPoll(t, srv)

	for i := 0; i < 4; i++ {
		castTestVote(t, srv, poll, i, "B", "A")
	}

	// versioned root
	rootResp := &RootResponse{}
	status := doRequest(t, srv, http.MethodGet, pollPath(poll, "/root/4"), nil, rootResp)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(rootResp.Root, qt.Not(qt.HasLen), 0)
	status = doRequest(t, srv, http.MethodGet, pollPath(poll, "/root/9"), nil, nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)

	// inclusion proof, verifiable client-side
	voterHex := types.HexBytes("voter-002").String()
	proof := &commitment.Proof{}
	status = doRequest(t, srv, http.MethodGet, pollPath(poll, "/proof/"+voterHex), nil, proof)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(proof.LeafIndex, qt.Equals, uint64(2))
	c.Assert(commitment.VerifyProof(proof, proof.LeafHash, proof.Root), qt.IsTrue)

	status = doRequest(t, srv, http.MethodGet, pollPath(poll, "/proof/"+types.HexBytes("nobody").String()), nil, nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
}

func TestAPIQueries(t *testing.T) {
	c := qt.New(t)
	srv := newTestServer(t)
	poll := createTestPoll(t, srv)
	for i := 0; i < 3; i++ {
		castTestVote(t, srv, poll, i, "A")
	}

	query := &Query{Kind: types.ReleaseKindCount, Predicate: &types.Predicate{FirstPreference: "A"}, Epsilon: 1}

	// queries conflict until the snapshot exists
	status := doRequest(t, srv, http.MethodPost, pollPath(poll, "/queries"), query, nil)
	c.Assert(status, qt.Equals, http.StatusConflict)

	status = doRequest(t, srv, http.MethodPost, pollPath(poll, "/close"), nil, nil)
	c.Assert(status, qt.Equals, http.StatusOK)

	record := &types.ReleaseRecord{}
	status = doRequest(t, srv, http.MethodPost, pollPath(poll, "/queries"), query, record)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(record.Kind, qt.Equals, types.ReleaseKindCount)
	c.Assert(record.Noised, qt.IsNotNil)
	// the serialized record never exposes the true count
	c.Assert(record.TrueCount, qt.Equals, int64(0))

	// a demographic breakdown is one query and one charge
	histogram := &types.ReleaseRecord{}
	status = doRequest(t, srv, http.MethodPost, pollPath(poll, "/queries"),
		&Query{Kind: types.ReleaseKindHistogram, Attribute: "region", Epsilon: 1}, histogram)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(histogram.Kind, qt.Equals, types.ReleaseKindHistogram)

	status = doRequest(t, srv, http.MethodPost, pollPath(poll, "/queries"),
		&Query{Kind: "median", Predicate: query.Predicate, Epsilon: 1}, nil)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	status = doRequest(t, srv, http.MethodPost, pollPath(poll, "/queries"),
		&Query{Kind: types.ReleaseKindCount, Predicate: query.Predicate, Epsilon: 0}, nil)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	status = doRequest(t, srv, http.MethodPost, pollPath(poll, "/queries"),
		&Query{Kind: types.ReleaseKindHistogram, Epsilon: 1}, nil)
	c.Assert(status, qt.Equals, http.StatusBadRequest)

	// audit trail and budget
	var records []*types.ReleaseRecord
	status = doRequest(t, srv, http.MethodGet, pollPath(poll, "/releases"), nil, &records)
	c.Assert(status, qt.Equals, http.StatusOK)
	// 3 candidate releases, the turnout and the two ad-hoc queries
	c.Assert(records, qt.HasLen, 6)

	budget := &BudgetResponse{}
	status = doRequest(t, srv, http.MethodGet, pollPath(poll, "/budget"), nil, budget)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(budget.Remaining < 10, qt.IsTrue)
}

func TestAPIErrorResponses(t *testing.T) {
	c := qt.New(t)
	srv := newTestServer(t)

	// malformed poll id
	resp, err := srv.Client().Get(srv.URL + "/polls/zzzz")
	c.Assert(err, qt.IsNil)
	body, err := io.ReadAll(resp.Body)
	c.Assert(err, qt.IsNil)
	_ = resp.Body.Close()
	c.Assert(resp.StatusCode, qt.Equals, http.StatusBadRequest)
	c.Assert(strings.Contains(string(body), `"code":40006`), qt.IsTrue)

	// unknown poll id
	missing := types.NewPollID("missing", time.Now()).String()
	resp, err = srv.Client().Get(srv.URL + "/polls/" + missing)
	c.Assert(err, qt.IsNil)
	body, err = io.ReadAll(resp.Body)
	c.Assert(err, qt.IsNil)
	_ = resp.Body.Close()
	c.Assert(resp.StatusCode, qt.Equals, http.StatusNotFound)
	c.Assert(strings.Contains(string(body), `"code":40007`), qt.IsTrue)

	// invalid configuration
	status := doRequest(t, srv, http.MethodPost, PollsEndpoint, types.PollConfig{Title: ""}, nil)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
}

func ranking(cands ...types.CandidateID) []types.CandidateID { return cands }
