package service

import (
	"context"
	"os"
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

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	database := metadb.NewTest(t)
	ledger := privacy.NewLedger(database)
	releaser := privacy.NewReleaserWithSource(database, ledger, exprand.NewSource(3))
	return orchestrator.New(storage.New(database), commitment.NewStore(database), releaser)
}

func TestAPIService(t *testing.T) {
	c := qt.New(t)

	o := newTestOrchestrator(t)

	// Port 0 lets the OS choose an available port
	apiService := NewAPI(o, "127.0.0.1", 0)

	ctx := context.Background()
	err := apiService.Start(ctx)
	c.Assert(err, qt.IsNil)
	defer apiService.Stop()

	// Test starting an already running service
	err = apiService.Start(ctx)
	c.Assert(err, qt.ErrorMatches, "service already running")

	host, port := apiService.HostPort()
	c.Assert(host, qt.Equals, "127.0.0.1")
	c.Assert(port, qt.Equals, 0)
}

func TestPollMonitorClosesExpiredPolls(t *testing.T) {
	c := qt.New(t)

	o := newTestOrchestrator(t)
	now := time.Now()
	poll, err := o.CreatePoll(types.PollConfig{
		Title:          "expiring poll",
		Candidates:     []types.CandidateID{"A", "B"},
		StartTime:      now,
		EndTime:        now.Add(300 * time.Millisecond),
		EpsilonCeiling: 5,
	})
	c.Assert(err, qt.IsNil)
	_, err = o.CastBallot(poll.ID, []byte("voter-001"), []types.CandidateID{"A"}, nil)
	c.Assert(err, qt.IsNil)

	monitor := NewPollMonitor(o, 50*time.Millisecond)
	c.Assert(monitor.Start(context.Background()), qt.IsNil)
	defer monitor.Stop()
	c.Assert(monitor.Start(context.Background()), qt.ErrorMatches, "service already running")

	// wait for the monitor to pick the poll up after its end time
	deadline := time.Now().Add(5 * time.Second)
	for {
		stored, err := o.Poll(poll.ID)
		c.Assert(err, qt.IsNil)
		if stored.Status == types.PollStatusPublished {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("poll was not closed, status is %s", stored.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	result, err := o.GetResult(poll.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(result.Winner, qt.Equals, types.CandidateID("A"))
}
