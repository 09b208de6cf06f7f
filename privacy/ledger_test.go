package privacy

import (
	"math"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/choices-project/pollcore/types"
)

func assertClose(c *qt.C, got, want float64) {
	c.Helper()
	c.Assert(math.Abs(got-want) < 1e-9, qt.IsTrue,
		qt.Commentf("got %g, want %g", got, want))
}

func testPollID(title string) types.HexBytes {
	return types.NewPollID(title, time.Unix(1700000000, 0))
}

func TestLedgerChargeAndRemaining(t *testing.T) {
	c := qt.New(t)
	ledger := NewLedger(metadb.NewTest(t))
	pollID := testPollID("budget")

	c.Assert(ledger.SetCeiling(pollID, 1.0), qt.IsNil)
	ceiling, err := ledger.Ceiling(pollID)
	c.Assert(err, qt.IsNil)
	assertClose(c, ceiling, 1.0)

	c.Assert(ledger.Charge(pollID, "q1", 0.3), qt.IsNil)
	c.Assert(ledger.Charge(pollID, "q2", 0.4), qt.IsNil)
	remaining, err := ledger.Remaining(pollID)
	c.Assert(err, qt.IsNil)
	assertClose(c, remaining, 0.3)

	// a refused charge changes nothing
	err = ledger.Charge(pollID, "q3", 0.5)
	c.Assert(err, qt.ErrorIs, ErrBudgetExhausted)
	remaining, err = ledger.Remaining(pollID)
	c.Assert(err, qt.IsNil)
	assertClose(c, remaining, 0.3)
	entries, err := ledger.Entries(pollID)
	c.Assert(err, qt.IsNil)
	c.Assert(entries, qt.HasLen, 2)

	// charging exactly the remaining budget succeeds
	c.Assert(ledger.Charge(pollID, "q4", 0.3), qt.IsNil)
	remaining, err = ledger.Remaining(pollID)
	c.Assert(err, qt.IsNil)
	assertClose(c, remaining, 0)

	// and the budget is now exhausted for any further query
	err = ledger.Charge(pollID, "q5", 0.001)
	c.Assert(err, qt.ErrorIs, ErrBudgetExhausted)
}

func TestLedgerRejectsDuplicateQuery(t *testing.T) {
	c := qt.New(t)
	ledger := NewLedger(metadb.NewTest(t))
	pollID := testPollID("dup")

	c.Assert(ledger.SetCeiling(pollID, 2.0), qt.IsNil)
	c.Assert(ledger.Charge(pollID, "q1", 0.1), qt.IsNil)
	err := ledger.Charge(pollID, "q1", 0.1)
	c.Assert(err, qt.ErrorIs, ErrDuplicateQuery)

	remaining, err := ledger.Remaining(pollID)
	c.Assert(err, qt.IsNil)
	assertClose(c, remaining, 1.9)
}

func TestLedgerRequiresCeiling(t *testing.T) {
	c := qt.New(t)
	ledger := NewLedger(metadb.NewTest(t))
	pollID := testPollID("no ceiling")

	err := ledger.Charge(pollID, "q1", 0.1)
	c.Assert(err, qt.ErrorIs, ErrNoCeiling)
	_, err = ledger.Remaining(pollID)
	c.Assert(err, qt.ErrorIs, ErrNoCeiling)

	// the ceiling is immutable once set
	c.Assert(ledger.SetCeiling(pollID, 1.0), qt.IsNil)
	c.Assert(ledger.SetCeiling(pollID, 5.0), qt.IsNotNil)
}

func TestLedgerRejectsNonPositiveEpsilon(t *testing.T) {
	c := qt.New(t)
	ledger := NewLedger(metadb.NewTest(t))
	pollID := testPollID("bad epsilon")

	c.Assert(ledger.SetCeiling(pollID, -1), qt.IsNotNil)
	c.Assert(ledger.SetCeiling(pollID, 1.0), qt.IsNil)
	c.Assert(ledger.Charge(pollID, "q1", 0), qt.IsNotNil)
	c.Assert(ledger.Charge(pollID, "q2", -0.5), qt.IsNotNil)

	remaining, err := ledger.Remaining(pollID)
	c.Assert(err, qt.IsNil)
	assertClose(c, remaining, 1.0)
}

func TestLedgerBudgetsAreIndependent(t *testing.T) {
	c := qt.New(t)
	ledger := NewLedger(metadb.NewTest(t))
	pollA := testPollID("poll a")
	pollB := testPollID("poll b")

	c.Assert(ledger.SetCeiling(pollA, 1.0), qt.IsNil)
	c.Assert(ledger.SetCeiling(pollB, 2.0), qt.IsNil)
	c.Assert(ledger.Charge(pollA, "q1", 0.9), qt.IsNil)

	remaining, err := ledger.Remaining(pollB)
	c.Assert(err, qt.IsNil)
	assertClose(c, remaining, 2.0)
}
