// Package privacy implements the differential-privacy release layer: the
// per-poll epsilon budget ledger, Laplace noise calibration and the
// k-anonymity suppression gate. Every disclosure leaves an immutable release
// record behind as the audit trail of what was ever published.
package privacy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/choices-project/pollcore/types"
)

var (
	// ErrBudgetExhausted is returned when a charge would overdraw the
	// poll's epsilon ceiling. The charge leaves no trace.
	ErrBudgetExhausted = fmt.Errorf("privacy budget exhausted")
	// ErrDuplicateQuery is returned when a query id has already been
	// charged on the poll. Ledger entries are append-only.
	ErrDuplicateQuery = fmt.Errorf("query id already charged")
	// ErrNoCeiling is returned when the poll has no epsilon ceiling
	// registered.
	ErrNoCeiling = fmt.Errorf("no epsilon ceiling registered for poll")
)

// budgetTolerance absorbs float accumulation error when comparing spent
// epsilon against the ceiling. A charge within this distance of the exact
// remaining budget is accepted.
const budgetTolerance = 1e-9

// Database key prefixes of the privacy layer.
var (
	ceilingPrefix = []byte("ce/") // poll -> epsilon ceiling
	ledgerPrefix  = []byte("le/") // poll + query id -> ledger entry
	releasePrefix = []byte("rr/") // poll + query id -> release record
)

var detEnc cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	detEnc = em
}

// Entry is one booked charge against a poll's privacy budget.
type Entry struct {
	QueryID   string    `json:"queryId"   cbor:"0,keyasint"`
	Epsilon   float64   `json:"epsilon"   cbor:"1,keyasint"`
	CreatedAt time.Time `json:"createdAt" cbor:"2,keyasint"`
}

// Ledger is the per-poll privacy budget ledger. It owns epsilon allocation
// and nothing else: no noise, no counting. Charges are atomic check-and-book
// operations; a refused charge has no side effect.
type Ledger struct {
	db db.Database
	mu sync.Mutex
}

// NewLedger creates a budget ledger on top of the given database.
func NewLedger(database db.Database) *Ledger {
	return &Ledger{db: database}
}

// SetCeiling registers the poll's total epsilon ceiling. Called once at poll
// creation; the ceiling is immutable afterwards.
func (l *Ledger) SetCeiling(pollID types.HexBytes, epsilon float64) error {
	if epsilon <= 0 {
		return fmt.Errorf("epsilon ceiling must be positive, got %g", epsilon)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rd := prefixeddb.NewPrefixedReader(l.db, ceilingPrefix)
	if _, err := rd.Get(pollID); err == nil {
		return fmt.Errorf("epsilon ceiling already registered for poll %s", pollID)
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return fmt.Errorf("read ceiling: %w", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(epsilon))
	wTx := l.db.WriteTx()
	if err := prefixeddb.NewPrefixedWriteTx(wTx, ceilingPrefix).Set(pollID, buf[:]); err != nil {
		wTx.Discard()
		return fmt.Errorf("write ceiling: %w", err)
	}
	return wTx.Commit()
}

// Ceiling returns the poll's registered epsilon ceiling.
func (l *Ledger) Ceiling(pollID types.HexBytes) (float64, error) {
	rd := prefixeddb.NewPrefixedReader(l.db, ceilingPrefix)
	v, err := rd.Get(pollID)
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrNoCeiling, pollID)
	} else if err != nil {
		return 0, fmt.Errorf("read ceiling: %w", err)
	}
	return math.Float64frombits(binary.BigEndian.Uint64(v)), nil
}

// spent sums the booked epsilon of a poll's ledger entries.
func (l *Ledger) spent(pollID types.HexBytes) (float64, error) {
	rd := prefixeddb.NewPrefixedReader(l.db, ledgerPrefix)
	var total float64
	var decodeErr error
	if err := rd.Iterate(pollID, func(_, v []byte) bool {
		var e Entry
		if decodeErr = cbor.Unmarshal(v, &e); decodeErr != nil {
			return false
		}
		total += e.Epsilon
		return true
	}); err != nil {
		return 0, fmt.Errorf("iterate ledger: %w", err)
	}
	if decodeErr != nil {
		return 0, fmt.Errorf("decode ledger entry: %w", decodeErr)
	}
	return total, nil
}

// Charge atomically checks the remaining budget and books epsilon against
// the poll under the given query id. On ErrBudgetExhausted nothing is
// booked; there is no partial debit.
func (l *Ledger) Charge(pollID types.HexBytes, queryID string, epsilon float64) error {
	if epsilon <= 0 {
		return fmt.Errorf("charge epsilon must be positive, got %g", epsilon)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ceiling, err := l.Ceiling(pollID)
	if err != nil {
		return err
	}
	entryKey := append(append([]byte{}, pollID...), []byte(queryID)...)
	rd := prefixeddb.NewPrefixedReader(l.db, ledgerPrefix)
	if _, err := rd.Get(entryKey); err == nil {
		return fmt.Errorf("%w: %q", ErrDuplicateQuery, queryID)
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return fmt.Errorf("read ledger entry: %w", err)
	}
	spent, err := l.spent(pollID)
	if err != nil {
		return err
	}
	if spent+epsilon > ceiling+budgetTolerance {
		return fmt.Errorf("%w: spent %g + requested %g exceeds ceiling %g",
			ErrBudgetExhausted, spent, epsilon, ceiling)
	}

	data, err := detEnc.Marshal(&Entry{QueryID: queryID, Epsilon: epsilon, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	wTx := l.db.WriteTx()
	if err := prefixeddb.NewPrefixedWriteTx(wTx, ledgerPrefix).Set(entryKey, data); err != nil {
		wTx.Discard()
		return fmt.Errorf("write ledger entry: %w", err)
	}
	return wTx.Commit()
}

// Remaining returns the ceiling minus the sum of booked charges.
func (l *Ledger) Remaining(pollID types.HexBytes) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ceiling, err := l.Ceiling(pollID)
	if err != nil {
		return 0, err
	}
	spent, err := l.spent(pollID)
	if err != nil {
		return 0, err
	}
	return ceiling - spent, nil
}

// Entries returns the poll's booked charges in query-id order.
func (l *Ledger) Entries(pollID types.HexBytes) ([]*Entry, error) {
	rd := prefixeddb.NewPrefixedReader(l.db, ledgerPrefix)
	var entries []*Entry
	var decodeErr error
	if err := rd.Iterate(pollID, func(_, v []byte) bool {
		e := &Entry{}
		if decodeErr = cbor.Unmarshal(v, e); decodeErr != nil {
			return false
		}
		entries = append(entries, e)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode ledger entry: %w", decodeErr)
	}
	return entries, nil
}
