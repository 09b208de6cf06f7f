package privacy

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/choices-project/pollcore/types"
)

// countSensitivity is the L1 sensitivity of a counting query: adding or
// removing one ballot changes the count by at most one.
const countSensitivity = 1.0

// noiseSource draws Laplace noise from a shared random source. distuv
// distributions are not safe for concurrent draws over one source, so draws
// serialize on the mutex.
type noiseSource struct {
	mu  sync.Mutex
	src exprand.Source
}

func cryptoSeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("cannot seed noise source: %v", err))
	}
	return binary.BigEndian.Uint64(buf[:])
}

// laplace draws one sample from Laplace(0, scale).
func (n *noiseSource) laplace(scale float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return distuv.Laplace{Mu: 0, Scale: scale, Src: n.src}.Rand()
}

// Releaser turns raw counts over a snapshot into publishable statistics:
// it charges the budget ledger, applies the k-anonymity gate and the Laplace
// mechanism, and persists an immutable release record per disclosure.
type Releaser struct {
	db     db.Database
	ledger *Ledger
	noise  *noiseSource
}

// NewReleaser creates a releaser with a crypto-seeded noise source.
func NewReleaser(database db.Database, ledger *Ledger) *Releaser {
	return NewReleaserWithSource(database, ledger, exprand.NewSource(cryptoSeed()))
}

// NewReleaserWithSource creates a releaser drawing noise from the given
// source. Used by tests that need reproducible noise.
func NewReleaserWithSource(database db.Database, ledger *Ledger, src exprand.Source) *Releaser {
	return &Releaser{
		db:     database,
		ledger: ledger,
		noise:  &noiseSource{src: src},
	}
}

// Ledger returns the budget ledger the releaser charges against.
func (r *Releaser) Ledger() *Ledger {
	return r.ledger
}

// minCohort returns the poll's k-anonymity floor.
func minCohort(poll *types.Poll) int64 {
	if poll.Config.MinCohort > 0 {
		return int64(poll.Config.MinCohort)
	}
	return types.DefaultMinCohort
}

// countMatches counts the snapshot ballots satisfying the predicate.
func countMatches(snap *types.Snapshot, pred *types.Predicate) int64 {
	var n int64
	for _, b := range snap.Ballots {
		if pred.Match(b) {
			n++
		}
	}
	return n
}

// ReleaseCount publishes the differentially private count of snapshot
// ballots matching the predicate, charging epsilon against the poll's
// budget. The charge happens before anything else and fails closed: on
// ErrBudgetExhausted no record is emitted and nothing is booked.
//
// Cohort-scoped predicates fall under the k-anonymity gate: a true cohort
// strictly below the poll's floor yields a suppressed record that still
// charges epsilon (the attempt itself cost budget) but carries no count. A
// cohort exactly at the floor is released.
func (r *Releaser) ReleaseCount(poll *types.Poll, snap *types.Snapshot, pred *types.Predicate, epsilon float64) (*types.ReleaseRecord, error) {
	queryID := uuid.New().String()
	if err := r.ledger.Charge(poll.ID, queryID, epsilon); err != nil {
		return nil, err
	}
	trueCount := countMatches(snap, pred)
	record := &types.ReleaseRecord{
		QueryID:   queryID,
		PollID:    poll.ID,
		Kind:      types.ReleaseKindCount,
		Query:     pred.String(),
		TrueCount: trueCount,
		Epsilon:   epsilon,
		CreatedAt: time.Now(),
	}
	if pred.Cohort() && trueCount < minCohort(poll) {
		record.Suppressed = true
	} else {
		noised := float64(trueCount) + r.noise.laplace(countSensitivity/epsilon)
		record.Noised = &noised
	}
	if err := r.persist(record); err != nil {
		return nil, err
	}
	return record, nil
}

// ReleaseRatio publishes the differentially private ratio of ballots
// matching the numerator predicate among those matching the denominator
// predicate. The charged epsilon splits evenly between the two counts; the
// noised ratio is their quotient, with the numerator clamped to zero and
// the denominator clamped to one ballot. The k-anonymity gate applies if
// either predicate is cohort-scoped.
func (r *Releaser) ReleaseRatio(poll *types.Poll, snap *types.Snapshot, numerator, denominator *types.Predicate, epsilon float64) (*types.ReleaseRecord, error) {
	queryID := uuid.New().String()
	if err := r.ledger.Charge(poll.ID, queryID, epsilon); err != nil {
		return nil, err
	}
	trueNum := countMatches(snap, numerator)
	trueDen := countMatches(snap, denominator)
	record := &types.ReleaseRecord{
		QueryID:   queryID,
		PollID:    poll.ID,
		Kind:      types.ReleaseKindRatio,
		Query:     fmt.Sprintf(`{"numerator":%s,"denominator":%s}`, numerator.String(), denominator.String()),
		TrueCount: trueNum,
		Epsilon:   epsilon,
		CreatedAt: time.Now(),
	}
	floor := minCohort(poll)
	if (numerator.Cohort() && trueNum < floor) || (denominator.Cohort() && trueDen < floor) {
		record.Suppressed = true
	} else {
		half := epsilon * types.RatioEpsilonSplit
		scale := countSensitivity / half
		num := float64(trueNum) + r.noise.laplace(scale)
		den := float64(trueDen) + r.noise.laplace(scale)
		if num < 0 {
			num = 0
		}
		if den < 1 {
			den = 1
		}
		ratio := num / den
		record.Noised = &ratio
	}
	if err := r.persist(record); err != nil {
		return nil, err
	}
	return record, nil
}

// ReleaseHistogram publishes the differentially private per-bucket breakdown
// of one demographic attribute over the snapshot. The buckets partition the
// ballots, so a single charge of epsilon covers the whole histogram and each
// bucket is noised at the full epsilon. Buckets with a true count strictly
// below the poll's floor are withheld and the record is marked suppressed;
// ballots without the attribute are not counted.
func (r *Releaser) ReleaseHistogram(poll *types.Poll, snap *types.Snapshot, attribute string, epsilon float64) (*types.ReleaseRecord, error) {
	queryID := uuid.New().String()
	if err := r.ledger.Charge(poll.ID, queryID, epsilon); err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	var total int64
	for _, b := range snap.Ballots {
		if bucket, ok := b.Attributes[attribute]; ok {
			counts[bucket]++
			total++
		}
	}
	record := &types.ReleaseRecord{
		QueryID:   queryID,
		PollID:    poll.ID,
		Kind:      types.ReleaseKindHistogram,
		Query:     fmt.Sprintf(`{"attribute":%q}`, attribute),
		TrueCount: total,
		Epsilon:   epsilon,
		CreatedAt: time.Now(),
	}
	floor := minCohort(poll)
	buckets := make(map[string]float64)
	for bucket, count := range counts {
		if count < floor {
			record.Suppressed = true
			continue
		}
		buckets[bucket] = float64(count) + r.noise.laplace(countSensitivity/epsilon)
	}
	if len(buckets) > 0 {
		record.Buckets = buckets
	}
	if err := r.persist(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *Releaser) persist(record *types.ReleaseRecord) error {
	data, err := detEnc.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode release record: %w", err)
	}
	key := append(append([]byte{}, record.PollID...), []byte(record.QueryID)...)
	wTx := r.db.WriteTx()
	if err := prefixeddb.NewPrefixedWriteTx(wTx, releasePrefix).Set(key, data); err != nil {
		wTx.Discard()
		return fmt.Errorf("write release record: %w", err)
	}
	return wTx.Commit()
}

// Releases returns the poll's release records, the full audit trail of what
// was ever disclosed.
func (r *Releaser) Releases(pollID types.HexBytes) ([]*types.ReleaseRecord, error) {
	rd := prefixeddb.NewPrefixedReader(r.db, releasePrefix)
	var records []*types.ReleaseRecord
	var decodeErr error
	if err := rd.Iterate(pollID, func(_, v []byte) bool {
		record := &types.ReleaseRecord{}
		if decodeErr = cbor.Unmarshal(v, record); decodeErr != nil {
			return false
		}
		records = append(records, record)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate release records: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode release record: %w", decodeErr)
	}
	return records, nil
}
