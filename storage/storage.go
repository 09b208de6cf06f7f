// storage package contains the poll lifecycle artifacts that are stored in
// the database: poll records, snapshot manifests and tally outputs. It is a
// prefixed key-value store; the ballot and tree artifacts live in the
// commitment package and the budget artifacts in the privacy package, each
// under its own prefixes. The following prefixes are used here:
//   - 'p/' for polls
//   - 'sn/' for snapshot manifests
//   - 'tr/' for tally results
//   - 'rd/' for individual tally rounds
package storage

import (
	"encoding/binary"
	"fmt"

	"go.vocdoni.io/dvote/db"

	"github.com/choices-project/pollcore/types"
)

var (
	// Prefixes for the keys in the database.
	pollPrefix     = []byte("p/")
	snapshotPrefix = []byte("sn/")
	resultPrefix   = []byte("tr/")
	roundPrefix    = []byte("rd/")
)

// ErrNotFound is returned when the requested artifact is not in the storage.
var ErrNotFound = fmt.Errorf("artifact not found")

// Storage is the interface that wraps the basic methods to interact with the
// poll lifecycle storage.
type Storage struct {
	db db.Database
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Close closes the storage.
func (s *Storage) Close() {
	s.db.Close()
}

// Database returns the underlying database, shared with the commitment and
// privacy stores.
func (s *Storage) Database() db.Database {
	return s.db
}

// Poll retrieves a poll record. It returns ErrNotFound if the poll does not
// exist.
func (s *Storage) Poll(pollID types.HexBytes) (*types.Poll, error) {
	p := &types.Poll{}
	if err := s.getArtifact(pollPrefix, pollID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetPoll stores a poll record, overwriting any previous state.
func (s *Storage) SetPoll(poll *types.Poll) error {
	if poll == nil {
		return fmt.Errorf("nil poll")
	}
	return s.setArtifact(pollPrefix, poll.ID, poll)
}

// ListPolls returns the stored poll IDs.
func (s *Storage) ListPolls() ([][]byte, error) {
	return s.listArtifacts(pollPrefix)
}

// Snapshot retrieves a poll's snapshot manifest. The manifest carries the
// frozen size and root; the ballots themselves are read back from the
// commitment store.
func (s *Storage) Snapshot(pollID types.HexBytes) (*types.Snapshot, error) {
	snap := &types.Snapshot{}
	if err := s.getArtifact(snapshotPrefix, pollID, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// SetSnapshot stores a poll's snapshot manifest.
func (s *Storage) SetSnapshot(snap *types.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	return s.setArtifact(snapshotPrefix, snap.PollID, snap)
}

// Result retrieves a poll's tally result.
func (s *Storage) Result(pollID types.HexBytes) (*types.TallyResult, error) {
	result := &types.TallyResult{}
	if err := s.getArtifact(resultPrefix, pollID, result); err != nil {
		return nil, err
	}
	return result, nil
}

// SetResult stores a tally result, plus every round under its own key so
// single rounds can be served without decoding the whole trace.
func (s *Storage) SetResult(pollID types.HexBytes, result *types.TallyResult) error {
	if result == nil {
		return fmt.Errorf("nil tally result")
	}
	if err := s.setArtifact(resultPrefix, pollID, result); err != nil {
		return err
	}
	for _, round := range result.Rounds {
		if err := s.setArtifact(roundPrefix, roundKey(pollID, round.Number), round); err != nil {
			return err
		}
	}
	return nil
}

// Round retrieves one round of a poll's tally by its 1-based number.
func (s *Storage) Round(pollID types.HexBytes, number uint32) (*types.Round, error) {
	round := &types.Round{}
	if err := s.getArtifact(roundPrefix, roundKey(pollID, number), round); err != nil {
		return nil, err
	}
	return round, nil
}

func roundKey(pollID types.HexBytes, number uint32) []byte {
	key := make([]byte, 0, len(pollID)+4)
	key = append(key, pollID...)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], number)
	return append(key, buf[:]...)
}
