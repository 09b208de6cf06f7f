package commitment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/choices-project/pollcore/types"
)

var (
	// ErrInvalidBallot is returned when a ballot ranking is empty, carries a
	// duplicate candidate or an unknown candidate id.
	ErrInvalidBallot = fmt.Errorf("invalid ballot")
	// ErrDuplicateVoter is returned when a voter commitment has already cast
	// a ballot on the poll.
	ErrDuplicateVoter = fmt.Errorf("voter commitment has already cast a ballot")
	// ErrUnknownRoot is returned when a requested leaf count exceeds the
	// current store size.
	ErrUnknownRoot = fmt.Errorf("unknown root")
	// ErrLeafNotFound is returned when a leaf index postdates the requested
	// root or the voter commitment is unknown.
	ErrLeafNotFound = fmt.Errorf("leaf not found")
)

// Database key prefixes of the commitment store.
var (
	ballotPrefix = []byte("b/")  // poll + leaf index -> canonical ballot bytes
	leafPrefix   = []byte("lh/") // poll + leaf index -> leaf hash
	nodePrefix   = []byte("tn/") // poll + level + index -> internal node hash
	voterPrefix  = []byte("vc/") // poll + voter commitment -> leaf index
	rootPrefix   = []byte("rt/") // poll + leaf count -> root hash
)

var detEnc cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	detEnc = em
}

// CanonicalBallot returns the canonical serialization of a ballot, the exact
// bytes the leaf hash commits to. Deterministic CBOR guarantees two honest
// implementations serialize (and therefore hash) identically.
func CanonicalBallot(b *types.Ballot) ([]byte, error) {
	return detEnc.Marshal(b)
}

// BallotLeafHash returns the leaf hash a ballot produces in the tree.
func BallotLeafHash(b *types.Ballot) ([]byte, error) {
	data, err := CanonicalBallot(b)
	if err != nil {
		return nil, err
	}
	return LeafHash(data), nil
}

// stagedNode is a tree node an append will create, identified by its arena
// address (level, index).
type stagedNode struct {
	level uint32
	index uint64
	hash  []byte
}

// pollTree holds the in-memory arena of one poll's tree: levels[0] is the
// ordered leaf hash sequence and levels[l][i] is the root of the complete
// subtree of size 1<<l starting at leaf i<<l. Only complete subtrees are
// materialized; the unpaired carries on the right edge are recomputed on
// demand, so every stored node is stable forever.
type pollTree struct {
	mu     sync.Mutex
	levels [][][]byte
}

func (t *pollTree) size() uint64 {
	return uint64(len(t.levels[0]))
}

// buildLevels rebuilds the complete-subtree arena from the leaf hashes.
func buildLevels(leaves [][]byte) [][][]byte {
	levels := [][][]byte{leaves}
	for l := 0; len(levels[l]) >= 2; l++ {
		cur := levels[l]
		next := make([][]byte, 0, len(cur)/2)
		for i := 0; i+1 < len(cur); i += 2 {
			next = append(next, NodeHash(cur[i], cur[i+1]))
		}
		levels = append(levels, next)
	}
	return levels
}

// stageAppend computes the nodes and the new root that appending lh would
// produce, without mutating the tree. The staged nodes are exactly the
// complete subtrees the new leaf finishes.
func (t *pollTree) stageAppend(lh []byte) ([]stagedNode, []byte) {
	n := t.size()
	staged := []stagedNode{{level: 0, index: n, hash: lh}}
	h := lh
	level, idx := 0, n
	for idx%2 == 1 {
		h = NodeHash(t.levels[level][idx-1], h)
		level++
		idx >>= 1
		staged = append(staged, stagedNode{level: uint32(level), index: idx, hash: h})
	}
	return staged, t.rootWith(n+1, staged)
}

// apply commits staged nodes to the arena. Each staged node is the next
// entry of its level.
func (t *pollTree) apply(staged []stagedNode) {
	for _, sn := range staged {
		for int(sn.level) >= len(t.levels) {
			t.levels = append(t.levels, nil)
		}
		t.levels[sn.level] = append(t.levels[sn.level], sn.hash)
	}
}

// rootWith returns the root over the first m leaves, resolving nodes from
// the arena plus any staged nodes. The tree of size m decomposes into
// aligned complete subtrees (the binary decomposition of m); the root folds
// their subroots right to left.
func (t *pollTree) rootWith(m uint64, staged []stagedNode) []byte {
	if m == 0 {
		return EmptyRoot()
	}
	lookup := func(level uint32, index uint64) []byte {
		if int(level) < len(t.levels) && index < uint64(len(t.levels[level])) {
			return t.levels[level][index]
		}
		for _, sn := range staged {
			if sn.level == level && sn.index == index {
				return sn.hash
			}
		}
		return nil
	}
	var subroots [][]byte
	var offset uint64
	for rem := m; rem > 0; {
		level := uint32(bits.Len64(rem) - 1)
		size := uint64(1) << level
		subroots = append(subroots, lookup(level, offset>>level))
		offset += size
		rem -= size
	}
	res := subroots[len(subroots)-1]
	for i := len(subroots) - 2; i >= 0; i-- {
		res = NodeHash(subroots[i], res)
	}
	return res
}

// Store is the commitment store: it owns ballot ingestion, hashing and the
// per-poll Merkle trees, persisted in a prefixed key-value database.
type Store struct {
	db    db.Database
	mu    sync.Mutex
	trees map[string]*pollTree
}

// NewStore creates a commitment store on top of the given database. Trees
// are loaded lazily from the stored leaf hashes on first access.
func NewStore(database db.Database) *Store {
	return &Store{
		db:    database,
		trees: make(map[string]*pollTree),
	}
}

// tree returns the in-memory tree of a poll, loading it from the database
// the first time.
func (s *Store) tree(pollID types.HexBytes) (*pollTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trees[pollID.String()]; ok {
		return t, nil
	}
	rd := prefixeddb.NewPrefixedReader(s.db, leafPrefix)
	var leaves [][]byte
	if err := rd.Iterate(pollID, func(_, v []byte) bool {
		lh := make([]byte, len(v))
		copy(lh, v)
		leaves = append(leaves, lh)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate leaf hashes: %w", err)
	}
	t := &pollTree{levels: buildLevels(leaves)}
	s.trees[pollID.String()] = t
	return t, nil
}

func indexKey(pollID types.HexBytes, index uint64) []byte {
	key := make([]byte, 0, len(pollID)+8)
	key = append(key, pollID...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return append(key, buf[:]...)
}

func nodeArenaKey(pollID types.HexBytes, level uint32, index uint64) []byte {
	key := make([]byte, 0, len(pollID)+12)
	key = append(key, pollID...)
	var lvl [4]byte
	binary.BigEndian.PutUint32(lvl[:], level)
	key = append(key, lvl[:]...)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	return append(key, idx[:]...)
}

func voterKey(pollID, voterCommitment types.HexBytes) []byte {
	key := make([]byte, 0, len(pollID)+len(voterCommitment))
	key = append(key, pollID...)
	return append(key, voterCommitment...)
}

// validateBallot checks the ranking against the poll configuration.
func validateBallot(cfg *types.PollConfig, b *types.Ballot) error {
	if len(b.VoterCommitment) == 0 {
		return fmt.Errorf("%w: missing voter commitment", ErrInvalidBallot)
	}
	if len(b.Ranking) == 0 {
		return fmt.Errorf("%w: empty ranking", ErrInvalidBallot)
	}
	seen := make(map[types.CandidateID]bool, len(b.Ranking))
	for _, c := range b.Ranking {
		if !cfg.HasCandidate(c) {
			return fmt.Errorf("%w: unknown candidate %q", ErrInvalidBallot, c)
		}
		if seen[c] {
			return fmt.Errorf("%w: duplicate candidate %q", ErrInvalidBallot, c)
		}
		seen[c] = true
	}
	return nil
}

// Append validates, serializes and commits a ballot as the next leaf of the
// poll's tree. It returns the assigned leaf index and the new root. Appends
// are strictly ordered per poll; no two ballots share an index. On any
// failure nothing is written and the previous root stays authoritative.
func (s *Store) Append(poll *types.Poll, b *types.Ballot) (uint64, types.HexBytes, error) {
	if err := validateBallot(&poll.Config, b); err != nil {
		return 0, nil, err
	}
	t, err := s.tree(poll.ID)
	if err != nil {
		return 0, nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	vr := prefixeddb.NewPrefixedReader(s.db, voterPrefix)
	if _, err := vr.Get(voterKey(poll.ID, b.VoterCommitment)); err == nil {
		return 0, nil, ErrDuplicateVoter
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return 0, nil, fmt.Errorf("read voter index: %w", err)
	}

	data, err := CanonicalBallot(b)
	if err != nil {
		return 0, nil, fmt.Errorf("encode ballot: %w", err)
	}
	lh := LeafHash(data)
	index := t.size()
	staged, root := t.stageAppend(lh)

	// A single transaction covers the ballot, the leaf hash, the voter
	// index, the finished tree nodes and the new root: either the leaf
	// exists completely or not at all.
	wTx := s.db.WriteTx()
	if err := prefixeddb.NewPrefixedWriteTx(wTx, ballotPrefix).Set(indexKey(poll.ID, index), data); err != nil {
		wTx.Discard()
		return 0, nil, fmt.Errorf("write ballot: %w", err)
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, leafPrefix).Set(indexKey(poll.ID, index), lh); err != nil {
		wTx.Discard()
		return 0, nil, fmt.Errorf("write leaf hash: %w", err)
	}
	var idxBuf [8]byte
	binary.BigEndian.PutUint64(idxBuf[:], index)
	if err := prefixeddb.NewPrefixedWriteTx(wTx, voterPrefix).Set(voterKey(poll.ID, b.VoterCommitment), idxBuf[:]); err != nil {
		wTx.Discard()
		return 0, nil, fmt.Errorf("write voter index: %w", err)
	}
	ntx := prefixeddb.NewPrefixedWriteTx(wTx, nodePrefix)
	for _, sn := range staged {
		if err := ntx.Set(nodeArenaKey(poll.ID, sn.level, sn.index), sn.hash); err != nil {
			wTx.Discard()
			return 0, nil, fmt.Errorf("write tree node: %w", err)
		}
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, rootPrefix).Set(indexKey(poll.ID, index+1), root); err != nil {
		wTx.Discard()
		return 0, nil, fmt.Errorf("write root: %w", err)
	}
	if err := wTx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit append: %w", err)
	}
	t.apply(staged)
	return index, root, nil
}

// Size returns the current number of leaves of a poll's tree.
func (s *Store) Size(pollID types.HexBytes) (uint64, error) {
	t, err := s.tree(pollID)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size(), nil
}

// RootAt returns the root at the given leaf count. The root at count n is a
// pure function of the first n leaves, so historical roots never change.
func (s *Store) RootAt(pollID types.HexBytes, leafCount uint64) (types.HexBytes, error) {
	t, err := s.tree(pollID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if leafCount > t.size() {
		return nil, fmt.Errorf("%w: leaf count %d exceeds store size %d", ErrUnknownRoot, leafCount, t.size())
	}
	return t.rootWith(leafCount, nil), nil
}

// Prove builds the inclusion proof of a leaf against the root at asOfSize.
func (s *Store) Prove(pollID types.HexBytes, leafIndex, asOfSize uint64) (*Proof, error) {
	t, err := s.tree(pollID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if asOfSize > t.size() {
		return nil, fmt.Errorf("%w: leaf count %d exceeds store size %d", ErrUnknownRoot, asOfSize, t.size())
	}
	if leafIndex >= asOfSize {
		return nil, fmt.Errorf("%w: index %d postdates root at %d leaves", ErrLeafNotFound, leafIndex, asOfSize)
	}
	leaves := t.levels[0][:asOfSize]
	path := proofPath(leafIndex, leaves)
	siblings := make([]types.HexBytes, len(path))
	for i, h := range path {
		siblings[i] = h
	}
	return &Proof{
		PollID:    pollID,
		LeafIndex: leafIndex,
		TreeSize:  asOfSize,
		LeafHash:  leaves[leafIndex],
		Siblings:  siblings,
		Root:      t.rootWith(asOfSize, nil),
	}, nil
}

// VoterLeaf returns the leaf index assigned to a voter commitment, or
// ErrLeafNotFound if the voter has not cast a ballot.
func (s *Store) VoterLeaf(pollID, voterCommitment types.HexBytes) (uint64, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, voterPrefix)
	v, err := rd.Get(voterKey(pollID, voterCommitment))
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, fmt.Errorf("%w: no ballot for voter commitment", ErrLeafNotFound)
	} else if err != nil {
		return 0, fmt.Errorf("read voter index: %w", err)
	}
	return binary.BigEndian.Uint64(v), nil
}

// Ballot reads back the ballot committed at a leaf index.
func (s *Store) Ballot(pollID types.HexBytes, index uint64) (*types.Ballot, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, ballotPrefix)
	data, err := rd.Get(indexKey(pollID, index))
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: index %d", ErrLeafNotFound, index)
	} else if err != nil {
		return nil, fmt.Errorf("read ballot: %w", err)
	}
	b := &types.Ballot{}
	if err := cbor.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decode ballot: %w", err)
	}
	return b, nil
}

// Ballots reads the first size committed ballots of a poll in leaf order,
// the input of a tally snapshot.
func (s *Store) Ballots(pollID types.HexBytes, size uint64) ([]*types.Ballot, error) {
	ballots := make([]*types.Ballot, 0, size)
	rd := prefixeddb.NewPrefixedReader(s.db, ballotPrefix)
	var decodeErr error
	if err := rd.Iterate(pollID, func(_, v []byte) bool {
		if uint64(len(ballots)) >= size {
			return false
		}
		b := &types.Ballot{}
		if decodeErr = cbor.Unmarshal(v, b); decodeErr != nil {
			return false
		}
		ballots = append(ballots, b)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate ballots: %w", err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode ballot: %w", decodeErr)
	}
	if uint64(len(ballots)) != size {
		return nil, fmt.Errorf("%w: store holds %d of %d requested ballots", ErrUnknownRoot, len(ballots), size)
	}
	return ballots, nil
}
