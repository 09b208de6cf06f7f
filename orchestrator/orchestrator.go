// Package orchestrator implements the poll lifecycle state machine. It
// sequences the commitment store, the tally engine and the release layer
// behind a single set of entry points, and is the only component that
// mutates poll status. Transitions are strictly one-way:
//
//	open -> closed -> snapshotted -> tallied -> published
//
// A poll is never re-opened and never re-tallied; the persisted status makes
// every step idempotent to observe and impossible to repeat.
package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/choices-project/pollcore/commitment"
	"github.com/choices-project/pollcore/log"
	"github.com/choices-project/pollcore/privacy"
	"github.com/choices-project/pollcore/storage"
	"github.com/choices-project/pollcore/tally"
	"github.com/choices-project/pollcore/types"
)

var (
	// ErrPollNotFound is returned when the poll id is unknown.
	ErrPollNotFound = fmt.Errorf("poll not found")
	// ErrPollClosed is returned when a ballot arrives on a poll that is not
	// open, or when a close is requested twice.
	ErrPollClosed = fmt.Errorf("poll is closed")
	// ErrNoSnapshot is returned for release queries on a poll that has not
	// been snapshotted yet.
	ErrNoSnapshot = fmt.Errorf("poll has no snapshot yet")
	// ErrResultNotPublished is returned when the tally result is requested
	// before the poll reaches the published state.
	ErrResultNotPublished = fmt.Errorf("result not published yet")
)

// Receipt is returned to the voter on a successful cast: the assigned leaf
// index and the tree head the ballot is committed under. Together with an
// inclusion proof it lets the voter verify their ballot was counted.
type Receipt struct {
	PollID    types.HexBytes `json:"pollId"`
	LeafIndex uint64         `json:"leafIndex"`
	LeafHash  types.HexBytes `json:"leafHash"`
	Root      types.HexBytes `json:"root"`
	TreeSize  uint64         `json:"treeSize"`
}

// Orchestrator wires the commitment store, the budget ledger and the
// releaser over one shared database and drives polls through their
// lifecycle.
type Orchestrator struct {
	storage  *storage.Storage
	store    *commitment.Store
	releaser *privacy.Releaser

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an orchestrator over the given stores.
func New(st *storage.Storage, store *commitment.Store, releaser *privacy.Releaser) *Orchestrator {
	return &Orchestrator{
		storage:  st,
		store:    store,
		releaser: releaser,
		locks:    make(map[string]*sync.Mutex),
	}
}

// pollLock returns the mutex serializing lifecycle mutations of one poll.
// Casting and closing share it, so a close is a hard cutover: every cast
// either lands before the snapshot or is refused.
func (o *Orchestrator) pollLock(pollID types.HexBytes) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	id := pollID.String()
	if l, ok := o.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	o.locks[id] = l
	return l
}

func (o *Orchestrator) poll(pollID types.HexBytes) (*types.Poll, error) {
	poll, err := o.storage.Poll(pollID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPollNotFound, pollID)
	} else if err != nil {
		return nil, fmt.Errorf("read poll: %w", err)
	}
	return poll, nil
}

// CreatePoll registers a new poll from its immutable configuration and
// returns the stored record. The epsilon ceiling is booked with the budget
// ledger at creation; the k-anonymity floor and publication epsilon fall
// back to the platform defaults when unset.
func (o *Orchestrator) CreatePoll(config types.PollConfig) (*types.Poll, error) {
	if config.Title == "" {
		return nil, fmt.Errorf("poll title is required")
	}
	if len(config.Candidates) < 2 {
		return nil, fmt.Errorf("at least two candidates are required")
	}
	seen := make(map[types.CandidateID]bool, len(config.Candidates))
	for _, cand := range config.Candidates {
		if cand == "" || seen[cand] {
			return nil, fmt.Errorf("candidate ids must be unique and non-empty")
		}
		seen[cand] = true
	}
	if !config.EndTime.After(config.StartTime) {
		return nil, fmt.Errorf("poll end time must be after start time")
	}
	if config.EpsilonCeiling <= 0 {
		return nil, fmt.Errorf("epsilon ceiling must be positive")
	}
	if config.MinCohort == 0 {
		config.MinCohort = types.DefaultMinCohort
	}
	if config.PublishEpsilon == 0 {
		config.PublishEpsilon = types.DefaultPublishEpsilon
	}

	now := time.Now()
	poll := &types.Poll{
		ID:        types.NewPollID(config.Title, now),
		Config:    config,
		Status:    types.PollStatusOpen,
		CreatedAt: now,
	}
	if err := o.releaser.Ledger().SetCeiling(poll.ID, config.EpsilonCeiling); err != nil {
		return nil, fmt.Errorf("register budget ceiling: %w", err)
	}
	if err := o.storage.SetPoll(poll); err != nil {
		return nil, fmt.Errorf("store poll: %w", err)
	}
	log.Infow("poll created",
		"pollId", poll.ID.String(),
		"candidates", len(config.Candidates),
		"epsilonCeiling", config.EpsilonCeiling)
	return poll, nil
}

// Poll returns the stored poll record.
func (o *Orchestrator) Poll(pollID types.HexBytes) (*types.Poll, error) {
	return o.poll(pollID)
}

// ListPolls returns the ids of all stored polls.
func (o *Orchestrator) ListPolls() ([][]byte, error) {
	return o.storage.ListPolls()
}

// CastBallot validates and commits a ballot on an open poll and returns the
// voter's receipt. Ballots arriving after the poll leaves the open state, or
// after its configured end time, are refused with ErrPollClosed.
func (o *Orchestrator) CastBallot(pollID, voterCommitment types.HexBytes,
	ranking []types.CandidateID, attributes map[string]string,
) (*Receipt, error) {
	lock := o.pollLock(pollID)
	lock.Lock()
	defer lock.Unlock()

	poll, err := o.poll(pollID)
	if err != nil {
		return nil, err
	}
	if poll.Status != types.PollStatusOpen {
		return nil, fmt.Errorf("%w: status is %s", ErrPollClosed, poll.Status)
	}
	now := time.Now()
	if now.After(poll.Config.EndTime) {
		return nil, fmt.Errorf("%w: voting ended at %s", ErrPollClosed, poll.Config.EndTime)
	}
	ballot := &types.Ballot{
		PollID:          pollID,
		VoterCommitment: voterCommitment,
		Ranking:         ranking,
		CastAt:          now,
		Attributes:      attributes,
	}
	index, root, err := o.store.Append(poll, ballot)
	if err != nil {
		return nil, err
	}
	leafHash, err := commitment.BallotLeafHash(ballot)
	if err != nil {
		return nil, err
	}
	log.Debugw("ballot committed",
		"pollId", pollID.String(),
		"leafIndex", index,
		"root", root.String())
	return &Receipt{
		PollID:    pollID,
		LeafIndex: index,
		LeafHash:  leafHash,
		Root:      root,
		TreeSize:  index + 1,
	}, nil
}

// ClosePoll drives a poll through the rest of its lifecycle: freeze the
// snapshot, run the tally, publish noised first-preference counts of the
// terminal round through the release layer, and mark the poll published. The
// status is persisted after every step and already-completed steps are
// skipped on re-entry, so a close interrupted by a crash or a storage error
// resumes where it stopped on the next call; the frozen SnapshotSize keeps
// every resumed step deterministic. Only a published poll refuses another
// close. A close resumed between publication and the final status write
// repeats the publication releases; release records are append-only and each
// repeat charges the budget again.
func (o *Orchestrator) ClosePoll(pollID types.HexBytes) (*types.TallyResult, error) {
	lock := o.pollLock(pollID)
	lock.Lock()
	defer lock.Unlock()

	poll, err := o.poll(pollID)
	if err != nil {
		return nil, err
	}
	if poll.Status == types.PollStatusPublished {
		return nil, fmt.Errorf("%w: status is %s", ErrPollClosed, poll.Status)
	}

	if poll.Status == types.PollStatusOpen {
		size, err := o.store.Size(pollID)
		if err != nil {
			return nil, fmt.Errorf("read store size: %w", err)
		}
		poll.Status = types.PollStatusClosed
		poll.SnapshotSize = size
		if err := o.storage.SetPoll(poll); err != nil {
			return nil, fmt.Errorf("store poll: %w", err)
		}
		log.Infow("poll closed", "pollId", pollID.String(), "ballots", size)
	}

	var snap *types.Snapshot
	if poll.Status == types.PollStatusClosed {
		root, err := o.store.RootAt(pollID, poll.SnapshotSize)
		if err != nil {
			return nil, fmt.Errorf("read root: %w", err)
		}
		snap = &types.Snapshot{
			PollID:     pollID,
			Candidates: poll.Config.Candidates,
			Size:       poll.SnapshotSize,
			Root:       root,
		}
		if err := o.storage.SetSnapshot(snap); err != nil {
			return nil, fmt.Errorf("store snapshot: %w", err)
		}
		poll.Status = types.PollStatusSnapshotted
		if err := o.storage.SetPoll(poll); err != nil {
			return nil, fmt.Errorf("store poll: %w", err)
		}
		log.Infow("poll snapshotted", "pollId", pollID.String(), "root", root.String())
	} else if snap, err = o.storage.Snapshot(pollID); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if snap.Ballots, err = o.store.Ballots(pollID, snap.Size); err != nil {
		return nil, fmt.Errorf("read snapshot ballots: %w", err)
	}

	var result *types.TallyResult
	if poll.Status == types.PollStatusSnapshotted {
		if result, err = tally.Run(snap); err != nil {
			return nil, fmt.Errorf("tally: %w", err)
		}
		if err := o.storage.SetResult(pollID, result); err != nil {
			return nil, fmt.Errorf("store result: %w", err)
		}
		poll.Status = types.PollStatusTallied
		if err := o.storage.SetPoll(poll); err != nil {
			return nil, fmt.Errorf("store poll: %w", err)
		}
		log.Infow("poll tallied",
			"pollId", pollID.String(),
			"outcome", result.Outcome.String(),
			"winner", string(result.Winner),
			"rounds", len(result.Rounds))
	} else if result, err = o.storage.Result(pollID); err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}

	o.publishCounts(poll, snap, result)
	poll.Status = types.PollStatusPublished
	if err := o.storage.SetPoll(poll); err != nil {
		return nil, fmt.Errorf("store poll: %w", err)
	}
	log.Infow("poll published", "pollId", pollID.String())
	return result, nil
}

// publishCounts releases a noised first-preference count per candidate of
// the terminal round, plus a noised turnout count. Publication is best
// effort: if the budget runs out the remaining releases are skipped with a
// warning and the poll still reaches the published state; the raw result
// does not depend on these releases.
func (o *Orchestrator) publishCounts(poll *types.Poll, snap *types.Snapshot, result *types.TallyResult) {
	terminal := result.Rounds[len(result.Rounds)-1]
	candidates := make([]types.CandidateID, 0, len(terminal.Counts))
	for cand := range terminal.Counts {
		candidates = append(candidates, cand)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	for _, cand := range candidates {
		pred := &types.Predicate{FirstPreference: cand}
		if _, err := o.releaser.ReleaseCount(poll, snap, pred, poll.Config.PublishEpsilon); err != nil {
			if errors.Is(err, privacy.ErrBudgetExhausted) {
				log.Warnw("budget exhausted during publication",
					"pollId", poll.ID.String(), "candidate", string(cand))
				return
			}
			log.Errorw(err, "cannot publish candidate count")
		}
	}
	// turnout: the empty predicate counts every snapshot ballot
	if _, err := o.releaser.ReleaseCount(poll, snap, &types.Predicate{}, poll.Config.PublishEpsilon); err != nil {
		if errors.Is(err, privacy.ErrBudgetExhausted) {
			log.Warnw("budget exhausted before turnout release", "pollId", poll.ID.String())
			return
		}
		log.Errorw(err, "cannot publish turnout count")
	}
}

// GetResult returns the raw winner and round trace, available only once the
// poll is published.
func (o *Orchestrator) GetResult(pollID types.HexBytes) (*types.TallyResult, error) {
	poll, err := o.poll(pollID)
	if err != nil {
		return nil, err
	}
	if poll.Status != types.PollStatusPublished {
		return nil, fmt.Errorf("%w: status is %s", ErrResultNotPublished, poll.Status)
	}
	result, err := o.storage.Result(pollID)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return result, nil
}

// snapshot loads the frozen snapshot of a closed poll, ballots included.
func (o *Orchestrator) snapshot(pollID types.HexBytes) (*types.Poll, *types.Snapshot, error) {
	poll, err := o.poll(pollID)
	if err != nil {
		return nil, nil, err
	}
	if poll.Status < types.PollStatusSnapshotted {
		return nil, nil, fmt.Errorf("%w: status is %s", ErrNoSnapshot, poll.Status)
	}
	snap, err := o.storage.Snapshot(pollID)
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}
	if snap.Ballots, err = o.store.Ballots(pollID, snap.Size); err != nil {
		return nil, nil, fmt.Errorf("read snapshot ballots: %w", err)
	}
	return poll, snap, nil
}

// QueryAggregate serves an ad-hoc differentially private count over the
// poll's snapshot, charging epsilon against its budget.
func (o *Orchestrator) QueryAggregate(pollID types.HexBytes, pred *types.Predicate, epsilon float64) (*types.ReleaseRecord, error) {
	poll, snap, err := o.snapshot(pollID)
	if err != nil {
		return nil, err
	}
	return o.releaser.ReleaseCount(poll, snap, pred, epsilon)
}

// QueryRatio serves an ad-hoc differentially private ratio of two predicate
// counts over the poll's snapshot.
func (o *Orchestrator) QueryRatio(pollID types.HexBytes, numerator, denominator *types.Predicate, epsilon float64) (*types.ReleaseRecord, error) {
	poll, snap, err := o.snapshot(pollID)
	if err != nil {
		return nil, err
	}
	return o.releaser.ReleaseRatio(poll, snap, numerator, denominator, epsilon)
}

// QueryHistogram serves a differentially private per-bucket breakdown of one
// demographic attribute over the poll's snapshot, charging a single epsilon
// for the whole histogram.
func (o *Orchestrator) QueryHistogram(pollID types.HexBytes, attribute string, epsilon float64) (*types.ReleaseRecord, error) {
	poll, snap, err := o.snapshot(pollID)
	if err != nil {
		return nil, err
	}
	return o.releaser.ReleaseHistogram(poll, snap, attribute, epsilon)
}

// GetRoot returns the tree head at the given leaf count for independent
// audit.
func (o *Orchestrator) GetRoot(pollID types.HexBytes, leafCount uint64) (types.HexBytes, error) {
	if _, err := o.poll(pollID); err != nil {
		return nil, err
	}
	return o.store.RootAt(pollID, leafCount)
}

// GetInclusionProof builds the inclusion proof of a voter's ballot. Once the
// poll is snapshotted the proof targets the frozen snapshot root; before
// that it targets the current tree head.
func (o *Orchestrator) GetInclusionProof(pollID, voterCommitment types.HexBytes) (*commitment.Proof, error) {
	poll, err := o.poll(pollID)
	if err != nil {
		return nil, err
	}
	index, err := o.store.VoterLeaf(pollID, voterCommitment)
	if err != nil {
		return nil, err
	}
	asOf := poll.SnapshotSize
	if poll.Status == types.PollStatusOpen {
		if asOf, err = o.store.Size(pollID); err != nil {
			return nil, fmt.Errorf("read store size: %w", err)
		}
	}
	return o.store.Prove(pollID, index, asOf)
}

// Remaining returns the poll's unspent privacy budget.
func (o *Orchestrator) Remaining(pollID types.HexBytes) (float64, error) {
	if _, err := o.poll(pollID); err != nil {
		return 0, err
	}
	return o.releaser.Ledger().Remaining(pollID)
}

// Releases returns the poll's disclosure audit trail.
func (o *Orchestrator) Releases(pollID types.HexBytes) ([]*types.ReleaseRecord, error) {
	if _, err := o.poll(pollID); err != nil {
		return nil, err
	}
	return o.releaser.Releases(pollID)
}
