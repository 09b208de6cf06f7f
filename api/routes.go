package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// PollsEndpoint is the endpoint for creating and listing polls
	PollsEndpoint = "/polls"
	// PollURLParam is the URL parameter carrying the hex poll id
	PollURLParam = "pollId"
	// PollEndpoint is the endpoint to get the poll info
	PollEndpoint = "/polls/{" + PollURLParam + "}"
	// VotesEndpoint is the endpoint for casting a ballot on a poll
	VotesEndpoint = "/polls/{" + PollURLParam + "}/votes"
	// CloseEndpoint is the endpoint to close a poll and run its tally
	CloseEndpoint = "/polls/{" + PollURLParam + "}/close"
	// ResultEndpoint is the endpoint to get the published tally result
	ResultEndpoint = "/polls/{" + PollURLParam + "}/result"
	// LeafCountURLParam is the URL parameter carrying a tree leaf count
	LeafCountURLParam = "leafCount"
	// RootEndpoint is the endpoint to get a versioned tree root for audit
	RootEndpoint = "/polls/{" + PollURLParam + "}/root/{" + LeafCountURLParam + "}"
	// VoterURLParam is the URL parameter carrying the hex voter commitment
	VoterURLParam = "voterCommitment"
	// ProofEndpoint is the endpoint to get a voter's inclusion proof
	ProofEndpoint = "/polls/{" + PollURLParam + "}/proof/{" + VoterURLParam + "}"
	// QueriesEndpoint is the endpoint for ad-hoc differentially private queries
	QueriesEndpoint = "/polls/{" + PollURLParam + "}/queries"
	// ReleasesEndpoint is the endpoint to get the poll's disclosure audit trail
	ReleasesEndpoint = "/polls/{" + PollURLParam + "}/releases"
	// BudgetEndpoint is the endpoint to get the poll's remaining privacy budget
	BudgetEndpoint = "/polls/{" + PollURLParam + "}/budget"
)
