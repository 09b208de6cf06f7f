package types

const (
	// PollIDLen is the length of a poll identifier in bytes.
	PollIDLen = 16
	// DefaultMinCohort is the platform default k-anonymity floor: a cohort
	// statistic is only released when the cohort holds at least this many
	// ballots. Changing it is a disclosure-policy decision.
	DefaultMinCohort = 5
	// DefaultPublishEpsilon is the epsilon charged for each headline count
	// released when a poll result is published.
	DefaultPublishEpsilon = 0.5
	// RatioEpsilonSplit is the fraction of a ratio query's epsilon assigned
	// to the numerator; the remainder goes to the denominator.
	RatioEpsilonSplit = 0.5
)
