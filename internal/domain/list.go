package domain

// FlaggedListResult captures paginated flagged projections.
type FlaggedListResult struct {
	Items []FlaggedSummary
	Total int64
}

// AccountFlag is a flagged transaction an account took part in, with the
// role-color the account had in that transaction's graph.
type AccountFlag struct {
	Flagged FlaggedSummary
	Color   Color
}
