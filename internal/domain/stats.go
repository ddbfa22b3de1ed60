package domain

// Stats aggregates platform counters for the dashboard header.
type Stats struct {
	ActiveEnvironments int      `json:"active_environments"`
	TotalEnvironments  int      `json:"total_environments"`
	OpenPullRequests   int      `json:"open_pull_requests"`
	AttemptsToday      int      `json:"attempts_today"`
	SuccessRatePercent float64  `json:"success_rate_percent"`
	AvgApplySeconds    *float64 `json:"avg_apply_seconds"`
}
