package domain

// PullRequestRef is the immutable identity of a pull request head.
type PullRequestRef struct {
	Repository string
	Number     int
	HeadSHA    string
	Branch     string
}

// EnvironmentID returns the deterministic environment identifier for the PR.
func (r PullRequestRef) EnvironmentID() string {
	return EnvironmentID(r.Repository, r.Number)
}

// PREventKind enumerates normalized PR lifecycle event kinds.
type PREventKind string

const (
	PROpened       PREventKind = "opened"
	PRSynchronized PREventKind = "synchronize"
	PRReopened     PREventKind = "reopened"
	PRClosed       PREventKind = "closed"
	PRMerged       PREventKind = "merged"
	ChecksPassed   PREventKind = "checks_passed"
)

// PREvent is a normalized pull request lifecycle event.
type PREvent struct {
	Ref  PullRequestRef
	Kind PREventKind
}
