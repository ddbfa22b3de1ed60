package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/snapenv/snapenv/internal/domain"
)

var (
	errBadSignature = errors.New("signature mismatch")
	errNoSignature  = errors.New("missing signature header")
)

// verifySignature checks the GitHub HMAC SHA-256 signature over the raw
// request body. The header carries a "sha256=" prefix.
func verifySignature(secret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return errNoSignature
	}
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return errBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return errBadSignature
	}
	return nil
}

type githubPullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Merged bool `json:"merged"`
		Head   struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type githubCheckSuitePayload struct {
	Action     string `json:"action"`
	CheckSuite struct {
		HeadSHA      string `json:"head_sha"`
		HeadBranch   string `json:"head_branch"`
		Conclusion   string `json:"conclusion"`
		PullRequests []struct {
			Number int `json:"number"`
		} `json:"pull_requests"`
	} `json:"check_suite"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// errSkipEvent marks deliveries that are valid but carry nothing to act on.
var errSkipEvent = errors.New("nothing to dispatch")

// parseGitHubEvent normalizes a GitHub webhook delivery into a PR event.
func parseGitHubEvent(eventName string, body []byte) (domain.PREvent, error) {
	switch eventName {
	case "pull_request":
		return parsePullRequestEvent(body)
	case "check_suite":
		return parseCheckSuiteEvent(body)
	case "ping":
		return domain.PREvent{}, errSkipEvent
	default:
		return domain.PREvent{}, errSkipEvent
	}
}

func parsePullRequestEvent(body []byte) (domain.PREvent, error) {
	var payload githubPullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.PREvent{}, fmt.Errorf("decode pull_request payload: %w", err)
	}
	if payload.Repository.FullName == "" || payload.Number <= 0 {
		return domain.PREvent{}, errors.New("pull_request payload missing repository or number")
	}

	ref := domain.PullRequestRef{
		Repository: payload.Repository.FullName,
		Number:     payload.Number,
		HeadSHA:    payload.PullRequest.Head.SHA,
		Branch:     payload.PullRequest.Head.Ref,
	}

	var kind domain.PREventKind
	switch payload.Action {
	case "opened":
		kind = domain.PROpened
	case "synchronize":
		kind = domain.PRSynchronized
	case "reopened":
		kind = domain.PRReopened
	case "closed":
		kind = domain.PRClosed
		if payload.PullRequest.Merged {
			kind = domain.PRMerged
		}
	default:
		return domain.PREvent{}, errSkipEvent
	}
	return domain.PREvent{Ref: ref, Kind: kind}, nil
}

func parseCheckSuiteEvent(body []byte) (domain.PREvent, error) {
	var payload githubCheckSuitePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.PREvent{}, fmt.Errorf("decode check_suite payload: %w", err)
	}
	if payload.Action != "completed" || payload.CheckSuite.Conclusion != "success" {
		return domain.PREvent{}, errSkipEvent
	}
	if len(payload.CheckSuite.PullRequests) == 0 {
		// Check run on a branch with no open PR.
		return domain.PREvent{}, errSkipEvent
	}
	return domain.PREvent{
		Ref: domain.PullRequestRef{
			Repository: payload.Repository.FullName,
			Number:     payload.CheckSuite.PullRequests[0].Number,
			HeadSHA:    payload.CheckSuite.HeadSHA,
			Branch:     payload.CheckSuite.HeadBranch,
		},
		Kind: domain.ChecksPassed,
	}, nil
}
