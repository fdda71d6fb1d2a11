package github

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PRInfo is the mapping payload kept for one tracked pull request.
type PRInfo struct {
	Repo    string `json:"repo"` // "owner/name"
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	HeadSHA string `json:"headSHA,omitempty"`
	URL     string `json:"url,omitempty"`
}

// PRKey is the canonical mapping key for a pull request.
func PRKey(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

// RepoScope extracts the repository part of a PRKey, used to group
// mappings per repository.
func RepoScope(key string) string {
	if i := strings.LastIndex(key, "#"); i >= 0 {
		return key[:i]
	}
	return key
}

// Account identifies a GitHub user in webhook payloads and API responses.
type Account struct {
	Login string `json:"login"`
}

// GitRef is one side of a pull request (head or base).
type GitRef struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type repository struct {
	FullName string `json:"full_name"`
}

type pullRequest struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	State   string  `json:"state"`
	Merged  bool    `json:"merged"`
	User    Account `json:"user"`
	Head    GitRef  `json:"head"`
	HTMLURL string  `json:"html_url"`
}

type comment struct {
	ID      int64   `json:"id"`
	Body    string  `json:"body"`
	Path    string  `json:"path,omitempty"` // present on review comments only
	Line    int     `json:"line,omitempty"`
	User    Account `json:"user"`
	HTMLURL string  `json:"html_url"`
}

type reviewBody struct {
	ID    int64   `json:"id"`
	State string  `json:"state"` // approved, changes_requested, commented
	Body  string  `json:"body"`
	User  Account `json:"user"`
}

// issue carries just enough of the issues payload to tell PRs apart
// from plain issues: GitHub includes a pull_request block only when the
// issue is a PR.
type issue struct {
	Number      int             `json:"number"`
	PullRequest json.RawMessage `json:"pull_request,omitempty"`
}

func (i issue) isPullRequest() bool {
	return len(i.PullRequest) > 0 && string(i.PullRequest) != "null"
}

type pullRequestPayload struct {
	Action      string      `json:"action"`
	Number      int         `json:"number"`
	PullRequest pullRequest `json:"pull_request"`
	Repository  repository  `json:"repository"`
	Sender      Account     `json:"sender"`
}

type reviewCommentPayload struct {
	Action      string      `json:"action"`
	Comment     comment     `json:"comment"`
	PullRequest pullRequest `json:"pull_request"`
	Repository  repository  `json:"repository"`
	Sender      Account     `json:"sender"`
}

type issueCommentPayload struct {
	Action     string     `json:"action"`
	Issue      issue      `json:"issue"`
	Comment    comment    `json:"comment"`
	Repository repository `json:"repository"`
	Sender     Account    `json:"sender"`
}

type reviewPayload struct {
	Action      string      `json:"action"`
	Review      reviewBody  `json:"review"`
	PullRequest pullRequest `json:"pull_request"`
	Repository  repository  `json:"repository"`
	Sender      Account     `json:"sender"`
}
