package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError reports a non-success GitHub response. The responder
// retries 5xx answers and treats everything else as permanent.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GitHub returned HTTP %d for %s", e.Code, e.URL)
}

// Transient reports whether the failure is worth retrying.
func (e *StatusError) Transient() bool { return e.Code >= 500 }

// PostedComment is the subset of the created-comment response needed to
// track outbound replies.
type PostedComment struct {
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
}

// PRDetails is the subset of the pull-request resource used to enrich
// sessions and responses.
type PRDetails struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	State   string  `json:"state"`
	Merged  bool    `json:"merged"`
	Body    string  `json:"body"`
	HTMLURL string  `json:"html_url"`
	User    Account `json:"user"`
	Head    GitRef  `json:"head"`
}

// ChangedFile is one entry of the PR files listing.
type ChangedFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// Client provides HTTP access to the GitHub REST API for posting
// comments and fetching PR data.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates an HTTP client for GitHub operations. baseURL
// defaults to the public API; token may be empty (public repos only,
// lower rate limits).
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// CreateIssueComment posts a top-level comment on a pull request
// (issues API, as PRs are issues).
func (c *Client) CreateIssueComment(ctx context.Context, repo string, number int, body string) (PostedComment, error) {
	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", c.baseURL, repo, number)
	return c.postComment(ctx, url, body)
}

// CreateReviewCommentReply posts an inline reply under an existing
// review comment.
func (c *Client) CreateReviewCommentReply(ctx context.Context, repo string, number int, commentID int64, body string) (PostedComment, error) {
	url := fmt.Sprintf("%s/repos/%s/pulls/%d/comments/%d/replies", c.baseURL, repo, number, commentID)
	return c.postComment(ctx, url, body)
}

// GetPullRequest fetches one pull request.
func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (PRDetails, error) {
	url := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, repo, number)
	var out PRDetails
	if err := c.getJSON(ctx, url, &out); err != nil {
		return PRDetails{}, err
	}
	return out, nil
}

// ListPullRequestFiles returns the changed files of a pull request.
func (c *Client) ListPullRequestFiles(ctx context.Context, repo string, number int) ([]ChangedFile, error) {
	url := fmt.Sprintf("%s/repos/%s/pulls/%d/files?per_page=100", c.baseURL, repo, number)
	var out []ChangedFile
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPullRequestDiff fetches the unified diff of a pull request.
func (c *Client) GetPullRequestDiff(ctx context.Context, repo string, number int) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, repo, number)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3.diff")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch diff from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read diff body: %w", err)
	}
	return string(body), nil
}

func (c *Client) postComment(ctx context.Context, url, body string) (PostedComment, error) {
	raw, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return PostedComment{}, fmt.Errorf("encode comment body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return PostedComment{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PostedComment{}, fmt.Errorf("post comment to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return PostedComment{}, &StatusError{Code: resp.StatusCode, URL: url}
	}

	var out PostedComment
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PostedComment{}, fmt.Errorf("decode comment response: %w", err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, URL: url}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
