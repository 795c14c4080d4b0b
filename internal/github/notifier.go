// Package github posts operational notes to a repository issue tracker:
// breaker trips, daily summaries, anything an operator should see outside
// the chat surface. Read and post only, no issue management.
package github

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const apiBase = "https://api.github.com"

// Comment is one issue comment.
type Comment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

type issueResponse struct {
	Number int `json:"number"`
}

// Notifier talks to one owner/repo.
type Notifier struct {
	http *resty.Client
	repo string
}

// NewNotifier builds a notifier for "owner/repo" using a token with issue
// scope.
func NewNotifier(repo, token string) *Notifier {
	return newNotifier(apiBase, repo, token)
}

func newNotifier(base, repo, token string) *Notifier {
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Accept", "application/vnd.github+json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Notifier{http: client, repo: repo}
}

// CreateIssue opens a new issue and returns its number.
func (n *Notifier) CreateIssue(ctx context.Context, title, body string) (int, error) {
	var out issueResponse
	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"title": title, "body": body}).
		SetResult(&out).
		Post(fmt.Sprintf("/repos/%s/issues", n.repo))
	if err != nil {
		return 0, errors.Wrap(err, "create issue")
	}
	if !resp.IsSuccess() {
		return 0, errors.Errorf("create issue http %d", resp.StatusCode())
	}
	return out.Number, nil
}

// PostComment appends a comment to an existing issue.
func (n *Notifier) PostComment(ctx context.Context, number int, body string) error {
	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"body": body}).
		Post(fmt.Sprintf("/repos/%s/issues/%d/comments", n.repo, number))
	if err != nil {
		return errors.Wrap(err, "post comment")
	}
	if !resp.IsSuccess() {
		return errors.Errorf("post comment http %d", resp.StatusCode())
	}
	return nil
}

// ReadComments lists an issue's comments, oldest first.
func (n *Notifier) ReadComments(ctx context.Context, number int) ([]Comment, error) {
	var out []Comment
	resp, err := n.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/repos/%s/issues/%d/comments", n.repo, number))
	if err != nil {
		return nil, errors.Wrap(err, "read comments")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("read comments http %d", resp.StatusCode())
	}
	return out, nil
}
