// Package telegram is the chat front end: a long-poll command loop that
// renders the bot's outcome stream and drives the kill switch. It is a
// presentation layer only; every decision stays in the core.
package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/Poom5741/tok-tradingbot/pkg/ratelimit"
)

const apiBase = "https://api.telegram.org"

// Update is one long-poll result.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []Update `json:"result"`
}

type sendResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// API is the slice of the Bot API the service consumes. Split out so the
// command loop tests against an in-memory fake.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeoutS int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Client talks to api.telegram.org. Sends go through a token bucket so a
// chatty run of outcomes cannot hit the Bot API flood limits.
type Client struct {
	http    *resty.Client
	token   string
	limiter ratelimit.Limiter
}

func NewClient(token string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(apiBase).
			SetTimeout(60 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(1 * time.Second).
			SetRetryMaxWaitTime(10 * time.Second),
		token:   token,
		limiter: ratelimit.NewTokenBucket(20, 1),
	}
}

func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutS int) ([]Update, error) {
	var out updatesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("offset", fmt.Sprint(offset)).
		SetQueryParam("timeout", fmt.Sprint(timeoutS)).
		SetResult(&out).
		Get(fmt.Sprintf("/bot%s/getUpdates", c.token))
	if err != nil {
		return nil, errors.Wrap(err, "getUpdates")
	}
	if !resp.IsSuccess() || !out.OK {
		return nil, errors.Errorf("getUpdates http %d", resp.StatusCode())
	}
	return out.Result, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "send rate limit")
	}

	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id": chatID,
			"text":    text,
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/bot%s/sendMessage", c.token))
	if err != nil {
		return errors.Wrap(err, "sendMessage")
	}
	if !resp.IsSuccess() || !out.OK {
		return errors.Errorf("sendMessage http %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}
