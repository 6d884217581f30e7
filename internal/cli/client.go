package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"classbank/internal/auth"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, displayName string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Dashboard(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/dashboard", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Settings(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/settings", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Transfer(ctx context.Context, accessToken, toID, account string, amount int64, reason, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/transfers", accessToken, map[string]any{
		"to_id":   toID,
		"account": account,
		"amount":  amount,
		"reason":  reason,
	}, &out, idem)
	return out, err
}

func (c *Client) Goal(ctx context.Context, accessToken, goalID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/goals/"+url.PathEscape(goalID), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Contribute(ctx context.Context, accessToken, goalID string, amount int64, message, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/goals/"+url.PathEscape(goalID)+"/contributions", accessToken, map[string]any{
		"amount":  amount,
		"message": message,
	}, &out, idem)
	return out, err
}

func (c *Client) CreateGoal(ctx context.Context, accessToken, id, title string, target int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/goals", accessToken, map[string]any{
		"id":            id,
		"title":         title,
		"target_amount": target,
	}, &out, "")
	return out, err
}

func (c *Client) ListProposals(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/proposals", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) ProposalDetail(ctx context.Context, accessToken, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/proposals/"+url.PathEscape(id), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) CreateProposal(ctx context.Context, accessToken, title, description string, fine int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/proposals", accessToken, map[string]any{
		"title":       title,
		"description": description,
		"fine":        fine,
	}, &out, "")
	return out, err
}

func (c *Client) CastVote(ctx context.Context, accessToken, proposalID, ballot string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/proposals/"+url.PathEscape(proposalID)+"/votes", accessToken, map[string]any{
		"ballot": ballot,
	}, &out, "")
	return out, err
}

func (c *Client) ProposalAction(ctx context.Context, accessToken, proposalID, action string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/proposals/"+url.PathEscape(proposalID)+"/"+action, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) DeleteProposal(ctx context.Context, accessToken, proposalID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodDelete, "/v1/proposals/"+url.PathEscape(proposalID), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Credit(ctx context.Context, accessToken, actorID, account string, amount int64, reason, idem string) (map[string]any, error) {
	return c.ledgerOp(ctx, accessToken, "/v1/ledger/credit", actorID, account, amount, reason, idem)
}

func (c *Client) Debit(ctx context.Context, accessToken, actorID, account string, amount int64, reason, idem string) (map[string]any, error) {
	return c.ledgerOp(ctx, accessToken, "/v1/ledger/debit", actorID, account, amount, reason, idem)
}

func (c *Client) ledgerOp(ctx context.Context, accessToken, path, actorID, account string, amount int64, reason, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, path, accessToken, map[string]any{
		"actor_id": actorID,
		"account":  account,
		"amount":   amount,
		"reason":   reason,
	}, &out, idem)
	return out, err
}

func (c *Client) GrantReward(ctx context.Context, accessToken, actorID string, cash, tokens int64, taskID, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rewards", accessToken, map[string]any{
		"actor_id":     actorID,
		"cash_amount":  cash,
		"token_amount": tokens,
		"task_id":      taskID,
	}, &out, idem)
	return out, err
}

func (c *Client) SyncReplay(ctx context.Context, accessToken string, commands []Command) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sync/replay", accessToken, map[string]any{
		"commands": commands,
	}, &out, "")
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
