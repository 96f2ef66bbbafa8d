package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// API is a minimal client for the HTTP endpoints a load test needs.
type API struct {
	BaseURL string
	HTTP    *http.Client
}

// NewAPI returns an API client for baseURL, e.g. "http://localhost:8080".
func NewAPI(baseURL string) *API {
	return &API{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Account is a logged-in user.
type Account struct {
	ID       string
	Username string
	Token    string
}

// Chat is the subset of a chat object the load test reads.
type Chat struct {
	ID string `json:"id"`
}

// Message is a stored message as returned by the API and pushed over the
// socket.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	AckID     string `json:"ackId,omitempty"`
}

// Register signs up username and logs it in.
func (a *API) Register(ctx context.Context, username, password string) (*Account, error) {
	creds := map[string]string{"username": username, "password": password}
	if err := a.do(ctx, http.MethodPost, "/auth/signup", "", creds, nil); err != nil {
		return nil, fmt.Errorf("signup %s: %w", username, err)
	}

	var login struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Session  struct {
			Token string `json:"token"`
		} `json:"session"`
	}
	creds["friendlyName"] = "loadtest"
	if err := a.do(ctx, http.MethodPost, "/auth/login", "", creds, &login); err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	return &Account{ID: login.ID, Username: login.Username, Token: login.Session.Token}, nil
}

// Befriend makes x and y friends and returns their direct chat.
func (a *API) Befriend(ctx context.Context, x, y *Account) (*Chat, error) {
	if err := a.do(ctx, http.MethodPut, "/users/"+y.ID+"/friend?type=id", x.Token, nil, nil); err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	var res struct {
		Chat *Chat `json:"chat"`
	}
	if err := a.do(ctx, http.MethodPut, "/users/"+x.ID+"/friend?type=id", y.Token, nil, &res); err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	if res.Chat == nil {
		return nil, fmt.Errorf("accept returned no chat")
	}
	return res.Chat, nil
}

// SendMessage posts content to chatID as acc.
func (a *API) SendMessage(ctx context.Context, acc *Account, chatID, content, ackID string) (*Message, error) {
	var msg Message
	body := map[string]string{"content": content}
	if ackID != "" {
		body["ackId"] = ackID
	}
	if err := a.do(ctx, http.MethodPost, "/chat/"+chatID+"/messages", acc.Token, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) do(ctx context.Context, method, path, token string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
