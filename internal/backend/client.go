package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pokulabs/poku/internal/chats"
)

// Client reads chat metadata of record from the hosted backend.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type metaRequest struct {
	ChatsOfInterest []string `json:"chatsOfInterest,omitempty"`
	ActiveNumber    string   `json:"activeNumber,omitempty"`
	IsFlagged       bool     `json:"isFlagged,omitempty"`
	IsClaimed       bool     `json:"isClaimed,omitempty"`
}

type metaResponse struct {
	Chats []chats.ChatMeta `json:"chats"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ChatsMeta implements chats.MetaLookup.
func (c *Client) ChatsMeta(ctx context.Context, q chats.MetaQuery) ([]chats.ChatMeta, error) {
	body, err := json.Marshal(metaRequest{
		ChatsOfInterest: q.ChatsOfInterest,
		ActiveNumber:    q.ActiveNumber,
		IsFlagged:       q.IsFlagged,
		IsClaimed:       q.IsClaimed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chats/meta", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("backend error %d: %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("backend error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var res metaResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return res.Chats, nil
}
