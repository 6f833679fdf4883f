package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/bt-bridge/telephony-realtime/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
)

const clientSecretsURL = "https://api.openai.com/v1/realtime/client_secrets"

// ClientSecret is an ephemeral credential minted for browser or edge callers
// that must never hold the long-lived API key.
type ClientSecret struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	SessionId string    `json:"session_id,omitempty"`
}

// MintClientSecret exchanges the API key for a short-lived client secret
// scoped to the given session config.
func MintClientSecret(ctx context.Context, apiKey string, session *SessionConfig) (*ClientSecret, error) {
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if session == nil {
		return nil, shared.ErrNoConfig
	}
	sessMap, err := sessionConfigToMap(session)
	if err != nil {
		return nil, err
	}
	body, err := sonic.Marshal(map[string]any{"session": sessMap})
	if err != nil {
		return nil, fmt.Errorf("marshaling secret request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(clientSecretsURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.SetBody(body)

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	done := make(chan error, 1)
	go func() {
		done <- fasthttp.DoDeadline(req, resp, deadline)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err = <-done:
	}
	if err != nil {
		return nil, fmt.Errorf("requesting client secret: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("client secret request returned status %d", resp.StatusCode())
	}

	var parsed struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
		Session   struct {
			Id string `json:"id"`
		} `json:"session"`
	}
	if err := sonic.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("decoding client secret response: %w", err)
	}
	if parsed.Value == "" {
		return nil, fmt.Errorf("client secret response missing value")
	}
	return &ClientSecret{
		Value:     parsed.Value,
		ExpiresAt: time.Unix(parsed.ExpiresAt, 0),
		SessionId: parsed.Session.Id,
	}, nil
}
