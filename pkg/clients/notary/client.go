package notary

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/cuptrace/cuptrace/internal/config"
)

// Client exposes the notarization gateway operations used by the stage
// engine. The gateway owns transaction construction and submission; this
// client only reports stage changes to it.
type Client interface {
	Notarize(ctx context.Context, req NotarizeRequest) (*NotarizeResponse, error)
}

// APIClient is a resty-backed implementation of Client.
type APIClient struct {
	httpClient *resty.Client
	policyID   string
}

// NewClient builds a notarization gateway client from the provided
// configuration values.
func NewClient(cfg config.NotaryConfig) *APIClient {
	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey)).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &APIClient{
		httpClient: restyClient,
		policyID:   cfg.PolicyID,
	}
}

// NotarizeRequest describes one stage change to record on chain.
type NotarizeRequest struct {
	BatchID  string `json:"batch_id"`
	NewStage string `json:"new_stage"`
	OldStage string `json:"old_stage"`
	ActorID  string `json:"actor_id"`
}

// NotarizeResponse mirrors the gateway's acceptance payload.
type NotarizeResponse struct {
	TxHash string `json:"tx_hash"`
}

// apiError represents the gateway's error payload.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Notarize submits one stage change for on-chain recording.
func (c *APIClient) Notarize(ctx context.Context, req NotarizeRequest) (*NotarizeResponse, error) {
	payload := map[string]any{
		"policy_id": c.policyID,
		"batch_id":  req.BatchID,
		"new_stage": req.NewStage,
		"old_stage": req.OldStage,
		"actor_id":  req.ActorID,
	}

	result := new(NotarizeResponse)
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(result).
		SetError(apiErr).
		Post("/notarizations")
	if err != nil {
		return nil, fmt.Errorf("notarize stage change: %w", err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		message := ""
		code := resp.StatusCode()
		if apiErr != nil {
			message = apiErr.Error.Message
			if apiErr.Error.Code != 0 {
				code = apiErr.Error.Code
			}
		}
		return nil, fmt.Errorf("notary gateway error: code=%d, message=%s", code, message)
	}

	return result, nil
}
