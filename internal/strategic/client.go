// Package strategic calls the optional remote strategy engine. The engine is
// advisory only: any transport error, slow response, or malformed payload
// surfaces as ErrAdvisorUnavailable, and the caller falls back to the rule
// ladder.
package strategic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"banknet/internal/domain"
	"banknet/pkg/errors"
)

// Client posts assessment requests to the strategic engine.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Assess asks the remote engine for a verdict on a proposed exposure.
func (c *Client) Assess(ctx context.Context, input domain.AssessmentInput) (*domain.Assessment, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, errors.Wrap(err, "marshal assessment input")
	}

	url := fmt.Sprintf("%s/api/v1/assess", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "create assess request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAdvisorUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrap(errors.ErrAdvisorUnavailable, fmt.Sprintf("strategic engine returned status %d", resp.StatusCode))
	}

	var assessment domain.Assessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		return nil, errors.Wrap(errors.ErrAdvisorUnavailable, "malformed assessment payload")
	}
	if assessment.Recommendation == "" {
		return nil, errors.Wrap(errors.ErrAdvisorUnavailable, "assessment missing recommendation")
	}

	return &assessment, nil
}
