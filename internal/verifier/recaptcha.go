// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const DefaultSiteVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

type siteVerifyResponse struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Action      string   `json:"action"`
	Hostname    string   `json:"hostname"`
	ChallengeTS string   `json:"challenge_ts"`
	ErrorCodes  []string `json:"error-codes"`
}

// RecaptchaClient assesses reCAPTCHA v3 tokens through the siteverify API.
type RecaptchaClient struct {
	secret     string
	endpoint   string
	httpClient *http.Client
}

func NewRecaptchaClient(secret string, httpClient *http.Client) *RecaptchaClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &RecaptchaClient{
		secret:     secret,
		endpoint:   DefaultSiteVerifyURL,
		httpClient: httpClient,
	}
}

func (c *RecaptchaClient) Assess(ctx context.Context, token, _ string) (Assessment, error) {
	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Assessment{}, fmt.Errorf("build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Assessment{}, fmt.Errorf("siteverify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Assessment{}, fmt.Errorf("siteverify: unexpected status %d", resp.StatusCode)
	}

	var out siteVerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return Assessment{}, fmt.Errorf("decode siteverify response: %w", err)
	}

	return Assessment{
		Valid:   out.Success,
		Score:   out.Score,
		Action:  out.Action,
		Reasons: out.ErrorCodes,
	}, nil
}
