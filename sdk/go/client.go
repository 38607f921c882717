package sitelinesdk

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
)

// Client is a minimal Siteline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Confidence   int    `json:"confidence"`
	Reason       string `json:"reason"`
	StatusSource string `json:"status_source"`
}

// Phase summarizes one construction phase.
type Phase struct {
	Activities int     `json:"activities"`
	Started    int     `json:"started"`
	Completed  int     `json:"completed"`
	Progress   float64 `json:"progress"`
}

// StatusResult is a classification with its per-phase breakdown.
type StatusResult struct {
	Status           string `json:"status"`
	Confidence       int    `json:"confidence"`
	Reason           string `json:"reason"`
	PreCommencement  Phase  `json:"pre_commencement"`
	PostCommencement Phase  `json:"post_commencement"`
	PostCompletion   Phase  `json:"post_completion"`
}

// StatusPreview is returned by Status; nothing is stored.
type StatusPreview struct {
	ProjectID    string `json:"project_id"`
	ProjectCode  string `json:"project_code"`
	StoredStatus string `json:"stored_status"`
	StatusResult
}

// Recomputed is the outcome for one project.
type Recomputed struct {
	ProjectID      string `json:"project_id"`
	ProjectCode    string `json:"project_code"`
	PreviousStatus string `json:"previous_status"`
	Skipped        bool   `json:"skipped"`
	Changed        bool   `json:"changed"`
	Error          string `json:"error,omitempty"`
	StatusResult
}

// RecomputeSummary is returned by RecomputeAll.
type RecomputeSummary struct {
	Total    int            `json:"total"`
	Changed  int            `json:"changed"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
	Statuses map[string]int `json:"statuses"`
	Results  []Recomputed   `json:"results"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Projects lists projects with their stored status.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

// Status classifies a project without storing the result.
func (c *Client) Status(ctx context.Context, project string) (StatusPreview, error) {
	var resp StatusPreview
	err := c.do(ctx, http.MethodGet, c.projectPath(project, "status"), nil, &resp)
	return resp, err
}

// Recompute classifies a project and stores the result.
func (c *Client) Recompute(ctx context.Context, project string) (Recomputed, error) {
	var resp Recomputed
	err := c.do(ctx, http.MethodPost, c.projectPath(project, "recompute"), nil, &resp)
	return resp, err
}

// RecomputeAll recomputes every project.
func (c *Client) RecomputeAll(ctx context.Context) (RecomputeSummary, error) {
	var resp RecomputeSummary
	err := c.do(ctx, http.MethodPost, "recompute", nil, &resp)
	return resp, err
}

// Transition requests a manual status change. Illegal moves fail with an
// APIError whose Code is "invalid_transition".
func (c *Client) Transition(ctx context.Context, project, status, reason string) (Project, error) {
	body := map[string]any{"status": status}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(project, "transition"), body, &resp)
	return resp, err
}

// Targets lists the statuses reachable from status by manual transition.
func (c *Client) Targets(ctx context.Context, status string) ([]string, error) {
	var resp struct {
		Targets []string `json:"targets"`
	}
	err := c.do(ctx, http.MethodGet, "transitions/"+url.PathEscape(status), nil, &resp)
	return resp.Targets, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(project, p string) string {
	return fmt.Sprintf("projects/%s/%s", url.PathEscape(project), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
