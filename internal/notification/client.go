// Package notification предоставляет клиент системы уведомлений работодателей.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с системой уведомлений работодателей.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient создаёт HTTP-клиент системы уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 5 * time.Second
	c.Logger = nil

	return &Client{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: c,
	}
}

func normalizeBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

type openCaseRequest struct {
	GroupingID string `json:"grupperings_id"`
	Category   string `json:"merkelapp"`
	EmployerID string `json:"virksomhetsnummer"`
	Title      string `json:"tittel"`
	Link       string `json:"lenke"`
}

type openCaseResponse struct {
	CaseID string `json:"sak_id"`
}

type openTaskRequest struct {
	GroupingID string `json:"grupperings_id"`
	Category   string `json:"merkelapp"`
	ExternalID string `json:"ekstern_id"`
	EmployerID string `json:"virksomhetsnummer"`
	Text       string `json:"tekst"`
	Link       string `json:"lenke"`
}

type openTaskResponse struct {
	TaskID string `json:"oppgave_id"`
}

type closeTaskRequest struct {
	CompletedAt string `json:"utfoert_tidspunkt"`
}

// OpenCase создаёт дело, видимое работодателю, и возвращает его внешний идентификатор.
func (c *Client) OpenCase(ctx context.Context, groupingID, category, employerID, title, link string) (string, error) {
	var resp openCaseResponse
	err := c.post(ctx, "/api/saker", openCaseRequest{
		GroupingID: groupingID,
		Category:   category,
		EmployerID: employerID,
		Title:      title,
		Link:       link,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("open case: %w", err)
	}
	return resp.CaseID, nil
}

// OpenTask создаёт задачу работодателю и возвращает её внешний идентификатор.
func (c *Client) OpenTask(ctx context.Context, groupingID, category, externalID, employerID, text, link string) (string, error) {
	var resp openTaskResponse
	err := c.post(ctx, "/api/oppgaver", openTaskRequest{
		GroupingID: groupingID,
		Category:   category,
		ExternalID: externalID,
		EmployerID: employerID,
		Text:       text,
		Link:       link,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("open task: %w", err)
	}
	return resp.TaskID, nil
}

// CloseTask помечает задачу работодателя выполненной в указанный момент времени.
func (c *Client) CloseTask(ctx context.Context, taskID string, when time.Time) error {
	err := c.post(ctx, "/api/oppgaver/"+taskID+"/utfoert", closeTaskRequest{
		CompletedAt: when.Format(time.RFC3339),
	}, nil)
	if err != nil {
		return fmt.Errorf("close task: %w", err)
	}
	return nil
}

// CloseCase завершает дело в системе уведомлений.
func (c *Client) CloseCase(ctx context.Context, caseID string) error {
	if err := c.post(ctx, "/api/saker/"+caseID+"/ferdigstill", struct{}{}, nil); err != nil {
		return fmt.Errorf("close case: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notification client not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
