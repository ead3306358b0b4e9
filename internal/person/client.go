// Package person предоставляет клиент реестра персон для получения данных заявителя.
package person

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Info содержит сведения о заявителе, используемые при оформлении дела работодателя.
type Info struct {
	FirstName string    `json:"fornavn"`
	LastName  string    `json:"etternavn"`
	BirthDate time.Time `json:"foedselsdato"`
}

// FullName возвращает полное имя заявителя.
func (i Info) FullName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// Client инкапсулирует HTTP-взаимодействие с реестром персон.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент реестра персон по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// InfoFor запрашивает сведения о заявителе по его идентификатору и типу пособия.
func (c *Client) InfoFor(ctx context.Context, claimantID, benefitType string) (*Info, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("person client not configured")
	}

	reqURL := fmt.Sprintf("%s/api/personer/%s?ytelse=%s", c.baseURL, url.PathEscape(claimantID), url.QueryEscape(benefitType))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("person %s not found", claimantID)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Info
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
