// Package archive предоставляет клиент архива документов (journalføring).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/inntektsmelding-service/internal/model"
)

// Document описывает архивируемое представление inntektsmelding.
type Document struct {
	Title          string            `json:"tittel"`
	ClaimantID     string            `json:"aktoer_id"`
	EmployerID     string            `json:"arbeidsgiver_ident"`
	BenefitType    string            `json:"ytelse_type"`
	StartDate      string            `json:"start_dato"`
	MonthlyIncome  decimal.Decimal   `json:"maaned_inntekt"`
	RefundPeriods  []documentPeriod  `json:"refusjonsperioder"`
	LapsedBenefits []documentBenefit `json:"bortfalte_naturalytelser"`
}

type documentPeriod struct {
	From   string          `json:"fom"`
	To     string          `json:"tom,omitempty"`
	Amount decimal.Decimal `json:"beloep"`
}

type documentBenefit struct {
	From     string          `json:"fom"`
	To       string          `json:"tom,omitempty"`
	Type     string          `json:"naturalytelse_type"`
	IsLapsed bool            `json:"er_bortfalt"`
	Amount   decimal.Decimal `json:"beloep"`
}

// BuildDocument формирует архивный документ из агрегата inntektsmelding.
func BuildDocument(statement *model.IncomeStatement) Document {
	doc := Document{
		Title:         statement.BenefitType.DocumentTitle(),
		ClaimantID:    statement.ClaimantID,
		EmployerID:    statement.EmployerID,
		BenefitType:   statement.BenefitType.String(),
		StartDate:     statement.StartDate.Format(time.DateOnly),
		MonthlyIncome: statement.MonthlyIncome,
	}

	for _, rp := range statement.RefundPeriods {
		p := documentPeriod{
			From:   rp.Period.From.Format(time.DateOnly),
			Amount: rp.AmountPerMonth,
		}
		if !rp.Period.IsOpenEnded() {
			p.To = rp.Period.To.Format(time.DateOnly)
		}
		doc.RefundPeriods = append(doc.RefundPeriods, p)
	}

	for _, lb := range statement.LapsedBenefits {
		b := documentBenefit{
			From:     lb.Period.From.Format(time.DateOnly),
			Type:     string(lb.Type),
			IsLapsed: lb.IsLapsed,
			Amount:   lb.Amount,
		}
		if !lb.Period.IsOpenEnded() {
			b.To = lb.Period.To.Format(time.DateOnly)
		}
		doc.LapsedBenefits = append(doc.LapsedBenefits, b)
	}

	return doc
}

// Client инкапсулирует HTTP-взаимодействие с архивом документов.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient создаёт HTTP-клиент архива по указанному адресу.
func NewClient(baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL:    base,
		httpClient: c,
	}
}

// Submit отправляет документ в архив. Идентификатор inntektsmelding используется
// как внешний ключ дедупликации на стороне архива.
func (c *Client) Submit(ctx context.Context, incomeStatementID int64, doc Document) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("archive client not configured")
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	url := fmt.Sprintf("%s/api/journalpost?ekstern_referanse=%d", c.baseURL, incomeStatementID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
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

	return nil
}
