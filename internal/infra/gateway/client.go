package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"payrecon/internal/domain/model"

	"github.com/shopspring/decimal"
)

var (
	// 支払いが存在しない（404）
	ErrPaymentNotFound = errors.New("payment not found")
	// 呼び出し上限に達した（次のサイクルで再試行）
	ErrRateLimited = errors.New("payment gateway rate limited")
)

// 全インスタンス共通の呼び出し枠
type CallBudget interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Client は決済代行のREST APIクライアント
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	budget  CallBudget
}

func NewClient(baseURL, token string, budget CallBudget) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		budget: budget,
	}
}

type paymentResponse struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	PaymentMethodID   string          `json:"payment_method_id"`
	ExternalReference string          `json:"external_reference"`
	DateCreated       time.Time       `json:"date_created"`
}

func (p paymentResponse) toModel() model.GatewayPayment {
	return model.GatewayPayment{
		ID:                p.ID.String(),
		Status:            model.GatewayStatus(p.Status),
		Amount:            p.TransactionAmount,
		Method:            p.PaymentMethodID,
		ExternalReference: p.ExternalReference,
		CreatedAt:         p.DateCreated,
	}
}

type searchResponse struct {
	Results []paymentResponse `json:"results"`
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type refundResponse struct {
	ID     json.Number     `json:"id"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}

// GetPayment は支払いの正の状態を取得する
func (c *Client) GetPayment(ctx context.Context, paymentID string) (model.GatewayPayment, error) {
	var out paymentResponse
	path := "/v1/payments/" + url.PathEscape(paymentID)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return model.GatewayPayment{}, err
	}
	return out.toModel(), nil
}

// SearchPayments はexternal_referenceか期間で支払いを探す
func (c *Client) SearchPayments(ctx context.Context, q model.PaymentSearchQuery) ([]model.GatewayPayment, error) {
	params := url.Values{}
	params.Set("sort", "date_created")
	params.Set("criteria", "desc")
	if q.ExternalReference != "" {
		params.Set("external_reference", q.ExternalReference)
	}
	if q.From != nil || q.To != nil {
		params.Set("range", "date_created")
	}
	if q.From != nil {
		params.Set("begin_date", q.From.UTC().Format(time.RFC3339))
	}
	if q.To != nil {
		params.Set("end_date", q.To.UTC().Format(time.RFC3339))
	}

	var out searchResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/search?"+params.Encode(), nil, "", &out); err != nil {
		return nil, err
	}

	payments := make([]model.GatewayPayment, 0, len(out.Results))
	for _, p := range out.Results {
		payments = append(payments, p.toModel())
	}
	return payments, nil
}

// CreateRefund は返金を依頼する。同じidempotencyKeyの再送は決済代行側で重複排除される
func (c *Client) CreateRefund(ctx context.Context, paymentID string, amount decimal.Decimal, idempotencyKey string) (model.GatewayRefund, error) {
	body, err := json.Marshal(refundRequest{Amount: amount})
	if err != nil {
		return model.GatewayRefund{}, err
	}

	var out refundResponse
	path := "/v1/payments/" + url.PathEscape(paymentID) + "/refunds"
	if err := c.do(ctx, http.MethodPost, path, body, idempotencyKey, &out); err != nil {
		return model.GatewayRefund{}, err
	}
	return model.GatewayRefund{
		ID:     out.ID.String(),
		Status: model.GatewayStatus(out.Status),
		Amount: out.Amount,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, out interface{}) error {
	if c.budget != nil {
		ok, err := c.budget.Allow(ctx, "payment-gateway")
		if err != nil {
			return fmt.Errorf("call budget: %w", err)
		}
		if !ok {
			return ErrRateLimited
		}
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("payment gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrPaymentNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("payment gateway returned %d: %s", resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode payment gateway response: %w", err)
	}
	return nil
}
