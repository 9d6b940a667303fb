// Package payment 托管支付链接（Razorpay Payment Links 兼容接口）。
// 回调签名校验在外部完成，这里只负责"为金额 X 生成链接"。
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured 未配置支付服务，调用方走静态二维码兜底。
var ErrNotConfigured = errors.New("payment: provider not configured")

// Link 支付链接。
type Link struct {
	ID  string
	URL string
}

type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	currency   string
	httpClient *http.Client
}

func NewClient(baseURL, keyID, keySecret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		keySecret:  keySecret,
		currency:   "INR",
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createLinkRequest struct {
	Amount      int64             `json:"amount"` // 最小货币单位
	Currency    string            `json:"currency"`
	ReferenceID string            `json:"reference_id"`
	Description string            `json:"description"`
	Notes       map[string]string `json:"notes,omitempty"`
}

type createLinkResponse struct {
	ID       string `json:"id"`
	ShortURL string `json:"short_url"`
}

// CreatePaymentLink 以订单号作为 reference_id，服务端据此去重。
func (c *Client) CreatePaymentLink(ctx context.Context, tenantID, orderNo string, amount int64) (Link, error) {
	if c == nil || c.baseURL == "" || c.keyID == "" {
		return Link{}, ErrNotConfigured
	}
	if amount <= 0 {
		return Link{}, fmt.Errorf("payment: invalid amount %d", amount)
	}
	body, err := json.Marshal(createLinkRequest{
		Amount:      amount,
		Currency:    c.currency,
		ReferenceID: orderNo,
		Description: "Order " + orderNo,
		Notes:       map[string]string{"tenant_id": tenantID, "order_no": orderNo},
	})
	if err != nil {
		return Link{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_links", bytes.NewReader(body))
	if err != nil {
		return Link{}, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Link{}, fmt.Errorf("create payment link: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		// 供应商错误信息只进日志，不返回给客户
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Link{}, fmt.Errorf("create payment link: status=%d body=%s", resp.StatusCode, string(msg))
	}

	var out createLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Link{}, fmt.Errorf("decode payment link: %w", err)
	}
	if out.ID == "" || out.ShortURL == "" {
		return Link{}, errors.New("create payment link: empty id or url")
	}
	return Link{ID: out.ID, URL: out.ShortURL}, nil
}
