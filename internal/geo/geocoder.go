// Package geo 地址文本转坐标（Nominatim 兼容接口），尽力而为。
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chat_order/internal/quote"
)

// ErrNoResult 地址无法解析。
var ErrNoResult = errors.New("geocode: no result")

// Client Nominatim 搜索接口客户端。
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "chat-order/1.0",
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchHit struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode 返回第一条命中的坐标。
func (c *Client) Geocode(ctx context.Context, address string) (*quote.Coord, error) {
	address = strings.TrimSpace(address)
	if address == "" || c.baseURL == "" {
		return nil, ErrNoResult
	}
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode status %d", resp.StatusCode)
	}

	var hits []searchHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(hits) == 0 {
		return nil, ErrNoResult
	}
	lat, err1 := strconv.ParseFloat(hits[0].Lat, 64)
	lng, err2 := strconv.ParseFloat(hits[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("geocode: invalid coordinates %q,%q", hits[0].Lat, hits[0].Lon)
	}
	return &quote.Coord{Lat: lat, Lng: lng}, nil
}
