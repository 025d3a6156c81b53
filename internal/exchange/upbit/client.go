package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dyike/quorumtrade/internal/exchange"
)

const DefaultBaseURL = "https://api.upbit.com/v1/"

// APIError is a non-2xx response from the exchange.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Name == "" && e.Message == "" {
		return fmt.Sprintf("upbit: http %d", e.StatusCode)
	}
	return fmt.Sprintf("upbit: http %d: %s: %s", e.StatusCode, e.Name, e.Message)
}

type Client struct {
	http   *resty.Client
	signer *Signer
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.http.SetBaseURL(baseURL)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

func NewClient(accessKey, secretKey string, opts ...Option) *Client {
	httpClient := resty.New().
		SetBaseURL(DefaultBaseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")

	c := &Client{
		http:   httpClient,
		signer: NewSigner(accessKey, secretKey),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ exchange.Client = (*Client)(nil)

func (c *Client) Chance(ctx context.Context, market string) (exchange.Chance, error) {
	var out chanceDTO
	if err := c.do(ctx, http.MethodGet, "orders/chance", map[string]string{"market": market}, true, &out); err != nil {
		return exchange.Chance{}, err
	}
	return out.toChance(market), nil
}

func (c *Client) Accounts(ctx context.Context) ([]exchange.Account, error) {
	var out []accountDTO
	if err := c.do(ctx, http.MethodGet, "accounts", nil, true, &out); err != nil {
		return nil, err
	}
	accounts := make([]exchange.Account, 0, len(out))
	for _, a := range out {
		accounts = append(accounts, a.toAccount())
	}
	return accounts, nil
}

func (c *Client) Tickers(ctx context.Context, markets ...string) ([]exchange.Ticker, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	var out []tickerDTO
	params := map[string]string{"markets": strings.Join(markets, ",")}
	if err := c.do(ctx, http.MethodGet, "ticker", params, false, &out); err != nil {
		return nil, err
	}
	tickers := make([]exchange.Ticker, 0, len(out))
	for _, t := range out {
		tickers = append(tickers, t.toTicker())
	}
	return tickers, nil
}

// Candles returns candles oldest first. The venue answers newest first.
func (c *Client) Candles(ctx context.Context, market string, unit exchange.Granularity, count int) ([]exchange.Candle, error) {
	if !unit.Valid() {
		return nil, fmt.Errorf("upbit: unsupported candle unit %d", unit)
	}
	path := "candles/days"
	if unit != exchange.Day {
		path = "candles/minutes/" + strconv.Itoa(int(unit))
	}
	params := map[string]string{"market": market}
	if count > 0 {
		params["count"] = strconv.Itoa(count)
	}

	var out []candleDTO
	if err := c.do(ctx, http.MethodGet, path, params, false, &out); err != nil {
		return nil, err
	}
	candles := make([]exchange.Candle, len(out))
	for i, dto := range out {
		candle, err := dto.toCandle()
		if err != nil {
			return nil, fmt.Errorf("upbit: parse candle time %q: %w", dto.CandleTimeUTC, err)
		}
		candles[len(out)-1-i] = candle
	}
	return candles, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderHandle, error) {
	var out orderDTO
	if err := c.do(ctx, http.MethodPost, "orders", req.Params(), true, &out); err != nil {
		return exchange.OrderHandle{}, err
	}
	return out.toHandle(), nil
}

func (c *Client) Order(ctx context.Context, uuid string) (exchange.OrderStatus, error) {
	var out orderDTO
	if err := c.do(ctx, http.MethodGet, "order", map[string]string{"uuid": uuid}, true, &out); err != nil {
		return exchange.OrderStatus{}, err
	}
	return out.toStatus(), nil
}

func (c *Client) CancelOrder(ctx context.Context, uuid string) (exchange.OrderStatus, error) {
	var out orderDTO
	if err := c.do(ctx, http.MethodDelete, "order", map[string]string{"uuid": uuid}, true, &out); err != nil {
		return exchange.OrderStatus{}, err
	}
	return out.toStatus(), nil
}

// do issues one call. GET and DELETE carry params in the URL; POST sends them
// as a JSON body. Private calls sign the same canonical parameter string.
func (c *Client) do(ctx context.Context, method, path string, params map[string]string, private bool, out any) error {
	req := c.http.R().SetContext(ctx)

	if private {
		token, err := c.signer.Token(canonicalQuery(params))
		if err != nil {
			return err
		}
		req.SetAuthToken(token)
	}

	switch method {
	case http.MethodPost:
		req.SetHeader("Content-Type", "application/json").SetBody(params)
	default:
		if len(params) > 0 {
			req.SetQueryParams(params)
		}
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("upbit %s %s: %w", method, path, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return parseAPIError(resp.StatusCode(), resp.Body())
	}
	if want := successStatus(method); resp.StatusCode() != want {
		return fmt.Errorf("upbit %s %s: status %d, want %d", method, path, resp.StatusCode(), want)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("upbit %s %s: decode response: %w", method, path, err)
	}
	return nil
}

// successStatus is the only status the exchange answers a good call with.
// Orders are created with 201.
func successStatus(method string) int {
	if method == http.MethodPost {
		return http.StatusCreated
	}
	return http.StatusOK
}

func parseAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	var dto errorDTO
	if err := json.Unmarshal(body, &dto); err == nil {
		apiErr.Name = dto.Error.Name
		apiErr.Message = dto.Error.Message
	} else if len(body) > 0 {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
