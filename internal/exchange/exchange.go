package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Client is the venue contract used by every stage that needs market or
// account data. Implementations do not retry.
type Client interface {
	Chance(ctx context.Context, market string) (Chance, error)
	Accounts(ctx context.Context) ([]Account, error)
	Tickers(ctx context.Context, markets ...string) ([]Ticker, error)
	Candles(ctx context.Context, market string, unit Granularity, count int) ([]Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	Order(ctx context.Context, uuid string) (OrderStatus, error)
	CancelOrder(ctx context.Context, uuid string) (OrderStatus, error)
}

type Account struct {
	Currency     string  `json:"currency"`
	Balance      float64 `json:"balance"`
	Locked       float64 `json:"locked"`
	AvgBuyPrice  float64 `json:"avg_buy_price"`
	UnitCurrency string  `json:"unit_currency"`
}

// Chance is the per-market account view: fees, minimum order totals and the
// quote (bid) and base (ask) balances.
type Chance struct {
	Market      string
	BidFee      float64
	AskFee      float64
	MinBidTotal float64
	MinAskTotal float64
	BidAccount  Account
	AskAccount  Account
}

type Ticker struct {
	Market       string
	TradePrice   float64
	OpeningPrice float64
	HighPrice    float64
	LowPrice     float64
	ChangeRate   float64
	Volume24h    float64
	Timestamp    time.Time
}

// PriceMap indexes tickers by market.
func PriceMap(tickers []Ticker) map[string]float64 {
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		out[t.Market] = t.TradePrice
	}
	return out
}

type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Granularity is a candle width in minutes.
type Granularity int

const (
	Minute1  Granularity = 1
	Minute3  Granularity = 3
	Minute5  Granularity = 5
	Minute15 Granularity = 15
	Minute30 Granularity = 30
	Hour1    Granularity = 60
	Hour4    Granularity = 240
	Day      Granularity = 1440
)

func (g Granularity) Valid() bool {
	switch g {
	case Minute1, Minute3, Minute5, 10, Minute15, Minute30, Hour1, Hour4, Day:
		return true
	}
	return false
}

func (g Granularity) String() string {
	switch {
	case g == Day:
		return "1d"
	case g >= 60 && int(g)%60 == 0:
		return fmt.Sprintf("%dh", int(g)/60)
	}
	return fmt.Sprintf("%dm", int(g))
}

type OrderSide string

const (
	SideBid OrderSide = "bid"
	SideAsk OrderSide = "ask"
)

type OrderType string

const (
	// OrderTypePrice is a market buy sized in quote currency.
	OrderTypePrice OrderType = "price"
	// OrderTypeMarket is a market sell sized in base asset volume.
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest carries decimal strings already rounded to exchange precision.
type OrderRequest struct {
	Market string
	Side   OrderSide
	Type   OrderType
	Price  string
	Volume string
}

func (r OrderRequest) Params() map[string]string {
	params := map[string]string{
		"market":   r.Market,
		"side":     string(r.Side),
		"ord_type": string(r.Type),
	}
	if r.Price != "" {
		params["price"] = r.Price
	}
	if r.Volume != "" {
		params["volume"] = r.Volume
	}
	return params
}

type OrderHandle struct {
	UUID      string
	Market    string
	CreatedAt time.Time
	Volume    string
}

type OrderState string

const (
	StateWait   OrderState = "wait"
	StateWatch  OrderState = "watch"
	StateDone   OrderState = "done"
	StateCancel OrderState = "cancel"
)

type Fill struct {
	Price  float64
	Volume float64
	Funds  float64
}

type OrderStatus struct {
	UUID           string
	Market         string
	Side           OrderSide
	State          OrderState
	ExecutedVolume float64
	Trades         []Fill
}

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	return s.State == StateDone || s.State == StateCancel
}

func (s OrderStatus) FilledVolume() float64 {
	total := 0.0
	for _, t := range s.Trades {
		total += t.Volume
	}
	if total == 0 {
		return s.ExecutedVolume
	}
	return total
}

// AveragePrice is the volume weighted execution price over all fills.
func (s OrderStatus) AveragePrice() float64 {
	var funds, volume float64
	for _, t := range s.Trades {
		f := t.Funds
		if f == 0 {
			f = t.Price * t.Volume
		}
		funds += f
		volume += t.Volume
	}
	if volume == 0 {
		return 0
	}
	return funds / volume
}

// BaseCurrency returns "BTC" for "KRW-BTC".
func BaseCurrency(market string) string {
	if _, base, ok := strings.Cut(market, "-"); ok {
		return base
	}
	return market
}

// QuoteCurrency returns "KRW" for "KRW-BTC".
func QuoteCurrency(market string) string {
	if quote, _, ok := strings.Cut(market, "-"); ok {
		return quote
	}
	return ""
}
