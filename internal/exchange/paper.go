package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrInsufficientFunds = errors.New("paper: insufficient funds")

// Paper simulates an account on top of a live market data feed. Orders fill
// immediately at the last trade price. Used for dry runs.
type Paper struct {
	mu       sync.Mutex
	feed     Client
	quote    string
	cash     float64
	fee      float64
	holdings map[string]Account
	orders   map[string]OrderStatus
	now      func() time.Time
}

func NewPaper(feed Client, quote string, cash float64) *Paper {
	return &Paper{
		feed:     feed,
		quote:    quote,
		cash:     cash,
		fee:      0.0005,
		holdings: make(map[string]Account),
		orders:   make(map[string]OrderStatus),
		now:      time.Now,
	}
}

var _ Client = (*Paper)(nil)

// Seed sets a starting holding for a base currency.
func (p *Paper) Seed(currency string, balance, avgBuyPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdings[currency] = Account{Currency: currency, Balance: balance, AvgBuyPrice: avgBuyPrice, UnitCurrency: p.quote}
}

func (p *Paper) Chance(ctx context.Context, market string) (Chance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := BaseCurrency(market)
	ask, ok := p.holdings[base]
	if !ok {
		ask = Account{Currency: base, UnitCurrency: p.quote}
	}
	return Chance{
		Market:      market,
		BidFee:      p.fee,
		AskFee:      p.fee,
		MinBidTotal: 5000,
		MinAskTotal: 5000,
		BidAccount:  Account{Currency: p.quote, Balance: p.cash},
		AskAccount:  ask,
	}, nil
}

func (p *Paper) Accounts(ctx context.Context) ([]Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := []Account{{Currency: p.quote, Balance: p.cash, UnitCurrency: p.quote}}
	for _, a := range p.holdings {
		if a.Balance > 0 {
			out = append(out, a)
		}
	}
	return out, nil
}

func (p *Paper) Tickers(ctx context.Context, markets ...string) ([]Ticker, error) {
	return p.feed.Tickers(ctx, markets...)
}

func (p *Paper) Candles(ctx context.Context, market string, unit Granularity, count int) ([]Candle, error) {
	return p.feed.Candles(ctx, market, unit, count)
}

func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (OrderHandle, error) {
	tickers, err := p.feed.Tickers(ctx, req.Market)
	if err != nil {
		return OrderHandle{}, err
	}
	price, ok := PriceMap(tickers)[req.Market]
	if !ok || price <= 0 {
		return OrderHandle{}, fmt.Errorf("paper: no price for %s", req.Market)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	base := BaseCurrency(req.Market)
	holding := p.holdings[base]
	holding.Currency, holding.UnitCurrency = base, p.quote

	var fill Fill
	switch {
	case req.Side == SideBid && req.Type == OrderTypePrice:
		funds, err := strconv.ParseFloat(req.Price, 64)
		if err != nil || funds <= 0 {
			return OrderHandle{}, fmt.Errorf("paper: invalid bid funds %q", req.Price)
		}
		cost := funds * (1 + p.fee)
		if cost > p.cash {
			return OrderHandle{}, ErrInsufficientFunds
		}
		volume := funds / price
		total := holding.Balance + volume
		holding.AvgBuyPrice = (holding.AvgBuyPrice*holding.Balance + price*volume) / total
		holding.Balance = total
		p.cash -= cost
		fill = Fill{Price: price, Volume: volume, Funds: funds}
	case req.Side == SideAsk && req.Type == OrderTypeMarket:
		volume, err := strconv.ParseFloat(req.Volume, 64)
		if err != nil || volume <= 0 {
			return OrderHandle{}, fmt.Errorf("paper: invalid ask volume %q", req.Volume)
		}
		if volume > holding.Balance+1e-12 {
			return OrderHandle{}, ErrInsufficientFunds
		}
		holding.Balance -= volume
		if holding.Balance <= 0 {
			holding.Balance, holding.AvgBuyPrice = 0, 0
		}
		funds := volume * price
		p.cash += funds * (1 - p.fee)
		fill = Fill{Price: price, Volume: volume, Funds: funds}
	default:
		return OrderHandle{}, fmt.Errorf("paper: unsupported order %s/%s", req.Side, req.Type)
	}
	p.holdings[base] = holding

	id := uuid.NewString()
	p.orders[id] = OrderStatus{
		UUID:           id,
		Market:         req.Market,
		Side:           req.Side,
		State:          StateDone,
		ExecutedVolume: fill.Volume,
		Trades:         []Fill{fill},
	}
	return OrderHandle{
		UUID:      id,
		Market:    req.Market,
		CreatedAt: p.now(),
		Volume:    strconv.FormatFloat(fill.Volume, 'f', 8, 64),
	}, nil
}

func (p *Paper) Order(ctx context.Context, id string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.orders[id]
	if !ok {
		return OrderStatus{}, fmt.Errorf("paper: order %s not found", id)
	}
	return status, nil
}

// CancelOrder returns the order unchanged since paper orders fill on placement.
func (p *Paper) CancelOrder(ctx context.Context, id string) (OrderStatus, error) {
	return p.Order(ctx, id)
}
