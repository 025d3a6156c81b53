package upbit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/quorumtrade/internal/exchange"
)

// Upbit mixes quoted and bare numbers; decimal.Decimal accepts both.

type accountDTO struct {
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	Locked       decimal.Decimal `json:"locked"`
	AvgBuyPrice  decimal.Decimal `json:"avg_buy_price"`
	UnitCurrency string          `json:"unit_currency"`
}

func (a accountDTO) toAccount() exchange.Account {
	return exchange.Account{
		Currency:     a.Currency,
		Balance:      a.Balance.InexactFloat64(),
		Locked:       a.Locked.InexactFloat64(),
		AvgBuyPrice:  a.AvgBuyPrice.InexactFloat64(),
		UnitCurrency: a.UnitCurrency,
	}
}

type chanceDTO struct {
	BidFee decimal.Decimal `json:"bid_fee"`
	AskFee decimal.Decimal `json:"ask_fee"`
	Market struct {
		ID  string `json:"id"`
		Bid struct {
			Currency string          `json:"currency"`
			MinTotal decimal.Decimal `json:"min_total"`
		} `json:"bid"`
		Ask struct {
			Currency string          `json:"currency"`
			MinTotal decimal.Decimal `json:"min_total"`
		} `json:"ask"`
	} `json:"market"`
	BidAccount accountDTO `json:"bid_account"`
	AskAccount accountDTO `json:"ask_account"`
}

func (c chanceDTO) toChance(market string) exchange.Chance {
	if c.Market.ID != "" {
		market = c.Market.ID
	}
	return exchange.Chance{
		Market:      market,
		BidFee:      c.BidFee.InexactFloat64(),
		AskFee:      c.AskFee.InexactFloat64(),
		MinBidTotal: c.Market.Bid.MinTotal.InexactFloat64(),
		MinAskTotal: c.Market.Ask.MinTotal.InexactFloat64(),
		BidAccount:  c.BidAccount.toAccount(),
		AskAccount:  c.AskAccount.toAccount(),
	}
}

type tickerDTO struct {
	Market            string          `json:"market"`
	TradePrice        decimal.Decimal `json:"trade_price"`
	OpeningPrice      decimal.Decimal `json:"opening_price"`
	HighPrice         decimal.Decimal `json:"high_price"`
	LowPrice          decimal.Decimal `json:"low_price"`
	SignedChangeRate  decimal.Decimal `json:"signed_change_rate"`
	AccTradeVolume24h decimal.Decimal `json:"acc_trade_volume_24h"`
	TimestampMillis   int64           `json:"timestamp"`
}

func (t tickerDTO) toTicker() exchange.Ticker {
	out := exchange.Ticker{
		Market:       t.Market,
		TradePrice:   t.TradePrice.InexactFloat64(),
		OpeningPrice: t.OpeningPrice.InexactFloat64(),
		HighPrice:    t.HighPrice.InexactFloat64(),
		LowPrice:     t.LowPrice.InexactFloat64(),
		ChangeRate:   t.SignedChangeRate.InexactFloat64(),
		Volume24h:    t.AccTradeVolume24h.InexactFloat64(),
	}
	if t.TimestampMillis > 0 {
		out.Timestamp = time.UnixMilli(t.TimestampMillis).UTC()
	}
	return out
}

const candleTimeLayout = "2006-01-02T15:04:05"

type candleDTO struct {
	Market         string          `json:"market"`
	CandleTimeUTC  string          `json:"candle_date_time_utc"`
	OpeningPrice   decimal.Decimal `json:"opening_price"`
	HighPrice      decimal.Decimal `json:"high_price"`
	LowPrice       decimal.Decimal `json:"low_price"`
	TradePrice     decimal.Decimal `json:"trade_price"`
	AccTradeVolume decimal.Decimal `json:"candle_acc_trade_volume"`
}

func (c candleDTO) toCandle() (exchange.Candle, error) {
	ts, err := time.Parse(candleTimeLayout, c.CandleTimeUTC)
	if err != nil {
		return exchange.Candle{}, err
	}
	return exchange.Candle{
		Time:   ts.UTC(),
		Open:   c.OpeningPrice.InexactFloat64(),
		High:   c.HighPrice.InexactFloat64(),
		Low:    c.LowPrice.InexactFloat64(),
		Close:  c.TradePrice.InexactFloat64(),
		Volume: c.AccTradeVolume.InexactFloat64(),
	}, nil
}

type orderDTO struct {
	UUID           string          `json:"uuid"`
	Side           string          `json:"side"`
	OrdType        string          `json:"ord_type"`
	State          string          `json:"state"`
	Market         string          `json:"market"`
	CreatedAt      string          `json:"created_at"`
	Volume         decimal.Decimal `json:"volume"`
	ExecutedVolume decimal.Decimal `json:"executed_volume"`
	Trades         []tradeDTO      `json:"trades"`
}

type tradeDTO struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Funds  decimal.Decimal `json:"funds"`
}

func (o orderDTO) toHandle() exchange.OrderHandle {
	created, _ := time.Parse(time.RFC3339, o.CreatedAt)
	return exchange.OrderHandle{
		UUID:      o.UUID,
		Market:    o.Market,
		CreatedAt: created,
		Volume:    o.Volume.String(),
	}
}

func (o orderDTO) toStatus() exchange.OrderStatus {
	status := exchange.OrderStatus{
		UUID:           o.UUID,
		Market:         o.Market,
		Side:           exchange.OrderSide(o.Side),
		State:          exchange.OrderState(o.State),
		ExecutedVolume: o.ExecutedVolume.InexactFloat64(),
	}
	for _, t := range o.Trades {
		status.Trades = append(status.Trades, exchange.Fill{
			Price:  t.Price.InexactFloat64(),
			Volume: t.Volume.InexactFloat64(),
			Funds:  t.Funds.InexactFloat64(),
		})
	}
	return status
}

type errorDTO struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}
