package dataflows

import (
	"fmt"
	"math"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	talib "github.com/markcheno/go-talib"

	"github.com/dyike/quorumtrade/internal/exchange"
)

// Series values are aligned with the input; positions inside the warm-up
// window hold NaN.
type Series []float64

// Last returns the most recent value, NaN for an empty series.
func (s Series) Last() float64 {
	if len(s) == 0 {
		return math.NaN()
	}
	return s[len(s)-1]
}

func nanSeries(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func Closes(candles []exchange.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// warmup turns the zero-filled lookback that talib leaves at the head of its
// output into NaN.
func warmup(values []float64, n int) Series {
	out := Series(values)
	for i := 0; i < n && i < len(out); i++ {
		out[i] = math.NaN()
	}
	return out
}

func SMA(values []float64, period int) Series {
	if period <= 0 || len(values) < period {
		return nanSeries(len(values))
	}
	return warmup(talib.Sma(values, period), period-1)
}

// EMA is seeded with the simple average of the first period values.
func EMA(values []float64, period int) Series {
	if period <= 0 || len(values) < period {
		return nanSeries(len(values))
	}
	return warmup(talib.Ema(values, period), period-1)
}

// RSI uses Wilder's smoothing. A window with no movement reads 0.
func RSI(values []float64, period int) Series {
	if period < 2 || len(values) <= period {
		return nanSeries(len(values))
	}
	return warmup(talib.Rsi(values, period), period)
}

type MACDResult struct {
	MACD      Series
	Signal    Series
	Histogram Series
}

// MACD takes the MACD line from talib. The signal line is an EMA over the
// defined part of that line only; talib.Macd seeds it with the zero warm-up.
func MACD(values []float64, fast, slow, signal int) MACDResult {
	n := len(values)
	res := MACDResult{MACD: nanSeries(n), Signal: nanSeries(n), Histogram: nanSeries(n)}
	if fast <= 0 || signal <= 0 || slow <= fast {
		return res
	}
	start := max(slow+signal-3, slow-1)
	if n <= start {
		return res
	}
	line, _, _ := talib.Macd(values, fast, slow, signal)
	copy(res.MACD[start:], line[start:])
	if n-start < signal {
		return res
	}
	sig := talib.Ema(line[start:], signal)
	for i := start + signal - 1; i < n; i++ {
		res.Signal[i] = sig[i-start]
		res.Histogram[i] = line[i] - sig[i-start]
	}
	return res
}

type BollingerResult struct {
	Middle   Series
	Upper    Series
	Lower    Series
	PercentB Series
	Width    Series
}

// Bollinger uses the population standard deviation over the window.
func Bollinger(values []float64, period int, k float64) BollingerResult {
	n := len(values)
	res := BollingerResult{
		Middle: nanSeries(n), Upper: nanSeries(n), Lower: nanSeries(n),
		PercentB: nanSeries(n), Width: nanSeries(n),
	}
	if period <= 0 || n < period {
		return res
	}
	upper, middle, lower := talib.BBands(values, period, k, k, talib.SMA)
	res.Upper, res.Middle, res.Lower = warmup(upper, period-1), warmup(middle, period-1), warmup(lower, period-1)
	for i := period - 1; i < n; i++ {
		if upper[i] != lower[i] {
			res.PercentB[i] = (values[i] - lower[i]) / (upper[i] - lower[i])
		}
		if middle[i] != 0 {
			res.Width[i] = (upper[i] - lower[i]) / middle[i]
		}
	}
	return res
}

// OBV starts from the first candle's volume, adds volume on up closes and
// subtracts it on down closes.
func OBV(candles []exchange.Candle) Series {
	if len(candles) == 0 {
		return Series{}
	}
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	return Series(talib.Obv(Closes(candles), volumes))
}

// Snapshot is the indicator set the technical analyst reads.
type Snapshot struct {
	Close         float64
	RSI           float64
	MACD          float64
	MACDSignal    float64
	MACDHistogram float64
	BollUpper     float64
	BollMiddle    float64
	BollLower     float64
	PercentB      float64
	BandWidth     float64
	OBV           float64
	OBVChange     float64
}

// MinCandles is enough history for a MACD(12,26,9) signal line.
const MinCandles = 41

// Indicators computes Bollinger(20,2), RSI(14), MACD(12,26,9) and OBV on the
// latest candle.
func Indicators(candles []exchange.Candle) (Snapshot, error) {
	if len(candles) < MinCandles {
		return Snapshot{}, fmt.Errorf("need at least %d candles, got %d", MinCandles, len(candles))
	}
	closes := Closes(candles)
	macd := MACD(closes, 12, 26, 9)
	boll := Bollinger(closes, 20, 2)
	obv := OBV(candles)

	snap := Snapshot{
		Close:         closes[len(closes)-1],
		RSI:           RSI(closes, 14).Last(),
		MACD:          macd.MACD.Last(),
		MACDSignal:    macd.Signal.Last(),
		MACDHistogram: macd.Histogram.Last(),
		BollUpper:     boll.Upper.Last(),
		BollMiddle:    boll.Middle.Last(),
		BollLower:     boll.Lower.Last(),
		PercentB:      boll.PercentB.Last(),
		BandWidth:     boll.Width.Last(),
		OBV:           obv.Last(),
	}
	if len(obv) > 10 {
		snap.OBVChange = obv.Last() - obv[len(obv)-11]
	}
	return snap, nil
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"Close=%.4f RSI(14)=%.2f MACD=%.4f Signal=%.4f Hist=%.4f Boll(20,2)=[%.4f %.4f %.4f] %%B=%.3f Width=%.4f OBV=%.2f OBVΔ10=%.2f",
		s.Close, s.RSI, s.MACD, s.MACDSignal, s.MACDHistogram,
		s.BollLower, s.BollMiddle, s.BollUpper, s.PercentB, s.BandWidth, s.OBV, s.OBVChange,
	)
}

// CandleTable renders the last n candles as a markdown table for prompts.
func CandleTable(candles []exchange.Candle, n int) string {
	if n > 0 && len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Time (UTC)", "Open", "High", "Low", "Close", "Volume"})
	for _, c := range candles {
		t.AppendRow(table.Row{
			c.Time.UTC().Format("2006-01-02 15:04"),
			trimFloat(c.Open), trimFloat(c.High), trimFloat(c.Low), trimFloat(c.Close), trimFloat(c.Volume),
		})
	}
	return t.RenderMarkdown()
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
