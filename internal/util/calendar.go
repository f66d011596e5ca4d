package util

import (
	"context"
	"time"
	_ "time/tzdata" // Embedded zone data so the calendar works on minimal images.

	"papertrade/internal/domain"
)

// session is a continuous trading window expressed as minutes after local
// midnight.
type session struct {
	open, close int
}

var marketSessions = map[domain.Market]struct {
	zone     string
	sessions []session
}{
	// NYSE regular hours 9:30-16:00 ET.
	domain.MarketUS: {"America/New_York", []session{{9*60 + 30, 16 * 60}}},
	// SSE 9:30-11:30 and 13:00-15:00 CST.
	domain.MarketCN: {"Asia/Shanghai", []session{{9*60 + 30, 11*60 + 30}, {13 * 60, 15 * 60}}},
}

// TradingCalendar provides market-hours awareness for a specific market. It
// knows weekday regular sessions only; exchange holidays are not modelled.
type TradingCalendar struct {
	market   domain.Market
	loc      *time.Location
	sessions []session
	now      func() time.Time
}

// NewTradingCalendar creates a TradingCalendar for the given market. Unknown
// markets fall back to US hours.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	def, ok := marketSessions[market]
	if !ok {
		market = domain.MarketUS
		def = marketSessions[market]
	}
	loc, err := time.LoadLocation(def.zone)
	if err != nil {
		loc = time.UTC
	}
	return &TradingCalendar{
		market:   market,
		loc:      loc,
		sessions: def.sessions,
		now:      time.Now,
	}
}

// Market returns the market this calendar describes.
func (tc *TradingCalendar) Market() domain.Market {
	return tc.market
}

// IsMarketOpen returns whether the market is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	if !isWeekday(local) {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	for _, s := range tc.sessions {
		if minute >= s.open && minute < s.close {
			return true
		}
	}
	return false
}

// IsOpen reports whether the market is open now. The symbol is ignored: all
// symbols of a market share its hours.
func (tc *TradingCalendar) IsOpen(_ context.Context, _ string) (bool, error) {
	return tc.IsMarketOpen(tc.now()), nil
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	return tc.next(t, func(s session) int { return s.open }, true)
}

// NextClose returns the next market close time after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	return tc.next(t, func(s session) int { return s.close }, false)
}

func (tc *TradingCalendar) next(t time.Time, edge func(session) int, inclusive bool) time.Time {
	local := t.In(tc.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.loc)
	for i := 0; i < 8; i++ {
		d := day.AddDate(0, 0, i)
		if !isWeekday(d) {
			continue
		}
		for _, s := range tc.sessions {
			m := edge(s)
			at := time.Date(d.Year(), d.Month(), d.Day(), m/60, m%60, 0, 0, tc.loc)
			if at.After(local) || (inclusive && at.Equal(local)) {
				return at
			}
		}
	}
	return time.Time{}
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
