package trading

import "time"

// MarketHours models the daily trading cutoff. Trades cannot be opened at
// or after the cutoff; the scheduler force-closes remaining open trades
// once it passes.
type MarketHours struct {
	CutoffHour   int
	CutoffMinute int
	Location     *time.Location
}

// DefaultMarketHours is the NSE options cutoff: 15:30 IST.
func DefaultMarketHours() MarketHours {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+30*60)
	}
	return MarketHours{CutoffHour: 15, CutoffMinute: 30, Location: loc}
}

// Open reports whether the market is open at the given instant.
func (h MarketHours) Open(now time.Time) bool {
	local := now.In(h.Location)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(),
		h.CutoffHour, h.CutoffMinute, 0, 0, h.Location)
	return local.Before(cutoff)
}
