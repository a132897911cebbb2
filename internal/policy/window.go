package policy

import (
	"fmt"
	"time"
)

// The checkers in this file are advisory: they evaluate and report, they never
// mutate anything. Each returns a pass flag plus diagnostics that the gate
// embeds verbatim in the attempt's audit log.

type WindowDiagnostics struct {
	LocalTime string `json:"localTime"`
	StartMin  int    `json:"startMin"`
	EndMin    int    `json:"endMin"`
	NowMin    int    `json:"nowMin"`
	Wraps     bool   `json:"wraps"`
	Exempt    bool   `json:"exempt,omitempty"`
}

// parseClock parses a local "HH:MM" string into minutes-of-day.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("bad clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	return h*60 + m, nil
}

// InSendWindow reports whether now (in loc) falls inside the tenant's allowed
// send window [start, end], both inclusive. A window with start > end wraps
// midnight: pass iff now >= start OR now <= end. Empty start and end disables
// the check.
func InSendWindow(now time.Time, loc *time.Location, start, end string) (bool, WindowDiagnostics, error) {
	local := now.In(loc)
	d := WindowDiagnostics{LocalTime: local.Format("15:04")}
	if start == "" && end == "" {
		return true, d, nil
	}

	startMin, err := parseClock(start)
	if err != nil {
		return false, d, err
	}
	endMin, err := parseClock(end)
	if err != nil {
		return false, d, err
	}

	d.StartMin = startMin
	d.EndMin = endMin
	d.NowMin = local.Hour()*60 + local.Minute()
	d.Wraps = startMin > endMin

	if d.Wraps {
		return d.NowMin >= startMin || d.NowMin <= endMin, d, nil
	}
	return d.NowMin >= startMin && d.NowMin <= endMin, d, nil
}

type CooldownDiagnostics struct {
	LastSentAt *time.Time `json:"lastSentAt,omitempty"`
	ElapsedSec int64      `json:"elapsedSec"`
	MinSec     int64      `json:"minSec"`
	Exempt     bool       `json:"exempt,omitempty"`
}

// CooldownElapsed reports whether enough time has passed since the lead was
// last messaged. A lead never messaged passes.
func CooldownElapsed(now time.Time, lastSentAt *time.Time, min time.Duration) (bool, CooldownDiagnostics) {
	d := CooldownDiagnostics{LastSentAt: lastSentAt, MinSec: int64(min.Seconds())}
	if lastSentAt == nil {
		return true, d
	}
	elapsed := now.Sub(*lastSentAt)
	d.ElapsedSec = int64(elapsed.Seconds())
	return elapsed >= min, d
}

type RegionCapDiagnostics struct {
	AreaCode    string `json:"areaCode"`
	Scrutinized bool   `json:"scrutinized"`
	Count       int    `json:"count"`
	Max         int    `json:"max"`
	Exempt      bool   `json:"exempt,omitempty"`
}

// UnderRegionCap checks the rolling per-lead cap for high-scrutiny area codes.
// caps maps area code -> max sends per trailing 24h; area codes absent from
// the map are not scrutinized and always pass.
func UnderRegionCap(areaCode string, recentCount int, caps map[string]int) (bool, RegionCapDiagnostics) {
	d := RegionCapDiagnostics{AreaCode: areaCode, Count: recentCount}
	max, ok := caps[areaCode]
	if !ok || areaCode == "" {
		return true, d
	}
	d.Scrutinized = true
	d.Max = max
	return recentCount < max, d
}

type UsageDiagnostics struct {
	DayCount  int `json:"dayCount"`
	DayMax    int `json:"dayMax"`
	WeekCount int `json:"weekCount"`
	WeekMax   int `json:"weekMax"`
}

// UnderSendCaps applies the coarser tenant day/week caps the cadence scheduler
// consults before drafting. A max of zero means uncapped. The returned reason
// is "daily_cap" or "weekly_cap" when blocked, "" otherwise.
func UnderSendCaps(dayCount, weekCount, dayMax, weekMax int) (bool, string, UsageDiagnostics) {
	d := UsageDiagnostics{DayCount: dayCount, DayMax: dayMax, WeekCount: weekCount, WeekMax: weekMax}
	if dayMax > 0 && dayCount >= dayMax {
		return false, "daily_cap", d
	}
	if weekMax > 0 && weekCount >= weekMax {
		return false, "weekly_cap", d
	}
	return true, "", d
}

// OnBlackoutDate reports whether the tenant-local calendar date of now is in
// the tenant's blackout list (dates formatted YYYY-MM-DD).
func OnBlackoutDate(now time.Time, loc *time.Location, blackout []string) (bool, string) {
	day := now.In(loc).Format("2006-01-02")
	for _, b := range blackout {
		if b == day {
			return true, day
		}
	}
	return false, day
}
