package schedule

import "time"

// defaultWeekday is used when a weekly config omits day_of_week.
const defaultWeekday = time.Monday

// NextRun computes the next firing instant for cfg strictly after now.
// All calendar arithmetic happens in the config's timezone; the result
// is an absolute instant carrying that location. The function is pure
// and total: a config with an unknown type (possible only for rows
// written before validation existed) yields now+1h so a bad definition
// degrades to a slow poll instead of a hot loop.
func NextRun(cfg Config, now time.Time) time.Time {
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	switch cfg.Type {
	case TypeDaily:
		cand := time.Date(local.Year(), local.Month(), local.Day(), cfg.Hour, 0, 0, 0, loc)
		if !cand.After(now) {
			cand = cand.AddDate(0, 0, 1)
		}
		return cand

	case TypeWeekly:
		target := defaultWeekday
		if cfg.DayOfWeek != nil {
			target = time.Weekday(*cfg.DayOfWeek)
		}
		ahead := (int(target) - int(local.Weekday()) + 7) % 7
		cand := time.Date(local.Year(), local.Month(), local.Day()+ahead, cfg.Hour, 0, 0, 0, loc)
		if !cand.After(now) {
			cand = cand.AddDate(0, 0, 7)
		}
		return cand

	case TypeMonthly:
		day := 1
		if cfg.DayOfMonth != nil {
			day = *cfg.DayOfMonth
		}
		cand := monthlyAt(local.Year(), local.Month(), day, cfg.Hour, loc)
		if !cand.After(now) {
			cand = monthlyAt(local.Year(), local.Month()+1, day, cfg.Hour, loc)
		}
		return cand

	case TypeQuarterly:
		// First day of the current quarter, then the next one if that
		// instant has already passed.
		startMonth := time.Month(((int(local.Month())-1)/3)*3 + 1)
		cand := time.Date(local.Year(), startMonth, 1, cfg.Hour, 0, 0, 0, loc)
		if !cand.After(now) {
			cand = time.Date(local.Year(), startMonth+3, 1, cfg.Hour, 0, 0, 0, loc)
		}
		return cand

	default:
		return now.Add(time.Hour)
	}
}

// monthlyAt builds the firing instant for a given month, clamping the
// configured day to the month's last day (31st in April fires on the
// 30th, 31st in February on the 28th or 29th).
func monthlyAt(year int, month time.Month, day, hour int, loc *time.Location) time.Time {
	// Day zero of the following month is this month's last day.
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	// time.Date normalizes month overflow, so month may arrive as 13.
	norm := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return time.Date(norm.Year(), norm.Month(), day, hour, 0, 0, 0, loc)
}
