package service

import (
	"time"

	"github.com/jessson/mev-dashboard/internal/domain/model"
)

// DayLayout is the calendar-day key used by the tag table.
const DayLayout = "2006-01-02"

// Window is a half-open [Start, End) range for a Period.
type Window struct {
	Period model.Period
	Start  time.Time
	End    time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Calendar computes wall-clock window boundaries in a fixed location.
// Weeks start on Sunday.
type Calendar struct {
	loc *time.Location
}

func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.Local
	}
	return Calendar{loc: loc}
}

func (c Calendar) Location() *time.Location { return c.loc }

// StartOfDay returns local midnight of the day containing t.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// Day formats the local calendar day of t.
func (c Calendar) Day(t time.Time) string {
	return t.In(c.loc).Format(DayLayout)
}

func (c Calendar) startOfWeek(t time.Time) time.Time {
	day := c.StartOfDay(t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

func (c Calendar) startOfMonth(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, c.loc)
}

// Windows returns the six windows relative to now, in model.Periods order.
func (c Calendar) Windows(now time.Time) []Window {
	today := c.StartOfDay(now)
	week := c.startOfWeek(now)
	month := c.startOfMonth(now)

	return []Window{
		{Period: model.PeriodToday, Start: today, End: today.AddDate(0, 0, 1)},
		{Period: model.PeriodYesterday, Start: today.AddDate(0, 0, -1), End: today},
		{Period: model.PeriodThisWeek, Start: week, End: week.AddDate(0, 0, 7)},
		{Period: model.PeriodLastWeek, Start: week.AddDate(0, 0, -7), End: week},
		{Period: model.PeriodThisMonth, Start: month, End: month.AddDate(0, 1, 0)},
		{Period: model.PeriodLastMonth, Start: month.AddDate(0, -1, 0), End: month},
	}
}

// LiveWindows returns the three windows the incremental path may touch.
func (c Calendar) LiveWindows(now time.Time) []Window {
	all := c.Windows(now)
	return []Window{all[0], all[2], all[4]}
}

// NextMidnight returns the first local midnight strictly after now.
func (c Calendar) NextMidnight(now time.Time) time.Time {
	return c.StartOfDay(now).AddDate(0, 0, 1)
}

// NextHour returns the first top of the hour strictly after now.
func (c Calendar) NextHour(now time.Time) time.Time {
	t := now.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, c.loc)
}

// NextDailyAt returns the next local occurrence of hour:00 strictly after now.
func (c Calendar) NextDailyAt(now time.Time, hour int) time.Time {
	day := c.StartOfDay(now)
	at := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, c.loc)
	if !at.After(now) {
		at = time.Date(day.Year(), day.Month(), day.Day()+1, hour, 0, 0, 0, c.loc)
	}
	return at
}
