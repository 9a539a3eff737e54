// Package calendar answers business-day questions for extraction windows.
package calendar

import (
	"time"
)

const (
	dateLayout = "2006-01-02"
	// maxAdvanceDays bounds NextNonHolidayRange so a corrupt table cannot loop forever.
	maxAdvanceDays = 50
	firstYear      = 2020
	lastYear       = 2035
)

var holidays = buildHolidayTable(firstYear, lastYear)

// IsWeekendOrHoliday reports whether date falls on Saturday, Sunday or a national holiday.
func IsWeekendOrHoliday(date time.Time) bool {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	return IsHoliday(date)
}

// IsHoliday reports whether the calendar date of t is in the holiday table.
func IsHoliday(t time.Time) bool {
	_, ok := holidays[t.Format(dateLayout)]
	return ok
}

// HolidayName returns the holiday label for t, or "" when it is a regular day.
func HolidayName(t time.Time) string {
	return holidays[t.Format(dateLayout)]
}

// NextNonHolidayRange walks forward from date until a business day is found and
// returns [start of date, end of the resolved day]. The walk stops after
// maxAdvanceDays and returns whatever day it reached.
func NextNonHolidayRange(date time.Time) (time.Time, time.Time) {
	start := StartOfDay(date)
	resolved := start
	for i := 0; i < maxAdvanceDays && IsWeekendOrHoliday(resolved); i++ {
		resolved = resolved.AddDate(0, 0, 1)
	}
	return start, EndOfDay(resolved)
}

// StartOfDay returns 00:00:00 of t in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59.999 of t in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// StartOfHour truncates t to the hour in t's location.
func StartOfHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), 0, 0, 0, t.Location())
}

// EndOfHour returns hh:59:59.999 of t in t's location.
func EndOfHour(t time.Time) time.Time {
	return StartOfHour(t).Add(time.Hour - time.Millisecond)
}

func buildHolidayTable(from, to int) map[string]string {
	table := make(map[string]string, (to-from+1)*13)
	add := func(t time.Time, name string) {
		table[t.Format(dateLayout)] = name
	}
	for year := from; year <= to; year++ {
		fixed := func(m time.Month, d int) time.Time {
			return time.Date(year, m, d, 0, 0, 0, 0, time.UTC)
		}
		add(fixed(time.January, 1), "Confraternização Universal")
		add(fixed(time.April, 21), "Tiradentes")
		add(fixed(time.May, 1), "Dia do Trabalho")
		add(fixed(time.September, 7), "Independência do Brasil")
		add(fixed(time.October, 12), "Nossa Senhora Aparecida")
		add(fixed(time.November, 2), "Finados")
		add(fixed(time.November, 15), "Proclamação da República")
		if year >= 2024 {
			add(fixed(time.November, 20), "Dia Nacional de Zumbi e da Consciência Negra")
		}
		add(fixed(time.December, 25), "Natal")

		easter := easterSunday(year)
		add(easter.AddDate(0, 0, -48), "Carnaval")
		add(easter.AddDate(0, 0, -47), "Carnaval")
		add(easter.AddDate(0, 0, -2), "Sexta-feira Santa")
		add(easter.AddDate(0, 0, 60), "Corpus Christi")
	}
	return table
}

// easterSunday uses the anonymous Gregorian algorithm.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
