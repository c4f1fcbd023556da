package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Date is a calendar day without time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	parsed, ok := NormalizeAbsoluteDate(text)
	if !ok {
		return fmt.Errorf("invalid date %q", text)
	}
	*d = parsed
	return nil
}

var relativeRegex = regexp.MustCompile(`^(\d+)\s*(시간|분|일)\s*전$`)

// maxRelativeDays bounds how far back a relative date may reach, larger
// offsets would overflow time.Duration and wrap into the future.
const maxRelativeDays = 366 * 100

// NormalizeRelativeDate handles "N시간 전", "N분 전" and "N일 전".
func NormalizeRelativeDate(raw string, now time.Time) (Date, bool) {
	groups := relativeRegex.FindStringSubmatch(strings.TrimSpace(raw))
	if groups == nil {
		return Date{}, false
	}
	n, err := strconv.Atoi(groups[1])
	if err != nil {
		return Date{}, false
	}

	var then time.Time
	switch groups[2] {
	case "시간":
		if n > maxRelativeDays*24 {
			return Date{}, false
		}
		then = now.Add(-time.Duration(n) * time.Hour)
	case "분":
		if n > maxRelativeDays*24*60 {
			return Date{}, false
		}
		then = now.Add(-time.Duration(n) * time.Minute)
	default:
		if n > maxRelativeDays {
			return Date{}, false
		}
		then = now.AddDate(0, 0, -n)
	}
	return DateOf(then), true
}

// NormalizeAbsoluteDate accepts "2024. 3. 5. 14:22", "2024.03.05." and
// "2024-03-05" like forms, anything after the day is ignored.
func NormalizeAbsoluteDate(raw string) (Date, bool) {
	compact := strings.Join(strings.Fields(raw), "")
	compact = strings.ReplaceAll(compact, ".", "-")

	parts := strings.Split(compact, "-")
	if len(parts) < 3 {
		return Date{}, false
	}
	if len(parts[0]) != 4 || parts[1] == "" || parts[2] == "" || len(parts[1]) > 2 || len(parts[2]) > 2 {
		return Date{}, false
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return Date{}, false
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return Date{}, false
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return Date{}, false
	}

	// time.Date normalizes overflow (feb 30 -> mar 1), a changed day means invalid input
	normalized := DateOf(time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC))
	if normalized != (Date{Year: year, Month: time.Month(month), Day: day}) {
		return Date{}, false
	}
	return normalized, true
}

// NormalizeDate tries the relative form first and falls back to the absolute one.
func NormalizeDate(raw string, now time.Time) (Date, bool) {
	if date, ok := NormalizeRelativeDate(raw, now); ok {
		return date, true
	}
	return NormalizeAbsoluteDate(raw)
}
