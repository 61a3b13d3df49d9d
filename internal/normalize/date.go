package normalize

import (
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// ParseOFXDate derives a calendar date from an OFX timestamp such as
// "20240115120000.000[-5:EST]". Fewer than eight leading digits, or digits that
// do not form a real date, yield nil.
func ParseOFXDate(s string) *civil.Date {
	s = strings.TrimSpace(s)
	if len(s) < 8 {
		return nil
	}
	for _, c := range s[:8] {
		if c < '0' || c > '9' {
			return nil
		}
	}
	year, _ := strconv.Atoi(s[0:4])
	month, _ := strconv.Atoi(s[4:6])
	day, _ := strconv.Atoi(s[6:8])
	return validDate(year, month, day)
}

// ParseBookDate derives a calendar date from an XML book timestamp such as
// "2024-01-15 10:59:00 +0000".
func ParseBookDate(s string) *civil.Date {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return nil
	}
	d, err := civil.ParseDate(s[:10])
	if err != nil || !d.IsValid() {
		return nil
	}
	return &d
}

func validDate(year, month, day int) *civil.Date {
	d := civil.Date{Year: year, Month: time.Month(month), Day: day}
	if !d.IsValid() {
		return nil
	}
	return &d
}
