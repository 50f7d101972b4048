package utils

import (
	"time"

	logger "github.com/sirupsen/logrus"
)

// ResetTime truncates t in UTC to the start of its minute, hour or day.
// Pass "minute" to reset seconds to zero.
// Pass "day" for the start of the UTC calendar day.
func ResetTime(t time.Time, granularity string) time.Time {
	t = t.UTC()
	switch granularity {
	case "minute":
		return t.Truncate(time.Minute) // Resets seconds to zero
	case "hour":
		return t.Truncate(time.Hour) // Resets minutes and seconds to zero
	case "day":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		logger.WithField("granularity", granularity).Warn("Invalid granularity, use 'minute', 'hour' or 'day'")
		return t
	}
}
