package log

import "time"

// DurationFormat converts a time.Duration field into a loggable value.
type DurationFormat func(time.Duration) interface{}

// DurationFormatString renders the duration via its default String method.
func DurationFormatString(d time.Duration) interface{} {
	return d.String()
}

// DurationFormatSeconds renders the duration as fractional seconds, which
// is what the scheduler's own timer-period and quantum fields are already
// expressed in, making log output directly comparable to config values.
func DurationFormatSeconds(d time.Duration) interface{} {
	return d.Seconds()
}
