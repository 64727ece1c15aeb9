package protocol

import "time"

// unixTime converts a wire CreatedAt seconds value back to a time.Time in
// UTC, matching the wall-clock precision the wire format carries.
func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
