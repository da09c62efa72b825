package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// MsToUs converts milliseconds to microseconds.
func MsToUs(ms uint16) uint32 { return uint32(ms) * 1000 }

// MsToDuration converts milliseconds to a Duration. Zero is coerced to 1 ms.
func MsToDuration(ms uint16) time.Duration {
	if ms == 0 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}
