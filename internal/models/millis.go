package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseMillis parses an epoch-millisecond timestamp as used by the tracker's
// REST documents.
func ParseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch milliseconds %q", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// After reports whether t is after min, treating an absent min as unbounded.
// t is compared at whole seconds, the resolution of feed publish dates and so
// of saved watermarks: an edit at 16:10:00.500 is not after a 16:10:00 mark.
func After(t time.Time, min *time.Time) bool {
	return min == nil || t.Truncate(time.Second).After(*min)
}
