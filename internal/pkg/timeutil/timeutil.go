package timeutil

import "time"

func NowUnix() int64 {
	return time.Now().Unix()
}

// DaysAgoUnix returns the unix time n days before now.
func DaysAgoUnix(n int) int64 {
	return time.Now().AddDate(0, 0, -n).Unix()
}
