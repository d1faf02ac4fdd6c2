package sessions

import "time"

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc arranges for f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// refreshDelay returns how long to wait before refreshing a session expiring
// at expiresAt (epoch seconds). Past wake times collapse to zero.
func refreshDelay(expiresAt int64, now time.Time) time.Duration {
	wake := expiresAt - int64(RefreshBuffer/time.Second)
	d := wake - now.Unix()
	if d < 0 {
		return 0
	}
	return time.Duration(d) * time.Second
}
