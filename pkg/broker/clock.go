package broker

import "time"

// Timer is the part of *time.Timer the reconnect loop needs.
type Timer interface {
	Stop() bool
}

// Clock schedules reconnect attempts. Tests swap it for a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
