package ble

import "time"

// Timer is a one-shot timer that can be stopped.
type Timer interface {
	Stop() bool
}

// Clock creates one-shot timers. Tests replace it with a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock returns a Clock backed by time.AfterFunc.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
