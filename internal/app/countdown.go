package app

import (
	"fmt"
	"sync"
	"time"
)

// Clock schedules the countdown tick. Tests replace it with a manual clock.
type Clock interface {
	Every(d time.Duration, fn func()) (stop func())
}

type tickerClock struct{}

// SystemClock ticks on a time.Ticker.
func SystemClock() Clock {
	return tickerClock{}
}

func (tickerClock) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// FormatRemaining renders seconds as MM:SS, or --:-- when there is no countdown.
func FormatRemaining(secs *int) string {
	if secs == nil {
		return "--:--"
	}
	return fmt.Sprintf("%02d:%02d", *secs/60, *secs%60)
}
