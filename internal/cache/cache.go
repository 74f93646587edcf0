package cache

import (
	"fmt"
	"time"

	"smartcal/internal/log"
)

// Cache is the read-through cache the HTTP facade keeps month data in.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// Purge drops every entry, e.g. when the session behind them ends.
	Purge()
	Size() int
}

// Cleaner is implemented by caches with expiring entries.
type Cleaner interface {
	CleanExpired() int
}

// MonthKey is the cache key of one month of data. monthIndex is 0-based.
func MonthKey(year, monthIndex int) string {
	return fmt.Sprintf("month:%04d-%02d", year, monthIndex+1)
}

// Janitor periodically evicts expired entries from its caches.
type Janitor struct {
	caches []Cleaner
	logger *log.Logger
	stop   chan struct{}
	done   chan struct{}
}

func NewJanitor(logger *log.Logger, caches ...Cleaner) *Janitor {
	if logger == nil {
		logger = log.Discard()
	}
	return &Janitor{
		caches: caches,
		logger: logger.WithComponent(log.ComponentCache),
	}
}

// Start begins cleaning every interval until Stop is called.
func (j *Janitor) Start(interval time.Duration) {
	j.stop = make(chan struct{})
	j.done = make(chan struct{})
	go j.run(interval)
}

func (j *Janitor) run(interval time.Duration) {
	defer close(j.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := j.Sweep(); n > 0 {
				j.logger.Debug("Evicted expired cache entries", "evicted", n)
			}
		case <-j.stop:
			return
		}
	}
}

// Sweep cleans every cache once and returns the number of evicted entries.
func (j *Janitor) Sweep() int {
	total := 0
	for _, c := range j.caches {
		total += c.CleanExpired()
	}
	return total
}

// Stop halts the cleaning goroutine and waits for it to exit.
func (j *Janitor) Stop() {
	if j.stop == nil {
		return
	}
	close(j.stop)
	<-j.done
	j.stop = nil
}
