// Package observer implements the progress observer and waiter (§4.F):
// a status goroutine that polls pool activity on a ticker (grounded on
// pgscv's schedule.go periodic-task pattern) and a blocking wait on
// each requested activity using a condition-variable predicate so
// spurious wakeups never produce an early return.
package observer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/robn/zvdev/internal/activity"
)

// maxRefreshRate bounds how often the status thread is allowed to call
// RefreshStats regardless of the caller's requested poll interval,
// guarding the pool layer against a refresh storm if a caller ever
// passes an unreasonably small interval (grounded on hashicorp/nomad's
// volumewatcher rate.Limiter throttle around its own cleanup loop).
const maxRefreshRate = 20 // Hz

// Presentation controls how the status thread renders its rows,
// mirroring the `wait` subcommand's `-H`/`-p`/`-T` flags (§6.1).
type Presentation struct {
	Scripted      bool // -H: no header, whitespace-separated
	ParsableExact bool // -p: exact byte counts, no human suffixes
	TimestampDate bool // -T d: prefix each line with a date
	TimestampUnix bool // -T u: prefix each line with a unix timestamp
}

// statusThread is the §4.F status goroutine's own cooperative shutdown
// primitive: sleeps via an absolute-deadline condition wait, and is
// told to stop by setting shouldExit under the same mutex and
// signaling the cond.
type statusThread struct {
	mu         sync.Mutex
	cond       *sync.Cond
	shouldExit bool
}

func newStatusThread() *statusThread {
	st := &statusThread{}
	st.cond = sync.NewCond(&st.mu)
	return st
}

func (s *statusThread) sleep(d time.Duration) {
	deadline := time.Now().Add(d)
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.shouldExit && time.Now().Before(deadline) {
		s.cond.Wait()
	}
}

func (s *statusThread) stop() {
	s.mu.Lock()
	s.shouldExit = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *statusThread) exiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldExit
}

// Wait implements wait(pool, set_of_activities, poll_interval,
// presentation) -> exit_status (§4.F). It blocks the calling goroutine
// until every kind in kinds has left its non-terminal state, or
// deadline passes (a zero deadline waits forever). If pollInterval > 0,
// a status row is printed to out on every tick while waiting.
//
// Returns exit status 0 on success, 1 if any wait failed (including
// timeout) or the status thread hit an unrecoverable error, matching
// the CLI's exit-code table (§6.1).
func Wait(pool *activity.Pool, kinds []activity.Kind, pollInterval time.Duration, pres Presentation, out io.Writer, deadline time.Time) int {
	st := newStatusThread()
	statusErr := make(chan error, 1)

	if pollInterval > 0 && out != nil {
		go runStatusThread(pool, kinds, pollInterval, pres, out, st, statusErr)
	}

	var firstErr error
	for _, kind := range kinds {
		if err := pool.WaitForActivity(kind, deadline); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	st.stop()

	if firstErr != nil {
		return 1
	}

	select {
	case err := <-statusErr:
		if err != nil {
			return 1
		}
	default:
	}
	return 0
}

// runStatusThread is the §4.F status goroutine body: on each tick it
// refreshes the pool's stats and prints a row, exiting with success (0)
// the moment the pool disappears, per "If the pool disappears between
// polls ... status thread exits with success 0".
func runStatusThread(pool *activity.Pool, kinds []activity.Kind, interval time.Duration, pres Presentation, out io.Writer, st *statusThread, result chan<- error) {
	limiter := rate.NewLimiter(rate.Limit(maxRefreshRate), 1)
	for {
		if st.exiting() {
			result <- nil
			return
		}

		if err := limiter.Wait(context.Background()); err != nil {
			result <- err
			return
		}

		missing, err := pool.RefreshStats()
		if err != nil {
			result <- err
			return
		}
		if missing {
			pool.MarkMissing()
			result <- nil
			return
		}

		printStatusRow(out, pool, kinds, pres)
		st.sleep(interval)
	}
}

func printStatusRow(out io.Writer, pool *activity.Pool, kinds []activity.Kind, pres Presentation) {
	prefix := ""
	now := time.Now()
	switch {
	case pres.TimestampUnix:
		prefix = fmt.Sprintf("%d ", now.Unix())
	case pres.TimestampDate:
		prefix = now.Format("2006-01-02T15:04:05 ")
	}

	for _, kind := range kinds {
		r := pool.Snapshot(kind)
		remaining := r.BytesRemaining()
		if pres.ParsableExact {
			fmt.Fprintf(out, "%s%s\t%s\t%d\n", prefix, pool.Name(), kind, remaining)
			continue
		}
		fmt.Fprintf(out, "%s%s: %s, %d bytes remaining\n", prefix, pool.Name(), kind, remaining)
	}
}
