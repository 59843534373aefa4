package session

import "sync"

type refreshResult struct {
	token string
	err   error
}

// refreshFlight is the refresh critical section: a mutex-guarded in-flight
// flag plus the FIFO list of continuations waiting for its outcome.
type refreshFlight struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []func(refreshResult)
}

// join makes the caller the leader when no refresh is running. Otherwise the
// waiter is queued and invoked once with the leader's outcome.
func (f *refreshFlight) join(waiter func(refreshResult)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight {
		f.waiters = append(f.waiters, waiter)
		return false
	}

	f.inFlight = true
	return true
}

// settle clears the flag and drains the queue in submission order. A refresh
// requested after settle starts a new flight.
func (f *refreshFlight) settle(res refreshResult) {
	f.mu.Lock()
	waiters := f.waiters
	f.waiters = nil
	f.inFlight = false
	f.mu.Unlock()

	for _, waiter := range waiters {
		waiter(res)
	}
}

func (f *refreshFlight) active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

func (f *refreshFlight) queued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}
