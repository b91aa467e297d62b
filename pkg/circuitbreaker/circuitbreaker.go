package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

type Settings struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// Timeout is how long the breaker stays open before letting a probe through.
	Timeout time.Duration
	// OnStateChange is called with the lock released.
	OnStateChange func(name string, from, to State)
}

type CircuitBreaker struct {
	settings    Settings
	failures    int
	lastFailure time.Time
	state       State
	probing     bool
	now         func() time.Time
	mu          sync.Mutex
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = 5
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 5 * time.Second
	}
	return &CircuitBreaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn unless the breaker is open. While half-open only one probe
// runs at a time, other callers get ErrOpen.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	var from State
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) <= cb.settings.Timeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		from = cb.setState(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.probing = true
	}
	cb.mu.Unlock()

	cb.notify(from, StateHalfOpen)
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	var from, to State
	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.settings.MaxFailures {
			from, to = cb.setState(StateOpen), StateOpen
		}
	} else {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			from, to = cb.setState(StateClosed), StateClosed
		}
	}
	cb.probing = false
	cb.mu.Unlock()

	cb.notify(from, to)
}

// setState returns the previous state, or "" when nothing changed.
func (cb *CircuitBreaker) setState(to State) State {
	from := cb.state
	if from == to {
		return ""
	}
	cb.state = to
	return from
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == "" || cb.settings.OnStateChange == nil {
		return
	}
	cb.settings.OnStateChange(cb.settings.Name, from, to)
}
