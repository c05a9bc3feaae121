// Package circuitbreaker wraps sony/gobreaker with the settings shared by
// outbound clients.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

const (
	DefaultFailures = 5
	DefaultTimeout  = 30 * time.Second
)

type Settings struct {
	Name string
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	// Timeout is how long the breaker stays open before letting a probe through.
	Timeout time.Duration
	// IsSuccessful decides which errors count as failures. Nil counts every error.
	IsSuccessful func(err error) bool
	Log          logrus.FieldLogger
}

// New builds a breaker for calls returning T.
func New[T any](s Settings) *gobreaker.CircuitBreaker[T] {
	failures := s.Failures
	if failures == 0 {
		failures = DefaultFailures
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	st := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: s.IsSuccessful,
	}
	if s.Log != nil {
		log := s.Log
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		}
	}
	return gobreaker.NewCircuitBreaker[T](st)
}

// IsOpen reports whether err was produced by a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
