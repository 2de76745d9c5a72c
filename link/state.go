package link

import (
	"time"

	"github.com/sirupsen/logrus"
)

// State is the lease state of a link.
type State int32

const (
	Idle State = iota
	InUse
	Broken
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InUse:
		return "in-use"
	case Broken:
		return "broken"
	}
	return "unknown"
}

const (
	DefaultCallTimeout = 10 * time.Second
	DefaultPingTimeout = time.Second

	defaultSweepInterval = 250 * time.Millisecond
	outboxSize           = 64
)

type Option func(*Link)

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Link) {
		if log != nil {
			l.log = log
		}
	}
}

// WithCallTimeout sets the window used by requests that carry no timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.callTimeout = d
		}
	}
}

// WithSweepInterval sets how often abandoned pending calls are expired.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.sweepEvery = d
		}
	}
}
