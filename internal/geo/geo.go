package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	DefaultTimeout = 15 * time.Second
	// MinReasonLength is the shortest justification the server accepts.
	MinReasonLength = 3

	justificationPrompt = "GPS indisponível. Justifique a ausência de localização:"
)

var (
	ErrUnavailable = errors.New("geolocation unavailable")
	// ErrDeclined means no usable justification was given; the action is
	// aborted and nothing is queued.
	ErrDeclined = errors.New("justification declined")
)

// Position is either a coordinate pair or a reason for not having one.
type Position struct {
	Lat         *float64
	Lng         *float64
	NoGpsReason *string
}

func (p Position) HasGPS() bool {
	return p.Lat != nil && p.Lng != nil
}

type Locator interface {
	Locate(ctx context.Context) (lat, lng float64, err error)
}

// Justifier asks the user why no position is available. Implementations
// return ErrDeclined, or ctx.Err() on cancellation, when the user backs out.
type Justifier interface {
	Justify(ctx context.Context, prompt string) (string, error)
}

type LocatorFunc func(ctx context.Context) (float64, float64, error)

func (f LocatorFunc) Locate(ctx context.Context) (float64, float64, error) { return f(ctx) }

type JustifierFunc func(ctx context.Context, prompt string) (string, error)

func (f JustifierFunc) Justify(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Fixed always reports the same coordinates.
func Fixed(lat, lng float64) Locator {
	return LocatorFunc(func(context.Context) (float64, float64, error) { return lat, lng, nil })
}

// Unavailable is a locator for devices without a position source.
var Unavailable Locator = LocatorFunc(func(context.Context) (float64, float64, error) {
	return 0, 0, ErrUnavailable
})

// Reason answers every prompt with a reason supplied up front. An empty
// reason declines.
type Reason string

func (r Reason) Justify(context.Context, string) (string, error) {
	if strings.TrimSpace(string(r)) == "" {
		return "", ErrDeclined
	}
	return string(r), nil
}

// Acquirer obtains a position with a hard timeout and falls back to a
// justification when the locator fails.
type Acquirer struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewAcquirer(timeout time.Duration, logger *zap.Logger) *Acquirer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Acquirer{timeout: timeout, logger: logger}
}

func (a *Acquirer) Acquire(ctx context.Context, locator Locator, justifier Justifier) (Position, error) {
	if locator == nil {
		locator = Unavailable
	}

	lctx, cancel := context.WithTimeout(ctx, a.timeout)
	lat, lng, err := locator.Locate(lctx)
	cancel()
	if err == nil {
		return Position{Lat: &lat, Lng: &lng}, nil
	}
	if ctx.Err() != nil {
		return Position{}, ctx.Err()
	}

	a.logger.Info("Geolocation failed, asking for justification", zap.Error(err))

	if justifier == nil {
		return Position{}, ErrDeclined
	}

	reason, err := justifier.Justify(ctx, justificationPrompt)
	if err != nil {
		if ctx.Err() != nil {
			return Position{}, ctx.Err()
		}
		return Position{}, fmt.Errorf("%w: %v", ErrDeclined, err)
	}

	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < MinReasonLength {
		return Position{}, fmt.Errorf("%w: reason must have at least %d characters", ErrDeclined, MinReasonLength)
	}
	return Position{NoGpsReason: &reason}, nil
}
