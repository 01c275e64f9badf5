package player

import (
	"context"
	"errors"
	"fmt"

	"deck/internal/library"

	"go.uber.org/zap"
)

type LoadState string

const (
	LoadIdle    LoadState = "idle"
	LoadOpening LoadState = "opening"
	LoadReady   LoadState = "ready"
	LoadFailed  LoadState = "failed"
)

// LoadResult is what a storage lookup hands back to the owning channel.
type LoadResult struct {
	Token    uint64
	Track    library.Track
	Resource Resource
	Err      error
}

// Loader runs the per-channel load state machine. Only the storage lookup
// runs off the channel goroutine; every other method must be called from
// the channel goroutine.
type Loader struct {
	storage Storage
	output  Output
	logger  *zap.Logger

	state    LoadState
	token    uint64
	cancel   context.CancelFunc
	resource Resource
	opened   bool
	err      error
}

func NewLoader(storage Storage, output Output, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		storage: storage,
		output:  output,
		logger:  logger,
		state:   LoadIdle,
	}
}

func (l *Loader) State() LoadState {
	return l.state
}

func (l *Loader) Err() error {
	return l.err
}

func (l *Loader) Token() uint64 {
	return l.token
}

// Load supersedes any previous load and starts fetching track. deliver is
// called exactly once, on a separate goroutine, with the lookup result; the
// channel must pass it back to Complete.
func (l *Loader) Load(track library.Track, deliver func(LoadResult)) uint64 {
	l.Release()

	l.token++
	token := l.token
	l.state = LoadOpening
	l.err = nil

	if track.Removed {
		go deliver(LoadResult{Token: token, Track: track, Err: ErrResourceMissing})
		return token
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	go func() {
		resource, err := l.storage.GetPlayableResource(ctx, track.ID)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		deliver(LoadResult{Token: token, Track: track, Resource: resource, Err: err})
	}()

	return token
}

// Complete applies a delivered result. Stale results have their resource
// released and report false with a nil error.
func (l *Loader) Complete(result LoadResult) (bool, error) {
	if result.Token != l.token || l.state != LoadOpening {
		if result.Resource != nil {
			result.Resource.Release()
		}
		return false, nil
	}

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}

	if result.Err != nil {
		if result.Resource != nil {
			result.Resource.Release()
		}
		return true, l.fail(result.Track, translateLoadError(result.Err))
	}

	if err := l.output.Open(result.Resource.Path(), result.Track.Playback.StartTime()); err != nil {
		result.Resource.Release()
		return true, l.fail(result.Track, fmt.Errorf("%w: open %s: %v", ErrLoadFailed, result.Resource.Path(), err))
	}

	l.resource = result.Resource
	l.opened = true
	l.state = LoadReady
	return true, nil
}

func (l *Loader) fail(track library.Track, err error) error {
	l.state = LoadFailed
	l.err = err

	fields := []zap.Field{zap.Int64("trackId", track.ID), zap.Error(err)}
	if errors.Is(err, ErrResourceMissing) {
		l.logger.Debug("track resource missing", fields...)
	} else {
		l.logger.Warn("track load failed", fields...)
	}
	return err
}

// Release cancels any pending lookup, stops the output and releases the held
// resource. It is safe to call in any state, any number of times.
func (l *Loader) Release() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}

	if l.opened {
		if err := l.output.Stop(); err != nil {
			l.logger.Debug("stop output", zap.Error(err))
		}
		l.opened = false
	}

	if l.resource != nil {
		l.resource.Release()
		l.resource = nil
	}

	l.state = LoadIdle
	l.err = nil
}

func translateLoadError(err error) error {
	switch {
	case errors.Is(err, ErrResourceMissing):
		return err
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: cancelled", ErrLoadFailed)
	default:
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
}
