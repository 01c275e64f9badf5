// Package storage resolves library tracks to audio on the local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"deck/internal/library"
	"deck/internal/player"

	"go.uber.org/zap"
)

type TrackGetter interface {
	Get(ctx context.Context, id int64) (library.Track, error)
}

type StartRecorder interface {
	RecordStart(ctx context.Context, trackID int64) error
}

// Local serves tracks straight from the paths the scanner indexed.
type Local struct {
	tracks TrackGetter
	plays  StartRecorder
	logger *zap.Logger
}

var _ player.Storage = (*Local)(nil)

func NewLocal(tracks TrackGetter, plays StartRecorder, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{tracks: tracks, plays: plays, logger: logger.Named("storage")}
}

// GetPlayableResource checks that the track's file can be opened. Outputs
// open the path themselves, so a file that disappears after the check fails
// at output open and surfaces as a load failure.
func (l *Local) GetPlayableResource(ctx context.Context, trackID int64) (player.Resource, error) {
	track, err := l.tracks.Get(ctx, trackID)
	if err != nil {
		if errors.Is(err, library.ErrTrackNotFound) {
			return nil, fmt.Errorf("%w: track %d: %v", player.ErrResourceMissing, trackID, err)
		}
		return nil, fmt.Errorf("get track %d: %w", trackID, err)
	}
	if track.Removed {
		return nil, fmt.Errorf("%w: track %d is removed", player.ErrResourceMissing, trackID)
	}

	file, err := os.Open(track.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			l.logger.Debug("track file unreachable", zap.Int64("trackId", trackID), zap.String("path", track.Path), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", player.ErrResourceMissing, err)
		}
		return nil, fmt.Errorf("open track %d: %w", trackID, err)
	}

	info, err := file.Stat()
	if closeErr := file.Close(); closeErr != nil {
		l.logger.Debug("close track file", zap.String("path", track.Path), zap.Error(closeErr))
	}
	if err != nil {
		return nil, fmt.Errorf("stat track %d: %w", trackID, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", player.ErrResourceMissing, track.Path)
	}

	return fileResource{path: track.Path}, nil
}

func (l *Local) RecordPlayEvent(ctx context.Context, trackID int64) error {
	if l.plays == nil {
		return nil
	}
	return l.plays.RecordStart(ctx, trackID)
}

// fileResource is a path that was readable when it was resolved. It holds
// nothing open, so Release has no work to do.
type fileResource struct {
	path string
}

func (r fileResource) Path() string {
	return r.path
}

func (r fileResource) Release() {}
