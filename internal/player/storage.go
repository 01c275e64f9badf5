package player

import "context"

// Resource is a scoped handle on a track's audio. Release must be
// idempotent.
type Resource interface {
	Path() string
	Release()
}

type Storage interface {
	// GetPlayableResource returns ErrResourceMissing when the audio is gone.
	GetPlayableResource(ctx context.Context, trackID int64) (Resource, error)
	RecordPlayEvent(ctx context.Context, trackID int64) error
}
