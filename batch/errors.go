package batch

import (
	"github.com/pkg/errors"
)

// Errors returned by the streams. They are wrapped with context, use errors.Is to test for them.
var (
	// ErrNotStarted is returned when minibatches are requested before StartEpoch.
	ErrNotStarted = errors.New("StartEpoch must be called before reading minibatches")

	// ErrResumeMidSentence is returned when packing would resume in the middle of a sentence.
	ErrResumeMidSentence = errors.New("packing must start at the beginning of the sentences")

	// ErrCapacityTooSmall is returned when the longest scheduled sentence does not fit the minibatch size.
	ErrCapacityTooSmall = errors.New("minibatch size too small for the longest scheduled sentence")

	// ErrBoundaryMismatch is returned when per-slot boundary records don't match the scheduled set.
	ErrBoundaryMismatch = errors.New("sentence boundary records don't match the scheduled sentences")

	// ErrOverflow is returned when more samples were packed than the minibatch can hold.
	ErrOverflow = errors.New("packed samples exceed minibatch capacity")

	// ErrBufferNotFound is returned when a required named buffer is missing.
	ErrBufferNotFound = errors.New("buffer not found")

	// ErrInconsistentFeature is returned when a padding id shows up outside of a padded position.
	ErrInconsistentFeature = errors.New("feature id out of range at a labeled position")

	// ErrIncompleteSlot is returned by DataEnd when a scheduled sentence was never fully packed.
	ErrIncompleteSlot = errors.New("sentence end not reached for a scheduled slot")

	// ErrModeMismatch is returned when the label mode doesn't match the label vocabulary.
	ErrModeMismatch = errors.New("label mode doesn't match the label vocabulary")
)
