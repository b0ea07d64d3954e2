package pipeline

import "fmt"

// SegmentationError reports input that cannot be turned into chunks.
type SegmentationError struct {
	Reason string
	Err    error
}

func (e *SegmentationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("segmentation: %s: %v", e.Reason, e.Err)
	}
	return "segmentation: " + e.Reason
}

func (e *SegmentationError) Unwrap() error { return e.Err }

// SynthesisError reports a chunk that failed on every backend.
type SynthesisError struct {
	Index int
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize chunk %d: %v", e.Index, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// MergeError reports a reassembly failure.
type MergeError struct {
	Err error
}

func (e *MergeError) Error() string { return "merge: " + e.Err.Error() }

func (e *MergeError) Unwrap() error { return e.Err }

// PlaybackError is non-fatal; the audio file is still produced.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string { return "playback: " + e.Err.Error() }

func (e *PlaybackError) Unwrap() error { return e.Err }
