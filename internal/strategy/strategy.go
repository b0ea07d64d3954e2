// Package strategy decides between a single synthesis call and chunked
// parallel synthesis based on text length.
package strategy

import (
	"fmt"
	"runtime"

	"github.com/loqalabs/loqa-narrate/internal/segment"
)

type Mode int

const (
	Direct Mode = iota
	Chunked
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Chunked:
		return "chunked"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

const (
	directThreshold = 100
	smallThreshold  = 500
	mediumThreshold = 2000
	workerCap       = 32
)

type Options struct {
	// ChunkSeconds and Concurrency override the heuristic when positive.
	ChunkSeconds int
	Concurrency  int
	MaxWorkers   int
	Streaming    bool
}

type Decision struct {
	Mode         Mode
	ChunkSeconds int
	Concurrency  int
	Words        int
}

// DefaultMaxWorkers is min(32, 4*NumCPU).
func DefaultMaxWorkers() int {
	n := runtime.NumCPU() * 4
	if n > workerCap {
		return workerCap
	}
	if n < 1 {
		return 1
	}
	return n
}

func Select(text string, opts Options) Decision {
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers()
	}
	words := segment.CountWords(text)

	d := Decision{Words: words}
	switch {
	case words < directThreshold:
		d.Mode, d.ChunkSeconds, d.Concurrency = Direct, 0, 1
	case words < smallThreshold:
		d.Mode, d.ChunkSeconds, d.Concurrency = Chunked, 20, 2
	case words < mediumThreshold:
		d.Mode, d.ChunkSeconds, d.Concurrency = Chunked, 30, min(4, maxWorkers)
	default:
		d.Mode, d.ChunkSeconds, d.Concurrency = Chunked, 45, maxWorkers
	}

	if opts.ChunkSeconds > 0 || opts.Streaming {
		if d.Mode == Direct {
			d.Mode = Chunked
			d.ChunkSeconds = 20
		}
		if opts.ChunkSeconds > 0 {
			d.ChunkSeconds = opts.ChunkSeconds
		}
	}
	if opts.Concurrency > 0 {
		d.Concurrency = min(opts.Concurrency, maxWorkers)
	}
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}
	return d
}
