package pool

import (
	"github.com/rs/zerolog/log"

	"github.com/kirogw/kiro-gateway/internal/config"
)

// Writer serializes every credential-file write through one goroutine fed
// by a buffered channel, per spec.md §5's "single task, bounded channel"
// requirement and design note "Persistence write-back". Only the latest
// enqueued snapshot matters, so the channel is drained down to the newest
// pending write rather than writing every intermediate snapshot.
type Writer struct {
	path string
	ch   chan []config.RawCredential
	done chan struct{}
}

func NewWriter(path string) *Writer {
	w := &Writer{
		path: path,
		ch:   make(chan []config.RawCredential, 1),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue submits a new full snapshot to be written. Non-blocking: if a
// write is already queued, it is replaced with the newer snapshot.
func (w *Writer) Enqueue(snapshot []config.RawCredential) {
	select {
	case w.ch <- snapshot:
	default:
		// A write is already pending; drain and replace with the latest.
		select {
		case <-w.ch:
		default:
		}
		select {
		case w.ch <- snapshot:
		default:
		}
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for snapshot := range w.ch {
		if err := config.SaveCredentialsFile(w.path, snapshot); err != nil {
			log.Error().Err(err).Str("path", w.path).Msg("pool: failed to persist credentials file")
		}
	}
}

// Close stops accepting new writes and waits for the last one to finish.
func (w *Writer) Close() {
	close(w.ch)
	<-w.done
}
