package capture

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

// BrowseSnapshot is one browse result queued for persistence.
type BrowseSnapshot struct {
	Queue       string
	RoutingType string
	Broker      string
	Messages    []MessageRecord
}

// AsyncWriter provides non-blocking snapshot persistence with a buffered
// channel so a slow disk can never stall a browse.
type AsyncWriter struct {
	store Store
	ch    chan *BrowseSnapshot
	wg    sync.WaitGroup
	done  chan struct{}
}

// NewAsyncWriter creates a new async writer on top of the given store
func NewAsyncWriter(store Store) *AsyncWriter {
	w := &AsyncWriter{
		store: store,
		ch:    make(chan *BrowseSnapshot, defaultBufferSize),
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Store returns the underlying store, for reading back captured data.
func (w *AsyncWriter) Store() Store {
	return w.store
}

// Save queues a snapshot for persistence. Non-blocking; drops the snapshot
// if the buffer is full.
func (w *AsyncWriter) Save(snap *BrowseSnapshot) bool {
	select {
	case w.ch <- snap:
		return true
	default:
		// Buffer full, drop snapshot
		return false
	}
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case snap, ok := <-w.ch:
			if !ok {
				return
			}
			w.persist(snap)
		case <-w.done:
			// Drain remaining snapshots
			for {
				select {
				case snap, ok := <-w.ch:
					if !ok {
						return
					}
					w.persist(snap)
				default:
					return
				}
			}
		}
	}
}

// persist is best effort; insert errors are ignored.
func (w *AsyncWriter) persist(snap *BrowseSnapshot) {
	ctx := context.Background()
	browseID, err := w.store.CreateBrowse(ctx, snap.Queue, snap.RoutingType, snap.Broker, len(snap.Messages))
	if err != nil {
		return
	}
	for i := range snap.Messages {
		rec := snap.Messages[i]
		rec.BrowseID = browseID
		_, _ = w.store.InsertMessage(ctx, &rec)
	}
}

// Close gracefully shuts down the writer, draining the buffer
func (w *AsyncWriter) Close() {
	close(w.done)
	close(w.ch)
	w.wg.Wait()
}
