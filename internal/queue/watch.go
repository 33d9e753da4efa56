package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentmesh/coordinator/internal/envelope"
)

// defaultPollInterval is used both as the pure-polling cadence and as a
// backstop cadence alongside fsnotify, in case a notification is dropped.
// Matches the 1s inbox-poll cadence C7's agent runtime falls back to when
// fsnotify is unavailable.
const defaultPollInterval = 1 * time.Second

// Watch polls dir for newly arrived messages and invokes handler for each
// one in chronological order, deleting each as it is delivered. It
// prefers an fsnotify watch for low-latency wakeups and falls back to
// pure polling if the watch cannot be established (for example, because
// the platform's inotify watch limit has been exhausted). It returns a
// cancel function that stops the watcher and blocks until its goroutine
// has exited.
func (q *Queue) Watch(dir string, handler func(envelope.Envelope)) (cancel func()) {
	var stopped atomic.Bool
	var wg sync.WaitGroup

	wake := make(chan struct{}, 1)
	notify := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	var watcher *fsnotify.Watcher
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(dir); err == nil {
			watcher = w
		} else {
			_ = w.Close()
			q.log.Warn("queue: fsnotify watch failed, falling back to polling", "path", dir, "error", err)
		}
	} else {
		q.log.Warn("queue: fsnotify unavailable, falling back to polling", "error", err)
	}

	if watcher != nil {
		wg.Go(func() {
			for {
				select {
				case _, ok := <-watcher.Events:
					if !ok {
						return
					}
					notify()
				case _, ok := <-watcher.Errors:
					if !ok {
						return
					}
				}
			}
		})
	}

	wg.Go(func() {
		if watcher != nil {
			defer func() { _ = watcher.Close() }()
		}
		for !stopped.Load() {
			q.drain(dir, handler)

			select {
			case <-wake:
			case <-time.After(defaultPollInterval):
			}
		}
		// Final drain so a message that arrives right before Stop is
		// still delivered rather than silently dropped.
		q.drain(dir, handler)
	})

	return func() {
		stopped.Store(true)
		notify()
		wg.Wait()
	}
}

func (q *Queue) drain(dir string, handler func(envelope.Envelope)) {
	msgs, err := q.readDir(dir, true)
	if err != nil {
		q.log.Warn("queue: watch drain failed", "path", dir, "error", err)
		return
	}
	for _, m := range msgs {
		handler(m)
	}
}
