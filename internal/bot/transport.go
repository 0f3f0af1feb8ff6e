package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rcrlabs/taskbridge/internal/adapters/telegram"
	"github.com/rcrlabs/taskbridge/internal/logging"
	"github.com/rcrlabs/taskbridge/internal/pipeline"
)

// Transport drives Telegram long polling and the stale-draft sweep,
// delegating update processing to the Handler.
type Transport struct {
	client  *telegram.Client
	handler *Handler
	store   *pipeline.Store
	offset  int64
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTransport creates a new Telegram transport layer.
func NewTransport(client *telegram.Client, handler *Handler, store *pipeline.Store) *Transport {
	return &Transport{
		client:  client,
		handler: handler,
		store:   store,
		stopCh:  make(chan struct{}),
	}
}

// StartPolling begins the long-polling loop in a goroutine.
func (t *Transport) StartPolling(ctx context.Context) {
	t.wg.Add(1)
	go t.pollLoop(ctx)

	t.wg.Add(1)
	go t.sweepLoop(ctx)
}

// Stop gracefully stops the polling and sweep loops and cancels all
// pending debounce timers.
func (t *Transport) Stop() {
	close(t.stopCh)
	t.wg.Wait()
	t.store.Stop()
}

// pollLoop continuously fetches and processes updates.
func (t *Transport) pollLoop(ctx context.Context) {
	defer t.wg.Done()

	logging.WithComponent("telegram").Debug("Transport poll loop started")

	for {
		select {
		case <-ctx.Done():
			logging.WithComponent("telegram").Debug("Transport poll loop stopped")
			return
		case <-t.stopCh:
			logging.WithComponent("telegram").Debug("Transport poll loop stopped")
			return
		default:
			t.fetchAndProcess(ctx)
		}
	}
}

// sweepLoop retires stale drafts periodically and notifies their owners.
func (t *Transport) sweepLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			for _, retired := range t.store.SweepExpired() {
				_, _ = t.client.SendMessage(ctx, retired.ChatID, formatDraftExpired(retired.Title), "")
			}
		}
	}
}

// fetchAndProcess fetches updates from Telegram and processes them.
func (t *Transport) fetchAndProcess(ctx context.Context) {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	updates, err := t.client.GetUpdates(ctx, offset, 30)
	if err != nil {
		if ctx.Err() == nil {
			logging.WithComponent("telegram").Warn("Error fetching updates", slog.Any("error", err))
		}
		time.Sleep(time.Second)
		return
	}

	for _, update := range updates {
		t.handler.ProcessUpdate(ctx, update)

		// Acknowledge this update
		t.mu.Lock()
		if update.UpdateID >= t.offset {
			t.offset = update.UpdateID + 1
		}
		t.mu.Unlock()
	}
}
