// Package stream fans notifications out to live subscribers in this process
// and, through Redis pub/sub, to subscribers on other instances.
package stream

import (
	"context"
	"sync"

	"consular/internal/notification/models"
	id "consular/pkg/domain"
)

const subscriberBuffer = 16

// Hub delivers notifications to the SSE connections of their recipient.
type Hub struct {
	mu   sync.RWMutex
	subs map[id.UserID]map[int]chan *models.Notification
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[id.UserID]map[int]chan *models.Notification)}
}

// Subscribe registers a subscriber for userID. The channel is closed when ctx
// ends.
func (h *Hub) Subscribe(ctx context.Context, userID id.UserID) <-chan *models.Notification {
	ch := make(chan *models.Notification, subscriberBuffer)

	h.mu.Lock()
	key := h.next
	h.next++
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[int]chan *models.Notification)
	}
	h.subs[userID][key] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[userID], key)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Publish hands n to every subscriber of its recipient. Slow subscribers
// miss the message rather than block the publisher.
func (h *Hub) Publish(n *models.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[n.UserID] {
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, m := range h.subs {
		total += len(m)
	}
	return total
}
