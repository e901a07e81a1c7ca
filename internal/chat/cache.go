// ABOUTME: Short-TTL history cache wrapped around a chat session
// ABOUTME: Bounded by chat count with O(1) oldest-first eviction

package chat

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type historyEntry struct {
	fetched  time.Time
	limit    int
	messages []Message
	element  *list.Element
}

// CachedSession serves History from a per-chat cache for ttl. Send invalidates
// the destination chat.
type CachedSession struct {
	inner Session

	mu      sync.RWMutex
	entries map[string]*historyEntry
	order   *list.List // chat ids, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewCachedSession wraps inner. A background goroutine drops expired entries
// until Close is called.
func NewCachedSession(inner Session, ttl time.Duration, maxSize int) *CachedSession {
	c := &CachedSession{
		inner:   inner,
		entries: make(map[string]*historyEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Send forwards to the wrapped session.
func (c *CachedSession) Send(ctx context.Context, chatID, text string, opts SendOptions) (string, error) {
	id, err := c.inner.Send(ctx, chatID, text, opts)
	c.Invalidate(chatID)
	return id, err
}

// History returns cached messages when a fresh entry covers limit.
func (c *CachedSession) History(ctx context.Context, chatID string, limit int) ([]Message, error) {
	c.mu.RLock()
	entry, ok := c.entries[chatID]
	if ok && c.now().Sub(entry.fetched) < c.ttl && entry.limit >= limit {
		out := tail(entry.messages, limit)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	msgs, err := c.inner.History(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.storeLocked(chatID, limit, msgs)
	c.mu.Unlock()
	return tail(msgs, limit), nil
}

// MessagesByID is never cached.
func (c *CachedSession) MessagesByID(ctx context.Context, chatID string, ids []string) ([]Message, error) {
	return c.inner.MessagesByID(ctx, chatID, ids)
}

// WhoAmI forwards to the wrapped session.
func (c *CachedSession) WhoAmI(ctx context.Context) (string, error) {
	return c.inner.WhoAmI(ctx)
}

// Listen forwards when the wrapped session can listen.
func (c *CachedSession) Listen(ctx context.Context, chatID string, handle func(Message)) error {
	l, ok := c.inner.(Listener)
	if !ok {
		return ErrTransport
	}
	return l.Listen(ctx, chatID, handle)
}

// Invalidate drops the cached history of chatID.
func (c *CachedSession) Invalidate(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[chatID]; ok {
		c.order.Remove(entry.element)
		delete(c.entries, chatID)
	}
	if inv, ok := c.inner.(Invalidator); ok {
		inv.Invalidate(chatID)
	}
}

// Len returns the number of cached chats.
func (c *CachedSession) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (c *CachedSession) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

func (c *CachedSession) storeLocked(chatID string, limit int, msgs []Message) {
	if entry, ok := c.entries[chatID]; ok {
		c.order.Remove(entry.element)
		delete(c.entries, chatID)
	}
	for c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	entry := &historyEntry{
		fetched:  c.now(),
		limit:    limit,
		messages: msgs,
	}
	entry.element = c.order.PushBack(chatID)
	c.entries[chatID] = entry
}

func (c *CachedSession) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	chatID := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, chatID)
}

func (c *CachedSession) cleanup() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *CachedSession) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		chatID := e.Value.(string)
		if entry, ok := c.entries[chatID]; ok && now.Sub(entry.fetched) >= c.ttl {
			c.order.Remove(e)
			delete(c.entries, chatID)
		}
		e = next
	}
}

func tail(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) <= limit {
		out := make([]Message, len(msgs))
		copy(out, msgs)
		return out
	}
	out := make([]Message, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out
}
