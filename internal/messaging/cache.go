package messaging

import (
	"sort"
	"sync"
	"time"

	"marketplace-messaging/internal/models"
)

// Cache maps a conversation to its messages, ascending by CreatedAt.
//
// Every write installs a freshly allocated slice, so a slice returned by Get is
// never modified afterwards and can be handed to other goroutines as is.
type Cache struct {
	mu      sync.RWMutex
	entries map[models.ConversationKey][]models.Message
	loaded  map[models.ConversationKey]bool
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[models.ConversationKey][]models.Message),
		loaded:  make(map[models.ConversationKey]bool),
	}
}

// Get returns the cached sequence for key. Callers must not modify it.
func (c *Cache) Get(key models.ConversationKey) ([]models.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs, ok := c.entries[key]
	return msgs, ok
}

// Loaded reports whether a server fetch has been stored for key.
func (c *Cache) Loaded(key models.ConversationKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded[key]
}

// Latest returns the newest message of key.
func (c *Cache) Latest(key models.ConversationKey) (models.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.entries[key]
	if len(msgs) == 0 {
		return models.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Store overwrites key with server state. Optimistic placeholders that are
// still awaiting their write are carried over, unless a row this client has
// not seen before already confirms them.
func (c *Cache) Store(key models.ConversationKey, msgs []models.Message) []models.Message {
	next := make([]models.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		next = append(next, m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.entries[key]
	known := make(map[string]struct{}, len(prev))
	for _, m := range prev {
		known[m.ID] = struct{}{}
	}
	claimed := make(map[int]struct{})
	for _, m := range prev {
		if !m.IsPending() {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if i := confirmingRow(next, m, known, claimed); i >= 0 {
			claimed[i] = struct{}{}
			continue
		}
		next = append(next, m)
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].CreatedAt.Before(next[j].CreatedAt)
	})
	c.entries[key] = next
	c.loaded[key] = true
	return next
}

// Append adds msg unless a message with the same id is already cached. A
// permanent row that confirms a pending placeholder takes over its slot.
func (c *Cache) Append(key models.ConversationKey, msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.entries[key]
	if indexOf(cur, msg.ID) >= 0 {
		return false
	}
	if !msg.IsPending() {
		if pi := pendingFor(cur, msg); pi >= 0 {
			c.entries[key] = swapAt(cur, pi, msg)
			return true
		}
	}
	c.entries[key] = insertOrdered(cur, msg)
	return true
}

// Replace swaps the placeholder tempID for confirmed in place. If confirmed is
// already cached (the push arrived first) the placeholder is just dropped.
func (c *Cache) Replace(key models.ConversationKey, tempID string, confirmed models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.entries[key]
	ti := indexOf(cur, tempID)

	if indexOf(cur, confirmed.ID) >= 0 {
		if ti < 0 {
			return false
		}
		c.entries[key] = removeAt(cur, ti)
		return true
	}
	if ti < 0 {
		c.entries[key] = insertOrdered(cur, confirmed)
		return true
	}

	c.entries[key] = swapAt(cur, ti, confirmed)
	return true
}

// Remove drops the message with id from key.
func (c *Cache) Remove(key models.ConversationKey, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.entries[key]
	i := indexOf(cur, id)
	if i < 0 {
		return false
	}
	c.entries[key] = removeAt(cur, i)
	return true
}

// confirms reports whether the permanent row is the write behind placeholder.
func confirms(row, placeholder models.Message) bool {
	return !row.IsPending() && row.SenderID == placeholder.SenderID && row.Content == placeholder.Content
}

// pendingFor returns the oldest pending placeholder that row confirms.
func pendingFor(msgs []models.Message, row models.Message) int {
	for i := range msgs {
		if msgs[i].IsPending() && confirms(row, msgs[i]) {
			return i
		}
	}
	return -1
}

// confirmingRow returns the first row in rows, new to this client and not yet
// claimed, that confirms placeholder.
func confirmingRow(rows []models.Message, placeholder models.Message, known map[string]struct{}, claimed map[int]struct{}) int {
	for i := range rows {
		if _, ok := claimed[i]; ok {
			continue
		}
		if _, ok := known[rows[i].ID]; ok {
			continue
		}
		if confirms(rows[i], placeholder) {
			return i
		}
	}
	return -1
}

func indexOf(msgs []models.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// insertOrdered places msg after every entry with CreatedAt <= msg.CreatedAt.
func insertOrdered(msgs []models.Message, msg models.Message) []models.Message {
	at := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt.After(msg.CreatedAt)
	})
	next := make([]models.Message, 0, len(msgs)+1)
	next = append(next, msgs[:at]...)
	next = append(next, msg)
	next = append(next, msgs[at:]...)
	return next
}

// swapAt installs msg at i, moving it when its timestamp breaks the order.
func swapAt(msgs []models.Message, i int, msg models.Message) []models.Message {
	next := make([]models.Message, len(msgs))
	copy(next, msgs)
	next[i] = msg
	if !orderedAt(next, i) {
		next = insertOrdered(removeAt(next, i), msg)
	}
	return next
}

func removeAt(msgs []models.Message, i int) []models.Message {
	next := make([]models.Message, 0, len(msgs)-1)
	next = append(next, msgs[:i]...)
	return append(next, msgs[i+1:]...)
}

func orderedAt(msgs []models.Message, i int) bool {
	at := msgs[i].CreatedAt
	if i > 0 && at.Before(msgs[i-1].CreatedAt) {
		return false
	}
	if i < len(msgs)-1 && msgs[i+1].CreatedAt.Before(at) {
		return false
	}
	return true
}

func latestAt(msgs []models.Message) (time.Time, bool) {
	if len(msgs) == 0 {
		return time.Time{}, false
	}
	return msgs[len(msgs)-1].CreatedAt, true
}
