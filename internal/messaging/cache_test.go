package messaging

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-messaging/internal/models"
)

var (
	base   = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	negKey = models.ConversationKey{Kind: models.KindNegotiation, ID: "neg-1"}
	conKey = models.ConversationKey{Kind: models.KindContract, ID: "c-1"}
)

func msg(id string, key models.ConversationKey, offset time.Duration) models.Message {
	return models.Message{ID: id, Parent: key, SenderID: "app-1", Content: "text " + id, CreatedAt: base.Add(offset)}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func assertOrdered(t *testing.T, msgs []models.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "entry %d out of order", i)
	}
}

func TestCacheStoreKeepsServerOrder(t *testing.T) {
	c := NewCache()

	c.Store(negKey, []models.Message{msg("m-1", negKey, 1), msg("m-2", negKey, 2), msg("m-3", negKey, 3)})

	got, ok := c.Get(negKey)
	require.True(t, ok)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, ids(got))
	assert.True(t, c.Loaded(negKey))
}

func TestCacheStoreSortsAndDropsDuplicates(t *testing.T) {
	c := NewCache()

	got := c.Store(negKey, []models.Message{msg("m-2", negKey, 2), msg("m-1", negKey, 1), msg("m-2", negKey, 2)})

	assert.Equal(t, []string{"m-1", "m-2"}, ids(got))
}

func TestCacheStoreCarriesPendingPlaceholders(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1)})
	c.Append(negKey, msg("temp-a", negKey, 10))
	c.Append(negKey, msg("m-9", negKey, 9))

	got := c.Store(negKey, []models.Message{msg("m-1", negKey, 1), msg("m-2", negKey, 2)})

	assert.Equal(t, []string{"m-1", "m-2", "temp-a"}, ids(got))
}

func TestCacheAppendIgnoresKnownID(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1)})

	assert.True(t, c.Append(negKey, msg("m-2", negKey, 2)))
	assert.False(t, c.Append(negKey, msg("m-2", negKey, 2)))

	got, _ := c.Get(negKey)
	assert.Equal(t, []string{"m-1", "m-2"}, ids(got))
}

func TestCacheAppendOutOfOrderStaysSorted(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1), msg("m-3", negKey, 3)})

	c.Append(negKey, msg("m-2", negKey, 2))

	got, _ := c.Get(negKey)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, ids(got))
}

func TestCacheAppendBeforeLoadCreatesEntry(t *testing.T) {
	c := NewCache()

	c.Append(conKey, msg("m-1", conKey, 1))

	got, ok := c.Get(conKey)
	require.True(t, ok)
	assert.Len(t, got, 1)
	assert.False(t, c.Loaded(conKey))
}

func TestCacheReplaceKeepsPosition(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1), msg("m-2", negKey, 2)})
	c.Append(negKey, msg("temp-a", negKey, 3))

	require.True(t, c.Replace(negKey, "temp-a", msg("m-42", negKey, 4)))

	got, _ := c.Get(negKey)
	assert.Equal(t, []string{"m-1", "m-2", "m-42"}, ids(got))
}

func TestCacheReplaceAfterPushDropsPlaceholder(t *testing.T) {
	c := NewCache()
	c.Append(negKey, msg("temp-a", negKey, 3))
	c.Append(negKey, msg("m-42", negKey, 4))

	require.True(t, c.Replace(negKey, "temp-a", msg("m-42", negKey, 4)))

	got, _ := c.Get(negKey)
	assert.Equal(t, []string{"m-42"}, ids(got))
}

func said(id, content string, offset time.Duration) models.Message {
	m := msg(id, negKey, offset)
	m.Content = content
	return m
}

func TestCacheAppendTakesOverConfirmedPlaceholder(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1)})
	c.Append(negKey, said("temp-a", "Hello", 3))

	require.True(t, c.Append(negKey, said("m-42", "Hello", 4)))

	got, _ := c.Get(negKey)
	assert.Equal(t, []string{"m-1", "m-42"}, ids(got))

	assert.False(t, c.Replace(negKey, "temp-a", said("m-42", "Hello", 4)))
	got, _ = c.Get(negKey)
	assert.Equal(t, []string{"m-1", "m-42"}, ids(got))
}

func TestCacheAppendConfirmsOldestMatchingPlaceholder(t *testing.T) {
	c := NewCache()
	c.Append(negKey, said("temp-a", "ok", 3))
	c.Append(negKey, said("temp-b", "ok", 5))

	c.Append(negKey, said("m-43", "ok", 6))
	got, _ := c.Get(negKey)
	assert.Equal(t, []string{"temp-b", "m-43"}, ids(got))

	// The writes confirm in the other order; each still ends up once.
	require.True(t, c.Replace(negKey, "temp-a", said("m-42", "ok", 4)))
	require.True(t, c.Replace(negKey, "temp-b", said("m-43", "ok", 6)))
	got, _ = c.Get(negKey)
	assert.Equal(t, []string{"m-42", "m-43"}, ids(got))
}

func TestCacheAppendFromOtherSenderKeepsPlaceholder(t *testing.T) {
	c := NewCache()
	c.Append(negKey, said("temp-a", "Hello", 3))
	other := said("m-7", "Hello", 4)
	other.SenderID = "admin-1"

	c.Append(negKey, other)

	got, _ := c.Get(negKey)
	assert.Equal(t, []string{"temp-a", "m-7"}, ids(got))
}

func TestCacheStoreDropsPlaceholderConfirmedByReload(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1)})
	c.Append(negKey, said("temp-a", "Hello", 3))

	got := c.Store(negKey, []models.Message{msg("m-1", negKey, 1), said("m-42", "Hello", 4)})

	assert.Equal(t, []string{"m-1", "m-42"}, ids(got))
}

func TestCacheStoreKeepsPlaceholderMatchingOldHistory(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{said("m-1", "ok", 1)})
	c.Append(negKey, said("temp-a", "ok", 3))

	got := c.Store(negKey, []models.Message{said("m-1", "ok", 1)})

	assert.Equal(t, []string{"m-1", "temp-a"}, ids(got))
}

func TestCacheReplaceWithoutPlaceholderAppends(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1)})

	require.True(t, c.Replace(negKey, "temp-gone", msg("m-42", negKey, 4)))
	assert.False(t, c.Replace(negKey, "temp-gone", msg("m-42", negKey, 4)))

	got, _ := c.Get(negKey)
	assert.Equal(t, []string{"m-1", "m-42"}, ids(got))
}

func TestCacheReplaceReordersWhenServerClockDiffers(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1), msg("m-5", negKey, 5)})
	c.Append(negKey, msg("temp-a", negKey, 6))

	c.Replace(negKey, "temp-a", msg("m-3", negKey, 3))

	got, _ := c.Get(negKey)
	assert.Equal(t, []string{"m-1", "m-3", "m-5"}, ids(got))
}

func TestCacheRemove(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1)})
	c.Append(negKey, msg("temp-a", negKey, 2))

	assert.True(t, c.Remove(negKey, "temp-a"))
	assert.False(t, c.Remove(negKey, "temp-a"))

	got, _ := c.Get(negKey)
	assert.Equal(t, []string{"m-1"}, ids(got))
}

func TestCacheSnapshotsAreNotMutated(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1), msg("m-2", negKey, 2)})
	before, _ := c.Get(negKey)

	c.Append(negKey, msg("m-0", negKey, 0))
	c.Remove(negKey, "m-2")

	assert.Equal(t, []string{"m-1", "m-2"}, ids(before))
}

func TestCacheKeysAreIndependent(t *testing.T) {
	c := NewCache()
	c.Store(negKey, []models.Message{msg("m-1", negKey, 1)})
	c.Store(conKey, []models.Message{msg("m-1", conKey, 1)})

	c.Append(conKey, msg("m-2", conKey, 2))
	c.Remove(conKey, "m-1")

	neg, _ := c.Get(negKey)
	assert.Equal(t, []string{"m-1"}, ids(neg))

	sameIDOtherKind := models.ConversationKey{Kind: models.KindContract, ID: negKey.ID}
	_, ok := c.Get(sameIDOtherKind)
	assert.False(t, ok)
}

func TestCacheInterleavedWritersNeverDuplicate(t *testing.T) {
	c := NewCache()
	server := make([]models.Message, 0, 20)
	for i := 0; i < 20; i++ {
		server = append(server, msg(fmt.Sprintf("m-%02d", i), negKey, time.Duration(i)*time.Second))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			c.Store(negKey, server)
		}()
		go func() {
			defer wg.Done()
			for i := len(server) - 1; i >= 0; i-- {
				c.Append(negKey, server[i])
			}
		}()
		go func(w int) {
			defer wg.Done()
			temp := fmt.Sprintf("temp-%d", w)
			c.Append(negKey, msg(temp, negKey, 30*time.Second))
			c.Replace(negKey, temp, server[w])
		}(w)
	}
	wg.Wait()

	got, _ := c.Get(negKey)
	assert.Len(t, got, len(server))
	seen := map[string]bool{}
	for _, m := range got {
		require.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
	}
	assertOrdered(t, got)
}

func TestCacheLatest(t *testing.T) {
	c := NewCache()
	_, ok := c.Latest(negKey)
	assert.False(t, ok)

	c.Store(negKey, []models.Message{msg("m-1", negKey, 1), msg("m-2", negKey, 2)})
	latest, ok := c.Latest(negKey)
	require.True(t, ok)
	assert.Equal(t, "m-2", latest.ID)
}
