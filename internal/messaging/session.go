package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/observability"
	"marketplace-messaging/internal/realtime"
	"marketplace-messaging/internal/repositories"
)

// MessagesTable is the table whose inserts feed live updates.
const MessagesTable = "messages"

var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrNoConversation       = errors.New("no conversation selected")
	ErrConversationNotFound = errors.New("conversation not in list")
	ErrSendFailed           = errors.New("message send failed")
	ErrLoadFailed           = errors.New("message load failed")
)

// Subscriber is the push channel a session listens on.
type Subscriber interface {
	Subscribe(table string, handler realtime.Handler) *realtime.Subscription
}

// Notifier receives session events. It is called with the session lock held,
// so it must not block or call back into the session.
type Notifier func(Event)

// Session is one open messaging view: the conversation list, the message cache,
// the selection, the draft input and the live update subscription.
type Session struct {
	viewer     models.Viewer
	aggregator *Aggregator
	store      repositories.MessageRepository
	subscriber Subscriber
	notify     Notifier
	cache      *Cache
	tracer     trace.Tracer
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	conversations []models.Conversation
	selected      models.ConversationKey
	state         SelectionState
	draft         string
	sub           *realtime.Subscription
	closed        bool

	// foreign holds keys the viewer may not see; discovering queues the
	// inserts that arrive while a key's visibility check is in flight.
	foreign     map[models.ConversationKey]struct{}
	discovering map[models.ConversationKey][]models.Message
}

// NewSession builds a session for viewer. notify may be nil.
func NewSession(viewer models.Viewer, aggregator *Aggregator, store repositories.MessageRepository, subscriber Subscriber, notify Notifier) *Session {
	if notify == nil {
		notify = func(Event) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		viewer:      viewer,
		aggregator:  aggregator,
		store:       store,
		subscriber:  subscriber,
		notify:      notify,
		cache:       NewCache(),
		tracer:      otel.Tracer("marketplace-messaging/messaging"),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateNone,
		foreign:     make(map[models.ConversationKey]struct{}),
		discovering: make(map[models.ConversationKey][]models.Message),
	}
}

// Start subscribes to live updates, loads the conversation list and applies
// the deep link in query, if any.
func (s *Session) Start(ctx context.Context, query url.Values) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session closed")
	}
	if s.sub == nil && s.subscriber != nil {
		s.sub = s.subscriber.Subscribe(MessagesTable, s.HandleInsert)
	}
	s.mu.Unlock()

	s.RefreshConversations(ctx)
	return s.SelectFromQuery(ctx, query)
}

// Close releases the live subscription. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	if s.sub != nil {
		s.sub.Close()
	}
}

// Viewer returns the signed-in caller of this session.
func (s *Session) Viewer() models.Viewer {
	return s.viewer
}

// Cache exposes the message cache for read access.
func (s *Session) Cache() *Cache {
	return s.cache
}

// Conversations returns a snapshot of the aggregated list.
func (s *Session) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Conversation(nil), s.conversations...)
}

// Selected returns the open conversation and the selection state.
func (s *Session) Selected() (models.ConversationKey, SelectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.state
}

// Transcript is the cached sequence of the open conversation.
func (s *Session) Transcript() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptLocked()
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// RefreshConversations reloads the aggregated list. Failures leave an empty
// list and surface an error event.
func (s *Session) RefreshConversations(ctx context.Context) {
	list, err := s.aggregator.Load(ctx, s.viewer)
	if err != nil {
		log.Printf("messaging: load conversations viewer=%s: %v", s.viewer.ID, err)
		list = []models.Conversation{}
	}
	var profileErr error
	if err == nil {
		profileErr = s.aggregator.ResolveCounterparts(ctx, s.viewer, list)
		if profileErr != nil {
			log.Printf("messaging: resolve profiles viewer=%s: %v", s.viewer.ID, profileErr)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.emitLocked(Event{Type: EventError, Error: "failed to load conversations"})
	}
	if profileErr != nil {
		s.emitLocked(Event{Type: EventError, Error: "failed to load profiles"})
	}
	s.conversations = list
	for i := range s.conversations {
		if msgs, ok := s.cache.Get(s.conversations[i].Key); ok {
			if at, ok := latestAt(msgs); ok {
				bumpActivity(&s.conversations[i], at)
			}
		}
	}
	SortConversations(s.conversations)
	s.emitConversationsLocked()
}

// SelectFromQuery opens the conversation named by the deep-link parameters.
// A missing or unknown id clears the selection.
func (s *Session) SelectFromQuery(ctx context.Context, query url.Values) error {
	key, ok := KeyFromQuery(query)
	s.mu.Lock()
	if ok {
		_, ok = s.lookupLocked(key)
	}
	if !ok {
		s.clearLocked()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.Select(ctx, key)
	if errors.Is(err, ErrConversationNotFound) {
		return nil
	}
	return err
}

// Select opens key: the navigation query is updated first, then the cached
// transcript is shown and the messages are (re)loaded.
func (s *Session) Select(ctx context.Context, key models.ConversationKey) error {
	s.mu.Lock()
	if _, ok := s.lookupLocked(key); !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	query := QueryFor(key)
	s.emitLocked(Event{Type: EventNavigate, Query: &query})
	s.selected = key
	s.state = StateLoading
	s.emitSelectionLocked()
	if _, cached := s.cache.Get(key); cached {
		s.emitTranscriptLocked()
	}
	s.mu.Unlock()

	return s.Load(ctx, key)
}

// Back clears the selection and strips the navigation query.
func (s *Session) Back() {
	s.mu.Lock()
	defer s.mu.Unlock()
	query := ""
	s.emitLocked(Event{Type: EventNavigate, Query: &query})
	s.clearLocked()
}

// Load fetches key's messages and overwrites its cache entry. The transcript is
// refreshed only if key is still selected when the fetch completes.
func (s *Session) Load(ctx context.Context, key models.ConversationKey) error {
	ctx, span := s.tracer.Start(ctx, "messaging.load", trace.WithAttributes(
		attribute.String("conversation", key.String()),
	))
	defer span.End()

	msgs, err := s.store.ListMessages(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		log.Printf("messaging: load messages conversation=%s: %v", key, err)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.emitLocked(Event{Type: EventError, Error: "failed to load messages"})
		if s.selected == key && s.state == StateLoading {
			s.state = StateLoaded
			s.emitSelectionLocked()
			s.emitTranscriptLocked()
		}
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	stored := s.cache.Store(key, msgs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == key {
		if s.state == StateLoading {
			s.state = StateLoaded
			s.emitSelectionLocked()
		}
		s.emitTranscriptLocked()
	}
	if at, ok := latestAt(stored); ok && s.touchLocked(key, at) {
		s.emitConversationsLocked()
	}
	return nil
}

// Send submits the current draft.
func (s *Session) Send(ctx context.Context) (models.Message, error) {
	return s.SendText(ctx, s.Draft())
}

// SendText appends an optimistic placeholder, clears the draft, writes the
// message and then swaps the placeholder for the stored row, or drops it if
// the write fails. The draft is not restored on failure.
func (s *Session) SendText(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	key := s.selected
	if key.IsZero() {
		s.mu.Unlock()
		return models.Message{}, ErrNoConversation
	}
	placeholder := models.Message{
		ID:        models.NewTempID(),
		Parent:    key,
		SenderID:  s.viewer.ID,
		Content:   text,
		CreatedAt: s.now(),
	}
	s.cache.Append(key, placeholder)
	s.draft = ""
	s.emitLocked(Event{Type: EventMessagePending, Message: &placeholder})
	s.emitTranscriptLocked()
	if s.touchLocked(key, placeholder.CreatedAt) {
		s.emitConversationsLocked()
	}
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "messaging.send", trace.WithAttributes(
		attribute.String("conversation", key.String()),
	))
	defer span.End()

	confirmed, err := s.store.CreateMessage(ctx, key, s.viewer.ID, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		log.Printf("messaging: send conversation=%s sender=%s: %v", key, s.viewer.ID, err)
		observability.IncMessageSent("failed")

		s.cache.Remove(key, placeholder.ID)
		s.emitLocked(Event{Type: EventMessageFailed, TempID: placeholder.ID, Message: &placeholder})
		s.emitLocked(Event{Type: EventError, Error: "failed to send message"})
		if s.selected == key {
			s.emitTranscriptLocked()
		}
		return models.Message{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	observability.IncMessageSent("confirmed")
	s.cache.Replace(key, placeholder.ID, confirmed)
	s.emitLocked(Event{Type: EventMessageConfirmed, TempID: placeholder.ID, Message: &confirmed})
	if s.selected == key {
		s.emitTranscriptLocked()
	}
	if s.touchLocked(key, confirmed.CreatedAt) {
		s.emitConversationsLocked()
	}
	return confirmed, nil
}

// HandleInsert applies a pushed message insert. Rows without a parent key are
// dropped; rows for conversations the session does not list yet are checked
// for visibility in the background, once per key.
func (s *Session) HandleInsert(evt realtime.InsertEvent) {
	msg, err := evt.Record.Message()
	if err != nil {
		observability.IncPushEvent("discarded")
		log.Printf("messaging: discarding insert id=%s: %v", evt.Record.ID, err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, known := s.lookupLocked(msg.Parent); !known {
		if _, skip := s.foreign[msg.Parent]; skip {
			s.mu.Unlock()
			observability.IncPushEvent("foreign")
			return
		}
		queued, inFlight := s.discovering[msg.Parent]
		s.discovering[msg.Parent] = append(queued, msg)
		s.mu.Unlock()
		if !inFlight {
			go s.discover(msg.Parent)
		}
		return
	}
	s.applyInsertLocked(msg)
	s.mu.Unlock()
}

func (s *Session) applyInsertLocked(msg models.Message) {
	if !s.cache.Append(msg.Parent, msg) {
		observability.IncPushEvent("duplicate")
		return
	}
	observability.IncPushEvent("applied")
	if s.selected == msg.Parent {
		s.emitTranscriptLocked()
	}
	if s.touchLocked(msg.Parent, msg.CreatedAt) {
		s.emitConversationsLocked()
	}
}

// discover handles inserts for conversations created after the list was
// loaded, such as the contract opened by an accepted proposal. Keys the viewer
// may not see are remembered for the life of the session.
func (s *Session) discover(key models.ConversationKey) {
	_, err := s.aggregator.Get(s.ctx, s.viewer, key)
	if err == nil {
		s.RefreshConversations(s.ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.discovering[key]
	delete(s.discovering, key)
	if err != nil {
		outcome := "foreign"
		if errors.Is(err, repositories.ErrConversationNotFound) {
			s.foreign[key] = struct{}{}
		} else {
			outcome = "check_failed"
			log.Printf("messaging: visibility check conversation=%s: %v", key, err)
		}
		for range queued {
			observability.IncPushEvent(outcome)
		}
		return
	}
	if s.closed {
		return
	}
	for _, msg := range queued {
		s.applyInsertLocked(msg)
	}
}

func (s *Session) lookupLocked(key models.ConversationKey) (models.Conversation, bool) {
	for _, c := range s.conversations {
		if c.Key == key {
			return c, true
		}
	}
	return models.Conversation{}, false
}

func (s *Session) clearLocked() {
	s.selected = models.ConversationKey{}
	s.state = StateNone
	s.emitSelectionLocked()
}

func (s *Session) touchLocked(key models.ConversationKey, at time.Time) bool {
	for i := range s.conversations {
		if s.conversations[i].Key == key {
			if !bumpActivity(&s.conversations[i], at) {
				return false
			}
			SortConversations(s.conversations)
			return true
		}
	}
	return false
}

func bumpActivity(c *models.Conversation, at time.Time) bool {
	if c.LastMessageAt != nil && !at.After(*c.LastMessageAt) {
		return false
	}
	t := at
	c.LastMessageAt = &t
	return true
}

func (s *Session) transcriptLocked() []models.Message {
	if s.selected.IsZero() {
		return nil
	}
	msgs, _ := s.cache.Get(s.selected)
	return msgs
}

func (s *Session) emitLocked(evt Event) {
	s.notify(evt)
}

func (s *Session) emitSelectionLocked() {
	evt := Event{Type: EventSelection, State: s.state}
	if !s.selected.IsZero() {
		key := s.selected
		evt.Selected = &key
	}
	s.notify(evt)
}

func (s *Session) emitTranscriptLocked() {
	msgs := s.transcriptLocked()
	if msgs == nil {
		msgs = []models.Message{}
	}
	s.notify(Event{Type: EventTranscript, Messages: msgs})
}

func (s *Session) emitConversationsLocked() {
	s.notify(Event{Type: EventConversations, Conversations: append([]models.Conversation(nil), s.conversations...)})
}
