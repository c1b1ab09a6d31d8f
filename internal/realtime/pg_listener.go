package realtime

import (
	"context"
	"log"
	"time"

	"github.com/lib/pq"

	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/observability"
)

const fetchTimeout = 5 * time.Second

// RowFetcher loads the stored row a notification points at.
type RowFetcher interface {
	GetMessageRow(ctx context.Context, id string) (models.MessageRow, error)
}

// PGListener turns Postgres NOTIFY payloads on a channel into broker events.
// The trigger only sends the row's keys, since NOTIFY payloads are capped at
// 8000 bytes; content is read back through rows.
type PGListener struct {
	dsn     string
	channel string
	broker  *Broker
	rows    RowFetcher
}

// NewPGListener builds a listener for channel.
func NewPGListener(dsn, channel string, broker *Broker, rows RowFetcher) *PGListener {
	return &PGListener{dsn: dsn, channel: channel, broker: broker, rows: rows}
}

// Run blocks until ctx is cancelled.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("realtime listener connect failed channel=%s: %v", l.channel, err)
		case pq.ListenerEventDisconnected:
			log.Printf("realtime listener disconnected channel=%s: %v", l.channel, err)
		case pq.ListenerEventReconnected:
			log.Printf("realtime listener reconnected channel=%s", l.channel)
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return err
	}
	log.Printf("realtime listener started channel=%s", l.channel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			// nil after a reconnect; rows committed while disconnected are not replayed.
			if n == nil {
				continue
			}
			l.dispatch(ctx, []byte(n.Extra))
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				log.Printf("realtime listener ping failed: %v", err)
			}
		}
	}
}

func (l *PGListener) dispatch(ctx context.Context, payload []byte) {
	evt, err := DecodeInsertEvent(payload)
	if err != nil {
		observability.IncPushEvent("malformed")
		log.Printf("realtime listener dropped payload: %v", err)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	row, err := l.rows.GetMessageRow(fetchCtx, evt.Record.ID)
	if err != nil {
		observability.IncPushEvent("fetch_failed")
		log.Printf("realtime listener fetch message id=%s: %v", evt.Record.ID, err)
		return
	}
	evt.Record = row
	l.broker.Publish(evt)
}
