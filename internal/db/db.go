package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// NotifyChannel is the LISTEN/NOTIFY channel that carries message inserts.
const NotifyChannel = "messages_inserted"

// Connect opens the database connection.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

// Migrate creates the marketplace tables and the insert notification trigger.
func Migrate(db *sqlx.DB) error {
	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	log.Println("database migrations applied")
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'in_progress', 'completed', 'cancelled')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS proposals (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
            applicant_id UUID NOT NULL,
            cover_letter TEXT NOT NULL DEFAULT '',
            proposed_rate NUMERIC,
            estimated_duration TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'accepted', 'rejected')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS proposals_applicant_idx ON proposals (applicant_id);`,
	`CREATE TABLE IF NOT EXISTS contracts (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
            applicant_id UUID NOT NULL,
            proposal_id UUID NOT NULL REFERENCES proposals(id) ON DELETE CASCADE,
            agreed_rate NUMERIC,
            start_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            end_date TIMESTAMPTZ,
            status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'cancelled')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS contracts_applicant_idx ON contracts (applicant_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            proposal_id UUID REFERENCES proposals(id) ON DELETE CASCADE,
            contract_id UUID REFERENCES contracts(id) ON DELETE CASCADE,
            sender_id UUID NOT NULL,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (proposal_id IS NOT NULL OR contract_id IS NOT NULL)
        );`,
	`CREATE INDEX IF NOT EXISTS messages_proposal_idx ON messages (proposal_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS messages_contract_idx ON messages (contract_id, created_at);`,
	`CREATE OR REPLACE FUNCTION notify_message_inserted() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
                'table', TG_TABLE_NAME,
                'record', json_build_object(
                    'id', NEW.id,
                    'proposal_id', NEW.proposal_id,
                    'contract_id', NEW.contract_id,
                    'sender_id', NEW.sender_id,
                    'created_at', NEW.created_at
                )
            )::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS messages_notify_insert ON messages;`,
	`CREATE TRIGGER messages_notify_insert AFTER INSERT ON messages
            FOR EACH ROW EXECUTE FUNCTION notify_message_inserted();`,
}
