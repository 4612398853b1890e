package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            topic TEXT PRIMARY KEY,
            account TEXT NOT NULL,
            peer_address TEXT NOT NULL DEFAULT '',
            group_members TEXT[] NOT NULL DEFAULT '{}',
            is_group BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            context_id TEXT NOT NULL DEFAULT '',
            context_metadata JSONB,
            read_until TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
            pending BOOLEAN NOT NULL DEFAULT FALSE,
            version TEXT NOT NULL DEFAULT '',
            spam_score INT,
            peer_display_name TEXT NOT NULL DEFAULT '',
            profile_refreshed_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
        );`,
		// At most one non-pending 1:1 conversation per (peer, context) pair.
		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_peer_context_uq
            ON conversations (account, peer_address, context_id)
            WHERE pending = FALSE AND is_group = FALSE;`,
		`CREATE INDEX IF NOT EXISTS conversations_account_idx ON conversations (account);`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            conversation_topic TEXT NOT NULL REFERENCES conversations(topic)
                ON DELETE CASCADE ON UPDATE CASCADE,
            account TEXT NOT NULL,
            sender_address TEXT NOT NULL,
            sent TIMESTAMPTZ NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            content_type TEXT NOT NULL DEFAULT '',
            content_kind TEXT NOT NULL DEFAULT 'unknown',
            content_fallback TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'sent',
            referenced_message_id TEXT NOT NULL DEFAULT '',
            reactions JSONB
        );`,
		`CREATE INDEX IF NOT EXISTS messages_topic_sent_idx ON messages (conversation_topic, sent);`,
		`CREATE INDEX IF NOT EXISTS messages_status_idx ON messages (account, status);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
