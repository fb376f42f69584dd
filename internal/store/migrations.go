package store

import (
	"context"
	"fmt"
)

// migration is one tracked schema change.
type migration struct {
	ID  string
	SQL string
}

var migrations = []migration{
	{
		ID: "001_download_tasks",
		SQL: `CREATE TABLE IF NOT EXISTS download_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			extension TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			wait_time INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 1,
			url TEXT NOT NULL DEFAULT '',
			site TEXT NOT NULL DEFAULT '',
			with_description INTEGER NOT NULL DEFAULT 1,
			with_subtitles INTEGER NOT NULL DEFAULT 0,
			with_thumbnail INTEGER NOT NULL DEFAULT 1,
			format TEXT NOT NULL DEFAULT '',
			resolution_x INTEGER NOT NULL DEFAULT 0,
			resolution_y INTEGER NOT NULL DEFAULT 0,
			video_codec TEXT NOT NULL DEFAULT '',
			audio_codec TEXT NOT NULL DEFAULT '',
			video_bit_rate INTEGER NOT NULL DEFAULT 0,
			audio_bit_rate INTEGER NOT NULL DEFAULT 0,
			sample_rate INTEGER NOT NULL DEFAULT 0,
			frame_rate INTEGER NOT NULL DEFAULT 0
		)`,
	},
	{
		ID: "002_upload_tasks",
		SQL: `CREATE TABLE IF NOT EXISTS upload_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			extension TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			wait_time INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 1,
			destination TEXT NOT NULL DEFAULT ''
		)`,
	},
	{
		ID: "003_hubs",
		SQL: `CREATE TABLE IF NOT EXISTS hubs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT ''
		)`,
	},
	{
		ID: "004_subscriptions",
		SQL: `CREATE TABLE IF NOT EXISTS subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			site TEXT NOT NULL DEFAULT '',
			hub_id INTEGER NOT NULL DEFAULT 0,
			topic_uri TEXT NOT NULL DEFAULT '',
			polling_interval INTEGER NOT NULL DEFAULT 0,
			time TIMESTAMP NOT NULL,
			lease_time TIMESTAMP NOT NULL,
			encrypted_secret TEXT NOT NULL DEFAULT ''
		)`,
	},
	{
		ID: "005_feed_xmls",
		SQL: `CREATE TABLE IF NOT EXISTS feed_xmls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			download_task_id INTEGER NOT NULL DEFAULT 0,
			xml TEXT NOT NULL DEFAULT ''
		)`,
	},
}

func (s *Service) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("listing applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scanning migration id: %w", err)
		}
		applied[id] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.ID] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.ID, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (id) VALUES (?)`, m.ID); err != nil {
			return fmt.Errorf("recording migration %s: %w", m.ID, err)
		}
		s.logger.Debug("migration applied", "id", m.ID)
	}
	return nil
}
