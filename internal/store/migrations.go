package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per capture session
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			device_id INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			stopped_at DATETIME,
			sign_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		)`,

		// Session signs table - the label sequence recognized during a session
		`CREATE TABLE IF NOT EXISTS session_signs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			sequence INTEGER NOT NULL,
			label TEXT NOT NULL
		)`,

		// Transcripts table - generated sentences
		`CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
			signs TEXT NOT NULL DEFAULT '[]',
			instruction TEXT NOT NULL DEFAULT '',
			sentence TEXT NOT NULL,
			fallback INTEGER NOT NULL DEFAULT 0,
			spoken INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_session_signs_session_id ON session_signs(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_session_id ON transcripts(session_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
