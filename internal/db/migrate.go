package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Migrate applies the idempotent schema for the given driver.
func Migrate(ctx context.Context, db *sql.DB, driver Driver) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	var schema string
	switch driver {
	case DriverPostgres:
		schema = schemaPostgres
	case DriverSQLite:
		schema = schemaSQLite
	default:
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}

	for _, stmt := range splitSQL(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: failed at %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func splitSQL(schema string) []string {
	parts := strings.Split(schema, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id            BIGSERIAL PRIMARY KEY,
  username      VARCHAR(100) NOT NULL UNIQUE,
  password_hash VARCHAR(200) NOT NULL,
  role          VARCHAR(20)  NOT NULL CHECK (role IN ('admin','instructor','pupil','parent')),
  class_level   VARCHAR(50),
  child_id      BIGINT REFERENCES users(id),
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS questions (
  id             BIGSERIAL PRIMARY KEY,
  question_text  TEXT NOT NULL,
  option_a       VARCHAR(200) NOT NULL,
  option_b       VARCHAR(200) NOT NULL,
  option_c       VARCHAR(200) NOT NULL,
  option_d       VARCHAR(200) NOT NULL,
  correct_option VARCHAR(1) NOT NULL CHECK (correct_option IN ('a','b','c','d')),
  class_level    VARCHAR(50) NOT NULL,
  instructor_id  BIGINT NOT NULL REFERENCES users(id),
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_questions_class_level ON questions (class_level);
CREATE INDEX IF NOT EXISTS idx_questions_instructor ON questions (instructor_id);

CREATE TABLE IF NOT EXISTS results (
  id          BIGSERIAL PRIMARY KEY,
  pupil_id    BIGINT NOT NULL REFERENCES users(id),
  score       INTEGER NOT NULL,
  total       INTEGER NOT NULL,
  comment     VARCHAR(50) NOT NULL,
  class_level VARCHAR(50),
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  CHECK (score >= 0 AND score <= total)
);

CREATE INDEX IF NOT EXISTS idx_results_pupil ON results (pupil_id, id);
CREATE INDEX IF NOT EXISTS idx_results_class_level ON results (class_level);

CREATE TABLE IF NOT EXISTS auth_sessions (
  id                 BIGSERIAL PRIMARY KEY,
  user_id            BIGINT NOT NULL REFERENCES users(id),
  session_token_hash VARCHAR(64) NOT NULL UNIQUE,
  expires_at         TIMESTAMPTZ NOT NULL,
  revoked_at         TIMESTAMPTZ,
  ip_address         VARCHAR(64),
  user_agent         TEXT,
  created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS auth_guard_states (
  purpose      VARCHAR(40)  NOT NULL,
  subject_key  VARCHAR(200) NOT NULL,
  failed_count INTEGER NOT NULL DEFAULT 0,
  locked_until TIMESTAMPTZ,
  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (purpose, subject_key)
);
`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  username      TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role          TEXT NOT NULL CHECK (role IN ('admin','instructor','pupil','parent')),
  class_level   TEXT,
  child_id      INTEGER REFERENCES users(id),
  created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  question_text  TEXT NOT NULL,
  option_a       TEXT NOT NULL,
  option_b       TEXT NOT NULL,
  option_c       TEXT NOT NULL,
  option_d       TEXT NOT NULL,
  correct_option TEXT NOT NULL CHECK (correct_option IN ('a','b','c','d')),
  class_level    TEXT NOT NULL,
  instructor_id  INTEGER NOT NULL REFERENCES users(id),
  created_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_questions_class_level ON questions (class_level);
CREATE INDEX IF NOT EXISTS idx_questions_instructor ON questions (instructor_id);

CREATE TABLE IF NOT EXISTS results (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  pupil_id    INTEGER NOT NULL REFERENCES users(id),
  score       INTEGER NOT NULL,
  total       INTEGER NOT NULL,
  comment     TEXT NOT NULL,
  class_level TEXT,
  created_at  TIMESTAMP NOT NULL,
  CHECK (score >= 0 AND score <= total)
);

CREATE INDEX IF NOT EXISTS idx_results_pupil ON results (pupil_id, id);
CREATE INDEX IF NOT EXISTS idx_results_class_level ON results (class_level);

CREATE TABLE IF NOT EXISTS auth_sessions (
  id                 INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id            INTEGER NOT NULL REFERENCES users(id),
  session_token_hash TEXT NOT NULL UNIQUE,
  expires_at         TIMESTAMP NOT NULL,
  revoked_at         TIMESTAMP,
  ip_address         TEXT,
  user_agent         TEXT,
  created_at         TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_guard_states (
  purpose      TEXT NOT NULL,
  subject_key  TEXT NOT NULL,
  failed_count INTEGER NOT NULL DEFAULT 0,
  locked_until TIMESTAMP,
  updated_at   TIMESTAMP NOT NULL,
  PRIMARY KEY (purpose, subject_key)
);
`
