package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Constraint names referenced when translating unique violations.
const (
	GroupNoUniqueIndex      = "ux_groups_no_active"
	StudentEmailUniqueIndex = "ux_students_email_active"
)

const migration001Groups = `
CREATE TABLE IF NOT EXISTS groups (
    id BIGSERIAL PRIMARY KEY,
    no VARCHAR(20) NOT NULL,
    "limit" INTEGER NOT NULL,
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_group_limit CHECK ("limit" > 0)
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_groups_no_active ON groups(no) WHERE is_deleted = FALSE;
`

const migration002Students = `
CREATE TABLE IF NOT EXISTS students (
    id BIGSERIAL PRIMARY KEY,
    full_name VARCHAR(100) NOT NULL,
    email VARCHAR(100) NOT NULL,
    birth_date DATE NOT NULL,
    group_id BIGINT NOT NULL REFERENCES groups(id),
    photo VARCHAR(255),
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_students_email_active ON students(LOWER(email)) WHERE is_deleted = FALSE;
CREATE INDEX IF NOT EXISTS idx_students_group_active ON students(group_id) WHERE is_deleted = FALSE;
`

type migration struct {
	name string
	up   string
}

var migrations = []migration{
	{name: "001_groups", up: migration001Groups},
	{name: "002_students", up: migration002Students},
}

// Migrate applies the idempotent schema statements in order.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}
