// Package audit keeps a SQL log of notification delivery attempts.
package audit

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cyverse-de/dbutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"runningnotes/internal/notify"
)

const table = "notification_deliveries"

const schema = `CREATE TABLE IF NOT EXISTS notification_deliveries (
	id         TEXT PRIMARY KEY,
	handle     TEXT NOT NULL,
	email      TEXT NOT NULL,
	channel    TEXT NOT NULL,
	reason     TEXT NOT NULL,
	project_id TEXT NOT NULL,
	anchor     TEXT NOT NULL,
	succeeded  BOOLEAN NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	time_sent  TIMESTAMP NOT NULL
)`

// Entry is one recorded delivery attempt.
type Entry struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Email     string    `json:"email"`
	Channel   string    `json:"channel"`
	Reason    string    `json:"reason"`
	ProjectID string    `json:"project_id"`
	Anchor    string    `json:"anchor"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
	TimeSent  time.Time `json:"time_sent"`
}

// Open establishes a database connection, retrying until the database can be reached.
func Open(driverName, dsn string) (*sql.DB, error) {
	wrapMsg := "unable to initialize the audit database"

	connector, err := dbutil.NewDefaultConnector("1m")
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	db, err := connector.Connect(driverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return db, nil
}

// Log records deliveries into the notification_deliveries table.
type Log struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

func NewLog(db *sql.DB) *Log {
	return &Log{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the deliveries table if it does not exist.
func (l *Log) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "unable to create the deliveries table")
	}
	return nil
}

// Record inserts a single delivery attempt.
func (l *Log) Record(ctx context.Context, d notify.Delivery) error {
	wrapMsg := "unable to record notification delivery"

	errText := ""
	if d.Err != nil {
		errText = d.Err.Error()
	}

	statement, args, err := l.builder.
		Insert(table).
		Columns(
			"id",
			"handle",
			"email",
			"channel",
			"reason",
			"project_id",
			"anchor",
			"succeeded",
			"error",
			"time_sent").
		Values(
			uuid.NewString(),
			d.Handle,
			d.Email,
			string(d.Channel),
			d.Reason.String(),
			d.ProjectID,
			d.Anchor,
			d.Err == nil,
			errText,
			d.At.UTC()).
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	if _, err := l.db.ExecContext(ctx, statement, args...); err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// Recent returns the latest deliveries to a user handle, newest first.
func (l *Log) Recent(ctx context.Context, handle string, limit uint64) ([]Entry, error) {
	wrapMsg := "unable to list notification deliveries"

	statement, args, err := l.builder.
		Select("id", "handle", "email", "channel", "reason", "project_id", "anchor", "succeeded", "error", "time_sent").
		From(table).
		Where(sq.Eq{"handle": handle}).
		OrderBy("time_sent DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	rows, err := l.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		err := rows.Scan(&e.ID, &e.Handle, &e.Email, &e.Channel, &e.Reason, &e.ProjectID, &e.Anchor,
			&e.Succeeded, &e.Error, &e.TimeSent)
		if err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return entries, nil
}
