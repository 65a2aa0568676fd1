package audit

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"runningnotes/internal/notify"
)

func testDelivery(err error) notify.Delivery {
	return notify.Delivery{
		Handle:    "jane.doe",
		Email:     "jane.doe@example.org",
		Channel:   notify.ChannelSlack,
		Reason:    notify.ReasonUserTag,
		ProjectID: "P12345",
		Anchor:    "running_note_P12345_1709296200",
		Err:       err,
		At:        time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
	}
}

func TestRecord(t *testing.T) {
	assert := assert.New(t)

	db, mock, err := sqlmock.New()
	assert.NoError(err, "unable to open the mock database connection")
	defer db.Close()

	mock.ExpectExec("INSERT INTO notification_deliveries \\(id,handle,email,channel,reason,project_id,anchor,succeeded,error,time_sent\\)").
		WithArgs(sqlmock.AnyArg(), "jane.doe", "jane.doe@example.org", "slack", "userTag", "P12345",
			"running_note_P12345_1709296200", false, "invalid_auth", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewLog(db).Record(context.Background(), testDelivery(errors.New("invalid_auth")))
	assert.NoError(err, "unexpected error recording the delivery")

	assert.NoError(mock.ExpectationsWereMet(), "not all mock expectations were met")
}

func TestRecordFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO notification_deliveries").WillReturnError(errors.New("connection refused"))

	err = NewLog(db).Record(context.Background(), testDelivery(nil))
	assert.ErrorContains(t, err, "unable to record notification delivery")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sent := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "handle", "email", "channel", "reason", "project_id", "anchor", "succeeded", "error", "time_sent"}).
		AddRow("d1", "jane.doe", "jane.doe@example.org", "email", "creation", "P1", "running_note_P1_1", true, "", sent)
	mock.ExpectQuery("SELECT id, handle, email, channel, reason, project_id, anchor, succeeded, error, time_sent FROM notification_deliveries WHERE handle = \\$1 ORDER BY time_sent DESC LIMIT 10").
		WithArgs("jane.doe").
		WillReturnRows(rows)

	entries, err := NewLog(db).Recent(context.Background(), "jane.doe", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "email", entries[0].Channel)
	assert.True(t, entries[0].Succeeded)
	assert.Equal(t, sent, entries[0].TimeSent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLogAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	l := NewLog(openSQLite(t))
	require.NoError(t, l.EnsureSchema(ctx))
	require.NoError(t, l.EnsureSchema(ctx), "schema creation is repeatable")

	first := testDelivery(errors.New("invalid_auth"))
	second := testDelivery(nil)
	second.Channel = notify.ChannelEmail
	second.At = first.At.Add(time.Second)

	require.NoError(t, l.Record(ctx, first))
	require.NoError(t, l.Record(ctx, second))

	entries, err := l.Recent(ctx, "jane.doe", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "email", entries[0].Channel)
	assert.True(t, entries[0].Succeeded)
	assert.Equal(t, "slack", entries[1].Channel)
	assert.False(t, entries[1].Succeeded)
	assert.Equal(t, "invalid_auth", entries[1].Error)

	none, err := l.Recent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListDeliveriesHandler(t *testing.T) {
	ctx := context.Background()
	l := NewLog(openSQLite(t))
	require.NoError(t, l.EnsureSchema(ctx))
	require.NoError(t, l.Record(ctx, testDelivery(nil)))

	mux := http.NewServeMux()
	NewHandler(l, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notification_deliveries/jane.doe?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"project_id":"P12345"`)
}
