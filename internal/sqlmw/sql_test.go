package sqlmw

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/logger"
)

type recordingLogger struct {
	logger.Logger
	messages []string
	fields   [][]logger.Field
}

func (l *recordingLogger) Infon(msg string, fields ...logger.Field) {
	l.messages = append(l.messages, msg)
	l.fields = append(l.fields, fields)
}

func TestQueryWrapper(t *testing.T) {
	testCases := []struct {
		name          string
		executionTime time.Duration
		wantLog       bool
	}{
		{
			name:          "slow query",
			executionTime: 10 * time.Second,
			wantLog:       true,
		},
		{
			name:          "fast query",
			executionTime: time.Millisecond,
			wantLog:       false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })

			log := &recordingLogger{}
			qw := New(db,
				WithLogger(log),
				WithSlowQueryThreshold(time.Second),
				WithFields(logger.NewStringField("component", "test")),
			)
			qw.since = func(time.Time) time.Duration { return tc.executionTime }

			mock.ExpectExec("UPDATE resources").WillReturnResult(sqlmock.NewResult(0, 1))

			res, err := qw.ExecContext(context.Background(), "UPDATE resources\n   SET deleted = true")
			require.NoError(t, err)
			affected, err := res.RowsAffected()
			require.NoError(t, err)
			require.EqualValues(t, 1, affected)

			if !tc.wantLog {
				require.Empty(t, log.messages)
				return
			}
			require.Equal(t, []string{"executing query"}, log.messages)
			require.Len(t, log.fields[0], 3)
			require.Equal(t, "UPDATE resources SET deleted = true", log.fields[0][0].Value())
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWithTx(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM union_graphs").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = New(db).WithTx(context.Background(), func(tx *Tx) error {
			_, err := tx.ExecContext(context.Background(), "DELETE FROM union_graphs")
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM union_graphs").WillReturnError(context.DeadlineExceeded)
		mock.ExpectRollback()

		err = New(db).WithTx(context.Background(), func(tx *Tx) error {
			_, err := tx.ExecContext(context.Background(), "DELETE FROM union_graphs")
			return err
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
