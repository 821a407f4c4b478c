package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  []string
	args [][]any
	err  error
}

func (e *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = append(e.sql, sql)
	e.args = append(e.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

func TestUserIDFromContext(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	require.False(t, ok)

	ctx := ContextWithUserID(context.Background(), 7)
	id, ok := UserIDFromContext(ctx)
	require.True(t, ok)
	require.EqualValues(t, 7, id)

	_, ok = UserIDFromContext(ContextWithUserID(context.Background(), 0))
	require.False(t, ok)
}

func TestIdempotencyDuplicateKeyIsConflict(t *testing.T) {
	exec := &recordingExecer{err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"})}
	store := NewIdempotencyStore(nil).WithTx(exec)

	err := store.CheckAndInsert(context.Background(), "abc", "transactions")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, ErrConflict)
}

func TestIdempotencyRequiresKeyAndModule(t *testing.T) {
	store := NewIdempotencyStore(&recordingExecer{})
	require.Error(t, store.CheckAndInsert(context.Background(), "", "transactions"))
	require.Error(t, store.CheckAndInsert(context.Background(), "abc", ""))

	var nilStore *IdempotencyStore
	require.Error(t, nilStore.CheckAndInsert(context.Background(), "abc", "transactions"))
}

func TestAuditRecordWritesThroughTx(t *testing.T) {
	exec := &recordingExecer{}
	logger := NewAuditLogger(nil).WithTx(exec)

	err := logger.Record(context.Background(), AuditLog{ActorID: 3, Action: "transaction.create", Entity: "transaction", EntityID: "9", Meta: map[string]any{"type": "BUY"}})
	require.NoError(t, err)
	require.Len(t, exec.sql, 1)
	require.Contains(t, exec.sql[0], "INSERT INTO audit_logs")
	require.EqualValues(t, 3, exec.args[0][0])

	err = logger.Record(context.Background(), AuditLog{Action: "x"})
	require.Error(t, err)

	exec.err = errors.New("down")
	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
}
