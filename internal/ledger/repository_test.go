package ledger

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMapLockError(t *testing.T) {
	require.ErrorIs(t, mapLockError(pgx.ErrNoRows), ErrProductNotFound)

	// Bounded lock_timeout expiring while waiting on the row.
	require.ErrorIs(t, mapLockError(&pgconn.PgError{Code: "55P03"}), ErrLockTimeout)

	// Losing a concurrent-update race must stay retryable, not surface as a
	// storage failure.
	require.ErrorIs(t, mapLockError(&pgconn.PgError{Code: "40001"}), ErrSerialization)

	var persistence *PersistenceError
	require.ErrorAs(t, mapLockError(errors.New("connection reset")), &persistence)
	require.ErrorAs(t, mapLockError(&pgconn.PgError{Code: "23505"}), &persistence)
}

func TestClassifySeverity(t *testing.T) {
	filter := AnomalyFilter{AbsQtyThreshold: 100, CountThreshold: 10}

	// Exactly double the threshold is still MEDIUM; severity needs a strict
	// exceedance, mirroring the scan's HAVING clause.
	require.Equal(t, "MEDIUM", classifySeverity(Anomaly{AbsQuantity: 200, Movements: 20}, filter))
	require.Equal(t, "HIGH", classifySeverity(Anomaly{AbsQuantity: 201, Movements: 1}, filter))
	require.Equal(t, "HIGH", classifySeverity(Anomaly{AbsQuantity: 1, Movements: 21}, filter))
	require.Equal(t, "MEDIUM", classifySeverity(Anomaly{AbsQuantity: 150, Movements: 15}, filter))
}
