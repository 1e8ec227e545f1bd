package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/litapp/billing-service/internal/models"
	repository "github.com/litapp/billing-service/internal/repository/postgres"
	pkgerrors "github.com/litapp/billing-service/pkg/errors"
	"github.com/stretchr/testify/assert"
)

var callColumns = []string{
	"id", "caller_id", "rate_per_minute", "status", "started_at", "ended_at",
	"duration_seconds", "cost", "billing_status", "transaction_id", "invoice_id",
}

func TestPostgresCallRepository_ClaimEnd(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresCallRepository(db)
	ctx := context.Background()

	startedAt := time.Now().Add(-90 * time.Second)
	endedAt := time.Now()

	t.Run("FirstCallerWins", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE calls SET status = 'ended', ended_at = $2`)).
			WithArgs("call-1", endedAt).
			WillReturnRows(sqlmock.NewRows(callColumns).AddRow(
				"call-1", int64(42), int64(10), "ended", startedAt, endedAt,
				int64(0), int64(0), "", "", ""))

		call, won, err := repo.ClaimEnd(ctx, "call-1", endedAt)
		assert.NoError(t, err)
		assert.True(t, won)
		assert.Equal(t, models.CallStatusEnded, call.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SecondCallerReadsExisting", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE calls SET status = 'ended', ended_at = $2`)).
			WithArgs("call-1", endedAt).
			WillReturnRows(sqlmock.NewRows(callColumns))
		mock.ExpectQuery(regexp.QuoteMeta(`FROM calls WHERE id = $1`)).
			WithArgs("call-1").
			WillReturnRows(sqlmock.NewRows(callColumns).AddRow(
				"call-1", int64(42), int64(10), "ended", startedAt, endedAt,
				int64(90), int64(20), "paid", "tx-1", ""))

		call, won, err := repo.ClaimEnd(ctx, "call-1", endedAt)
		assert.NoError(t, err)
		assert.False(t, won)
		assert.Equal(t, int64(20), call.Cost)
		assert.Equal(t, models.CallBillingPaid, call.BillingStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE calls SET status = 'ended', ended_at = $2`)).
			WithArgs("missing", endedAt).
			WillReturnRows(sqlmock.NewRows(callColumns))
		mock.ExpectQuery(regexp.QuoteMeta(`FROM calls WHERE id = $1`)).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(callColumns))

		_, _, err := repo.ClaimEnd(ctx, "missing", endedAt)
		assert.ErrorIs(t, err, pkgerrors.ErrCallNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
