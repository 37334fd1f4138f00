package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brycehammond/allowance-sub012/internal/models"
	repository "github.com/brycehammond/allowance-sub012/internal/repository/postgres"
	pkgerrors "github.com/brycehammond/allowance-sub012/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var giftColumnNames = []string{"id", "child_id", "reference", "giver_name", "giver_email", "amount",
	"occasion", "message", "status", "goal_id", "savings_percentage", "transaction_id",
	"processed_by", "processed_at", "created_at"}

func pendingGiftRow(id, childID, amount int64, goalID interface{}, pct interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(giftColumnNames).
		AddRow(id, childID, "ref-123", "Grandma", "g@example.com", amount,
			"birthday", "happy birthday", models.GiftPending, goalID, pct, nil, nil, nil, time.Now().UTC())
}

func TestPostgresGiftRepositoryApprove(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresGiftRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	actor := models.Actor{Kind: models.ActorUser, ID: 5}

	lockGiftQuery := `FROM gifts WHERE id = $1 FOR UPDATE`

	t.Run("DefaultAllocationCreditsSpendable", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockGiftQuery)).
			WithArgs(int64(1)).
			WillReturnRows(pendingGiftRow(1, 2, 5000, nil, nil))
		mock.ExpectQuery(regexp.QuoteMeta(lockChildQuery)).
			WithArgs(int64(2)).
			WillReturnRows(childRow(100, 0, false))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE children SET spendable_balance = $1 WHERE id = $2`)).
			WithArgs(int64(5100), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO transactions`)).
			WithArgs(int64(2), int64(5000), models.TypeCredit, models.CategoryGift, "gift from Grandma", int64(5100), nil, "user:5").
			WillReturnRows(txInsertRow(40))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE gifts SET status = $1, transaction_id = $2, processed_by = $3, processed_at = $4 WHERE id = $5`)).
			WithArgs(models.GiftApproved, int64(40), "user:5", now, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := repo.Approve(ctx, 1, 0, now, actor)
		require.NoError(t, err)
		assert.Equal(t, models.GiftApproved, res.Gift.Status)
		require.NotNil(t, res.Transaction)
		assert.Equal(t, int64(5000), res.Transaction.Amount)
		assert.Nil(t, res.SavingsTransaction)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PercentageSplit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockGiftQuery)).
			WithArgs(int64(1)).
			WillReturnRows(pendingGiftRow(1, 2, 5000, nil, "40"))
		// spendable part
		mock.ExpectQuery(regexp.QuoteMeta(lockChildQuery)).
			WithArgs(int64(2)).
			WillReturnRows(childRow(0, 0, false))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE children SET spendable_balance = $1 WHERE id = $2`)).
			WithArgs(int64(3000), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO transactions`)).
			WithArgs(int64(2), int64(3000), models.TypeCredit, models.CategoryGift, "gift from Grandma", int64(3000), nil, "user:5").
			WillReturnRows(txInsertRow(41))
		// savings part, linked to the spendable credit
		spendableTxID := int64(41)
		mock.ExpectQuery(regexp.QuoteMeta(lockChildQuery)).
			WithArgs(int64(2)).
			WillReturnRows(childRow(3000, 0, false))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE children SET savings_balance = $1 WHERE id = $2`)).
			WithArgs(int64(2000), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO savings_transactions`)).
			WithArgs(int64(2), int64(2000), models.SavingsDeposit, int64(2000), false, &spendableTxID, "user:5").
			WillReturnRows(txInsertRow(42))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE gifts SET status = $1, transaction_id = $2, processed_by = $3, processed_at = $4 WHERE id = $5`)).
			WithArgs(models.GiftApproved, int64(41), "user:5", now, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := repo.Approve(ctx, 1, 2000, now, actor)
		require.NoError(t, err)
		require.NotNil(t, res.Transaction)
		assert.Equal(t, int64(3000), res.Transaction.Amount)
		require.NotNil(t, res.SavingsTransaction)
		assert.Equal(t, int64(2000), res.SavingsTransaction.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GoalAllocationContributes", func(t *testing.T) {
		goalID := int64(9)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockGiftQuery)).
			WithArgs(int64(1)).
			WillReturnRows(pendingGiftRow(1, 2, 5000, goalID, nil))
		mock.ExpectQuery(regexp.QuoteMeta(lockGoalQuery)).
			WithArgs(goalID).
			WillReturnRows(goalRow(9, 2, 20000, 1000, models.GoalActive))
		mock.ExpectQuery(regexp.QuoteMeta(loadMilestonesQuery)).
			WithArgs(goalID).
			WillReturnRows(milestoneColumns())
		mock.ExpectQuery(regexp.QuoteMeta(loadRuleQuery)).
			WithArgs(goalID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "goal_id", "type", "match_ratio",
				"max_match_amount", "total_matched_amount", "active", "expires_at"}))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO savings_contributions`)).
			WithArgs(goalID, int64(5000), models.ContributionExternalGift, "gift from Grandma", int64(6000), nil, "user:5").
			WillReturnRows(contributionInsertRow(43))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE savings_goals SET current_amount = $1, status = $2, completed_at = $3 WHERE id = $4`)).
			WithArgs(int64(6000), models.GoalActive, nil, goalID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE gifts SET status = $1, transaction_id = $2, processed_by = $3, processed_at = $4 WHERE id = $5`)).
			WithArgs(models.GiftApproved, nil, "user:5", now, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := repo.Approve(ctx, 1, 0, now, actor)
		require.NoError(t, err)
		require.NotNil(t, res.Contribution)
		assert.Equal(t, int64(5000), res.Contribution.Contribution.Amount)
		assert.Equal(t, models.ContributionExternalGift, res.Contribution.Contribution.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GoalBelongsToAnotherChild", func(t *testing.T) {
		goalID := int64(9)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockGiftQuery)).
			WithArgs(int64(1)).
			WillReturnRows(pendingGiftRow(1, 2, 5000, goalID, nil))
		mock.ExpectQuery(regexp.QuoteMeta(lockGoalQuery)).
			WithArgs(goalID).
			WillReturnRows(goalRow(9, 777, 20000, 1000, models.GoalActive))
		mock.ExpectRollback()

		_, err := repo.Approve(ctx, 1, 0, now, actor)
		assert.ErrorIs(t, err, pkgerrors.ErrGoalNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SecondApprovalFails", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockGiftQuery)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows(giftColumnNames).
				AddRow(1, 2, "ref-123", "Grandma", "g@example.com", 5000,
					"birthday", "happy birthday", models.GiftApproved, nil, nil, 40, "user:5", now, now.Add(-time.Hour)))
		mock.ExpectRollback()

		_, err := repo.Approve(ctx, 1, 0, now, actor)
		assert.ErrorIs(t, err, pkgerrors.ErrGiftAlreadyProcessed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockGiftQuery)).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(giftColumnNames))
		mock.ExpectRollback()

		_, err := repo.Approve(ctx, 99, 0, now, actor)
		assert.ErrorIs(t, err, pkgerrors.ErrGiftNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresGiftRepositoryReject(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresGiftRepository(db)
	ctx := context.Background()
	actor := models.Actor{Kind: models.ActorUser, ID: 5}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`FROM gifts WHERE id = $1 FOR UPDATE`)).
			WithArgs(int64(1)).
			WillReturnRows(pendingGiftRow(1, 2, 5000, nil, nil))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE gifts SET status = $1, processed_by = $2, processed_at = $3 WHERE id = $4`)).
			WithArgs(models.GiftRejected, "user:5", sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		g, err := repo.Reject(ctx, 1, actor)
		require.NoError(t, err)
		assert.Equal(t, models.GiftRejected, g.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresGiftRepositoryExpireStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresGiftRepository(db)
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-720 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE gifts SET status = 'expired', processed_at = now() WHERE status = 'pending' AND created_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.ExpireStale(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
