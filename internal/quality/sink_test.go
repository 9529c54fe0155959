package quality

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresResultStore_Append(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := &Result{
		CheckID:       "7f1c2c9e-0000-4000-8000-000000000001",
		TableName:     "dim_game",
		Timestamp:     evalTime,
		OverallStatus: StatusPassed,
		Checks: map[string]*CategoryResult{
			CategoryUniqueness: {Passed: true, Results: map[string]CheckResult{"game_id": {Passed: true, Total: 3}}},
		},
	}

	mock.ExpectExec(`INSERT INTO "warehouse"."quality_results"`).
		WithArgs(r.CheckID, "dim_game", evalTime, StatusPassed, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPostgresResultStore(mock, "warehouse").Append(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResultStore_Latest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM "warehouse"."quality_results" WHERE table_name = \$1 ORDER BY checked_at DESC LIMIT \$2`).
		WithArgs("dim_game", 10).
		WillReturnRows(pgxmock.NewRows([]string{"check_id", "table_name", "checked_at", "overall_status", "results"}).
			AddRow("id-1", "dim_game", evalTime, StatusFailed,
				[]byte(`{"completeness":{"passed":false,"results":{"year":{"passed":false,"total_count":10,"violation_count":1}}}}`)))

	got, err := NewPostgresResultStore(mock, "warehouse").Latest(context.Background(), "dim_game", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{CategoryCompleteness}, got[0].FailedCategories())
	assert.Equal(t, int64(1), got[0].Checks[CategoryCompleteness].Results["year"].Violations)
	assert.NoError(t, mock.ExpectationsWereMet())
}
