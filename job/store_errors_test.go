package job

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draywest/exportd/errors"
)

// Driver failures must surface as internal errors, never as taxonomy
// categories a caller would act on.
func TestStoreDriverFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE export_jobs").
		WillReturnError(assert.AnError)

	_, err = s.Cancel(ctx, "EJ_1")
	require.Error(t, err)
	assert.True(t, errors.IsInternal(err))
	assert.False(t, errors.IsConflict(err))

	mock.ExpectQuery("SELECT id FROM export_jobs").
		WillReturnError(assert.AnError)

	_, err = s.Dequeue(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsInternal(err))

	require.NoError(t, mock.ExpectationsWereMet())
}
