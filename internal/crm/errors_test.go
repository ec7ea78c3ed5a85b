package crm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchErrorIs(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err         *BatchError
		wantPartial bool
	}{
		"some records failed": {
			err: &BatchError{
				Failures: []RecordFailure{{Index: 1, Message: "bad"}},
				Op:       "insert",
				Total:    3,
			},
			wantPartial: true,
		},
		"every record failed": {
			err: &BatchError{
				Failures: []RecordFailure{{Index: 0}, {Index: 1}},
				Op:       "insert",
				Total:    2,
			},
			wantPartial: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			wrapped := fmt.Errorf("linking contacts: %w", tc.err)

			require.ErrorIs(t, wrapped, ErrWriteFailed)
			require.Equal(t, tc.wantPartial, errors.Is(wrapped, ErrPartialBatch))
		})
	}
}

func TestBatchErrorMessage(t *testing.T) {
	t.Parallel()

	err := &BatchError{
		Failures: []RecordFailure{
			{Index: 0, ID: "003A", Code: "ENTITY_IS_DELETED", Message: "entity is deleted"},
			{Index: 2, Message: "missing name"},
		},
		Op:    "upsert",
		Total: 3,
	}

	require.Equal(t,
		"upsert: 2 of 3 records failed: record 0 (003A): ENTITY_IS_DELETED: entity is deleted; record 2: missing name",
		err.Error())
}

func TestWriteFailed(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := WriteFailed("inserting records", cause)

	require.ErrorIs(t, err, ErrWriteFailed)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "inserting records: write failed: connection reset", err.Error())
}
