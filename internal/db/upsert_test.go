package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "aggregated_attributes",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "aggregated_attributes",
		ConflictKeys: []string{"id"},
	}, [][]any{{"a"}})
	assert.Error(t, err)
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "aggregated_attributes",
		Columns: []string{"id"},
	}, [][]any{{"a"}})
	assert.Error(t, err)
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"a", "b"`, quoteAndJoin([]string{"a", "b"}))
}
