package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zonedesk/ingest/internal/pipeline"
)

// TestUpsertIsIdempotentPerNaturalKey verifies re-upserting a natural key
// replaces the record but keeps the id stable.
func TestUpsertIsIdempotentPerNaturalKey(t *testing.T) {
	t.Parallel()

	repo := New()
	ctx := context.Background()

	id1, err := repo.Upsert(ctx, "freezone", "dmcc", pipeline.Record{"name": "DMCC", "rank": "1"})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := repo.Upsert(ctx, "freezone", "dmcc", pipeline.Record{"name": "DMCC", "rank": "2"})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	record, err := repo.GetByID(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, "2", record["rank"])
}

// TestUpsertSeparatesKinds verifies the same natural key under different
// kinds yields distinct records.
func TestUpsertSeparatesKinds(t *testing.T) {
	t.Parallel()

	repo := New()
	ctx := context.Background()

	id1, err := repo.Upsert(ctx, "freezone", "dmcc", pipeline.Record{"name": "DMCC"})
	require.NoError(t, err)
	id2, err := repo.Upsert(ctx, "fee", "dmcc", pipeline.Record{"name": "DMCC fees"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

// TestUpsertRejectsEmptyIdentity verifies kind and natural key are required.
func TestUpsertRejectsEmptyIdentity(t *testing.T) {
	t.Parallel()

	repo := New()
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "", "dmcc", pipeline.Record{})
	var se *pipeline.StoreError
	require.True(t, errors.As(err, &se))

	_, err = repo.Upsert(ctx, "freezone", "", pipeline.Record{})
	require.True(t, errors.As(err, &se))
}

// TestGetByIDUnknown verifies a missing id returns a typed store error.
func TestGetByIDUnknown(t *testing.T) {
	t.Parallel()

	repo := New()
	_, err := repo.GetByID(context.Background(), "nope")
	var se *pipeline.StoreError
	require.True(t, errors.As(err, &se))
}

// TestGetAllFilters verifies the reserved kind filter and scalar field
// equality both narrow results.
func TestGetAllFilters(t *testing.T) {
	t.Parallel()

	repo := New()
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "freezone", "dmcc", pipeline.Record{"name": "DMCC", "emirate": "Dubai"})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "freezone", "kizad", pipeline.Record{"name": "KIZAD", "emirate": "Abu Dhabi"})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "activity", "trading", pipeline.Record{"name": "Trading"})
	require.NoError(t, err)

	all, err := repo.GetAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	zones, err := repo.GetAll(ctx, map[string]string{"kind": "freezone"})
	require.NoError(t, err)
	require.Len(t, zones, 2)

	dubai, err := repo.GetAll(ctx, map[string]string{"kind": "freezone", "emirate": "Dubai"})
	require.NoError(t, err)
	require.Len(t, dubai, 1)
	require.Equal(t, "DMCC", dubai[0]["name"])

	none, err := repo.GetAll(ctx, map[string]string{"emirate": "Sharjah"})
	require.NoError(t, err)
	require.Empty(t, none)
}

// TestRecordsAreCopied verifies callers cannot mutate stored state through
// returned or supplied maps.
func TestRecordsAreCopied(t *testing.T) {
	t.Parallel()

	repo := New()
	ctx := context.Background()

	input := pipeline.Record{"name": "DMCC"}
	id, err := repo.Upsert(ctx, "freezone", "dmcc", input)
	require.NoError(t, err)
	input["name"] = "mutated"

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "DMCC", got["name"])

	got["name"] = "also mutated"
	again, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "DMCC", again["name"])
}
