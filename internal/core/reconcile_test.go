package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/shelter/internal/core"
	"github.com/JonMunkholm/shelter/internal/store/memory"
)

var errStoreDown = errors.New("store unavailable")

// failingStore wraps the memory store, records every mutation and fails the
// named method once it has succeeded `after` times.
type failingStore struct {
	*memory.Store
	failOn string
	after  int

	calls     map[string]int
	mutations []string
}

func (f *failingStore) hit(method string) error {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
	if method == f.failOn && f.calls[method] > f.after {
		return errStoreDown
	}
	return nil
}

func (f *failingStore) FindByID(ctx context.Context, id int64) (*core.AnimalRecord, error) {
	if err := f.hit("FindByID"); err != nil {
		return nil, err
	}
	return f.Store.FindByID(ctx, id)
}

func (f *failingStore) FindAll(ctx context.Context, filter core.FindAllFilter) ([]core.AnimalRecord, error) {
	if err := f.hit("FindAll"); err != nil {
		return nil, err
	}
	return f.Store.FindAll(ctx, filter)
}

func (f *failingStore) Create(ctx context.Context, fields core.AnimalFields) (*core.AnimalRecord, error) {
	if err := f.hit("Create"); err != nil {
		return nil, err
	}
	f.mutations = append(f.mutations, "create "+fields.Name)
	return f.Store.Create(ctx, fields)
}

func (f *failingStore) Update(ctx context.Context, id int64, fields core.AnimalFields) (*core.AnimalRecord, error) {
	if err := f.hit("Update"); err != nil {
		return nil, err
	}
	f.mutations = append(f.mutations, fmt.Sprintf("update %d", id))
	return f.Store.Update(ctx, id, fields)
}

func (f *failingStore) SoftDelete(ctx context.Context, id int64) error {
	if err := f.hit("SoftDelete"); err != nil {
		return err
	}
	f.mutations = append(f.mutations, fmt.Sprintf("delete %d", id))
	return f.Store.SoftDelete(ctx, id)
}

// previewAndConfirm runs a preview and returns every error-free row, the way
// the approval UI submits by default.
func previewAndConfirm(t *testing.T, store core.Store, csv string) []core.CandidateRow {
	t.Helper()
	resp, err := core.AnalyzeImport(context.Background(), store, []byte(csv))
	require.NoError(t, err)

	var ok []core.CandidateRow
	for _, r := range resp.Rows {
		if !r.HasErrors() {
			ok = append(ok, r)
		}
	}
	return ok
}

func mustFind(t *testing.T, store core.Store, id int64) *core.AnimalRecord {
	t.Helper()
	rec, err := store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec, "animal %d", id)
	return rec
}

func findByName(t *testing.T, store core.Store, name string) core.AnimalRecord {
	t.Helper()
	all, err := store.FindAll(context.Background(), core.FindAllFilter{})
	require.NoError(t, err)
	for _, rec := range all {
		if rec.Name == name {
			return rec
		}
	}
	t.Fatalf("no active animal named %q", name)
	return core.AnimalRecord{}
}

func TestReconcile_EmptyInput(t *testing.T) {
	store := &failingStore{Store: memory.New()}

	result, err := core.Reconcile(context.Background(), store, nil)

	require.ErrorIs(t, err, core.ErrNoRowsConfirmed)
	assert.Equal(t, core.ApplyResult{}, result)
	assert.Empty(t, store.calls, "empty input must not touch the store")
}

// Scenario A: two new cats, no pairing.
func TestReconcile_CreatesWithoutPairs(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	rows := previewAndConfirm(t, store, "name,bonded_pair_id\nWhiskers,\nMittens,\n")
	result, err := core.Reconcile(ctx, store, rows)

	require.NoError(t, err)
	assert.Equal(t, core.ApplyResult{Created: 2}, result)

	for _, name := range []string{"Whiskers", "Mittens"} {
		rec := findByName(t, store, name)
		assert.Nil(t, rec.BondedPairID)
	}
}

// Scenario D: a record missing from the file is swept.
func TestReconcile_SweepsAbsentRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(core.AnimalRecord{ID: 5, AnimalFields: core.AnimalFields{Name: "Pumpkin", Status: core.StatusAvailable}})

	csv := "name\n"
	for i := 1; i <= 10; i++ {
		csv += fmt.Sprintf("Cat %d\n", i)
	}

	rows := previewAndConfirm(t, store, csv)
	require.Len(t, rows, 10)

	result, err := core.Reconcile(ctx, store, rows)
	require.NoError(t, err)
	assert.Equal(t, core.ApplyResult{Created: 10, Deleted: 1}, result)

	rec := mustFind(t, store, 5)
	assert.True(t, rec.Deleted())
}

func TestReconcile_LinksPairsSymmetrically(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	// Only Pumpkin declares the pair; both sides must end up linked
	rows := previewAndConfirm(t, store, "id,name,bonded_pair_id\n5,Pumpkin,6\n6,Ziggy,\n7,Clover,\n")
	result, err := core.Reconcile(ctx, store, rows)

	require.NoError(t, err)
	assert.Equal(t, core.ApplyResult{Updated: 3}, result)

	pumpkin, ziggy, clover := mustFind(t, store, 5), mustFind(t, store, 6), mustFind(t, store, 7)
	require.NotNil(t, pumpkin.BondedPairID)
	require.NotNil(t, ziggy.BondedPairID)
	assert.Equal(t, int64(6), *pumpkin.BondedPairID)
	assert.Equal(t, int64(5), *ziggy.BondedPairID)
	assert.Nil(t, clover.BondedPairID)
}

func TestReconcile_ReciprocalPairResolvedOnce(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: seededStore()}

	rows := previewAndConfirm(t, store, "id,name,bonded_pair_id\n5,Pumpkin,6\n6,Ziggy,5\n7,Clover,\n")
	store.mutations = nil

	_, err := core.Reconcile(ctx, store, rows)
	require.NoError(t, err)

	// Three base writes, then one write per side of the single pair
	assert.Equal(t, []string{"update 5", "update 6", "update 7", "update 5", "update 6"}, store.mutations)
}

func TestReconcile_ClearsPairWhenPartnerNotWritten(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	rows := previewAndConfirm(t, store, "id,name,bonded_pair_id\n5,Pumpkin,6\n6,Ziggy,\n7,Clover,\n")

	// The user unticks Ziggy in the approval UI
	var confirmed []core.CandidateRow
	for _, r := range rows {
		if *r.ID != 6 {
			confirmed = append(confirmed, r)
		}
	}

	result, err := core.Reconcile(ctx, store, confirmed)
	require.NoError(t, err)
	assert.Equal(t, core.ApplyResult{Updated: 2, Deleted: 1}, result)

	assert.Nil(t, mustFind(t, store, 5).BondedPairID)
	ziggy := mustFind(t, store, 6)
	assert.True(t, ziggy.Deleted())
	assert.Nil(t, ziggy.BondedPairID)
}

func TestReconcile_ConflictingPairsNeverDangle(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	// Pumpkin and Clover both claim Ziggy
	rows := previewAndConfirm(t, store, "id,name,bonded_pair_id\n5,Pumpkin,6\n6,Ziggy,5\n7,Clover,6\n")
	require.Len(t, rows, 3)

	_, err := core.Reconcile(ctx, store, rows)
	require.NoError(t, err)

	pumpkin, ziggy, clover := mustFind(t, store, 5), mustFind(t, store, 6), mustFind(t, store, 7)
	require.NotNil(t, pumpkin.BondedPairID)
	assert.Equal(t, int64(6), *pumpkin.BondedPairID)
	assert.Equal(t, int64(5), *ziggy.BondedPairID)
	assert.Nil(t, clover.BondedPairID)

	assertPairsSymmetric(t, store)
}

func TestReconcile_SweepClearsStalePairs(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(
		core.AnimalRecord{ID: 1, AnimalFields: core.AnimalFields{Name: "Salt", BondedPairID: ptr(int64(2))}},
		core.AnimalRecord{ID: 2, AnimalFields: core.AnimalFields{Name: "Pepper", BondedPairID: ptr(int64(1))}},
	)

	rows := previewAndConfirm(t, store, "id,name\n1,Salt\n")
	result, err := core.Reconcile(ctx, store, rows)

	require.NoError(t, err)
	assert.Equal(t, core.ApplyResult{Updated: 1, Deleted: 1}, result)

	assert.Nil(t, mustFind(t, store, 1).BondedPairID)
	pepper := mustFind(t, store, 2)
	assert.True(t, pepper.Deleted())
	assert.Nil(t, pepper.BondedPairID)
}

func TestReconcile_SkipsRowsWithErrors(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: seededStore()}

	resp, err := core.AnalyzeImport(ctx, store, []byte("id,name,age_years\n5,Pumpkin,abc\n6,Ziggy,3\n,Fresh,x\n"))
	require.NoError(t, err)
	store.mutations = nil

	// Submit everything, errors included
	result, err := core.Reconcile(ctx, store, resp.Rows)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Created)
	assert.NotContains(t, store.mutations, "create Fresh")

	// Pumpkin was not written, so the sweep archives it unchanged
	pumpkin := mustFind(t, store, 5)
	assert.True(t, pumpkin.Deleted())
	assert.Equal(t, core.StatusHold, pumpkin.Status)
}

func TestReconcile_SkipOperation(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	rows := previewAndConfirm(t, store, "id,name\n5,Pumpkin\n6,Ziggy\n7,Clover\n")
	rows[1].Operation = core.OpSkip

	result, err := core.Reconcile(ctx, store, rows)
	require.NoError(t, err)
	assert.Equal(t, core.ApplyResult{Updated: 2, Deleted: 1, Skipped: 1}, result)
	assert.True(t, mustFind(t, store, 6).Deleted())
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(
		core.AnimalRecord{ID: 1, AnimalFields: core.AnimalFields{Name: "Salt", Status: core.StatusAvailable}},
		core.AnimalRecord{ID: 2, AnimalFields: core.AnimalFields{Name: "Pepper", Status: core.StatusAvailable}},
		core.AnimalRecord{ID: 3, AnimalFields: core.AnimalFields{Name: "Cumin", Status: core.StatusAvailable}},
	)

	csv := "id,name,age_years,bonded_pair_id,status\n1,Salt,4,2,pending\n2,Pepper,12,1,\n"

	rows := previewAndConfirm(t, store, csv)
	first, err := core.Reconcile(ctx, store, rows)
	require.NoError(t, err)
	assert.Equal(t, core.ApplyResult{Updated: 2, Deleted: 1}, first)

	before, err := store.FindAll(ctx, core.FindAllFilter{IncludeDeleted: true})
	require.NoError(t, err)

	rows = previewAndConfirm(t, store, csv)
	second, err := core.Reconcile(ctx, store, rows)
	require.NoError(t, err)
	assert.Equal(t, core.ApplyResult{Updated: 2}, second)

	after, err := store.FindAll(ctx, core.FindAllFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].AnimalFields, after[i].AnimalFields, "animal %d", before[i].ID)
		assert.Equal(t, before[i].DeletedAt, after[i].DeletedAt, "animal %d", before[i].ID)
	}

	assertPairsSymmetric(t, store)
}

func TestReconcile_PartialFailureKeepsCompletedWork(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: seededStore(), failOn: "Create", after: 1}

	rows := previewAndConfirm(t, store, "id,name\n5,Pumpkin\n,First\n,Second\n,Third\n")
	result, err := core.Reconcile(ctx, store, rows)

	require.ErrorIs(t, err, errStoreDown)
	assert.Contains(t, err.Error(), "base writes")
	assert.Equal(t, core.ApplyResult{Updated: 1, Created: 1}, result)

	// Nothing was swept because pass 3 never ran
	assert.False(t, mustFind(t, store, 6).Deleted())
	findByName(t, store, "First")

	// Re-running the same rows on a healthy store converges
	store.failOn = ""
	rows = previewAndConfirm(t, store, "id,name\n5,Pumpkin\n,Second\n,Third\n")
	_, err = core.Reconcile(ctx, store, rows)
	require.NoError(t, err)
}

func TestReconcile_FailureInSweep(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: seededStore(), failOn: "SoftDelete", after: 1}

	rows := previewAndConfirm(t, store, "name\nOnly cat\n")
	result, err := core.Reconcile(ctx, store, rows)

	require.ErrorIs(t, err, errStoreDown)
	assert.Contains(t, err.Error(), "sweep")
	assert.Equal(t, core.ApplyResult{Created: 1, Deleted: 1}, result)
}

func TestReconcile_UpdateTargetVanished(t *testing.T) {
	ctx := context.Background()
	store := seededStore()

	rows := previewAndConfirm(t, store, "id,name\n5,Pumpkin\n")
	require.NoError(t, store.SoftDelete(ctx, 5))

	result, err := core.Reconcile(ctx, store, rows)
	require.ErrorIs(t, err, core.ErrRecordNotFound)
	assert.Equal(t, "IMP002", core.MapError(err).Code)
	assert.Equal(t, core.ApplyResult{}, result)

	// The apply stopped before the sweep
	assert.False(t, mustFind(t, store, 6).Deleted())
}

func TestReconcile_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := seededStore()
	rows := previewAndConfirm(t, store, "id,name\n5,Pumpkin\n")
	cancel()

	result, err := core.Reconcile(ctx, store, rows)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.ApplyResult{}, result)
}

// assertPairsSymmetric checks every active bonded pair points both ways and
// never at a deleted record.
func assertPairsSymmetric(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()

	active, err := store.FindAll(ctx, core.FindAllFilter{})
	require.NoError(t, err)
	for _, rec := range active {
		if rec.BondedPairID == nil {
			continue
		}
		partner := mustFind(t, store, *rec.BondedPairID)
		assert.False(t, partner.Deleted(), "animal %d paired with deleted %d", rec.ID, partner.ID)
		if assert.NotNil(t, partner.BondedPairID, "animal %d not paired back", partner.ID) {
			assert.Equal(t, rec.ID, *partner.BondedPairID)
		}
	}
}
