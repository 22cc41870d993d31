package storage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatureBlueee/Towow-sub000/core"
)

func openTestDB(t *testing.T) *DBStorage {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetByPrefix(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put("a:1", []byte("one")))
	require.NoError(t, db.Put("a:2", []byte("two")))
	require.NoError(t, db.Put("b:1", []byte("other")))

	got, err := db.GetByPrefix("a:")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a:1": []byte("one"), "a:2": []byte("two")}, got)

	missing, err := db.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, db.Delete("a:1"))
	got, err = db.GetByPrefix("a:")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a:2": []byte("two")}, got)
	assert.Equal(t, int64(3), db.Metrics().PutCount)
}

func TestGetObjectMissingIsNotFound(t *testing.T) {
	db := openTestDB(t)
	var v map[string]string
	assert.ErrorIs(t, db.GetObject("missing", &v), core.ErrNotFound)
}

func TestProfileRepositoryAppendsExperiences(t *testing.T) {
	repo := NewProfileRepository(openTestDB(t))
	require.NoError(t, repo.SaveBase(core.ProfileData{AgentID: "alice", Text: "contract lawyer"}))

	p, err := repo.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Version)
	assert.Empty(t, p.Experiences)

	for i := 0; i < 12; i++ {
		require.NoError(t, repo.AppendExperience("alice", core.Experience{
			Kind: core.OutcomeCompleted, Summary: fmt.Sprintf("job %d", i), Weight: 1,
		}))
	}
	p, err = repo.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(13), p.Version)
	require.Len(t, p.Experiences, 12)
	assert.Equal(t, "job 0", p.Experiences[0].Summary)
	assert.Equal(t, "job 11", p.Experiences[11].Summary, "append order survives key sorting")
	assert.Equal(t, "contract lawyer", p.Text)

	v, err := repo.Version("alice")
	require.NoError(t, err)
	assert.Equal(t, p.Version, v)
	_, err = repo.Version("ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = repo.AppendExperience("ghost", core.Experience{Kind: core.OutcomeFailed})
	assert.ErrorIs(t, err, core.ErrNotFound)

	ids, err := repo.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)
}

func TestProfileRepositoryConcurrentAppends(t *testing.T) {
	repo := NewProfileRepository(openTestDB(t))
	require.NoError(t, repo.SaveBase(core.ProfileData{AgentID: "bob", Text: "plumber"}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.AppendExperience("bob", core.Experience{Kind: core.OutcomeDelivered, Summary: fmt.Sprint(i), Weight: 1})
		}(i)
	}
	wg.Wait()

	p, err := repo.Get("bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(p.Experiences)+1), p.Version, "version tracks every stored append")
}

type record struct {
	ID    string   `json:"id"`
	Notes []string `json:"notes"`
}

func TestArchiveRoundTripAndEviction(t *testing.T) {
	repo := NewArchiveRepository(openTestDB(t))
	now := time.Now()

	require.NoError(t, repo.Save("old", now.Add(-48*time.Hour), record{ID: "old", Notes: []string{"x"}}))
	require.NoError(t, repo.Save("new", now, record{ID: "new", Notes: []string{"plan", "plan", "plan"}}))

	var got record
	require.NoError(t, repo.Load("new", &got))
	assert.Equal(t, "new", got.ID)
	assert.Len(t, got.Notes, 3)

	n, err := repo.EvictBefore(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, repo.Load("old", &got), core.ErrNotFound)
	assert.NoError(t, repo.Load("new", &got))
}
