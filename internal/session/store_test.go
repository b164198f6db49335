package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id, entityID, projectID string) *Session {
	return &Session{
		ID:        id,
		EntityID:  entityID,
		ProjectID: projectID,
		Mode:      ModeBuild,
		Status:    StatusRunning,
	}
}

func TestStore_AddAndGet(t *testing.T) {
	store := NewStore()
	store.Add(newSession("s1", "e1", "p1"))

	got, ok := store.GetByID("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", got.ID)

	byEntity, ok := store.GetByEntityID("e1")
	require.True(t, ok)
	assert.Equal(t, "s1", byEntity.ID)

	byProject := store.GetByProjectID("p1")
	require.Len(t, byProject, 1)
	assert.Equal(t, "s1", byProject[0].ID)
}

func TestStore_DuplicateAddOverwrites(t *testing.T) {
	store := NewStore()
	store.Add(newSession("s1", "e1", "p1"))
	store.Add(newSession("s1", "e2", "p2"))

	got, ok := store.GetByID("s1")
	require.True(t, ok)
	assert.Equal(t, "e2", got.EntityID)

	// The old entity binding is gone.
	_, ok = store.GetByEntityID("e1")
	assert.False(t, ok)
	assert.Empty(t, store.GetByProjectID("p1"))
}

func TestStore_EntityLastWriteWins(t *testing.T) {
	store := NewStore()
	store.Add(newSession("s1", "e1", "p1"))
	store.Add(newSession("s2", "e1", "p1"))

	got, ok := store.GetByEntityID("e1")
	require.True(t, ok)
	assert.Equal(t, "s2", got.ID)
}

func TestStore_ProjectNonUnique(t *testing.T) {
	store := NewStore()
	store.Add(newSession("s1", "e1", "p1"))
	store.Add(newSession("s2", "e2", "p1"))
	store.Add(newSession("s3", "e3", "p2"))

	assert.Len(t, store.GetByProjectID("p1"), 2)
	assert.Len(t, store.GetByProjectID("p2"), 1)
	assert.Empty(t, store.GetByProjectID("p3"))
}

func TestStore_Remove(t *testing.T) {
	store := NewStore()
	store.Add(newSession("s1", "e1", "p1"))

	assert.True(t, store.Remove("s1"))
	assert.False(t, store.Remove("s1"))

	_, ok := store.GetByID("s1")
	assert.False(t, ok)
	_, ok = store.GetByEntityID("e1")
	assert.False(t, ok)
	assert.Empty(t, store.GetByProjectID("p1"))
}

func TestStore_GetAllSnapshot(t *testing.T) {
	store := NewStore()
	store.Add(newSession("s1", "e1", "p1"))
	store.Add(newSession("s2", "e2", "p1"))

	all := store.GetAll()
	assert.Len(t, all, 2)
	assert.Equal(t, 2, store.Count())

	store.Remove("s1")
	// The earlier snapshot is unaffected.
	assert.Len(t, all, 2)
}

func TestStore_RecordsCrossBoundaryByValue(t *testing.T) {
	store := NewStore()
	original := newSession("s1", "e1", "p1")
	store.Add(original)

	// Mutating the caller's record after Add changes nothing.
	original.Status = StatusErrored
	got, ok := store.GetByID("s1")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)

	// Mutating a returned record changes nothing until Update.
	got.ConversationID = "conv-1"
	again, _ := store.GetByID("s1")
	assert.Empty(t, again.ConversationID)

	store.Update(got)
	persisted, _ := store.GetByID("s1")
	assert.Equal(t, "conv-1", persisted.ConversationID)

	// Snapshot getters hand out copies too.
	store.GetAll()[0].Status = StatusStopped
	store.GetByProjectID("p1")[0].Status = StatusStopped
	final, _ := store.GetByID("s1")
	assert.Equal(t, StatusRunning, final.Status)
}

func TestStore_ConcurrentReadsDuringUpdates(t *testing.T) {
	store := NewStore()
	store.Add(newSession("s1", "e1", "p1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			sess, _ := store.GetByID("s1")
			sess.ConversationID = "conv"
			store.Update(sess)
		}
	}()
	for i := 0; i < 1000; i++ {
		if sess, ok := store.GetByID("s1"); ok {
			_ = sess.ConversationID
		}
		_ = store.GetAll()
	}
	<-done
}

func TestStore_UpdateUnknownIgnored(t *testing.T) {
	store := NewStore()
	store.Update(newSession("ghost", "e1", "p1"))

	_, ok := store.GetByID("ghost")
	assert.False(t, ok)
}
