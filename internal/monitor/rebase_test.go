package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebaseSuccessSyncsLocal(t *testing.T) {
	f := &fakeBackend{}
	repo := &fakeRepo{branch: "feature/x"}
	opts := fastOptions()
	opts.LocalSync = true

	m := New(f, opts)
	m.SetLocalRepo(repo)
	res := m.rebase(t.Context(), 42, "feature/x")

	assert.True(t, res.Success)
	assert.Equal(t, 1, repo.fetchCalls)
	assert.Equal(t, []string{"origin/feature/x"}, repo.resetRefs)
	assert.Equal(t, 1, repo.hookCalls)
}

func TestRebaseSkipsSyncOnOtherBranch(t *testing.T) {
	f := &fakeBackend{}
	repo := &fakeRepo{branch: "main"}
	opts := fastOptions()
	opts.LocalSync = true

	m := New(f, opts)
	m.SetLocalRepo(repo)
	res := m.rebase(t.Context(), 42, "feature/x")

	// The rebase itself succeeds but the trunk checkout is left alone.
	assert.True(t, res.Success)
	assert.Zero(t, repo.fetchCalls)
	assert.Empty(t, repo.resetRefs)
	assert.Zero(t, repo.hookCalls)
}

func TestRebaseLocalSyncFailureStillSucceeds(t *testing.T) {
	f := &fakeBackend{}
	repo := &fakeRepo{branch: "feature/x", fetchErr: errors.New("offline")}
	opts := fastOptions()
	opts.LocalSync = true

	m := New(f, opts)
	m.SetLocalRepo(repo)
	res := m.rebase(t.Context(), 42, "feature/x")

	assert.True(t, res.Success)
	assert.Empty(t, repo.resetRefs)
}

func TestRebaseSyncDisabled(t *testing.T) {
	f := &fakeBackend{}
	repo := &fakeRepo{branch: "feature/x"}

	m := New(f, fastOptions())
	m.SetLocalRepo(repo)
	res := m.rebase(t.Context(), 42, "feature/x")

	assert.True(t, res.Success)
	assert.Zero(t, repo.fetchCalls)
}

func TestRebaseWithoutLocalRepo(t *testing.T) {
	f := &fakeBackend{}
	opts := fastOptions()
	opts.LocalSync = true

	m := New(f, opts)
	res := m.rebase(t.Context(), 42, "feature/x")

	assert.True(t, res.Success)
}

func TestRebaseConflictClassified(t *testing.T) {
	f := &fakeBackend{rebaseErr: errors.New("405 rebase cannot be performed because of merge conflicts")}

	m := New(f, fastOptions())
	res := m.rebase(t.Context(), 42, "feature/x")

	assert.False(t, res.Success)
	assert.True(t, res.Conflict)
	assert.Contains(t, res.ErrorMessage, "merge conflicts")
}

func TestRebaseTransientNotConflict(t *testing.T) {
	f := &fakeBackend{rebaseErr: errors.New("502 bad gateway")}

	m := New(f, fastOptions())
	res := m.rebase(t.Context(), 42, "feature/x")

	assert.False(t, res.Success)
	assert.False(t, res.Conflict)
}
