package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeGitURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "https URL",
			url:  "https://github.com/Owner/Repo.git",
			want: "github.com/owner/repo",
		},
		{
			name: "https without .git",
			url:  "https://github.com/owner/repo",
			want: "github.com/owner/repo",
		},
		{
			name: "ssh URL",
			url:  "git@github.com:owner/repo.git",
			want: "github.com/owner/repo",
		},
		{
			name: "http URL",
			url:  "http://github.com/owner/repo/",
			want: "github.com/owner/repo",
		},
		{
			name: "whitespace trimmed",
			url:  "  https://github.com/owner/repo.git\n",
			want: "github.com/owner/repo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeGitURL(tt.url))
		})
	}
}

func TestSplitOwnerRepo(t *testing.T) {
	tests := []struct {
		name      string
		remote    string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{
			name:      "https remote",
			remote:    "https://github.com/alanmeadows/shepherd.git",
			wantOwner: "alanmeadows",
			wantRepo:  "shepherd",
		},
		{
			name:      "ssh remote",
			remote:    "git@github.com:octocat/hello-world.git",
			wantOwner: "octocat",
			wantRepo:  "hello-world",
		},
		{
			name:    "non-github host",
			remote:  "https://gitlab.com/owner/repo.git",
			wantErr: true,
		},
		{
			name:    "missing repo segment",
			remote:  "https://github.com/owner",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := splitOwnerRepo(tt.remote)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantRepo, repo)
		})
	}
}

func TestRunPostRebaseHook_Missing(t *testing.T) {
	w := NewWorkspace(t.TempDir())
	assert.NoError(t, w.RunPostRebaseHook(t.Context()))
}

func TestRunPostRebaseHook_NotExecutable(t *testing.T) {
	dir := t.TempDir()
	hookDir := filepath.Join(dir, HookDir)
	require.NoError(t, os.MkdirAll(hookDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "post-rebase"), []byte("#!/bin/sh\nexit 1\n"), 0644))

	w := NewWorkspace(dir)
	// Non-executable hooks are skipped, not run.
	assert.NoError(t, w.RunPostRebaseHook(t.Context()))
}

func TestRunPostRebaseHook_Succeeds(t *testing.T) {
	dir := t.TempDir()
	hookDir := filepath.Join(dir, HookDir)
	require.NoError(t, os.MkdirAll(hookDir, 0755))

	marker := filepath.Join(dir, "hook-ran")
	script := "#!/bin/sh\ntouch \"" + marker + "\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "post-rebase"), []byte(script), 0755))

	w := NewWorkspace(dir)
	require.NoError(t, w.RunPostRebaseHook(t.Context()))

	_, err := os.Stat(marker)
	assert.NoError(t, err, "hook should have created the marker file")
}

func TestRunPostRebaseHook_Fails(t *testing.T) {
	dir := t.TempDir()
	hookDir := filepath.Join(dir, HookDir)
	require.NoError(t, os.MkdirAll(hookDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "post-rebase"), []byte("#!/bin/sh\necho regen failed >&2\nexit 3\n"), 0755))

	w := NewWorkspace(dir)
	err := w.RunPostRebaseHook(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post-rebase hook")
	assert.Contains(t, err.Error(), "regen failed")
}
