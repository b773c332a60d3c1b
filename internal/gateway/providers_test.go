package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-dev/portside/internal/cache"
	"github.com/portside-dev/portside/internal/models"
	"github.com/portside-dev/portside/internal/services"
)

func newProviderRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "app.go"), []byte("package src\n"), 0o644))
	return root
}

func TestFilesHandlerListAndTree(t *testing.T) {
	files := services.NewFilesService(newProviderRoot(t))
	h := NewFilesHandler(files)
	client := NewClient("c1")

	h.Handle(client, models.NewEnvelope(models.TypeFileList, models.FileListRequest{Path: ""}))
	env := recv(t, client)
	require.Equal(t, models.TypeFileListResponse, env.Type)
	var list models.FileListResponse
	require.NoError(t, env.Decode(&list))
	require.Len(t, list.Entries, 2)
	assert.Equal(t, "src", list.Entries[0].Name)
	assert.Equal(t, "main.go", list.Entries[1].Name)

	h.Handle(client, models.NewEnvelope(models.TypeFileTree, models.FileTreeRequest{Path: ""}))
	env = recv(t, client)
	require.Equal(t, models.TypeFileTreeResponse, env.Type)
	var tree models.FileTreeResponse
	require.NoError(t, env.Decode(&tree))
	require.NotNil(t, tree.Tree)
	assert.True(t, tree.Tree.IsDir)
	assert.Len(t, tree.Tree.Children, 2)
}

func TestFilesHandlerError(t *testing.T) {
	files := services.NewFilesService(newProviderRoot(t))
	h := NewFilesHandler(files)
	client := NewClient("c1")

	h.Handle(client, models.NewEnvelope(models.TypeFileList, models.FileListRequest{Path: "missing"}))
	env := recv(t, client)
	assert.Equal(t, models.TypeFileListResponse, env.Type)
	assert.NotEmpty(t, env.Error)
}

func TestSearchHandler(t *testing.T) {
	files := services.NewFilesService(newProviderRoot(t))
	h := NewSearchHandler(services.NewSearchService(files))
	client := NewClient("c1")

	h.Handle(client, models.NewEnvelope(models.TypeSearch, models.SearchRequest{Query: "package"}))
	env := recv(t, client)
	require.Equal(t, models.TypeSearchResponse, env.Type)
	var resp models.SearchResponse
	require.NoError(t, env.Decode(&resp))
	assert.Len(t, resp.Matches, 2)

	// Empty query is an error envelope.
	h.Handle(client, models.NewEnvelope(models.TypeSearch, models.SearchRequest{}))
	env = recv(t, client)
	assert.NotEmpty(t, env.Error)
}

func TestGitHandlerStatusAndOps(t *testing.T) {
	root := t.TempDir()
	statusCache := cache.NewWithDefaults()
	t.Cleanup(func() { statusCache.Close() })
	git := services.NewGitService(services.NewFilesService(root), statusCache)
	h := NewGitHandler(git)
	client := NewClient("c1")

	// No repository yet: read op answers with an error envelope, write op
	// with success:false.
	h.Handle(client, models.NewEnvelope(models.TypeGitStatus, models.GitStatusRequest{Path: ""}))
	env := recv(t, client)
	assert.Equal(t, models.TypeGitStatusResponse, env.Type)
	assert.NotEmpty(t, env.Error)

	h.Handle(client, models.NewEnvelope(models.TypeGitStage, models.GitFileRequest{Path: "", File: "x"}))
	env = recv(t, client)
	require.Equal(t, models.TypeGitStageResponse, env.Type)
	var op models.GitOpResponse
	require.NoError(t, env.Decode(&op))
	assert.False(t, op.Success)
	assert.NotEmpty(t, op.Message)
}

func TestMonitorHandlerSubscribeFlow(t *testing.T) {
	dir := t.TempDir()
	monitor := services.NewMonitorService(dir)
	require.NoError(t, monitor.Start())
	t.Cleanup(monitor.Stop)
	time.Sleep(50 * time.Millisecond)

	h := NewMonitorHandler(monitor)
	client := NewClient("c1")

	h.Handle(client, models.NewEnvelope(models.TypeMonitorSubscribe, nil))
	env := recv(t, client)
	require.Equal(t, models.TypeMonitorSubscribeResponse, env.Type)
	var sub models.MonitorSubscribeResponse
	require.NoError(t, env.Decode(&sub))
	assert.True(t, sub.Subscribed)
	assert.Equal(t, 1, monitor.SubscriberCount())

	// An appended log line arrives as an envelope typed by event kind.
	project := filepath.Join(dir, "p")
	require.NoError(t, os.MkdirAll(project, 0o755))
	time.Sleep(50 * time.Millisecond)
	line := `{"type":"user","sessionId":"s1","timestamp":"2024-01-01T10:00:00Z","message":{"content":"hello"}}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(project, "log.jsonl"), []byte(line), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-client.Outbox():
			if env.Type != models.EventUserInput {
				continue
			}
			var ev models.AssistantEvent
			require.NoError(t, env.Decode(&ev))
			assert.Equal(t, "hello", ev.Text)
		case <-deadline:
			t.Fatal("timed out waiting for forwarded event")
		}
		break
	}

	h.Handle(client, models.NewEnvelope(models.TypeMonitorUnsubscribe, nil))
	env = recv(t, client)
	require.Equal(t, models.TypeMonitorUnsubscribeResponse, env.Type)
	require.NoError(t, env.Decode(&sub))
	assert.False(t, sub.Subscribed)
	assert.Equal(t, 0, monitor.SubscriberCount())
}

func TestMonitorHandlerCleanup(t *testing.T) {
	monitor := services.NewMonitorService(t.TempDir())
	h := NewMonitorHandler(monitor)
	client := NewClient("c1")

	h.Handle(client, models.NewEnvelope(models.TypeMonitorSubscribe, nil))
	recv(t, client)
	require.Equal(t, 1, monitor.SubscriberCount())

	h.Cleanup("c1")
	assert.Equal(t, 0, monitor.SubscriberCount())
}
