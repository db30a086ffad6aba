package output

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fansqz/trace-debugger/backend"
	"github.com/fansqz/trace-debugger/config"
	"github.com/fansqz/trace-debugger/constants"
	e "github.com/fansqz/trace-debugger/error"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrace() *backend.BackendTrace {
	trace := backend.NewBackendTrace("/tmp/x/main.py", constants.LanguagePython)
	trace.CreatedAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	trace.Output = "3\n"
	trace.Elements = append(trace.Elements,
		&backend.TraceElem{Step: 0, File: "/tmp/x/main.py", Line: 1, Reason: constants.BreakpointStopped, Frames: []*backend.Frame{}},
		&backend.TraceElem{Step: 1, File: "/tmp/x/main.py", Line: 2, Reason: constants.StepStopped, Frames: []*backend.Frame{}, Output: "3\n"},
	)
	return trace
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	source := filepath.Join(dir, "main.py")

	store := NewFileStore("")
	assert.Equal(t, filepath.Join(dir, "main.trace.json"), store.TracePath(source))

	trace := newTrace()
	location, err := store.Write(ctx, trace, source)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "main.trace.json"), location)

	// 覆盖写入
	trace.ExitCode = 1
	_, err = store.Write(ctx, trace, source)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	loaded, err := store.Load(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, trace, loaded)

	_, err = store.Load(ctx, filepath.Join(dir, "missing.trace.json"))
	assert.ErrorIs(t, err, e.ErrTraceNotFound)
	_, err = store.Write(ctx, trace, "")
	assert.ErrorIs(t, err, e.ErrFileUndefined)
}

func TestFileStore_List(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir)

	first, err := store.Write(ctx, newTrace(), "/work/a.py")
	require.NoError(t, err)
	second, err := store.Write(ctx, newTrace(), "/work/b.py")
	require.NoError(t, err)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(first, old, old))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	locations, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{second, first}, locations)

	_, err = NewFileStore(filepath.Join(dir, "missing")).List(ctx)
	assert.Error(t, err)
}

func TestFileStoreDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "traces")
	store := NewFileStore(dir)
	location, err := store.Write(context.Background(), newTrace(), "/src/app/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "main.trace.json"), location)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, WithPrefix("test:"), WithTTL(time.Minute))
	defer store.Close()
	ctx := context.Background()

	trace := newTrace()
	location, err := store.Write(ctx, trace, "/tmp/x/main.py")
	require.NoError(t, err)
	assert.True(t, IsRedisLocation(location))

	loaded, err := store.Load(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, trace, loaded)

	// 不带前缀的key也可以读取
	key := location[len(RedisScheme):]
	_, err = store.Load(ctx, key)
	assert.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(key))

	second, err := store.Write(ctx, trace, "/tmp/x/main.py")
	require.NoError(t, err)
	locations, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{second, location}, locations)

	// 过期的trace从索引中移除
	mr.FastForward(2 * time.Minute)
	locations, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, locations)
	_, err = store.Load(ctx, location)
	assert.ErrorIs(t, err, e.ErrTraceNotFound)
}

func TestNewStore(t *testing.T) {
	conf := config.Default().Output
	_, ok := NewStore(conf).(*FileStore)
	assert.True(t, ok)
	conf.Type = constants.RedisOutput
	_, ok = NewStore(conf).(*RedisStore)
	assert.True(t, ok)

	_, ok = NewLoader("redis://trace:1", conf).(*RedisStore)
	assert.True(t, ok)
	_, ok = NewLoader("/tmp/main.trace.json", conf).(*FileStore)
	assert.True(t, ok)
}
