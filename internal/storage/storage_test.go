package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxrelay/pkg/logx"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history", "relay."+driver)
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		assert.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	assert.Error(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	for _, d := range []string{"file", "sqlite"} {
		_, err := Open(Config{Driver: d}, logx.Nop())
		assert.Error(t, err, d)
	}
}

func TestStoreContract(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openDriver(t, driver)

			for i, outcome := range []string{"sent", "suppressed", "sent", "discarded_moved"} {
				require.NoError(t, st.AppendRelay(ctx, Record{
					At:           base.Add(time.Duration(i) * time.Minute),
					Trigger:      "voice_join",
					Outcome:      outcome,
					User:         "alice",
					Channel:      "General",
					Guild:        "Friends",
					AnimationURL: "https://example.com/a.gif",
				}))
			}

			recs, err := st.Recent(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "discarded_moved", recs[0].Outcome)
			assert.Equal(t, "sent", recs[1].Outcome)
			assert.True(t, recs[0].At.Equal(base.Add(3*time.Minute)))
			assert.Equal(t, "alice", recs[0].User)
			assert.Empty(t, recs[0].Error)

			none, err := st.Recent(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, none)

			removed, err := st.PruneBefore(ctx, base.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(2), removed)

			recs, err = st.Recent(ctx, 10)
			require.NoError(t, err)
			assert.Len(t, recs, 2)

			// Appends keep working after a prune.
			require.NoError(t, st.AppendRelay(ctx, Record{At: base.Add(time.Hour), Trigger: "command", Outcome: "sent"}))
			recs, err = st.Recent(ctx, 10)
			require.NoError(t, err)
			assert.Len(t, recs, 3)
			assert.Equal(t, "command", recs[0].Trigger)
		})
	}
}

func TestFileStoreSurvivesReopenAndCorruptLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.jsonl")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AppendRelay(ctx, Record{At: base, Trigger: "voice_join", Outcome: "sent"}))
	require.NoError(t, st.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.AppendRelay(ctx, Record{At: base.Add(time.Second), Trigger: "command", Outcome: "sent"}))
	recs, err := st.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Greater(t, recs[0].ID, recs[1].ID)
}

func TestClosedFileStoreReportsDisabled(t *testing.T) {
	st := openDriver(t, "file")
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.AppendRelay(context.Background(), Record{Outcome: "sent"}), ErrDisabled)
}
