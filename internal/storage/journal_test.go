package storage

import (
	"context"
	"path/filepath"
	"testing"

	"kioskguard/internal/logger"
	"kioskguard/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.sqlite3"), "kg_", logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_VisitAndRedirect(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, model.Event{
		Type: model.EventLoaded, Session: "s1", Target: "t1",
		URL: "http://kiosk.local/ticket", Panels: 2, Bound: 1, Idle: true, Timestamp: 42,
	}))
	require.NoError(t, j.Record(ctx, model.Event{Type: model.EventKey, Target: "t1", Action: "append"}))
	require.NoError(t, j.Record(ctx, model.Event{
		Type: model.EventRedirected, Session: "s1", Target: "t1",
		URL: "http://kiosk.local/ticket", Path: "/",
	}))

	visits, err := j.Visits(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	v := visits[0]
	assert.Equal(t, "http://kiosk.local/ticket", v.URL)
	assert.Equal(t, 2, v.Panels)
	assert.Equal(t, 1, v.Bound)
	assert.True(t, v.IdleEnabled)
	assert.Equal(t, "s1", gjson.Get(v.Detail, "session").String())
	assert.Equal(t, int64(42), gjson.Get(v.Detail, "timestamp").Int())

	redirects, err := j.Redirects(ctx, 10)
	require.NoError(t, err)
	require.Len(t, redirects, 1)
	assert.Equal(t, v.ID, redirects[0].VisitID)
	assert.Equal(t, "/", redirects[0].Path)
	assert.Equal(t, "http://kiosk.local/ticket", gjson.Get(redirects[0].Detail, "from").String())
}

func TestJournal_DetachForgetsVisit(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	_, err := j.RecordVisit(ctx, model.Event{Type: model.EventLoaded, Target: "t1"})
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, model.Event{Type: model.EventDetached, Target: "t1"}))
	require.NoError(t, j.RecordRedirect(ctx, model.Event{Type: model.EventRedirected, Target: "t1", Path: "/"}))

	redirects, err := j.Redirects(ctx, 0)
	require.NoError(t, err)
	require.Len(t, redirects, 1)
	assert.Empty(t, redirects[0].VisitID)
}

func TestJournal_VisitsFilterAndTablePrefix(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	for _, target := range []model.TargetID{"a", "b", "a"} {
		_, err := j.RecordVisit(ctx, model.Event{Type: model.EventLoaded, Target: target})
		require.NoError(t, err)
	}

	all, err := j.Visits(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := j.Visits(ctx, "a", 1)
	require.NoError(t, err)
	assert.Len(t, onlyA, 1)

	assert.True(t, j.db.Migrator().HasTable("kg_visits"))
	assert.True(t, j.db.Migrator().HasTable("kg_redirects"))
}
