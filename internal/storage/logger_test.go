package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kioskguard/internal/ctxkeys"
	applog "kioskguard/internal/logger"
	"kioskguard/pkg/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "http://kiosk.local/ticket", RedactURL("http://kiosk.local/ticket?code=123456#pin"))
	assert.Equal(t, "http://kiosk.local/ticket", RedactURL("http://kiosk.local/ticket"))
	assert.Equal(t, "/", RedactURL("/"))
	assert.Equal(t, "append", RedactURL("append"))
}

func TestRedactSQL(t *testing.T) {
	sql := `INSERT INTO "kg_visits" ("id","url") VALUES ('a-1','http://kiosk.local/t?code=4242'),('a-2','plain')`
	assert.Equal(t, `INSERT INTO "kg_visits" ("id","url") VALUES ('a-1','http://kiosk.local/t'),('a-2','plain')`, RedactSQL(sql))
}

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimSpace(buf.String()), "\n")
}

func TestGormLogger_TraceFields(t *testing.T) {
	var buf bytes.Buffer
	gl := NewGormLogger(applog.NewWithWriter(&buf, zerolog.DebugLevel)).LogMode(logger.Info)
	ctx := context.WithValue(context.Background(), ctxkeys.TraceIDKey{}, "s1")

	gl.Trace(ctx, time.Now(), func() (string, int64) {
		return `SELECT * FROM "kg_visits" WHERE url = 'http://kiosk.local/?code=9'`, 1
	}, nil)
	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 0 }, gorm.ErrRecordNotFound)
	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 2", 0 }, errors.New("disk full"))

	out := lines(&buf)
	require.Len(t, out, 3)
	assert.Equal(t, "s1", gjson.Get(out[0], "session").String())
	assert.NotContains(t, out[0], "code=9")
	assert.Equal(t, "debug", gjson.Get(out[1], "level").String())
	assert.Equal(t, "error", gjson.Get(out[2], "level").String())
	assert.False(t, gjson.Get(out[2], "session").Exists())
}

func TestGormLogger_Silent(t *testing.T) {
	var buf bytes.Buffer
	gl := NewGormLogger(applog.NewWithWriter(&buf, zerolog.DebugLevel)).LogMode(logger.Silent)
	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, errors.New("x"))
	gl.Error(context.Background(), "boom")
	assert.Zero(t, buf.Len())
}

func TestJournal_StoresURLWithoutQuery(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.sqlite3"), "kg_", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, model.Event{Type: model.EventLoaded, Session: "s1", Target: "t1",
		URL: "http://kiosk.local/ticket?code=123456"}))
	require.NoError(t, j.Record(ctx, model.Event{Type: model.EventRedirected, Session: "s1", Target: "t1",
		URL: "http://kiosk.local/ticket?code=123456", Path: "/"}))

	visits, err := j.Visits(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, "http://kiosk.local/ticket", visits[0].URL)

	redirects, err := j.Redirects(ctx, 0)
	require.NoError(t, err)
	require.Len(t, redirects, 1)
	assert.Equal(t, "http://kiosk.local/ticket", gjson.Get(redirects[0].Detail, "from").String())
}
