package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	newLogger = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
	newRegisterer = func() prometheus.Registerer { return prometheus.NewRegistry() }
	os.Exit(m.Run())
}

type cliEnv struct {
	root    string
	cfgPath string
}

func newCLIEnv(t *testing.T, feedURL string) cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := cliEnv{root: filepath.Join(dir, "ArchiveImages"), cfgPath: filepath.Join(dir, "config.yaml")}
	cfg := fmt.Sprintf(`archive:
  root: %s
  content_ratings: [KF, NonKF]
  safety_ratings: [Safe, NSFW]
database:
  path: %s
crawl:
  page_delay: 0s
  item_delay: 0s
  download_rps: 0
feed:
  base_url: %s
logging:
  development: false
`, env.root, filepath.Join(dir, "archive.db"), feedURL)
	require.NoError(t, os.WriteFile(env.cfgPath, []byte(cfg), 0o600))
	return env
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAccountLifecycle(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t, "http://127.0.0.1:1")

	out, err := env.run(t, "account", "add", "42", "@alice", "--creator", "Alice")
	require.NoError(t, err)
	assert.Contains(t, out, "tracking @alice (42)")

	_, err = env.run(t, "account", "add", "42", "alice")
	require.ErrorContains(t, err, "already registered")

	_, err = env.run(t, "account", "set-status", "42", "suspended")
	require.NoError(t, err)
	_, err = env.run(t, "account", "set-status", "42", "Sleeping")
	require.ErrorContains(t, err, "unknown status")

	out, err = env.run(t, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "@alice")
	assert.Contains(t, out, "Suspended")

	_, err = env.run(t, "account", "delete", "42")
	require.NoError(t, err)
	_, err = env.run(t, "account", "delete", "42")
	require.ErrorContains(t, err, "not found")
}

func TestAccountEditAndCreatorDescribe(t *testing.T) {
	t.Parallel()

	env := newCLIEnv(t, "http://127.0.0.1:1")
	_, err := env.run(t, "account", "add", "42", "alice", "--creator", "Alice")
	require.NoError(t, err)

	_, err = env.run(t, "account", "edit", "42")
	require.ErrorContains(t, err, "nothing to change")
	_, err = env.run(t, "account", "edit", "404", "--protected")
	require.ErrorContains(t, err, "not found")

	out, err := env.run(t, "account", "edit", "42", "--handle", "@alice_new", "--thread", "t-9",
		"--protected", "--download=false")
	require.NoError(t, err)
	assert.Contains(t, out, `updated @alice_new (42): download=false protected=true thread="t-9"`)

	out, err = env.run(t, "account", "edit", "42", "--thread", "", "--download")
	require.NoError(t, err)
	assert.Contains(t, out, `download=true protected=true thread=""`)

	out, err = env.run(t, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "@alice_new")

	out, err = env.run(t, "creator", "list", "ali")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice")

	out, err = env.run(t, "creator", "describe", "1", "draws", "cats")
	require.NoError(t, err)
	assert.Contains(t, out, "creator 1: draws cats")
	out, err = env.run(t, "creator", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "draws cats")

	_, err = env.run(t, "creator", "describe", "99", "nobody")
	require.ErrorContains(t, err, "not found")
	_, err = env.run(t, "creator", "describe", "x", "nobody")
	require.ErrorContains(t, err, "invalid creator id")
}

func TestFetchRateVerify(t *testing.T) {
	t.Parallel()

	feed := newFeedServer(t)
	env := newCLIEnv(t, feed.URL)

	_, err := env.run(t, "account", "add", "42", "alice")
	require.NoError(t, err)

	out, err := env.run(t, "fetch-post", "101")
	require.NoError(t, err)
	assert.Contains(t, out, "archived post 101 with 1 media")
	waiting, err := filepath.Glob(filepath.Join(env.root, "Waiting", "Waiting", "alice_101_0.*"))
	require.NoError(t, err)
	require.Len(t, waiting, 1)

	out, err = env.run(t, "fetch-post", "101")
	require.NoError(t, err)
	assert.Contains(t, out, "already archived")

	_, err = env.run(t, "rate", "post", "101", "--content", "bogus")
	require.ErrorContains(t, err, "invalid rating")
	_, err = env.run(t, "rate", "post", "101")
	require.ErrorContains(t, err, "--content or --safety")

	out, err = env.run(t, "rate", "post", "101", "--content", "kf", "--safety", "nsfw")
	require.NoError(t, err)
	assert.Contains(t, out, "post:101: Waiting/Waiting -> KF/NSFW (1 moved")
	rated, err := filepath.Glob(filepath.Join(env.root, "KF", "NSFW", "alice_101_0.*"))
	require.NoError(t, err)
	require.Len(t, rated, 1)

	out, err = env.run(t, "rate", "post", "101", "--content", "KF")
	require.NoError(t, err)
	assert.Contains(t, out, "already rated")

	out, err = env.run(t, "verify", "--deep")
	require.NoError(t, err)
	assert.Contains(t, out, "checked 1 media files, 0 problems")

	require.NoError(t, os.Remove(rated[0]))
	out, err = env.run(t, "verify")
	require.Error(t, err)
	assert.Contains(t, out, "missing")
}

func TestScrapeAccount(t *testing.T) {
	t.Parallel()

	feed := newFeedServer(t)
	env := newCLIEnv(t, feed.URL)
	_, err := env.run(t, "account", "add", "42", "alice")
	require.NoError(t, err)

	out, err := env.run(t, "scrape", "--account", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "@alice: 2 new, 0 skipped, 0 failed")

	out, err = env.run(t, "scrape")
	require.NoError(t, err)
	assert.Contains(t, out, "0 new posts from 1 accounts, 0 failed")

	_, err = env.run(t, "scrape", "--account", "404")
	require.ErrorContains(t, err, "not found")
}

func TestRootRequiresValidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("archive:\n  check_interval: 0s\n"), 0o600))
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "account", "list"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "check_interval")
}

// newFeedServer serves a two-item timeline for account 42 and PNG bytes for every media URL.
func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	var img bytes.Buffer
	canvas := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		canvas.Set(x, x, color.White)
	}
	require.NoError(t, png.Encode(&img, canvas))

	var srv *httptest.Server
	item := func(id string) string {
		return fmt.Sprintf(`{"id":%q,"account_id":"42","handle":"alice","text":"post %s",
			"created_at":"2024-01-02T03:04:05Z","media":[{"kind":"photo","url":"%s/media/%s.png"}]}`, id, id, srv.URL, id)
	}
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/media/"):
			_, _ = w.Write(img.Bytes())
		case r.URL.Path == "/accounts/42/media":
			fmt.Fprintf(w, `{"items":[%s,%s]}`, item("102"), item("101"))
		case strings.HasPrefix(r.URL.Path, "/items/"):
			fmt.Fprint(w, item(strings.TrimPrefix(r.URL.Path, "/items/")))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}
