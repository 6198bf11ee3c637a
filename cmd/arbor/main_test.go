package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runArbor(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	require.NoError(t, app.Run(append([]string{"arbor", "--log-level", "error"}, args...)))
	return buf.String()
}

func TestDemo(t *testing.T) {
	assert := assert.New(t)

	out := runArbor(t, "--engine", "both", "demo")

	pp, mp, found := strings.Cut(out, "== materialized path engine")
	require.True(t, found, out)

	assert.Contains(pp, "siblings(4) = [4 5 6]")
	assert.Contains(pp, "parent(8) = 3")
	assert.Contains(pp, "descendantsAt(3, 2) = [7]")
	assert.Contains(pp, "ancestorAt(7, 2) = 3")
	assert.Contains(pp, "ok: 7 nodes")
	assert.Contains(pp, "FAILED: 8 nodes")

	assert.Contains(mp, "siblings(4) = [1.3.5 1.3.6]")
	assert.Contains(mp, "parent(8) = 1.3")
	assert.Contains(mp, "descendantsAt(3, 2) = [1.3.5.7]")
	assert.Contains(mp, "ancestorAt(7, 2) = 1.3")
	assert.Contains(mp, "ok: 7 nodes")
	assert.Contains(mp, "FAILED: 8 nodes")
}

func TestStoresPersistAcrossRuns(t *testing.T) {
	for _, store := range []string{"pebble", "badger", "sqlite"} {
		t.Run(store, func(t *testing.T) {
			assert := assert.New(t)
			base := []string{"--store", store, "--db-path", t.TempDir(), "--db-tracing"}
			pp := append(base, "--engine", "pp")
			mp := append(append([]string{}, base...), "--engine", "mp", "--separator", "/")

			runArbor(t, append(pp, "insert", "--id", "1", "--value", "10")...)
			runArbor(t, append(pp, "insert", "--id", "2", "--parent", "1", "--value", "20")...)
			runArbor(t, append(pp, "insert", "--id", "3", "--parent", "2", "--value", "30")...)
			assert.Equal("2\n", runArbor(t, append(pp, "query", "depth", "3")...))

			runArbor(t, append(pp, "remove", "2")...)
			assert.Equal("1\n", runArbor(t, append(pp, "query", "parent", "3")...))
			assert.Equal("1\t1\n", runArbor(t, append(pp, "query", "ancestors", "3")...))
			assert.Contains(runArbor(t, append(pp, "print")...), "[30]  3")
			assert.Contains(runArbor(t, append(pp, "check")...), "ok: 2 nodes")

			runArbor(t, append(mp, "push", "--path", "1", "--value", "10")...)
			runArbor(t, append(mp, "push", "--path", "1/2", "--value", "20")...)
			runArbor(t, append(mp, "push", "--path", "1/2/3", "--value", "30")...)
			runArbor(t, append(mp, "move", "1/2/3", "1/3")...)
			assert.Equal("1/2\t1\n1/3\t1\n", runArbor(t, append(mp, "query", "descendants", "1")...))
			assert.Equal("1/3\n", runArbor(t, append(mp, "query", "siblings", "1/2")...))
			assert.Contains(runArbor(t, append(mp, "check")...), "ok: 3 nodes")
		})
	}
}

func TestGenAndQuery(t *testing.T) {
	base := []string{"--store", "pebble", "--db-path", t.TempDir(), "--engine", "mp"}

	assert.Equal(t, "loaded 40 nodes\n", runArbor(t, append(base, "gen", "--count", "40", "--fanout", "3")...))
	assert.Contains(t, runArbor(t, append(base, "check")...), "ok: 40 nodes, 40 reachable, roots [1]")
	assert.Equal(t, "(none)\n", runArbor(t, append(base, "query", "parent", "1")...))
	assert.Equal(t, "0\n", runArbor(t, append(base, "query", "depth", "1")...))
}

func TestQuerySiblingsBySameDepth(t *testing.T) {
	base := []string{"--store", "pebble", "--db-path", t.TempDir(), "--engine", "pp"}

	runArbor(t, append(base, "insert", "--id", "1")...)
	for _, row := range [][2]string{{"2", "1"}, {"3", "1"}, {"4", "2"}, {"8", "3"}} {
		runArbor(t, append(base, "insert", "--id", row[0], "--parent", row[1])...)
	}

	// 4 and 8 have different parents but share a depth
	assert.Equal(t, "4\n8\n", runArbor(t, append(base, "query", "siblings", "4")...))

	for _, c := range cmdQuery.Subcommands {
		if c.Name == "siblings" {
			assert.Contains(t, c.Usage, "same depth")
		}
	}
}
