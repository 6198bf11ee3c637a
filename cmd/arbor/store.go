package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bluesky-social/arbor/kv"
	"github.com/bluesky-social/arbor/kv/badgerkv"
	"github.com/bluesky-social/arbor/kv/gormkv"
	"github.com/bluesky-social/arbor/kv/pebblekv"
	"github.com/bluesky-social/arbor/mptree"
	"github.com/bluesky-social/arbor/pptree"
	"github.com/bluesky-social/arbor/tree"
	"github.com/bluesky-social/arbor/util/cliutil"
	"github.com/urfave/cli/v2"
	"gorm.io/plugin/opentelemetry/tracing"
)

// openStore opens the backend named by --store. Each engine keeps its data
// apart: its own directory for pebble and badger, its own table for sql.
func openStore(cctx *cli.Context, engine string) (kv.Store, error) {
	log := logger()
	dir := cctx.String("db-path")

	switch name := cctx.String("store"); name {
	case "memory":
		return kv.NewMemory(), nil
	case "pebble":
		return pebblekv.Open(filepath.Join(dir, engine+".pebble"), log)
	case "badger":
		p := filepath.Join(dir, engine+".badger")
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, err
		}
		return badgerkv.Open(p, log)
	case "sqlite", "postgres":
		dburl := cctx.String("database-url")
		if dburl == "" {
			if name == "postgres" {
				return nil, fmt.Errorf("--database-url is required for the postgres store")
			}
			dburl = "sqlite://" + filepath.Join(dir, "arbor.sqlite")
		}
		db, err := cliutil.SetupDatabase(dburl, cctx.Int("max-db-connections"))
		if err != nil {
			return nil, err
		}
		if cctx.Bool("db-tracing") {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return nil, err
			}
		}
		return gormkv.NewGormstore(db, engine+"_nodes")
	default:
		return nil, fmt.Errorf("unknown store %q", name)
	}
}

func policies(cctx *cli.Context) (tree.MovePolicy, *tree.SiblingPolicy, error) {
	move, err := tree.ParseMovePolicy(cctx.String("move-policy"))
	if err != nil {
		return 0, nil, err
	}
	s := cctx.String("siblings")
	if s == "" {
		return move, nil, nil
	}
	sib, err := tree.ParseSiblingPolicy(s)
	if err != nil {
		return 0, nil, err
	}
	return move, &sib, nil
}

func openParentPointer(cctx *cli.Context, store kv.Store) (*pptree.Engine, error) {
	opts := pptree.DefaultOptions()
	move, sib, err := policies(cctx)
	if err != nil {
		return nil, err
	}
	opts.Move = move
	if sib != nil {
		opts.Siblings = *sib
	}
	opts.CacheSize = cctx.Int("cache-size")
	opts.Logger = logger()
	return pptree.Open(store, opts)
}

func openMaterializedPath(cctx *cli.Context, store kv.Store) (*mptree.Engine, error) {
	opts := mptree.DefaultOptions()
	move, sib, err := policies(cctx)
	if err != nil {
		return nil, err
	}
	opts.Move = move
	if sib != nil {
		opts.Siblings = *sib
	}
	opts.Separator = cctx.String("separator")
	opts.Logger = logger()
	return mptree.Open(store, opts)
}

// withParentPointer opens the pp engine on the configured store, runs fn
// and closes both.
func withParentPointer(cctx *cli.Context, fn func(*pptree.Engine) error) error {
	store, err := openStore(cctx, "pptree")
	if err != nil {
		return err
	}
	e, err := openParentPointer(cctx, store)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer e.Close()
	return fn(e)
}

func withMaterializedPath(cctx *cli.Context, fn func(*mptree.Engine) error) error {
	store, err := openStore(cctx, "mptree")
	if err != nil {
		return err
	}
	e, err := openMaterializedPath(cctx, store)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer e.Close()
	return fn(e)
}

// dispatch runs the pp or mp variant of a command according to --engine.
func dispatch(cctx *cli.Context, pp func(*pptree.Engine) error, mp func(*mptree.Engine) error) error {
	switch name := cctx.String("engine"); name {
	case "pp":
		return withParentPointer(cctx, pp)
	case "mp":
		return withMaterializedPath(cctx, mp)
	default:
		return fmt.Errorf("unknown engine %q (want pp or mp)", name)
	}
}
