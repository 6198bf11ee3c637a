// Package gormkv keeps tree nodes in a single SQL relation through gorm, so
// the engines can run on sqlite or postgres.
package gormkv

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/bluesky-social/arbor/kv"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is one row of the node relation.
type Entry struct {
	Ident []byte `gorm:"primaryKey"`
	Data  []byte
}

// Gormstore implements kv.Store on a gorm connection. Each engine gets its
// own table.
type Gormstore struct {
	db    *gorm.DB
	table string

	viewOpts   *sql.TxOptions
	updateOpts *sql.TxOptions
}

var _ kv.Store = (*Gormstore)(nil)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NewGormstore migrates the table and returns a store on it.
func NewGormstore(db *gorm.DB, table string) (*Gormstore, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if err := db.Table(table).AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrating %s: %w", table, err)
	}

	s := &Gormstore{
		db:    db,
		table: table,
	}
	// sqlite transactions are already serializable snapshots; postgres
	// defaults to read committed, which would let a check see a torn tree
	if db.Dialector.Name() == "postgres" {
		s.viewOpts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
		s.updateOpts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return s, nil
}

func (s *Gormstore) View(ctx context.Context, fn func(kv.Reader) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTxn{tx: tx, table: s.table})
	}, s.txOpts(s.viewOpts)...)
}

func (s *Gormstore) Update(ctx context.Context, fn func(kv.Writer) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTxn{tx: tx, table: s.table})
	}, s.txOpts(s.updateOpts)...)
}

func (s *Gormstore) txOpts(o *sql.TxOptions) []*sql.TxOptions {
	if o == nil {
		return nil
	}
	return []*sql.TxOptions{o}
}

// Close releases the underlying connection pool.
func (s *Gormstore) Close() error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

type gormTxn struct {
	tx    *gorm.DB
	table string
}

func (t *gormTxn) Get(key []byte) ([]byte, error) {
	var rows []Entry
	if err := t.tx.Table(t.table).Where("ident = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, kv.ErrNotFound
	}
	return rows[0].Data, nil
}

func (t *gormTxn) Scan(prefix []byte, fn func(key, val []byte) error) error {
	q := t.tx.Table(t.table).Where("ident >= ?", prefix)
	if end := kv.PrefixEnd(prefix); end != nil {
		q = q.Where("ident < ?", end)
	}

	var rows []Entry
	if err := q.Order("ident").Find(&rows).Error; err != nil {
		return err
	}

	pairs := make([]kv.Pair, len(rows))
	for i, r := range rows {
		pairs[i] = kv.Pair{Key: r.Ident, Val: r.Data}
	}
	return kv.Replay(pairs, fn)
}

func (t *gormTxn) Set(key, val []byte) error {
	if val == nil {
		val = []byte{}
	}
	return t.tx.Table(t.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ident"}},
		DoUpdates: clause.AssignmentColumns([]string{"data"}),
	}).Create(&Entry{Ident: key, Data: val}).Error
}

func (t *gormTxn) Delete(key []byte) error {
	return t.tx.Table(t.table).Where("ident = ?", key).Delete(&Entry{}).Error
}
