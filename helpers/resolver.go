package helpers

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spektr-org/prism/facts"
	"github.com/spektr-org/prism/schema"
)

// Resolver turns schema sources into fact scopes. File paths are relative
// to baseDir. CSV and JSON files are read once into memory; sqlite sources
// share one connection pool per database file.
type Resolver struct {
	baseDir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewResolver returns a resolver rooted at baseDir.
func NewResolver(baseDir string) *Resolver {
	return &Resolver{baseDir: baseDir, dbs: make(map[string]*sql.DB)}
}

// Resolve implements schema.SourceResolver.
func (r *Resolver) Resolve(src schema.SourceConfig) (facts.ScopeFactory, error) {
	path := src.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.baseDir, path)
	}

	switch src.Kind {
	case "csv":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		view, err := ParseCSVView(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		return facts.MemorySource(view), nil
	case "json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		records, err := ParseJSON(data, src.Selector)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		return facts.MemorySource(facts.NewSliceView(records)), nil
	case "sqlite":
		db, err := r.db(path)
		if err != nil {
			return nil, err
		}
		return facts.SQLiteSource(db, src.Table), nil
	default:
		return nil, schema.ConfigErrorf("unknown source kind %q", src.Kind)
	}
}

func (r *Resolver) db(path string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.dbs[path]; ok {
		return db, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "sqlite database %s", path)
	}
	db, err := facts.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	r.dbs[path] = db
	return db, nil
}

// Close closes every database the resolver opened.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs error
	for path, db := range r.dbs {
		errs = errors.CombineErrors(errs, db.Close())
		delete(r.dbs, path)
	}
	return errs
}
