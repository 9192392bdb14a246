// Package db provides the partition store of the citycache project: one SQLite
// database per city holding cached products, deals, contacts and the links between
// products and deals.
//
// Each query is held in an sql file in the `sql` directory which can be run on the
// sqlite command line. (For the write queries it is advisable to run the sql in a
// transaction, so that the results can be rolled back.) The files are turned into
// sqlx named statements through the parameterization scheme set out in
// parameterize.go.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx" // helper library
	_ "modernc.org/sqlite"    // pure go sqlite driver
)

// parameterizedStmt describes an sql file parsed into an sqlx NamedStmt expecting the
// provided args.
type parameterizedStmt struct {
	sqlFile string
	args    []string
	*sqlx.NamedStmt
}

// verifyArgs determines if the number of arguments provided to a parameterizedStmt is
// as expected.
func (p *parameterizedStmt) verifyArgs(args map[string]any) error {
	if got, want := len(args), len(p.args); got != want {
		return fmt.Errorf(
			"argument length to named statement from %q incorrect: got %d want %d",
			p.sqlFile,
			got,
			want,
		)
	}
	for _, a := range p.args {
		if _, ok := args[a]; !ok {
			return fmt.Errorf("named statement from %q missing argument %q", p.sqlFile, a)
		}
	}
	return nil
}

// statements is the set of prepared statements for a connection. The set is swapped
// as a whole when the sql files are reloaded.
type statements struct {
	productUpsert      *parameterizedStmt
	productUpdate      *parameterizedStmt
	productGet         *parameterizedStmt
	productsGet        *parameterizedStmt
	productDelete      *parameterizedStmt
	productLinksDelete *parameterizedStmt
	productDealsGet    *parameterizedStmt

	dealUpsert      *parameterizedStmt
	dealDelete      *parameterizedStmt
	dealLinksDelete *parameterizedStmt

	contactUpsert *parameterizedStmt
	contactDelete *parameterizedStmt
	contactsGet   *parameterizedStmt

	linkInsert *parameterizedStmt
	watermarks *parameterizedStmt
	catalog    *parameterizedStmt
}

// all returns every statement in the set.
func (s *statements) all() []*parameterizedStmt {
	return []*parameterizedStmt{
		s.productUpsert, s.productUpdate, s.productGet, s.productsGet,
		s.productDelete, s.productLinksDelete, s.productDealsGet,
		s.dealUpsert, s.dealDelete, s.dealLinksDelete,
		s.contactUpsert, s.contactDelete, s.contactsGet,
		s.linkInsert, s.watermarks, s.catalog,
	}
}

// close closes the prepared statements in the set.
func (s *statements) close() {
	for _, st := range s.all() {
		if st != nil && st.NamedStmt != nil {
			_ = st.Close()
		}
	}
}

// DB provides a wrapper around the sql.DB connection for the partition store.
type DB struct {
	*sqlx.DB
	path   string
	sqlFS  fs.FS
	logger *slog.Logger
	stmts  atomic.Pointer[statements]
	inUse  sync.RWMutex // held for reading while a statement set is in use
}

// NewConnection creates a new connection to an SQLite database at the given path,
// creating the directory holding the database if necessary. The schema is applied and
// the named statements prepared from the sql files in sqlFS.
func NewConnection(dbPath string, sqlFS fs.FS, logger *slog.Logger) (*DB, error) {

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// dataSource is the default setting for file-based databases.
	dataSource := fmt.Sprintf(
		"%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	// for in-memory test databases, check the necessary cached setting is used.
	if strings.Contains(dbPath, ":memory:") {
		if !strings.Contains(dbPath, "cache=shared") {
			return nil, fmt.Errorf("in-memory connection %q should contain '?cache=shared'", dbPath)
		}
		dataSource = dbPath
	} else {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("could not create database directory for %q: %w", dbPath, err)
		}
	}

	dbDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}

	// RegisterFunctions registers the custom REGEXP function. This can occur per call
	// as it is guarded by sync.Once.
	RegisterFunctions()

	if err := dbDB.Ping(); err != nil {
		_ = dbDB.Close()
		return nil, err
	}

	db := &DB{
		DB:     sqlx.NewDb(dbDB, "sqlite"),
		path:   dbPath,
		sqlFS:  sqlFS,
		logger: logger.With("db", dbPath),
	}

	if err := db.InitSchema(sqlFS, schemaSQL); err != nil {
		_ = dbDB.Close()
		return nil, err
	}

	stmts, err := db.prepareNamedStatements(sqlFS)
	if err != nil {
		_ = dbDB.Close()
		return nil, fmt.Errorf("could not prepare named statements: %w", err)
	}
	db.stmts.Store(stmts)

	return db, nil
}

// Path returns the database path.
func (db *DB) Path() string {
	return db.path
}

// Reload re-reads the sql files from the provided fs.FS and swaps in the newly
// prepared statements. The existing statements remain in use if preparation fails.
func (db *DB) Reload(sqlFS fs.FS) error {
	stmts, err := db.prepareNamedStatements(sqlFS)
	if err != nil {
		return fmt.Errorf("reload of sql statements failed: %w", err)
	}
	old := db.stmts.Swap(stmts)
	db.sqlFS = sqlFS

	// Wait for queries and transactions using the old set before closing it.
	db.inUse.Lock()
	if old != nil {
		old.close()
	}
	db.inUse.Unlock()

	db.logger.Info("sql statements reloaded")
	return nil
}

// acquire returns the current statement set, which is not closed by a Reload until
// release is called.
func (db *DB) acquire() (stmts *statements, release func()) {
	db.inUse.RLock()
	return db.stmts.Load(), db.inUse.RUnlock
}

// Close closes the prepared statements and the database.
func (db *DB) Close() error {
	db.inUse.Lock()
	defer db.inUse.Unlock()
	if s := db.stmts.Load(); s != nil {
		s.close()
	}
	return db.DB.Close()
}

// prepareNamedStatements prepares all the named statements for this database
// connection.
func (db *DB) prepareNamedStatements(sqlFS fs.FS) (*statements, error) {

	s := &statements{}
	var err error

	files := []struct {
		stmt **parameterizedStmt
		file string
	}{
		// Products.
		{&s.productUpsert, productUpsertSQL},
		{&s.productUpdate, productUpdateSQL},
		{&s.productGet, productSQL},
		{&s.productsGet, productsSQL},
		{&s.productDelete, productDeleteSQL},
		{&s.productLinksDelete, productLinksDeleteSQL},
		{&s.productDealsGet, productDealsSQL},

		// Deals.
		{&s.dealUpsert, dealUpsertSQL},
		{&s.dealDelete, dealDeleteSQL},
		{&s.dealLinksDelete, dealLinksDeleteSQL},

		// Contacts.
		{&s.contactUpsert, contactUpsertSQL},
		{&s.contactDelete, contactDeleteSQL},
		{&s.contactsGet, contactsSQL},

		// Links and reporting.
		{&s.linkInsert, linkInsertSQL},
		{&s.watermarks, watermarksSQL},
		{&s.catalog, catalogSQL},
	}

	for _, f := range files {
		*f.stmt, err = db.prepNamedStatement(sqlFS, f.file)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("%s statement error: %w", strings.TrimSuffix(f.file, ".sql"), err)
		}
	}
	return s, nil
}

// prepNamedStatement prepares an SQL query from file.
func (db *DB) prepNamedStatement(fileFS fs.FS, filePath string) (*parameterizedStmt, error) {
	query, err := ParameterizeFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not parameterize %q: %w", filePath, err)
	}

	pQuery, err := db.PrepareNamed(string(query.Body))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return &parameterizedStmt{
		filePath,
		query.Parameters,
		pQuery,
	}, nil
}

// InitSchema creates the necessary tables if they don't already exist. The schema file
// can be run idempotently.
func (db *DB) InitSchema(fileFS fs.FS, filePath string) error {

	schema, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", filePath, err)
	}

	_, err = db.ExecContext(context.Background(), string(schema))
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// exec runs a parameterized write statement, inside tx if it is not nil, returning the
// number of rows affected.
func (db *DB) exec(ctx context.Context, tx *sqlx.Tx, stmt *parameterizedStmt, args map[string]any) (int64, error) {
	if err := stmt.verifyArgs(args); err != nil {
		return 0, err
	}
	named := stmt.NamedStmt
	if tx != nil {
		named = tx.NamedStmtContext(ctx, stmt.NamedStmt)
	}
	result, err := named.ExecContext(ctx, args)
	db.logQuery(stmt, args, err)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// logQuery is for helping debug SQL issues.
func (db *DB) logQuery(stmt *parameterizedStmt, args map[string]any, err error) {
	db.logger.Debug(
		"sql",
		"file", stmt.sqlFile,
		"args", args,
		"error", err,
	)
}

// nullable returns nil for a nil pointer and the pointed-to value otherwise, for use
// as a named argument.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
