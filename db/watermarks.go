package db

import (
	"context"
	"fmt"
)

// Watermarks holds the highest numeric id of each cached collection. A nil value
// means the collection is empty.
type Watermarks struct {
	Products *int64 `db:"products"`
	Deals    *int64 `db:"deals"`
	Contacts *int64 `db:"contacts"`
}

// Watermarks reads the current watermarks of the store.
func (db *DB) Watermarks(ctx context.Context) (Watermarks, error) {
	stmts, release := db.acquire()
	defer release()
	stmt := stmts.watermarks
	namedArgs := map[string]any{}

	var w Watermarks
	err := stmt.GetContext(ctx, &w, namedArgs)
	db.logQuery(stmt, namedArgs, err)
	if err != nil {
		return Watermarks{}, fmt.Errorf("watermarks select error: %w", err)
	}
	return w, nil
}

// Entity names a cached collection.
type Entity string

const (
	EntityProducts Entity = "products"
	EntityDeals    Entity = "deals"
	EntityContacts Entity = "contacts"
)

// MaxID returns the watermark of a single collection, nil if it is empty.
func (db *DB) MaxID(ctx context.Context, entity Entity) (*int64, error) {
	w, err := db.Watermarks(ctx)
	if err != nil {
		return nil, err
	}
	switch entity {
	case EntityProducts:
		return w.Products, nil
	case EntityDeals:
		return w.Deals, nil
	case EntityContacts:
		return w.Contacts, nil
	}
	return nil, fmt.Errorf("unknown entity %q", entity)
}
