package db

// batch.go writes the output of a reconciliation to the store.

import (
	"context"
	"fmt"
)

// Link joins a product to a deal in which it is a line item.
type Link struct {
	ID        int64  `db:"id"`
	DealID    string `db:"deal_id"`
	ProductID string `db:"product_id"`
}

func (l Link) args() map[string]any {
	return map[string]any{
		"DealID":    l.DealID,
		"ProductID": l.ProductID,
	}
}

// Batch is a set of rows to be upserted together.
type Batch struct {
	Products []Product
	Deals    []Deal
	Contacts []Contact
	Links    []Link
}

// Empty reports whether the batch holds no rows.
func (b Batch) Empty() bool {
	return len(b.Products)+len(b.Deals)+len(b.Contacts)+len(b.Links) == 0
}

// BatchResult counts the rows written by WriteBatch. Links already present are not
// counted.
type BatchResult struct {
	Products int
	Deals    int
	Contacts int
	Links    int
}

// WriteBatch upserts the batch in one transaction in the order products, deals,
// contacts then links. Any failure rolls back the whole batch.
func (db *DB) WriteBatch(ctx context.Context, batch Batch) (BatchResult, error) {
	var result BatchResult
	if batch.Empty() {
		return result, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback() // no-op after commit.

	stmts, release := db.acquire()
	defer release()

	for _, p := range batch.Products {
		if _, err := db.exec(ctx, tx, stmts.productUpsert, p.args()); err != nil {
			return BatchResult{}, fmt.Errorf("failed to upsert product %s: %w", p.ID, err)
		}
		result.Products++
	}
	for _, d := range batch.Deals {
		if _, err := db.exec(ctx, tx, stmts.dealUpsert, d.args()); err != nil {
			return BatchResult{}, fmt.Errorf("failed to upsert deal %s: %w", d.ID, err)
		}
		result.Deals++
	}
	for _, c := range batch.Contacts {
		if _, err := db.exec(ctx, tx, stmts.contactUpsert, c.args()); err != nil {
			return BatchResult{}, fmt.Errorf("failed to upsert contact %s: %w", c.ID, err)
		}
		result.Contacts++
	}
	for _, l := range batch.Links {
		n, err := db.exec(ctx, tx, stmts.linkInsert, l.args())
		if err != nil {
			return BatchResult{}, fmt.Errorf("failed to link product %s to deal %s: %w", l.ProductID, l.DealID, err)
		}
		result.Links += int(n)
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, err
	}
	return result, nil
}
