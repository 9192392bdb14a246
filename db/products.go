package db

// products.go holds the product queries of the partition store.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Product is a cached catalog item.
type Product struct {
	ID          string  `db:"id"`
	OfferID     *string `db:"offer_id"`
	Name        string  `db:"name"`
	Description string  `db:"description"`
	Quantity    int64   `db:"quantity"`
	SectionID   *string `db:"section_id"`
}

func (p Product) args() map[string]any {
	return map[string]any{
		"ID":          p.ID,
		"OfferID":     nullable(p.OfferID),
		"Name":        p.Name,
		"Description": p.Description,
		"Quantity":    p.Quantity,
		"SectionID":   nullable(p.SectionID),
	}
}

// Products returns all cached products.
func (db *DB) Products(ctx context.Context) ([]Product, error) {
	stmts, release := db.acquire()
	defer release()
	stmt := stmts.productsGet
	namedArgs := map[string]any{}

	var products []Product
	err := stmt.SelectContext(ctx, &products, namedArgs)
	db.logQuery(stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("products select error: %w", err)
	}
	return products, nil
}

// Product returns the product with the given id, or sql.ErrNoRows.
func (db *DB) Product(ctx context.Context, productID string) (*Product, error) {
	stmts, release := db.acquire()
	defer release()
	stmt := stmts.productGet
	namedArgs := map[string]any{
		"ProductID": productID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, fmt.Errorf("product verify args error: %w", err)
	}

	var product Product
	err := stmt.GetContext(ctx, &product, namedArgs)
	db.logQuery(stmt, namedArgs, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("product %s select error: %w", productID, err)
	}
	return &product, nil
}

// ProductExists reports whether the product is held in this store.
func (db *DB) ProductExists(ctx context.Context, productID string) (bool, error) {
	_, err := db.Product(ctx, productID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// UpdateProduct updates the offer id, name, description and section of an existing
// product, reporting whether a row was changed. The quantity is left untouched.
func (db *DB) UpdateProduct(ctx context.Context, p Product) (bool, error) {
	stmts, release := db.acquire()
	defer release()
	namedArgs := p.args()
	delete(namedArgs, "Quantity")

	n, err := db.exec(ctx, nil, stmts.productUpdate, namedArgs)
	if err != nil {
		return false, fmt.Errorf("failed to update product %s: %w", p.ID, err)
	}
	return n > 0, nil
}

// DeleteProduct removes a product and its deal links in one transaction, reporting
// whether the product row existed. Linked deals are kept.
func (db *DB) DeleteProduct(ctx context.Context, productID string) (bool, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() // no-op after commit.

	stmts, release := db.acquire()
	defer release()
	namedArgs := map[string]any{
		"ProductID": productID,
	}

	if _, err := db.exec(ctx, tx, stmts.productLinksDelete, namedArgs); err != nil {
		return false, fmt.Errorf("failed to delete links for product %s: %w", productID, err)
	}
	n, err := db.exec(ctx, tx, stmts.productDelete, namedArgs)
	if err != nil {
		return false, fmt.Errorf("failed to delete product %s: %w", productID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}
