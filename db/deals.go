package db

// deals.go holds the deal queries of the partition store.

import (
	"context"
	"fmt"
)

// Deal is a cached sales deal. Dates and money amounts are held as the text
// the remote system provides.
type Deal struct {
	ID          string  `db:"id"`
	Title       string  `db:"title"`
	ContactID   *string `db:"contact_id"`
	BeginDate   *string `db:"begin_date"`
	CloseDate   *string `db:"close_date"`
	WeddingDate *string `db:"wedding_date"`
	StageID     string  `db:"stage_id"`
	Prepayment  *string `db:"prepayment"`
	Postpayment *string `db:"postpayment"`
	Opportunity *string `db:"opportunity"`
}

func (d Deal) args() map[string]any {
	return map[string]any{
		"ID":          d.ID,
		"Title":       d.Title,
		"ContactID":   nullable(d.ContactID),
		"BeginDate":   nullable(d.BeginDate),
		"CloseDate":   nullable(d.CloseDate),
		"WeddingDate": nullable(d.WeddingDate),
		"StageID":     d.StageID,
		"Prepayment":  nullable(d.Prepayment),
		"Postpayment": nullable(d.Postpayment),
		"Opportunity": nullable(d.Opportunity),
	}
}

// DeleteDeal removes a deal and its product links in one transaction, reporting
// whether the deal row existed.
func (db *DB) DeleteDeal(ctx context.Context, dealID string) (bool, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() // no-op after commit.

	stmts, release := db.acquire()
	defer release()
	namedArgs := map[string]any{
		"DealID": dealID,
	}

	if _, err := db.exec(ctx, tx, stmts.dealLinksDelete, namedArgs); err != nil {
		return false, fmt.Errorf("failed to delete links for deal %s: %w", dealID, err)
	}
	n, err := db.exec(ctx, tx, stmts.dealDelete, namedArgs)
	if err != nil {
		return false, fmt.Errorf("failed to delete deal %s: %w", dealID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}
