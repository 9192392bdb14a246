package db

// catalog.go holds the wide rows queries joining products to deals and
// contacts.

import (
	"context"
	"fmt"
)

// WRDeal is the deal component of a wide rows catalog row. All fields are nullable
// as products need not have deals.
type WRDeal struct {
	ID          *string `db:"deal_id"`
	Title       *string `db:"deal_title"`
	ContactID   *string `db:"deal_contact_id"`
	BeginDate   *string `db:"deal_begin_date"`
	CloseDate   *string `db:"deal_close_date"`
	WeddingDate *string `db:"deal_wedding_date"`
	StageID     *string `db:"deal_stage_id"`
	Prepayment  *string `db:"deal_prepayment"`
	Postpayment *string `db:"deal_postpayment"`
	Opportunity *string `db:"deal_opportunity"`
}

// deal converts a WRDeal to a Deal, returning nil if there is no deal.
func (w WRDeal) deal() *Deal {
	if w.ID == nil {
		return nil
	}
	return &Deal{
		ID:          *w.ID,
		Title:       deref(w.Title),
		ContactID:   w.ContactID,
		BeginDate:   w.BeginDate,
		CloseDate:   w.CloseDate,
		WeddingDate: w.WeddingDate,
		StageID:     deref(w.StageID),
		Prepayment:  w.Prepayment,
		Postpayment: w.Postpayment,
		Opportunity: w.Opportunity,
	}
}

// WRContact is the contact component of a wide rows catalog row.
type WRContact struct {
	ID       *string `db:"contact_id"`
	Name     *string `db:"contact_name"`
	LastName *string `db:"contact_last_name"`
	Phone    *string `db:"contact_phone"`
}

// contact converts a WRContact to a Contact, returning nil if the contact did not
// resolve.
func (w WRContact) contact() *Contact {
	if w.ID == nil {
		return nil
	}
	return &Contact{
		ID:       *w.ID,
		Name:     deref(w.Name),
		LastName: w.LastName,
		Phone:    w.Phone,
	}
}

// DealContact is a deal with its contact, which is nil when the contact is not
// cached.
type DealContact struct {
	Deal
	Contact *Contact
}

// CatalogEntry is a product with the deals in which it is a line item.
type CatalogEntry struct {
	Product
	Deals []DealContact
}

// Catalog (a wide rows query) returns each product with its deals and their
// contacts, in product id order. search is a regular expression matched against the
// product name without regard to case; an empty search returns all products.
func (db *DB) Catalog(ctx context.Context, search string) ([]CatalogEntry, error) {

	stmts, release := db.acquire()
	defer release()
	stmt := stmts.catalog

	if search != "" {
		if _, err := compile("(?i)" + search); err != nil {
			return nil, fmt.Errorf("invalid search expression %q: %w", search, err)
		}
		search = "(?i)" + search
	}
	namedArgs := map[string]any{
		"TextSearch": search,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, fmt.Errorf("catalog verify args error: %w", err)
	}

	// catalogRow is a wide row of product, deal and contact.
	type catalogRow struct {
		Product
		WRDeal
		WRContact
	}
	var rows []catalogRow
	err := stmt.SelectContext(ctx, &rows, namedArgs)
	db.logQuery(stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("catalog select error: %w", err)
	}

	var entries []CatalogEntry
	index := map[string]int{}
	for _, r := range rows {
		i, ok := index[r.Product.ID]
		if !ok {
			entries = append(entries, CatalogEntry{Product: r.Product, Deals: []DealContact{}})
			i = len(entries) - 1
			index[r.Product.ID] = i
		}
		if d := r.WRDeal.deal(); d != nil {
			entries[i].Deals = append(entries[i].Deals, DealContact{Deal: *d, Contact: r.WRContact.contact()})
		}
	}
	return entries, nil
}

// ProductDeals returns the deals linked to a product, each with its contact.
func (db *DB) ProductDeals(ctx context.Context, productID string) ([]DealContact, error) {

	stmts, release := db.acquire()
	defer release()
	stmt := stmts.productDealsGet
	namedArgs := map[string]any{
		"ProductID": productID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, fmt.Errorf("product deals verify args error: %w", err)
	}

	type dealRow struct {
		WRDeal
		WRContact
	}
	var rows []dealRow
	err := stmt.SelectContext(ctx, &rows, namedArgs)
	db.logQuery(stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("product %s deals select error: %w", productID, err)
	}

	deals := make([]DealContact, 0, len(rows))
	for _, r := range rows {
		if d := r.WRDeal.deal(); d != nil {
			deals = append(deals, DealContact{Deal: *d, Contact: r.WRContact.contact()})
		}
	}
	return deals, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
