package reconcile

// convert.go maps remote records onto store rows.

import (
	"regexp"
	"strconv"

	"github.com/rorycl/citycache/apiclients/bitrix"
	"github.com/rorycl/citycache/db"
)

// DefaultDescription is stored for products without a description.
const DefaultDescription = "Тут будет описание"

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// productRow converts a remote product. The quantity of a fetched product is always
// 0 as the cache holds no stock levels.
func productRow(p bitrix.Product, placeholder string, stripHTML bool) db.Product {
	row := db.Product{
		ID:          string(p.ID),
		Name:        string(p.Name),
		Description: placeholder,
	}
	if p.Description != nil && *p.Description != "" {
		row.Description = string(*p.Description)
		if stripHTML {
			row.Description = htmlTag.ReplaceAllString(row.Description, "")
		}
	}
	row.SectionID = idPtr(p.SectionID)
	row.OfferID = idPtr(p.OfferID)
	return row
}

// dealRow converts a remote deal and collects the ids of its line items.
func dealRow(d bitrix.Deal) RemoteDeal {
	row := RemoteDeal{
		Deal: db.Deal{
			ID:          string(d.ID),
			Title:       string(d.Title),
			ContactID:   idPtr(d.ContactID),
			BeginDate:   d.BeginDate.Ptr(),
			CloseDate:   d.CloseDate.Ptr(),
			WeddingDate: d.WeddingDate.Ptr(),
			StageID:     string(d.StageID),
			Prepayment:  d.Prepayment.Ptr(),
			Postpayment: d.Postpayment.Ptr(),
			Opportunity: d.Opportunity.Ptr(),
		},
	}
	for _, li := range d.LineItems {
		if li.ProductID != "" {
			row.ProductRefs = append(row.ProductRefs, string(li.ProductID))
		}
	}
	return row
}

// contactRow converts a remote contact.
func contactRow(c bitrix.Contact) db.Contact {
	return db.Contact{
		ID:       string(c.ID),
		Name:     string(c.Name),
		LastName: c.LastName.Ptr(),
		Phone:    c.PrimaryPhone(),
	}
}

// idPtr returns nil for a missing id and for "0", which the CRM uses for an
// unset reference.
func idPtr(id *bitrix.ID) *string {
	if id == nil || *id == "" || *id == "0" {
		return nil
	}
	s := string(*id)
	return &s
}

// above reports whether id is beyond the watermark. Non numeric ids are never
// excluded.
func above(id string, watermark *int64) bool {
	if watermark == nil {
		return true
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return true
	}
	return n > *watermark
}

// strPtr returns nil for an empty string.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
