package reconcile

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rorycl/citycache/db"
)

func ptr(s string) *string { return &s }

func TestJoin(t *testing.T) {

	p1 := db.Product{ID: "1", OfferID: ptr("101"), Name: "P1", Description: DefaultDescription}
	p2 := db.Product{ID: "2", Name: "P2", Description: DefaultDescription}
	cachedProduct := db.Product{ID: "3", Name: "P3", Description: DefaultDescription}
	c1 := db.Contact{ID: "c1", Name: "C1"}
	cachedContact := db.Contact{ID: "c2", Name: "C2"}

	d1 := RemoteDeal{Deal: db.Deal{ID: "d1", Title: "D1", ContactID: ptr("c1")}, ProductRefs: []string{"1"}}
	d2 := RemoteDeal{Deal: db.Deal{ID: "d2", Title: "D2", ContactID: ptr("c1")}}

	tests := []struct {
		name      string
		products  []db.Product
		deals     []RemoteDeal
		contacts  []db.Contact
		cached    Snapshot
		wantView  View
		wantBatch db.Batch
	}{
		{
			name:     "denormalization",
			products: []db.Product{p1, p2},
			deals:    []RemoteDeal{d1, d2},
			contacts: []db.Contact{c1},
			wantView: View{
				productView(p1, []DealView{dealView(d1.Deal, &c1)}),
				productView(p2, nil),
			},
			wantBatch: db.Batch{
				Products: []db.Product{p1, p2},
				Deals:    []db.Deal{d1.Deal},
				Contacts: []db.Contact{c1},
				Links:    []db.Link{{DealID: "d1", ProductID: "1"}},
			},
		},
		{
			name:     "offer id",
			products: []db.Product{p1},
			deals:    []RemoteDeal{
				{Deal: d1.Deal, ProductRefs: []string{"101"}},
			},
			contacts: []db.Contact{c1},
			wantView: View{
				productView(p1, []DealView{dealView(d1.Deal, &c1)}),
			},
			wantBatch: db.Batch{
				Products: []db.Product{p1},
				Deals:    []db.Deal{d1.Deal},
				Contacts: []db.Contact{c1},
				Links:    []db.Link{{DealID: "d1", ProductID: "1"}},
			},
		},
		{
			name:     "product and offer on one deal link once",
			products: []db.Product{p1},
			deals:    []RemoteDeal{
				{Deal: d1.Deal, ProductRefs: []string{"1", "101", "1"}},
			},
			contacts: []db.Contact{c1},
			wantView: View{
				productView(p1, []DealView{dealView(d1.Deal, &c1)}),
			},
			wantBatch: db.Batch{
				Products: []db.Product{p1},
				Deals:    []db.Deal{d1.Deal},
				Contacts: []db.Contact{c1},
				Links:    []db.Link{{DealID: "d1", ProductID: "1"}},
			},
		},
		{
			name:     "unresolved contact",
			products: []db.Product{p2},
			deals:    []RemoteDeal{
				{Deal: db.Deal{ID: "d3", ContactID: ptr("missing")}, ProductRefs: []string{"2"}},
			},
			wantView: View{
				productView(p2, []DealView{dealView(db.Deal{ID: "d3", ContactID: ptr("missing")}, nil)}),
			},
			wantBatch: db.Batch{
				Products: []db.Product{p2},
				Deals:    []db.Deal{{ID: "d3", ContactID: ptr("missing")}},
				Links:    []db.Link{{DealID: "d3", ProductID: "2"}},
			},
		},
		{
			name:  "cached product and contact",
			deals: []RemoteDeal{
				{Deal: db.Deal{ID: "d4", ContactID: ptr("c2")}, ProductRefs: []string{"3", "404"}},
			},
			cached: Snapshot{
				Products: []db.Product{cachedProduct},
				Contacts: []db.Contact{cachedContact},
			},
			wantView:  View{},
			wantBatch: db.Batch{
				Deals: []db.Deal{{ID: "d4", ContactID: ptr("c2")}},
				Links: []db.Link{{DealID: "d4", ProductID: "3"}},
			},
		},
		{
			name:     "deals in fetch order",
			products: []db.Product{p2},
			deals:    []RemoteDeal{
				{Deal: db.Deal{ID: "d9"}, ProductRefs: []string{"2"}},
				{Deal: db.Deal{ID: "d5"}, ProductRefs: []string{"2"}},
			},
			wantView: View{
				productView(p2, []DealView{
					dealView(db.Deal{ID: "d9"}, nil),
					dealView(db.Deal{ID: "d5"}, nil),
				}),
			},
			wantBatch: db.Batch{
				Products: []db.Product{p2},
				Deals:    []db.Deal{{ID: "d9"}, {ID: "d5"}},
				Links:    []db.Link{
					{DealID: "d9", ProductID: "2"},
					{DealID: "d5", ProductID: "2"},
				},
			},
		},
	}

	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {
			view, batch := Join(tt.products, tt.deals, tt.contacts, tt.cached)
			if diff := cmp.Diff(tt.wantView, view); diff != "" {
				t.Errorf("view mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantBatch, batch); diff != "" {
				t.Errorf("batch mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestViewUnresolved(t *testing.T) {
	view := View{
		productView(db.Product{ID: "1"}, []DealView{
			dealView(db.Deal{ID: "d1", ContactID: ptr("c1")}, nil),
			dealView(db.Deal{ID: "d2"}, nil),
		}),
		productView(db.Product{ID: "2"}, []DealView{
			dealView(db.Deal{ID: "d1", ContactID: ptr("c1")}, nil),
			dealView(db.Deal{ID: "d3", ContactID: ptr("c3")}, &db.Contact{ID: "c3"}),
		}),
	}
	if diff := cmp.Diff([]string{"d1"}, view.unresolved()); diff != "" {
		t.Errorf("unresolved mismatch (-want +got):\n%s", diff)
	}
}
