package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/rorycl/citycache/apiclients/bitrix"
)

func newRequest(t *testing.T, target, contentType, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

// TestValidator tests the error reporting of the Validator.
func TestValidator(t *testing.T) {
	v := NewValidator()
	if err := v.Err(); err != nil {
		t.Fatalf("unexpected error from an empty validator: %v", err)
	}
	v.Check(true, "city", "never")
	v.Check(false, "title", "A title must be provided.")
	v.AddError("city", "A city must be provided.")
	v.AddError("city", "second message ignored")

	err := v.Err()
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected a RequestError, got %T", err)
	}
	if got, want := err.Error(), "invalid request: city: A city must be provided.; title: A title must be provided."; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

// TestFlexString tests the decoding of scalars into a flexString.
func TestFlexString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "string", input: `"77"`, want: "77"},
		{name: "padded string", input: `" +7 700 123 "`, want: "+7 700 123"},
		{name: "integer", input: `77`, want: "77"},
		{name: "float", input: `15000.5`, want: "15000.5"},
		{name: "null", input: `null`, want: ""},
		{name: "object", input: `{"a": 1}`, wantErr: true},
	}
	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {
			var f flexString
			err := json.Unmarshal([]byte(tt.input), &f)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := f.String(); got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

// TestDecodeRequest tests json, form and query decoding of the city request.
func TestDecodeRequest(t *testing.T) {

	tests := []struct {
		name        string
		target      string
		contentType string
		body        string
		want        CityRequest
		wantErr     bool
	}{
		{
			name:        "json body",
			target:      "/dressup/get_goods_from_db",
			contentType: "application/json",
			body:        `{"city": "Астана", "search": "платье"}`,
			want:        CityRequest{City: "Астана", Search: "платье"},
		},
		{
			name:        "json body with charset",
			target:      "/dressup/get_goods_from_db",
			contentType: "application/json; charset=utf-8",
			body:        `{"city": "Астана"}`,
			want:        CityRequest{City: "Астана"},
		},
		{
			name:        "empty json body with query",
			target:      "/dressup/get_goods_from_db?city=" + url.QueryEscape("Караганда"),
			contentType: "application/json",
			want:        CityRequest{City: "Караганда"},
		},
		{
			name:        "query overrides json body",
			target:      "/dressup/get_goods_from_db?city=" + url.QueryEscape("Караганда"),
			contentType: "application/json",
			body:        `{"city": "Астана", "search": "x"}`,
			want:        CityRequest{City: "Караганда", Search: "x"},
		},
		{
			name:        "form body",
			target:      "/dressup/get_goods_from_db",
			contentType: "application/x-www-form-urlencoded",
			body:        "city=" + url.QueryEscape("Астана") + "&unknown=1",
			want:        CityRequest{City: "Астана"},
		},
		{
			name:   "no content type",
			target: "/dressup/get_goods_from_db?city=abc",
			want:   CityRequest{City: "abc"},
		},
		{
			name:        "broken json",
			target:      "/dressup/get_goods_from_db",
			contentType: "application/json",
			body:        `{"city": `,
			wantErr:     true,
		},
	}

	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {
			var got CityRequest
			err := decodeRequest(httptest.NewRecorder(), newRequest(t, tt.target, tt.contentType, tt.body), &got)
			if tt.wantErr {
				var reqErr *RequestError
				if !errors.As(err, &reqErr) {
					t.Fatalf("expected a RequestError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("request mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestDealRequest tests the validation and conversion of deal requests.
func TestDealRequest(t *testing.T) {

	tests := []struct {
		name      string
		request   DealRequest
		errFields []string
		wantItems []bitrix.LineItem
	}{
		{
			name: "valid",
			request: DealRequest{
				City:        " Астана ",
				Title:       "Аренда",
				Opportunity: "15000.50",
				CategoryID:  "2",
				Products: []DealProduct{
					{ID: "11", Quantity: "1", StoreID: "3"},
					{ID: "12", Quantity: "2"},
				},
			},
			wantItems: []bitrix.LineItem{
				{ProductID: "11", Quantity: "1", StoreID: textPtr("3")},
				{ProductID: "12", Quantity: "2"},
			},
		},
		{
			name:      "missing city and title",
			request:   DealRequest{},
			errFields: []string{"city", "title"},
			wantItems: []bitrix.LineItem{},
		},
		{
			name: "bad numbers",
			request: DealRequest{
				City:        "Астана",
				Title:       "Аренда",
				Opportunity: "many",
				CategoryID:  "-1",
			},
			errFields: []string{"category_id", "opportunity"},
			wantItems: []bitrix.LineItem{},
		},
		{
			name: "product without id",
			request: DealRequest{
				City:     "Астана",
				Title:    "Аренда",
				Products: []DealProduct{{Quantity: "1"}},
			},
			errFields: []string{"products"},
			wantItems: []bitrix.LineItem{{Quantity: "1"}},
		},
	}

	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {
			v := NewValidator()
			tt.request.Validate(v)

			var gotFields []string
			for k := range v.Errors {
				gotFields = append(gotFields, k)
			}
			if diff := cmp.Diff(tt.errFields, gotFields, sortStrings); diff != "" {
				t.Errorf("error fields mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, tt.request.LineItems()); diff != "" {
				t.Errorf("line items mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestDealRequestDeal tests the conversion of a valid request to a new deal.
func TestDealRequestDeal(t *testing.T) {
	r := DealRequest{
		City:        "Астана",
		Title:       " Аренда ",
		ContactID:   "7",
		DateFrom:    "2026-05-01",
		DateTo:      "2026-05-03",
		WeddingDate: "2026-05-02",
		Prepayment:  "5000",
		Opportunity: "15000",
		CategoryID:  "2",
	}
	v := NewValidator()
	r.Validate(v)
	if !v.Valid() {
		t.Fatalf("unexpected validation errors: %v", v.Errors)
	}
	got := r.Deal()
	if got.Title != "Аренда" || got.ContactID != "7" || got.CategoryID != 2 || got.Opportunity != 15000 {
		t.Errorf("unexpected deal %+v", got)
	}
	if got.BeginDate != "2026-05-01" || got.CloseDate != "2026-05-03" || got.WeddingDate != "2026-05-02" {
		t.Errorf("unexpected deal dates %+v", got)
	}
	if got.Prepayment != "5000" || got.Postpayment != "" {
		t.Errorf("unexpected deal payments %+v", got)
	}
}

// TestEventRequest tests the decoding of Bitrix24 outbound events.
func TestEventRequest(t *testing.T) {

	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{
			name:        "json",
			contentType: "application/json",
			body:        `{"event": "ONCRMPRODUCTUPDATE", "data": {"FIELDS": {"ID": 11}}}`,
			want:        "11",
		},
		{
			name:        "form",
			contentType: "application/x-www-form-urlencoded",
			body:        "event=ONCRMPRODUCTDELETE&" + url.QueryEscape("data[FIELDS][ID]") + "=12&auth[domain]=x",
			want:        "12",
		},
		{
			name:        "missing",
			contentType: "application/json",
			body:        `{"event": "ONCRMPRODUCTDELETE"}`,
			want:        "",
		},
	}

	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {
			var e EventRequest
			if err := decodeRequest(httptest.NewRecorder(), newRequest(t, "/dressup/delete_product", tt.contentType, tt.body), &e); err != nil {
				t.Fatal(err)
			}
			if got := e.ID(); got != tt.want {
				t.Errorf("got id %q want %q", got, tt.want)
			}
			v := NewValidator()
			e.Validate(v)
			if got, want := v.Valid(), tt.want != ""; got != want {
				t.Errorf("got valid %t want %t", got, want)
			}
		})
	}
}

// TestDocumentRequest tests the decoding of business process document ids.
func TestDocumentRequest(t *testing.T) {

	tests := []struct {
		name        string
		target      string
		contentType string
		body        string
		wantCity    string
		wantDeal    string
	}{
		{
			name:        "form with indexed keys",
			target:      "/dressup/remove_deal_from_db?city=" + url.QueryEscape("Астана"),
			contentType: "application/x-www-form-urlencoded",
			body: strings.Join([]string{
				url.QueryEscape("document_id[0]") + "=crm",
				url.QueryEscape("document_id[2]") + "=DEAL_45",
				url.QueryEscape("document_id[1]") + "=CCrmDocumentDeal",
			}, "&"),
			wantCity: "Астана",
			wantDeal: "45",
		},
		{
			name:        "json",
			target:      "/dressup/remove_deal_from_db?city=" + url.QueryEscape("Караганда"),
			contentType: "application/json",
			body:        `{"document_id": ["crm", "CCrmDocumentDeal", "DEAL_46"]}`,
			wantCity:    "Караганда",
			wantDeal:    "46",
		},
		{
			name:        "json city ignored",
			target:      "/dressup/remove_deal_from_db",
			contentType: "application/json",
			body:        `{"city": "Астана", "document_id": ["DEAL_47"]}`,
			wantCity:    "",
			wantDeal:    "47",
		},
		{
			name:        "no document id",
			target:      "/dressup/remove_deal_from_db?city=x",
			contentType: "application/json",
			body:        `{}`,
			wantCity:    "x",
			wantDeal:    "",
		},
	}

	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {
			var d DocumentRequest
			if err := decodeRequest(httptest.NewRecorder(), newRequest(t, tt.target, tt.contentType, tt.body), &d); err != nil {
				t.Fatal(err)
			}
			v := NewValidator()
			d.Validate(v)
			if got, want := d.City, tt.wantCity; got != want {
				t.Errorf("got city %q want %q", got, want)
			}
			if got, want := d.DealID(), tt.wantDeal; got != want {
				t.Errorf("got deal %q want %q", got, want)
			}
			if got, want := v.Valid(), tt.wantCity != "" && tt.wantDeal != ""; got != want {
				t.Errorf("got valid %t want %t (%v)", got, want, v.Errors)
			}
		})
	}
}

var sortStrings = cmpopts.SortSlices(func(a, b string) bool { return a < b })

func textPtr(s string) *bitrix.Text {
	t := bitrix.Text(s)
	return &t
}
