package bitrix

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIDAndText(t *testing.T) {

	tests := []struct {
		name    string
		input   string
		wantID  ID
		wantPtr bool
		isErr   bool
	}{
		{"string", `"45"`, "45", true, false},
		{"number", `45`, "45", true, false},
		{"decimal", `15000.50`, "15000.50", true, false},
		{"null", `null`, "", false, false},
		{"empty", `""`, "", false, false},
		{"object", `{"id": 1}`, "", false, true},
	}

	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {
			var id ID
			err := json.Unmarshal([]byte(tt.input), &id)
			if got, want := err != nil, tt.isErr; got != want {
				t.Fatalf("got error %v want error %t", err, want)
			}
			if tt.isErr {
				return
			}
			if id != tt.wantID {
				t.Errorf("got id %q want %q", id, tt.wantID)
			}

			var text Text
			if err := json.Unmarshal([]byte(tt.input), &text); err != nil {
				t.Fatal(err)
			}
			if got := text.Ptr() != nil; got != tt.wantPtr {
				t.Errorf("got ptr %t want %t", got, tt.wantPtr)
			}
		})
	}
}

func TestPropertyValue(t *testing.T) {

	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"object", `{"valueId": "901", "value": "45"}`, "45", true},
		{"list", `[{"valueId": "901", "value": 46}, {"valueId": "902", "value": "45"}]`, "46", true},
		{"scalar", `"47"`, "47", true},
		{"null", `null`, "", false},
		{"empty list", `[]`, "", false},
		{"null value", `{"valueId": "901", "value": null}`, "", false},
	}

	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {
			got, ok := propertyValue(json.RawMessage(tt.input))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("got %q %t want %q %t", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestProductUnmarshal(t *testing.T) {
	var p Product
	err := json.Unmarshal(readTestdata(t, "product_get.json"), &struct {
		Result *Product `json:"result"`
	}{&p})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "11" || p.Name != "Ivory A-line" {
		t.Errorf("unexpected product %+v", p)
	}
	if _, ok := p.Properties["PROPERTY_107"]; !ok {
		t.Error("city property not collected")
	}
	if _, ok := p.Properties["NAME"]; ok {
		t.Error("standard field collected as a property")
	}
}

func TestFieldValues(t *testing.T) {

	var fields map[string]fieldDescriptor
	err := json.Unmarshal(readTestdata(t, "product_fields.json"), &struct {
		Result *map[string]fieldDescriptor `json:"result"`
	}{&fields})
	if err != nil {
		t.Fatal(err)
	}

	values, err := fields["PROPERTY_107"].values()
	if err != nil {
		t.Fatal(err)
	}
	want := []FieldValue{{ID: "45", Value: "Астана"}, {ID: "46", Value: "Караганда"}}
	if diff := cmp.Diff(want, values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}

	pf := PartitionField{Key: "PROPERTY_107", Values: values}
	if id, ok := pf.ValueID(" караганда "); !ok || id != "46" {
		t.Errorf("ValueID got %q %t", id, ok)
	}
	if name, ok := pf.ValueName("45"); !ok || name != "Астана" {
		t.Errorf("ValueName got %q %t", name, ok)
	}
	if _, ok := pf.ValueID("Алматы"); ok {
		t.Error("unexpected value for unknown city")
	}

	// User fields enumerate their values as a list of items.
	var uf fieldDescriptor
	if err := json.Unmarshal([]byte(`{"type": "enumeration", "items": [{"ID": "3", "VALUE": "b"}, {"ID": "1", "VALUE": "a"}]}`), &uf); err != nil {
		t.Fatal(err)
	}
	items, err := uf.values()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != "3" {
		t.Errorf("unexpected items %+v", items)
	}
}

func TestHasLabel(t *testing.T) {
	label := Text("Сумма предоплаты")
	f := fieldDescriptor{Title: "UF_CRM_1700000002", FormLabel: &label}
	if !f.hasLabel("сумма предоплаты") {
		t.Error("form label not matched")
	}
	if f.hasLabel("") {
		t.Error("empty label matched")
	}
	if f.hasLabel("Постоплата") {
		t.Error("unexpected label match")
	}
}

func TestOfferParent(t *testing.T) {
	var offers []Offer
	err := json.Unmarshal([]byte(`[{"id": 1, "parentId": {"id": 15, "value": 11}}, {"id": 2, "parentId": 12}, {"id": 3, "parentId": null}]`), &offers)
	if err != nil {
		t.Fatal(err)
	}
	got := []OfferParent{offers[0].ParentID, offers[1].ParentID, offers[2].ParentID}
	if diff := cmp.Diff([]OfferParent{"11", "12", ""}, got); diff != "" {
		t.Errorf("parents mismatch (-want +got):\n%s", diff)
	}
}
