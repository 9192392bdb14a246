package main

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeApp records the calls made by the cli.
type fakeApp struct {
	calls []string
}

func (f *fakeApp) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return nil
}

func (f *fakeApp) Serve(ctx context.Context, cfgPath string) error {
	return f.record("serve %s", cfgPath)
}

func (f *fakeApp) Sync(ctx context.Context, cfgPath, city string, full, asJSON bool) error {
	return f.record("sync %s %s full=%t json=%t", cfgPath, city, full, asJSON)
}

func (f *fakeApp) Read(ctx context.Context, cfgPath, city, search string, asJSON bool) error {
	return f.record("read %s %s %q json=%t", cfgPath, city, search, asJSON)
}

func (f *fakeApp) Contacts(ctx context.Context, cfgPath, city string) error {
	return f.record("contacts %s %s", cfgPath, city)
}

func (f *fakeApp) MigrateProduct(ctx context.Context, cfgPath, productID string) error {
	return f.record("migrate %s %s", cfgPath, productID)
}

func (f *fakeApp) DeleteProduct(ctx context.Context, cfgPath, productID string) error {
	return f.record("delete-product %s %s", cfgPath, productID)
}

func (f *fakeApp) DeleteDeal(ctx context.Context, cfgPath, dealID, city string) error {
	return f.record("delete-deal %s %s %q", cfgPath, dealID, city)
}

func (f *fakeApp) DeleteContact(ctx context.Context, cfgPath, contactID string) error {
	return f.record("delete-contact %s %s", cfgPath, contactID)
}

func (f *fakeApp) Cities(ctx context.Context, cfgPath string) error {
	return f.record("cities %s", cfgPath)
}

func (f *fakeApp) Login(ctx context.Context, cfgPath string) error {
	return f.record("login %s", cfgPath)
}

func (f *fakeApp) Logout(ctx context.Context, cfgPath string) error {
	return f.record("logout %s", cfgPath)
}

func (f *fakeApp) ExportSQL(ctx context.Context, dir string) error {
	return f.record("export %s", dir)
}

func TestCLI(t *testing.T) {

	tests := []struct {
		name    string
		args    string
		want    []string
		wantErr bool
	}{
		{
			name: "serve with default config",
			args: "serve",
			want: []string{"serve config.yaml"},
		},
		{
			name: "sync",
			args: "sync -c other.yaml --city Астана",
			want: []string{"sync other.yaml Астана full=false json=false"},
		},
		{
			name: "full sync as json",
			args: "sync --city Караганда --full --json",
			want: []string{"sync config.yaml Караганда full=true json=true"},
		},
		{
			name:    "sync without city",
			args:    "sync",
			wantErr: true,
		},
		{
			name: "read with search",
			args: "read --city астана -s ^Платье",
			want: []string{`read config.yaml астана "^Платье" json=false`},
		},
		{
			name: "contacts",
			args: "contacts --city Астана",
			want: []string{"contacts config.yaml Астана"},
		},
		{
			name: "migrate product",
			args: "migrate-product --id 11",
			want: []string{"migrate config.yaml 11"},
		},
		{
			name:    "migrate product without id",
			args:    "migrate-product",
			wantErr: true,
		},
		{
			name: "delete product",
			args: "delete-product --id 11",
			want: []string{"delete-product config.yaml 11"},
		},
		{
			name: "delete deal everywhere",
			args: "delete-deal --id 45",
			want: []string{`delete-deal config.yaml 45 ""`},
		},
		{
			name: "delete deal in city",
			args: "delete-deal --id 45 --city астана_",
			want: []string{`delete-deal config.yaml 45 "астана_"`},
		},
		{
			name: "delete contact",
			args: "delete-contact --id 7",
			want: []string{"delete-contact config.yaml 7"},
		},
		{
			name: "cities",
			args: "cities",
			want: []string{"cities config.yaml"},
		},
		{
			name: "login",
			args: "login",
			want: []string{"login config.yaml"},
		},
		{
			name: "logout",
			args: "logout -c x.yaml",
			want: []string{"logout x.yaml"},
		},
		{
			name: "export sql",
			args: "export-sql -d /tmp/out",
			want: []string{"export /tmp/out"},
		},
		{
			name: "export sql default dir",
			args: "export-sql",
			want: []string{"export ."},
		},
	}

	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.name), func(t *testing.T) {
			fake := &fakeApp{}
			cmd := BuildCLI(fake)
			cmd.Writer = &strings.Builder{}
			cmd.ErrWriter = &strings.Builder{}

			args := append([]string{"citycache"}, strings.Fields(tt.args)...)
			err := cmd.Run(t.Context(), args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, fake.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
