package db

import "embed"

// SQLFiles holds the embedded sql directory. It can be replaced at runtime by an
// on-disk directory holding files of the same names.
//
//go:embed sql
var SQLFiles embed.FS

// SQLMountName is the path of the sql directory in SQLFiles.
const SQLMountName = "sql"

// schemaSQL creates the partition tables. It is idempotent.
const schemaSQL = "schema.sql"

const (
	productUpsertSQL      = "product_upsert.sql"
	productUpdateSQL      = "product_update.sql"
	productSQL            = "product.sql"
	productsSQL           = "products.sql"
	productDeleteSQL      = "product_delete.sql"
	productLinksDeleteSQL = "product_links_delete.sql"
	productDealsSQL       = "product_deals.sql"

	dealUpsertSQL      = "deal_upsert.sql"
	dealDeleteSQL      = "deal_delete.sql"
	dealLinksDeleteSQL = "deal_links_delete.sql"

	contactUpsertSQL = "contact_upsert.sql"
	contactDeleteSQL = "contact_delete.sql"
	contactsSQL      = "contacts.sql"

	linkInsertSQL = "link_insert.sql"
	watermarksSQL = "watermarks.sql"
	catalogSQL    = "catalog.sql"
)
