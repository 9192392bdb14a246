package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	Serve(ctx context.Context, cfgPath string) error
	Sync(ctx context.Context, cfgPath, city string, full, asJSON bool) error
	Read(ctx context.Context, cfgPath, city, search string, asJSON bool) error
	Contacts(ctx context.Context, cfgPath, city string) error
	MigrateProduct(ctx context.Context, cfgPath, productID string) error
	DeleteProduct(ctx context.Context, cfgPath, productID string) error
	DeleteDeal(ctx context.Context, cfgPath, dealID, city string) error
	DeleteContact(ctx context.Context, cfgPath, contactID string) error
	Cities(ctx context.Context, cfgPath string) error
	Login(ctx context.Context, cfgPath string) error
	Logout(ctx context.Context, cfgPath string) error
	ExportSQL(ctx context.Context, dir string) error
}

// BuildCLI creates the full CLI command structure for the application.
// It injects the core application logic (the Applicator) into the command actions.
func BuildCLI(app Applicator) *cli.Command {
	// Define flags that are common across multiple commands.
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.yaml",
		Usage:   "path to the configuration file",
	}

	cityFlag := &cli.StringFlag{
		Name:     "city",
		Usage:    "the city partition, matched without regard to case",
		Required: true,
	}

	jsonFlag := &cli.BoolFlag{
		Name:  "json",
		Usage: "print the products as json rather than a summary",
	}

	idFlag := func(what string) *cli.StringFlag {
		return &cli.StringFlag{
			Name:     "id",
			Usage:    "the crm id of the " + what,
			Required: true,
		}
	}

	serveCmd := &cli.Command{
		Name:  "serve",
		Usage: "Run the cache web server",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Serve(ctx, c.String("config"))
		},
	}

	syncCmd := &cli.Command{
		Name:  "sync",
		Usage: "Fetch new products, deals and contacts of a city from Bitrix24",
		Flags: []cli.Flag{
			configFlag,
			cityFlag,
			jsonFlag,
			&cli.BoolFlag{Name: "full", Usage: "ignore the watermarks and fetch every record"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Sync(ctx, c.String("config"), c.String("city"), c.Bool("full"), c.Bool("json"))
		},
	}

	readCmd := &cli.Command{
		Name:  "read",
		Usage: "Show the cached products of a city",
		Flags: []cli.Flag{
			configFlag,
			cityFlag,
			jsonFlag,
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "regular expression matched against product names"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Read(ctx, c.String("config"), c.String("city"), c.String("search"), c.Bool("json"))
		},
	}

	contactsCmd := &cli.Command{
		Name:  "contacts",
		Usage: "Show the cached contacts of a city",
		Flags: []cli.Flag{configFlag, cityFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Contacts(ctx, c.String("config"), c.String("city"))
		},
	}

	migrateCmd := &cli.Command{
		Name:  "migrate-product",
		Usage: "Refresh a product from Bitrix24, moving it to the store of its city",
		Flags: []cli.Flag{configFlag, idFlag("product")},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.MigrateProduct(ctx, c.String("config"), c.String("id"))
		},
	}

	deleteProductCmd := &cli.Command{
		Name:  "delete-product",
		Usage: "Remove a product from every store",
		Flags: []cli.Flag{configFlag, idFlag("product")},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.DeleteProduct(ctx, c.String("config"), c.String("id"))
		},
	}

	deleteDealCmd := &cli.Command{
		Name:  "delete-deal",
		Usage: "Remove a deal from the store of a city, or from every store",
		Flags: []cli.Flag{
			configFlag,
			idFlag("deal"),
			&cli.StringFlag{Name: "city", Usage: "the city partition; every store if not given"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.DeleteDeal(ctx, c.String("config"), c.String("id"), c.String("city"))
		},
	}

	deleteContactCmd := &cli.Command{
		Name:  "delete-contact",
		Usage: "Remove a contact from every store",
		Flags: []cli.Flag{configFlag, idFlag("contact")},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.DeleteContact(ctx, c.String("config"), c.String("id"))
		},
	}

	citiesCmd := &cli.Command{
		Name:  "cities",
		Usage: "List the cities of the Bitrix24 product city field",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Cities(ctx, c.String("config"))
		},
	}

	loginCmd := &cli.Command{
		Name:  "login",
		Usage: "Authorize the local application with your Bitrix24 portal",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Login(ctx, c.String("config"))
		},
	}

	logoutCmd := &cli.Command{
		Name:  "logout",
		Usage: "Delete the saved Bitrix24 token",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Logout(ctx, c.String("config"))
		},
	}

	exportCmd := &cli.Command{
		Name:  "export-sql",
		Usage: "Write the embedded sql files to a directory for editing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Value: ".", Usage: "the directory to write the sql directory to"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.ExportSQL(ctx, c.String("dir"))
		},
	}

	// Assemble the root command.
	rootCmd := &cli.Command{
		Name:  "citycache",
		Usage: "A per-city cache of Bitrix24 products, deals and contacts",
		Commands: []*cli.Command{
			serveCmd, syncCmd, readCmd, contactsCmd, migrateCmd,
			deleteProductCmd, deleteDealCmd, deleteContactCmd,
			citiesCmd, loginCmd, logoutCmd, exportCmd,
		},
	}

	return rootCmd
}
