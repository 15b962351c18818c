package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jessevdk/go-flags"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"storeglide_bot/migrations"
)

type options struct {
	Dialect     string `long:"dialect" env:"MIGRATE_DIALECT" default:"sqlite" choice:"sqlite" choice:"postgres" description:"Database dialect"`
	DB          string `long:"db" env:"DATABASE_PATH" default:"./data/bot.db" description:"Path to sqlite database"`
	PostgresDSN string `long:"postgres-dsn" env:"POSTGRES_DSN" description:"PostgreSQL connection string"`
}

const usage = `Usage: migrate [options] <command>

Commands:
  up          Migrate to the latest version
  up-one      Migrate one version up
  down        Roll back one version
  status      Show migration status
  version     Show current version
  reset       Roll back all migrations`

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	args, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, usage)
			return
		}
		os.Exit(1)
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	dir, gooseDialect, err := migrations.Dir(opts.Dialect)
	if err != nil {
		log.Fatal(err)
	}

	driver, dsn := "sqlite", opts.DB
	if opts.Dialect == migrations.Postgres {
		if opts.PostgresDSN == "" {
			log.Fatal("POSTGRES_DSN is required for the postgres dialect")
		}
		driver, dsn = "pgx", opts.PostgresDSN
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(gooseDialect); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	cmd := args[0]
	switch cmd {
	case "up":
		err = goose.Up(db, dir)
	case "up-one":
		err = goose.UpByOne(db, dir)
	case "down":
		err = goose.Down(db, dir)
	case "status":
		err = goose.Status(db, dir)
	case "version":
		err = goose.Version(db, dir)
	case "reset":
		err = goose.Reset(db, dir)
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}
