// raffle-migrate manages the raffle database schema and bootstraps
// dashboard administrators.
//
//	raffle-migrate --up
//	raffle-migrate --to 1
//	raffle-migrate --create-admin --username admin --password '...'
//	raffle-migrate --seed
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"ms-raffle/internal/auth"
	"ms-raffle/internal/config"
	"ms-raffle/internal/database"
	"ms-raffle/internal/database/migrations"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	raffledb "ms-raffle/internal/raffle/db"
	"ms-raffle/internal/raffle/tickets"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type options struct {
	up          bool
	down        bool
	to          uint
	version     bool
	createAdmin bool
	username    string
	password    string
	seed        bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("raffle-migrate", pflag.ContinueOnError)
	flagSet.BoolVar(&opts.up, "up", false, "apply all pending migrations")
	flagSet.BoolVar(&opts.down, "down", false, "roll back every migration")
	flagSet.UintVar(&opts.to, "to", 0, "migrate up or down to this version")
	flagSet.BoolVar(&opts.version, "version", false, "print the current schema version")
	flagSet.BoolVar(&opts.createAdmin, "create-admin", false, "create a dashboard administrator")
	flagSet.StringVar(&opts.username, "username", "", "administrator username")
	flagSet.StringVar(&opts.password, "password", "", "administrator password (min 8 characters)")
	flagSet.BoolVar(&opts.seed, "seed", false, "insert sample entries for local development")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NFlag() == 0 {
		flagSet.PrintDefaults()
		return errors.New("no action given")
	}

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(os.Stdout)
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	bunDB, err := database.Connect(cfg.Database, log)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := &raffledb.DB{Bun: bunDB}

	if opts.up || opts.down || flagSet.Changed("to") || opts.version {
		if cfg.Database.Driver == "sqlite" {
			if opts.down || flagSet.Changed("to") {
				return errors.New("versioned migrations require the postgres driver")
			}
			if err := store.CreateSchema(ctx); err != nil {
				return fmt.Errorf("create sqlite schema: %w", err)
			}
			log.Info("MIGRATE", "SQLite schema ready")
		} else {
			runner := migrations.NewRunner(bunDB.DB, log)
			defer runner.Close()
			if err := migrate(runner, flagSet, opts, log); err != nil {
				return err
			}
		}
	}

	if opts.createAdmin {
		if err := createAdmin(ctx, store, opts.username, opts.password); err != nil {
			return err
		}
		log.Info("AUTH", fmt.Sprintf("Administrator %q created", opts.username))
	}

	if opts.seed {
		n, err := seed(ctx, store)
		if err != nil {
			return err
		}
		log.Info("SEED", fmt.Sprintf("Inserted %d sample entries", n))
	}

	return nil
}

func migrate(runner *migrations.Runner, flagSet *pflag.FlagSet, opts options, log *logger.Logger) error {
	switch {
	case opts.down:
		return runner.MigrateDown()
	case flagSet.Changed("to"):
		return runner.MigrateTo(opts.to)
	case opts.up:
		return runner.MigrateUp()
	}

	version, dirty, err := runner.Version()
	if err != nil {
		return err
	}
	log.Info("MIGRATE", fmt.Sprintf("version=%d dirty=%t", version, dirty))
	return nil
}

func createAdmin(ctx context.Context, store *raffledb.DB, username, password string) error {
	if username == "" {
		return errors.New("--username is required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return store.CreateUser(ctx, &models.User{Username: username, PasswordHash: hash})
}

// seed inserts a few entries; numbers already claimed are left alone.
func seed(ctx context.Context, store *raffledb.DB) (int, error) {
	samples := []struct {
		entry   models.Entry
		numbers []int
	}{
		{models.Entry{FullName: "Ana Pérez", IDNumber: "V12345678", Phone: "+584141234567", CountryCode: "VE", CountryName: "Venezuela", PaymentReference: "000123", FileURL: "https://ik.imagekit.io/demo/comprobantes/ana.png", FileName: "ana.png", MimeType: "image/png"}, []int{10, 11}},
		{models.Entry{FullName: "María Gómez", IDNumber: "V87654321", Phone: "+584241112233", CountryCode: "VE", CountryName: "Venezuela", PaymentReference: "000124", FileURL: "https://ik.imagekit.io/demo/comprobantes/maria.pdf", FileName: "maria.pdf", MimeType: "application/pdf"}, []int{7, 8, 9}},
		{models.Entry{FullName: "Luis Rodríguez", IDNumber: "E9988776", Phone: "+573001234567", CountryCode: "CO", CountryName: "Colombia", PaymentReference: "COL-55", FileURL: "https://ik.imagekit.io/demo/comprobantes/luis.jpg", FileName: "luis.jpg", MimeType: "image/jpeg"}, []int{25, 9999}},
	}

	inserted := 0
	for _, s := range samples {
		packed, err := tickets.Encode(s.numbers)
		if err != nil {
			return inserted, err
		}
		entry := s.entry
		err = store.CreateEntry(ctx, &entry, s.numbers, packed)
		if errors.Is(err, raffledb.ErrTicketClaimed) {
			continue
		}
		if err != nil {
			return inserted, fmt.Errorf("seed %s: %w", entry.FullName, err)
		}
		inserted++
	}
	return inserted, nil
}
