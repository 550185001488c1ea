// Command token prints an access token for a user, registering the account
// first when it does not exist. The first account registered becomes the
// administrator, so this is how a fresh deployment is bootstrapped.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"attendify/internal/auth"
	"attendify/internal/config"
	"attendify/internal/directory"
	"attendify/internal/logging"
	"attendify/internal/store"
)

func main() {
	email := flag.String("email", "", "account email (required)")
	name := flag.String("name", "", "display name used when the account is created")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.Env, cfg.LogLevel)

	if *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	dir := directory.NewService(directory.NewRepository(db.Client), nil, cfg.MaxTemplates, cfg.DefaultSensitivity, log)
	u, err := dir.FindByEmail(ctx, *email)
	if errors.Is(err, directory.ErrUserNotFound) {
		if *name == "" {
			log.Fatal().Msg("-name is required to create a new account")
		}
		u, err = dir.Register(ctx, directory.Registration{Name: *name, Email: *email})
	}
	if err != nil {
		log.Fatal().Err(err).Msg("resolve user failed")
	}

	iss := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	pair, err := iss.Issue(auth.Identity{Subject: u.ID, Role: string(u.Role), Name: u.Name})
	if err != nil {
		log.Fatal().Err(err).Msg("issue token failed")
	}
	fmt.Printf("user:    %s (%s, %s)\n", u.ID, u.Email, u.Role)
	fmt.Printf("access:  %s\n", pair.AccessToken)
	fmt.Printf("refresh: %s\n", pair.RefreshToken)
	fmt.Printf("expires: %s\n", pair.AccessExp.Format(time.RFC3339))
}
