// Command createuser creates an account from the shell. It is the way
// to bootstrap the first librarian, since self-registration only makes
// students.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"steppe-library/internal/platform/auth"
	"steppe-library/internal/platform/db"
)

func main() {
	cfgPath := flag.String("config", db.DefaultConfigPath, "path to config.yaml")
	username := flag.String("username", "", "login name")
	role := flag.String("role", string(auth.RoleLibrarian), "student or librarian")
	first := flag.String("first", "", "first name")
	last := flag.String("last", "", "last name")
	email := flag.String("email", "", "email")
	flag.Parse()

	if err := run(*cfgPath, auth.NewUserInput{
		Username:  *username,
		Password:  os.Getenv("STEPPE_PASSWORD"),
		FirstName: *first,
		LastName:  *last,
		Email:     *email,
	}, *role); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
}

func run(cfgPath string, in auth.NewUserInput, role string) error {
	if in.Username == "" || in.Password == "" {
		return errors.New("-username and STEPPE_PASSWORD are required")
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return err
	}
	in.Role = r

	cfg, err := db.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer conn.Close()

	svc := auth.NewService(auth.NewStore(conn), []byte(cfg.Auth.JWTSecret), time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	u, err := svc.Register(context.Background(), in)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	log.Printf("[INFO] created %s %s (id=%d)", u.Role(), u.Username, u.ID)
	return nil
}
