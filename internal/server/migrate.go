package server

import (
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies database migrations. dir must be a source URL such as
// "file://migrations". cmd is one of up, down, force, version.
func Migrate(dir, dsn, cmd string, version int) error {
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer func() {
		if serr, derr := m.Close(); serr != nil || derr != nil {
			log.Printf("[MIGRATE] close: source=%v db=%v", serr, derr)
		}
	}()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "force":
		err = m.Force(version)
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil {
			return fmt.Errorf("migrate version: %w", verr)
		}
		log.Printf("[MIGRATE] version=%d dirty=%v", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", cmd)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", cmd, err)
	}
	return nil
}
