package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin101681/cascadeconnect-sub000/internal/identity"
	"github.com/kevin101681/cascadeconnect-sub000/internal/model"
	"github.com/kevin101681/cascadeconnect-sub000/migrations"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	const (
		port     = 5499
		user     = "cascade_test"
		password = "cascade_test"
		database = "cascade_test"
	)

	runtimeDir, err := os.MkdirTemp("", "cascade-pg-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(runtimeDir)

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(filepath.Join(runtimeDir, "data")).
			RuntimePath(filepath.Join(runtimeDir, "runtime")),
	)
	if err := db.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "embedded postgres: %v\n", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := pgxpool.New(ctx, url)
	if err == nil {
		err = applyMigrations(ctx, pool)
	}
	cancel()
	if err != nil {
		db.Stop()
		fmt.Fprintf(os.Stderr, "test db setup: %v\n", err)
		os.Exit(1)
	}
	testPool = pool

	code := m.Run()

	pool.Close()
	db.Stop()
	os.Exit(code)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

// provisionUser inserts a subject so messages and memberships referencing
// it are valid. Each test uses distinct subjects to stay independent.
func provisionUser(t *testing.T, subject, displayName string) identity.Ref {
	t.Helper()
	repo := NewUserRepository(testPool)
	u := &model.User{
		Subject:     identity.Ref(subject),
		DisplayName: displayName,
		Email:       subject + "@example.test",
		CreatedAt:   time.Now(),
	}
	if err := repo.Provision(context.Background(), u); err != nil {
		t.Fatalf("provision %s: %v", subject, err)
	}
	return u.Subject
}
