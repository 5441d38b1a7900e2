//go:build integration

package postgres

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()
	dbName := "relay-test"
	dbUser := "user"
	dbPassword := "password"
	dbPort := "5432"

	// 1. Start the container
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"--network", "host",
		"-e", fmt.Sprintf("POSTGRES_DB=%s", dbName),
		"-e", fmt.Sprintf("POSTGRES_USER=%s", dbUser),
		"-e", fmt.Sprintf("POSTGRES_PASSWORD=%s", dbPassword),
		"postgres:14",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		log.Fatalf("could not start postgres container: %v. Is Docker running?", err)
	}
	containerID := strings.TrimSpace(out.String())[:12]

	// 2. Readiness check
	dsn := fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", dbUser, dbPassword, dbPort, dbName)
	var err error
	const maxRetries = 15
	for i := 0; i < maxRetries; i++ {
		testPool, err = Connect(ctx, dsn, 4)
		if err == nil {
			break
		}
		log.Printf("Waiting for database to be ready... (attempt %d/%d)", i+1, maxRetries)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		exec.Command("docker", "stop", containerID).Run()
		log.Fatalf("Unable to connect to test database after multiple retries: %v\n", err)
	}

	// 3. Apply schema
	if _, err := testPool.Exec(ctx, Schema); err != nil {
		log.Fatalf("could not apply schema: %s", err)
	}

	exitCode := m.Run()

	testPool.Close()
	if err := exec.Command("docker", "stop", containerID).Run(); err != nil {
		log.Printf("could not stop postgres container %s: %v", containerID, err)
	}
	os.Exit(exitCode)
}

func cleanup(t *testing.T) {
	t.Helper()
	if _, err := testPool.Exec(context.Background(), `TRUNCATE cursor_disk_kv`); err != nil {
		t.Fatalf("Failed to clean up database: %v", err)
	}
}
