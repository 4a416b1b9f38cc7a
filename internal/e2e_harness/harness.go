package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/lychee-technology/tabula"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mysqlImage    = "mysql:8.0"
	mysqlPassword = "password"
	mysqlDatabase = "tabula"
)

// TestHarness runs a disposable MySQL server for end-to-end tests.
type TestHarness struct {
	Container testcontainers.Container
	Config    *tabula.Config
	DB        *sql.DB
}

// StartMySQL starts a MySQL container and waits until it accepts queries.
// Caller is responsible for calling Stop.
func (h *TestHarness) StartMySQL(ctx context.Context) (*tabula.Config, error) {
	req := testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": mysqlPassword,
			"MYSQL_DATABASE":      mysqlDatabase,
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}
	h.Container = container

	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	mapped, err := container.MappedPort(ctx, "3306")
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(mapped.Port())
	if err != nil {
		return nil, err
	}

	cfg := tabula.DefaultConfig()
	cfg.Database.Host = host
	cfg.Database.Port = port
	cfg.Database.Database = mysqlDatabase
	cfg.Database.Username = "root"
	cfg.Database.Password = mysqlPassword
	cfg.Executor.ReconnectDelay = 500 * time.Millisecond
	cfg.Executor.LostConnectionDelay = time.Second
	h.Config = cfg

	db, err := sql.Open("mysql", cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	// The port opens before the server finishes its init scripts.
	deadline := time.Now().Add(60 * time.Second)
	for {
		if err = db.PingContext(ctx); err == nil {
			h.DB = db
			return cfg, nil
		}
		if time.Now().After(deadline) {
			db.Close()
			return nil, fmt.Errorf("mysql did not become ready: %w", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// Stop closes the DB handle and terminates the container.
func (h *TestHarness) Stop(ctx context.Context) error {
	if h.DB != nil {
		h.DB.Close()
		h.DB = nil
	}
	if h.Container != nil {
		if err := h.Container.Terminate(ctx); err != nil {
			return err
		}
		h.Container = nil
	}
	return nil
}
