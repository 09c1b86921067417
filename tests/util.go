// Package testutil provides the database fixtures shared by the DB-backed tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"

	"github.com/trezcool/divecert/core/catalog"
	"github.com/trezcool/divecert/core/user"
	appfs "github.com/trezcool/divecert/fs"
	"github.com/trezcool/divecert/storage/database"
	sqlxrepos "github.com/trezcool/divecert/storage/database/sqlx"
)

var (
	testDB     *sql.DB
	skipReason string

	tables = "item_scores, evaluations, external_tests, criteria, subjects, enrollments, lessons, courses, users"
)

// RunMain sets up the test database, runs the tests and tears the database down.
// The database is TEST_DATABASE_URL when set, otherwise a throwaway postgres container.
// Tests calling PrepareDB are skipped when neither is available.
//
//	func TestMain(m *testing.M) { os.Exit(testutil.RunMain(m)) }
func RunMain(m *testing.M) int {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := database.OpenURL(dsn)
		if err != nil {
			log.Fatalf("Could not connect to TEST_DATABASE_URL: %s", err)
		}
		defer func() { _ = db.Close() }()
		if err = database.Migrate(db); err != nil {
			log.Fatalf("Could not migrate database: %s", err)
		}
		testDB = db
		return m.Run()
	}

	pool, err := dockertest.NewPool("")
	if err == nil {
		err = pool.Client.Ping()
	}
	if err != nil {
		skipReason = fmt.Sprintf("no TEST_DATABASE_URL and Docker is not reachable: %s", err)
		return m.Run()
	}
	pool.MaxWait = 2 * time.Minute

	resource, err := pool.Run("postgres", "15-alpine", []string{
		"POSTGRES_USER=divecert",
		"POSTGRES_PASSWORD=divecert",
		"POSTGRES_DB=divecert_test",
	})
	if err != nil {
		log.Fatalf("Could not start resource: %s", err)
	}
	_ = resource.Expire(600) // hard kill the container in 10 minutes
	defer func() {
		if err := pool.Purge(resource); err != nil {
			log.Printf("Could not purge resource: %s", err)
		}
	}()

	dsn := fmt.Sprintf("postgres://divecert:divecert@%s/divecert_test?sslmode=disable&timezone=utc", resource.GetHostPort("5432/tcp"))
	if err = pool.Retry(func() error {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return err
		}
		if err = db.Ping(); err != nil {
			_ = db.Close()
			return err
		}
		testDB = db
		return nil
	}); err != nil {
		log.Fatalf("Could not connect to database: %s", err)
	}
	defer func() { _ = testDB.Close() }()

	if err = database.Migrate(testDB); err != nil {
		log.Fatalf("Could not migrate database: %s", err)
	}
	return m.Run()
}

// PrepareDB returns the migrated test database, emptied of all data.
func PrepareDB(t *testing.T) *sql.DB {
	t.Helper()
	if testDB == nil {
		if skipReason == "" {
			skipReason = "test database not set up: call testutil.RunMain from TestMain"
		}
		t.Skip(skipReason)
	}
	if _, err := testDB.Exec("TRUNCATE " + tables + " RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return testDB
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	tstamp = tstamp.Truncate(time.Microsecond) // postgres precision
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// LoadDefaultCatalog loads the embedded default catalog and returns its subjects.
func LoadDefaultCatalog(t *testing.T, db *sql.DB) []catalog.Subject {
	t.Helper()
	data, err := appfs.FS.ReadFile(appfs.DefaultCatalog)
	if err != nil {
		t.Fatalf("LoadDefaultCatalog() failed: %v", err)
	}
	def, err := catalog.ParseDefinition(data)
	if err != nil {
		t.Fatalf("LoadDefaultCatalog() failed: %v", err)
	}
	subjects, err := catalog.NewService(db, sqlxrepos.NewCatalogRepository(db)).Load(context.Background(), def)
	if err != nil {
		t.Fatalf("LoadDefaultCatalog() failed: %v", err)
	}
	return subjects
}
