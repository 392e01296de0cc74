package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

const DefaultDBFile string = "comfy_studio.sqlite"

const getCurrentMigration string = `PRAGMA user_version;`
const setCurrentMigration string = `PRAGMA user_version = ?;`

const createJobRecordsTableIfNotExistsQuery string = `
CREATE TABLE IF NOT EXISTS job_records (
id INTEGER NOT NULL PRIMARY KEY,
job_id TEXT NOT NULL,
engine_url TEXT NOT NULL,
prompt TEXT NOT NULL,
seed TEXT NOT NULL,
sampler_name TEXT NOT NULL,
width INTEGER NOT NULL,
height INTEGER NOT NULL,
status TEXT NOT NULL,
image_filename TEXT NOT NULL,
failure_reason TEXT NOT NULL DEFAULT '',
created_at DATETIME NOT NULL,
updated_at DATETIME NOT NULL
);`

const createJobIDIndexIfNotExistsQuery string = `
CREATE INDEX IF NOT EXISTS job_records_job_id_index
ON job_records(job_id);
`

const createDefaultSettingsTableIfNotExistsQuery string = `
CREATE TABLE IF NOT EXISTS default_settings (
profile TEXT NOT NULL PRIMARY KEY,
width INTEGER NOT NULL,
height INTEGER NOT NULL,
steps INTEGER NOT NULL,
cfg_scale REAL NOT NULL,
sampler_name TEXT NOT NULL,
negative_prompt TEXT NOT NULL
);`

type migration struct {
	migrationName  string
	migrationQuery string
}

var migrations = []migration{
	{migrationName: "create job records table", migrationQuery: createJobRecordsTableIfNotExistsQuery},
	{migrationName: "add job id index", migrationQuery: createJobIDIndexIfNotExistsQuery},
	{migrationName: "create default settings table", migrationQuery: createDefaultSettingsTableIfNotExistsQuery},
}

// New opens the database at filename, creating it if needed, and brings the
// schema up to date.
func New(ctx context.Context, filename string) (*sql.DB, error) {
	if filename == "" {
		return nil, errors.New("missing database filename")
	}

	err := touchDBFile(filename)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}

	// Writes come from the generation pipeline and the web handlers at once.
	db.SetMaxOpenConns(1)

	err = migrate(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var currentMigration int

	row := db.QueryRowContext(ctx, getCurrentMigration)

	err := row.Scan(&currentMigration)
	if err != nil {
		return err
	}

	requiredMigration := len(migrations)

	log.Printf("Current DB version: %v, required DB version: %v\n", currentMigration, requiredMigration)

	for migrationNum := currentMigration + 1; migrationNum <= requiredMigration; migrationNum++ {
		err = execMigration(ctx, db, migrationNum)
		if err != nil {
			log.Printf("Error running migration %v '%v'\n", migrationNum, migrations[migrationNum-1].migrationName)

			return err
		}
	}

	return nil
}

func execMigration(ctx context.Context, db *sql.DB, migrationNum int) error {
	log.Printf("Running migration %v '%v'\n", migrationNum, migrations[migrationNum-1].migrationName)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	//nolint
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, migrations[migrationNum-1].migrationQuery)
	if err != nil {
		return err
	}

	setQuery := strings.Replace(setCurrentMigration, "?", strconv.Itoa(migrationNum), 1)

	_, err = tx.ExecContext(ctx, setQuery)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func touchDBFile(filename string) error {
	_, err := os.Stat(filename)
	if !os.IsNotExist(err) {
		return err
	}

	err = os.MkdirAll(filepath.Dir(filename), 0o755)
	if err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	return file.Close()
}
