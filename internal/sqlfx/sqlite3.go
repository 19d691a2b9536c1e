package sqlfx

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/yurykabanov/srvbackup/pkg/util"
)

const (
	ConfigSqliteDSN        = "sqlite.dsn"
	ConfigSqliteMigrations = "sqlite.migrations"

	DefaultSqliteDSN        = "./db/srvbackup.db"
	DefaultSqliteMigrations = "file://migrations/"
)

type SqliteConfig struct {
	DSN            string
	DatabaseName   string
	MigrationsPath string
}

func SqliteConfigProvider(v *viper.Viper) (*SqliteConfig, error) {
	v.SetDefault(ConfigSqliteDSN, DefaultSqliteDSN)
	v.SetDefault(ConfigSqliteMigrations, DefaultSqliteMigrations)

	config := &SqliteConfig{
		DSN:            v.GetString(ConfigSqliteDSN),
		DatabaseName:   "srvbackup",
		MigrationsPath: v.GetString(ConfigSqliteMigrations),
	}

	return config, nil
}

func OpenSqliteDatabase(config *SqliteConfig, logger *logrus.Logger) (*sqlx.DB, error) {
	logger.WithField("dsn", config.DSN).Debug("Connecting to DB with DSN")

	if file := dsnFile(config.DSN); file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, errors.Wrap(err, "Unable to create DB directory")
		}
	}

	db, err := sqlx.Open("sqlite3", config.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to connect to DB")
	}

	// Runs are written from several job workers
	db.SetMaxOpenConns(1)

	err = Migrate(db, config.MigrationsPath, config.DatabaseName)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate applies pending migrations and sets up column name mapping.
func Migrate(db *sqlx.DB, migrationsPath, databaseName string) error {
	db.MapperFunc(util.CamelToSnakeCase)

	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "Unable to create instance of migrate")
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, databaseName, driver)
	if err != nil {
		return errors.Wrap(err, "Unable to read migrations")
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "Unable to migrate DB")
	}

	return nil
}

func dsnFile(dsn string) string {
	file := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}

	if file == "" || file == ":memory:" {
		return ""
	}

	return file
}

func CloseSqliteDatabase(lc fx.Lifecycle, db *sqlx.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})
}
