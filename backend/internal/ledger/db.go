package ledger

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"bizgraph/backend/pkg/logger"
)

// Open connects to the ledger database. postgres:// and postgresql:// DSNs use Postgres;
// sqlite://path, file: URIs and :memory: use SQLite.
func Open(dsn string) (*gorm.DB, error) {
	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}

	gormLog := gormLogger.New(
		zap.NewStdLog(logger.Named("gorm")),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormLog,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}
	return db, nil
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), nil
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported ledger DSN %q: expected postgres://, sqlite://, file: or :memory:", redact(dsn))
}

// redact hides credentials in a DSN for error messages.
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}

// AutoMigrate creates or updates the merge_records table and its indexes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&MergeRecord{}); err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}
