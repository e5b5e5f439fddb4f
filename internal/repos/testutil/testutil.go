package testutil

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
)

var (
	errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")
	errNoVector   = errors.New("test database has no pgvector extension")
)

var (
	dbOnce sync.Once
	db     *gorm.DB
	dbErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dbOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			dbErr = errMissingDSN
			return
		}

		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			dbErr = err
			return
		}

		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			dbErr = err
			return
		}
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
			dbErr = errNoVector
			return
		}

		if err := autoMigrateAll(db); err != nil {
			dbErr = err
			return
		}
	})

	if errors.Is(dbErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run repo integration tests")
	}
	if errors.Is(dbErr, errNoVector) {
		tb.Skip("test database has no pgvector extension")
	}
	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return db
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

func autoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.User{},
		&types.ProviderConfig{},
		&types.Library{},
		&types.KnowledgeFile{},
		&types.Chunk{},
		&types.KnowledgeEntity{},
		&types.KnowledgeRelation{},
		&types.ChatSession{},
		&types.ChatMessage{},
		&types.IngestionTask{},
		&types.AuditLog{},
		&types.RetrievalProfile{},
	)
}

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, username string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: "pw",
		Role:         types.RoleUser,
		IsActive:     true,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedLibrary(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) *types.Library {
	tb.Helper()
	lib := &types.Library{
		ID:          uuid.New(),
		Name:        "lib",
		LibraryType: types.LibraryTypeGeneral,
		OwnerType:   types.OwnerTypePrivate,
		OwnerID:     &ownerID,
		RootPath:    tb.TempDir(),
	}
	if err := tx.WithContext(ctx).Create(lib).Error; err != nil {
		tb.Fatalf("seed library: %v", err)
	}
	return lib
}

func SeedKnowledgeFile(tb testing.TB, ctx context.Context, tx *gorm.DB, libraryID uuid.UUID, filepath string) *types.KnowledgeFile {
	tb.Helper()
	f := &types.KnowledgeFile{
		ID:        uuid.New(),
		LibraryID: libraryID,
		Filename:  "file.txt",
		Filepath:  filepath,
		FileType:  "txt",
		Status:    types.FileStatusIndexed,
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed knowledge file: %v", err)
	}
	return f
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }
