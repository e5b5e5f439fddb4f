package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/types"
	"github.com/csyeqing/rag-platform/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	log.Info("Loading environment variables...")
	dsn := postgresDSN(log)
	log.Debug("Environment variables loaded")

	log.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		log.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("Failed to connect to Postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		log.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("Failed to enable uuid-ossp extension: %w", err)
	}
	log.Info("uuid-ossp extension enabled")

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
		log.Error("Failed to enable vector extension", "error", err)
		return nil, fmt.Errorf("Failed to enable vector extension: %w", err)
	}
	log.Info("vector extension enabled")

	return &PostgresService{db: db, log: serviceLog}, nil
}

// postgresDSN prefers a full DATABASE_URL and falls back to the discrete
// POSTGRES_* variables.
func postgresDSN(log *logger.Logger) string {
	if dsn := utils.GetEnv("DATABASE_URL", "", log); dsn != "" {
		return dsn
	}
	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "rag_platform", log)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
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
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}
	s.log.Info("Configuring foreign key relationships for postgres tables...")
	cascades := []struct {
		table, column, refTable string
	}{
		{"provider_config", "owner_id", "user"},
		{"knowledge_file", "library_id", "library"},
		{"chunk", "library_id", "library"},
		{"chunk", "file_id", "knowledge_file"},
		{"knowledge_entity", "library_id", "library"},
		{"knowledge_relation", "library_id", "library"},
		{"knowledge_relation", "source_entity_id", "knowledge_entity"},
		{"knowledge_relation", "target_entity_id", "knowledge_entity"},
		{"chat_session", "user_id", "user"},
		{"chat_message", "session_id", "chat_session"},
	}
	for _, fk := range cascades {
		if err := s.addForeignKey(fk.table, fk.column, fk.refTable, "CASCADE"); err != nil {
			return err
		}
	}
	plain := []struct {
		table, column, refTable string
	}{
		{"ingestion_task", "library_id", "library"},
		{"ingestion_task", "created_by", "user"},
	}
	for _, fk := range plain {
		if err := s.addForeignKey(fk.table, fk.column, fk.refTable, "NO ACTION"); err != nil {
			return err
		}
	}
	return s.ensureEmbeddingDim()
}

// ensureEmbeddingDim resizes chunk.embedding when DEFAULT_EMBEDDING_DIM
// differs from the column's current dimension. For pgvector columns
// atttypmod holds the dimension directly.
func (s *PostgresService) ensureEmbeddingDim() error {
	dim := utils.GetEnvAsInt("DEFAULT_EMBEDDING_DIM", 1536, s.log)
	if dim < 1 {
		return fmt.Errorf("DEFAULT_EMBEDDING_DIM must be positive, got %d", dim)
	}
	var current int
	err := s.db.Raw(
		`SELECT a.atttypmod
		 FROM pg_attribute a
		 JOIN pg_class c ON c.oid = a.attrelid
		 WHERE c.relname = 'chunk' AND a.attname = 'embedding'`,
	).Scan(&current).Error
	if err != nil {
		return fmt.Errorf("Failed to read embedding column dimension: %w", err)
	}
	if current == dim {
		return nil
	}
	s.log.Info("Resizing chunk embedding column", "from", current, "to", dim)
	alter := fmt.Sprintf(`ALTER TABLE "chunk" ALTER COLUMN "embedding" TYPE vector(%d)`, dim)
	if err := s.db.Exec(alter).Error; err != nil {
		return fmt.Errorf("Failed to resize embedding column: %w", err)
	}
	return nil
}

func (s *PostgresService) addForeignKey(table, column, refTable, onDelete string) error {
	name := fmt.Sprintf("fk_%s_%s", table, column)
	drop := fmt.Sprintf(`ALTER TABLE %q DROP CONSTRAINT IF EXISTS %q`, table, name)
	if err := s.db.Exec(drop).Error; err != nil {
		return fmt.Errorf("Failed to drop %s: %w", name, err)
	}
	add := fmt.Sprintf(
		`ALTER TABLE %q ADD CONSTRAINT %q FOREIGN KEY (%q) REFERENCES %q("id") ON DELETE %s`,
		table, name, column, refTable, onDelete,
	)
	if err := s.db.Exec(add).Error; err != nil {
		return fmt.Errorf("Failed to add %s: %w", name, err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
