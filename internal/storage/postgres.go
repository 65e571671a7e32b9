package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/xaenox/icp-bot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	now    func() time.Time
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := NewPostgresStorageWithDB(db, logger)
	if err := storage.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Connected to postgres",
		zap.String("host", config.Host),
		zap.String("database", config.DBName))
	return storage, nil
}

// NewPostgresStorageWithDB wraps an already opened handle. The schema is not
// touched; call Migrate for that.
func NewPostgresStorageWithDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (s *PostgresStorage) Migrate(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Get(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
		SELECT id, user_id, campaign_id, search_type, current_filters, schema_version,
		       version, status, created_at, updated_at, last_activity
		FROM conversations
		WHERE id = $1`

	conv := &models.Conversation{}
	var filtersJSON []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.UserID,
		&conv.CampaignID,
		&conv.SearchType,
		&filtersJSON,
		&conv.SchemaVersion,
		&conv.Version,
		&conv.Status,
		&conv.CreatedAt,
		&conv.UpdatedAt,
		&conv.LastActivity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting conversation: %w", err)
	}

	if err := json.Unmarshal(filtersJSON, &conv.CurrentFilters); err != nil {
		return nil, fmt.Errorf("error decoding filters: %w", err)
	}
	if conv.CurrentFilters == nil {
		conv.CurrentFilters = models.Filters{}
	}

	messages, err := s.messages(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages

	return conv, nil
}

func (s *PostgresStorage) messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	query := `
		SELECT id, role, content, metadata, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var metadata []byte
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &metadata, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		if len(metadata) > 0 {
			msg.Metadata = &models.MessageMetadata{}
			if err := json.Unmarshal(metadata, msg.Metadata); err != nil {
				return nil, fmt.Errorf("error decoding message metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func (s *PostgresStorage) Create(ctx context.Context, userID, campaignID string) (*models.Conversation, error) {
	conv := newConversation(userID, campaignID, s.now())

	query := `
		INSERT INTO conversations (id, user_id, campaign_id, search_type, current_filters,
		                           schema_version, version, status, created_at, updated_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $9)`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.UserID,
		conv.CampaignID,
		conv.SearchType,
		[]byte("{}"),
		conv.SchemaVersion,
		conv.Version,
		conv.Status,
		conv.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating conversation: %w", err)
	}

	return conv, nil
}

func (s *PostgresStorage) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	now := s.now()
	msg = prepareMessage(msg, now)

	var metadata []byte
	var applied pq.StringArray
	if msg.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(msg.Metadata); err != nil {
			return fmt.Errorf("error encoding message metadata: %w", err)
		}
		applied = msg.Metadata.FiltersApplied
	}
	if applied == nil {
		applied = pq.StringArray{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := touchRow(ctx, tx, id, now); err != nil {
		return err
	}

	query := `
		INSERT INTO conversation_messages (id, conversation_id, role, content, filters_applied, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := tx.ExecContext(ctx, query, msg.ID, id, msg.Role, msg.Content, applied, metadata, msg.Timestamp); err != nil {
		return fmt.Errorf("error appending message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing message: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CommitFilters(ctx context.Context, id string, filters models.Filters, evolutions []models.FilterEvolution, expectedVersion int64) error {
	if filters == nil {
		filters = models.Filters{}
	}
	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("error encoding filters: %w", err)
	}

	query := `
		UPDATE conversations
		SET current_filters = $2, schema_version = $3, version = version + 1,
		    updated_at = $4, last_activity = $4
		WHERE id = $1 AND ($5 = 0 OR version = $5)`

	res, err := s.db.ExecContext(ctx, query, id, filtersJSON, models.SchemaVersion, s.now(), expectedVersion)
	if err != nil {
		return fmt.Errorf("error committing filters: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error committing filters: %w", err)
	}
	if affected == 0 {
		exists, err := s.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		s.logger.Warn("Rejected stale filter commit",
			zap.String("conversation_id", id),
			zap.Int64("expected_version", expectedVersion))
		return ErrVersionConflict
	}

	s.logger.Debug("Committed filters",
		zap.String("conversation_id", id),
		zap.Int("changes", len(evolutions)))
	return nil
}

func (s *PostgresStorage) SetSearchType(ctx context.Context, id string, searchType models.SearchType) error {
	query := `
		UPDATE conversations
		SET search_type = $2, version = version + 1, updated_at = $3, last_activity = $3
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, searchType, s.now())
	if err != nil {
		return fmt.Errorf("error updating search type: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStorage) List(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT id
		FROM conversations
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY last_activity DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing conversations: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStorage) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("error deleting conversation: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE last_activity < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error cleaning up conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error cleaning up conversations: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking conversation: %w", err)
	}
	return exists, nil
}

func touchRow(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	query := `
		UPDATE conversations
		SET version = version + 1, updated_at = $2, last_activity = $2
		WHERE id = $1`

	res, err := tx.ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("error touching conversation: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
