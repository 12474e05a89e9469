package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "github.com/mattn/go-sqlite3"

	"taskbridge/internal/models"
)

var (
	// ErrAlreadyMapped is returned when a foreign id already belongs to a mapping.
	ErrAlreadyMapped = errors.New("task already has a mapping")

	// ErrMappingNotFound is returned when no mapping matches the lookup.
	ErrMappingNotFound = errors.New("task mapping not found")

	// ErrItemNotFound is returned when no queue item matches the id.
	ErrItemNotFound = errors.New("sync queue item not found")
)

// DB wraps the sqlite store holding mappings, the sync queue, edit locks and
// the append-only audit log. Sync projects are configuration, not rows: they
// are injected once at startup and served from memory.
type DB struct {
	db     *sql.DB
	logger *zerolog.Logger

	projectsByMotion map[string]*models.SyncProject
	projectsByTrello map[string]*models.SyncProject
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{
		db:               db,
		logger:           logger,
		projectsByMotion: make(map[string]*models.SyncProject),
		projectsByTrello: make(map[string]*models.SyncProject),
	}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS task_mappings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            project_id INTEGER NOT NULL,
            motion_task_id TEXT,
            trello_card_id TEXT,
            sync_status TEXT NOT NULL DEFAULT 'active',
            sync_direction TEXT NOT NULL DEFAULT 'bidirectional',
            last_motion_update DATETIME,
            last_trello_update DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_mapping_id INTEGER NOT NULL,
            action_type TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            max_retries INTEGER NOT NULL DEFAULT 3,
            scheduled_for DATETIME NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            last_error TEXT,
            details TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS edit_locks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_mapping_id INTEGER NOT NULL,
            field_name TEXT NOT NULL,
            locked_by TEXT NOT NULL,
            platform TEXT NOT NULL,
            expires_at DATETIME NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(task_mapping_id, field_name)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_logs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            action_type TEXT NOT NULL,
            platform TEXT NOT NULL,
            success BOOLEAN NOT NULL DEFAULT 0,
            details TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_motion_task
            ON task_mappings(motion_task_id)
            WHERE motion_task_id IS NOT NULL AND motion_task_id != ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_trello_card
            ON task_mappings(trello_card_id)
            WHERE trello_card_id IS NOT NULL AND trello_card_id != ''`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_status ON task_mappings(sync_status)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_scheduled ON sync_queue(scheduled_for)`,
		`CREATE INDEX IF NOT EXISTS idx_locks_expiry ON edit_locks(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_action ON sync_logs(action_type)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// SetProjects installs the configured sync pairs for webhook lookups.
func (db *DB) SetProjects(projects []*models.SyncProject) {
	db.projectsByMotion = make(map[string]*models.SyncProject)
	db.projectsByTrello = make(map[string]*models.SyncProject)
	for _, p := range projects {
		db.projectsByMotion[p.MotionProjectID] = p
		db.projectsByTrello[p.TrelloBoardID] = p
	}
}

// ProjectByMotionID returns the sync-enabled project owning a Motion project id.
func (db *DB) ProjectByMotionID(motionProjectID string) (*models.SyncProject, bool) {
	p, ok := db.projectsByMotion[motionProjectID]
	if !ok || !p.SyncEnabled {
		return nil, false
	}
	return p, true
}

// ProjectByTrelloBoard returns the sync-enabled project owning a Trello board id.
func (db *DB) ProjectByTrelloBoard(boardID string) (*models.SyncProject, bool) {
	p, ok := db.projectsByTrello[boardID]
	if !ok || !p.SyncEnabled {
		return nil, false
	}
	return p, true
}

func (db *DB) Close() error {
	return db.db.Close()
}
