package relational

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("relational: not found")

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	genre TEXT NOT NULL DEFAULT '',
	theme TEXT NOT NULL DEFAULT '',
	narrative_perspective TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chapters (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	chapter_number INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	expansion_plan TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chapters_project_number
	ON chapters(project_id, chapter_number);

CREATE TABLE IF NOT EXISTS outlines (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	chapter_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	structure TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_outlines_chapter ON outlines(chapter_id);

CREATE TABLE IF NOT EXISTS characters (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	role_type TEXT NOT NULL DEFAULT '',
	age TEXT NOT NULL DEFAULT '',
	gender TEXT NOT NULL DEFAULT '',
	appearance TEXT NOT NULL DEFAULT '',
	personality TEXT NOT NULL DEFAULT '',
	background TEXT NOT NULL DEFAULT '',
	is_organization INTEGER NOT NULL DEFAULT 0,
	organization_type TEXT NOT NULL DEFAULT '',
	organization_purpose TEXT NOT NULL DEFAULT '',
	main_career_id TEXT NOT NULL DEFAULT '',
	main_career_stage INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_characters_project ON characters(project_id);

CREATE TABLE IF NOT EXISTS character_relationships (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	character_from_id TEXT NOT NULL,
	character_to_id TEXT NOT NULL,
	relationship_name TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_relationships_project
	ON character_relationships(project_id);

CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	character_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_organizations_character
	ON organizations(character_id);

CREATE TABLE IF NOT EXISTS organization_members (
	organization_id TEXT NOT NULL,
	character_id TEXT NOT NULL,
	position TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (organization_id, character_id)
);

CREATE TABLE IF NOT EXISTS careers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	stages TEXT NOT NULL DEFAULT '[]',
	max_stage INTEGER NOT NULL DEFAULT 0,
	special_abilities TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS character_careers (
	character_id TEXT NOT NULL,
	career_id TEXT NOT NULL,
	career_type TEXT NOT NULL DEFAULT 'main',
	current_stage INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (character_id, career_id, career_type)
);

CREATE TABLE IF NOT EXISTS story_memories (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	chapter_id TEXT NOT NULL DEFAULT '',
	memory_type TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	story_timeline INTEGER NOT NULL DEFAULT 0,
	vector_id TEXT NOT NULL DEFAULT '',
	embedding_model TEXT NOT NULL DEFAULT '',
	importance_score REAL NOT NULL DEFAULT 0.5,
	is_foreshadow INTEGER NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT '[]',
	related_characters TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_story_memories_project
	ON story_memories(project_id, memory_type);
CREATE INDEX IF NOT EXISTS idx_story_memories_chapter
	ON story_memories(chapter_id);

CREATE TABLE IF NOT EXISTS foreshadows (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	plant_chapter_number INTEGER NOT NULL DEFAULT 0,
	target_resolve_chapter_number INTEGER,
	status TEXT NOT NULL DEFAULT 'pending',
	resolution_notes TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_foreshadows_project
	ON foreshadows(project_id, status);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id TEXT PRIMARY KEY,
	embedding_mode TEXT NOT NULL DEFAULT '',
	embedding_provider TEXT NOT NULL DEFAULT '',
	embedding_model TEXT NOT NULL DEFAULT '',
	embedding_api_key TEXT NOT NULL DEFAULT '',
	embedding_api_base_url TEXT NOT NULL DEFAULT ''
);
`

// Store wraps the SQLite database holding the relational project
// model. All queries are read-only except AppendMemory.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and bootstraps
// the schema. The parent directory is created when missing.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrapping schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// placeholders renders n comma-joined ? marks for IN clauses.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(vals []string) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}
