package storyline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	schemaVersion = 1
	timeLayout    = "2006-01-02T15:04:05.000000000Z07:00"
)

var (
	ErrNotFound        = errors.New("storyline not found")
	ErrOutcomeLocked   = errors.New("storyline outcome already decided")
	ErrActiveStoryline = errors.New("another storyline is still active")
)

// ExclusivityScope selects how the single-active-slot rule is applied.
type ExclusivityScope string

const (
	ScopeGlobal   ExclusivityScope = "global"
	ScopeCategory ExclusivityScope = "category"
)

// Store owns storyline persistence. It is the only component that talks to
// the database.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func NewStore(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("open store: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps PRAGMAs and the write lock consistent.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// SetClock replaces the clock used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrateSchema() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS storylines (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			category TEXT NOT NULL,
			narrative_type TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT 'announced',
			phase_started_at TEXT NOT NULL,
			current_emotional_tone TEXT NOT NULL DEFAULT '',
			emotional_intensity REAL NOT NULL DEFAULT 0.5
				CHECK (emotional_intensity >= 0 AND emotional_intensity <= 1),
			outcome TEXT NULL,
			outcome_description TEXT NOT NULL DEFAULT '',
			resolution_emotion TEXT NOT NULL DEFAULT '',
			times_mentioned INTEGER NOT NULL DEFAULT 0,
			last_mentioned_at TEXT NULL,
			should_mention_by TEXT NULL,
			initial_announcement TEXT NOT NULL DEFAULT '',
			stakes TEXT NOT NULL DEFAULT '',
			user_involvement TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			resolved_at TEXT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_storylines_outcome ON storylines(outcome)`,
		`CREATE INDEX IF NOT EXISTS idx_storylines_phase ON storylines(phase)`,
		`CREATE INDEX IF NOT EXISTS idx_storylines_category_created ON storylines(category, created_at)`,
		`CREATE TABLE IF NOT EXISTS storyline_updates (
			id TEXT PRIMARY KEY,
			storyline_id TEXT NOT NULL REFERENCES storylines(id) ON DELETE CASCADE,
			update_type TEXT NOT NULL,
			content TEXT NOT NULL,
			emotional_tone TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			should_reveal_at TEXT NULL,
			mentioned INTEGER NOT NULL DEFAULT 0,
			mentioned_at TEXT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_storyline ON storyline_updates(storyline_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_unmentioned ON storyline_updates(mentioned, should_reveal_at)`,
		`CREATE TABLE IF NOT EXISTS engine_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_processed_at TEXT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS processed_days (
			day TEXT PRIMARY KEY,
			processed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS creation_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			category TEXT NOT NULL,
			result TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_creation_attempts_result ON creation_attempts(result, created_at)`,
		`CREATE TABLE IF NOT EXISTS character_facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL,
			fact_key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(category, fact_key)
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

const storylineColumns = `id, title, category, narrative_type, phase, phase_started_at,
	current_emotional_tone, emotional_intensity, outcome, outcome_description,
	resolution_emotion, times_mentioned, last_mentioned_at, should_mention_by,
	initial_announcement, stakes, user_involvement, created_at, updated_at, resolved_at`

const updateColumns = `id, storyline_id, update_type, content, emotional_tone, created_at,
	should_reveal_at, mentioned, mentioned_at`

// CreateStoryline inserts a storyline in the announced phase without any
// exclusivity check.
func (s *Store) CreateStoryline(ctx context.Context, in NewStoryline) (*Storyline, error) {
	return s.insertStoryline(ctx, in, "")
}

// CreateStorylineExclusive inserts a storyline only if no active storyline
// exists in scope. The check and the write are a single statement, so two
// concurrent callers cannot both win. Returns ErrActiveStoryline when blocked.
func (s *Store) CreateStorylineExclusive(ctx context.Context, in NewStoryline, scope ExclusivityScope) (*Storyline, error) {
	if scope != ScopeCategory {
		scope = ScopeGlobal
	}
	return s.insertStoryline(ctx, in, scope)
}

func (s *Store) insertStoryline(ctx context.Context, in NewStoryline, scope ExclusivityScope) (*Storyline, error) {
	if err := validateNewStoryline(in); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	st := &Storyline{
		ID:                   uuid.NewString(),
		Title:                strings.TrimSpace(in.Title),
		Category:             in.Category,
		NarrativeType:        in.NarrativeType,
		Phase:                PhaseAnnounced,
		PhaseStartedAt:       now,
		CurrentEmotionalTone: strings.TrimSpace(in.EmotionalTone),
		EmotionalIntensity:   clampIntensity(in.EmotionalIntensity),
		ShouldMentionBy:      in.ShouldMentionBy,
		CreatedAt:            now,
		UpdatedAt:            now,
		InitialAnnouncement:  strings.TrimSpace(in.InitialAnnouncement),
		Stakes:               strings.TrimSpace(in.Stakes),
		UserInvolvement:      strings.TrimSpace(in.UserInvolvement),
	}

	args := []any{
		st.ID, st.Title, string(st.Category), string(st.NarrativeType), string(st.Phase),
		formatTime(now), st.CurrentEmotionalTone, st.EmotionalIntensity,
		formatTimePtr(st.ShouldMentionBy), st.InitialAnnouncement, st.Stakes,
		st.UserInvolvement, formatTime(now), formatTime(now),
	}
	q := `INSERT INTO storylines (
			id, title, category, narrative_type, phase, phase_started_at,
			current_emotional_tone, emotional_intensity, should_mention_by,
			initial_announcement, stakes, user_involvement, created_at, updated_at
		) SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`
	switch scope {
	case ScopeGlobal:
		q += ` WHERE NOT EXISTS (SELECT 1 FROM storylines WHERE outcome IS NULL)`
	case ScopeCategory:
		q += ` WHERE NOT EXISTS (SELECT 1 FROM storylines WHERE outcome IS NULL AND category = ?)`
		args = append(args, string(st.Category))
	}

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("insert storyline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert storyline rows: %w", err)
	}
	if n == 0 {
		return nil, ErrActiveStoryline
	}
	return st, nil
}

func validateNewStoryline(in NewStoryline) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("storyline title is required")
	}
	if !in.Category.Valid() {
		return fmt.Errorf("invalid category %q", in.Category)
	}
	if !in.NarrativeType.Valid() {
		return fmt.Errorf("invalid narrative type %q", in.NarrativeType)
	}
	return nil
}

func (s *Store) GetStoryline(ctx context.Context, id string) (*Storyline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storylineColumns+` FROM storylines WHERE id = ?`, id)
	st, err := scanStoryline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get storyline: %w", err)
	}
	return st, nil
}

// ListActive returns storylines with no outcome yet.
func (s *Store) ListActive(ctx context.Context) ([]Storyline, error) {
	return s.queryStorylines(ctx, "list active",
		`SELECT `+storylineColumns+` FROM storylines WHERE outcome IS NULL ORDER BY created_at ASC`)
}

// ListInFlight returns storylines the transition engine still drives.
func (s *Store) ListInFlight(ctx context.Context) ([]Storyline, error) {
	return s.queryStorylines(ctx, "list in-flight",
		`SELECT `+storylineColumns+` FROM storylines
		WHERE phase NOT IN (?, ?) ORDER BY created_at ASC`,
		string(PhaseResolved), string(PhaseReflecting))
}

// ListSurfaceable returns storylines worth surfacing in conversation: not yet
// reflecting, and either unresolved or resolved on or after since.
func (s *Store) ListSurfaceable(ctx context.Context, since time.Time) ([]Storyline, error) {
	return s.queryStorylines(ctx, "list surfaceable",
		`SELECT `+storylineColumns+` FROM storylines
		WHERE phase != ? AND (resolved_at IS NULL OR resolved_at >= ?)
		ORDER BY created_at ASC`,
		string(PhaseReflecting), formatTime(since))
}

// ListCreatedSince returns storylines of category created on or after since.
func (s *Store) ListCreatedSince(ctx context.Context, category Category, since time.Time) ([]Storyline, error) {
	return s.queryStorylines(ctx, "list recent",
		`SELECT `+storylineColumns+` FROM storylines
		WHERE category = ? AND created_at >= ? ORDER BY created_at DESC`,
		string(category), formatTime(since))
}

func (s *Store) ListAll(ctx context.Context, limit int) ([]Storyline, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryStorylines(ctx, "list all",
		`SELECT `+storylineColumns+` FROM storylines ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) queryStorylines(ctx context.Context, op, q string, args ...any) ([]Storyline, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	result := make([]Storyline, 0)
	for rows.Next() {
		st, err := scanStoryline(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", op, err)
	}
	return result, nil
}

// UpdateStoryline applies a partial patch. Setting Phase re-stamps
// phaseStartedAt; setting a terminal Outcome stamps resolvedAt once. An
// outcome can only be written while the current one is empty or ongoing.
func (s *Store) UpdateStoryline(ctx context.Context, id string, patch StorylinePatch) (*Storyline, error) {
	if patch.empty() {
		return s.GetStoryline(ctx, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	at := now
	if !patch.At.IsZero() {
		at = patch.At.UTC()
	}

	sets := make([]string, 0, 12)
	args := make([]any, 0, 16)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("storyline title is required")
		}
		set("title", title)
	}
	if patch.Phase != nil {
		if !patch.Phase.Valid() {
			return nil, fmt.Errorf("invalid phase %q", *patch.Phase)
		}
		set("phase", string(*patch.Phase))
		set("phase_started_at", formatTime(at))
	}
	if patch.CurrentEmotionalTone != nil {
		set("current_emotional_tone", strings.TrimSpace(*patch.CurrentEmotionalTone))
	}
	if patch.EmotionalIntensity != nil {
		set("emotional_intensity", clampIntensity(*patch.EmotionalIntensity))
	}
	if patch.OutcomeDescription != nil {
		set("outcome_description", strings.TrimSpace(*patch.OutcomeDescription))
	}
	if patch.ResolutionEmotion != nil {
		set("resolution_emotion", strings.TrimSpace(*patch.ResolutionEmotion))
	}
	if patch.ShouldMentionBy != nil {
		set("should_mention_by", formatTime(*patch.ShouldMentionBy))
	}
	if patch.Stakes != nil {
		set("stakes", strings.TrimSpace(*patch.Stakes))
	}
	if patch.UserInvolvement != nil {
		set("user_involvement", strings.TrimSpace(*patch.UserInvolvement))
	}
	where := "id = ?"
	if patch.Outcome != nil {
		if !patch.Outcome.Valid() {
			return nil, fmt.Errorf("invalid outcome %q", *patch.Outcome)
		}
		set("outcome", string(*patch.Outcome))
		if patch.Outcome.Terminal() {
			sets = append(sets, "resolved_at = COALESCE(resolved_at, ?)")
			args = append(args, formatTime(at))
		}
		where += " AND (outcome IS NULL OR outcome = ?)"
	}
	set("updated_at", formatTime(now))

	args = append(args, id)
	if patch.Outcome != nil {
		args = append(args, string(OutcomeOngoing))
	}

	res, err := s.db.ExecContext(ctx, `UPDATE storylines SET `+strings.Join(sets, ", ")+` WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("update storyline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update storyline rows: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetStoryline(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrOutcomeLocked
	}
	return s.GetStoryline(ctx, id)
}

// DeleteStoryline removes a storyline and, through the foreign key, its updates.
func (s *Store) DeleteStoryline(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM storylines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete storyline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AppendUpdate(ctx context.Context, storylineID string, in NewUpdate) (*Update, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("update content is required")
	}
	if strings.TrimSpace(string(in.UpdateType)) == "" {
		return nil, fmt.Errorf("update type is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	reveal := now
	if in.ShouldRevealAt != nil {
		reveal = in.ShouldRevealAt.UTC()
	}
	u := &Update{
		ID:             uuid.NewString(),
		StorylineID:    storylineID,
		UpdateType:     in.UpdateType,
		Content:        content,
		EmotionalTone:  strings.TrimSpace(in.EmotionalTone),
		CreatedAt:      now,
		ShouldRevealAt: &reveal,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO storyline_updates (id, storyline_id, update_type, content, emotional_tone, created_at, should_reveal_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.StorylineID, string(u.UpdateType), u.Content, u.EmotionalTone, formatTime(now), formatTime(reveal))
	if err != nil {
		return nil, fmt.Errorf("append update: %w", err)
	}
	return u, nil
}

// ListUpdates returns all updates of a storyline in creation order.
func (s *Store) ListUpdates(ctx context.Context, storylineID string) ([]Update, error) {
	return s.queryUpdates(ctx, "list updates",
		`SELECT `+updateColumns+` FROM storyline_updates WHERE storyline_id = ?
		ORDER BY created_at ASC, should_reveal_at ASC`, storylineID)
}

// RecentUpdates returns up to n most recent updates, oldest first.
func (s *Store) RecentUpdates(ctx context.Context, storylineID string, n int) ([]Update, error) {
	if n <= 0 {
		n = 3
	}
	updates, err := s.queryUpdates(ctx, "recent updates",
		`SELECT `+updateColumns+` FROM storyline_updates WHERE storyline_id = ?
		ORDER BY created_at DESC, should_reveal_at DESC LIMIT ?`, storylineID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(updates)-1; i < j; i, j = i+1, j-1 {
		updates[i], updates[j] = updates[j], updates[i]
	}
	return updates, nil
}

// ListUnmentionedUpdates returns unmentioned updates whose reveal time has
// passed, newest first. An empty storylineID spans all storylines.
func (s *Store) ListUnmentionedUpdates(ctx context.Context, storylineID string) ([]Update, error) {
	q := `SELECT ` + updateColumns + ` FROM storyline_updates
		WHERE mentioned = 0 AND (should_reveal_at IS NULL OR should_reveal_at <= ?)`
	args := []any{formatTime(s.now().UTC())}
	if storylineID != "" {
		q += ` AND storyline_id = ?`
		args = append(args, storylineID)
	}
	q += ` ORDER BY COALESCE(should_reveal_at, created_at) DESC, created_at DESC`
	return s.queryUpdates(ctx, "list unmentioned", q, args...)
}

// LatestUpdateTime returns the latest effective time (reveal time, or
// creation time when unset) across a storyline's updates, or nil when it has
// none.
func (s *Store) LatestUpdateTime(ctx context.Context, storylineID string) (*time.Time, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(COALESCE(should_reveal_at, created_at))
		FROM storyline_updates WHERE storyline_id = ?
	`, storylineID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("latest update time: %w", err)
	}
	return parseNullTime(latest)
}

func (s *Store) queryUpdates(ctx context.Context, op, q string, args ...any) ([]Update, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	result := make([]Update, 0)
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", op, err)
	}
	return result, nil
}

// MarkStorylineMentioned bumps the mention counter. Each call counts as a
// separate mention.
func (s *Store) MarkStorylineMentioned(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := formatTime(s.clock())
	res, err := s.db.ExecContext(ctx, `
		UPDATE storylines
		SET times_mentioned = times_mentioned + 1, last_mentioned_at = ?, updated_at = ?
		WHERE id = ?
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("mark storyline mentioned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUpdateMentioned flips an update to mentioned. The first mention time is kept.
func (s *Store) MarkUpdateMentioned(ctx context.Context, updateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE storyline_updates SET mentioned = 1, mentioned_at = COALESCE(mentioned_at, ?)
		WHERE id = ?
	`, formatTime(s.clock()), updateID)
	if err != nil {
		return fmt.Errorf("mark update mentioned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) LastProcessedAt(ctx context.Context) (*time.Time, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_processed_at FROM engine_state WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	return parseNullTime(v)
}

func (s *Store) SetLastProcessedAt(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_state (id, last_processed_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_processed_at = excluded.last_processed_at
	`, formatTime(t))
	if err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

func (s *Store) DayProcessed(ctx context.Context, day string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM processed_days WHERE day = ?`, day).Scan(&count); err != nil {
		return false, fmt.Errorf("check processed day: %w", err)
	}
	return count > 0, nil
}

func (s *Store) MarkDayProcessed(ctx context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO processed_days (day, processed_at) VALUES (?, ?)`,
		day, formatTime(s.clock()))
	if err != nil {
		return fmt.Errorf("mark processed day: %w", err)
	}
	return nil
}

func (s *Store) RecordCreationAttempt(ctx context.Context, a CreationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := a.CreatedAt
	if at.IsZero() {
		at = s.clock()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO creation_attempts (title, category, result, reason, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, strings.TrimSpace(a.Title), string(a.Category), a.Result, a.Reason, a.Detail, formatTime(at))
	if err != nil {
		return fmt.Errorf("record creation attempt: %w", err)
	}
	return nil
}

// LastSuccessfulCreation returns the time of the latest audited creation.
func (s *Store) LastSuccessfulCreation(ctx context.Context) (*time.Time, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM creation_attempts WHERE result = ?
	`, CreationResultCreated).Scan(&v)
	if err != nil {
		return nil, fmt.Errorf("last successful creation: %w", err)
	}
	return parseNullTime(v)
}

func (s *Store) ListCreationAttempts(ctx context.Context, limit int) ([]CreationAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, category, result, reason, detail, created_at
		FROM creation_attempts ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list creation attempts: %w", err)
	}
	defer rows.Close()

	result := make([]CreationAttempt, 0)
	for rows.Next() {
		var a CreationAttempt
		var category, createdAt string
		if err := rows.Scan(&a.ID, &a.Title, &category, &a.Result, &a.Reason, &a.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan creation attempt: %w", err)
		}
		a.Category = Category(category)
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate creation attempts: %w", err)
	}
	return result, nil
}

// StoreFact upserts a character fact keyed by (category, key).
func (s *Store) StoreFact(ctx context.Context, category, key, value string) error {
	category = strings.TrimSpace(category)
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if category == "" || key == "" || value == "" {
		return fmt.Errorf("store fact: category, key and value are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO character_facts (category, fact_key, value, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(category, fact_key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at
	`, category, key, value, formatTime(s.clock()))
	if err != nil {
		return fmt.Errorf("store fact: %w", err)
	}
	return nil
}

func (s *Store) ListFacts(ctx context.Context, category string) ([]Fact, error) {
	q := `SELECT id, category, fact_key, value, created_at FROM character_facts`
	args := []any{}
	if c := strings.TrimSpace(category); c != "" {
		q += ` WHERE category = ?`
		args = append(args, c)
	}
	q += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	result := make([]Fact, 0)
	for rows.Next() {
		var f Fact
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Category, &f.Key, &f.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return result, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	now := formatTime(s.now().UTC())
	counts := []struct {
		dst  *int
		q    string
		args []any
	}{
		{&st.Active, `SELECT COUNT(1) FROM storylines WHERE outcome IS NULL`, nil},
		{&st.InFlight, `SELECT COUNT(1) FROM storylines WHERE phase NOT IN (?, ?)`, []any{string(PhaseResolved), string(PhaseReflecting)}},
		{&st.Resolved, `SELECT COUNT(1) FROM storylines WHERE resolved_at IS NOT NULL`, nil},
		{&st.Updates, `SELECT COUNT(1) FROM storyline_updates`, nil},
		{&st.PendingReveals, `SELECT COUNT(1) FROM storyline_updates WHERE should_reveal_at > ?`, []any{now}},
		{&st.Facts, `SELECT COUNT(1) FROM character_facts`, nil},
		{&st.CreationBlocked, `SELECT COUNT(1) FROM creation_attempts WHERE result = ?`, []any{CreationResultRejected}},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.q, c.args...).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
	}
	last, err := s.LastProcessedAt(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.LastProcessedAt = last
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoryline(row rowScanner) (*Storyline, error) {
	var (
		st                                   Storyline
		category, narrative, phase           string
		phaseStartedAt, createdAt, updatedAt string
		outcome                              sql.NullString
		lastMentioned, mentionBy, resolvedAt sql.NullString
	)
	if err := row.Scan(
		&st.ID,
		&st.Title,
		&category,
		&narrative,
		&phase,
		&phaseStartedAt,
		&st.CurrentEmotionalTone,
		&st.EmotionalIntensity,
		&outcome,
		&st.OutcomeDescription,
		&st.ResolutionEmotion,
		&st.TimesMentioned,
		&lastMentioned,
		&mentionBy,
		&st.InitialAnnouncement,
		&st.Stakes,
		&st.UserInvolvement,
		&createdAt,
		&updatedAt,
		&resolvedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if st.Category, err = ParseCategory(category); err != nil {
		return nil, err
	}
	if st.NarrativeType, err = ParseNarrativeType(narrative); err != nil {
		return nil, err
	}
	if st.Phase, err = ParsePhase(phase); err != nil {
		return nil, err
	}
	if outcome.Valid {
		if st.Outcome, err = ParseOutcome(outcome.String); err != nil {
			return nil, err
		}
	}
	if st.PhaseStartedAt, err = parseTime(phaseStartedAt); err != nil {
		return nil, err
	}
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if st.LastMentionedAt, err = parseNullTime(lastMentioned); err != nil {
		return nil, err
	}
	if st.ShouldMentionBy, err = parseNullTime(mentionBy); err != nil {
		return nil, err
	}
	if st.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	st.EmotionalIntensity = clampIntensity(st.EmotionalIntensity)
	return &st, nil
}

func scanUpdate(row rowScanner) (*Update, error) {
	var (
		u                   Update
		updateType          string
		createdAt           string
		reveal, mentionedAt sql.NullString
		mentioned           int
	)
	if err := row.Scan(&u.ID, &u.StorylineID, &updateType, &u.Content, &u.EmotionalTone,
		&createdAt, &reveal, &mentioned, &mentionedAt); err != nil {
		return nil, err
	}
	u.UpdateType = UpdateType(updateType)
	u.Mentioned = mentioned == 1

	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.ShouldRevealAt, err = parseNullTime(reveal); err != nil {
		return nil, err
	}
	if u.MentionedAt, err = parseNullTime(mentionedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Timestamps are stored as fixed-width UTC text so string comparison in SQL
// matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
