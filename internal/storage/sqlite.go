package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"storeglide_bot/internal/match"
	"storeglide_bot/internal/model"
	"storeglide_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Every connection to ":memory:" opens its own empty database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// sqliteDSN adds a busy timeout so writers from several processes wait for
// the lock instead of failing with SQLITE_BUSY.
func sqliteDSN(dsn string) string {
	if dsn == ":memory:" {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateItem inserts a new unnotified item and populates its CreatedAt.
func (s *SQLite) CreateItem(ctx context.Context, item *model.Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Notified = false
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (name, author, countries, link, created_at, notified)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		item.Name, item.Author, item.Countries, item.Link, item.CreatedAt.UTC().Format(timeLayout),
	)
	if isSQLiteUnique(err) {
		return fmt.Errorf("insert item %q: %w", item.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	item.CreatedAt, _ = time.Parse(timeLayout, item.CreatedAt.UTC().Format(timeLayout))
	return nil
}

// ListPendingItems returns all items that have not been notified yet.
func (s *SQLite) ListPendingItems(ctx context.Context) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, author, countries, link, created_at, notified
		 FROM items WHERE notified = 0 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkItemNotified sets notified on an item unless it is already set.
func (s *SQLite) MarkItemNotified(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET notified = 1 WHERE name = ? AND notified = 0`, name,
	)
	if err != nil {
		return false, fmt.Errorf("mark item notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SearchItems runs an FTS5 phrase query over item authors ranked by bm25.
func (s *SQLite) SearchItems(ctx context.Context, query string) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		phrase := match.PhraseQuery(query)
		if phrase == "" {
			return
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT i.name, i.author, i.countries, i.link, i.created_at, i.notified
			 FROM items_fts JOIN items i ON i.id = items_fts.rowid
			 WHERE items_fts MATCH ?
			 ORDER BY bm25(items_fts), i.id`, phrase,
		)
		if err != nil {
			yield(model.Item{}, fmt.Errorf("search items: %w", err))
			return
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				yield(model.Item{}, err)
				return
			}
			if !yield(it, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Item{}, fmt.Errorf("search items: %w", err))
		}
	}
}

// PurgeItems deletes items created before the given time.
func (s *SQLite) PurgeItems(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE created_at < ?`, before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge items: %w", err)
	}
	return res.RowsAffected()
}

// CreateSubscriber registers an active subscriber without watched authors.
func (s *SQLite) CreateSubscriber(ctx context.Context, chatID int64) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (chat_id, active, created_at) VALUES (?, 1, ?)`, chatID, now,
	)
	if isSQLiteUnique(err) {
		return fmt.Errorf("insert subscriber %d: %w", chatID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

// GetSubscriber returns a subscriber with its watched authors in insertion order.
func (s *SQLite) GetSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	var sub model.Subscriber
	var active int
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, active, created_at FROM subscribers WHERE chat_id = ?`, chatID,
	).Scan(&sub.ChatID, &active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscriber %d: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	sub.Active = active == 1
	sub.CreatedAt, _ = time.Parse(timeLayout, created)

	rows, err := s.db.QueryContext(ctx,
		`SELECT author FROM watches WHERE chat_id = ? ORDER BY id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query watches: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var author string
		if err := rows.Scan(&author); err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		sub.WatchedAuthors = append(sub.WatchedAuthors, author)
	}
	return &sub, rows.Err()
}

// SetSubscriberActive toggles notifications for a subscriber.
func (s *SQLite) SetSubscriberActive(ctx context.Context, chatID int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET active = ? WHERE chat_id = ?`, boolToInt(active), chatID,
	)
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscriber %d: %w", chatID, ErrNotFound)
	}
	return nil
}

// AddWatch appends an author to a subscriber's watch list.
func (s *SQLite) AddWatch(ctx context.Context, chatID int64, author string) error {
	author = match.NormalizeAuthor(author)
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watches (chat_id, author, created_at)
		 SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM subscribers WHERE chat_id = ?)`,
		chatID, author, now, chatID,
	)
	if isSQLiteUnique(err) {
		return fmt.Errorf("watch %q: %w", author, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert watch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscriber %d: %w", chatID, ErrNotFound)
	}
	return nil
}

// RemoveWatch deletes an author from a subscriber's watch list.
func (s *SQLite) RemoveWatch(ctx context.Context, chatID int64, author string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watches WHERE chat_id = ? AND author = ?`, chatID, match.NormalizeAuthor(author),
	)
	if err != nil {
		return false, fmt.Errorf("delete watch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListWatchers returns chat IDs of active subscribers watching author.
func (s *SQLite) ListWatchers(ctx context.Context, author string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.chat_id FROM watches w JOIN subscribers s ON s.chat_id = w.chat_id
		 WHERE w.author = ? AND s.active = 1 ORDER BY s.chat_id`, match.NormalizeAuthor(author),
	)
	if err != nil {
		return nil, fmt.Errorf("query watchers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan watcher: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LastWatch returns the most recently added author of a subscriber.
func (s *SQLite) LastWatch(ctx context.Context, chatID int64) (string, error) {
	var author string
	err := s.db.QueryRowContext(ctx,
		`SELECT author FROM watches WHERE chat_id = ? ORDER BY id DESC LIMIT 1`, chatID,
	).Scan(&author)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last watch: %w", err)
	}
	return author, nil
}

// EnqueueTask appends a task and populates its ID and CreatedAt.
func (s *SQLite) EnqueueTask(ctx context.Context, task *model.Task) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (type, requester_id, created_at) VALUES (?, ?, ?)`,
		string(task.Type), task.RequesterID, now,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ClaimTask deletes the oldest task of a type and returns it. The select and
// delete run as one statement, so two callers never receive the same task.
func (s *SQLite) ClaimTask(ctx context.Context, typ model.TaskType) (*model.Task, error) {
	var t model.Task
	var typeStr, created string
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM tasks
		 WHERE id = (SELECT id FROM tasks WHERE type = ? ORDER BY id LIMIT 1)
		 RETURNING id, type, requester_id, created_at`, string(typ),
	).Scan(&t.ID, &typeStr, &t.RequesterID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	t.Type = model.TaskType(typeStr)
	t.CreatedAt, _ = time.Parse(timeLayout, created)
	return &t, nil
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (model.Item, error) {
	var it model.Item
	var notified int
	var created string
	err := row.Scan(&it.Name, &it.Author, &it.Countries, &it.Link, &created, &notified)
	if err != nil {
		return it, fmt.Errorf("scan item: %w", err)
	}
	it.Notified = notified == 1
	it.CreatedAt, _ = time.Parse(timeLayout, created)
	return it, nil
}
