package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"storeglide_bot/internal/match"
	"storeglide_bot/internal/model"
	"storeglide_bot/migrations"
)

const pgUniqueViolation = "23505"

// Postgres implements Storage backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and runs pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrations.Run(db, migrations.Postgres)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// CreateItem inserts a new unnotified item and populates its CreatedAt.
func (p *Postgres) CreateItem(ctx context.Context, item *model.Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Notified = false
	_, err := p.pool.Exec(ctx,
		`INSERT INTO items (name, author, countries, link, created_at, notified)
		 VALUES ($1, $2, $3, $4, $5, FALSE)`,
		item.Name, item.Author, item.Countries, item.Link, item.CreatedAt,
	)
	if isPgUnique(err) {
		return fmt.Errorf("insert item %q: %w", item.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// ListPendingItems returns all items that have not been notified yet.
func (p *Postgres) ListPendingItems(ctx context.Context) ([]model.Item, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT name, author, countries, link, created_at, notified
		 FROM items WHERE NOT notified ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanPgItem)
	if err != nil {
		return nil, fmt.Errorf("collect pending items: %w", err)
	}
	return items, nil
}

// MarkItemNotified sets notified on an item unless it is already set.
func (p *Postgres) MarkItemNotified(ctx context.Context, name string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE items SET notified = TRUE WHERE name = $1 AND NOT notified`, name,
	)
	if err != nil {
		return false, fmt.Errorf("mark item notified: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SearchItems runs a phrase tsquery over item authors ranked by ts_rank.
func (p *Postgres) SearchItems(ctx context.Context, query string) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		terms := match.Terms(query)
		if len(terms) == 0 {
			return
		}
		rows, err := p.pool.Query(ctx,
			`SELECT name, author, countries, link, created_at, notified
			 FROM items, phraseto_tsquery('simple', $1) q
			 WHERE author_tsv @@ q
			 ORDER BY ts_rank(author_tsv, q, 1) DESC, id`, strings.Join(terms, " "),
		)
		if err != nil {
			yield(model.Item{}, fmt.Errorf("search items: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			it, err := scanPgItem(rows)
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
func (p *Postgres) PurgeItems(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM items WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateSubscriber registers an active subscriber without watched authors.
func (p *Postgres) CreateSubscriber(ctx context.Context, chatID int64) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO subscribers (chat_id, active, created_at) VALUES ($1, TRUE, now())`, chatID,
	)
	if isPgUnique(err) {
		return fmt.Errorf("insert subscriber %d: %w", chatID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

// GetSubscriber returns a subscriber with its watched authors in insertion order.
func (p *Postgres) GetSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	var sub model.Subscriber
	err := p.pool.QueryRow(ctx,
		`SELECT s.chat_id, s.active, s.created_at,
		        COALESCE(array_agg(w.author ORDER BY w.id) FILTER (WHERE w.id IS NOT NULL), '{}')
		 FROM subscribers s LEFT JOIN watches w ON w.chat_id = s.chat_id
		 WHERE s.chat_id = $1
		 GROUP BY s.chat_id`, chatID,
	).Scan(&sub.ChatID, &sub.Active, &sub.CreatedAt, &sub.WatchedAuthors)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subscriber %d: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	return &sub, nil
}

// SetSubscriberActive toggles notifications for a subscriber.
func (p *Postgres) SetSubscriberActive(ctx context.Context, chatID int64, active bool) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE subscribers SET active = $1 WHERE chat_id = $2`, active, chatID,
	)
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscriber %d: %w", chatID, ErrNotFound)
	}
	return nil
}

// AddWatch appends an author to a subscriber's watch list.
func (p *Postgres) AddWatch(ctx context.Context, chatID int64, author string) error {
	author = match.NormalizeAuthor(author)
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO watches (chat_id, author)
		 SELECT $1, $2 WHERE EXISTS (SELECT 1 FROM subscribers WHERE chat_id = $1)`,
		chatID, author,
	)
	if isPgUnique(err) {
		return fmt.Errorf("watch %q: %w", author, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert watch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscriber %d: %w", chatID, ErrNotFound)
	}
	return nil
}

// RemoveWatch deletes an author from a subscriber's watch list.
func (p *Postgres) RemoveWatch(ctx context.Context, chatID int64, author string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM watches WHERE chat_id = $1 AND author = $2`, chatID, match.NormalizeAuthor(author),
	)
	if err != nil {
		return false, fmt.Errorf("delete watch: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListWatchers returns chat IDs of active subscribers watching author.
func (p *Postgres) ListWatchers(ctx context.Context, author string) ([]int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT s.chat_id FROM watches w JOIN subscribers s ON s.chat_id = w.chat_id
		 WHERE w.author = $1 AND s.active ORDER BY s.chat_id`, match.NormalizeAuthor(author),
	)
	if err != nil {
		return nil, fmt.Errorf("query watchers: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect watchers: %w", err)
	}
	return ids, nil
}

// LastWatch returns the most recently added author of a subscriber.
func (p *Postgres) LastWatch(ctx context.Context, chatID int64) (string, error) {
	var author string
	err := p.pool.QueryRow(ctx,
		`SELECT author FROM watches WHERE chat_id = $1 ORDER BY id DESC LIMIT 1`, chatID,
	).Scan(&author)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last watch: %w", err)
	}
	return author, nil
}

// EnqueueTask appends a task and populates its ID and CreatedAt.
func (p *Postgres) EnqueueTask(ctx context.Context, task *model.Task) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO tasks (type, requester_id) VALUES ($1, $2) RETURNING id, created_at`,
		string(task.Type), task.RequesterID,
	).Scan(&task.ID, &task.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ClaimTask deletes the oldest unlocked task of a type and returns it.
// SKIP LOCKED lets concurrent claimers move past a row another claimer holds.
func (p *Postgres) ClaimTask(ctx context.Context, typ model.TaskType) (*model.Task, error) {
	var t model.Task
	var typeStr string
	err := p.pool.QueryRow(ctx,
		`DELETE FROM tasks
		 WHERE id = (SELECT id FROM tasks WHERE type = $1 ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED)
		 RETURNING id, type, requester_id, created_at`, string(typ),
	).Scan(&t.ID, &typeStr, &t.RequesterID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	t.Type = model.TaskType(typeStr)
	return &t, nil
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanPgItem(row pgx.CollectableRow) (model.Item, error) {
	var it model.Item
	err := row.Scan(&it.Name, &it.Author, &it.Countries, &it.Link, &it.CreatedAt, &it.Notified)
	if err != nil {
		return it, fmt.Errorf("scan item: %w", err)
	}
	return it, nil
}
