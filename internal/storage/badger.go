package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"storeglide_bot/internal/match"
	"storeglide_bot/internal/model"
)

// Key layout:
//
//	item/<name>                  item document, expires after the retention window
//	pending/<name>               marker for unnotified items, same expiry as the item
//	sub/<chat id>                subscriber document
//	watch/<author>\x00<chat id>  reverse index of watched authors
//	task/<seq>                   queued task, seq is big-endian so keys sort FIFO
//	counter/task                 last task seq, bumped in the enqueueing transaction
const (
	prefixItem    = "item/"
	prefixPending = "pending/"
	prefixSub     = "sub/"
	prefixWatch   = "watch/"
	prefixTask    = "task/"
)

var keyTaskCounter = []byte("counter/task")

// maxTxnRetries bounds the optimistic retry loop for one logical update.
const maxTxnRetries = 64

// BadgerConfig holds configuration for a Badger-backed store.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM; useful for tests.
	InMemory bool
	// Retention is the TTL applied to items. Zero keeps items forever.
	Retention time.Duration
	// Logger receives Badger's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// Badger implements Storage on top of BadgerDB. Badger has no conditional
// delete, so claims and other read-modify-write updates run in optimistic
// transactions that are retried when the commit reports a conflict.
type Badger struct {
	db        *badger.DB
	itemSeq   *badger.Sequence
	retention time.Duration
}

type itemDoc struct {
	Seq       uint64    `json:"seq"`
	Name      string    `json:"name"`
	Author    string    `json:"author"`
	Countries string    `json:"countries"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"created_at"`
	Notified  bool      `json:"notified"`
}

type subDoc struct {
	Active    bool      `json:"active"`
	Watched   []string  `json:"watched"`
	CreatedAt time.Time `json:"created_at"`
}

type taskDoc struct {
	Type        model.TaskType `json:"type"`
	RequesterID int64          `json:"requester_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// NewBadger opens a Badger database with the given configuration.
func NewBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	itemSeq, err := db.GetSequence([]byte("seq/item"), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("item sequence: %w", err)
	}
	return &Badger{db: db, itemSeq: itemSeq, retention: cfg.Retention}, nil
}

// Close releases the item sequence and closes the database.
func (b *Badger) Close() error {
	return errors.Join(b.itemSeq.Release(), b.db.Close())
}

// RunGC reclaims value log space. Badger returns ErrNoRewrite when there was
// nothing to collect, which is not an error for callers.
func (b *Badger) RunGC() error {
	err := b.db.RunValueLogGC(0.5)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// update runs fn in a read-write transaction and retries it when another
// transaction committed a conflicting write first.
func (b *Badger) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for range maxTxnRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxTxnRetries, badger.ErrConflict)
}

func (b *Badger) entry(key, val []byte) *badger.Entry {
	e := badger.NewEntry(key, val)
	if b.retention > 0 {
		e = e.WithTTL(b.retention)
	}
	return e
}

// CreateItem inserts a new unnotified item.
func (b *Badger) CreateItem(ctx context.Context, item *model.Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Notified = false
	seq, err := b.itemSeq.Next()
	if err != nil {
		return fmt.Errorf("next item seq: %w", err)
	}
	val, err := json.Marshal(itemDoc{
		Seq:       seq,
		Name:      item.Name,
		Author:    item.Author,
		Countries: item.Countries,
		Link:      item.Link,
		CreatedAt: item.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	key := []byte(prefixItem + item.Name)
	err = b.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("insert item %q: %w", item.Name, ErrDuplicate)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.SetEntry(b.entry(key, val)); err != nil {
			return err
		}
		return txn.SetEntry(b.entry([]byte(prefixPending+item.Name), nil))
	})
	if err != nil && !errors.Is(err, ErrDuplicate) {
		return fmt.Errorf("insert item: %w", err)
	}
	return err
}

// ListPendingItems returns all unnotified items in key order.
func (b *Badger) ListPendingItems(ctx context.Context) ([]model.Item, error) {
	var items []model.Item
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixPending)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := strings.TrimPrefix(string(it.Item().Key()), prefixPending)
			doc, err := getItem(txn, name)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			items = append(items, doc.model())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	return items, nil
}

// MarkItemNotified sets notified on an item unless it is already set. The
// item keeps its original expiry.
func (b *Badger) MarkItemNotified(ctx context.Context, name string) (bool, error) {
	var flipped bool
	err := b.update(ctx, func(txn *badger.Txn) error {
		flipped = false
		key := []byte(prefixItem + name)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var doc itemDoc
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &doc) }); err != nil {
			return err
		}
		if doc.Notified {
			return nil
		}
		doc.Notified = true
		val, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		e := badger.NewEntry(key, val)
		e.ExpiresAt = item.ExpiresAt()
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixPending + name)); err != nil {
			return err
		}
		flipped = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark item notified: %w", err)
	}
	return flipped, nil
}

// SearchItems scores every item author against the query phrase and yields
// the matches best first, ties in insertion order.
func (b *Badger) SearchItems(ctx context.Context, query string) iter.Seq2[model.Item, error] {
	return func(yield func(model.Item, error) bool) {
		terms := match.Terms(query)
		if len(terms) == 0 {
			return
		}

		type hit struct {
			doc   itemDoc
			score float64
		}
		var hits []hit
		err := b.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefixItem)
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				var doc itemDoc
				if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &doc) }); err != nil {
					return err
				}
				if score := match.Score(doc.Author, terms); score > 0 {
					hits = append(hits, hit{doc: doc, score: score})
				}
			}
			return nil
		})
		if err != nil {
			yield(model.Item{}, fmt.Errorf("search items: %w", err))
			return
		}

		slices.SortStableFunc(hits, func(a, b hit) int {
			switch {
			case a.score > b.score:
				return -1
			case a.score < b.score:
				return 1
			case a.doc.Seq < b.doc.Seq:
				return -1
			case a.doc.Seq > b.doc.Seq:
				return 1
			}
			return 0
		})
		for _, h := range hits {
			if !yield(h.doc.model(), nil) {
				return
			}
		}
	}
}

// PurgeItems is a no-op: items carry a TTL and Badger drops them itself.
func (b *Badger) PurgeItems(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// CreateSubscriber registers an active subscriber without watched authors.
func (b *Badger) CreateSubscriber(ctx context.Context, chatID int64) error {
	key := subKey(chatID)
	err := b.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("insert subscriber %d: %w", chatID, ErrDuplicate)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putSub(txn, chatID, &subDoc{Active: true, CreatedAt: time.Now().UTC()})
	})
	if err != nil && !errors.Is(err, ErrDuplicate) {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return err
}

// GetSubscriber returns a subscriber with its watched authors in insertion order.
func (b *Badger) GetSubscriber(_ context.Context, chatID int64) (*model.Subscriber, error) {
	var sub *model.Subscriber
	err := b.db.View(func(txn *badger.Txn) error {
		doc, err := getSub(txn, chatID)
		if err != nil {
			return err
		}
		sub = &model.Subscriber{
			ChatID:         chatID,
			Active:         doc.Active,
			WatchedAuthors: doc.Watched,
			CreatedAt:      doc.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, subErr(chatID, err)
	}
	return sub, nil
}

// SetSubscriberActive toggles notifications for a subscriber.
func (b *Badger) SetSubscriberActive(ctx context.Context, chatID int64, active bool) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		doc, err := getSub(txn, chatID)
		if err != nil {
			return err
		}
		doc.Active = active
		return putSub(txn, chatID, doc)
	})
	if err != nil {
		return subErr(chatID, err)
	}
	return nil
}

// AddWatch appends an author to a subscriber's watch list.
func (b *Badger) AddWatch(ctx context.Context, chatID int64, author string) error {
	author = match.NormalizeAuthor(author)
	err := b.update(ctx, func(txn *badger.Txn) error {
		doc, err := getSub(txn, chatID)
		if err != nil {
			return err
		}
		if slices.Contains(doc.Watched, author) {
			return fmt.Errorf("watch %q: %w", author, ErrDuplicate)
		}
		doc.Watched = append(doc.Watched, author)
		if err := putSub(txn, chatID, doc); err != nil {
			return err
		}
		return txn.Set(watchKey(author, chatID), nil)
	})
	if err != nil && !errors.Is(err, ErrDuplicate) {
		return subErr(chatID, err)
	}
	return err
}

// RemoveWatch deletes an author from a subscriber's watch list.
func (b *Badger) RemoveWatch(ctx context.Context, chatID int64, author string) (bool, error) {
	author = match.NormalizeAuthor(author)
	var removed bool
	err := b.update(ctx, func(txn *badger.Txn) error {
		removed = false
		doc, err := getSub(txn, chatID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		i := slices.Index(doc.Watched, author)
		if i < 0 {
			return nil
		}
		doc.Watched = slices.Delete(doc.Watched, i, i+1)
		if err := putSub(txn, chatID, doc); err != nil {
			return err
		}
		removed = true
		return txn.Delete(watchKey(author, chatID))
	})
	if err != nil {
		return false, fmt.Errorf("delete watch: %w", err)
	}
	return removed, nil
}

// ListWatchers returns chat IDs of active subscribers watching author.
func (b *Badger) ListWatchers(_ context.Context, author string) ([]int64, error) {
	prefix := watchKey(match.NormalizeAuthor(author), 0)
	prefix = prefix[:len(prefix)-8]

	var ids []int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			chatID := int64(binary.BigEndian.Uint64(key[len(prefix):]))
			doc, err := getSub(txn, chatID)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if doc.Active {
				ids = append(ids, chatID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query watchers: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// LastWatch returns the most recently added author of a subscriber.
func (b *Badger) LastWatch(ctx context.Context, chatID int64) (string, error) {
	sub, err := b.GetSubscriber(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sub.LastWatched(), nil
}

// EnqueueTask appends a task and populates its ID and CreatedAt.
// The counter is read and bumped in the same transaction as the insert, so
// concurrent enqueues conflict and commit in seq order: a claimer never sees
// a task before an older one that is still being written.
func (b *Badger) EnqueueTask(ctx context.Context, task *model.Task) error {
	task.CreatedAt = time.Now().UTC()
	val, err := json.Marshal(taskDoc{Type: task.Type, RequesterID: task.RequesterID, CreatedAt: task.CreatedAt})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	var seq uint64
	err = b.update(ctx, func(txn *badger.Txn) error {
		seq = 0
		item, err := txn.Get(keyTaskCounter)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				seq = binary.BigEndian.Uint64(v)
				return nil
			}); err != nil {
				return err
			}
		}
		seq++
		if err := txn.Set(keyTaskCounter, binary.BigEndian.AppendUint64(nil, seq)); err != nil {
			return err
		}
		return txn.Set(taskKey(seq), val)
	})
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	task.ID = int64(seq)
	return nil
}

// ClaimTask reads the first queued task of a type and deletes it in the same
// transaction. When two claimers pick the same key, the later commit fails
// with a conflict and retries against the remaining queue.
func (b *Badger) ClaimTask(ctx context.Context, typ model.TaskType) (*model.Task, error) {
	var claimed *model.Task
	err := b.update(ctx, func(txn *badger.Txn) error {
		claimed = nil
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTask)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var doc taskDoc
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &doc) }); err != nil {
				return err
			}
			if doc.Type != typ {
				continue
			}
			key := item.KeyCopy(nil)
			if err := txn.Delete(key); err != nil {
				return err
			}
			claimed = &model.Task{
				ID:          int64(binary.BigEndian.Uint64(key[len(prefixTask):])),
				Type:        doc.Type,
				RequesterID: doc.RequesterID,
				CreatedAt:   doc.CreatedAt,
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return claimed, nil
}

func (d itemDoc) model() model.Item {
	return model.Item{
		Name:      d.Name,
		Author:    d.Author,
		Countries: d.Countries,
		Link:      d.Link,
		CreatedAt: d.CreatedAt,
		Notified:  d.Notified,
	}
}

func getItem(txn *badger.Txn, name string) (*itemDoc, error) {
	item, err := txn.Get([]byte(prefixItem + name))
	if err != nil {
		return nil, err
	}
	var doc itemDoc
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &doc) }); err != nil {
		return nil, err
	}
	return &doc, nil
}

func getSub(txn *badger.Txn, chatID int64) (*subDoc, error) {
	item, err := txn.Get(subKey(chatID))
	if err != nil {
		return nil, err
	}
	var doc subDoc
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &doc) }); err != nil {
		return nil, err
	}
	return &doc, nil
}

func putSub(txn *badger.Txn, chatID int64, doc *subDoc) error {
	val, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return txn.Set(subKey(chatID), val)
}

func subErr(chatID int64, err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("subscriber %d: %w", chatID, ErrNotFound)
	}
	return fmt.Errorf("subscriber %d: %w", chatID, err)
}

func subKey(chatID int64) []byte {
	return binary.BigEndian.AppendUint64([]byte(prefixSub), uint64(chatID))
}

func watchKey(author string, chatID int64) []byte {
	var buf bytes.Buffer
	buf.WriteString(prefixWatch)
	buf.WriteString(author)
	buf.WriteByte(0)
	return binary.BigEndian.AppendUint64(buf.Bytes(), uint64(chatID))
}

func taskKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(prefixTask), seq)
}
