package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/rendezvous/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the record store backing actors, objects, activities, their
// inbox/outbox index entries and the follower/attendee relations.
type DB struct {
	db   *sql.DB
	base string
	log  *zap.Logger
	now  func() time.Time
}

const maxBusyRetries = 5

// Open opens (or creates) the SQLite database at path and runs migrations.
// base is the local origin, e.g. "https://example.com", used to derive the
// URIs of local actors.
func Open(ctx context.Context, path, base string, log *zap.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure connection pool for concurrent access
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqlDB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		log.Warn("failed to read journal mode", zap.Error(err))
	} else {
		log.Debug("database journal mode", zap.String("mode", journalMode))
	}

	d := New(sqlDB, base, log)
	if err := d.RunMigrations(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return d, nil
}

// connPragmas are applied by the driver to every pooled connection.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

// dsn appends the connection pragmas to path. Transactions begin
// immediately so concurrent writers queue on the busy timeout instead of
// failing when a read lock is upgraded.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	params := make([]string, 0, len(connPragmas)+1)
	for _, p := range connPragmas {
		params = append(params, "_pragma="+p)
	}
	params = append(params, "_txlock=immediate")
	return path + sep + strings.Join(params, "&")
}

// New wraps an already opened connection. Migrations are not run.
func New(sqlDB *sql.DB, base string, log *zap.Logger) *DB {
	return &DB{
		db:   sqlDB,
		base: base,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Actors
const (
	sqlInsertAccount = `INSERT INTO accounts(id, username, web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectAccount = `SELECT username, web_public_key, web_private_key, created_at FROM accounts WHERE username = ?`
)

// CreateActor registers a local actor under handle with the given key pair.
func (db *DB) CreateActor(ctx context.Context, handle, publicKeyPem, privateKeyPem string) (*domain.Actor, error) {
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertAccount, uuid.New().String(), handle, publicKeyPem, privateKeyPem, db.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.ReadActorByHandle(ctx, handle)
}

// ReadActorByHandle returns the local actor, private key included.
func (db *DB) ReadActorByHandle(ctx context.Context, handle string) (*domain.Actor, error) {
	var username, pub, priv string
	var createdAt time.Time
	err := db.db.QueryRowContext(ctx, sqlSelectAccount, handle).Scan(&username, &pub, &priv, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	actor := domain.NewLocalActor(db.base, username, pub)
	actor.PrivateKeyPem = priv
	actor.CreatedAt = createdAt
	return actor, nil
}

// Objects
const (
	sqlInsertObject      = `INSERT INTO objects(id, object_uri, object_type, attributed_to, raw_json, created_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(object_uri) DO NOTHING`
	sqlSelectObjectByURI = `SELECT raw_json FROM objects WHERE object_uri = ?`
)

// CreateObject stores obj unless an object with the same id already exists.
func (db *DB) CreateObject(ctx context.Context, obj domain.Object) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal object: %w", err)
	}

	attributedTo := ""
	if event, ok := obj.(*domain.Event); ok {
		attributedTo = event.AttributedTo
	}

	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertObject,
			uuid.New().String(),
			obj.GetID(),
			obj.GetType(),
			attributedTo,
			string(raw),
			db.now(),
		)
		return err
	})
}

func (db *DB) ReadObjectByURI(ctx context.Context, uri string) (domain.Object, error) {
	var raw string
	err := db.db.QueryRowContext(ctx, sqlSelectObjectByURI, uri).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return domain.DecodeObject([]byte(raw))
}

// Activity queries
const (
	sqlInsertActivity        = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(activity_uri) DO NOTHING`
	sqlSelectActivityByURI    = `SELECT raw_json FROM activities WHERE activity_uri = ?`
	sqlSelectLatestActivity   = `SELECT raw_json FROM activities WHERE actor_uri = ? AND activity_type = ? AND object_uri = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`
	sqlDeleteActivityByURI    = `DELETE FROM activities WHERE activity_uri = ?`
	sqlDeleteInboxByActivity  = `DELETE FROM inbox WHERE activity_uri = ?`
	sqlDeleteOutboxByActivity = `DELETE FROM outbox WHERE activity_uri = ?`
)

// SaveActivity persists act keyed by its identifier. The publication
// timestamp is assigned here when the record is new and carries none. When a
// record with the same identifier exists the insert is a no-op and the
// stored record is returned: first seen wins.
func (db *DB) SaveActivity(ctx context.Context, act *domain.Activity, local bool) (*domain.Activity, error) {
	if act.ID == "" {
		return nil, fmt.Errorf("activity has no id")
	}

	toSave := *act
	if toSave.Published == nil {
		now := db.now()
		toSave.Published = &now
	}

	raw, err := json.Marshal(&toSave)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}

	var stored *domain.Activity
	err = db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertActivity,
			uuid.New().String(),
			toSave.ID,
			toSave.Type,
			toSave.Actor,
			toSave.Object.ID,
			string(raw),
			local,
			db.now(),
		)
		if err != nil {
			return err
		}
		stored, err = readActivity(ctx, tx, toSave.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (db *DB) ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error) {
	return readActivity(ctx, db.db, uri)
}

// ReadLatestActivity finds the most recent activity of the given type that
// actor issued about object.
func (db *DB) ReadLatestActivity(ctx context.Context, actor, activityType, object string) (*domain.Activity, error) {
	var raw string
	err := db.db.QueryRowContext(ctx, sqlSelectLatestActivity, actor, activityType, object).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return domain.ParseActivity([]byte(raw))
}

// DeleteActivityByURI removes the activity and returns what was stored.
func (db *DB) DeleteActivityByURI(ctx context.Context, uri string) (*domain.Activity, error) {
	var deleted *domain.Activity
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		deleted, err = readActivity(ctx, tx, uri)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlDeleteActivityByURI, uri)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// RemoveIndexEntries drops every inbox and outbox entry pointing at uri.
func (db *DB) RemoveIndexEntries(ctx context.Context, uri string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlDeleteInboxByActivity, uri); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, sqlDeleteOutboxByActivity, uri)
		return err
	})
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readActivity(ctx context.Context, q queryRower, uri string) (*domain.Activity, error) {
	var raw string
	err := q.QueryRowContext(ctx, sqlSelectActivityByURI, uri).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return domain.ParseActivity([]byte(raw))
}

// Inbox / Outbox index
const (
	sqlInsertInbox  = `INSERT INTO inbox(owner_uri, activity_uri, created_at) VALUES (?, ?, ?) ON CONFLICT(owner_uri, activity_uri) DO NOTHING`
	sqlInsertOutbox = `INSERT INTO outbox(owner_uri, activity_uri, created_at) VALUES (?, ?, ?) ON CONFLICT(owner_uri, activity_uri) DO NOTHING`
	sqlSelectInbox  = `SELECT owner_uri, activity_uri, created_at FROM inbox WHERE owner_uri = ? ORDER BY created_at DESC, rowid DESC`
	sqlSelectOutbox = `SELECT owner_uri, activity_uri, created_at FROM outbox WHERE owner_uri = ? ORDER BY created_at DESC, rowid DESC`

	sqlSelectOutboxActivities = `SELECT activities.raw_json FROM outbox
								INNER JOIN activities ON activities.activity_uri = outbox.activity_uri
								WHERE outbox.owner_uri = ?
								ORDER BY outbox.created_at DESC, outbox.rowid DESC
								LIMIT ?`
)

func (db *DB) CreateInboxEntry(ctx context.Context, owner, activityURI string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertInbox, owner, activityURI, db.now())
		return err
	})
}

func (db *DB) CreateOutboxEntry(ctx context.Context, owner, activityURI string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertOutbox, owner, activityURI, db.now())
		return err
	})
}

// ReadInbox lists the owner's inbox, newest first.
func (db *DB) ReadInbox(ctx context.Context, owner string) ([]domain.BoxEntry, error) {
	return db.readBox(ctx, sqlSelectInbox, owner)
}

// ReadOutbox lists the owner's outbox, newest first.
func (db *DB) ReadOutbox(ctx context.Context, owner string) ([]domain.BoxEntry, error) {
	return db.readBox(ctx, sqlSelectOutbox, owner)
}

func (db *DB) readBox(ctx context.Context, query, owner string) ([]domain.BoxEntry, error) {
	rows, err := db.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.BoxEntry
	for rows.Next() {
		var entry domain.BoxEntry
		if err := rows.Scan(&entry.Owner, &entry.Activity, &entry.CreatedAt); err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ReadOutboxActivities returns up to limit activities from the owner's
// outbox, newest first.
func (db *DB) ReadOutboxActivities(ctx context.Context, owner string, limit int) ([]domain.Activity, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectOutboxActivities, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return activities, err
		}
		act, err := domain.ParseActivity([]byte(raw))
		if err != nil {
			db.log.Warn("skipping unreadable activity", zap.Error(err))
			continue
		}
		activities = append(activities, *act)
	}
	return activities, rows.Err()
}

// Relations
const (
	sqlInsertFollower   = `INSERT INTO followers(followee_uri, follower_uri, created_at) VALUES (?, ?, ?) ON CONFLICT(followee_uri, follower_uri) DO NOTHING`
	sqlDeleteFollower   = `DELETE FROM followers WHERE followee_uri = ? AND follower_uri = ?`
	sqlSelectFollowers  = `SELECT follower_uri FROM followers WHERE followee_uri = ? ORDER BY created_at, rowid`
	sqlSelectFollowing  = `SELECT followee_uri FROM followers WHERE follower_uri = ? ORDER BY created_at, rowid`
	sqlInsertAttendee   = `INSERT INTO attendees(event_uri, attendee_uri, created_at) VALUES (?, ?, ?) ON CONFLICT(event_uri, attendee_uri) DO NOTHING`
	sqlDeleteAttendee   = `DELETE FROM attendees WHERE event_uri = ? AND attendee_uri = ?`
	sqlSelectAttendees  = `SELECT attendee_uri FROM attendees WHERE event_uri = ? ORDER BY created_at, rowid`
	sqlSelectAttending  = `SELECT event_uri FROM attendees WHERE attendee_uri = ? ORDER BY created_at, rowid`
)

// CreateFollower records that follower follows followee. Repeated calls for
// the same pair leave a single row.
func (db *DB) CreateFollower(ctx context.Context, followee, follower string) error {
	return db.exec(ctx, sqlInsertFollower, followee, follower, db.now())
}

func (db *DB) DeleteFollower(ctx context.Context, followee, follower string) error {
	return db.exec(ctx, sqlDeleteFollower, followee, follower)
}

func (db *DB) ReadFollowers(ctx context.Context, followee string) ([]string, error) {
	return db.readURIs(ctx, sqlSelectFollowers, followee)
}

func (db *DB) ReadFollowing(ctx context.Context, follower string) ([]string, error) {
	return db.readURIs(ctx, sqlSelectFollowing, follower)
}

func (db *DB) CreateAttendee(ctx context.Context, event, attendee string) error {
	return db.exec(ctx, sqlInsertAttendee, event, attendee, db.now())
}

func (db *DB) DeleteAttendee(ctx context.Context, event, attendee string) error {
	return db.exec(ctx, sqlDeleteAttendee, event, attendee)
}

func (db *DB) ReadAttendees(ctx context.Context, event string) ([]string, error) {
	return db.readURIs(ctx, sqlSelectAttendees, event)
}

func (db *DB) ReadAttending(ctx context.Context, attendee string) ([]string, error) {
	return db.readURIs(ctx, sqlSelectAttending, attendee)
}

// Delivery log
const (
	sqlInsertDelivery            = `INSERT INTO deliveries(id, inbox_uri, activity_uri, success, attempted_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectDeliveriesByActivity = `SELECT id, inbox_uri, activity_uri, success, attempted_at FROM deliveries WHERE activity_uri = ? ORDER BY attempted_at, rowid`
)

func (db *DB) RecordDelivery(ctx context.Context, d *domain.Delivery) error {
	if d.Id == uuid.Nil {
		d.Id = uuid.New()
	}
	if d.AttemptedAt.IsZero() {
		d.AttemptedAt = db.now()
	}
	return db.exec(ctx, sqlInsertDelivery, d.Id.String(), d.InboxURI, d.ActivityURI, d.Success, d.AttemptedAt)
}

func (db *DB) ReadDeliveries(ctx context.Context, activityURI string) ([]domain.Delivery, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectDeliveriesByActivity, activityURI)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var idStr string
		if err := rows.Scan(&idStr, &d.InboxURI, &d.ActivityURI, &d.Success, &d.AttemptedAt); err != nil {
			return deliveries, err
		}
		d.Id, _ = uuid.Parse(idStr)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (db *DB) exec(ctx context.Context, query string, args ...any) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

func (db *DB) readURIs(ctx context.Context, query, key string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	uris := []string{}
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	return uris, rows.Err()
}

// wrapTransaction runs the given function within a transaction, retrying
// with a growing pause while SQLite reports the database as busy.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	for attempt := 0; ; attempt++ {
		err := db.runTransaction(ctx, f)
		if err == nil {
			return nil
		}

		if isBusy(err) && attempt < maxBusyRetries {
			db.log.Debug("database busy, retrying", zap.Int("attempt", attempt+1))
			select {
			case <-time.After(busyBackoff(attempt)):
				continue
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			}
		}
		if !errors.Is(err, domain.ErrNotFound) {
			db.log.Error("error in transaction", zap.Error(err))
		}
		return err
	}
}

func (db *DB) runTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isBusy matches SQLITE_BUSY and its extended codes.
func isBusy(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code()&0xff == sqlitelib.SQLITE_BUSY
}

func busyBackoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * 20 * time.Millisecond
}
