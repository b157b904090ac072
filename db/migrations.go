package db

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		web_public_key TEXT NOT NULL,
		web_private_key TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Events and any other object created through the outbox
	sqlCreateObjectsTable = `CREATE TABLE IF NOT EXISTS objects (
		id TEXT NOT NULL PRIMARY KEY,
		object_uri TEXT UNIQUE NOT NULL,
		object_type TEXT NOT NULL,
		attributed_to TEXT,
		raw_json TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateObjectsIndices = `
		CREATE INDEX IF NOT EXISTS idx_objects_attributed_to ON objects(attributed_to);
	`

	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT,
		raw_json TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		local INTEGER DEFAULT 0
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);
		CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON activities(object_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	sqlCreateInboxTable = `CREATE TABLE IF NOT EXISTS inbox (
		owner_uri TEXT NOT NULL,
		activity_uri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(owner_uri, activity_uri)
	)`

	sqlCreateOutboxTable = `CREATE TABLE IF NOT EXISTS outbox (
		owner_uri TEXT NOT NULL,
		activity_uri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(owner_uri, activity_uri)
	)`

	sqlCreateBoxIndices = `
		CREATE INDEX IF NOT EXISTS idx_inbox_activity_uri ON inbox(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_outbox_activity_uri ON outbox(activity_uri);
	`

	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers (
		followee_uri TEXT NOT NULL,
		follower_uri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(followee_uri, follower_uri)
	)`

	sqlCreateAttendeesTable = `CREATE TABLE IF NOT EXISTS attendees (
		event_uri TEXT NOT NULL,
		attendee_uri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(event_uri, attendee_uri)
	)`

	sqlCreateRelationIndices = `
		CREATE INDEX IF NOT EXISTS idx_followers_follower_uri ON followers(follower_uri);
		CREATE INDEX IF NOT EXISTS idx_attendees_attendee_uri ON attendees(attendee_uri);
	`

	// One row per delivery attempt, kept for debugging
	sqlCreateDeliveriesTable = `CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_uri TEXT NOT NULL,
		success INTEGER DEFAULT 0,
		attempted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveriesIndices = `
		CREATE INDEX IF NOT EXISTS idx_deliveries_activity_uri ON deliveries(activity_uri);
	`
)

var tables = []struct {
	name string
	sql  string
}{
	{"accounts", sqlCreateAccountsTable},
	{"objects", sqlCreateObjectsTable},
	{"activities", sqlCreateActivitiesTable},
	{"inbox", sqlCreateInboxTable},
	{"outbox", sqlCreateOutboxTable},
	{"followers", sqlCreateFollowersTable},
	{"attendees", sqlCreateAttendeesTable},
	{"deliveries", sqlCreateDeliveriesTable},
}

var indices = []struct {
	name string
	sql  string
}{
	{"objects", sqlCreateObjectsIndices},
	{"activities", sqlCreateActivitiesIndices},
	{"inbox/outbox", sqlCreateBoxIndices},
	{"relation", sqlCreateRelationIndices},
	{"deliveries", sqlCreateDeliveriesIndices},
}

// RunMigrations executes all database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if err := db.createTableIfNotExists(ctx, tx, t.sql, t.name); err != nil {
				return err
			}
		}

		for _, idx := range indices {
			if _, err := tx.ExecContext(ctx, idx.sql); err != nil {
				db.log.Warn("failed to create indices", zap.String("table", idx.name), zap.Error(err))
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(ctx context.Context, tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.ExecContext(ctx, createSQL)
	if err != nil {
		db.log.Error("error creating table", zap.String("table", tableName), zap.Error(err))
		return err
	}
	db.log.Debug("table created or already exists", zap.String("table", tableName))
	return nil
}
