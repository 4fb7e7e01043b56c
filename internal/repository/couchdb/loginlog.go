// Package couchdb holds the audit log store. It is deliberately a separate
// engine from the credential store: login log entries are written once, never
// updated and never consulted on the authentication path.
package couchdb

import (
	"context"
	"fmt"
	"net/http"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // The CouchDB driver

	"github.com/pkosilov/accounts/internal/models"
)

const indexName = "logins-by-email"

type LoginLogRepo struct {
	db *kivik.DB
}

// New connects to couchdb, creates the database if missing and ensures the
// Mango index used for per-email queries in insertion order
func New(ctx context.Context, dsn string, dbName string) (*LoginLogRepo, error) {
	client, err := kivik.New("couch", dsn)
	if err != nil {
		return nil, fmt.Errorf("cant initialize couchdb client. Err: %w", err)
	}

	err = client.CreateDB(ctx, dbName)
	if err != nil && kivik.HTTPStatus(err) != http.StatusPreconditionFailed {
		return nil, fmt.Errorf("cant create couchdb database %q. Err: %w", dbName, err)
	}

	db := client.DB(dbName)

	err = db.CreateIndex(ctx, indexName, indexName, map[string]any{
		"fields": []any{"user_email", "created_at"},
	})
	if err != nil {
		return nil, fmt.Errorf("cant create couchdb index. Err: %w", err)
	}

	return &LoginLogRepo{db: db}, nil
}

// Append entry
// Id and revision come from the store; created_at is assigned here, on the
// write path, so write order timestamps never depend on caller clock skew
func (r *LoginLogRepo) Append(ctx context.Context, entry models.LoginLog) (models.LoginLog, error) {
	now := time.Now().UTC()
	entry.CreatedAt = now
	if entry.LoginTime.IsZero() {
		entry.LoginTime = now
	}
	entry.ID = ""
	entry.Rev = ""

	id, rev, err := r.db.CreateDoc(ctx, entry)
	if err != nil {
		return entry, fmt.Errorf("audit store error: %w", err)
	}

	entry.ID = id
	entry.Rev = rev

	return entry, nil
}

// List entries for the email ordered by write timestamp (insertion order)
func (r *LoginLogRepo) ListByEmail(ctx context.Context, email string) ([]models.LoginLog, error) {
	query := map[string]any{
		"selector": map[string]any{
			"user_email": email,
			"created_at": map[string]any{"$gt": nil},
		},
		"sort":      []any{map[string]string{"created_at": "asc"}},
		"use_index": indexName,
	}

	rows := r.db.Find(ctx, query)
	defer rows.Close()

	var entries []models.LoginLog
	for rows.Next() {
		var entry models.LoginLog
		if err := rows.ScanDoc(&entry); err != nil {
			return nil, fmt.Errorf("audit store error: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit store error: %w", err)
	}

	return entries, nil
}
