// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sekolahdesk/sekolahdesk/internal/dbinterface"
)

// IDCache maps subject and role names to their reference-table ids so hot
// paths (grade entry, assignment edits) avoid repeated lookups. A miss
// inserts the name through the writer and caches the new id, which is why
// all access is serialized behind one mutex: two concurrent misses for the
// same name must not both insert.
type IDCache struct {
	mu       sync.Mutex
	subjects map[string]int64
	roles    map[string]int64
	db       dbinterface.Querier
}

// NewIDCache returns an empty cache reading and writing through db.
func NewIDCache(db dbinterface.Querier) *IDCache {
	return &IDCache{
		subjects: make(map[string]int64),
		roles:    make(map[string]int64),
		db:       db,
	}
}

// Load bulk-populates both maps from the reference tables. Called once at
// startup and again after a database swap.
func (c *IDCache) Load(ctx context.Context) error {
	subjects, err := c.loadTable(ctx, "SELECT id, nama_mapel FROM mapel")
	if err != nil {
		return fmt.Errorf("load subject ids: %w", err)
	}
	roles, err := c.loadTable(ctx, "SELECT id, nama_jabatan FROM jabatan_guru")
	if err != nil {
		return fmt.Errorf("load role ids: %w", err)
	}

	c.mu.Lock()
	c.subjects = subjects
	c.roles = roles
	c.mu.Unlock()

	log.Debug().Int("subjects", len(subjects)).Int("roles", len(roles)).Msg("id cache loaded")
	return nil
}

func (c *IDCache) loadTable(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

// SubjectID returns the id for a subject name, inserting it on a miss.
func (c *IDCache) SubjectID(ctx context.Context, name string) (int64, error) {
	return c.getOrInsert(ctx, c.subjects, name,
		"SELECT id FROM mapel WHERE nama_mapel = ?",
		"INSERT INTO mapel (nama_mapel) VALUES (?) RETURNING id")
}

// RoleID returns the id for a teacher-role name, inserting it on a miss.
func (c *IDCache) RoleID(ctx context.Context, name string) (int64, error) {
	return c.getOrInsert(ctx, c.roles, name,
		"SELECT id FROM jabatan_guru WHERE nama_jabatan = ?",
		"INSERT INTO jabatan_guru (nama_jabatan) VALUES (?) RETURNING id")
}

// RoleName reverse-looks-up a role name by id. Returns "" when unknown.
func (c *IDCache) RoleName(id int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, cached := range c.roles {
		if cached == id {
			return name
		}
	}
	return ""
}

func (c *IDCache) getOrInsert(ctx context.Context, m map[string]int64, name, selectQuery, insertQuery string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := m[name]; ok {
		return id, nil
	}

	// The row may exist without being cached (another process, or a cache
	// cleared mid-session). Check before minting a duplicate.
	var id int64
	err := c.db.QueryRowContext(ctx, selectQuery, name).Scan(&id)
	if err == nil {
		m[name] = id
		return id, nil
	}

	if err := c.db.QueryRowContext(ctx, insertQuery, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert %q: %w", name, err)
	}
	m[name] = id
	return id, nil
}

// Clear empties both maps. The next lookup repopulates from the database.
func (c *IDCache) Clear() {
	c.mu.Lock()
	c.subjects = make(map[string]int64)
	c.roles = make(map[string]int64)
	c.mu.Unlock()
}
