package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SubCategory is an auction-house category learned from category
// description messages.
type SubCategory struct {
	ID        int64     `json:"id"`
	DofusID   int32     `json:"dofus_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertSubCategory creates or renames the sub-category identified by
// dofusID and returns its surrogate key.
func (s *Session) UpsertSubCategory(dofusID int32, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if dofusID <= 0 || name == "" {
		return 0, fmt.Errorf("upsert sub-category: dofus_id must be positive and name non-empty")
	}
	now := fmtTime(time.Now())
	_, err := s.q.Exec(`
		INSERT INTO sub_categories (dofus_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(dofus_id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at
	`, dofusID, name, now, now)
	if err != nil {
		return 0, fmt.Errorf("upsert sub-category dofus_id=%d: %w", dofusID, err)
	}
	var id int64
	if err := s.q.QueryRow("SELECT id FROM sub_categories WHERE dofus_id = ?", dofusID).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert sub-category dofus_id=%d: %w", dofusID, err)
	}
	return id, nil
}

// GetSubCategory looks a sub-category up by dofus id. Returns nil when
// absent.
func (s *Session) GetSubCategory(dofusID int32) (*SubCategory, error) {
	row := s.q.QueryRow(`
		SELECT id, dofus_id, name, created_at, updated_at
		  FROM sub_categories WHERE dofus_id = ?
	`, dofusID)
	var sc SubCategory
	var created, updated string
	err := row.Scan(&sc.ID, &sc.DofusID, &sc.Name, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sub-category dofus_id=%d: %w", dofusID, err)
	}
	sc.CreatedAt = parseTime(created)
	sc.UpdatedAt = parseTime(updated)
	return &sc, nil
}
