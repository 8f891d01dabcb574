package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Item is a catalogue item observed on the auction house. Name falls back
// to a placeholder until real metadata is seen.
type Item struct {
	ID            int64     `json:"id"`
	Gid           int32     `json:"item_gid"`
	Name          string    `json:"item_name"`
	SubCategoryID int64     `json:"sub_category_id"` // 0 = unlinked
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PlaceholderName is the item name used until metadata arrives.
func PlaceholderName(gid int32) string {
	return fmt.Sprintf("Item #%d", gid)
}

// Session runs queries against either the raw connection or an open
// transaction; DB embeds one over the connection and WithTx supplies
// transaction-scoped ones.
type Session struct {
	q querier
}

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// GetItemByGid looks an item up by game id. Returns nil when absent.
func (s *Session) GetItemByGid(gid int32) (*Item, error) {
	row := s.q.QueryRow(`
		SELECT id, item_gid, COALESCE(item_name, ''), COALESCE(sub_category_id, 0), created_at, updated_at
		  FROM items WHERE item_gid = ?
	`, gid)
	var it Item
	var created, updated string
	err := row.Scan(&it.ID, &it.Gid, &it.Name, &it.SubCategoryID, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item gid=%d: %w", gid, err)
	}
	it.CreatedAt = parseTime(created)
	it.UpdatedAt = parseTime(updated)
	return &it, nil
}

// InsertItem creates an item row for gid. Returns ErrConflict when a
// concurrent insert won the race on the unique gid constraint.
func (s *Session) InsertItem(gid int32, name string) (*Item, error) {
	if name == "" {
		name = PlaceholderName(gid)
	}
	now := time.Now()
	res, err := s.q.Exec(`
		INSERT INTO items (item_gid, item_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, gid, name, fmtTime(now), fmtTime(now))
	if isConflict(err) {
		return nil, fmt.Errorf("insert item gid=%d: %w", gid, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("insert item gid=%d: %w", gid, err)
	}
	id, _ := res.LastInsertId()
	return &Item{ID: id, Gid: gid, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

// UpdateItemName sets a real name on an item, refreshing updated_at.
// Metadata changes are the only writes that touch updated_at.
func (s *Session) UpdateItemName(gid int32, name string) error {
	_, err := s.q.Exec(`
		UPDATE items SET item_name = ?, updated_at = ? WHERE item_gid = ?
	`, name, fmtTime(time.Now()), gid)
	if err != nil {
		return fmt.Errorf("update item name gid=%d: %w", gid, err)
	}
	return nil
}

// SetItemSubCategory links an item to a sub-category row.
func (s *Session) SetItemSubCategory(gid int32, subCategoryID int64) error {
	_, err := s.q.Exec(`
		UPDATE items SET sub_category_id = ?, updated_at = ? WHERE item_gid = ?
	`, subCategoryID, fmtTime(time.Now()), gid)
	if err != nil {
		return fmt.Errorf("link item gid=%d to sub-category %d: %w", gid, subCategoryID, err)
	}
	return nil
}

// CountItems returns the number of item rows.
func (s *Session) CountItems() (int64, error) {
	var n int64
	if err := s.q.QueryRow("SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}
