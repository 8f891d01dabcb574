package db

import (
	"database/sql"
	"fmt"
	"time"
)

// PriceEntry is one persisted price observation.
type PriceEntry struct {
	ID              int64     `json:"id"`
	ItemID          int64     `json:"item_id"`
	Price           int64     `json:"price"`
	Quantity        int       `json:"quantity"`
	ServerTimestamp int64     `json:"server_timestamp"` // ms since epoch, 0 = absent
	CreatedAt       time.Time `json:"created_at"`
}

// ItemWithPrices is an item together with its recent price history,
// newest first.
type ItemWithPrices struct {
	Item    Item         `json:"item"`
	Entries []PriceEntry `json:"entries"`
}

// minuteBucket truncates t to the minute for the dedup index.
func minuteBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04")
}

// InsertPriceEntry writes one price entry. Same-minute duplicates of the
// same (item, quantity, price) hit the dedup index and return ErrConflict.
func (s *Session) InsertPriceEntry(itemID int64, price int64, quantity int, serverTimestamp int64, createdAt time.Time) (int64, error) {
	var serverTs any
	if serverTimestamp > 0 {
		serverTs = serverTimestamp
	}
	res, err := s.q.Exec(`
		INSERT INTO price_entries (item_id, price, quantity, server_timestamp, created_at, minute_bucket)
		VALUES (?, ?, ?, ?, ?, ?)
	`, itemID, price, quantity, serverTs, fmtTime(createdAt), minuteBucket(createdAt))
	if isConflict(err) {
		return 0, fmt.Errorf("insert price entry item=%d: %w", itemID, ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("insert price entry item=%d: %w", itemID, err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// HasRecentDuplicate reports whether the same (item, quantity, price)
// tuple was already stored inside the suppression window. The window
// extends the minute-bucket index to catch repeated captures of the same
// auction-house view a few minutes apart.
func (s *Session) HasRecentDuplicate(itemID int64, quantity int, price int64, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, nil
	}
	cutoff := fmtTime(time.Now().Add(-window))
	var one int
	err := s.q.QueryRow(`
		SELECT 1 FROM price_entries
		 WHERE item_id = ? AND quantity = ? AND price = ? AND created_at >= ?
		 LIMIT 1
	`, itemID, quantity, price, cutoff).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recent-duplicate check item=%d: %w", itemID, err)
	}
	return true, nil
}

// GetLatestPrice returns the newest entry for (gid, quantity), nil when
// the item has no history at that tier.
func (s *Session) GetLatestPrice(gid int32, quantity int) (*PriceEntry, error) {
	row := s.q.QueryRow(`
		SELECT pe.id, pe.item_id, pe.price, pe.quantity, COALESCE(pe.server_timestamp, 0), pe.created_at
		  FROM price_entries pe
		  JOIN items i ON i.id = pe.item_id
		 WHERE i.item_gid = ? AND pe.quantity = ?
		 ORDER BY pe.created_at DESC, pe.id DESC
		 LIMIT 1
	`, gid, quantity)
	return scanPriceEntry(row)
}

// GetPriceHistory returns entries for (gid, quantity) within [from, to],
// oldest first.
func (s *Session) GetPriceHistory(gid int32, quantity int, from, to time.Time) ([]PriceEntry, error) {
	rows, err := s.q.Query(`
		SELECT pe.id, pe.item_id, pe.price, pe.quantity, COALESCE(pe.server_timestamp, 0), pe.created_at
		  FROM price_entries pe
		  JOIN items i ON i.id = pe.item_id
		 WHERE i.item_gid = ? AND pe.quantity = ? AND pe.created_at >= ? AND pe.created_at <= ?
		 ORDER BY pe.created_at ASC, pe.id ASC
	`, gid, quantity, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("price history gid=%d: %w", gid, err)
	}
	defer rows.Close()

	var out []PriceEntry
	for rows.Next() {
		var e PriceEntry
		var created string
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Price, &e.Quantity, &e.ServerTimestamp, &created); err != nil {
			return nil, fmt.Errorf("scan price entry: %w", err)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetItemWithPrices returns an item and its most recent entries across
// all quantity tiers, newest first. Returns nil when the item is unknown.
func (s *Session) GetItemWithPrices(gid int32, limit int) (*ItemWithPrices, error) {
	item, err := s.GetItemByGid(gid)
	if err != nil || item == nil {
		return nil, err
	}
	rows, err := s.q.Query(`
		SELECT id, item_id, price, quantity, COALESCE(server_timestamp, 0), created_at
		  FROM price_entries
		 WHERE item_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?
	`, item.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("item prices gid=%d: %w", gid, err)
	}
	defer rows.Close()

	iwp := &ItemWithPrices{Item: *item}
	for rows.Next() {
		var e PriceEntry
		var created string
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Price, &e.Quantity, &e.ServerTimestamp, &created); err != nil {
			return nil, fmt.Errorf("scan price entry: %w", err)
		}
		e.CreatedAt = parseTime(created)
		iwp.Entries = append(iwp.Entries, e)
	}
	return iwp, rows.Err()
}

// CountPriceEntries returns the number of stored entries.
func (s *Session) CountPriceEntries() (int64, error) {
	var n int64
	if err := s.q.QueryRow("SELECT COUNT(*) FROM price_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count price entries: %w", err)
	}
	return n, nil
}

// PruneOldEntries deletes entries older than retentionDays to bound
// database growth. No-op when retentionDays <= 0.
func (s *Session) PruneOldEntries(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := fmtTime(time.Now().AddDate(0, 0, -retentionDays))
	res, err := s.q.Exec("DELETE FROM price_entries WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanPriceEntry(row *sql.Row) (*PriceEntry, error) {
	var e PriceEntry
	var created string
	err := row.Scan(&e.ID, &e.ItemID, &e.Price, &e.Quantity, &e.ServerTimestamp, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan price entry: %w", err)
	}
	e.CreatedAt = parseTime(created)
	return &e, nil
}
