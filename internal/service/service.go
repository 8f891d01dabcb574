// Package service turns parsed price lists into persisted rows. It owns
// validation, item upserts, duplicate suppression, and cache invalidation.
package service

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"dofus-hdv/internal/cache"
	"dofus-hdv/internal/config"
	"dofus-hdv/internal/db"
	"dofus-hdv/internal/logger"
	"dofus-hdv/internal/metrics"
	"dofus-hdv/internal/protocol"
)

// ErrParse wraps a protocol-level failure for one packet. The packet is
// dropped; the consumer continues.
var ErrParse = errors.New("parse error")

// BatchError reports a batch in which every packet failed.
// StorageFailures counts the failures that reached the store; zero means
// every failure was parse-level and the consumer drops the batch without
// charging the circuit breaker.
type BatchError struct {
	Succeeded       int
	Failed          int
	StorageFailures int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch failed: %d succeeded, %d failed", e.Succeeded, e.Failed)
}

// PriceService validates and persists price observations extracted from
// captured packets.
type PriceService struct {
	db          *db.DB
	parser      *protocol.Parser
	dedupWindow time.Duration

	items           *cache.Cache // gid -> *db.Item
	itemsWithPrices *cache.Cache // gid -> *db.ItemWithPrices
	latestPrices    *cache.Cache // gid:quantity -> *db.PriceEntry

	sf singleflight.Group
}

// New wires a price service over the store with the configured caches.
func New(database *db.DB, parser *protocol.Parser, cfg *config.Config) *PriceService {
	s := &PriceService{
		db:          database,
		parser:      parser,
		dedupWindow: time.Duration(cfg.Store.DedupWindowMin) * time.Minute,
		items: cache.New("items",
			time.Duration(cfg.Cache.Items.TTLSeconds)*time.Second, cfg.Cache.Items.MaxSize),
		itemsWithPrices: cache.New("itemsWithPrices",
			time.Duration(cfg.Cache.ItemsWithPrices.TTLSeconds)*time.Second, cfg.Cache.ItemsWithPrices.MaxSize),
		latestPrices: cache.New("latestPrices",
			time.Duration(cfg.Cache.LatestPrices.TTLSeconds)*time.Second, cfg.Cache.LatestPrices.MaxSize),
	}
	for _, c := range []*cache.Cache{s.items, s.itemsWithPrices, s.latestPrices} {
		name := c.Stats().Name
		c.OnRemoval(func(key string, cause cache.RemovalCause) {
			logger.Debug("CACHE", fmt.Sprintf("%s: removed %s (%s)", name, key, cause))
		})
	}
	return s
}

// Caches returns the three named caches for health reporting.
func (s *PriceService) Caches() []*cache.Cache {
	return []*cache.Cache{s.items, s.itemsWithPrices, s.latestPrices}
}

// ProcessPacket parses one captured payload and persists whatever price
// observations it carries, in one transaction. Returns the number of
// entries persisted. Non-price messages return 0 without error.
func (s *PriceService) ProcessPacket(payload []byte) (int, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	res := s.parser.Parse(payload)
	if !res.OK() {
		countParseFailure(res.Err)
		logger.Debug("SVC", fmt.Sprintf("parse failed id=%d: %v (raw %x)", res.MessageID, res.Err, preview(payload)))
		return 0, fmt.Errorf("%w: %v", ErrParse, res.Err)
	}

	switch msg := res.Msg.(type) {
	case protocol.PriceList:
		var persisted int
		pending := make(map[int32]*db.Item)
		err := s.db.WithTx(func(sess *db.Session) error {
			n, err := s.persistList(sess, msg, pending)
			persisted = n
			return err
		})
		if err != nil {
			return 0, err
		}
		s.promoteItems(pending)
		return persisted, nil
	case protocol.CategoryDescription:
		if err := s.recordCategory(msg); err != nil {
			return 0, err
		}
		return 0, nil
	default:
		return 0, nil
	}
}

// ProcessBatch folds ProcessPacket over the inputs inside one outer
// transaction. Per-packet failures are tolerated; when every packet
// fails the transaction is abandoned and a *BatchError returned.
func (s *PriceService) ProcessBatch(payloads [][]byte) (int, error) {
	if len(payloads) == 0 {
		return 0, nil
	}
	var total, succeeded, parseFailed, storageFailed int
	pending := make(map[int32]*db.Item)
	err := s.db.WithTx(func(sess *db.Session) error {
		for _, p := range payloads {
			if len(p) == 0 {
				succeeded++
				continue
			}
			res := s.parser.Parse(p)
			if !res.OK() {
				countParseFailure(res.Err)
				parseFailed++
				continue
			}
			switch msg := res.Msg.(type) {
			case protocol.PriceList:
				n, err := s.persistList(sess, msg, pending)
				if err != nil {
					logger.Warn("SVC", fmt.Sprintf("packet persist failed: %v", err))
					storageFailed++
					continue
				}
				total += n
				succeeded++
			case protocol.CategoryDescription:
				if err := s.recordCategoryTx(sess, msg); err != nil {
					storageFailed++
					continue
				}
				succeeded++
			default:
				succeeded++
			}
		}
		if failed := parseFailed + storageFailed; succeeded == 0 && failed > 0 {
			return &BatchError{Succeeded: succeeded, Failed: failed, StorageFailures: storageFailed}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.promoteItems(pending)
	return total, nil
}

// persistList writes a price list's observations through sess. Entries
// from one payload land in protocol order within the transaction.
// Items created here are parked in pending and must only reach the
// shared cache once the surrounding transaction commits.
func (s *PriceService) persistList(sess *db.Session, pl protocol.PriceList, pending map[int32]*db.Item) (int, error) {
	persisted := 0
	touched := make(map[int32]struct{})

	for _, obs := range pl.Observations() {
		if err := validate(obs); err != nil {
			metrics.ObservationsSkipped.WithLabelValues("validation").Inc()
			logger.Debug("SVC", fmt.Sprintf("dropped observation gid=%d qty=%d price=%d: %v",
				obs.ItemGid, obs.Quantity, obs.Price, err))
			continue
		}
		item, err := s.ensureItem(sess, obs.ItemGid, pending)
		if err != nil {
			return persisted, err
		}
		dup, err := sess.HasRecentDuplicate(item.ID, obs.Quantity, obs.Price, s.dedupWindow)
		if err != nil {
			return persisted, err
		}
		if dup {
			metrics.ObservationsSkipped.WithLabelValues("duplicate").Inc()
			continue
		}
		_, err = sess.InsertPriceEntry(item.ID, obs.Price, obs.Quantity, 0, obs.ObservedAt)
		if errors.Is(err, db.ErrConflict) {
			// Same minute, same tuple: the dedup index did its job.
			metrics.ObservationsSkipped.WithLabelValues("duplicate").Inc()
			continue
		}
		if err != nil {
			return persisted, err
		}
		persisted++
		touched[obs.ItemGid] = struct{}{}
	}

	for gid := range touched {
		s.EvictItemCache(gid)
	}
	metrics.EntriesPersisted.Add(float64(persisted))
	return persisted, nil
}

// validate applies the persistence gate: positive gid and price, and a
// legal quantity tier. Zero prices never reach here (filtered at parse).
func validate(obs protocol.PriceObservation) error {
	if obs.ItemGid <= 0 {
		return fmt.Errorf("gid %d not positive", obs.ItemGid)
	}
	if obs.Price <= 0 {
		return fmt.Errorf("price %d not positive", obs.Price)
	}
	if obs.Quantity != 1 && obs.Quantity != 10 && obs.Quantity != 100 {
		return fmt.Errorf("quantity %d not in {1,10,100}", obs.Quantity)
	}
	return nil
}

// ensureItem resolves gid to an item row via the cache, creating the row
// on first observation. Runs against the caller's session so creation
// joins the surrounding transaction. Inside a transaction the caller
// supplies pending: resolved rows are parked there instead of the shared
// cache, so a rollback cannot strand a cached item ID with no row behind
// it. Callers outside any transaction pass nil and cache directly.
func (s *PriceService) ensureItem(sess *db.Session, gid int32, pending map[int32]*db.Item) (*db.Item, error) {
	key := gidKey(gid)
	if v, ok := s.items.Get(key); ok {
		metrics.CacheRequests.WithLabelValues("items", "hit").Inc()
		return v.(*db.Item), nil
	}
	if item, ok := pending[gid]; ok {
		return item, nil
	}
	metrics.CacheRequests.WithLabelValues("items", "miss").Inc()

	item, err := sess.GetItemByGid(gid)
	if err != nil {
		return nil, err
	}
	if item == nil {
		item, err = sess.InsertItem(gid, "")
		if errors.Is(err, db.ErrConflict) {
			// Concurrent first observation; the winner's row is there now.
			item, err = sess.GetItemByGid(gid)
			if err == nil && item == nil {
				err = fmt.Errorf("item gid=%d missing after conflict", gid)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	if pending != nil {
		pending[gid] = item
	} else {
		s.items.Put(key, item)
	}
	return item, nil
}

// promoteItems publishes items resolved inside a committed transaction.
func (s *PriceService) promoteItems(pending map[int32]*db.Item) {
	for gid, item := range pending {
		s.items.Put(gidKey(gid), item)
	}
}

// GetOrCreateItem resolves gid to an item, creating it when unseen.
// Concurrent calls for the same gid collapse into one store round-trip
// and resolve idempotently on the unique gid constraint.
func (s *PriceService) GetOrCreateItem(gid int32) (*db.Item, error) {
	if gid <= 0 {
		return nil, fmt.Errorf("gid %d not positive", gid)
	}
	key := gidKey(gid)
	if v, ok := s.items.Get(key); ok {
		metrics.CacheRequests.WithLabelValues("items", "hit").Inc()
		return v.(*db.Item), nil
	}
	metrics.CacheRequests.WithLabelValues("items", "miss").Inc()

	v, err, _ := s.sf.Do(key, func() (any, error) {
		return s.ensureItem(&s.db.Session, gid, nil)
	})
	if err != nil {
		return nil, err
	}
	return v.(*db.Item), nil
}

// GetLatestPrice returns the newest entry for (gid, quantity), cached.
func (s *PriceService) GetLatestPrice(gid int32, quantity int) (*db.PriceEntry, error) {
	key := priceKey(gid, quantity)
	if v, ok := s.latestPrices.Get(key); ok {
		metrics.CacheRequests.WithLabelValues("latestPrices", "hit").Inc()
		return v.(*db.PriceEntry), nil
	}
	metrics.CacheRequests.WithLabelValues("latestPrices", "miss").Inc()

	entry, err := s.db.GetLatestPrice(gid, quantity)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		s.latestPrices.Put(key, entry)
	}
	return entry, nil
}

// GetPriceHistory returns entries for (gid, quantity) in [from, to].
func (s *PriceService) GetPriceHistory(gid int32, quantity int, from, to time.Time) ([]db.PriceEntry, error) {
	return s.db.GetPriceHistory(gid, quantity, from, to)
}

// GetItemWithPrices returns an item with its recent history, cached.
func (s *PriceService) GetItemWithPrices(gid int32, limit int) (*db.ItemWithPrices, error) {
	key := gidKey(gid)
	v, err := s.itemsWithPrices.GetOrLoad(key, func() (any, error) {
		iwp, err := s.db.GetItemWithPrices(gid, limit)
		if err != nil {
			return nil, err
		}
		return iwp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*db.ItemWithPrices), nil
}

// EvictItemCache drops every cached view of gid.
func (s *PriceService) EvictItemCache(gid int32) {
	key := gidKey(gid)
	s.items.Invalidate(key)
	s.itemsWithPrices.Invalidate(key)
	for _, q := range []int{1, 10, 100} {
		s.latestPrices.Invalidate(priceKey(gid, q))
	}
}

// recordCategory stores a category description as a sub-category row.
func (s *PriceService) recordCategory(msg protocol.CategoryDescription) error {
	return s.db.WithTx(func(sess *db.Session) error {
		return s.recordCategoryTx(sess, msg)
	})
}

func (s *PriceService) recordCategoryTx(sess *db.Session, msg protocol.CategoryDescription) error {
	if msg.ObjectType <= 0 || !msg.HasDescription {
		return nil
	}
	id, err := sess.UpsertSubCategory(msg.ObjectType, msg.Description)
	if err != nil {
		return err
	}
	logger.Debug("SVC", fmt.Sprintf("sub-category %d (%s) -> row %d", msg.ObjectType, msg.Description, id))
	return nil
}

func gidKey(gid int32) string {
	return fmt.Sprintf("%d", gid)
}

func priceKey(gid int32, quantity int) string {
	return fmt.Sprintf("%d:%d", gid, quantity)
}

func countParseFailure(err error) {
	kind := "other"
	switch {
	case errors.Is(err, protocol.ErrMalformedVarInt):
		kind = "malformed_varint"
	case errors.Is(err, protocol.ErrDecompressionBomb):
		kind = "decompression_bomb"
	case errors.Is(err, protocol.ErrTruncated):
		kind = "truncated"
	}
	metrics.ParseFailures.WithLabelValues(kind).Inc()
}

func preview(p []byte) []byte {
	if len(p) > 32 {
		return p[:32]
	}
	return p
}
