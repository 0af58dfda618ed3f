package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
)

// Bucket names; each corresponds to one table of the indexed store.
var (
	bucketBlocks          = []byte("block_table")
	bucketBlockIndex      = []byte("block_index")
	bucketTransactions    = []byte("transaction_table")
	bucketSpends          = []byte("spend_table")
	bucketHistory         = []byte("history_table")
	bucketStealthRows     = []byte("stealth_rows")
	bucketAccounts        = []byte("account_table")
	bucketAccountAssets   = []byte("account_asset_table")
	bucketAccountAddrs    = []byte("account_address_table")
	bucketAccountDids     = []byte("account_did_table")
	bucketAssets          = []byte("asset_table")
	bucketAddressAssets   = []byte("address_asset_table")
	bucketCerts           = []byte("cert_table")
	bucketWitnessCerts    = []byte("witness_cert_table")
	bucketDids            = []byte("did_table")
	bucketDidHistory      = []byte("did_history_table")
	bucketAddressDids     = []byte("address_did_table")
	bucketMits            = []byte("mit_table")
	bucketMitHistory      = []byte("mit_history_table")
	bucketAddressMits     = []byte("address_mit_table")
	bucketWitnessProfiles = []byte("witness_profile_table")
	bucketUndo            = []byte("undo_table")
	bucketMetadata        = []byte("metadata")
)

// allBuckets is the additive schema: migration creates what is absent.
var allBuckets = [][]byte{
	bucketBlocks, bucketBlockIndex, bucketTransactions, bucketSpends,
	bucketHistory, bucketStealthRows, bucketAccounts, bucketAccountAssets,
	bucketAccountAddrs, bucketAccountDids, bucketAssets, bucketAddressAssets,
	bucketCerts, bucketWitnessCerts, bucketDids, bucketDidHistory,
	bucketAddressDids, bucketMits, bucketMitHistory, bucketAddressMits,
	bucketWitnessProfiles, bucketUndo, bucketMetadata,
}

// Schema versions. Migration is additive; downgrade is refused.
const (
	SchemaVersionV1 = 1

	schemaVersionKey = "schema_version"
	tipKey           = "tip"
	dbFileName       = "mvs.db"
)

// Store is the persistent indexed store. All mutation goes through the
// single writer (PushBlock/PopBlock and the account operations); readers are
// bbolt snapshots guarded by the write sequence counter.
type Store struct {
	dir    string
	db     *bolt.DB
	lock   *processLock
	params *consensus.Params
	log    *zap.Logger

	// seq is even when idle, odd while a write is in flight. Readers that
	// want a torn-free multi-call view capture it before and after.
	seq atomic.Uint64

	// corrupted latches fatal store errors; all further writes refuse.
	corrupted atomic.Bool
}

// Open opens (creating if necessary) the store under dir, takes the process
// lock, and migrates the schema.
func Open(dir string, params *consensus.Params, log *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, chain.NewError(chain.ErrStoreCorrupted, "store directory required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	plock, err := acquireProcessLock(dir)
	if err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, dbFileName), 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		plock.release()
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &Store{dir: dir, db: db, lock: plock, params: params, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		plock.release()
		return nil, err
	}
	return s, nil
}

// migrate creates missing buckets and rewrites the schema version. An
// on-disk version newer than this binary refuses to open.
func (s *Store) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketMetadata)
		current := decodeU64(meta.Get([]byte(schemaVersionKey)))
		if current > SchemaVersionV1 {
			return chain.Errorf(chain.ErrStoreCorrupted,
				"schema version %d newer than supported %d", current, SchemaVersionV1)
		}
		if current < SchemaVersionV1 {
			s.log.Info("migrating store schema",
				zap.Uint64("from", current), zap.Int("to", SchemaVersionV1))
		}
		return meta.Put([]byte(schemaVersionKey), encodeU64(SchemaVersionV1))
	})
}

// Close flushes and releases the store and its process lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.lock.release()
	return err
}

// Sequence returns the current write sequence counter. Odd means a write is
// in progress; a reader that captured s before a batch of reads commits the
// batch only if the counter is unchanged and even, otherwise it re-drives.
func (s *Store) Sequence() uint64 {
	return s.seq.Load()
}

// Params returns the network parameters the store was opened with.
func (s *Store) Params() *consensus.Params { return s.params }

func (s *Store) beginWrite() error {
	if s.corrupted.Load() {
		return chain.NewError(chain.ErrStoreCorrupted, "store is corrupted, writes refused")
	}
	s.seq.Add(1) // now odd
	return nil
}

func (s *Store) endWrite(err error) error {
	s.seq.Add(1) // even again
	if err != nil && chain.ErrorIs(err, chain.ErrStoreCorrupted) {
		s.corrupted.Store(true)
		s.log.Error("store corrupted, refusing further writes", zap.Error(err))
	}
	return err
}

// SchemaVersion reads the stored schema version.
func (s *Store) SchemaVersion() (uint64, error) {
	var v uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		v = decodeU64(tx.Bucket(bucketMetadata).Get([]byte(schemaVersionKey)))
		return nil
	})
	return v, err
}
