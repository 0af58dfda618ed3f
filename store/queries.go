package store

import (
	bolt "go.etcd.io/bbolt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mvs-org/metaverse-go/chain"
)

// Tip returns the current main-chain tip record.
func (s *Store) Tip() (TipRecord, bool, error) {
	var tip TipRecord
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketMetadata).Get([]byte(tipKey))
		if raw == nil {
			return nil
		}
		t, err := decodeTipRecord(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "tip record: %v", err)
		}
		tip, ok = t, true
		return nil
	})
	return tip, ok, err
}

// LastHeight returns the tip height; ok is false on an empty store.
func (s *Store) LastHeight() (uint64, bool, error) {
	tip, ok, err := s.Tip()
	return tip.Height, ok, err
}

// BlockHashAtHeight resolves the main-chain block hash at a height.
func (s *Store) BlockHashAtHeight(height uint64) (chainhash.Hash, bool, error) {
	var hash chainhash.Hash
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketBlockIndex).Get(heightKey(height))
		if raw == nil {
			return nil
		}
		copy(hash[:], raw)
		ok = true
		return nil
	})
	return hash, ok, err
}

// GetBlock loads a full block by hash.
func (s *Store) GetBlock(hash chainhash.Hash) (*chain.Block, bool, error) {
	var block *chain.Block
	err := s.db.View(func(btx *bolt.Tx) error {
		if btx.Bucket(bucketBlocks).Get(hash[:]) == nil {
			return nil
		}
		b, err := s.loadBlockIn(btx, hash)
		if err != nil {
			return err
		}
		block = b
		return nil
	})
	if err != nil || block == nil {
		return nil, false, err
	}
	return block, true, nil
}

// GetBlockMeta loads the block record (header, work, tx hashes) by hash.
func (s *Store) GetBlockMeta(hash chainhash.Hash) (BlockMeta, bool, error) {
	var meta BlockMeta
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketBlocks).Get(hash[:])
		if raw == nil {
			return nil
		}
		m, err := decodeBlockMeta(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "block meta %s: %v", hash, err)
		}
		meta, ok = m, true
		return nil
	})
	return meta, ok, err
}

// GetHeaderAtHeight loads the main-chain header at a height.
func (s *Store) GetHeaderAtHeight(height uint64) (*chain.Header, bool, error) {
	hash, ok, err := s.BlockHashAtHeight(height)
	if err != nil || !ok {
		return nil, false, err
	}
	meta, ok, err := s.GetBlockMeta(hash)
	if err != nil || !ok {
		return nil, false, err
	}
	h := meta.Header
	return &h, true, nil
}

// GetTransaction loads a confirmed transaction with its location.
func (s *Store) GetTransaction(hash chainhash.Hash) (*chain.Transaction, TxRecord, bool, error) {
	var rec TxRecord
	var tx *chain.Transaction
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketTransactions).Get(hash[:])
		if raw == nil {
			return nil
		}
		r, err := decodeTxRecord(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "tx record %s: %v", hash, err)
		}
		t, err := chain.DecodeTransaction(r.Raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "tx bytes %s: %v", hash, err)
		}
		rec, tx = r, t
		return nil
	})
	if err != nil || tx == nil {
		return nil, TxRecord{}, false, err
	}
	return tx, rec, true, nil
}

// GetSpend returns the input point that spent an output, if any.
func (s *Store) GetSpend(point chain.OutputPoint) (chain.OutputPoint, bool, error) {
	var in chain.OutputPoint
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketSpends).Get(outPointKey(point))
		if raw == nil {
			return nil
		}
		p, err := decodeOutPoint(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "spend row: %v", err)
		}
		in, ok = p, true
		return nil
	})
	return in, ok, err
}

// IsUnspent reports whether an output exists in the chain and has no spend.
func (s *Store) IsUnspent(point chain.OutputPoint) (bool, error) {
	var unspent bool
	err := s.db.View(func(btx *bolt.Tx) error {
		if btx.Bucket(bucketTransactions).Get(point.Hash[:]) == nil {
			return nil
		}
		unspent = btx.Bucket(bucketSpends).Get(outPointKey(point)) == nil
		return nil
	})
	return unspent, err
}

// FetchHistory returns every history row of an address in push order.
func (s *Store) FetchHistory(address string) ([]HistoryRow, error) {
	var rows []HistoryRow
	prefix := addressKey(address)
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(bucketHistory).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix, 12); k, v = c.Next() {
			row, err := decodeHistoryRow(v)
			if err != nil {
				return chain.Errorf(chain.ErrStoreCorrupted, "history row: %v", err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

// FetchStealth returns the rows under a 4-byte stealth prefix.
func (s *Store) FetchStealth(prefix [4]byte) ([]StealthRow, error) {
	var rows []StealthRow
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(bucketStealthRows).Cursor()
		for k, v := c.Seek(prefix[:]); k != nil && hasPrefix(k, prefix[:], 12); k, v = c.Next() {
			row, err := decodeStealthRow(v)
			if err != nil {
				return chain.Errorf(chain.ErrStoreCorrupted, "stealth row: %v", err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

// IsAssetExist reports whether symbol is registered.
func (s *Store) IsAssetExist(symbol string) (bool, error) {
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		ok = btx.Bucket(bucketAssets).Get([]byte(symbol)) != nil
		return nil
	})
	return ok, err
}

// GetIssuedAsset returns the registry record of an issued asset.
func (s *Store) GetIssuedAsset(symbol string) (AssetRecord, bool, error) {
	var rec AssetRecord
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketAssets).Get([]byte(symbol))
		if raw == nil {
			return nil
		}
		r, err := decodeAssetRecord(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "asset record %s: %v", symbol, err)
		}
		rec, ok = r, true
		return nil
	})
	return rec, ok, err
}

// GetAddressAssetBalance returns an address's balance of symbol.
func (s *Store) GetAddressAssetBalance(address, symbol string) (uint64, error) {
	var balance uint64
	err := s.db.View(func(btx *bolt.Tx) error {
		balance = decodeU64(btx.Bucket(bucketAddressAssets).Get(pairKey(address, symbol)))
		return nil
	})
	return balance, err
}

// GetCert returns a certificate registry record by symbol and type.
func (s *Store) GetCert(symbol string, typ chain.CertType) (CertRecord, bool, error) {
	var rec CertRecord
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketCerts).Get([]byte(chain.CertKey(symbol, typ)))
		if raw == nil {
			return nil
		}
		r, err := decodeCertRecord(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "cert record: %v", err)
		}
		rec, ok = r, true
		return nil
	})
	return rec, ok, err
}

// ListWitnessCerts returns every witness certificate record.
func (s *Store) ListWitnessCerts() ([]CertRecord, error) {
	var out []CertRecord
	err := s.db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketWitnessCerts).ForEach(func(_, v []byte) error {
			r, err := decodeCertRecord(v)
			if err != nil {
				return chain.Errorf(chain.ErrStoreCorrupted, "witness cert record: %v", err)
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

// GetDid returns the current registry record of a DID symbol.
func (s *Store) GetDid(symbol string) (DidRecord, bool, error) {
	var rec DidRecord
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketDids).Get([]byte(symbol))
		if raw == nil {
			return nil
		}
		r, err := decodeDidRecord(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "did record %s: %v", symbol, err)
		}
		rec, ok = r, true
		return nil
	})
	return rec, ok, err
}

// GetDidFromAddress returns the DID symbol currently bound to an address,
// empty when none is.
func (s *Store) GetDidFromAddress(address string) (string, error) {
	var symbol string
	err := s.db.View(func(btx *bolt.Tx) error {
		if raw := btx.Bucket(bucketAddressDids).Get(addressKey(address)); raw != nil {
			symbol = string(raw)
		}
		return nil
	})
	return symbol, err
}

// GetDidHistoryAddresses returns the addresses a DID has been bound to, in
// event order.
func (s *Store) GetDidHistoryAddresses(symbol string) ([]string, error) {
	var out []string
	prefix := []byte(symbol)
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(bucketDidHistory).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix, 12); k, v = c.Next() {
			row, err := decodeDidHistoryRow(v)
			if err != nil {
				return chain.Errorf(chain.ErrStoreCorrupted, "did history row: %v", err)
			}
			out = append(out, row.Address)
		}
		return nil
	})
	return out, err
}

// GetRegisteredMit returns the latest state of a MIT symbol.
func (s *Store) GetRegisteredMit(symbol string) (MitRecord, bool, error) {
	var rec MitRecord
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketMits).Get([]byte(symbol))
		if raw == nil {
			return nil
		}
		r, err := decodeMitRecord(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "mit record %s: %v", symbol, err)
		}
		rec, ok = r, true
		return nil
	})
	return rec, ok, err
}

// GetMitHistory returns every register/transfer event of a MIT in order.
func (s *Store) GetMitHistory(symbol string) ([]MitHistoryRow, error) {
	var out []MitHistoryRow
	prefix := []byte(symbol)
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(bucketMitHistory).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix, 12); k, v = c.Next() {
			row, err := decodeMitHistoryRow(v)
			if err != nil {
				return chain.Errorf(chain.ErrStoreCorrupted, "mit history row: %v", err)
			}
			out = append(out, row)
		}
		return nil
	})
	return out, err
}

// GetAddressMits lists the MIT symbols currently held by an address.
func (s *Store) GetAddressMits(address string) ([]string, error) {
	var out []string
	prefix := append(addressKey(address), 0)
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(bucketAddressMits).Cursor()
		for k, _ := c.Seek(prefix); k != nil && len(k) > len(prefix) && string(k[:len(prefix)]) == string(prefix); k, _ = c.Next() {
			out = append(out, string(k[len(prefix):]))
		}
		return nil
	})
	return out, err
}

// GetWitnessProfile returns a witness address's accumulated profile.
func (s *Store) GetWitnessProfile(address string) (WitnessProfile, bool, error) {
	var p WitnessProfile
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketWitnessProfiles).Get(addressKey(address))
		if raw == nil {
			return nil
		}
		prof, err := decodeWitnessProfile(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "witness profile: %v", err)
		}
		p, ok = prof, true
		return nil
	})
	return p, ok, err
}

// MedianTimestamps returns the timestamps of the count blocks at and below
// height, newest first.
func (s *Store) MedianTimestamps(height uint64, count int) ([]uint32, error) {
	var out []uint32
	for i := 0; i < count; i++ {
		h := height - uint64(i)
		header, ok, err := s.GetHeaderAtHeight(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, header.Timestamp)
		if h == 0 {
			break
		}
	}
	return out, nil
}
