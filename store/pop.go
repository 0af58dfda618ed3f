package store

import (
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mvs-org/metaverse-go/chain"
)

// PopBlock removes the tip block, replaying its undo record in exact reverse
// push order, and returns the removed block. Blocks can only leave the store
// this way; individual entries are never deleted.
func (s *Store) PopBlock() (*chain.Block, error) {
	if err := s.beginWrite(); err != nil {
		return nil, err
	}
	var popped *chain.Block
	err := s.db.Update(func(btx *bolt.Tx) error {
		meta := btx.Bucket(bucketMetadata)
		rawTip := meta.Get([]byte(tipKey))
		if rawTip == nil {
			return chain.NewError(chain.ErrStoreCorrupted, "pop on empty store")
		}
		tip, err := decodeTipRecord(rawTip)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "tip record: %v", err)
		}

		block, err := s.loadBlockIn(btx, tip.Hash)
		if err != nil {
			return err
		}

		rawUndo := btx.Bucket(bucketUndo).Get(tip.Hash[:])
		if rawUndo == nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "no undo record for tip %s", tip.Hash)
		}
		entries, err := decodeUndo(rawUndo)
		if err != nil {
			return err
		}
		if err := applyUndo(btx, entries); err != nil {
			return err
		}
		if err := btx.Bucket(bucketUndo).Delete(tip.Hash[:]); err != nil {
			return err
		}
		popped = block
		return nil
	})
	if err != nil {
		return nil, s.endWrite(err)
	}
	s.log.Debug("block popped",
		zap.Uint32("height", popped.Header.Number),
		zap.String("hash", popped.Hash().String()))
	return popped, s.endWrite(nil)
}

// loadBlockIn rebuilds a stored block from its meta record and transaction
// table rows.
func (s *Store) loadBlockIn(btx *bolt.Tx, hash [32]byte) (*chain.Block, error) {
	raw := btx.Bucket(bucketBlocks).Get(hash[:])
	if raw == nil {
		return nil, chain.Errorf(chain.ErrStoreCorrupted, "block %x not stored", hash)
	}
	meta, err := decodeBlockMeta(raw)
	if err != nil {
		return nil, chain.Errorf(chain.ErrStoreCorrupted, "block meta %x: %v", hash, err)
	}
	block := &chain.Block{Header: meta.Header, BlockSig: meta.BlockSig, PublicKey: meta.PublicKey}
	for _, txHash := range meta.TxHashes {
		rawTx := btx.Bucket(bucketTransactions).Get(txHash[:])
		if rawTx == nil {
			return nil, chain.Errorf(chain.ErrStoreCorrupted, "transaction %s missing", txHash)
		}
		rec, err := decodeTxRecord(rawTx)
		if err != nil {
			return nil, chain.Errorf(chain.ErrStoreCorrupted, "tx record %s: %v", txHash, err)
		}
		tx, err := chain.DecodeTransaction(rec.Raw)
		if err != nil {
			return nil, chain.Errorf(chain.ErrStoreCorrupted, "tx bytes %s: %v", txHash, err)
		}
		block.Transactions = append(block.Transactions, *tx)
	}
	return block, nil
}
