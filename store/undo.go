package store

import (
	bolt "go.etcd.io/bbolt"

	"github.com/mvs-org/metaverse-go/chain"
)

// undoEntry remembers one key's state before a push mutated it. Replaying
// entries in reverse restores the store byte-exactly; this symmetry is the
// reorg correctness argument.
type undoEntry struct {
	bucket  []byte
	key     []byte
	prev    []byte
	hadPrev bool
}

// blockWriter wraps a bbolt transaction and records an undo entry ahead of
// every mutation, in push order.
type blockWriter struct {
	tx   *bolt.Tx
	undo []undoEntry
}

func (bw *blockWriter) put(bucket, key, value []byte) error {
	b := bw.tx.Bucket(bucket)
	prev := b.Get(key)
	e := undoEntry{bucket: bucket, key: append([]byte(nil), key...)}
	if prev != nil {
		e.prev = append([]byte(nil), prev...)
		e.hadPrev = true
	}
	bw.undo = append(bw.undo, e)
	return b.Put(key, value)
}

func (bw *blockWriter) delete(bucket, key []byte) error {
	b := bw.tx.Bucket(bucket)
	prev := b.Get(key)
	e := undoEntry{bucket: bucket, key: append([]byte(nil), key...)}
	if prev != nil {
		e.prev = append([]byte(nil), prev...)
		e.hadPrev = true
	}
	bw.undo = append(bw.undo, e)
	return b.Delete(key)
}

func encodeUndo(entries []undoEntry) []byte {
	w := chain.NewWriter()
	w.WriteVarint(uint64(len(entries)))
	for _, e := range entries {
		w.WriteString(string(e.bucket))
		w.WriteVarint(uint64(len(e.key)))
		w.WriteBytes(e.key)
		if e.hadPrev {
			w.WriteU8(1)
			w.WriteVarint(uint64(len(e.prev)))
			w.WriteBytes(e.prev)
		} else {
			w.WriteU8(0)
		}
	}
	return w.Bytes()
}

func decodeUndo(b []byte) ([]undoEntry, error) {
	cur := chain.NewCursor(b)
	count, err := cur.ReadVarint()
	if err != nil {
		return nil, err
	}
	entries := make([]undoEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		bucket, err := cur.ReadString("undo_bucket")
		if err != nil {
			return nil, err
		}
		kn, err := cur.ReadVarLen("undo_key")
		if err != nil {
			return nil, err
		}
		key, err := cur.ReadBytes(kn)
		if err != nil {
			return nil, err
		}
		flag, err := cur.ReadU8()
		if err != nil {
			return nil, err
		}
		e := undoEntry{bucket: []byte(bucket), key: key}
		if flag == 1 {
			pn, err := cur.ReadVarLen("undo_prev")
			if err != nil {
				return nil, err
			}
			if e.prev, err = cur.ReadBytes(pn); err != nil {
				return nil, err
			}
			e.hadPrev = true
		}
		entries = append(entries, e)
	}
	if !cur.Exhausted() {
		return nil, chain.NewError(chain.ErrStoreCorrupted, "trailing bytes in undo record")
	}
	return entries, nil
}

// applyUndo replays entries in exact reverse push order.
func applyUndo(tx *bolt.Tx, entries []undoEntry) error {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		b := tx.Bucket(e.bucket)
		if b == nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "undo names unknown bucket %s", e.bucket)
		}
		if e.hadPrev {
			if err := b.Put(e.key, e.prev); err != nil {
				return err
			}
		} else {
			if err := b.Delete(e.key); err != nil {
				return err
			}
		}
	}
	return nil
}
