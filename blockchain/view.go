package blockchain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/store"
)

// UtxoView is the state a connecting block's transactions validate against:
// the committed chain at the parent plus the earlier transactions of the
// block itself.
type UtxoView struct {
	store  *store.Store
	height uint64

	pendingTxs    map[chainhash.Hash]*chain.Transaction
	pendingSpends map[chain.OutputPoint]struct{}
}

// NewUtxoView starts a view for a block connecting at height.
func NewUtxoView(s *store.Store, height uint64) *UtxoView {
	return &UtxoView{
		store:         s,
		height:        height,
		pendingTxs:    make(map[chainhash.Hash]*chain.Transaction),
		pendingSpends: make(map[chain.OutputPoint]struct{}),
	}
}

// Height returns the connecting block's height.
func (v *UtxoView) Height() uint64 { return v.height }

// AddTransaction makes an earlier in-block transaction spendable and marks
// its inputs consumed.
func (v *UtxoView) AddTransaction(tx *chain.Transaction) {
	v.pendingTxs[tx.Hash()] = tx
	for i := range tx.Inputs {
		if !tx.Inputs[i].PreviousOutput.IsNull() {
			v.pendingSpends[tx.Inputs[i].PreviousOutput] = struct{}{}
		}
	}
}

// FetchOutput resolves an unspent previous output, returning the output and
// the height it was confirmed at (the connecting height for in-block
// outputs).
func (v *UtxoView) FetchOutput(point chain.OutputPoint) (*chain.Output, uint64, error) {
	if _, spent := v.pendingSpends[point]; spent {
		return nil, 0, chain.Errorf(chain.ErrDoubleSpend,
			"output %s:%d spent earlier in block", point.Hash, point.Index)
	}
	if tx, ok := v.pendingTxs[point.Hash]; ok {
		if int(point.Index) >= len(tx.Outputs) {
			return nil, 0, chain.Errorf(chain.ErrDoubleSpend,
				"output index %d out of range for %s", point.Index, point.Hash)
		}
		out := tx.Outputs[point.Index]
		return &out, v.height, nil
	}

	tx, rec, ok, err := v.store.GetTransaction(point.Hash)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, chain.Errorf(chain.ErrDoubleSpend,
			"previous output %s:%d unknown", point.Hash, point.Index)
	}
	if int(point.Index) >= len(tx.Outputs) {
		return nil, 0, chain.Errorf(chain.ErrDoubleSpend,
			"output index %d out of range for %s", point.Index, point.Hash)
	}
	if _, spent, err := v.store.GetSpend(point); err != nil {
		return nil, 0, err
	} else if spent {
		return nil, 0, chain.Errorf(chain.ErrDoubleSpend,
			"output %s:%d already spent", point.Hash, point.Index)
	}
	out := tx.Outputs[point.Index]
	return &out, rec.Height, nil
}
