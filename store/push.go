package store

import (
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
	"github.com/mvs-org/metaverse-go/script"
)

// PushBlock appends a block to the main chain: the block must extend the
// current tip (or be the genesis of an empty store). All table writes happen
// in one atomic batch; the recorded undo makes PopBlock its exact inverse.
func (s *Store) PushBlock(b *chain.Block) error {
	if err := s.beginWrite(); err != nil {
		return err
	}
	err := s.db.Update(func(btx *bolt.Tx) error {
		return s.pushBlockIn(btx, b)
	})
	if err == nil {
		s.log.Debug("block pushed",
			zap.Uint32("height", b.Header.Number),
			zap.String("hash", b.Hash().String()))
	}
	return s.endWrite(err)
}

func (s *Store) pushBlockIn(btx *bolt.Tx, b *chain.Block) error {
	blockHash := b.Hash()
	meta := btx.Bucket(bucketMetadata)

	var height uint64
	work := consensus.WorkFromBits(b.Header.Bits)
	if rawTip := meta.Get([]byte(tipKey)); rawTip != nil {
		tip, err := decodeTipRecord(rawTip)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "tip record: %v", err)
		}
		if b.Header.Previous != tip.Hash {
			return chain.Errorf(chain.ErrOrphanBlock,
				"block %s does not extend tip %s", blockHash, tip.Hash)
		}
		height = tip.Height + 1
		work.Add(work, tip.Work)
	} else {
		if b.Header.Previous != chain.NullHash {
			return chain.NewError(chain.ErrOrphanBlock, "first block must be genesis")
		}
		height = 0
	}
	if uint64(b.Header.Number) != height {
		return chain.Errorf(chain.ErrStoreCorrupted,
			"header number %d != chain height %d", b.Header.Number, height)
	}

	bw := &blockWriter{tx: btx}

	// 1. Block record and height index.
	if err := bw.put(bucketBlocks, blockHash[:], encodeBlockMeta(BlockMeta{
		Header:    b.Header,
		BlockSig:  b.BlockSig,
		PublicKey: b.PublicKey,
		Work:      work,
		TxHashes:  b.TxHashes(),
	})); err != nil {
		return err
	}
	if err := bw.put(bucketBlockIndex, heightKey(height), blockHash[:]); err != nil {
		return err
	}

	// 2. Transactions with their spend, history and attachment effects.
	var rowCounter uint32
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		txHash := tx.Hash()
		if btx.Bucket(bucketTransactions).Get(txHash[:]) != nil {
			return chain.Errorf(chain.ErrDuplicateTx, "transaction %s already stored", txHash)
		}
		if err := bw.put(bucketTransactions, txHash[:], encodeTxRecord(TxRecord{
			Height: height,
			Index:  uint32(i),
			Raw:    tx.Serialize(),
		})); err != nil {
			return err
		}

		for j := range tx.Inputs {
			in := &tx.Inputs[j]
			if in.PreviousOutput.IsNull() {
				continue
			}
			if err := s.pushSpend(bw, in, txHash, uint32(j), height, &rowCounter); err != nil {
				return err
			}
		}
		for j := range tx.Outputs {
			if err := s.pushOutput(bw, tx, txHash, uint32(j), height, &rowCounter); err != nil {
				return err
			}
		}
	}

	// 3. Witness profile for DPoS blocks.
	if b.Header.IsProofOfDPoS() && len(b.Transactions) > 0 {
		if err := s.pushWitnessProfile(bw, b, height); err != nil {
			return err
		}
	}

	// 4. Tip advance, then the undo record (itself exempt from undo).
	if err := bw.put(bucketMetadata, []byte(tipKey), encodeTipRecord(TipRecord{
		Hash:   blockHash,
		Height: height,
		Work:   work,
	})); err != nil {
		return err
	}
	return btx.Bucket(bucketUndo).Put(blockHash[:], encodeUndo(bw.undo))
}

// pushSpend marks a previous output spent and records the spend history row
// against the previous output's address.
func (s *Store) pushSpend(bw *blockWriter, in *chain.Input, txHash [32]byte, inIndex uint32, height uint64, rowCounter *uint32) error {
	spendKey := outPointKey(in.PreviousOutput)
	if bw.tx.Bucket(bucketSpends).Get(spendKey) != nil {
		return chain.Errorf(chain.ErrDoubleSpend, "output %s:%d already spent",
			in.PreviousOutput.Hash, in.PreviousOutput.Index)
	}
	inPoint := chain.OutputPoint{Hash: txHash, Index: inIndex}
	if err := bw.put(bucketSpends, spendKey, outPointKey(inPoint)); err != nil {
		return err
	}

	prevOut, err := s.lookupOutput(bw.tx, in.PreviousOutput)
	if err != nil {
		return err
	}
	address := s.scriptAddress(prevOut.Script)
	if address != "" {
		*rowCounter++
		row := HistoryRow{Kind: HistoryKindSpend, Point: inPoint, Height: height, Value: prevOut.Value}
		if err := bw.put(bucketHistory,
			rowKey(addressKey(address), height, *rowCounter), encodeHistoryRow(row)); err != nil {
			return err
		}
		// Asset balance returns to zero for the spent quantity.
		if amount := prevOut.AssetAmount(); amount > 0 {
			if err := s.adjustAddressAsset(bw, address, prevOut.AssetSymbol(), -int64(amount)); err != nil {
				return err
			}
		}
	}
	return nil
}

// pushOutput records the output history row and dispatches the attachment
// into its registry tables.
func (s *Store) pushOutput(bw *blockWriter, tx *chain.Transaction, txHash [32]byte, outIndex uint32, height uint64, rowCounter *uint32) error {
	out := &tx.Outputs[outIndex]
	point := chain.OutputPoint{Hash: txHash, Index: outIndex}
	address := s.scriptAddress(out.Script)

	if address != "" {
		*rowCounter++
		row := HistoryRow{Kind: HistoryKindOutput, Point: point, Height: height, Value: out.Value}
		if err := bw.put(bucketHistory,
			rowKey(addressKey(address), height, *rowCounter), encodeHistoryRow(row)); err != nil {
			return err
		}
	} else if len(out.Script) > 0 {
		// Non-standard script: index by stealth prefix.
		*rowCounter++
		digest := chain.Sha256d(out.Script)
		if err := bw.put(bucketStealthRows,
			rowKey(digest[:4], height, *rowCounter),
			encodeStealthRow(StealthRow{TxHash: txHash, Index: outIndex, Height: height})); err != nil {
			return err
		}
	}

	switch {
	case out.IsAsset():
		return s.pushAsset(bw, out, address, height, txHash)
	case out.IsCert():
		return s.pushCert(bw, out, height, txHash)
	case out.IsDid():
		return s.pushDid(bw, out, height, txHash)
	case out.IsMit():
		return s.pushMit(bw, out, height, txHash, rowCounter)
	}
	return nil
}

func (s *Store) pushAsset(bw *blockWriter, out *chain.Output, address string, height uint64, txHash [32]byte) error {
	asset := out.AssetPayload()
	symbol := asset.Symbol()
	switch asset.Status {
	case chain.AssetStatusDetail:
		detail := *asset.Detail
		key := []byte(symbol)
		existing := bw.tx.Bucket(bucketAssets).Get(key)
		if detail.IsSecondaryIssue() {
			if existing == nil {
				return chain.Errorf(chain.ErrDuplicateAsset,
					"secondary issue of unknown asset %s", symbol)
			}
			rec, err := decodeAssetRecord(existing)
			if err != nil {
				return chain.Errorf(chain.ErrStoreCorrupted, "asset record %s: %v", symbol, err)
			}
			rec.Supply += detail.MaxSupply
			rec.Height = height
			rec.TxHash = txHash
			if err := bw.put(bucketAssets, key, encodeAssetRecord(rec)); err != nil {
				return err
			}
		} else {
			if existing != nil {
				return chain.Errorf(chain.ErrDuplicateAsset, "asset %s already issued", symbol)
			}
			if err := bw.put(bucketAssets, key, encodeAssetRecord(AssetRecord{
				Detail: detail,
				Supply: detail.MaxSupply,
				Height: height,
				TxHash: txHash,
			})); err != nil {
				return err
			}
		}
	case chain.AssetStatusTransfer:
		// Registry untouched; only the address balance moves.
	}
	if address != "" {
		return s.adjustAddressAsset(bw, address, symbol, int64(asset.Quantity()))
	}
	return nil
}

func (s *Store) pushCert(bw *blockWriter, out *chain.Output, height uint64, txHash [32]byte) error {
	cert := out.CertPayload()
	key := []byte(cert.Key())
	if cert.Status == chain.CertStatusIssue || cert.Status == chain.CertStatusAutoIssue {
		if bw.tx.Bucket(bucketCerts).Get(key) != nil {
			return chain.Errorf(chain.ErrDuplicateCert, "cert %s already exists", cert.Key())
		}
	}
	record := encodeCertRecord(CertRecord{Cert: *cert, Height: height, TxHash: txHash})
	if err := bw.put(bucketCerts, key, record); err != nil {
		return err
	}
	if cert.Type == chain.CertWitness {
		return bw.put(bucketWitnessCerts, key, record)
	}
	return nil
}

func (s *Store) pushDid(bw *blockWriter, out *chain.Output, height uint64, txHash [32]byte) error {
	did := out.DidPayload()
	key := []byte(did.Symbol)
	existing := bw.tx.Bucket(bucketDids).Get(key)
	switch did.Status {
	case chain.DidStatusRegister:
		if existing != nil {
			return chain.Errorf(chain.ErrDuplicateDid, "did %s already registered", did.Symbol)
		}
	case chain.DidStatusTransfer:
		if existing == nil {
			return chain.Errorf(chain.ErrDuplicateDid, "transfer of unknown did %s", did.Symbol)
		}
		prev, err := decodeDidRecord(existing)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "did record %s: %v", did.Symbol, err)
		}
		if err := bw.delete(bucketAddressDids, addressKey(prev.Did.Address)); err != nil {
			return err
		}
	}
	if err := bw.put(bucketDids, key, encodeDidRecord(DidRecord{
		Did: *did, Height: height, TxHash: txHash,
	})); err != nil {
		return err
	}
	if err := bw.put(bucketAddressDids, addressKey(did.Address), []byte(did.Symbol)); err != nil {
		return err
	}
	// History rows are keyed by a per-symbol sequence so order survives.
	seq := s.nextHistorySeq(bw.tx, bucketDidHistory, key)
	return bw.put(bucketDidHistory, rowKey(key, height, seq),
		encodeDidHistoryRow(DidHistoryRow{Address: did.Address, Height: height, TxHash: txHash}))
}

func (s *Store) pushMit(bw *blockWriter, out *chain.Output, height uint64, txHash [32]byte, rowCounter *uint32) error {
	mit := out.MitPayload()
	key := []byte(mit.Symbol)
	existing := bw.tx.Bucket(bucketMits).Get(key)
	switch {
	case mit.IsRegister():
		if existing != nil {
			return chain.Errorf(chain.ErrDuplicateAsset, "mit %s already registered", mit.Symbol)
		}
	case mit.IsTransfer():
		if existing == nil {
			return chain.Errorf(chain.ErrDuplicateAsset, "transfer of unknown mit %s", mit.Symbol)
		}
		prev, err := decodeMitRecord(existing)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "mit record %s: %v", mit.Symbol, err)
		}
		if err := bw.delete(bucketAddressMits, pairKey(prev.Mit.Address, mit.Symbol)); err != nil {
			return err
		}
	}
	// The latest record keeps the register's content; a transfer stores the
	// short form with the new address.
	stored := *mit
	if mit.IsRegister() {
		if err := bw.put(bucketMits, key, encodeMitRecord(MitRecord{
			Mit: stored, Height: height, TxHash: txHash,
		})); err != nil {
			return err
		}
	} else {
		prev, err := decodeMitRecord(existing)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "mit record %s: %v", mit.Symbol, err)
		}
		next := prev.Mit
		next.Address = mit.Address
		next.SetStatus(chain.MitStatusRegister)
		if err := bw.put(bucketMits, key, encodeMitRecord(MitRecord{
			Mit: next, Height: height, TxHash: txHash,
		})); err != nil {
			return err
		}
	}
	if err := bw.put(bucketAddressMits, pairKey(mit.Address, mit.Symbol), []byte{1}); err != nil {
		return err
	}
	seq := s.nextHistorySeq(bw.tx, bucketMitHistory, key)
	return bw.put(bucketMitHistory, rowKey(key, height, seq), encodeMitHistoryRow(MitHistoryRow{
		Status: mit.Status(), Address: mit.Address, Height: height, TxHash: txHash,
	}))
}

func (s *Store) pushWitnessProfile(bw *blockWriter, b *chain.Block, height uint64) error {
	coinbase := &b.Transactions[0]
	if len(coinbase.Outputs) == 0 {
		return nil
	}
	address := s.scriptAddress(coinbase.Outputs[0].Script)
	if address == "" {
		return nil
	}
	key := addressKey(address)
	profile := WitnessProfile{Address: address, Epoch: consensus.EpochOfHeight(height)}
	if raw := bw.tx.Bucket(bucketWitnessProfiles).Get(key); raw != nil {
		prev, err := decodeWitnessProfile(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "witness profile %s: %v", address, err)
		}
		profile.BlocksSigned = prev.BlocksSigned
	}
	profile.BlocksSigned++
	profile.LastHeight = height
	return bw.put(bucketWitnessProfiles, key, encodeWitnessProfile(profile))
}

// adjustAddressAsset moves an address's balance of symbol by delta.
func (s *Store) adjustAddressAsset(bw *blockWriter, address, symbol string, delta int64) error {
	if symbol == "" || delta == 0 {
		return nil
	}
	key := pairKey(address, symbol)
	balance := int64(decodeU64(bw.tx.Bucket(bucketAddressAssets).Get(key)))
	balance += delta
	if balance < 0 {
		return chain.Errorf(chain.ErrStoreCorrupted,
			"asset balance of %s for %s would go negative", symbol, address)
	}
	if balance == 0 {
		return bw.delete(bucketAddressAssets, key)
	}
	return bw.put(bucketAddressAssets, key, encodeU64(uint64(balance)))
}

// nextHistorySeq numbers history rows per symbol across blocks.
func (s *Store) nextHistorySeq(btx *bolt.Tx, bucket, symbol []byte) uint32 {
	c := btx.Bucket(bucket).Cursor()
	var count uint32
	for k, _ := c.Seek(symbol); k != nil && hasPrefix(k, symbol, 12); k, _ = c.Next() {
		count++
	}
	return count
}

// lookupOutput loads a previous output from the transaction table.
func (s *Store) lookupOutput(btx *bolt.Tx, point chain.OutputPoint) (*chain.Output, error) {
	raw := btx.Bucket(bucketTransactions).Get(point.Hash[:])
	if raw == nil {
		return nil, chain.Errorf(chain.ErrDoubleSpend, "previous transaction %s unknown", point.Hash)
	}
	rec, err := decodeTxRecord(raw)
	if err != nil {
		return nil, chain.Errorf(chain.ErrStoreCorrupted, "tx record %s: %v", point.Hash, err)
	}
	tx, err := chain.DecodeTransaction(rec.Raw)
	if err != nil {
		return nil, chain.Errorf(chain.ErrStoreCorrupted, "tx bytes %s: %v", point.Hash, err)
	}
	if int(point.Index) >= len(tx.Outputs) {
		return nil, chain.Errorf(chain.ErrDoubleSpend,
			"output index %d out of range for %s", point.Index, point.Hash)
	}
	return &tx.Outputs[point.Index], nil
}

func (s *Store) scriptAddress(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return script.ExtractAddress(raw, s.params.P2KHVersion, s.params.P2SHVersion)
}

// hasPrefix reports whether key is prefix plus a fixed-width suffix.
func hasPrefix(key, prefix []byte, suffixLen int) bool {
	if len(key) != len(prefix)+suffixLen {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
