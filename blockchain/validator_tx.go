package blockchain

import (
	"math"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
	"github.com/mvs-org/metaverse-go/script"
	"github.com/mvs-org/metaverse-go/store"
)

// TxValidator performs the structural and contextual transaction checks.
type TxValidator struct {
	params *consensus.Params
	store  *store.Store
}

func NewTxValidator(params *consensus.Params, s *store.Store) *TxValidator {
	return &TxValidator{params: params, store: s}
}

// CheckStateless verifies everything decidable from the transaction alone.
// inBlock relaxes the size cap to the block limit.
func (tv *TxValidator) CheckStateless(tx *chain.Transaction, inBlock bool) error {
	if len(tx.Inputs) == 0 {
		return chain.NewError(chain.ErrCoinbaseMisshape, "transaction has no inputs")
	}
	if len(tx.Outputs) == 0 {
		return chain.NewError(chain.ErrCoinbaseMisshape, "transaction has no outputs")
	}
	if tx.HasDuplicateInputs() {
		return chain.NewError(chain.ErrDoubleSpend, "duplicate inputs within transaction")
	}

	sizeCap := chain.MaxTxSerializedSize
	if inBlock {
		sizeCap = chain.MaxBlockSerializedSize
	}
	if size := tx.SerializedSize(); size > sizeCap {
		return chain.Errorf(chain.ErrCoinbaseMisshape, "transaction size %d exceeds %d", size, sizeCap)
	}

	var total uint64
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if out.Value > math.MaxInt64 {
			return chain.NewError(chain.ErrCoinbaseMisshape, "output value above cap")
		}
		total += out.Value
		if total > math.MaxInt64 {
			return chain.NewError(chain.ErrCoinbaseMisshape, "total output value above cap")
		}
		if len(out.Script) > script.MaxScriptSize {
			return chain.Errorf(chain.ErrInvalidScript, "output script size %d", len(out.Script))
		}
		if !out.IsNull() && !out.Attachment.IsValid() {
			return chain.Errorf(chain.ErrAttachmentInvalid, "output %d attachment invalid", i)
		}
	}
	for i := range tx.Inputs {
		if len(tx.Inputs[i].Script) > script.MaxScriptSize {
			return chain.Errorf(chain.ErrInvalidScript, "input script size %d", len(tx.Inputs[i].Script))
		}
	}

	if tx.IsCoinbase() {
		n := len(tx.Inputs[0].Script)
		if n < 2 || n > 100 {
			return chain.Errorf(chain.ErrCoinbaseMisshape, "coinbase script size %d", n)
		}
	} else {
		for i := range tx.Inputs {
			if tx.Inputs[i].PreviousOutput.IsNull() {
				return chain.Errorf(chain.ErrCoinbaseMisshape, "null previous output on input %d", i)
			}
		}
	}
	return nil
}

// prevOutInfo pairs a spent output with its confirmation height.
type prevOutInfo struct {
	out    *chain.Output
	height uint64
}

// CheckConnected validates a non-coinbase transaction against the view at
// its connecting block: existence and unspentness, script execution, fees,
// attachment semantics, and locktime.
func (tv *TxValidator) CheckConnected(tx *chain.Transaction, view *UtxoView, medianTime uint32) error {
	if tx.IsCoinbase() {
		return nil
	}
	height := view.Height()

	prevouts := make([]prevOutInfo, len(tx.Inputs))
	var inputValue uint64
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		out, outHeight, err := view.FetchOutput(in.PreviousOutput)
		if err != nil {
			return err
		}
		prevouts[i] = prevOutInfo{out: out, height: outHeight}
		inputValue += out.Value

		ctx := &script.Context{
			Tx:            tx,
			InputIndex:    i,
			PrevoutHeight: outHeight,
			SpendHeight:   height,
			Flags:         script.FlagVerifyLocks | script.FlagP2SH,
		}
		if err := script.Evaluate(in.Script, out.Script, ctx); err != nil {
			return err
		}
		// Coinbase outputs mature before they can be spent.
		if outHeight > 0 {
			if spent, _, ok, err := tv.originIsCoinbase(view, in.PreviousOutput); err != nil {
				return err
			} else if ok && spent && height < outHeight+tv.params.CoinbaseMaturity {
				return chain.Errorf(chain.ErrCoinbaseMisshape,
					"coinbase output spent at %d before maturity %d", height, outHeight+tv.params.CoinbaseMaturity)
			}
		}
	}

	outputValue := tx.TotalOutputValue()
	var fee uint64
	if tx.IsCoinstake() {
		// The stake reward mints value here; the block validator bounds it.
	} else {
		if inputValue < outputValue {
			return chain.Errorf(chain.ErrInsufficientFee,
				"inputs %d below outputs %d", inputValue, outputValue)
		}
		fee = inputValue - outputValue
		if fee < consensus.MinTxFee {
			return chain.Errorf(chain.ErrInsufficientFee, "fee %d below minimum %d", fee, consensus.MinTxFee)
		}
	}

	if !tx.IsFinal(height, medianTime) {
		return chain.NewError(chain.ErrBadTimestamp, "locktime not satisfied")
	}

	if err := tv.checkAttachments(tx, prevouts, fee, height); err != nil {
		return err
	}
	return tv.checkAttenuation(tx, prevouts, height)
}

// originIsCoinbase reports whether a previous output was created by a
// coinbase or coinstake transaction.
func (tv *TxValidator) originIsCoinbase(view *UtxoView, point chain.OutputPoint) (bool, uint64, bool, error) {
	origin, rec, ok, err := tv.store.GetTransaction(point.Hash)
	if err != nil || !ok {
		return false, 0, false, err
	}
	return origin.IsCoinbase() || origin.IsCoinstake(), rec.Height, true, nil
}

// inputSide aggregates what the spent outputs carry.
type inputSide struct {
	addresses map[string]bool
	assets    map[string]uint64
	certs     map[string]*chain.AssetCert
	dids      map[string]*chain.Did
	mits      map[string]*chain.AssetMit
	etpValue  uint64
}

func (tv *TxValidator) gatherInputSide(prevouts []prevOutInfo) inputSide {
	side := inputSide{
		addresses: map[string]bool{},
		assets:    map[string]uint64{},
		certs:     map[string]*chain.AssetCert{},
		dids:      map[string]*chain.Did{},
		mits:      map[string]*chain.AssetMit{},
	}
	for _, p := range prevouts {
		out := p.out
		if addr := tv.scriptAddress(out.Script); addr != "" {
			side.addresses[addr] = true
		}
		side.etpValue += out.Value
		switch {
		case out.IsAsset():
			side.assets[out.AssetSymbol()] += out.AssetAmount()
		case out.IsCert():
			c := out.CertPayload()
			side.certs[c.Key()] = c
		case out.IsDid():
			d := out.DidPayload()
			side.dids[d.Symbol] = d
		case out.IsMit():
			m := out.MitPayload()
			side.mits[m.Symbol] = m
		}
	}
	return side
}

// checkAttachments enforces the asset, certificate, DID and MIT semantics
// over the whole transaction.
func (tv *TxValidator) checkAttachments(tx *chain.Transaction, prevouts []prevOutInfo, fee uint64, height uint64) error {
	side := tv.gatherInputSide(prevouts)
	outAssets := map[string]uint64{}
	issuedHere := map[string]bool{}

	for i := range tx.Outputs {
		out := &tx.Outputs[i]

		// I7: every address-bearing attachment must match the script.
		if want := out.AttachmentAddress(); want != "" {
			if got := tv.scriptAddress(out.Script); got != want {
				return chain.Errorf(chain.ErrAddressMismatch,
					"output %d attachment address %s != script address %s", i, want, got)
			}
		}
		if err := tv.checkDidBinding(out, side); err != nil {
			return err
		}

		switch {
		case out.IsAssetIssue():
			if err := tv.checkAssetIssue(tx, out, side, fee); err != nil {
				return err
			}
			issuedHere[out.AssetSymbol()] = true
		case out.IsAssetSecondaryIssue():
			if err := tv.checkSecondaryIssue(out, side, fee); err != nil {
				return err
			}
			outAssets[out.AssetSymbol()] += out.AssetAmount()
		case out.IsAssetTransfer():
			outAssets[out.AssetSymbol()] += out.AssetAmount()
		case out.IsCert():
			if err := tv.checkCert(out, side); err != nil {
				return err
			}
		case out.IsDid():
			if err := tv.checkDid(out, side); err != nil {
				return err
			}
		case out.IsMit():
			if err := tv.checkMit(out, side); err != nil {
				return err
			}
		}
	}

	// I3: per symbol, transferred out <= carried in (issues add supply).
	for symbol, outQty := range outAssets {
		inQty := side.assets[symbol]
		if issuedHere[symbol] {
			continue
		}
		if secondary, ok := tv.secondaryIssuedQuantity(tx, symbol); ok {
			inQty += secondary
		}
		if outQty > inQty {
			return chain.Errorf(chain.ErrAttachmentInvalid,
				"asset %s outputs %d exceed inputs %d", symbol, outQty, inQty)
		}
	}
	return nil
}

func (tv *TxValidator) secondaryIssuedQuantity(tx *chain.Transaction, symbol string) (uint64, bool) {
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if out.IsAssetSecondaryIssue() && out.AssetSymbol() == symbol {
			return out.AssetAmount(), true
		}
	}
	return 0, false
}

func (tv *TxValidator) checkAssetIssue(tx *chain.Transaction, out *chain.Output, side inputSide, fee uint64) error {
	detail := out.AssetPayload().Detail
	if !chain.AssetSymbolPattern.MatchString(detail.Symbol) {
		return chain.Errorf(chain.ErrAttachmentInvalid, "asset symbol %q malformed", detail.Symbol)
	}
	if !chain.IsSecondaryIssueThresholdOk(detail.SecondaryThreshold()) {
		return chain.Errorf(chain.ErrAttachmentInvalid,
			"secondary threshold %d not representable", detail.SecondaryThreshold())
	}
	if exists, err := tv.store.IsAssetExist(detail.Symbol); err != nil {
		return err
	} else if exists {
		return chain.Errorf(chain.ErrDuplicateAsset, "asset %s already registered", detail.Symbol)
	}
	if err := tv.checkIssueFee(tx, fee); err != nil {
		return err
	}
	return tv.checkDomainCert(tx, detail, side)
}

// checkIssueFee applies the two fee paths of an issuance: a flat minimum, or
// the percentage split when the transaction routes a share to the foundation.
func (tv *TxValidator) checkIssueFee(tx *chain.Transaction, fee uint64) error {
	if fee < consensus.MinFeeToIssueAsset {
		return chain.Errorf(chain.ErrInsufficientFee,
			"issue fee %d below minimum %d", fee, consensus.MinFeeToIssueAsset)
	}
	var foundationValue uint64
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if tv.scriptAddress(out.Script) == tv.params.FoundationAddress {
			foundationValue += out.Value
		}
	}
	if foundationValue > 0 {
		minerShare := fee * consensus.IssueFeePercentToMiner / 100
		if foundationValue < fee-minerShare {
			return chain.Errorf(chain.ErrInsufficientFee,
				"foundation share %d below required %d", foundationValue, fee-minerShare)
		}
	}
	return nil
}

// checkDomainCert requires the issuer to own the symbol's domain cert, or to
// auto-issue it in this transaction when the domain is fresh.
func (tv *TxValidator) checkDomainCert(tx *chain.Transaction, detail *chain.AssetDetail, side inputSide) error {
	domain := chain.DomainOfSymbol(detail.Symbol)
	rec, exists, err := tv.store.GetCert(domain, chain.CertDomain)
	if err != nil {
		return err
	}
	if exists {
		if !side.addresses[rec.Cert.Address] {
			return chain.Errorf(chain.ErrDuplicateCert,
				"domain cert %s owned by %s, not spent by issuer", domain, rec.Cert.Address)
		}
		return nil
	}
	// Fresh domain: the transaction must mint the domain cert to the issuer.
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if out.IsCertAutoIssue() {
			c := out.CertPayload()
			if c.Type == chain.CertDomain && c.Symbol == domain && c.Address == detail.Address {
				return nil
			}
		}
	}
	return chain.Errorf(chain.ErrDuplicateCert,
		"issuing %s requires auto-issued domain cert %s", detail.Symbol, domain)
}

func (tv *TxValidator) checkSecondaryIssue(out *chain.Output, side inputSide, fee uint64) error {
	detail := out.AssetPayload().Detail
	rec, exists, err := tv.store.GetIssuedAsset(detail.Symbol)
	if err != nil {
		return err
	}
	if !exists {
		return chain.Errorf(chain.ErrDuplicateAsset,
			"secondary issue of unregistered asset %s", detail.Symbol)
	}
	threshold := rec.Detail.SecondaryThreshold()
	if !chain.IsSecondaryIssueLegal(threshold) {
		return chain.Errorf(chain.ErrAttachmentInvalid,
			"asset %s forbids secondary issue", detail.Symbol)
	}
	if fee < consensus.MinFeeToIssueAsset {
		return chain.Errorf(chain.ErrInsufficientFee,
			"secondary issue fee %d below minimum %d", fee, consensus.MinFeeToIssueAsset)
	}
	if threshold != chain.SecondaryIssueFreely {
		balance, err := tv.store.GetAddressAssetBalance(detail.Address, detail.Symbol)
		if err != nil {
			return err
		}
		if !chain.IsSecondaryIssueOwnsEnough(balance, rec.Supply, threshold) {
			return chain.Errorf(chain.ErrAttachmentInvalid,
				"issuer holds %d of %d, below threshold %d%%", balance, rec.Supply, threshold)
		}
	}
	return nil
}

func (tv *TxValidator) checkCert(out *chain.Output, side inputSide) error {
	cert := out.CertPayload()
	switch cert.Status {
	case chain.CertStatusIssue, chain.CertStatusAutoIssue:
		if _, exists, err := tv.store.GetCert(cert.Symbol, cert.Type); err != nil {
			return err
		} else if exists {
			return chain.Errorf(chain.ErrDuplicateCert, "cert %s already exists", cert.Key())
		}
		// A naming cert descends from its domain cert.
		if cert.Type == chain.CertNaming && cert.Status == chain.CertStatusIssue {
			domain := chain.DomainOfSymbol(cert.Symbol)
			rec, exists, err := tv.store.GetCert(domain, chain.CertDomain)
			if err != nil {
				return err
			}
			if !exists || !side.addresses[rec.Cert.Address] {
				return chain.Errorf(chain.ErrDuplicateCert,
					"naming cert %s requires owned domain cert %s", cert.Symbol, domain)
			}
		}
	case chain.CertStatusTransfer:
		// I5: a transfer continues the issue->transfer chain on the input side.
		if side.certs[cert.Key()] == nil {
			return chain.Errorf(chain.ErrDuplicateCert,
				"cert transfer %s without spending prior cert", cert.Key())
		}
	default:
		return chain.Errorf(chain.ErrAttachmentInvalid, "cert %s bad status %d", cert.Key(), cert.Status)
	}
	return nil
}

func (tv *TxValidator) checkDid(out *chain.Output, side inputSide) error {
	did := out.DidPayload()
	switch did.Status {
	case chain.DidStatusRegister:
		// I4: chain-wide unique symbol, one DID per address.
		if _, exists, err := tv.store.GetDid(did.Symbol); err != nil {
			return err
		} else if exists {
			return chain.Errorf(chain.ErrDuplicateDid, "did %s already registered", did.Symbol)
		}
		bound, err := tv.store.GetDidFromAddress(did.Address)
		if err != nil {
			return err
		}
		if bound != "" {
			return chain.Errorf(chain.ErrDuplicateDid,
				"address %s already bound to did %s", did.Address, bound)
		}
	case chain.DidStatusTransfer:
		if side.dids[did.Symbol] == nil {
			return chain.Errorf(chain.ErrDuplicateDid,
				"did transfer %s without spending prior did output", did.Symbol)
		}
		bound, err := tv.store.GetDidFromAddress(did.Address)
		if err != nil {
			return err
		}
		if bound != "" && bound != did.Symbol {
			return chain.Errorf(chain.ErrDuplicateDid,
				"target address %s already bound to did %s", did.Address, bound)
		}
	}
	return nil
}

func (tv *TxValidator) checkMit(out *chain.Output, side inputSide) error {
	mit := out.MitPayload()
	switch {
	case mit.IsRegister():
		// I6: register once.
		if _, exists, err := tv.store.GetRegisteredMit(mit.Symbol); err != nil {
			return err
		} else if exists {
			return chain.Errorf(chain.ErrDuplicateAsset, "mit %s already registered", mit.Symbol)
		}
	case mit.IsTransfer():
		if side.mits[mit.Symbol] == nil {
			return chain.Errorf(chain.ErrDuplicateAsset,
				"mit transfer %s without spending prior mit output", mit.Symbol)
		}
		if mit.Content != "" {
			return chain.Errorf(chain.ErrAttachmentInvalid, "mit transfer %s carries content", mit.Symbol)
		}
	default:
		return chain.Errorf(chain.ErrAttachmentInvalid, "mit %s bad status %d", mit.Symbol, mit.Status())
	}
	return nil
}

// checkDidBinding verifies the optional from/to DID fields against the
// registry: ToDid must be the DID of the output's address, FromDid a DID on
// the input side.
func (tv *TxValidator) checkDidBinding(out *chain.Output, side inputSide) error {
	if !out.Attachment.HasDidBinding() {
		return nil
	}
	if out.Attachment.ToDid != "" {
		addr := tv.scriptAddress(out.Script)
		rec, exists, err := tv.store.GetDid(out.Attachment.ToDid)
		if err != nil {
			return err
		}
		if !exists || rec.Did.Address != addr {
			return chain.Errorf(chain.ErrAddressMismatch,
				"to_did %s not bound to output address %s", out.Attachment.ToDid, addr)
		}
	}
	if out.Attachment.FromDid != "" {
		rec, exists, err := tv.store.GetDid(out.Attachment.FromDid)
		if err != nil {
			return err
		}
		if !exists || !side.addresses[rec.Did.Address] {
			return chain.Errorf(chain.ErrAddressMismatch,
				"from_did %s not bound to an input address", out.Attachment.FromDid)
		}
	}
	return nil
}

// checkAttenuation enforces the attenuation model on every spent attenuated
// output: the new output must carry the elapsed model and keep the locked
// quantity.
func (tv *TxValidator) checkAttenuation(tx *chain.Transaction, prevouts []prevOutInfo, height uint64) error {
	for i := range tx.Inputs {
		prev := prevouts[i]
		prevOps, err := script.Parse(prev.out.Script)
		if err != nil {
			continue
		}
		prevParam, _, ok := script.AttenuationModelParam(prevOps)
		if !ok {
			continue
		}
		model, err := script.ParseAttenuationModel(prevParam)
		if err != nil {
			return err
		}
		elapsed := height - prev.height
		next, _ := model.Elapse(elapsed)
		if next.LockedRemaining() == 0 {
			continue // fully unlocked, spend freely
		}

		prevAddr := tv.scriptAddress(prev.out.Script)
		symbol := prev.out.AssetSymbol()
		found := false
		for j := range tx.Outputs {
			out := &tx.Outputs[j]
			if out.AssetSymbol() != symbol || tv.scriptAddress(out.Script) != prevAddr {
				continue
			}
			ops, err := script.Parse(out.Script)
			if err != nil {
				continue
			}
			newParam, _, ok := script.AttenuationModelParam(ops)
			if !ok {
				continue
			}
			if err := script.CheckAttenuationTransfer(prevParam, newParam, elapsed, out.AssetAmount()); err != nil {
				return err
			}
			found = true
			break
		}
		if !found {
			return chain.Errorf(chain.ErrInvalidScript,
				"spending attenuated asset %s without continuation output", symbol)
		}
	}
	return nil
}

func (tv *TxValidator) scriptAddress(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return script.ExtractAddress(raw, tv.params.P2KHVersion, tv.params.P2SHVersion)
}

// Fee computes the miner fee of a transaction against a view.
func (tv *TxValidator) Fee(tx *chain.Transaction, view *UtxoView) (uint64, error) {
	if tx.IsCoinbase() {
		return 0, nil
	}
	var in uint64
	for i := range tx.Inputs {
		out, _, err := view.FetchOutput(tx.Inputs[i].PreviousOutput)
		if err != nil {
			return 0, err
		}
		in += out.Value
	}
	out := tx.TotalOutputValue()
	if in < out {
		return 0, chain.NewError(chain.ErrInsufficientFee, "outputs exceed inputs")
	}
	return in - out, nil
}
