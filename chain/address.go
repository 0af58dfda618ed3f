package chain

import (
	"github.com/btcsuite/btcd/btcutil/base58"
)

// Address version bytes for Base58Check payment addresses.
const (
	MainnetP2KHVersion byte = 0x32
	MainnetP2SHVersion byte = 0x05
	TestnetP2KHVersion byte = 0x7f
	TestnetP2SHVersion byte = 0xc4
)

// BlackholeAddress is the burn sentinel used as the DID registry anchor and
// the destination of destroyed certs.
const BlackholeAddress = "1111111111111111111114oLvT2"

// EncodeAddress renders a Base58Check address from a version byte and hash.
func EncodeAddress(version byte, hash ShortHash) string {
	return base58.CheckEncode(hash[:], version)
}

// DecodeAddress parses a Base58Check address back into version and hash.
func DecodeAddress(addr string) (byte, ShortHash, error) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return 0, ShortHash{}, Errorf(ErrAddressMismatch, "bad address %q: %v", addr, err)
	}
	if len(payload) != ShortHashSize {
		return 0, ShortHash{}, Errorf(ErrAddressMismatch, "bad address payload length %d", len(payload))
	}
	var h ShortHash
	copy(h[:], payload)
	return version, h, nil
}

// IsValidAddress reports whether addr parses as a payment address.
func IsValidAddress(addr string) bool {
	_, _, err := DecodeAddress(addr)
	return err == nil
}
