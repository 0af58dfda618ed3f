package store

import (
	bolt "go.etcd.io/bbolt"

	"github.com/mvs-org/metaverse-go/chain"
)

// Account is the wallet-side account metadata record. The store keeps it
// opaque apart from the name; key material stays encrypted by the wallet
// layer.
type Account struct {
	Name      string
	Encrypted []byte
	Priority  uint32
}

func encodeAccount(a Account) []byte {
	w := chain.NewWriter()
	w.WriteString(a.Name)
	w.WriteVarint(uint64(len(a.Encrypted)))
	w.WriteBytes(a.Encrypted)
	w.WriteU32(a.Priority)
	return w.Bytes()
}

func decodeAccount(b []byte) (Account, error) {
	cur := chain.NewCursor(b)
	var a Account
	var err error
	if a.Name, err = cur.ReadString("account_name"); err != nil {
		return Account{}, err
	}
	n, err := cur.ReadVarLen("account_blob")
	if err != nil {
		return Account{}, err
	}
	if a.Encrypted, err = cur.ReadBytes(n); err != nil {
		return Account{}, err
	}
	if a.Priority, err = cur.ReadU32(); err != nil {
		return Account{}, err
	}
	return a, nil
}

// PutAccount stores or replaces an account record.
func (s *Store) PutAccount(a Account) error {
	if err := s.beginWrite(); err != nil {
		return err
	}
	err := s.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketAccounts).Put([]byte(a.Name), encodeAccount(a))
	})
	return s.endWrite(err)
}

// GetAccount loads an account record by name.
func (s *Store) GetAccount(name string) (Account, bool, error) {
	var a Account
	var ok bool
	err := s.db.View(func(btx *bolt.Tx) error {
		raw := btx.Bucket(bucketAccounts).Get([]byte(name))
		if raw == nil {
			return nil
		}
		acc, err := decodeAccount(raw)
		if err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "account record %s: %v", name, err)
		}
		a, ok = acc, true
		return nil
	})
	return a, ok, err
}

// DeleteAccount removes an account and its attached address/asset/DID rows.
func (s *Store) DeleteAccount(name string) error {
	if err := s.beginWrite(); err != nil {
		return err
	}
	err := s.db.Update(func(btx *bolt.Tx) error {
		if err := btx.Bucket(bucketAccounts).Delete([]byte(name)); err != nil {
			return err
		}
		for _, bucket := range [][]byte{bucketAccountAddrs, bucketAccountAssets, bucketAccountDids} {
			if err := deleteByAccountPrefix(btx, bucket, name); err != nil {
				return err
			}
		}
		return nil
	})
	return s.endWrite(err)
}

// AddAccountAddress attaches an address to an account.
func (s *Store) AddAccountAddress(account, address string) error {
	return s.putAccountRow(bucketAccountAddrs, account, address)
}

// AddAccountAsset attaches an asset symbol to an account.
func (s *Store) AddAccountAsset(account, symbol string) error {
	return s.putAccountRow(bucketAccountAssets, account, symbol)
}

// AddAccountDid attaches a DID symbol to an account.
func (s *Store) AddAccountDid(account, symbol string) error {
	return s.putAccountRow(bucketAccountDids, account, symbol)
}

// AccountAddresses lists the addresses attached to an account.
func (s *Store) AccountAddresses(account string) ([]string, error) {
	return s.listAccountRows(bucketAccountAddrs, account)
}

// AccountAssets lists the asset symbols attached to an account.
func (s *Store) AccountAssets(account string) ([]string, error) {
	return s.listAccountRows(bucketAccountAssets, account)
}

// AccountDids lists the DID symbols attached to an account.
func (s *Store) AccountDids(account string) ([]string, error) {
	return s.listAccountRows(bucketAccountDids, account)
}

func (s *Store) putAccountRow(bucket []byte, account, value string) error {
	if err := s.beginWrite(); err != nil {
		return err
	}
	err := s.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(bucket).Put(pairKey(account, value), []byte{1})
	})
	return s.endWrite(err)
}

func (s *Store) listAccountRows(bucket []byte, account string) ([]string, error) {
	var out []string
	prefix := append([]byte(account), 0)
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(bucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && len(k) > len(prefix) && string(k[:len(prefix)]) == string(prefix); k, _ = c.Next() {
			out = append(out, string(k[len(prefix):]))
		}
		return nil
	})
	return out, err
}

func deleteByAccountPrefix(btx *bolt.Tx, bucket []byte, account string) error {
	prefix := append([]byte(account), 0)
	c := btx.Bucket(bucket).Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && len(k) > len(prefix) && string(k[:len(prefix)]) == string(prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := btx.Bucket(bucket).Delete(k); err != nil {
			return err
		}
	}
	return nil
}
