package bank

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Storage abstracts the subset of state manager functionality required by the
// token ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVKeys(prefix []byte) ([][]byte, error)
}

var (
	assetPrefix   = []byte("bank/asset/")
	accountPrefix = []byte("bank/account/")
)

var (
	ErrAssetNotFound     = errors.New("bank: asset not found")
	ErrAssetExists       = errors.New("bank: asset already exists")
	ErrAccountNotFound   = errors.New("bank: account not found")
	ErrAccountExists     = errors.New("bank: account already exists")
	ErrAssetMismatch     = errors.New("bank: asset mismatch")
	ErrOwnerMismatch     = errors.New("bank: authority mismatch")
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrSupplyOverflow    = errors.New("bank: balance overflow")
)

// Asset describes a fungible token tracked by the ledger.
type Asset struct {
	ID            string
	Decimals      uint16
	MintAuthority [20]byte
	Supply        uint64
}

// Account is a single-asset balance owned by an address.
type Account struct {
	ID      string
	Owner   [20]byte
	Asset   string
	Balance uint64
}

// Ledger stores assets and accounts in the shared key-value state. Every
// method writes through the supplied storage so callers control atomicity.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

func assetKey(id string) []byte {
	return append(append([]byte(nil), assetPrefix...), []byte(id)...)
}

func accountKey(id string) []byte {
	return append(append([]byte(nil), accountPrefix...), []byte(id)...)
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}

// CreateAsset registers a new asset with the supplied issuance authority.
func (l *Ledger) CreateAsset(id string, decimals uint16, authority [20]byte) (*Asset, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: ledger not initialised")
	}
	id = normalizeID(id)
	if id == "" {
		return nil, fmt.Errorf("bank: asset id required")
	}
	ok, err := l.store.KVGet(assetKey(id), nil)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetExists, id)
	}
	asset := &Asset{ID: id, Decimals: decimals, MintAuthority: authority}
	if err := l.store.KVPut(assetKey(id), asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// Asset loads the asset definition.
func (l *Ledger) Asset(id string) (*Asset, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: ledger not initialised")
	}
	id = normalizeID(id)
	asset := new(Asset)
	ok, err := l.store.KVGet(assetKey(id), asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return asset, nil
}

// OpenAccount creates an empty account for owner. A random identifier is
// assigned when id is empty.
func (l *Ledger) OpenAccount(id string, owner [20]byte, asset string) (*Account, error) {
	if _, err := l.Asset(asset); err != nil {
		return nil, err
	}
	id = normalizeID(id)
	if id == "" {
		id = uuid.NewString()
	}
	ok, err := l.store.KVGet(accountKey(id), nil)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, id)
	}
	account := &Account{ID: id, Owner: owner, Asset: normalizeID(asset)}
	if err := l.store.KVPut(accountKey(id), account); err != nil {
		return nil, err
	}
	return account, nil
}

// Account loads an account by identifier.
func (l *Ledger) Account(id string) (*Account, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: ledger not initialised")
	}
	id = normalizeID(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrAccountNotFound)
	}
	account := new(Account)
	ok, err := l.store.KVGet(accountKey(id), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return account, nil
}

// AccountsByOwner lists every account held by owner in key order.
func (l *Ledger) AccountsByOwner(owner [20]byte) ([]*Account, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("bank: ledger not initialised")
	}
	keys, err := l.store.KVKeys(accountPrefix)
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0)
	for _, key := range keys {
		account := new(Account)
		ok, err := l.store.KVGet(key, account)
		if err != nil {
			return nil, err
		}
		if ok && account.Owner == owner {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

// Transfer moves amount between two accounts of the same asset. The source
// account must be owned by authority.
func (l *Ledger) Transfer(authority [20]byte, from, to string, amount uint64) error {
	src, err := l.Account(from)
	if err != nil {
		return err
	}
	dst, err := l.Account(to)
	if err != nil {
		return err
	}
	if src.Owner != authority {
		return fmt.Errorf("%w: account %s", ErrOwnerMismatch, src.ID)
	}
	if src.Asset != dst.Asset {
		return fmt.Errorf("%w: %s -> %s", ErrAssetMismatch, src.Asset, dst.Asset)
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: account %s holds %d, need %d", ErrInsufficientFunds, src.ID, src.Balance, amount)
	}
	if src.ID == dst.ID || amount == 0 {
		return nil
	}
	if dst.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: account %s", ErrSupplyOverflow, dst.ID)
	}
	src.Balance -= amount
	dst.Balance += amount
	if err := l.store.KVPut(accountKey(src.ID), src); err != nil {
		return err
	}
	return l.store.KVPut(accountKey(dst.ID), dst)
}

// MintTo issues amount new units into the destination account. The caller
// must hold the asset's issuance authority.
func (l *Ledger) MintTo(authority [20]byte, to string, amount uint64) error {
	dst, err := l.Account(to)
	if err != nil {
		return err
	}
	asset, err := l.Asset(dst.Asset)
	if err != nil {
		return err
	}
	if asset.MintAuthority != authority {
		return fmt.Errorf("%w: asset %s", ErrOwnerMismatch, asset.ID)
	}
	if asset.Supply > math.MaxUint64-amount || dst.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: asset %s", ErrSupplyOverflow, asset.ID)
	}
	asset.Supply += amount
	dst.Balance += amount
	if err := l.store.KVPut(assetKey(asset.ID), asset); err != nil {
		return err
	}
	return l.store.KVPut(accountKey(dst.ID), dst)
}

// Burn destroys amount units held by the source account, which must be owned
// by authority.
func (l *Ledger) Burn(authority [20]byte, from string, amount uint64) error {
	src, err := l.Account(from)
	if err != nil {
		return err
	}
	if src.Owner != authority {
		return fmt.Errorf("%w: account %s", ErrOwnerMismatch, src.ID)
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: account %s holds %d, need %d", ErrInsufficientFunds, src.ID, src.Balance, amount)
	}
	asset, err := l.Asset(src.Asset)
	if err != nil {
		return err
	}
	src.Balance -= amount
	if asset.Supply < amount {
		asset.Supply = 0
	} else {
		asset.Supply -= amount
	}
	if err := l.store.KVPut(assetKey(asset.ID), asset); err != nil {
		return err
	}
	return l.store.KVPut(accountKey(src.ID), src)
}

// SetMintAuthority hands issuance of asset from current to next.
func (l *Ledger) SetMintAuthority(current [20]byte, asset string, next [20]byte) error {
	record, err := l.Asset(asset)
	if err != nil {
		return err
	}
	if record.MintAuthority != current {
		return fmt.Errorf("%w: asset %s", ErrOwnerMismatch, record.ID)
	}
	record.MintAuthority = next
	return l.store.KVPut(assetKey(record.ID), record)
}
