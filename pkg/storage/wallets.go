package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/stablezap/stablezap/pkg/wallet"
)

// WalletRow is the directory entry of a user. Either wallet may be absent.
type WalletRow struct {
	UserID       string `gorm:"type:varchar(128);primaryKey"`
	Address      string `gorm:"type:varchar(42)"`
	SmartAddress string `gorm:"type:varchar(42)"`
	SmartOwner   string `gorm:"type:varchar(42)"`
	InitCode     []byte
	Deployed     bool
}

// TableName overrides the gorm default
func (WalletRow) TableName() string { return "user_wallets" }

// KeystoreSigners resolves signers from an encrypted go-ethereum keystore
type KeystoreSigners struct {
	ks         *keystore.KeyStore
	passphrase string
	chainID    *big.Int
}

// NewKeystoreSigners opens the keystore in dir
func NewKeystoreSigners(dir, passphrase string, chainID *big.Int) *KeystoreSigners {
	return NewKeystoreSignersWithParams(dir, passphrase, chainID, keystore.StandardScryptN, keystore.StandardScryptP)
}

// NewKeystoreSignersWithParams opens the keystore with explicit scrypt parameters
func NewKeystoreSignersWithParams(dir, passphrase string, chainID *big.Int, scryptN, scryptP int) *KeystoreSigners {
	return &KeystoreSigners{
		ks:         keystore.NewKeyStore(dir, scryptN, scryptP),
		passphrase: passphrase,
		chainID:    chainID,
	}
}

// Keystore returns the underlying keystore
func (k *KeystoreSigners) Keystore() *keystore.KeyStore {
	return k.ks
}

// Transactor returns transaction options signing as address
func (k *KeystoreSigners) Transactor(address common.Address) (*bind.TransactOpts, error) {
	account, err := k.ks.Find(accounts.Account{Address: address})
	if err != nil {
		return nil, fmt.Errorf("no key for %s: %w", address.Hex(), err)
	}
	if err := k.ks.Unlock(account, k.passphrase); err != nil {
		return nil, fmt.Errorf("failed to unlock %s: %w", address.Hex(), err)
	}
	return bind.NewKeyStoreTransactorWithChainID(k.ks, account, k.chainID)
}

// HashSigner returns a signer for the smart account owner
func (k *KeystoreSigners) HashSigner(owner common.Address) (wallet.HashSigner, error) {
	account, err := k.ks.Find(accounts.Account{Address: owner})
	if err != nil {
		return nil, fmt.Errorf("no key for %s: %w", owner.Hex(), err)
	}
	return &keystoreHashSigner{ks: k.ks, account: account, passphrase: k.passphrase}, nil
}

type keystoreHashSigner struct {
	ks         *keystore.KeyStore
	account    accounts.Account
	passphrase string
}

func (s *keystoreHashSigner) SignHash(hash []byte) ([]byte, error) {
	return s.ks.SignHashWithPassphrase(s.account, s.passphrase, hash)
}

// WalletDirectory is the wallet.Store backed by the user_wallets table
type WalletDirectory struct {
	db      *gorm.DB
	signers *KeystoreSigners
}

// NewWalletDirectory creates a directory on db
func NewWalletDirectory(db *gorm.DB, signers *KeystoreSigners) *WalletDirectory {
	return &WalletDirectory{db: db, signers: signers}
}

// Migrate creates or updates the directory table
func (d *WalletDirectory) Migrate() error {
	return d.db.AutoMigrate(&WalletRow{})
}

func (d *WalletDirectory) row(ctx context.Context, userID string) (*WalletRow, error) {
	var row WalletRow
	err := d.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetWallet returns the EOA of userID, nil when absent
func (d *WalletDirectory) GetWallet(ctx context.Context, userID string) (*wallet.EOA, error) {
	row, err := d.row(ctx, userID)
	if err != nil || row == nil {
		return nil, err
	}
	return eoaFromRow(row, d.signers)
}

// GetSmartWallet returns the smart account of userID, nil when absent
func (d *WalletDirectory) GetSmartWallet(ctx context.Context, userID string) (*wallet.SmartAccount, error) {
	row, err := d.row(ctx, userID)
	if err != nil || row == nil {
		return nil, err
	}
	return smartFromRow(row, d.signers)
}

func eoaFromRow(row *WalletRow, signers *KeystoreSigners) (*wallet.EOA, error) {
	if !common.IsHexAddress(row.Address) {
		return nil, nil
	}
	address := common.HexToAddress(row.Address)
	opts, err := signers.Transactor(address)
	if err != nil {
		return nil, err
	}
	return &wallet.EOA{Address: address, Opts: opts}, nil
}

func smartFromRow(row *WalletRow, signers *KeystoreSigners) (*wallet.SmartAccount, error) {
	if !common.IsHexAddress(row.SmartAddress) || !common.IsHexAddress(row.SmartOwner) {
		return nil, nil
	}
	owner := common.HexToAddress(row.SmartOwner)
	signer, err := signers.HashSigner(owner)
	if err != nil {
		return nil, err
	}
	return &wallet.SmartAccount{
		Address:  common.HexToAddress(row.SmartAddress),
		Owner:    owner,
		InitCode: row.InitCode,
		Deployed: row.Deployed,
		Signer:   signer,
	}, nil
}
