package storage

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablezap/stablezap/pkg/models"
	"github.com/stablezap/stablezap/pkg/testutil"
)

type pendingStore interface {
	Save(ctx context.Context, p *models.PendingIntent, ttl time.Duration) error
	Get(ctx context.Context, userID string) (*models.PendingIntent, error)
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]*models.PendingIntent, error)
}

func pending(userID, amount string) *models.PendingIntent {
	now := time.Now()
	return &models.PendingIntent{
		Intent:         models.NewIntent(models.KindDeposit, userID, "aave", amount),
		Required:       testutil.USDC(25),
		Shortage:       testutil.USDC(10),
		WalletKind:     models.WalletSmartAccount,
		DepositAddress: common.HexToAddress("0x1234"),
		Token:          common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		CapturedAt:     now,
		ExpiresAt:      now.Add(models.PendingIntentTTL),
	}
}

func TestPendingStores(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stores := map[string]pendingStore{
		"memory": NewMemoryPendingStore(),
		"redis":  NewRedisPendingStore(client),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			missing, err := store.Get(ctx, "nobody")
			require.NoError(t, err)
			assert.Nil(t, missing)

			first := pending("alice", "25")
			require.NoError(t, store.Save(ctx, first, time.Minute))

			got, err := store.Get(ctx, "alice")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, first.Intent.ID, got.Intent.ID)
			testutil.AssertBigIntEqual(t, testutil.USDC(10), got.Shortage)
			testutil.AssertBigIntEqual(t, testutil.USDC(25), got.Required)
			assert.True(t, first.ExpiresAt.Equal(got.ExpiresAt))

			// Mutating the returned copy does not touch the stored record
			got.Shortage.SetInt64(1)
			again, err := store.Get(ctx, "alice")
			require.NoError(t, err)
			testutil.AssertBigIntEqual(t, testutil.USDC(10), again.Shortage)

			second := pending("alice", "40")
			require.NoError(t, store.Save(ctx, second, time.Minute))
			got, err = store.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, second.Intent.ID, got.Intent.ID, "a new capture supersedes the old one")

			require.NoError(t, store.Save(ctx, pending("bob", "5"), time.Minute))
			all, err := store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			require.NoError(t, store.Delete(ctx, "alice"))
			got, err = store.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Nil(t, got)

			require.NoError(t, store.Save(ctx, pending("bob", "5"), 0))
			got, err = store.Get(ctx, "bob")
			require.NoError(t, err)
			assert.Nil(t, got, "a non-positive ttl removes the record")
		})
	}
}

func TestRedisPendingStoreExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisPendingStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, pending("carol", "25"), models.PendingIntentTTL))
	assert.Equal(t, models.PendingIntentTTL, mr.TTL(pendingKeyPrefix+"carol"))

	mr.FastForward(models.PendingIntentTTL)
	got, err := store.Get(ctx, "carol")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Ping(ctx))
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = client.Close()

	_, err = ConnectRedis(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestLedgerRows(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tx := transactionRow(models.TransactionRecord{
		IntentID:   "intent-1",
		UserID:     "alice",
		Kind:       models.KindWithdraw,
		Target:     "compound",
		Amount:     decimal.RequireFromString("123.456789"),
		Path:       "gasless",
		Wallet:     "0xabc",
		Success:    true,
		TxHash:     "0xhash",
		UserOpHash: "0xop",
		GasUsed:    21000,
		CreatedAt:  created,
	})
	assert.Equal(t, "withdraw", tx.Kind)
	assert.Equal(t, "0xhash", tx.TxHash)
	assert.Equal(t, "0xop", tx.UserOpHash)
	assert.Equal(t, "123.456789", tx.Amount.String())
	assert.Equal(t, created, tx.CreatedAt)
	assert.Equal(t, "transactions", tx.TableName())

	pos := positionRow(models.PositionRecord{UserID: "alice", Protocol: "aave", Delta: decimal.NewFromInt(-5)})
	assert.False(t, pos.CreatedAt.IsZero())
	assert.Equal(t, "-5", pos.Delta.String())
	assert.Equal(t, "positions", pos.TableName())
}

func newSigners(t *testing.T) (*KeystoreSigners, common.Address) {
	signers := NewKeystoreSignersWithParams(t.TempDir(), "secret", testutil.TestChainID, keystore.LightScryptN, keystore.LightScryptP)
	account, err := signers.Keystore().NewAccount("secret")
	require.NoError(t, err)
	return signers, account.Address
}

func TestKeystoreSigners(t *testing.T) {
	signers, address := newSigners(t)

	t.Run("Transactor", func(t *testing.T) {
		opts, err := signers.Transactor(address)
		require.NoError(t, err)
		assert.Equal(t, address, opts.From)

		tx := types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1), To: &address, Value: big.NewInt(0)})
		signed, err := opts.Signer(address, tx)
		require.NoError(t, err)
		sender, err := types.Sender(types.LatestSignerForChainID(testutil.TestChainID), signed)
		require.NoError(t, err)
		assert.Equal(t, address, sender)
	})

	t.Run("HashSigner", func(t *testing.T) {
		signer, err := signers.HashSigner(address)
		require.NoError(t, err)

		hash := crypto.Keccak256([]byte("user operation"))
		sig, err := signer.SignHash(hash)
		require.NoError(t, err)
		pub, err := crypto.SigToPub(hash, sig)
		require.NoError(t, err)
		assert.Equal(t, address, crypto.PubkeyToAddress(*pub))
	})

	t.Run("Unknown key", func(t *testing.T) {
		_, err := signers.Transactor(testutil.GenerateAddress())
		assert.Error(t, err)
		_, err = signers.HashSigner(testutil.GenerateAddress())
		assert.Error(t, err)
	})
}

func TestWalletRows(t *testing.T) {
	signers, address := newSigners(t)

	t.Run("Both wallets", func(t *testing.T) {
		smart := testutil.GenerateAddress()
		row := &WalletRow{
			UserID:       "alice",
			Address:      address.Hex(),
			SmartAddress: smart.Hex(),
			SmartOwner:   address.Hex(),
			InitCode:     []byte{0x01},
			Deployed:     false,
		}

		eoa, err := eoaFromRow(row, signers)
		require.NoError(t, err)
		require.NotNil(t, eoa)
		assert.Equal(t, address, eoa.Address)

		account, err := smartFromRow(row, signers)
		require.NoError(t, err)
		require.NotNil(t, account)
		assert.Equal(t, smart, account.Address)
		assert.Equal(t, address, account.Owner)
		assert.False(t, account.Deployed)
		assert.NotNil(t, account.Signer)
	})

	t.Run("Missing wallets", func(t *testing.T) {
		row := &WalletRow{UserID: "bob"}
		eoa, err := eoaFromRow(row, signers)
		require.NoError(t, err)
		assert.Nil(t, eoa)

		account, err := smartFromRow(row, signers)
		require.NoError(t, err)
		assert.Nil(t, account)
	})
}
