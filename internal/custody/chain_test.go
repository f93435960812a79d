package custody

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"

type mockEthClient struct {
	callResult []byte
	callErr    error
	sentTx     *types.Transaction
}

func (m *mockEthClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 1, nil
}

func (m *mockEthClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockEthClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (m *mockEthClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	m.sentTx = tx
	return nil
}

func (m *mockEthClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (m *mockEthClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return m.callResult, m.callErr
}

func (m *mockEthClient) Close() {}

func newTestAdapter(t *testing.T, client EthClient) *ChainAdapter {
	t.Helper()
	adapter, err := NewChainAdapter(ChainConfig{
		RPCURL:     "http://localhost:8545",
		PrivateKey: testKey,
		ChainID:    8453,
	}, WithClient(client))
	require.NoError(t, err)
	return adapter
}

func TestValidateChainConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChainConfig
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  ChainConfig{RPCURL: "http://localhost:8545", PrivateKey: testKey, ChainID: 8453},
		},
		{
			name: "valid with 0x prefix",
			cfg:  ChainConfig{RPCURL: "http://localhost:8545", PrivateKey: "0x" + testKey, ChainID: 8453},
		},
		{
			name:    "missing RPC URL",
			cfg:     ChainConfig{PrivateKey: testKey, ChainID: 8453},
			wantErr: true,
		},
		{
			name:    "short private key",
			cfg:     ChainConfig{RPCURL: "http://localhost:8545", PrivateKey: "abcd", ChainID: 8453},
			wantErr: true,
		},
		{
			name:    "missing chain ID",
			cfg:     ChainConfig{RPCURL: "http://localhost:8545", PrivateKey: testKey},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateChainConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChainAdapterOwnerOf(t *testing.T) {
	holder := common.HexToAddress(alice)
	client := &mockEthClient{callResult: common.LeftPadBytes(holder.Bytes(), 32)}
	adapter := newTestAdapter(t, client)

	owner, err := adapter.OwnerOf(context.Background(), AssetRef{Contract: contractA, TokenID: "1"})
	require.NoError(t, err)
	assert.Equal(t, holder.Hex(), owner)
}

func TestChainAdapterOwnerOfRevert(t *testing.T) {
	client := &mockEthClient{callErr: assert.AnError}
	adapter := newTestAdapter(t, client)

	_, err := adapter.OwnerOf(context.Background(), AssetRef{Contract: contractA, TokenID: "404"})
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestChainAdapterTransfer(t *testing.T) {
	holder := common.HexToAddress(alice)
	client := &mockEthClient{callResult: common.LeftPadBytes(holder.Bytes(), 32)}
	adapter := newTestAdapter(t, client)
	ref := AssetRef{Contract: contractA, TokenID: "9"}

	err := adapter.Transfer(context.Background(), ref, alice, vault)
	require.NoError(t, err)
	require.NotNil(t, client.sentTx)
	assert.Equal(t, common.HexToAddress(contractA), *client.sentTx.To())

	// Wrong holder is rejected before any transaction is built.
	client.sentTx = nil
	err = adapter.Transfer(context.Background(), ref, bob, vault)
	assert.ErrorIs(t, err, ErrNotHolder)
	assert.Nil(t, client.sentTx)
}

func TestParseRef(t *testing.T) {
	tokenID, contract, err := parseRef(AssetRef{Contract: contractA, TokenID: "42"})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), tokenID)
	assert.Equal(t, common.HexToAddress(contractA), contract)

	_, _, err = parseRef(AssetRef{Contract: "not-an-address", TokenID: "1"})
	assert.Error(t, err)

	_, _, err = parseRef(AssetRef{Contract: contractA, TokenID: "abc"})
	assert.ErrorIs(t, err, ErrInvalidTokenID)
}
