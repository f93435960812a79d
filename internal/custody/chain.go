package custody

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrInvalidPrivateKey = errors.New("custody: invalid private key")
	ErrInvalidTokenID    = errors.New("custody: invalid token id")
	ErrRPCConnection     = errors.New("custody: RPC connection failed")
	ErrTransferFailed    = errors.New("custody: transfer transaction failed")
	ErrTimeout           = errors.New("custody: confirmation timed out")
)

// ERC721 minimal ABI for ownerOf and transferFrom
const erc721ABI = `[
	{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"name":"transferFrom","outputs":[],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":true,"name":"tokenId","type":"uint256"}],"name":"Transfer","type":"event"}
]`

const (
	// DefaultGasLimit for ERC721 transfers
	DefaultGasLimit = uint64(150000)

	// DefaultConfirmationTimeout for waiting on transfer transactions
	DefaultConfirmationTimeout = 30 * time.Second

	// ConfirmationPollInterval between receipt checks
	ConfirmationPollInterval = 2 * time.Second
)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// ChainConfig configures the on-chain custody adapter.
type ChainConfig struct {
	RPCURL     string
	PrivateKey string // Hex string, with or without 0x prefix
	ChainID    int64
}

// ChainOption configures the adapter
type ChainOption func(*ChainAdapter)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) ChainOption {
	return func(c *ChainAdapter) {
		c.client = client
	}
}

// ChainAdapter reads and moves ERC-721 assets directly on chain. Transfers
// are signed with the vault operator key, which must be approved on the
// asset contracts it manages.
type ChainAdapter struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	nftABI     abi.ABI
}

var _ Adapter = (*ChainAdapter)(nil)

// NewChainAdapter creates an on-chain custody adapter.
func NewChainAdapter(cfg ChainConfig, opts ...ChainOption) (*ChainAdapter, error) {
	if err := validateChainConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC721 ABI: %w", err)
	}

	c := &ChainAdapter{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA),
		chainID:    big.NewInt(cfg.ChainID),
		nftABI:     parsedABI,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.client = client
	}

	return c, nil
}

func validateChainConfig(cfg ChainConfig) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return errors.New("custody: chain ID required")
	}
	return nil
}

// Address returns the vault operator address.
func (c *ChainAdapter) Address() string {
	return c.address.Hex()
}

// Close releases the underlying RPC client.
func (c *ChainAdapter) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

func (c *ChainAdapter) OwnerOf(ctx context.Context, ref AssetRef) (string, error) {
	tokenID, contract, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	data, err := c.nftABI.Pack("ownerOf", tokenID)
	if err != nil {
		return "", fmt.Errorf("failed to pack ownerOf call: %w", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		// Contracts revert ownerOf for nonexistent tokens.
		return "", ErrAssetNotFound
	}
	if len(result) < 32 {
		return "", ErrAssetNotFound
	}

	return common.BytesToAddress(result[12:32]).Hex(), nil
}

func (c *ChainAdapter) Transfer(ctx context.Context, ref AssetRef, from, to string) error {
	owner, err := c.OwnerOf(ctx, ref)
	if err != nil {
		return err
	}
	if !strings.EqualFold(owner, from) {
		return ErrNotHolder
	}

	tokenID, contract, err := parseRef(ref)
	if err != nil {
		return err
	}

	data, err := c.nftABI.Pack("transferFrom", common.HexToAddress(from), common.HexToAddress(to), tokenID)
	if err != nil {
		return fmt.Errorf("failed to pack transferFrom call: %w", err)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return fmt.Errorf("%w: nonce: %v", ErrTransferFailed, err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("%w: gas price: %v", ErrTransferFailed, err)
	}

	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.address,
		To:    &contract,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return fmt.Errorf("%w: sign: %v", ErrTransferFailed, err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return fmt.Errorf("%w: send: %v", ErrTransferFailed, err)
	}

	return c.waitForConfirmation(ctx, signedTx.Hash())
}

func (c *ChainAdapter) waitForConfirmation(ctx context.Context, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultConfirmationTimeout)
	defer cancel()

	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: tx %s reverted", ErrTransferFailed, hash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: tx %s", ErrTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}

func parseRef(ref AssetRef) (*big.Int, common.Address, error) {
	if !common.IsHexAddress(ref.Contract) {
		return nil, common.Address{}, fmt.Errorf("custody: invalid contract address: %s", ref.Contract)
	}
	tokenID, ok := new(big.Int).SetString(ref.TokenID, 10)
	if !ok || tokenID.Sign() < 0 {
		return nil, common.Address{}, fmt.Errorf("%w: %s", ErrInvalidTokenID, ref.TokenID)
	}
	return tokenID, common.HexToAddress(ref.Contract), nil
}
