// Package evm implements the character ledger against the Character ERC-721
// contract on an EVM chain.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
)

var transferEventSignature = gethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Client is the subset of the Ethereum RPC used by the ledger.
type Client interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Dial initialises an RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Config identifies the contract and the signing account.
type Config struct {
	Contract  string
	ChainID   int64
	SignerKey string // hex private key, 0x prefix optional
	// BaseURI is the prefix the contract prepends in tokenURI; it is
	// stripped to recover the bare metadata ref.
	BaseURI string
}

// Ledger implements ledger.Ledger. Every mutation is simulated with
// eth_call first so reverts surface as typed errors without spending gas.
type Ledger struct {
	client   Client
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	baseURI  string
	logger   *slog.Logger

	pollInterval time.Duration

	mu sync.Mutex // one pending transaction at a time keeps nonces ordered
}

var _ ledger.Ledger = (*Ledger)(nil)

type characterStatus struct {
	Level      *big.Int
	Experience *big.Int
}

func New(client Client, cfg Config, logger *slog.Logger) (*Ledger, error) {
	if client == nil {
		return nil, errors.New("evm client required")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.Contract)
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.SignerKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(characterABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	return &Ledger{
		client:       client,
		abi:          parsed,
		contract:     common.HexToAddress(cfg.Contract),
		chainID:      big.NewInt(cfg.ChainID),
		key:          key,
		from:         gethcrypto.PubkeyToAddress(key.PublicKey),
		baseURI:      cfg.BaseURI,
		logger:       logger,
		pollInterval: time.Second,
	}, nil
}

// Address is the signing account, which must be the contract's minter.
func (l *Ledger) Address() string {
	return strings.ToLower(l.from.Hex())
}

func (l *Ledger) CreateCharacter(ctx context.Context, owner string, ref metadata.Ref) (ledger.TokenID, error) {
	if !common.IsHexAddress(owner) {
		return 0, fmt.Errorf("invalid owner address %q", owner)
	}
	receipt, err := l.transact(ctx, "create_character", common.HexToAddress(owner), ref.String())
	if err != nil {
		return 0, err
	}

	for _, log := range receipt.Logs {
		if log == nil || log.Address != l.contract || len(log.Topics) < 4 {
			continue
		}
		// a mint is a transfer from the zero address
		if log.Topics[0] != transferEventSignature || log.Topics[1] != (common.Hash{}) {
			continue
		}
		id := new(big.Int).SetBytes(log.Topics[3].Bytes())
		if !id.IsUint64() {
			return 0, fmt.Errorf("token id %s overflows", id)
		}
		l.logger.Info("Character minted", "token_id", id, "owner", owner, "tx", receipt.TxHash.Hex())
		return ledger.TokenID(id.Uint64()), nil
	}
	return 0, fmt.Errorf("mint %s: no Transfer event in receipt", receipt.TxHash.Hex())
}

// ApplyExperience sends gain_experience and then reads back the level and
// experience the contract computed.
func (l *Ledger) ApplyExperience(ctx context.Context, id ledger.TokenID, amount int) (ledger.Progress, error) {
	if amount < 0 {
		return ledger.Progress{}, fmt.Errorf("experience cannot decrease: %d", amount)
	}
	if amount > 0 {
		if _, err := l.transact(ctx, "gain_experience", tokenArg(id), big.NewInt(int64(amount))); err != nil {
			return ledger.Progress{}, err
		}
	}
	return l.Progress(ctx, id)
}

func (l *Ledger) SetMetadataRef(ctx context.Context, id ledger.TokenID, ref metadata.Ref) error {
	_, err := l.transact(ctx, "set_token_uri", tokenArg(id), ref.String())
	return err
}

func (l *Ledger) Burn(ctx context.Context, id ledger.TokenID) error {
	if _, err := l.transact(ctx, "kill_character", tokenArg(id)); err != nil {
		return err
	}
	l.logger.Info("Character burned", "token_id", id)
	return nil
}

func (l *Ledger) OwnerOf(ctx context.Context, id ledger.TokenID) (string, error) {
	out, err := l.call(ctx, "ownerOf", tokenArg(id))
	if err != nil {
		return "", err
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("ownerOf: unexpected output %T", out[0])
	}
	return strings.ToLower(owner.Hex()), nil
}

func (l *Ledger) TotalSupply(ctx context.Context) (uint64, error) {
	out, err := l.call(ctx, "totalSupply")
	if err != nil {
		return 0, err
	}
	return uint64Output("totalSupply", out)
}

// TokensOfOwner enumerates with balanceOf and tokenOfOwnerByIndex.
func (l *Ledger) TokensOfOwner(ctx context.Context, owner string) ([]ledger.TokenID, error) {
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("invalid owner address %q", owner)
	}
	addr := common.HexToAddress(owner)

	out, err := l.call(ctx, "balanceOf", addr)
	if err != nil {
		return nil, err
	}
	balance, err := uint64Output("balanceOf", out)
	if err != nil {
		return nil, err
	}

	ids := make([]ledger.TokenID, 0, balance)
	for i := uint64(0); i < balance; i++ {
		out, err := l.call(ctx, "tokenOfOwnerByIndex", addr, new(big.Int).SetUint64(i))
		if err != nil {
			return nil, err
		}
		id, err := uint64Output("tokenOfOwnerByIndex", out)
		if err != nil {
			return nil, err
		}
		ids = append(ids, ledger.TokenID(id))
	}
	return ids, nil
}

func (l *Ledger) Progress(ctx context.Context, id ledger.TokenID) (ledger.Progress, error) {
	out, err := l.call(ctx, "query_character", tokenArg(id))
	if err != nil {
		return ledger.Progress{}, err
	}
	status := *abi.ConvertType(out[0], new(characterStatus)).(*characterStatus)
	if status.Level == nil || status.Experience == nil {
		return ledger.Progress{}, errors.New("query_character: empty status")
	}
	return ledger.Progress{
		Level:      int(status.Level.Int64()),
		Experience: int(status.Experience.Int64()),
	}, nil
}

func (l *Ledger) MetadataRef(ctx context.Context, id ledger.TokenID) (metadata.Ref, error) {
	out, err := l.call(ctx, "tokenURI", tokenArg(id))
	if err != nil {
		return "", err
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("tokenURI: unexpected output %T", out[0])
	}
	return metadata.Ref(strings.TrimPrefix(uri, l.baseURI)), nil
}

func (l *Ledger) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := l.client.CallContract(ctx, ethereum.CallMsg{From: l.from, To: &l.contract, Data: data}, nil)
	if err != nil {
		return nil, classify(method, err)
	}
	out, err := l.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty output", method)
	}
	return out, nil
}

// transact simulates, signs, sends and waits for a successful receipt.
func (l *Ledger) transact(ctx context.Context, method string, args ...interface{}) (*gethtypes.Receipt, error) {
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{From: l.from, To: &l.contract, Data: data}

	if _, err := l.client.CallContract(ctx, msg, nil); err != nil {
		return nil, classify(method, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	nonce, err := l.client.PendingNonceAt(ctx, l.from)
	if err != nil {
		return nil, fmt.Errorf("%s: nonce: %w", method, err)
	}
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: gas price: %w", method, err)
	}
	gas, err := l.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, classify(method, err)
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &l.contract,
		Gas:      gas + gas/5,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(l.chainID), l.key)
	if err != nil {
		return nil, fmt.Errorf("%s: sign: %w", method, err)
	}
	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return nil, classify(method, err)
	}
	l.logger.Debug("Transaction sent", "method", method, "tx", signed.Hash().Hex(), "nonce", nonce)

	receipt, err := l.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s: transaction %s reverted", method, signed.Hash().Hex())
	}
	return receipt, nil
}

func (l *Ledger) waitReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// classify maps revert reasons onto the ledger's sentinel errors.
func classify(method string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonexistent") || strings.Contains(msg, "invalid token") || strings.Contains(msg, "does not exist"):
		return fmt.Errorf("%s: %w: %v", method, ledger.ErrTokenNotFound, err)
	case strings.Contains(msg, "dead") || strings.Contains(msg, "burned"):
		return fmt.Errorf("%s: %w: %v", method, ledger.ErrBurned, err)
	case strings.Contains(msg, "auth") || strings.Contains(msg, "owner") || strings.Contains(msg, "minter"):
		return fmt.Errorf("%s: %w: %v", method, ledger.ErrUnauthorized, err)
	default:
		return fmt.Errorf("%s: %w", method, err)
	}
}

func tokenArg(id ledger.TokenID) *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

func uint64Output(method string, out []interface{}) (uint64, error) {
	n, ok := out[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("%s: unexpected output %v", method, out[0])
	}
	return n.Uint64(), nil
}
