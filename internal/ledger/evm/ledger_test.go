package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
)

const (
	testChainID  = 31337
	testBaseURI  = "https://ipfs.io/ipfs/"
	contractAddr = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

type fakeToken struct {
	owner    common.Address
	uri      string
	progress ledger.Progress
	dead     bool
}

// fakeChain executes the Character contract ABI in memory.
type fakeChain struct {
	t        *testing.T
	abi      abi.ABI
	contract common.Address
	minter   common.Address

	mu       sync.Mutex
	tokens   map[uint64]*fakeToken
	nextID   uint64
	nonce    uint64
	receipts map[common.Hash]*gethtypes.Receipt
	pending  map[common.Hash]int // NotFound polls left before the receipt shows up
	sent     []string
	revertTx bool
}

func newFakeChain(t *testing.T, minter common.Address) *fakeChain {
	parsed, err := abi.JSON(strings.NewReader(characterABI))
	require.NoError(t, err)
	return &fakeChain{
		t:        t,
		abi:      parsed,
		contract: common.HexToAddress(contractAddr),
		minter:   minter,
		tokens:   map[uint64]*fakeToken{},
		receipts: map[common.Hash]*gethtypes.Receipt{},
		pending:  map[common.Hash]int{},
	}
}

type revert string

func (r revert) Error() string { return "execution reverted: " + string(r) }

func (f *fakeChain) live(id *big.Int) (*fakeToken, error) {
	tok, ok := f.tokens[id.Uint64()]
	if !ok {
		return nil, revert("ERC721: nonexistent token")
	}
	if tok.dead {
		return nil, revert("character is dead")
	}
	return tok, nil
}

func (f *fakeChain) ownedBy(owner common.Address) []uint64 {
	var ids []uint64
	for id, tok := range f.tokens {
		if tok.owner == owner && !tok.dead {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// exec runs one method. Mutations are only kept when commit is set.
func (f *fakeChain) exec(from common.Address, name string, args []interface{}, commit bool) ([]interface{}, []*gethtypes.Log, error) {
	mutating := map[string]bool{"create_character": true, "gain_experience": true, "set_token_uri": true, "kill_character": true}
	if mutating[name] && from != f.minter {
		return nil, nil, revert("caller is not the minter")
	}

	switch name {
	case "create_character":
		owner := args[0].(common.Address)
		id := f.nextID
		if commit {
			f.nextID++
			f.tokens[id] = &fakeToken{owner: owner, uri: args[1].(string), progress: ledger.Progress{Level: 1}}
		}
		log := &gethtypes.Log{
			Address: f.contract,
			Topics: []common.Hash{
				transferEventSignature,
				{},
				common.BytesToHash(owner.Bytes()),
				common.BigToHash(new(big.Int).SetUint64(id)),
			},
		}
		return nil, []*gethtypes.Log{log}, nil
	case "gain_experience":
		tok, err := f.live(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		if commit {
			tok.progress = ledger.Advance(tok.progress, int(args[1].(*big.Int).Int64()))
		}
		return nil, nil, nil
	case "set_token_uri":
		tok, err := f.live(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		if commit {
			tok.uri = args[1].(string)
		}
		return nil, nil, nil
	case "kill_character":
		tok, err := f.live(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		if commit {
			tok.dead = true
		}
		return nil, nil, nil
	case "query_character":
		tok, err := f.live(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		status := struct {
			Level      *big.Int
			Experience *big.Int
		}{big.NewInt(int64(tok.progress.Level)), big.NewInt(int64(tok.progress.Experience))}
		return []interface{}{status}, nil, nil
	case "ownerOf":
		tok, err := f.live(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{tok.owner}, nil, nil
	case "tokenURI":
		tok, err := f.live(args[0].(*big.Int))
		if err != nil {
			return nil, nil, err
		}
		return []interface{}{testBaseURI + tok.uri}, nil, nil
	case "totalSupply":
		n := 0
		for _, tok := range f.tokens {
			if !tok.dead {
				n++
			}
		}
		return []interface{}{big.NewInt(int64(n))}, nil, nil
	case "balanceOf":
		return []interface{}{big.NewInt(int64(len(f.ownedBy(args[0].(common.Address)))))}, nil, nil
	case "tokenOfOwnerByIndex":
		ids := f.ownedBy(args[0].(common.Address))
		i := args[1].(*big.Int).Uint64()
		if i >= uint64(len(ids)) {
			return nil, nil, revert("index out of bounds")
		}
		return []interface{}{new(big.Int).SetUint64(ids[i])}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown method %s", name)
}

func (f *fakeChain) decode(data []byte) (*abi.Method, []interface{}) {
	method, err := f.abi.MethodById(data[:4])
	require.NoError(f.t, err)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(f.t, err)
	return method, args
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	method, args := f.decode(call.Data)
	out, _, err := f.exec(call.From, method.Name, args, false)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(testChainID)), tx)
	require.NoError(f.t, err)
	require.Equal(f.t, f.nonce, tx.Nonce())
	f.nonce++

	method, args := f.decode(tx.Data())
	f.sent = append(f.sent, method.Name)

	receipt := &gethtypes.Receipt{TxHash: tx.Hash(), BlockNumber: big.NewInt(int64(f.nonce)), Status: gethtypes.ReceiptStatusSuccessful}
	if f.revertTx {
		receipt.Status = gethtypes.ReceiptStatusFailed
	} else if _, logs, err := f.exec(from, method.Name, args, true); err != nil {
		receipt.Status = gethtypes.ReceiptStatusFailed
	} else {
		receipt.Logs = logs
	}
	f.receipts[tx.Hash()] = receipt
	f.pending[tx.Hash()] = 1
	return nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending[hash] > 0 {
		f.pending[hash]--
		return nil, ethereum.NotFound
	}
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeChain) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestLedger(t *testing.T) (*Ledger, *fakeChain) {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	chain := newFakeChain(t, gethcrypto.PubkeyToAddress(key.PublicKey))
	l, err := New(chain, Config{
		Contract:  contractAddr,
		ChainID:   testChainID,
		SignerKey: "0x" + hex.EncodeToString(gethcrypto.FromECDSA(key)),
		BaseURI:   testBaseURI,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	l.pollInterval = time.Millisecond
	return l, chain
}

const player = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

func TestLedger_CreateAndQuery(t *testing.T) {
	l, chain := newTestLedger(t)
	ctx := context.Background()

	first, err := l.CreateCharacter(ctx, player, "bafyfirst")
	require.NoError(t, err)
	second, err := l.CreateCharacter(ctx, player, "bafysecond")
	require.NoError(t, err)
	assert.Equal(t, ledger.TokenID(0), first)
	assert.Equal(t, ledger.TokenID(1), second)
	assert.Equal(t, []string{"create_character", "create_character"}, chain.sentMethods())

	owner, err := l.OwnerOf(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(player), owner)

	ref, err := l.MetadataRef(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, metadata.Ref("bafysecond"), ref)

	ids, err := l.TokensOfOwner(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, []ledger.TokenID{0, 1}, ids)

	supply, err := l.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), supply)

	p, err := l.Progress(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, ledger.Progress{Level: 1}, p)
}

func TestLedger_ApplyExperienceReadsBack(t *testing.T) {
	l, chain := newTestLedger(t)
	ctx := context.Background()
	id, err := l.CreateCharacter(ctx, player, "bafyfirst")
	require.NoError(t, err)

	p, err := l.ApplyExperience(ctx, id, 25)
	require.NoError(t, err)
	assert.Equal(t, ledger.Progress{Level: 2, Experience: 5}, p)

	p, err = l.ApplyExperience(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, ledger.Progress{Level: 2, Experience: 5}, p)
	assert.Equal(t, []string{"create_character", "gain_experience"}, chain.sentMethods(), "zero XP sends nothing")

	_, err = l.ApplyExperience(ctx, id, -3)
	assert.Error(t, err)
}

func TestLedger_SetMetadataRefAndBurn(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	id, err := l.CreateCharacter(ctx, player, "bafyfirst")
	require.NoError(t, err)

	require.NoError(t, l.SetMetadataRef(ctx, id, "bafynext"))
	ref, err := l.MetadataRef(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, metadata.Ref("bafynext"), ref)

	require.NoError(t, l.Burn(ctx, id))
	assert.ErrorIs(t, l.Burn(ctx, id), ledger.ErrBurned)
	_, err = l.Progress(ctx, id)
	assert.ErrorIs(t, err, ledger.ErrBurned)

	ids, err := l.TokensOfOwner(ctx, player)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLedger_UnauthorizedIsRejectedBeforeSending(t *testing.T) {
	l, chain := newTestLedger(t)
	chain.minter = common.HexToAddress("0x0000000000000000000000000000000000000bad")

	_, err := l.CreateCharacter(context.Background(), player, "bafyfirst")
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	assert.Empty(t, chain.sentMethods())
}

func TestLedger_UnknownToken(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.OwnerOf(context.Background(), 42)
	assert.ErrorIs(t, err, ledger.ErrTokenNotFound)
	assert.ErrorIs(t, l.SetMetadataRef(context.Background(), 42, "x"), ledger.ErrTokenNotFound)
}

func TestLedger_RevertedReceipt(t *testing.T) {
	l, chain := newTestLedger(t)
	chain.revertTx = true

	_, err := l.CreateCharacter(context.Background(), player, "bafyfirst")
	assert.ErrorContains(t, err, "reverted")
}

func TestLedger_ReceiptWaitHonorsContext(t *testing.T) {
	l, chain := newTestLedger(t)
	ctx := context.Background()
	id, err := l.CreateCharacter(ctx, player, "bafyfirst")
	require.NoError(t, err)

	chain.mu.Lock()
	chain.pending = map[common.Hash]int{}
	chain.mu.Unlock()
	l.client = &neverMined{fakeChain: chain}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = l.SetMetadataRef(ctx, id, "bafynext")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// neverMined hides every receipt.
type neverMined struct {
	*fakeChain
}

func (n *neverMined) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	return nil, ethereum.NotFound
}

func TestNew_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := newFakeChain(t, common.Address{})

	_, err := New(chain, Config{Contract: "nope", SignerKey: "00"}, logger)
	assert.ErrorContains(t, err, "contract address")

	_, err = New(chain, Config{Contract: contractAddr, SignerKey: "zz"}, logger)
	assert.ErrorContains(t, err, "signer key")

	_, err = New(nil, Config{}, logger)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify("m", errors.New("execution reverted: Not authorized")), ledger.ErrUnauthorized)
	assert.ErrorIs(t, classify("m", errors.New("execution reverted: ERC721: invalid token ID")), ledger.ErrTokenNotFound)
	assert.ErrorIs(t, classify("m", errors.New("execution reverted: character is dead")), ledger.ErrBurned)
	err := classify("m", errors.New("connection refused"))
	assert.False(t, errors.Is(err, ledger.ErrUnauthorized))
}
