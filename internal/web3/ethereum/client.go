package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"CertVerify-Chain/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	Notes   string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   web3.Backend
	chainID   *big.Int
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint. The dial is lazy for HTTP
// endpoints, so an unreachable node only surfaces on the first call.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	var chainID *big.Int
	if cfg.ChainID > 0 {
		chainID = big.NewInt(cfg.ChainID)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
		chainID:   chainID,
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
// Every sent transaction is mined immediately.
func NewSimulatedClient(name string, chainID *big.Int, backend *backends.SimulatedBackend) *Client {
	return &Client{
		name:    name,
		backend: autoCommitBackend{backend},
		chainID: new(big.Int).Set(chainID),
		notes:   "simulated backend",
	}
}

// autoCommitBackend seals a block after each transaction so receipts are
// available without a separate miner.
type autoCommitBackend struct {
	*backends.SimulatedBackend
}

func (b autoCommitBackend) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if err := b.SimulatedBackend.SendTransaction(ctx, tx); err != nil {
		return err
	}
	b.Commit()
	return nil
}

// Name returns the registry name of the chain.
func (c *Client) Name() string {
	return c.name
}

// Backend exposes the contract backend used by bindings.
func (c *Client) Backend() web3.Backend {
	return c.backend
}

// ChainID returns the configured chain id, asking the node once when the
// configuration left it empty.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	if c.eth == nil {
		return nil, errors.New("未配置链 ID")
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.chainID = id
	return new(big.Int).Set(id), nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if sim, ok := c.backend.(autoCommitBackend); ok {
		sim.Close()
	}
	c.rpcClient = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}

	if c.eth != nil {
		chainID, err := c.eth.ChainID(ctx)
		if err != nil {
			return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
		}
		blockNumber, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
		}
		return web3.ChainSnapshot{
			ChainID:     toHexBig(chainID),
			BlockNumber: fmt.Sprintf("0x%x", blockNumber),
			Notes:       c.notes,
		}, nil
	}

	if c.chainID == nil {
		return web3.ChainSnapshot{}, errors.New("未配置链 ID")
	}
	blockReader, ok := c.backend.(interface {
		BlockByNumber(context.Context, *big.Int) (*coretypes.Block, error)
	})
	if !ok {
		return web3.ChainSnapshot{}, errors.New("后端不支持区块查询")
	}
	block, err := blockReader.BlockByNumber(ctx, nil)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取区块信息失败: %w", err)
	}

	return web3.ChainSnapshot{
		ChainID:     toHexBig(c.chainID),
		BlockNumber: fmt.Sprintf("0x%x", block.NumberU64()),
		Notes:       c.notes,
	}, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
