package web3

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// UniversityCertificate 合约在 Base Sepolia 上的部署信息。
const (
	DefaultContractAddress       = "0xEC1436e5C911ae8a53066DF5E1CC79A9d8F8A789"
	DefaultRPCURL                = "https://sepolia.base.org"
	DefaultChainID         int64 = 84532
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chainId"`
	BlockNumber string `json:"blockNumber"`
	Notes       string `json:"notes,omitempty"`
}

// Certificate is the on-chain record behind a certificate token.
type Certificate struct {
	TokenID    *big.Int
	IPFSHash   string
	University common.Address
	IssueDate  time.Time
	IsValid    bool
	IsVerified bool
}

// Backend is everything a contract binding needs from a chain connection:
// calls, transactions, log filtering and receipts.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client defines the common interface that any chain implementation must
// provide so higher layers can interact with different networks uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Backend() Backend
	Close()
}
