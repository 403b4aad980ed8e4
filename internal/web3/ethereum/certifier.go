package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"CertVerify-Chain/internal/web3"
)

// UniversityRoleName 是大学角色在合约中的名称，角色值为其 keccak256。
const UniversityRoleName = "UNIVERSITY_ROLE"

// CertifierConfig 控制交易的 gas 上限与发送后的回执等待。GasLimit 为 0 时由节点估算。
type CertifierConfig struct {
	WaitReceipt    bool
	ReceiptTimeout time.Duration
	GasLimit       uint64
}

// Certifier 把合约绑定、签名者与链 ID 组合成面向工具层的证书操作。
// signer 为空时只能执行只读调用。
type Certifier struct {
	client   web3.Client
	contract *CertificateContract
	signer   *web3.Signer
	cfg      CertifierConfig
}

// NewCertifier 创建证书操作入口。
func NewCertifier(client web3.Client, contract *CertificateContract, signer *web3.Signer, cfg CertifierConfig) *Certifier {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = time.Minute
	}
	return &Certifier{client: client, contract: contract, signer: signer, cfg: cfg}
}

// Contract 返回合约地址。
func (c *Certifier) Contract() common.Address {
	return c.contract.Address()
}

// ChainID 返回当前链 ID。
func (c *Certifier) ChainID(ctx context.Context) (*big.Int, error) {
	return c.client.ChainID(ctx)
}

// SignerAddress 返回签名者地址，未配置签名者时返回 false。
func (c *Certifier) SignerAddress() (common.Address, bool) {
	if c.signer == nil {
		return common.Address{}, false
	}
	return c.signer.Address(), true
}

// HasUniversityRole 查询账户是否拥有大学角色。
func (c *Certifier) HasUniversityRole(ctx context.Context, account common.Address) (bool, error) {
	role, err := c.contract.UniversityRole(ctx)
	if err != nil {
		// 部分部署没有暴露常量 getter，退回到按名称计算。
		role = crypto.Keccak256Hash([]byte(UniversityRoleName))
	}
	return c.contract.HasRole(ctx, role, account)
}

// MintCertificate 发送 mintCertificate 交易。
func (c *Certifier) MintCertificate(ctx context.Context, student common.Address, ipfsHash string) (common.Hash, error) {
	return c.transact(ctx, func(opts *bind.TransactOpts) (*coretypes.Transaction, error) {
		return c.contract.MintCertificate(opts, student, ipfsHash)
	})
}

// MintScannedCertificate 发送 mintScannedCertificate 交易。
func (c *Certifier) MintScannedCertificate(ctx context.Context, student common.Address, ipfsHash, scanHash string) (common.Hash, error) {
	return c.transact(ctx, func(opts *bind.TransactOpts) (*coretypes.Transaction, error) {
		return c.contract.MintScannedCertificate(opts, student, ipfsHash, scanHash)
	})
}

// AddUniversity 发送 addUniversity 交易。
func (c *Certifier) AddUniversity(ctx context.Context, university common.Address) (common.Hash, error) {
	return c.transact(ctx, func(opts *bind.TransactOpts) (*coretypes.Transaction, error) {
		return c.contract.AddUniversity(opts, university)
	})
}

// GetCertificate 读取证书详情。
func (c *Certifier) GetCertificate(ctx context.Context, tokenID *big.Int) (web3.Certificate, error) {
	return c.contract.GetCertificate(ctx, tokenID)
}

// GetStudentCertificates 读取学生的证书列表。
func (c *Certifier) GetStudentCertificates(ctx context.Context, student common.Address) ([]*big.Int, error) {
	return c.contract.GetStudentCertificates(ctx, student)
}

func (c *Certifier) transact(ctx context.Context, send func(*bind.TransactOpts) (*coretypes.Transaction, error)) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, web3.ErrNoSigner
	}
	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	opts, err := c.signer.TransactOpts(ctx, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	if c.cfg.GasLimit > 0 {
		opts.GasLimit = c.cfg.GasLimit
	}
	tx, err := send(opts)
	if err != nil {
		return common.Hash{}, err
	}
	if !c.cfg.WaitReceipt {
		return tx.Hash(), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()
	if _, err := c.contract.WaitMined(waitCtx, tx); err != nil {
		return tx.Hash(), fmt.Errorf("%w (tx %s)", err, tx.Hash().Hex())
	}
	return tx.Hash(), nil
}
