package ethereum

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"CertVerify-Chain/internal/web3"
)

//go:embed abi/UniversityCertificate.json
var certificateABIJSON string

// CertificateABI 返回解析后的 UniversityCertificate 合约 ABI。
func CertificateABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(certificateABIJSON))
}

// CertificateContract 是 UniversityCertificate 合约的 Go 绑定。
type CertificateContract struct {
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
	backend web3.Backend
}

// certificateTuple 与 getCertificate 返回的结构体字段一一对应。
type certificateTuple struct {
	IpfsHash   string
	University common.Address
	IssueDate  *big.Int
	IsValid    bool
	IsVerified bool
}

// NewCertificateContract 在给定链客户端上绑定合约地址。
func NewCertificateContract(client web3.Client, address common.Address) (*CertificateContract, error) {
	if client == nil || client.Backend() == nil {
		return nil, errors.New("链客户端未初始化")
	}
	if address == (common.Address{}) {
		return nil, errors.New("合约地址不能为空")
	}
	parsed, err := CertificateABI()
	if err != nil {
		return nil, fmt.Errorf("解析证书合约 ABI 失败: %w", err)
	}
	backend := client.Backend()
	return &CertificateContract{
		address: address,
		abi:     parsed,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend: backend,
	}, nil
}

// Address 返回合约地址。
func (c *CertificateContract) Address() common.Address {
	return c.address
}

func (c *CertificateContract) call(ctx context.Context, method string, params ...any) ([]any, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s 没有返回值", method)
	}
	return out, nil
}

// UniversityRole 读取合约中的 UNIVERSITY_ROLE 常量。
func (c *CertificateContract) UniversityRole(ctx context.Context) ([32]byte, error) {
	out, err := c.call(ctx, "UNIVERSITY_ROLE")
	if err != nil {
		return [32]byte{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

// HasRole 判断账户是否拥有指定角色。
func (c *CertificateContract) HasRole(ctx context.Context, role [32]byte, account common.Address) (bool, error) {
	out, err := c.call(ctx, "hasRole", role, account)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// GetCertificate 读取证书详情。
func (c *CertificateContract) GetCertificate(ctx context.Context, tokenID *big.Int) (web3.Certificate, error) {
	out, err := c.call(ctx, "getCertificate", tokenID)
	if err != nil {
		return web3.Certificate{}, err
	}
	tuple := *abi.ConvertType(out[0], new(certificateTuple)).(*certificateTuple)
	cert := web3.Certificate{
		TokenID:    new(big.Int).Set(tokenID),
		IPFSHash:   tuple.IpfsHash,
		University: tuple.University,
		IsValid:    tuple.IsValid,
		IsVerified: tuple.IsVerified,
	}
	if tuple.IssueDate != nil && tuple.IssueDate.IsInt64() {
		cert.IssueDate = time.Unix(tuple.IssueDate.Int64(), 0).UTC()
	}
	return cert, nil
}

// GetStudentCertificates 返回学生持有的证书 token ID 列表。
func (c *CertificateContract) GetStudentCertificates(ctx context.Context, student common.Address) ([]*big.Int, error) {
	out, err := c.call(ctx, "getStudentCertificates", student)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

// MintCertificate 为学生铸造证书 SBT。
func (c *CertificateContract) MintCertificate(opts *bind.TransactOpts, student common.Address, ipfsHash string) (*coretypes.Transaction, error) {
	return c.bound.Transact(opts, "mintCertificate", student, ipfsHash)
}

// MintScannedCertificate 铸造附带扫描件摘要的证书。
func (c *CertificateContract) MintScannedCertificate(opts *bind.TransactOpts, student common.Address, ipfsHash, scanHash string) (*coretypes.Transaction, error) {
	return c.bound.Transact(opts, "mintScannedCertificate", student, ipfsHash, scanHash)
}

// AddUniversity 授予大学角色。
func (c *CertificateContract) AddUniversity(opts *bind.TransactOpts, university common.Address) (*coretypes.Transaction, error) {
	return c.bound.Transact(opts, "addUniversity", university)
}

// WaitMined 等待交易上链，回执状态失败时返回错误。
func (c *CertificateContract) WaitMined(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("等待交易回执失败: %w", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}
