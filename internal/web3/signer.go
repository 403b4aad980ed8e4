package web3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoSigner 表示既没有配置私钥也没有配置 keystore。
var ErrNoSigner = errors.New("no signer configured, set PRIVATE_KEY or a keystore")

// SignerConfig 描述签名私钥的来源，私钥优先于 keystore。
type SignerConfig struct {
	PrivateKey       string
	KeystorePath     string
	KeystorePassword string
}

// Signer 持有发送交易的钱包私钥。
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// LoadSigner 按配置加载签名者，未配置任何来源时返回 ErrNoSigner。
func LoadSigner(cfg SignerConfig) (*Signer, error) {
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		return NewSignerFromHex(cfg.PrivateKey)
	}
	if strings.TrimSpace(cfg.KeystorePath) != "" {
		return NewSignerFromKeystore(cfg.KeystorePath, cfg.KeystorePassword)
	}
	return nil, ErrNoSigner
}

// NewSignerFromHex 解析十六进制私钥，允许 0x 前缀。
func NewSignerFromHex(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return newSigner(key), nil
}

// NewSignerFromKeystore 使用口令解密 keystore JSON 文件。
func NewSignerFromKeystore(path, password string) (*Signer, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 keystore 失败: %w", err)
	}
	key, err := keystore.DecryptKey(content, password)
	if err != nil {
		return nil, fmt.Errorf("解密 keystore 失败: %w", err)
	}
	return newSigner(key.PrivateKey), nil
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address 返回签名者的钱包地址。
func (s *Signer) Address() common.Address {
	if s == nil {
		return common.Address{}
	}
	return s.address
}

// TransactOpts 为指定链构造交易选项，并绑定请求上下文。
func (s *Signer) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	if s == nil {
		return nil, ErrNoSigner
	}
	if chainID == nil {
		return nil, errors.New("未提供链 ID")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("创建交易签名器失败: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
