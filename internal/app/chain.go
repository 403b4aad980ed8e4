package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"CertVerify-Chain/internal/config"
	xerrors "CertVerify-Chain/internal/errors"
	"CertVerify-Chain/internal/web3"
	"CertVerify-Chain/internal/web3/ethereum"
	"CertVerify-Chain/internal/web3/provider"
	"CertVerify-Chain/pkg/logger"
)

// Chain 聚合默认链的客户端、合约绑定与签名者。
type Chain struct {
	Registry  *provider.Registry
	Client    web3.Client
	Certifier *ethereum.Certifier
	Contract  common.Address
	ChainID   int64
}

// OpenChain 连接默认链并绑定证书合约。未配置签名者时以只读模式运行。
func OpenChain(ctx context.Context, cfg config.Web3Config) (*Chain, error) {
	log := logger.Named("chain")

	registry, err := provider.NewRegistry(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化链注册表失败")
	}
	client, err := registry.DefaultClient()
	if err != nil {
		registry.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "获取默认链失败")
	}

	address := registry.ContractAddress(registry.DefaultChain())
	if address == "" {
		address = web3.DefaultContractAddress
	}
	if !common.IsHexAddress(address) {
		registry.Close()
		return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("合约地址无效: %s", address))
	}
	contract, err := ethereum.NewCertificateContract(client, common.HexToAddress(address))
	if err != nil {
		registry.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "绑定证书合约失败")
	}

	signer, err := web3.LoadSigner(web3.SignerConfig{
		PrivateKey:       cfg.PrivateKey,
		KeystorePath:     cfg.KeystorePath,
		KeystorePassword: cfg.KeystorePassword,
	})
	switch {
	case errors.Is(err, web3.ErrNoSigner):
		log.Warn("未配置签名者，交易类工具将返回错误")
	case err != nil:
		registry.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载签名者失败")
	default:
		log.Info("签名者已加载", slog.String("address", signer.Address().Hex()))
	}

	chainID := cfg.ChainID
	if id, err := client.ChainID(ctx); err == nil && id != nil {
		chainID = id.Int64()
	}

	certifier := ethereum.NewCertifier(client, contract, signer, ethereum.CertifierConfig{
		WaitReceipt:    cfg.WaitReceipt,
		ReceiptTimeout: cfg.ReceiptTimeout(),
		GasLimit:       cfg.GasLimit,
	})
	log.Info("证书合约已绑定",
		slog.String("chain", registry.DefaultChain()),
		slog.String("contract", contract.Address().Hex()),
		slog.Int64("chain_id", chainID))

	return &Chain{
		Registry:  registry,
		Client:    client,
		Certifier: certifier,
		Contract:  contract.Address(),
		ChainID:   chainID,
	}, nil
}

// Close 释放链客户端。
func (c *Chain) Close() {
	if c == nil || c.Registry == nil {
		return
	}
	c.Registry.Close()
}
