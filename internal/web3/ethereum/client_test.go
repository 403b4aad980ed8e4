package ethereum

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/crypto"

	"CertVerify-Chain/internal/tools"
	"CertVerify-Chain/internal/web3"
)

// fixedReturnCode 生成一段部署代码，部署后的合约对任何调用都返回 blob。
func fixedReturnCode(blob []byte) []byte {
	n := len(blob)
	runtime := append([]byte{
		0x61, byte(n >> 8), byte(n), // PUSH2 len
		0x60, 0x0e, // PUSH1 offset of blob
		0x60, 0x00, // PUSH1 0
		0x39,                        // CODECOPY
		0x61, byte(n >> 8), byte(n), // PUSH2 len
		0x60, 0x00, // PUSH1 0
		0xf3, // RETURN
	}, blob...)
	r := len(runtime)
	deploy := []byte{
		0x61, byte(r >> 8), byte(r),
		0x60, 0x0e,
		0x60, 0x00,
		0x39,
		0x61, byte(r >> 8), byte(r),
		0x60, 0x00,
		0xf3,
	}
	return append(deploy, runtime...)
}

// revertingCode 部署一个对任何调用都执行 REVERT 的合约。
func revertingCode() []byte {
	return []byte{
		0x60, 0x05, // PUSH1 runtime len
		0x60, 0x0c, // PUSH1 runtime offset
		0x60, 0x00, // PUSH1 0
		0x39,       // CODECOPY
		0x60, 0x05, // PUSH1 runtime len
		0x60, 0x00, // PUSH1 0
		0xf3,       // RETURN

		// runtime: REVERT(0, 0)
		0x60, 0x00, 0x60, 0x00, 0xfd,
	}
}

type simulatedChain struct {
	client  *Client
	backend *backends.SimulatedBackend
	signer  *web3.Signer
	auth    *bind.TransactOpts
	chainID *big.Int
}

func newSimulatedChain(t *testing.T) *simulatedChain {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	chainID := big.NewInt(1337)
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		t.Fatalf("new transactor: %v", err)
	}

	alloc := core.GenesisAlloc{
		auth.From: {Balance: big.NewInt(1_000_000_000_000_000_000)},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	client := NewSimulatedClient("simulated", chainID, backend)
	t.Cleanup(client.Close)

	signer, err := web3.NewSignerFromHex(common.Bytes2Hex(crypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return &simulatedChain{client: client, backend: backend, signer: signer, auth: auth, chainID: chainID}
}

// deployFixed 部署一个对所有调用都返回 blob 的合约，并绑定证书 ABI。
func (s *simulatedChain) deployFixed(t *testing.T, blob []byte) *CertificateContract {
	t.Helper()
	parsed, err := CertificateABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	address, _, _, err := bind.DeployContract(s.auth, parsed, fixedReturnCode(blob), s.client.Backend())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	contract, err := NewCertificateContract(s.client, address)
	if err != nil {
		t.Fatalf("bind contract: %v", err)
	}
	return contract
}

func TestFetchChainSnapshot(t *testing.T) {
	chain := newSimulatedChain(t)
	ctx := context.Background()

	chain.deployFixed(t, common.LeftPadBytes([]byte{1}, 32))

	snapshot, err := chain.client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}
	if snapshot.BlockNumber == "0x0" {
		t.Fatal("expected block number to advance after deployment")
	}

	id, err := chain.client.ChainID(ctx)
	if err != nil || id.Cmp(chain.chainID) != 0 {
		t.Fatalf("unexpected chain id %v (%v)", id, err)
	}
}

func TestCertifierRoleAndMint(t *testing.T) {
	chain := newSimulatedChain(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 返回 1 的合约：hasRole 为 true，交易调用全部成功。
	contract := chain.deployFixed(t, common.LeftPadBytes([]byte{1}, 32))
	certifier := NewCertifier(chain.client, contract, chain.signer, CertifierConfig{WaitReceipt: true, ReceiptTimeout: 5 * time.Second})

	ok, err := certifier.HasUniversityRole(ctx, chain.signer.Address())
	if err != nil || !ok {
		t.Fatalf("expected role, got %v (%v)", ok, err)
	}

	student := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	hash, err := certifier.MintCertificate(ctx, student, "bafkreitest")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	receipt, err := chain.backend.TransactionReceipt(ctx, hash)
	if err != nil || receipt.Status != 1 {
		t.Fatalf("expected successful receipt, got %+v (%v)", receipt, err)
	}

	if _, err := certifier.MintScannedCertificate(ctx, student, "bafkreitest", "abc"); err != nil {
		t.Fatalf("mint scanned: %v", err)
	}
	if _, err := certifier.AddUniversity(ctx, student); err != nil {
		t.Fatalf("add university: %v", err)
	}
}

func TestMintReportsRevertedReceipt(t *testing.T) {
	chain := newSimulatedChain(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	parsed, err := CertificateABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	address, _, _, err := bind.DeployContract(chain.auth, parsed, revertingCode(), chain.client.Backend())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	contract, err := NewCertificateContract(chain.client, address)
	if err != nil {
		t.Fatalf("bind contract: %v", err)
	}
	// 固定 gas 上限跳过估算，交易才能带着失败状态上链。
	certifier := NewCertifier(chain.client, contract, chain.signer, CertifierConfig{
		WaitReceipt:    true,
		ReceiptTimeout: 5 * time.Second,
		GasLimit:       200_000,
	})

	student := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	hash, err := certifier.MintScannedCertificate(ctx, student, "bafkreitest", "abc")
	if err == nil || !strings.Contains(err.Error(), "reverted") {
		t.Fatalf("expected reverted error, got %v", err)
	}
	receipt, rerr := chain.backend.TransactionReceipt(ctx, hash)
	if rerr != nil || receipt.Status != 0 {
		t.Fatalf("expected failed receipt, got %+v (%v)", receipt, rerr)
	}

	registry, err := tools.NewCertificateRegistry(certifier)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	out := registry.Call(ctx, tools.ToolMintScannedCertificate,
		`{"student_address":"`+student.Hex()+`","ipfs_hash":"bafkreitest","scan_hash":"abc"}`)
	if !strings.HasPrefix(out, "❌ Error: ") || !strings.Contains(out, "reverted") {
		t.Fatalf("expected tool failure for reverted receipt, got %q", out)
	}
}

func TestCertifierWithoutRole(t *testing.T) {
	chain := newSimulatedChain(t)
	contract := chain.deployFixed(t, make([]byte, 32))
	certifier := NewCertifier(chain.client, contract, chain.signer, CertifierConfig{})

	ok, err := certifier.HasUniversityRole(context.Background(), chain.signer.Address())
	if err != nil {
		t.Fatalf("has role: %v", err)
	}
	if ok {
		t.Fatal("zero word must decode as false")
	}
}

func TestCertifierReadOnly(t *testing.T) {
	chain := newSimulatedChain(t)
	contract := chain.deployFixed(t, common.LeftPadBytes([]byte{1}, 32))
	certifier := NewCertifier(chain.client, contract, nil, CertifierConfig{})

	if _, ok := certifier.SignerAddress(); ok {
		t.Fatal("expected no signer")
	}
	if _, err := certifier.AddUniversity(context.Background(), common.Address{}); err != web3.ErrNoSigner {
		t.Fatalf("expected ErrNoSigner, got %v", err)
	}
}

func TestGetCertificateDecodesTuple(t *testing.T) {
	chain := newSimulatedChain(t)
	parsed, err := CertificateABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}

	university := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	issued := int64(1_700_000_000)
	blob, err := parsed.Methods["getCertificate"].Outputs.Pack(certificateTuple{
		IpfsHash:   "bafkreicert",
		University: university,
		IssueDate:  big.NewInt(issued),
		IsValid:    true,
		IsVerified: false,
	})
	if err != nil {
		t.Fatalf("pack tuple: %v", err)
	}
	contract := chain.deployFixed(t, blob)

	cert, err := contract.GetCertificate(context.Background(), big.NewInt(3))
	if err != nil {
		t.Fatalf("get certificate: %v", err)
	}
	if cert.IPFSHash != "bafkreicert" || cert.University != university || !cert.IsValid || cert.IsVerified {
		t.Fatalf("unexpected certificate %+v", cert)
	}
	if cert.IssueDate.Unix() != issued || cert.TokenID.Int64() != 3 {
		t.Fatalf("unexpected metadata %+v", cert)
	}
}

func TestGetStudentCertificates(t *testing.T) {
	chain := newSimulatedChain(t)
	parsed, err := CertificateABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	blob, err := parsed.Methods["getStudentCertificates"].Outputs.Pack([]*big.Int{big.NewInt(1), big.NewInt(7)})
	if err != nil {
		t.Fatalf("pack ids: %v", err)
	}
	contract := chain.deployFixed(t, blob)

	ids, err := contract.GetStudentCertificates(context.Background(), common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("get student certificates: %v", err)
	}
	if len(ids) != 2 || ids[1].Int64() != 7 {
		t.Fatalf("unexpected ids %v", ids)
	}
}

var _ web3.Client = (*Client)(nil)
