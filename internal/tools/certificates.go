package tools

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"CertVerify-Chain/internal/web3"
)

// 证书工具名称。
const (
	ToolMintCertificate        = "mint_certificate"
	ToolMintScannedCertificate = "mint_scanned_certificate"
	ToolAddUniversity          = "add_university"
	ToolGetCertificate         = "get_certificate"
	ToolGetStudentCertificates = "get_student_certificates"
	ToolCheckUniversityRole    = "check_university_role"
)

// ErrMissingUniversityRole 表示签名者没有大学角色。
var ErrMissingUniversityRole = errors.New("Signer does not have university role")

// Certificates 是证书工具依赖的链上操作，由 ethereum.Certifier 实现。
type Certificates interface {
	Contract() common.Address
	SignerAddress() (common.Address, bool)
	HasUniversityRole(ctx context.Context, account common.Address) (bool, error)
	MintCertificate(ctx context.Context, student common.Address, ipfsHash string) (common.Hash, error)
	MintScannedCertificate(ctx context.Context, student common.Address, ipfsHash, scanHash string) (common.Hash, error)
	AddUniversity(ctx context.Context, university common.Address) (common.Hash, error)
	GetCertificate(ctx context.Context, tokenID *big.Int) (web3.Certificate, error)
	GetStudentCertificates(ctx context.Context, student common.Address) ([]*big.Int, error)
}

// IsTransaction 判断工具是否会发送链上交易。
func IsTransaction(name string) bool {
	switch name {
	case ToolMintCertificate, ToolMintScannedCertificate, ToolAddUniversity:
		return true
	}
	return false
}

// NewCertificateRegistry 创建包含全部证书工具的注册表。
func NewCertificateRegistry(certs Certificates, opts ...Option) (*Registry, error) {
	r := NewRegistry(opts...)
	if err := RegisterCertificateTools(r, certs); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterCertificateTools 依次注册交易工具与只读工具。
func RegisterCertificateTools(r *Registry, certs Certificates) error {
	if certs == nil {
		return errors.New("未配置证书合约")
	}
	for _, tool := range CertificateTools(certs) {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// CertificateTools 返回绑定到指定合约的证书工具。
func CertificateTools(certs Certificates) []Tool {
	return []Tool{
		{
			Name:        ToolMintCertificate,
			Description: "Mint a new certificate for a student (university only)",
			Parameters: objectSchema(map[string]any{
				"student_address": addressProperty("Wallet address of the student receiving the certificate"),
				"ipfs_hash":       stringProperty("Content hash or IPFS CID of the certificate document"),
			}, "student_address", "ipfs_hash"),
			Handler: func(ctx context.Context, args Arguments) Result {
				return mintCertificate(ctx, certs, args)
			},
		},
		{
			Name:        ToolMintScannedCertificate,
			Description: "Mint a scanned certificate after verification",
			Parameters: objectSchema(map[string]any{
				"student_address": addressProperty("Wallet address of the student receiving the certificate"),
				"ipfs_hash":       stringProperty("Content hash or IPFS CID of the certificate document"),
				"scan_hash":       stringProperty("Hash of the scanned certificate"),
			}, "student_address", "ipfs_hash", "scan_hash"),
			Handler: func(ctx context.Context, args Arguments) Result {
				return mintScannedCertificate(ctx, certs, args)
			},
		},
		{
			Name:        ToolAddUniversity,
			Description: "Add a new university address (admin only)",
			Parameters: objectSchema(map[string]any{
				"university_address": addressProperty("Wallet address of the university to grant the university role"),
			}, "university_address"),
			Handler: func(ctx context.Context, args Arguments) Result {
				return addUniversity(ctx, certs, args)
			},
		},
		{
			Name:        ToolGetCertificate,
			Description: "Read an issued certificate by token id",
			Parameters: objectSchema(map[string]any{
				"token_id": stringProperty("Certificate token id in decimal"),
			}, "token_id"),
			Handler: func(ctx context.Context, args Arguments) Result {
				return getCertificate(ctx, certs, args)
			},
		},
		{
			Name:        ToolGetStudentCertificates,
			Description: "List the certificate token ids held by a student",
			Parameters: objectSchema(map[string]any{
				"student_address": addressProperty("Wallet address of the student"),
			}, "student_address"),
			Handler: func(ctx context.Context, args Arguments) Result {
				return getStudentCertificates(ctx, certs, args)
			},
		},
		{
			Name:        ToolCheckUniversityRole,
			Description: "Check whether an address holds the university role",
			Parameters: objectSchema(map[string]any{
				"address": addressProperty("Wallet address to check"),
			}, "address"),
			Handler: func(ctx context.Context, args Arguments) Result {
				return checkUniversityRole(ctx, certs, args)
			},
		},
	}
}

func mintCertificate(ctx context.Context, certs Certificates, args Arguments) Result {
	student, err := addressArg(args, "student_address")
	if err != nil {
		return Fail(err)
	}
	ipfsHash, err := args.Required("ipfs_hash")
	if err != nil {
		return Fail(err)
	}

	signer, ok := certs.SignerAddress()
	if !ok {
		return Fail(web3.ErrNoSigner)
	}
	allowed, err := certs.HasUniversityRole(ctx, signer)
	if err != nil {
		return Fail(err)
	}
	if !allowed {
		return Fail(ErrMissingUniversityRole)
	}

	tx, err := certs.MintCertificate(ctx, student, ipfsHash)
	if err != nil {
		return Fail(err)
	}
	res := Succeed("Certificate minted successfully. Transaction: %s", tx.Hex())
	res.TxHash = tx.Hex()
	res.StudentAddress = student.Hex()
	return res
}

func mintScannedCertificate(ctx context.Context, certs Certificates, args Arguments) Result {
	student, err := addressArg(args, "student_address")
	if err != nil {
		return Fail(err)
	}
	ipfsHash, err := args.Required("ipfs_hash")
	if err != nil {
		return Fail(err)
	}
	scanHash, err := args.Required("scan_hash")
	if err != nil {
		return Fail(err)
	}

	tx, err := certs.MintScannedCertificate(ctx, student, ipfsHash, scanHash)
	if err != nil {
		return Fail(err)
	}
	res := Succeed("Scanned certificate minted. Transaction: %s", tx.Hex())
	res.TxHash = tx.Hex()
	res.StudentAddress = student.Hex()
	return res
}

func addUniversity(ctx context.Context, certs Certificates, args Arguments) Result {
	university, err := addressArg(args, "university_address")
	if err != nil {
		return Fail(err)
	}
	tx, err := certs.AddUniversity(ctx, university)
	if err != nil {
		return Fail(err)
	}
	res := Succeed("University added successfully. Transaction: %s", tx.Hex())
	res.TxHash = tx.Hex()
	return res
}

func getCertificate(ctx context.Context, certs Certificates, args Arguments) Result {
	tokenID, err := args.BigInt("token_id")
	if err != nil {
		return Fail(err)
	}
	cert, err := certs.GetCertificate(ctx, tokenID)
	if err != nil {
		return Fail(err)
	}
	return Succeed("Certificate %s: ipfsHash=%s, university=%s, issued=%s, valid=%t, verified=%t",
		tokenID.String(), cert.IPFSHash, cert.University.Hex(), formatIssueDate(cert.IssueDate), cert.IsValid, cert.IsVerified)
}

func getStudentCertificates(ctx context.Context, certs Certificates, args Arguments) Result {
	student, err := addressArg(args, "student_address")
	if err != nil {
		return Fail(err)
	}
	ids, err := certs.GetStudentCertificates(ctx, student)
	if err != nil {
		return Fail(err)
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	return Succeed("Student %s holds certificates: [%s]", student.Hex(), strings.Join(parts, ", "))
}

func checkUniversityRole(ctx context.Context, certs Certificates, args Arguments) Result {
	account, err := addressArg(args, "address")
	if err != nil {
		return Fail(err)
	}
	allowed, err := certs.HasUniversityRole(ctx, account)
	if err != nil {
		return Fail(err)
	}
	if !allowed {
		return Result{Text: fmt.Sprintf("%s %s does not have university role", FailureMarker, account.Hex())}
	}
	return Succeed("%s has university role", account.Hex())
}

func addressArg(args Arguments, key string) (common.Address, error) {
	raw, err := args.Required(key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q for %s", raw, key)
	}
	return common.HexToAddress(raw), nil
}

func formatIssueDate(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func addressProperty(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
		"pattern":     "^0x[0-9a-fA-F]{40}$",
	}
}
