package tools

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"CertVerify-Chain/internal/web3"
)

const (
	studentHex    = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	universityHex = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

type stubCertificates struct {
	mu        sync.Mutex
	signer    common.Address
	hasSigner bool
	hasRole   bool
	roleErr   error
	mintErr   error
	minted    []string
	panicMint bool
	cert      web3.Certificate
	ids       []*big.Int
}

func (s *stubCertificates) Contract() common.Address {
	return common.HexToAddress(web3.DefaultContractAddress)
}

func (s *stubCertificates) SignerAddress() (common.Address, bool) { return s.signer, s.hasSigner }

func (s *stubCertificates) HasUniversityRole(_ context.Context, _ common.Address) (bool, error) {
	return s.hasRole, s.roleErr
}

func (s *stubCertificates) record(call string) (common.Hash, error) {
	if s.panicMint {
		panic("rpc client exploded")
	}
	if s.mintErr != nil {
		return common.Hash{}, s.mintErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minted = append(s.minted, call)
	return common.BigToHash(big.NewInt(int64(len(s.minted)))), nil
}

func (s *stubCertificates) MintCertificate(_ context.Context, student common.Address, ipfsHash string) (common.Hash, error) {
	return s.record("mint:" + student.Hex() + ":" + ipfsHash)
}

func (s *stubCertificates) MintScannedCertificate(_ context.Context, student common.Address, ipfsHash, scanHash string) (common.Hash, error) {
	return s.record("scan:" + student.Hex() + ":" + ipfsHash + ":" + scanHash)
}

func (s *stubCertificates) AddUniversity(_ context.Context, university common.Address) (common.Hash, error) {
	return s.record("university:" + university.Hex())
}

func (s *stubCertificates) GetCertificate(_ context.Context, tokenID *big.Int) (web3.Certificate, error) {
	if tokenID.Sign() == 0 {
		return web3.Certificate{}, errors.New("execution reverted: certificate does not exist")
	}
	cert := s.cert
	cert.TokenID = tokenID
	return cert, nil
}

func (s *stubCertificates) GetStudentCertificates(_ context.Context, _ common.Address) ([]*big.Int, error) {
	return s.ids, nil
}

func newStub() *stubCertificates {
	return &stubCertificates{signer: common.HexToAddress(universityHex), hasSigner: true, hasRole: true}
}

func newTestRegistry(t *testing.T, certs Certificates, opts ...Option) *Registry {
	t.Helper()
	r, err := NewCertificateRegistry(certs, opts...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestRegistryKeepsInsertionOrder(t *testing.T) {
	r := newTestRegistry(t, newStub())
	specs := r.Specs()
	want := []string{ToolMintCertificate, ToolMintScannedCertificate, ToolAddUniversity, ToolGetCertificate, ToolGetStudentCertificates, ToolCheckUniversityRole}
	if len(specs) != len(want) {
		t.Fatalf("expected %d specs, got %d", len(want), len(specs))
	}
	for i, name := range want {
		if specs[i].Name != name {
			t.Fatalf("spec %d: expected %s, got %s", i, name, specs[i].Name)
		}
		if specs[i].Parameters["type"] != "object" {
			t.Fatalf("spec %s should declare an object schema", name)
		}
	}
	if err := r.Register(Tool{Name: ToolMintCertificate}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestMintCertificateSuccess(t *testing.T) {
	stub := newStub()
	r := newTestRegistry(t, stub)

	out := r.Call(context.Background(), ToolMintCertificate, `{"student_address":"`+studentHex+`","ipfs_hash":"bafkreiabc"}`)
	want := "✅ Certificate minted successfully. Transaction: " + common.BigToHash(big.NewInt(1)).Hex()
	if out != want {
		t.Fatalf("unexpected output %q", out)
	}
	if len(stub.minted) != 1 || stub.minted[0] != "mint:"+common.HexToAddress(studentHex).Hex()+":bafkreiabc" {
		t.Fatalf("unexpected mint calls %v", stub.minted)
	}
}

func TestMintCertificateRequiresRole(t *testing.T) {
	stub := newStub()
	stub.hasRole = false
	r := newTestRegistry(t, stub)

	out := r.Call(context.Background(), ToolMintCertificate, `{"student_address":"`+studentHex+`","ipfs_hash":"h"}`)
	if out != "❌ Error: Signer does not have university role" {
		t.Fatalf("unexpected output %q", out)
	}
	if len(stub.minted) != 0 {
		t.Fatal("mint must not be sent without the university role")
	}
}

func TestMintCertificateWithoutSigner(t *testing.T) {
	stub := newStub()
	stub.hasSigner = false
	r := newTestRegistry(t, stub)

	out := r.Call(context.Background(), ToolMintCertificate, `{"student_address":"`+studentHex+`","ipfs_hash":"h"}`)
	if out != "❌ Error: "+web3.ErrNoSigner.Error() {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestToolsRejectInvalidArguments(t *testing.T) {
	r := newTestRegistry(t, newStub())
	cases := []struct {
		tool, args, contains string
	}{
		{ToolMintCertificate, `{"student_address":"0x123","ipfs_hash":"h"}`, "invalid address"},
		{ToolMintCertificate, `{"student_address":"` + studentHex + `"}`, "ipfs_hash is required"},
		{ToolMintScannedCertificate, `{"student_address":"` + studentHex + `","ipfs_hash":"h"}`, "scan_hash is required"},
		{ToolAddUniversity, `{}`, "university_address is required"},
		{ToolGetCertificate, `{"token_id":"abc"}`, "invalid token_id"},
		{ToolCheckUniversityRole, `{"address":"not-an-address"}`, "invalid address"},
		{ToolAddUniversity, `{not json`, "invalid tool arguments"},
		{"burn_certificate", `{}`, "unknown tool burn_certificate"},
	}
	for _, tc := range cases {
		out := r.Call(context.Background(), tc.tool, tc.args)
		if !strings.HasPrefix(out, "❌ Error: ") || !strings.Contains(out, tc.contains) {
			t.Fatalf("%s(%s): unexpected output %q", tc.tool, tc.args, out)
		}
	}
}

func TestTransactionFailureNeverPropagates(t *testing.T) {
	stub := newStub()
	stub.mintErr = errors.New("insufficient funds for gas * price + value")
	r := newTestRegistry(t, stub)

	out := r.Call(context.Background(), ToolMintScannedCertificate,
		`{"student_address":"`+studentHex+`","ipfs_hash":"h","scan_hash":"s"}`)
	if out != "❌ Error: insufficient funds for gas * price + value" {
		t.Fatalf("unexpected output %q", out)
	}

	stub.mintErr = nil
	stub.panicMint = true
	out = r.Call(context.Background(), ToolAddUniversity, `{"university_address":"`+universityHex+`"}`)
	if !strings.HasPrefix(out, "❌ Error: tool add_university panicked") {
		t.Fatalf("panic should be converted to failure text, got %q", out)
	}
}

func TestReadOnlyTools(t *testing.T) {
	stub := newStub()
	stub.cert = web3.Certificate{
		IPFSHash:   "bafkreiabc",
		University: common.HexToAddress(universityHex),
		IssueDate:  time.Unix(1700000000, 0),
		IsValid:    true,
	}
	stub.ids = []*big.Int{big.NewInt(1), big.NewInt(7)}
	r := newTestRegistry(t, stub)

	out := r.Call(context.Background(), ToolGetCertificate, `{"token_id":7}`)
	want := "✅ Certificate 7: ipfsHash=bafkreiabc, university=" + common.HexToAddress(universityHex).Hex() +
		", issued=2023-11-14T22:13:20Z, valid=true, verified=false"
	if out != want {
		t.Fatalf("unexpected certificate output:\n got %q\nwant %q", out, want)
	}

	out = r.Call(context.Background(), ToolGetCertificate, `{"token_id":"0"}`)
	if !strings.HasPrefix(out, "❌ Error: execution reverted") {
		t.Fatalf("unexpected output %q", out)
	}

	out = r.Call(context.Background(), ToolGetStudentCertificates, `{"student_address":"`+studentHex+`"}`)
	if out != "✅ Student "+common.HexToAddress(studentHex).Hex()+" holds certificates: [1, 7]" {
		t.Fatalf("unexpected list output %q", out)
	}

	out = r.Call(context.Background(), ToolCheckUniversityRole, `{"address":"`+universityHex+`"}`)
	if out != "✅ "+common.HexToAddress(universityHex).Hex()+" has university role" {
		t.Fatalf("unexpected role output %q", out)
	}
	stub.hasRole = false
	out = r.Call(context.Background(), ToolCheckUniversityRole, `{"address":"`+universityHex+`"}`)
	if out != "❌ "+common.HexToAddress(universityHex).Hex()+" does not have university role" {
		t.Fatalf("unexpected role output %q", out)
	}
}

func TestObserversReceiveInvocations(t *testing.T) {
	var got []Invocation
	observer := ObserverFunc(func(_ context.Context, inv Invocation) { got = append(got, inv) })
	panicky := ObserverFunc(func(context.Context, Invocation) { panic("ledger down") })

	r := newTestRegistry(t, newStub(), WithObserver(observer), WithObserver(panicky))
	ctx := WithThreadID(context.Background(), "certificate_verification")

	out := r.Call(ctx, ToolMintCertificate, `{"student_address":"`+studentHex+`","ipfs_hash":"h"}`)
	if !strings.HasPrefix(out, SuccessMarker) {
		t.Fatalf("observer panic must not change output, got %q", out)
	}
	r.Call(ctx, ToolAddUniversity, `{"university_address":"nope"}`)

	if len(got) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(got))
	}
	if !got[0].Success() || got[0].ThreadID != "certificate_verification" || got[0].Result.TxHash == "" {
		t.Fatalf("unexpected first invocation %+v", got[0])
	}
	if got[0].Result.StudentAddress != common.HexToAddress(studentHex).Hex() {
		t.Fatalf("student address not recorded: %+v", got[0].Result)
	}
	if got[1].Success() || got[1].Tool != ToolAddUniversity {
		t.Fatalf("unexpected second invocation %+v", got[1])
	}
}

func TestArgumentsKeepLargeNumbers(t *testing.T) {
	args, err := ParseArguments(`{"token_id":123456789012345678901234567890}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	n, err := args.BigInt("token_id")
	if err != nil || n.String() != "123456789012345678901234567890" {
		t.Fatalf("unexpected token id %v (%v)", n, err)
	}
	if empty, err := ParseArguments(""); err != nil || len(empty) != 0 {
		t.Fatalf("empty arguments should parse to an empty map")
	}
}
