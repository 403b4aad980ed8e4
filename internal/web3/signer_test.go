package web3

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// 公开的测试私钥（hardhat 默认账户 #0）。
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewSignerFromHex(t *testing.T) {
	signer, err := NewSignerFromHex("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}
	if got := signer.Address().Hex(); got != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Fatalf("unexpected address %s", got)
	}

	opts, err := signer.TransactOpts(context.Background(), big.NewInt(DefaultChainID))
	if err != nil {
		t.Fatalf("transact opts: %v", err)
	}
	if opts.From != signer.Address() || opts.Context == nil {
		t.Fatalf("unexpected opts %+v", opts)
	}
}

func TestNewSignerFromHexRejectsGarbage(t *testing.T) {
	if _, err := NewSignerFromHex("not-a-key"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestLoadSignerWithoutSource(t *testing.T) {
	if _, err := LoadSigner(SignerConfig{}); !errors.Is(err, ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner, got %v", err)
	}
	var s *Signer
	if _, err := s.TransactOpts(context.Background(), big.NewInt(1)); !errors.Is(err, ErrNoSigner) {
		t.Fatalf("nil signer should report ErrNoSigner, got %v", err)
	}
}

func TestNewSignerFromKeystore(t *testing.T) {
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	id, _ := uuid.NewRandom()
	ks := &keystore.Key{Id: id, Address: crypto.PubkeyToAddress(key.PublicKey), PrivateKey: key}
	blob, err := keystore.EncryptKey(ks, "secret", keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write keystore: %v", err)
	}

	signer, err := LoadSigner(SignerConfig{KeystorePath: path, KeystorePassword: "secret"})
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if signer.Address() != ks.Address {
		t.Fatalf("unexpected address %s", signer.Address().Hex())
	}
	if _, err := NewSignerFromKeystore(path, "wrong"); err == nil {
		t.Fatal("expected error for wrong password")
	}
}
