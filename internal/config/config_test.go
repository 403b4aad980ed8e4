package config

import (
	"os"
	"path/filepath"
	"testing"

	"CertVerify-Chain/internal/web3"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "certverify.json")
	if err := os.WriteFile(path, []byte(`{"server":{"address":":9090"},"web3":{"chain_config":"chains.yaml"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Intake.TempDir != "temp" {
		t.Fatalf("unexpected temp dir: %s", cfg.Intake.TempDir)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.OpenAI.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("chain config should be resolved relative to config dir, got %s", cfg.Web3.ChainConfig)
	}
	if cfg.Web3.ContractAddress != web3.DefaultContractAddress || cfg.Web3.ChainID != web3.DefaultChainID {
		t.Fatalf("unexpected chain defaults: %+v", cfg.Web3)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
	if cfg.Intake.MaxUploadBytes() != 16<<20 {
		t.Fatalf("unexpected upload limit: %d", cfg.Intake.MaxUploadBytes())
	}
}

func TestApplyEnvFillsSecretsOnlyWhenEmpty(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY":      "sk-env",
		"PRIVATE_KEY":         "0xabc",
		"CERTVERIFY_RPC_URL":  "http://127.0.0.1:8545",
		"CERTVERIFY_CHAIN_ID": "1337",
	}
	cfg := &Config{}
	cfg.LLM.OpenAI.APIKey = "sk-file"
	cfg.applyDefaults(".")
	cfg.applyEnv(func(key string) string { return env[key] })

	if cfg.LLM.OpenAI.APIKey != "sk-file" {
		t.Fatalf("file api key should win, got %s", cfg.LLM.OpenAI.APIKey)
	}
	if cfg.Web3.PrivateKey != "0xabc" {
		t.Fatalf("private key not loaded from env: %q", cfg.Web3.PrivateKey)
	}
	if cfg.Web3.RPCURL != "http://127.0.0.1:8545" || cfg.Web3.ChainID != 1337 {
		t.Fatalf("unexpected web3 overrides: %+v", cfg.Web3)
	}
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
