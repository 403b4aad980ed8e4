package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"CertVerify-Chain/sdk/go/certverify"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(certverify.Health{
			Status:   "healthy",
			Message:  "Certificate verification service is running",
			Contract: "0xEC1436e5C911ae8a53066DF5E1CC79A9d8F8A789",
		})
	})
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(certverify.VerificationResult{
			CertificateHash:    "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
			ScanHash:           "4f8b42c22dd3729b519ba6f68d2da7cc5b2d606d05daed5ad5128cc03e6c6358",
			VerificationResult: []string{"Certificate appears valid. Minted token for the student."},
			StudentAddress:     r.FormValue("studentAddress"),
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := certverify.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	health, err := client.Health(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("service %s, contract %s\n", health.Status, health.Contract)

	result, err := client.Verify(ctx, "diploma.pdf", strings.NewReader("%PDF-1.7"), "0x1111111111111111111111111111111111111111")
	if err != nil {
		panic(err)
	}
	fmt.Printf("certificate %s verified for %s\n", result.CertificateHash, result.StudentAddress)
	for _, line := range result.VerificationResult {
		fmt.Println(" -", line)
	}
}
