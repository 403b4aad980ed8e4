package certverify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVerifyUploadsMultipartForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/verify" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("certificate")
		if err != nil {
			t.Errorf("missing certificate: %v", err)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		if header.Filename != "diploma.pdf" || string(content) != "%PDF" {
			t.Errorf("unexpected upload %s %q", header.Filename, content)
		}
		_ = json.NewEncoder(w).Encode(VerificationResult{
			CertificateHash:    "abc",
			ScanHash:           "def",
			VerificationResult: []string{"valid"},
			StudentAddress:     r.FormValue("studentAddress"),
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	result, err := client.Verify(context.Background(), "diploma.pdf", strings.NewReader("%PDF"), "0xabc")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.StudentAddress != "0xabc" || result.CertificateHash != "abc" || len(result.VerificationResult) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestChatSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "echo: " + body.Message})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.Chat(context.Background(), "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Unauthorized" {
		t.Fatalf("expected unauthorized api error, got %v", err)
	}

	client.SetAccessToken("token")
	reply, err := client.Chat(context.Background(), "hi")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "echo: hi" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestHealthAndActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_ = json.NewEncoder(w).Encode(Health{Status: "healthy", Contract: "0xEC14"})
		case "/api/v1/activity":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("unexpected limit %q", r.URL.Query().Get("limit"))
			}
			_ = json.NewEncoder(w).Encode([]ActivityRecord{{ID: 1, Tool: "mint_certificate", Success: true}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	health, err := client.Health(context.Background())
	if err != nil || health.Status != "healthy" {
		t.Fatalf("unexpected health %+v, %v", health, err)
	}
	records, err := client.Activity(context.Background(), 5)
	if err != nil || len(records) != 1 || records[0].Tool != "mint_certificate" {
		t.Fatalf("unexpected activity %+v, %v", records, err)
	}
}

func TestErrorFallsBackToRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream down" {
		t.Fatalf("expected raw body message, got %v", err)
	}
}
