// Package certverify is a small Go client for the certificate verification
// HTTP service exposed by certd.
package certverify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Verification runs a full agent turn, so it is longer than a typical REST call.
const DefaultHTTPTimeout = 150 * time.Second

// Client wraps the HTTP interactions with the certificate verification service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// VerificationResult mirrors the body returned by POST /verify.
type VerificationResult struct {
	CertificateHash    string   `json:"certificateHash"`
	ScanHash           string   `json:"scanHash"`
	VerificationResult []string `json:"verificationResult"`
	StudentAddress     string   `json:"studentAddress"`
	CID                string   `json:"cid,omitempty"`
}

// ChainSnapshot is the optional chain summary attached to health responses.
type ChainSnapshot struct {
	ChainID     string `json:"chainId"`
	BlockNumber string `json:"blockNumber"`
	Notes       string `json:"notes,omitempty"`
}

// Health mirrors the body returned by GET /health.
type Health struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Contract string         `json:"contract"`
	Chain    *ChainSnapshot `json:"chain,omitempty"`
}

// ActivityRecord is one tool invocation recorded by the service.
type ActivityRecord struct {
	ID         int64     `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Tool       string    `json:"tool"`
	Arguments  string    `json:"arguments"`
	Output     string    `json:"output"`
	Success    bool      `json:"success"`
	TxHash     string    `json:"tx_hash,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// APIError represents a non-2xx response. The service always answers with
// a {"error": "..."} body.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("certverify api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the service. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the bearer token sent with every request.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token, for services running with auth.mode=jwt.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Verify uploads a certificate file for the given student and waits for the
// agent's verdict.
func (c *Client) Verify(ctx context.Context, fileName string, file io.Reader, studentAddress string) (VerificationResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("certificate", fileName)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return VerificationResult{}, fmt.Errorf("copy certificate: %w", err)
	}
	if err := mw.WriteField("studentAddress", studentAddress); err != nil {
		return VerificationResult{}, fmt.Errorf("write student address: %w", err)
	}
	if err := mw.Close(); err != nil {
		return VerificationResult{}, fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/verify", nil, &body)
	if err != nil {
		return VerificationResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result VerificationResult
	if err := c.do(req, &result); err != nil {
		return VerificationResult{}, err
	}
	return result, nil
}

// Chat sends one message to the agent and returns its concatenated reply.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/chat", nil, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Response string `json:"response"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Health reports the service status and the bound contract.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return Health{}, err
	}
	var health Health
	if err := c.do(req, &health); err != nil {
		return Health{}, err
	}
	return health, nil
}

// Activity returns the latest tool invocations, newest first. A limit of 0
// uses the server default.
func (c *Client) Activity(ctx context.Context, limit int) ([]ActivityRecord, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/activity", query, nil)
	if err != nil {
		return nil, err
	}
	var records []ActivityRecord
	if err := c.do(req, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
