package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"CertVerify-Chain/internal/web3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "CERTVERIFY_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件路径。
var DefaultPath = filepath.Join("configs", "certverify.json")

// Config 描述了证书验证服务在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Intake   IntakeConfig   `json:"intake"`
	LLM      LLMConfig      `json:"llm"`
	Agent    AgentConfig    `json:"agent"`
	Web3     Web3Config     `json:"web3"`
	Storage  StorageConfig  `json:"storage"`
	Events   EventsConfig   `json:"events"`
	Auth     AuthConfig     `json:"auth"`
	Logging  LoggingConfig  `json:"logging"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address"`
	MetricsAddress         string `json:"metrics_address"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

// ShutdownTimeout 返回优雅关闭的等待时间。
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// IntakeConfig 描述证书上传的落盘与校验策略。
type IntakeConfig struct {
	TempDir           string   `json:"temp_dir"`
	MaxUploadMB       int64    `json:"max_upload_mb"`
	AllowedExtensions []string `json:"allowed_extensions"`
}

// MaxUploadBytes 返回允许的最大上传字节数。
func (c IntakeConfig) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string         `json:"provider"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	OpenAI         ProviderConfig `json:"openai"`
	Ollama         ProviderConfig `json:"ollama"`
	Gemini         ProviderConfig `json:"gemini"`
}

// Timeout 返回单次大模型调用的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ProviderConfig 描述某个大模型服务商的访问参数。
type ProviderConfig struct {
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
}

// AgentConfig 控制工具调用循环的边界。
type AgentConfig struct {
	MaxSteps      int    `json:"max_steps"`
	MemoryDepth   int    `json:"memory_depth"`
	KnowledgePath string `json:"knowledge_path"`
	MaxSnippets   int    `json:"max_snippets"`
}

// Web3Config 包含访问区块链节点与证书合约所需的信息。
type Web3Config struct {
	ChainConfig           string `json:"chain_config"`
	DefaultChain          string `json:"default_chain"`
	RPCURL                string `json:"rpc_url"`
	ChainID               int64  `json:"chain_id"`
	ContractAddress       string `json:"contract_address"`
	PrivateKey            string `json:"private_key"`
	PrivateKeyEnv         string `json:"private_key_env"`
	KeystorePath          string `json:"keystore_path"`
	KeystorePassword      string `json:"keystore_password"`
	KeystorePasswordEnv   string `json:"keystore_password_env"`
	WaitReceipt           bool   `json:"wait_receipt"`
	ReceiptTimeoutSeconds int    `json:"receipt_timeout_seconds"`
	GasLimit              uint64 `json:"gas_limit"`
}

// ReceiptTimeout 返回等待交易回执的超时时间。
func (c Web3Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.ReceiptTimeoutSeconds) * time.Second
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	Activity     ActivityStoreConfig     `json:"activity"`
	Conversation ConversationStoreConfig `json:"conversation"`
}

// ActivityStoreConfig 描述工具调用流水的存储方式。
type ActivityStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// ConversationStoreConfig 描述会话历史的存储方式。
type ConversationStoreConfig struct {
	Driver     string      `json:"driver"`
	Redis      RedisConfig `json:"redis"`
	TTLSeconds int         `json:"ttl_seconds"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// EventsConfig 描述铸造事件的投递方式。
type EventsConfig struct {
	Driver   string              `json:"driver"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
}

// RedisQueueConfig 描述 Redis list 队列。
type RedisQueueConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AuthConfig 控制 HTTP 接口的身份认证。
type AuthConfig struct {
	Mode string    `json:"mode"`
	JWT  JWTConfig `json:"jwt"`
}

// JWTConfig 描述 HS256 令牌的签发与校验参数。
type JWTConfig struct {
	Secret           string   `json:"secret"`
	SecretEnv        string   `json:"secret_env"`
	Issuer           string   `json:"issuer"`
	Audience         []string `json:"audience"`
	AccessTTLSeconds int64    `json:"access_ttl_seconds"`
}

// LoggingConfig 描述结构化日志输出。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 描述审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// AlertingConfig 描述告警通知渠道。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv(os.Getenv)

	return &cfg, nil
}

// Resolve 根据环境变量定位配置文件；默认路径不存在时使用内置默认值。
func Resolve() (*Config, error) {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return Load(DefaultPath)
	}
	return Default(), nil
}

// Default 返回仅包含默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	cfg.applyEnv(os.Getenv)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":5000"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}

	if c.Intake.TempDir == "" {
		c.Intake.TempDir = "temp"
	}
	if c.Intake.MaxUploadMB <= 0 {
		c.Intake.MaxUploadMB = 16
	}
	if c.Intake.AllowedExtensions == nil {
		c.Intake.AllowedExtensions = []string{".pdf", ".jpg", ".jpeg", ".png"}
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.Gemini.APIKeyEnv == "" {
		c.LLM.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.LLM.Gemini.Model == "" {
		c.LLM.Gemini.Model = "gemini-2.5-flash"
	}
	if c.LLM.Ollama.Model == "" {
		c.LLM.Ollama.Model = "llama3.1"
	}

	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = 8
	}
	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 40
	}
	if c.Agent.MaxSnippets <= 0 {
		c.Agent.MaxSnippets = 3
	}
	c.Agent.KnowledgePath = resolvePath(baseDir, c.Agent.KnowledgePath)

	if c.Web3.RPCURL == "" {
		c.Web3.RPCURL = web3.DefaultRPCURL
	}
	if c.Web3.ChainID == 0 {
		c.Web3.ChainID = web3.DefaultChainID
	}
	if c.Web3.ContractAddress == "" {
		c.Web3.ContractAddress = web3.DefaultContractAddress
	}
	if c.Web3.PrivateKeyEnv == "" {
		c.Web3.PrivateKeyEnv = "PRIVATE_KEY"
	}
	if c.Web3.KeystorePasswordEnv == "" {
		c.Web3.KeystorePasswordEnv = "KEYSTORE_PASSWORD"
	}
	if c.Web3.ReceiptTimeoutSeconds <= 0 {
		c.Web3.ReceiptTimeoutSeconds = 60
	}
	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)
	c.Web3.KeystorePath = resolvePath(baseDir, c.Web3.KeystorePath)

	if c.Storage.Activity.Driver == "" {
		c.Storage.Activity.Driver = "memory"
	}
	if c.Storage.Conversation.Driver == "" {
		c.Storage.Conversation.Driver = "memory"
	}
	if c.Storage.Conversation.Redis.Prefix == "" {
		c.Storage.Conversation.Redis.Prefix = "certverify:thread:"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.JWT.SecretEnv == "" {
		c.Auth.JWT.SecretEnv = "CERTVERIFY_JWT_SECRET"
	}
	if c.Auth.JWT.Issuer == "" {
		c.Auth.JWT.Issuer = "certverify"
	}
	if c.Auth.JWT.AccessTTLSeconds <= 0 {
		c.Auth.JWT.AccessTTLSeconds = 3600
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	}
}

// applyEnv 读取一次进程环境，用环境变量补齐密钥与网络参数。
func (c *Config) applyEnv(getenv func(string) string) {
	fill := func(dst *string, envName string) {
		if strings.TrimSpace(*dst) != "" || envName == "" {
			return
		}
		*dst = strings.TrimSpace(getenv(envName))
	}

	fill(&c.LLM.OpenAI.APIKey, c.LLM.OpenAI.APIKeyEnv)
	fill(&c.LLM.Gemini.APIKey, c.LLM.Gemini.APIKeyEnv)
	fill(&c.LLM.Ollama.APIKey, c.LLM.Ollama.APIKeyEnv)
	fill(&c.Web3.PrivateKey, c.Web3.PrivateKeyEnv)
	fill(&c.Web3.KeystorePassword, c.Web3.KeystorePasswordEnv)
	fill(&c.Auth.JWT.Secret, c.Auth.JWT.SecretEnv)

	if v := strings.TrimSpace(getenv("CERTVERIFY_ADDRESS")); v != "" {
		c.Server.Address = v
	}
	if v := strings.TrimSpace(getenv("CERTVERIFY_RPC_URL")); v != "" {
		c.Web3.RPCURL = v
	}
	if v := strings.TrimSpace(getenv("CERTVERIFY_CHAIN_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			c.Web3.ChainID = id
		}
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
