package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"CertVerify-Chain/internal/agent"
	"CertVerify-Chain/internal/auth"
	"CertVerify-Chain/internal/config"
	"CertVerify-Chain/internal/conversation"
	"CertVerify-Chain/internal/events"
	"CertVerify-Chain/internal/intake"
	"CertVerify-Chain/internal/knowledge"
	"CertVerify-Chain/internal/llm"
	"CertVerify-Chain/internal/observability/alerting"
	"CertVerify-Chain/internal/storage/mysql"
	"CertVerify-Chain/internal/storage/redis"
	"CertVerify-Chain/internal/tools"
	"CertVerify-Chain/internal/verification"
	"CertVerify-Chain/internal/web3"
	"CertVerify-Chain/pkg/logger"
)

// App 持有服务运行期间共享的全部组件，Build 之后只读。
type App struct {
	Config        *config.Config
	Chain         *Chain
	Certificates  tools.Certificates
	Tools         *tools.Registry
	Agent         *agent.Agent
	Intake        *intake.Service
	Dispatcher    *verification.Dispatcher
	Relay         *verification.Relay
	Auth          *auth.Service
	Activity      mysql.ActivityLedger
	Events        events.Queue
	Alerts        alerting.Dispatcher
	Conversations conversation.Store

	closers []func() error
	log     *slog.Logger
}

// Option 调整 Build 的行为，主要用于测试和 CLI。
type Option func(*buildOptions)

type buildOptions struct {
	llmClient    llm.Client
	certificates tools.Certificates
	systemPrompt string
	withoutLLM   bool
}

// WithLLMClient 使用给定的大模型客户端，而不是按配置创建。
func WithLLMClient(client llm.Client) Option {
	return func(o *buildOptions) { o.llmClient = client }
}

// WithCertificates 使用给定的证书操作，跳过链连接。
func WithCertificates(certs tools.Certificates) Option {
	return func(o *buildOptions) { o.certificates = certs }
}

// WithSystemPrompt 替换 Agent 的系统提示。
func WithSystemPrompt(prompt string) Option {
	return func(o *buildOptions) { o.systemPrompt = prompt }
}

// WithoutLLM 只装配工具与存储，用于不需要对话的命令。
func WithoutLLM() Option {
	return func(o *buildOptions) { o.withoutLLM = true }
}

// Build 按配置装配全部组件。失败时已创建的资源会被释放。
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (app *App, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	var o buildOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	a := &App{Config: cfg, log: logger.Named("app")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 链与合约。
	certs := o.certificates
	chainID := cfg.Web3.ChainID
	if certs == nil {
		chain, err := OpenChain(ctx, cfg.Web3)
		if err != nil {
			return nil, err
		}
		a.Chain = chain
		a.closers = append(a.closers, func() error { chain.Close(); return nil })
		certs = chain.Certifier
		chainID = chain.ChainID
	}
	contract := certs.Contract().Hex()
	a.Certificates = certs

	// 流水、事件与告警。
	if a.Activity, err = openActivityLedger(ctx, cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Activity.Close)

	if a.Events, err = events.Open(ctx, cfg.Events); err != nil {
		return nil, fmt.Errorf("初始化事件队列失败: %w", err)
	}
	a.closers = append(a.closers, a.Events.Close)

	a.Alerts = openAlerts(cfg.Alerting)

	observer := &toolObserver{
		ledger:    a.Activity,
		publisher: a.Events,
		alerts:    a.Alerts,
		contract:  contract,
		chainID:   chainID,
		log:       logger.Named("activity"),
	}
	if a.Tools, err = tools.NewCertificateRegistry(certs, tools.WithObserver(observer)); err != nil {
		return nil, err
	}

	// 会话与 Agent。
	if a.Conversations, err = openConversationStore(ctx, cfg.Storage.Conversation); err != nil {
		return nil, err
	}
	if closer, ok := a.Conversations.(io.Closer); ok {
		a.closers = append(a.closers, closer.Close)
	}

	if !o.withoutLLM {
		llmClient := o.llmClient
		if llmClient == nil {
			if llmClient, err = NewLLMClient(ctx, cfg.LLM); err != nil {
				return nil, err
			}
		}
		kb, err := openKnowledge(cfg.Agent)
		if err != nil {
			return nil, err
		}
		prompt := o.systemPrompt
		if prompt == "" {
			prompt = agent.VerificationPrompt
		}
		a.Agent = agent.New(llmClient, a.Tools,
			agent.WithSystemPrompt(prompt),
			agent.WithMaxSteps(cfg.Agent.MaxSteps),
			agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
			agent.WithConversationStore(a.Conversations),
			agent.WithKnowledgeProvider(kb),
			agent.WithLLMTimeout(cfg.LLM.Timeout()),
		)
		a.Dispatcher = verification.NewDispatcher(a.Agent)
		a.Relay = verification.NewRelay(a.Agent)
	}

	a.Intake = intake.New(intake.Config{
		TempDir:           cfg.Intake.TempDir,
		MaxBytes:          cfg.Intake.MaxUploadBytes(),
		AllowedExtensions: cfg.Intake.AllowedExtensions,
	})

	if a.Auth, err = auth.NewService(AuthConfig(cfg.Auth)); err != nil {
		return nil, err
	}

	a.log.Info("应用已装配",
		slog.String("contract", contract),
		slog.Int64("chain_id", chainID),
		slog.Int("tools", len(a.Tools.Tools())),
		slog.Bool("agent", a.Agent != nil),
	)
	return a, nil
}

// ContractAddress 返回当前绑定的合约地址。
func (a *App) ContractAddress() string {
	if a == nil || a.Certificates == nil {
		return web3.DefaultContractAddress
	}
	return a.Certificates.Contract().Hex()
}

// Snapshot 读取默认链的概要信息，未连接链时返回错误。
func (a *App) Snapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if a == nil || a.Chain == nil || a.Chain.Client == nil {
		return web3.ChainSnapshot{}, errors.New("chain client not configured")
	}
	return a.Chain.Client.FetchChainSnapshot(ctx)
}

// Close 按创建的逆序释放资源。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// AuthConfig 把配置文件中的认证参数转换为 auth.Config。
func AuthConfig(cfg config.AuthConfig) auth.Config {
	return auth.Config{
		Mode: auth.Mode(cfg.Mode),
		JWT: auth.JWTOptions{
			Secret:    cfg.JWT.Secret,
			Issuer:    cfg.JWT.Issuer,
			Audience:  cfg.JWT.Audience,
			AccessTTL: time.Duration(cfg.JWT.AccessTTLSeconds) * time.Second,
		},
	}
}

// LoggerConfig 把日志配置转换为 logger.Config。
func LoggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		},
	}
}

func openActivityLedger(ctx context.Context, cfg *config.Config) (mysql.ActivityLedger, error) {
	store := cfg.Storage.Activity
	switch strings.ToLower(strings.TrimSpace(store.Driver)) {
	case "", "memory":
		return mysql.NewMemoryActivityLedger(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLActivityLedger(ctx, mysql.Config{
			DSN:             store.DSN,
			MaxOpenConns:    store.MaxOpenConns,
			MaxIdleConns:    store.MaxIdleConns,
			ConnMaxLifetime: time.Duration(store.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(store.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的流水存储驱动: %s", store.Driver)
	}
}

func openConversationStore(ctx context.Context, cfg config.ConversationStoreConfig) (conversation.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return conversation.NewMemoryStore(), nil
	case "redis":
		return redis.NewConversationStore(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      time.Duration(cfg.TTLSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的会话存储驱动: %s", cfg.Driver)
	}
}

func openAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alert")}}
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	return alerting.NewFanout(notifiers...)
}

func openKnowledge(cfg config.AgentConfig) (knowledge.Provider, error) {
	if strings.TrimSpace(cfg.KnowledgePath) == "" {
		return knowledge.NewStaticProvider(knowledge.Builtin(), cfg.MaxSnippets), nil
	}
	kb, err := knowledge.LoadStaticProvider(cfg.KnowledgePath, cfg.MaxSnippets)
	if err != nil {
		return nil, fmt.Errorf("加载知识库失败: %w", err)
	}
	return kb, nil
}
