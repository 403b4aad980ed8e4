package api

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"

	"CertVerify-Chain/internal/agent"
	"CertVerify-Chain/internal/auth"
	"CertVerify-Chain/internal/intake"
	"CertVerify-Chain/internal/observability/metrics"
	"CertVerify-Chain/internal/storage/mysql"
	"CertVerify-Chain/internal/verification"
	"CertVerify-Chain/internal/web3"
	"CertVerify-Chain/pkg/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultShutdownTimeout = 5 * time.Second

// Intake 接收上传文件并计算摘要。
type Intake interface {
	Accept(ctx context.Context, upload *intake.Upload, studentAddress string) (*intake.Submission, error)
}

// Verifier 执行证书验证。
type Verifier interface {
	Verify(ctx context.Context, sub *intake.Submission) (*verification.Result, error)
}

// Chatter 处理自由对话。
type Chatter interface {
	Chat(ctx context.Context, message string) (string, error)
	Stream(ctx context.Context, threadID, message string) iter.Seq2[agent.Fragment, error]
}

// ActivityReader 查询工具调用流水。
type ActivityReader interface {
	ListLatest(ctx context.Context, limit int) ([]mysql.ActivityRecord, error)
}

// Dependencies 汇总 HTTP 层依赖的业务组件。
type Dependencies struct {
	Intake    Intake
	Verifier  Verifier
	Chat      Chatter
	Activity  ActivityReader
	Auth      *auth.Service
	Contract  string
	ChainName string
	// Snapshot 为首页与 /health 提供链信息，可以为空。
	Snapshot func(ctx context.Context) (web3.ChainSnapshot, error)
	// MaxUploadBytes 限制 /verify 请求体大小，0 表示不限制。
	MaxUploadBytes int64
	// AllowedExtensions 用于首页上传控件的 accept 属性。
	AllowedExtensions []string
}

// Server 负责暴露证书验证服务的 HTTP 接口。
type Server struct {
	addr            string
	deps            Dependencies
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// Option 调整 Server 的行为。
type Option func(*Server)

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies, opts ...Option) *Server {
	if deps.Contract == "" {
		deps.Contract = web3.DefaultContractAddress
	}
	if deps.ChainName == "" {
		deps.ChainName = "Base Sepolia"
	}
	s := &Server{
		addr:            addr,
		deps:            deps,
		shutdownTimeout: defaultShutdownTimeout,
		log:             logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载了全部路由与中间件的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s.instrument("home", http.HandlerFunc(s.handleHome)))
	mux.Handle("GET /health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("POST /verify", s.instrument("verify", s.protect(auth.PermVerify, http.HandlerFunc(s.handleVerify))))
	mux.Handle("POST /chat", s.instrument("chat", s.protect(auth.PermChat, http.HandlerFunc(s.handleChat))))
	mux.Handle("GET /ws/chat", s.instrument("ws_chat", s.protect(auth.PermChat, http.HandlerFunc(s.handleChatSocket))))
	mux.Handle("GET /api/v1/activity", s.instrument("activity", s.protect(auth.PermActivityRead, http.HandlerFunc(s.handleActivity))))

	return cors.AllowAll().Handler(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("Certificate verification service listening",
		slog.String("address", s.addr),
		slog.String("contract", s.deps.Contract))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// protect 在启用认证时要求调用方具备指定权限。
func (s *Server) protect(permission string, next http.Handler) http.Handler {
	if s.deps.Auth == nil || s.deps.Auth.Mode() == auth.ModeDisabled {
		return next
	}
	return s.deps.Auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {permission}},
	})(next)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSONError(w, http.StatusServiceUnavailable, "Service is shutting down")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
