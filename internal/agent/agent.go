package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"CertVerify-Chain/internal/conversation"
	xerrors "CertVerify-Chain/internal/errors"
	"CertVerify-Chain/internal/knowledge"
	"CertVerify-Chain/internal/llm"
	"CertVerify-Chain/internal/observability/metrics"
	"CertVerify-Chain/internal/tools"
	"CertVerify-Chain/pkg/logger"
)

// 片段来源。
const (
	SourceAgent = "agent"
	SourceTools = "tools"
)

// Fragment 是一轮对话中按顺序产生的一段输出。
type Fragment struct {
	Source   string `json:"source"`
	Text     string `json:"text"`
	ToolName string `json:"tool,omitempty"`
}

// ToolExecutor 是 Agent 对工具注册表的依赖。
type ToolExecutor interface {
	Specs() []llm.ToolSpec
	Call(ctx context.Context, name, rawArgs string) string
}

// Agent 协调大模型与证书工具，是系统的业务核心。
type Agent struct {
	llmClient    llm.Client
	tools        ToolExecutor
	store        conversation.Store
	knowledge    knowledge.Provider
	systemPrompt string
	maxSteps     int
	memoryDepth  int
	llmTimeout   time.Duration
	log          *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

const (
	// defaultMaxSteps 是一轮对话中允许调用大模型的最大次数。
	defaultMaxSteps = 8
	// defaultMemoryDepth 是每个线程保留的历史消息条数。
	defaultMemoryDepth = 40
)

// WithMaxSteps 设置一轮对话中调用大模型的最大次数。
func WithMaxSteps(steps int) Option {
	return func(a *Agent) {
		a.maxSteps = steps
	}
}

// WithMemoryDepth 设置每个线程保留的历史消息条数。
func WithMemoryDepth(depth int) Option {
	return func(a *Agent) {
		a.memoryDepth = depth
	}
}

// WithConversationStore 指定会话历史的存储。
func WithConversationStore(store conversation.Store) Option {
	return func(a *Agent) {
		if store != nil {
			a.store = store
		}
	}
}

// WithKnowledgeProvider 配置知识库，用于在推理前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Agent) {
		a.knowledge = provider
	}
}

// WithSystemPrompt 替换默认的系统提示。
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// New 创建一个 Agent。
func New(llmClient llm.Client, executor ToolExecutor, opts ...Option) *Agent {
	ag := &Agent{
		llmClient:    llmClient,
		tools:        executor,
		systemPrompt: VerificationPrompt,
		maxSteps:     defaultMaxSteps,
		memoryDepth:  defaultMemoryDepth,
		log:          logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.maxSteps <= 0 {
		ag.maxSteps = defaultMaxSteps
	}
	if ag.memoryDepth <= 0 {
		ag.memoryDepth = defaultMemoryDepth
	}
	if ag.store == nil {
		ag.store = conversation.NewMemoryStore()
	}
	return ag
}

type statelessKey struct{}

// Stateless 标记一轮不读写会话历史的对话，用于一次性的证书验证请求。
func Stateless(ctx context.Context) context.Context {
	return context.WithValue(ctx, statelessKey{}, true)
}

func isStateless(ctx context.Context) bool {
	v, _ := ctx.Value(statelessKey{}).(bool)
	return v
}

// Stream 处理一条用户输入，按产生顺序返回模型文本与工具结果。
// 序列只能消费一次；调用方提前停止时本轮消息不会写入历史。
func (a *Agent) Stream(ctx context.Context, threadID, input string) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		if a.llmClient == nil {
			yield(Fragment{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端"))
			return
		}
		if strings.TrimSpace(input) == "" {
			yield(Fragment{}, xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空"))
			return
		}

		stateless := isStateless(ctx)
		var history []llm.Message
		if !stateless {
			loaded, err := a.store.Load(ctx, threadID)
			if err != nil {
				yield(Fragment{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "加载会话历史失败"))
				return
			}
			history = loaded
		}

		ctx = tools.WithThreadID(ctx, threadID)
		system := a.buildSystemPrompt(input)
		turn := []llm.Message{llm.UserMessage(input)}

		var specs []llm.ToolSpec
		if a.tools != nil {
			specs = a.tools.Specs()
		}

		for step := 1; ; step++ {
			if step > a.maxSteps {
				yield(Fragment{}, xerrors.New(xerrors.CodeAgentFailure,
					fmt.Sprintf("超过最大推理步数 %d", a.maxSteps),
					xerrors.WithMetadata("thread_id", threadID)))
				return
			}

			messages := make([]llm.Message, 0, len(history)+len(turn)+1)
			messages = append(messages, llm.SystemMessage(system))
			messages = append(messages, history...)
			messages = append(messages, turn...)

			resp, err := a.generate(ctx, llm.Request{Messages: messages, Tools: specs})
			if err != nil {
				yield(Fragment{}, err)
				return
			}

			turn = append(turn, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
			if !yield(Fragment{Source: SourceAgent, Text: resp.Content}, nil) {
				return
			}

			if len(resp.ToolCalls) == 0 {
				metrics.ObserveAgentSteps(step)
				if !stateless {
					a.persist(ctx, threadID, turn)
				}
				return
			}

			for _, call := range resp.ToolCalls {
				output := a.callTool(ctx, call)
				turn = append(turn, llm.ToolResultMessage(call, output))
				if !yield(Fragment{Source: SourceTools, Text: output, ToolName: call.Name}, nil) {
					return
				}
			}
		}
	}
}

// Collect 消费完整个序列并返回全部片段，遇到错误立即返回。
func Collect(seq iter.Seq2[Fragment, error]) ([]Fragment, error) {
	var out []Fragment
	for fragment, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, fragment)
	}
	return out, nil
}

func (a *Agent) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	resp, err := a.llmClient.Generate(llmCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(llmCtx.Err(), context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeAgentFailure, err, "大模型推理失败")
	}
	if resp == nil {
		resp = &llm.Response{}
	}
	return resp, nil
}

func (a *Agent) callTool(ctx context.Context, call llm.ToolCall) string {
	if a.tools == nil {
		return tools.Fail(fmt.Errorf("unknown tool %s", call.Name)).Text
	}
	return a.tools.Call(ctx, call.Name, call.Arguments)
}

func (a *Agent) buildSystemPrompt(input string) string {
	if a.knowledge == nil {
		return a.systemPrompt
	}
	notes := knowledge.Render(a.knowledge.Query(input))
	if notes == "" {
		return a.systemPrompt
	}
	return a.systemPrompt + "\n\n" + notes
}

// persist 写入本轮消息，失败只记录日志：回复已经交付给调用方。
func (a *Agent) persist(ctx context.Context, threadID string, turn []llm.Message) {
	if err := a.store.Append(ctx, threadID, turn, a.memoryDepth); err != nil {
		a.log.Warn("保存会话历史失败", slog.String("thread_id", threadID), slog.Any("error", err))
	}
}
