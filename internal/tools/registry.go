package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"CertVerify-Chain/internal/llm"
	"CertVerify-Chain/internal/observability/metrics"
	"CertVerify-Chain/pkg/logger"
)

// json 保留数字原文，避免 token id 等大整数在解析时丢失精度。
var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// 工具输出前缀。
const (
	SuccessMarker = "✅"
	FailureMarker = "❌"
)

// Result 是一次工具执行的结构化结果，Text 是返回给大模型的文本。
type Result struct {
	Text           string
	TxHash         string
	StudentAddress string
	Err            error
}

// Succeed 构造成功结果。
func Succeed(format string, args ...any) Result {
	return Result{Text: SuccessMarker + " " + fmt.Sprintf(format, args...)}
}

// Fail 构造失败结果，文本固定为 "❌ Error: <message>"。
func Fail(err error) Result {
	return Result{Text: FailureMarker + " Error: " + err.Error(), Err: err}
}

// Handler 执行工具逻辑。
type Handler func(ctx context.Context, args Arguments) Result

// Tool 描述一个可被大模型调用的动作。
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Spec 返回交给大模型的工具描述。
func (t Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// Call 执行工具并只返回文本结果。
func (t Tool) Call(ctx context.Context, args Arguments) string {
	return t.invoke(ctx, args).Text
}

func (t Tool) invoke(ctx context.Context, args Arguments) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(fmt.Errorf("tool %s panicked: %v", t.Name, r))
		}
	}()
	if t.Handler == nil {
		return Fail(fmt.Errorf("tool %s has no handler", t.Name))
	}
	return t.Handler(ctx, args)
}

// Invocation 记录一次工具调用，供流水、事件与告警使用。
type Invocation struct {
	ThreadID  string
	Tool      string
	Arguments string
	Result    Result
	Duration  time.Duration
	StartedAt time.Time
}

// Success 表示调用是否没有发生错误。
func (i Invocation) Success() bool {
	return i.Result.Err == nil
}

// Observer 在每次工具调用结束后收到通知，不能影响返回文本。
type Observer interface {
	ObserveTool(ctx context.Context, inv Invocation)
}

// ObserverFunc 允许使用普通函数作为 Observer。
type ObserverFunc func(ctx context.Context, inv Invocation)

// ObserveTool 实现 Observer 接口。
func (f ObserverFunc) ObserveTool(ctx context.Context, inv Invocation) { f(ctx, inv) }

// Option 定义 Registry 的可选配置。
type Option func(*Registry)

// WithObserver 注册一个调用观察者。
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// Registry 按注册顺序保存工具，可被多个入口并发使用。
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	order     []string
	observers []Observer
	log       *slog.Logger
}

// NewRegistry 创建空的工具注册表。
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{tools: make(map[string]Tool), log: logger.Named("tools")}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register 注册工具，名称不能为空也不能重复。
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return fmt.Errorf("工具名称不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("工具 %s 已注册", name)
	}
	tool.Name = name
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Lookup 按名称查找工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tools 按注册顺序返回全部工具。
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Specs 按注册顺序返回工具描述。
func (r *Registry) Specs() []llm.ToolSpec {
	tools := r.Tools()
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, tool := range tools {
		specs = append(specs, tool.Spec())
	}
	return specs
}

// Call 解析 JSON 参数并执行指定工具。任何错误都以失败文本返回。
func (r *Registry) Call(ctx context.Context, name, rawArgs string) string {
	started := time.Now()

	var res Result
	tool, ok := r.Lookup(name)
	if !ok {
		res = Fail(fmt.Errorf("unknown tool %s", name))
	} else if args, err := ParseArguments(rawArgs); err != nil {
		res = Fail(err)
	} else {
		res = tool.invoke(ctx, args)
	}

	inv := Invocation{
		ThreadID:  ThreadIDFrom(ctx),
		Tool:      name,
		Arguments: rawArgs,
		Result:    res,
		Duration:  time.Since(started),
		StartedAt: started,
	}
	outcome := "success"
	if !inv.Success() {
		outcome = "failure"
		r.log.Warn("工具调用失败", slog.String("tool", name), slog.String("thread_id", inv.ThreadID), slog.Any("error", res.Err))
	}
	metrics.ObserveToolInvocation(name, outcome, inv.Duration)

	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		r.notify(ctx, o, inv)
	}
	return res.Text
}

func (r *Registry) notify(ctx context.Context, o Observer, inv Invocation) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("工具观察者异常", slog.String("tool", inv.Tool), slog.Any("panic", rec))
		}
	}()
	o.ObserveTool(ctx, inv)
}

type threadKey struct{}

// WithThreadID 把会话线程 ID 放入上下文，供观察者记录。
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadKey{}, threadID)
}

// ThreadIDFrom 读取上下文中的线程 ID。
func ThreadIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(threadKey{}).(string)
	return id
}
