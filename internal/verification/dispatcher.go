package verification

import (
	"context"
	stdErrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"CertVerify-Chain/internal/agent"
	"CertVerify-Chain/internal/conversation"
	xerrors "CertVerify-Chain/internal/errors"
	"CertVerify-Chain/internal/intake"
	"CertVerify-Chain/pkg/logger"
)

// MsgProcessingFailed 是验证失败时返回给 HTTP 调用方的固定信息。
const MsgProcessingFailed = "Certificate processing failed"

// promptTemplate 依次填入学生地址、证书哈希与扫描哈希。
const promptTemplate = `
Analyze this certificate file and:
1. Verify if it's a valid university certificate
2. Extract: university name, degree type, date
3. Check for any inconsistencies
4. If valid, mint it as an SBT for student address: %s
Certificate hash: %s
Scan hash: %s
`

// Streamer 是 Agent 的最小依赖面。
type Streamer interface {
	Stream(ctx context.Context, threadID, input string) iter.Seq2[agent.Fragment, error]
}

// Result 是一次证书验证的输出。
type Result struct {
	CertificateHash    string   `json:"certificateHash"`
	ScanHash           string   `json:"scanHash"`
	VerificationResult []string `json:"verificationResult"`
	StudentAddress     string   `json:"studentAddress"`
	CID                string   `json:"cid,omitempty"`
}

// Dispatcher 把证书提交转换为验证提示并收集 Agent 的结论。
type Dispatcher struct {
	agent    Streamer
	threadID string
	log      *slog.Logger
}

// NewDispatcher 创建验证调度器。每次提交都是独立的一轮，不读写会话历史。
func NewDispatcher(streamer Streamer) *Dispatcher {
	return &Dispatcher{
		agent:    streamer,
		threadID: conversation.VerifyThreadID,
		log:      logger.Named("verification"),
	}
}

// Prompt 构造发送给 Agent 的验证提示。
func Prompt(sub *intake.Submission) string {
	return fmt.Sprintf(promptTemplate, sub.StudentAddress, sub.ContentDigest, sub.ScanDigest)
}

// Verify 提交验证提示，只保留 Agent 产生的非空文本。
func (d *Dispatcher) Verify(ctx context.Context, sub *intake.Submission) (*Result, error) {
	if sub == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, intake.MsgMissingFile)
	}
	if d == nil || d.agent == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "verification agent not configured")
	}

	result := &Result{
		CertificateHash:    sub.ContentDigest,
		ScanHash:           sub.ScanDigest,
		VerificationResult: []string{},
		StudentAddress:     sub.StudentAddress,
		CID:                sub.CID,
	}
	for fragment, err := range d.agent.Stream(agent.Stateless(ctx), d.threadID, Prompt(sub)) {
		if err != nil {
			d.log.Error("Error in certificate processing",
				slog.String("certificate_hash", sub.ContentDigest),
				slog.Any("error", err))
			return nil, processingError(err)
		}
		if fragment.Source != agent.SourceAgent || strings.TrimSpace(fragment.Text) == "" {
			continue
		}
		result.VerificationResult = append(result.VerificationResult, fragment.Text)
	}
	return result, nil
}

// processingError 把 Agent 的错误收敛为 TIMEOUT 或 AGENT_FAILURE，对外信息固定。
func processingError(err error) error {
	code := xerrors.CodeAgentFailure
	if xerrors.CodeOf(err) == xerrors.CodeTimeout ||
		stdErrors.Is(err, context.DeadlineExceeded) {
		code = xerrors.CodeTimeout
	}
	return xerrors.Wrap(code, err, MsgProcessingFailed)
}
