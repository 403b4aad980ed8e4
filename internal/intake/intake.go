package intake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	xerrors "CertVerify-Chain/internal/errors"
	"CertVerify-Chain/internal/proofs"
	"CertVerify-Chain/pkg/logger"
)

// 客户端错误信息，与 HTTP 响应中的 error 字段保持一致。
const (
	MsgMissingFile    = "No certificate file"
	MsgMissingAddress = "Student address is required"
	MsgEmptyFileName  = "No selected file"
)

// Upload 描述一次上传的文件部分。
type Upload struct {
	FileName string
	Body     io.Reader
}

// Submission 是一次证书提交在内存中的全部信息，处理完毕即丢弃。
type Submission struct {
	FileName       string
	Bytes          []byte
	StudentAddress string
	ContentDigest  string
	ScanDigest     string
	CID            string
}

// Config 控制上传文件的落盘位置与限制。
type Config struct {
	TempDir           string
	MaxBytes          int64
	AllowedExtensions []string
}

// Service 负责接收上传文件、计算摘要并清理临时文件。
type Service struct {
	tempDir  string
	maxBytes int64
	allowed  map[string]struct{}
	log      *slog.Logger
}

// New 创建上传处理服务。
func New(cfg Config) *Service {
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = "temp"
	}
	var allowed map[string]struct{}
	if len(cfg.AllowedExtensions) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedExtensions))
		for _, ext := range cfg.AllowedExtensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			allowed[ext] = struct{}{}
		}
	}
	return &Service{
		tempDir:  tempDir,
		maxBytes: cfg.MaxBytes,
		allowed:  allowed,
		log:      logger.Named("intake"),
	}
}

// Accept 校验上传参数，将文件写入临时目录后读回并计算摘要。
// 无论成功与否，临时文件都会在返回前删除。
func (s *Service) Accept(ctx context.Context, upload *Upload, studentAddress string) (*Submission, error) {
	if upload == nil || upload.Body == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, MsgMissingFile)
	}
	studentAddress = strings.TrimSpace(studentAddress)
	if studentAddress == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, MsgMissingAddress)
	}
	if strings.TrimSpace(upload.FileName) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, MsgEmptyFileName)
	}

	name := SanitizeFileName(upload.FileName)
	if s.allowed != nil {
		if _, ok := s.allowed[strings.ToLower(filepath.Ext(name))]; !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("Unsupported file type: %s", filepath.Ext(name)))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "请求已取消")
	}

	content, err := s.roundTrip(name, upload.Body)
	if err != nil {
		return nil, err
	}

	fp, err := proofs.Compute(content)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "计算证书摘要失败")
	}

	return &Submission{
		FileName:       name,
		Bytes:          content,
		StudentAddress: studentAddress,
		ContentDigest:  fp.ContentDigest,
		ScanDigest:     fp.ScanDigest,
		CID:            fp.CID,
	}, nil
}

// roundTrip 把上传内容写入唯一的临时文件，再完整读回内存。
func (s *Service) roundTrip(name string, body io.Reader) ([]byte, error) {
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建临时目录失败")
	}

	path := filepath.Join(s.tempDir, uuid.NewString()+"-"+name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建临时文件失败")
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("删除临时文件失败", slog.String("path", path), slog.Any("error", err))
		}
	}()

	reader := body
	if s.maxBytes > 0 {
		reader = io.LimitReader(body, s.maxBytes+1)
	}
	written, copyErr := io.Copy(file, reader)
	closeErr := file.Close()
	if copyErr != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, copyErr, "读取上传文件失败")
	}
	if closeErr != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, closeErr, "写入临时文件失败")
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		return nil, xerrors.New(xerrors.CodePayloadTooLarge,
			fmt.Sprintf("Certificate file exceeds %d bytes", s.maxBytes))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取临时文件失败")
	}
	return content, nil
}

// SanitizeFileName 去掉路径成分，只保留字母、数字、点、下划线与短横线。
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	cleaned := strings.Trim(b.String(), "._")
	if cleaned == "" {
		return "certificate"
	}
	return cleaned
}
