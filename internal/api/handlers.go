package api

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "CertVerify-Chain/internal/errors"
	"CertVerify-Chain/internal/intake"
	"CertVerify-Chain/internal/storage/mysql"
	"CertVerify-Chain/internal/verification"
	"CertVerify-Chain/internal/web3"
)

const (
	// multipartMemory 是解析上传表单时保存在内存中的上限，超出部分由标准库落盘。
	multipartMemory = 32 << 20
	// snapshotTimeout 限制首页与健康检查读取链信息的时间。
	snapshotTimeout = 2 * time.Second

	defaultActivityLimit = 20
	maxActivityLimit     = 200
)

// healthResponse 是 /health 的响应体。
type healthResponse struct {
	Status   string              `json:"status"`
	Message  string              `json:"message"`
	Contract string              `json:"contract"`
	Chain    *web3.ChainSnapshot `json:"chain,omitempty"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Message:  "Certificate verification service is running",
		Contract: s.deps.Contract,
	}
	if snapshot, ok := s.snapshot(r.Context()); ok {
		resp.Chain = &snapshot
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.deps.Intake == nil || s.deps.Verifier == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Verification service is not configured")
		return
	}
	if s.deps.MaxUploadBytes > 0 {
		// 预留表单字段与 multipart 边界的空间，文件本身的上限由 intake 判断。
		r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes+1<<20)
	}

	upload, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Certificate file is too large")
			return
		}
		upload = nil
	}
	if closer, ok := upload.closer(); ok {
		defer closer.Close()
	}

	sub, err := s.deps.Intake.Accept(r.Context(), upload.toIntake(), r.FormValue("studentAddress"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.deps.Verifier.Verify(r.Context(), sub)
	if err != nil {
		s.log.Error("certificate verification failed",
			slog.String("certificate_hash", sub.ContentDigest),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, verification.MsgProcessingFailed)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Chat agent is not configured")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "Message is required")
		return
	}

	response, err := s.deps.Chat.Chat(r.Context(), req.Message)
	if err != nil {
		s.log.Error("chat failed", slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, errorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: response})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Activity == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Activity ledger is not configured")
		return
	}
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxActivityLimit)
	}
	records, err := s.deps.Activity.ListLatest(r.Context(), limit)
	if err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Failed to read activity"))
		return
	}
	if records == nil {
		records = []mysql.ActivityRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// snapshot 尽力读取链信息，失败时只记录调试日志。
func (s *Server) snapshot(ctx context.Context) (web3.ChainSnapshot, bool) {
	if s.deps.Snapshot == nil {
		return web3.ChainSnapshot{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	snapshot, err := s.deps.Snapshot(ctx)
	if err != nil {
		s.log.Debug("chain snapshot unavailable", slog.Any("error", err))
		return web3.ChainSnapshot{}, false
	}
	return snapshot, true
}

// uploadPart 描述表单中的 certificate 字段，浏览器未选择文件时只有空文件名。
type uploadPart struct {
	name string
	file multipart.File
	body string
}

func (u *uploadPart) closer() (multipart.File, bool) {
	if u == nil || u.file == nil {
		return nil, false
	}
	return u.file, true
}

func (u *uploadPart) toIntake() *intake.Upload {
	if u == nil {
		return nil
	}
	if u.file != nil {
		return &intake.Upload{FileName: u.name, Body: u.file}
	}
	return &intake.Upload{FileName: "", Body: strings.NewReader(u.body)}
}

// readUpload 解析 multipart 表单并取出 certificate 字段。
// 字段缺失时返回 nil，交由 intake 给出统一的错误信息。
func readUpload(r *http.Request) (*uploadPart, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, err
	}
	file, header, err := r.FormFile("certificate")
	if err == nil {
		return &uploadPart{name: header.Filename, file: file}, nil
	}
	if !errors.Is(err, http.ErrMissingFile) {
		return nil, err
	}
	// 空文件名的部分会被标准库当作普通字段。
	if values, ok := r.MultipartForm.Value["certificate"]; ok && len(values) > 0 {
		return &uploadPart{body: values[0]}, nil
	}
	return nil, nil
}

// writeError 根据统一错误码映射 HTTP 状态码。
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := xerrors.HTTPStatusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", err))
	}
	writeJSONError(w, status, errorMessage(err))
}

// errorMessage 返回面向调用方的信息，统一错误只暴露 Message。
func errorMessage(err error) string {
	if e, ok := xerrors.From(err); ok {
		return e.Message()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
