package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Zerofisher/anxun/agent"
	"github.com/Zerofisher/anxun/internal/app"
	"github.com/Zerofisher/anxun/pkg/model"
)

// fail writes err with the status statusFor picks. Internal errors carry
// the endpoint's context prefix.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, prefix string) {
	status := statusFor(err)
	msg := strings.TrimPrefix(err.Error(), model.ErrInvalidInput.Error()+": ")
	if status == http.StatusInternalServerError {
		msg = prefix + ": " + msg
		s.logger.LogError("request failed", map[string]string{
			"path":       r.URL.Path,
			"error":      err.Error(),
			"request_id": r.Header.Get(RequestIDHeader),
		})
	}
	writeError(w, status, msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.timestamp(),
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

func (req *chatRequest) normalize() {
	if req.SessionID == "" {
		req.SessionID = agent.DefaultSessionID
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err, "处理请求时发生错误")
		return
	}
	req.normalize()

	reply, err := s.backend.Chat(r.Context(), req.Message, app.ChatOptions{SessionID: req.SessionID, Model: req.Model})
	if err != nil {
		s.fail(w, r, err, "处理请求时发生错误")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response":   reply,
		"session_id": req.SessionID,
		"timestamp":  s.timestamp(),
	})
}

// handleChatStream relays the reply as server-sent events: content frames,
// then a done frame or an error frame.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err, "处理请求时发生错误")
		return
	}
	req.normalize()

	chunks, stop, err := s.backend.ChatStream(r.Context(), req.Message, app.ChatOptions{SessionID: req.SessionID, Model: req.Model})
	if err != nil {
		s.fail(w, r, err, "处理请求时发生错误")
		return
	}
	defer stop()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for chunk := range chunks {
		var frame map[string]any
		switch {
		case chunk.Err != nil:
			frame = map[string]any{"error": fmt.Sprintf("处理请求时发生错误: %v", chunk.Err)}
		case chunk.Done:
			frame = map[string]any{"done": true, "session_id": req.SessionID, "timestamp": s.timestamp()}
		default:
			frame = map[string]any{"content": chunk.Content, "session_id": req.SessionID}
		}
		if err := writeEvent(w, frame); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, frame map[string]any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) handleAnalyzePcap(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("文件过大，最大允许%dMB", s.maxUpload>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "没有上传文件")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "没有上传文件")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "文件名为空")
		return
	}
	if err := app.CheckExtension(header.Filename); err != nil {
		s.fail(w, r, err, "分析文件时发生错误")
		return
	}

	tmpPath, cleanup, err := s.stageUpload(file, filepath.Ext(header.Filename))
	if err != nil {
		s.fail(w, r, err, "分析文件时发生错误")
		return
	}
	defer cleanup()

	opts := app.ProcessOptions{
		SourceName: header.Filename,
		Filter:     r.FormValue("filter"),
		Model:      r.FormValue("model"),
		Thinking:   !strings.EqualFold(r.FormValue("enable_thinking"), "false"),
	}
	result, err := s.backend.ProcessPcapFile(r.Context(), tmpPath, opts)
	if err != nil {
		s.fail(w, r, err, "分析文件时发生错误")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"filename":        header.Filename,
		"analysis_result": result,
		"timestamp":       s.timestamp(),
	})
}

// stageUpload copies an upload into a temp file that the returned cleanup
// removes.
func (s *Server) stageUpload(src io.Reader, ext string) (string, func(), error) {
	f, err := os.CreateTemp(s.tempDir, "anxun_upload_*"+strings.ToLower(ext))
	if err != nil {
		return "", nil, fmt.Errorf("create upload file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("save upload: %w", err)
	}
	return f.Name(), cleanup, nil
}

func (s *Server) handleCaptureTraffic(w http.ResponseWriter, r *http.Request) {
	var req model.CaptureRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err, "捕获流量时发生错误")
		return
	}

	packets, err := s.backend.CaptureTraffic(r.Context(), req)
	if err != nil {
		s.fail(w, r, err, "捕获流量时发生错误")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"captured_packets": len(packets),
		"data":             packets,
		"timestamp":        s.timestamp(),
	})
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"interfaces": s.backend.Interfaces(r.Context()),
		"timestamp":  s.timestamp(),
	})
}

func (s *Server) handleAnalysisHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.backend.History(0)
	if err != nil {
		s.fail(w, r, err, "获取历史记录时发生错误")
		return
	}
	if history == nil {
		history = []model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"history":   history,
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		id = agent.DefaultSessionID
	}
	turns := s.backend.ChatHistory(id)
	if turns == nil {
		turns = []model.ChatTurn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"chat_history": turns,
		"session_id":   id,
		"timestamp":    s.timestamp(),
	})
}

func (s *Server) handleClearChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err, "清空聊天历史时发生错误")
		return
	}
	if req.SessionID == "" {
		req.SessionID = agent.DefaultSessionID
	}
	s.backend.ClearChat(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "聊天历史已清空",
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	st := s.backend.Status(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"ollama_service":  st.AIService,
		"data_directory":  st.DataDirectory,
		"active_sessions": st.ActiveSessions,
		"provider":        st.Provider,
		"model":           st.Model,
		"timestamp":       s.timestamp(),
	})
}
