package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/viacanvas/intelligence/pkg/agent"
	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/extract"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/stream"
)

// maxMessageLength bounds the chat message body.
const maxMessageLength = 100_000

// chatHistoryLimit is how many prior messages of the session ride into the
// turn as conversation history.
const chatHistoryLimit = 20

// attachmentTextLimit caps the text extracted from one attached document
// before it joins the prompt.
const attachmentTextLimit = 20_000

// multipartMemoryLimit is the in-memory buffer for multipart parsing;
// larger attachments spill to temp files.
const multipartMemoryLimit = 16 << 20

// chatStreamHandler handles POST /api/v1/chat/stream. The response is a
// long-lived SSE stream; input validation failures are plain HTTP errors
// because the stream has not opened yet.
func (s *Server) chatStreamHandler(c *echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validateMessage(req.Message); err != nil {
		return err
	}

	return s.streamTurn(c, &req, nil, nil)
}

// chatMultimodalHandler handles POST /api/v1/chat/multimodal: the chat
// fields as multipart form values plus file attachments under "files".
// Every attachment is validated before the stream opens; images ride the
// turn inline, PDFs are converted to text and appended as context.
func (s *Server) chatMultimodalHandler(c *echo.Context) error {
	r := c.Request()
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed multipart request")
	}
	req := ChatRequest{
		Message:   r.FormValue("message"),
		SessionID: r.FormValue("session_id"),
		CanvasID:  r.FormValue("canvas_id"),
	}
	if err := validateMessage(req.Message); err != nil {
		return err
	}

	files := r.MultipartForm.File["files"]

	// Reject unsupported and oversize attachments up front, before any
	// event reaches the client.
	for _, fh := range files {
		if err := s.validateAttachment(fh); err != nil {
			return err
		}
	}

	var images []llm.ImageAttachment
	var docs []string
	for _, fh := range files {
		data, err := readAttachment(fh)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("reading attachment %q failed", fh.Filename))
		}
		mediaType := attachmentMediaType(fh)
		if mediaType == "application/pdf" {
			text, err := s.convertDocument(c.Request().Context(), fh.Filename, data)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnprocessableEntity,
					fmt.Sprintf("could not extract text from %q", fh.Filename))
			}
			docs = append(docs, fmt.Sprintf("[Attached document: %s]\n%s", fh.Filename, text))
			continue
		}
		images = append(images, llm.ImageAttachment{MediaType: mediaType, Data: data})
	}

	return s.streamTurn(c, &req, images, docs)
}

// streamTurn opens the SSE stream and drives one orchestrator turn over it.
func (s *Server) streamTurn(c *echo.Context, req *ChatRequest, images []llm.ImageAttachment, docs []string) error {
	sess, _ := s.sessions.GetOrCreate(req.SessionID, req.CanvasID)

	sseHeaders(c.Response().Header())
	c.Response().WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	proc := stream.NewProcessor(newSSESink(c.Response()))
	if err := proc.Init(ctx, sess.ID); err != nil {
		return nil // client disconnected before the first byte
	}

	// Forward this session's operation progress into the stream. The
	// processor serializes the two writers.
	if s.events != nil {
		sub := s.events.Subscribe(bus.TopicProgressUpdate, "chat-stream-"+sess.ID,
			func(ctx context.Context, ev bus.Event) {
				p, ok := ev.Payload.(bus.ProgressUpdatePayload)
				if !ok || p.SessionID != sess.ID {
					return
				}
				_ = proc.Progress(ctx, stream.ProgressPayload{
					OperationID:   p.OperationID,
					OperationType: p.OperationType,
					Step:          p.Step,
					Progress:      p.Progress,
					Message:       p.Message,
					CardsCreated:  p.CardsCreated,
					EstimatedTime: p.EstimatedTime,
					CanCancel:     p.CanCancel,
				})
			})
		defer sub.Unsubscribe()
	}

	turn := &agent.Turn{
		Message:   composeMessage(req.Message, docs),
		SessionID: sess.ID,
		CanvasID:  req.CanvasID,
		History:   s.turnHistory(sess.ID),
		Images:    images,
	}

	if err := s.sessions.Append(sess.ID, models.RoleUser, req.Message); err != nil {
		s.logger.Warn("appending user message failed", "session_id", sess.ID, "error", err)
	}

	answer, err := s.responder.Respond(ctx, turn, proc)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("chat stream cancelled by client", "session_id", sess.ID)
			return nil
		}
		s.logger.Error("chat turn failed", "session_id", sess.ID, "error", err)
		_ = proc.Error(ctx, err.Error())
		return nil
	}

	if err := s.sessions.Append(sess.ID, models.RoleAssistant, answer); err != nil {
		s.logger.Warn("appending assistant message failed", "session_id", sess.ID, "error", err)
	}
	_ = proc.Complete(ctx, answer)
	return nil
}

// turnHistory converts the session's recent log into conversation messages.
func (s *Server) turnHistory(sessionID string) []llm.ConversationMessage {
	log, err := s.sessions.History(sessionID, chatHistoryLimit)
	if err != nil {
		return nil
	}
	history := make([]llm.ConversationMessage, 0, len(log))
	for _, m := range log {
		history = append(history, llm.ConversationMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return history
}

// validateMessage enforces the non-empty and length bounds shared by both
// chat endpoints.
func validateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if len(message) > maxMessageLength {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("message exceeds maximum length of %d characters", maxMessageLength))
	}
	return nil
}

// validateAttachment enforces the accepted media types and per-type size
// caps: image/* up to MaxImageBytes, application/pdf up to MaxPDFBytes.
func (s *Server) validateAttachment(fh *multipart.FileHeader) error {
	mediaType := attachmentMediaType(fh)
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		if fh.Size > s.cfg.MaxImageBytes {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("image %q exceeds the %d byte limit", fh.Filename, s.cfg.MaxImageBytes))
		}
	case mediaType == "application/pdf":
		if fh.Size > s.cfg.MaxPDFBytes {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("PDF %q exceeds the %d byte limit", fh.Filename, s.cfg.MaxPDFBytes))
		}
	default:
		return echo.NewHTTPError(http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported attachment type %q; only images and PDFs are accepted", mediaType))
	}
	return nil
}

// attachmentMediaType reads the part's declared content type, falling back
// to the filename extension.
func attachmentMediaType(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if ct != "" && ct != "application/octet-stream" {
		if i := strings.Index(ct, ";"); i >= 0 {
			ct = ct[:i]
		}
		return strings.TrimSpace(ct)
	}
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func readAttachment(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// convertDocument runs an attached PDF through the converter registry and
// returns its text, truncated to the attachment budget.
func (s *Server) convertDocument(ctx context.Context, filename string, data []byte) (string, error) {
	if s.converter == nil {
		return "", fmt.Errorf("document conversion unavailable")
	}
	payload, err := s.converter.ConvertStream(ctx, data, extract.StreamInfo{
		MimeType:  "application/pdf",
		Extension: ".pdf",
		Filename:  filename,
	})
	if err != nil {
		return "", err
	}
	text := payload.Text()
	if len(text) > attachmentTextLimit {
		text = text[:attachmentTextLimit]
	}
	return text, nil
}

// composeMessage appends extracted document context after the user's text.
func composeMessage(message string, docs []string) string {
	if len(docs) == 0 {
		return message
	}
	return message + "\n\n" + strings.Join(docs, "\n\n")
}
