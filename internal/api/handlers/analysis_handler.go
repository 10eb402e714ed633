package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/deepfake-detector/internal/services"
	"github.com/yoockh/deepfake-detector/internal/utils"
)

// multipartOverhead covers boundaries, part headers and small form fields
// sent alongside the file.
const multipartOverhead = 1 << 20

type AnalysisHandler struct {
	analyses       services.AnalysisService
	progress       services.ProgressService
	maxUploadBytes int64
}

// NewAnalysisHandler caps request bodies at maxUploadBytes plus multipart
// framing; zero uses services.DefaultMaxUploadBytes.
func NewAnalysisHandler(analyses services.AnalysisService, progress services.ProgressService, maxUploadBytes int64) *AnalysisHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = services.DefaultMaxUploadBytes
	}
	return &AnalysisHandler{analyses: analyses, progress: progress, maxUploadBytes: maxUploadBytes}
}

// Analyze accepts a multipart upload in the "image" or "video" field. Images
// answer 200 with the verdict; videos answer 202 while frames are processed.
// The file part is streamed straight into the service, so "priority" must
// precede it in the form or be given as a query parameter.
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	const op = "AnalysisHandler.Analyze"

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	mr, err := c.Request.MultipartReader()
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "expected a multipart/form-data upload", err))
		return
	}

	rawPriority := c.Query("priority")
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(c, uploadError(op, err))
			return
		}

		switch part.FormName() {
		case "priority":
			b, err := io.ReadAll(io.LimitReader(part, 64))
			_ = part.Close()
			if err != nil {
				writeError(c, uploadError(op, err))
				return
			}
			rawPriority = strings.TrimSpace(string(b))
		case "image", "video":
			if part.FileName() == "" {
				_ = part.Close()
				continue
			}
			priority, ok := parsePriority(c, op, rawPriority)
			if !ok {
				_ = part.Close()
				return
			}
			h.analyze(c, part, priority)
			_ = part.Close()
			return
		default:
			_ = part.Close()
		}
	}
	writeError(c, utils.E(utils.CodeInvalidArgument, op, "No image or video file provided", nil))
}

func (h *AnalysisHandler) analyze(c *gin.Context, part *multipart.Part, priority float64) {
	doc, err := h.analyses.Analyze(c.Request.Context(), services.AnalyzeRequest{
		UserID:      userID(c),
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Size:        c.Request.ContentLength, // upper bound; -1 when unknown
		Body:        part,
		Priority:    priority,
	})
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			err = uploadError("AnalysisHandler.Analyze", err)
		}
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if !doc.Status.Terminal() {
		status = http.StatusAccepted
	}
	c.JSON(status, doc)
}

func parsePriority(c *gin.Context, op, raw string) (float64, bool) {
	if raw == "" {
		return 0, true
	}
	priority, err := strconv.ParseFloat(raw, 64)
	if err != nil || priority < 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "priority must be a non-negative number", err))
		return 0, false
	}
	return priority, true
}

func uploadError(op string, err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return utils.E(utils.CodeTooLarge, op, fmt.Sprintf("request exceeds %d bytes", mbe.Limit), err)
	}
	return utils.E(utils.CodeInvalidArgument, op, "malformed multipart upload", err)
}

func (h *AnalysisHandler) History(c *gin.Context) {
	const op = "AnalysisHandler.History"

	limit, ok := queryInt(c, op, "limit", 10)
	if !ok {
		return
	}

	owner := c.Query("user_id")
	if u := userID(c); u != anonymousUser {
		owner = u
	}

	out, err := h.analyses.History(c.Request.Context(), owner, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *AnalysisHandler) Result(c *gin.Context) {
	id, ok := requireParam(c, "AnalysisHandler.Result", "session_id")
	if !ok {
		return
	}
	out, err := h.analyses.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *AnalysisHandler) State(c *gin.Context) {
	const op = "AnalysisHandler.State"

	id, ok := requireParam(c, op, "session_id")
	if !ok {
		return
	}
	st, found, err := h.progress.State(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, utils.E(utils.CodeNotFound, op, "session not found", nil))
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *AnalysisHandler) Upload(c *gin.Context) {
	const op = "AnalysisHandler.Upload"

	id, ok := requireParam(c, op, "session_id")
	if !ok {
		return
	}
	up, found, err := h.analyses.Upload(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, utils.E(utils.CodeNotFound, op, "upload not found", nil))
		return
	}
	c.JSON(http.StatusOK, up)
}
