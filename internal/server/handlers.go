package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"repost/internal/events"
	"repost/internal/listing"
	"repost/internal/models"
	"repost/internal/upload"
)

const (
	uploadField    = "image"
	maxCommentLen  = 1000
	multipartSlack = 1 << 20
)

func (s *Server) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "repost backend running")
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.repo.Ping(c.Request.Context()); err != nil {
		s.log.ErrorContext(c.Request.Context(), "health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	limit := int64(s.cfg.Upload.MaxFiles)*(s.cfg.Upload.MaxFileBytes+multipartSlack) + multipartSlack
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(c, op, models.Validationf("request body too large"))
			return
		}
		s.writeError(c, op, models.Validationf("no files uploaded"))
		return
	}
	// spilled multipart parts live in temp files until removed
	defer form.RemoveAll()

	files := form.File[uploadField]
	if len(files) == 0 {
		s.writeError(c, op, models.Validationf("no files uploaded"))
		return
	}
	if len(files) > s.cfg.Upload.MaxFiles {
		s.writeError(c, op, models.Validationf("at most %d files per upload", s.cfg.Upload.MaxFiles))
		return
	}

	items := make([]models.RawUpload, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh, s.cfg.Upload.MaxFileBytes)
		if err != nil {
			s.writeError(c, op, fmt.Errorf("%s: %w", op, err))
			return
		}
		items = append(items, models.RawUpload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	results, err := s.uploads.HandleBatch(c.Request.Context(), items)
	if err != nil {
		s.writeError(c, op, err)
		return
	}

	images := make([]models.Image, 0, len(results))
	for _, r := range results {
		if r.Image != nil {
			images = append(images, *r.Image)
		}
	}

	switch models.Outcome(results) {
	case models.BatchStored:
		c.JSON(http.StatusOK, gin.H{"images": images, "results": results})
	case models.BatchAllDuplicates:
		body := errorBody(kindDuplicate, "all images were already uploaded")
		body["images"], body["results"] = images, results
		c.JSON(http.StatusConflict, body)
	default:
		status, kind, msg := http.StatusInternalServerError, kindUpstream, "upload failed"
		if onlyRejected(results) {
			status, kind, msg = http.StatusBadRequest, kindValidation, "no valid images uploaded"
		}
		body := errorBody(kind, msg)
		body["images"], body["results"] = images, results
		c.JSON(status, body)
	}
}

// onlyRejected reports whether every failed item failed on its own content
// rather than on a backend.
func onlyRejected(results []models.UploadResult) bool {
	for _, r := range results {
		if r.Status != models.StatusFailed {
			continue
		}
		if r.Reason != models.ReasonInvalidImage && r.Reason != upload.ReasonTooLarge {
			return false
		}
	}
	return true
}

// readPart reads at most max+1 bytes so the orchestrator can reject
// oversize files without buffering all of them.
func readPart(fh *multipart.FileHeader, max int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, max+1))
}

func (s *Server) handleListImages(c *gin.Context) {
	const op = "server.handleListImages"

	page, err := intQuery(c, "page", 1)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	size, err := intQuery(c, "pageSize", 0)
	if err != nil {
		s.writeError(c, op, err)
		return
	}

	res, err := s.listing.List(c.Request.Context(), listing.Request{
		Page:     page,
		PageSize: size,
		Snapshot: c.Query("snapshot"),
	})
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, models.Validationf("%s must be a positive integer", key)
	}
	return n, nil
}

func (s *Server) handleGetImage(c *gin.Context) {
	const op = "server.handleGetImage"

	id, err := imageID(c)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	img, err := s.repo.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, img)
}

// imageID parses the :id path parameter. A malformed id names no image.
func imageID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, models.ErrNotFound
	}
	return id, nil
}

func (s *Server) handleLike(c *gin.Context) {
	const op = "server.handleLike"

	id, err := imageID(c)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	source := c.ClientIP()
	if err := s.repo.IncrementLike(c.Request.Context(), id, source); err != nil {
		s.writeError(c, op, err)
		return
	}

	s.publish(c, events.Event{Type: events.TypeImageLiked, ImageID: id.String(), Source: source})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type commentRequest struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

func (s *Server) handleComment(c *gin.Context) {
	const op = "server.handleComment"

	id, err := imageID(c)
	if err != nil {
		s.writeError(c, op, err)
		return
	}

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, op, models.Validationf("body must be a JSON object with a text field"))
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		s.writeError(c, op, models.Validationf("comment text is required"))
		return
	}
	if utf8.RuneCountInString(text) > maxCommentLen {
		s.writeError(c, op, models.Validationf("comment text exceeds %d characters", maxCommentLen))
		return
	}

	comment := models.Comment{Text: text, Author: strings.TrimSpace(req.Author)}
	if err := s.repo.AppendComment(c.Request.Context(), id, comment); err != nil {
		s.writeError(c, op, err)
		return
	}

	s.publish(c, events.Event{Type: events.TypeImageCommented, ImageID: id.String(), Source: c.ClientIP()})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) publish(c *gin.Context, e events.Event) {
	if err := s.events.Publish(c.Request.Context(), e); err != nil {
		s.log.WarnContext(c.Request.Context(), "publish event failed", "type", e.Type, "error", err)
	}
}
