package controllers

import (
	"context"
	"errors"
	"net/http"

	apperrors "portal-service/common/errors"
	"portal-service/common/logger"
	"portal-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipartOverhead leaves room for form fields and part headers on top of
// the file itself.
const multipartOverhead = 1 << 20

type Uploader interface {
	Upload(ctx context.Context, req services.UploadRequest) (*services.UploadResult, error)
}

type UploadController struct {
	Uploader Uploader
	MaxBytes int64
	Logger   *zap.Logger
}

func NewUploadController(uploader Uploader, maxBytes int64, logger *zap.Logger) *UploadController {
	return &UploadController{Uploader: uploader, MaxBytes: maxBytes, Logger: logger}
}

// UploadDocument accepts a multipart form with file, submissionId and
// documentType.
func (uc *UploadController) UploadDocument(c *gin.Context) {
	log := logger.FromContext(c, uc.Logger)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, uc.MaxBytes+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperrors.Respond(c, log, apperrors.New(http.StatusRequestEntityTooLarge, "File is too large", nil))
			return
		}
		apperrors.Respond(c, log, apperrors.BadRequest("file is required"))
		return
	}

	file, err := header.Open()
	if err != nil {
		apperrors.Respond(c, log, apperrors.BadRequest("Failed to read file"))
		return
	}
	defer file.Close()

	res, err := uc.Uploader.Upload(c.Request.Context(), services.UploadRequest{
		SubmissionID: c.PostForm("submissionId"),
		DocumentType: c.PostForm("documentType"),
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
		Body:         file,
	})
	if err != nil {
		apperrors.Respond(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
