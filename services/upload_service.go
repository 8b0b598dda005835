package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	apperrors "portal-service/common/errors"
	"portal-service/metrics"
	awspkg "portal-service/pkg/aws"
	"portal-service/repository"
	"portal-service/secure"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var documentTypePattern = regexp.MustCompile(`^[a-z][a-z_]{1,31}$`)

// UploadRequest is one document attached to a submission.
type UploadRequest struct {
	SubmissionID string
	DocumentType string
	Filename     string
	ContentType  string
	Size         int64
	Body         io.Reader
}

type UploadResult struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type UploadService struct {
	repo     repository.SubmissionRepository
	storage  awspkg.ObjectStorage
	detector FileTypeDetector
	maxBytes int64
	metrics  *metrics.Metrics
	cwm      *awspkg.MetricsClient
	security *secure.EventLogger
	logger   *zap.Logger
}

func NewUploadService(
	repo repository.SubmissionRepository,
	storage awspkg.ObjectStorage,
	detector FileTypeDetector,
	maxBytes int64,
	m *metrics.Metrics,
	cwm *awspkg.MetricsClient,
	security *secure.EventLogger,
	logger *zap.Logger,
) *UploadService {
	return &UploadService{
		repo:     repo,
		storage:  storage,
		detector: detector,
		maxBytes: maxBytes,
		metrics:  m,
		cwm:      cwm,
		security: security,
		logger:   logger,
	}
}

// Upload validates the document against its declared type and size, then
// stores it under submissions/<id>/<documentType>/.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if s.storage == nil {
		return nil, apperrors.New(http.StatusServiceUnavailable, "Document uploads are not configured", nil)
	}

	id, err := uuid.Parse(strings.TrimSpace(req.SubmissionID))
	if err != nil {
		return nil, apperrors.BadRequest("Invalid submissionId")
	}
	docType := strings.ToLower(strings.TrimSpace(req.DocumentType))
	if !documentTypePattern.MatchString(docType) {
		return nil, apperrors.BadRequest("Invalid documentType")
	}
	if req.Size <= 0 {
		return nil, apperrors.BadRequest("File is empty")
	}
	if req.Size > s.maxBytes {
		s.reject(ctx, req, "too_large")
		return nil, apperrors.New(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File exceeds the %d MB limit", s.maxBytes/(1<<20)), nil)
	}

	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("Submission not found")
		}
		return nil, apperrors.Internal("Failed to load submission", err)
	}

	head := make([]byte, SniffLen)
	n, err := io.ReadFull(req.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, apperrors.BadRequest("Failed to read file")
	}
	head = head[:n]

	ext := strings.ToLower(filepath.Ext(req.Filename))
	fileType, ok := s.detector.Detect(head)
	if !ok || !fileType.Accepts(req.ContentType, ext) {
		s.reject(ctx, req, "type_mismatch")
		return nil, apperrors.New(http.StatusUnsupportedMediaType, "Unsupported or mismatched file type", nil)
	}
	if !fileType.hasExtension(ext) {
		ext = fileType.Extensions[0]
	}

	key := fmt.Sprintf("submissions/%s/%s/%s%s", id, docType, uuid.NewString(), ext)
	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), req.Body), s.maxBytes)

	location, err := s.storage.PutObject(ctx, key, fileType.ContentType, body)
	if err != nil {
		s.metrics.Upload("storage_error")
		return nil, apperrors.Upstream("Failed to store document", err)
	}

	s.metrics.Upload("stored")
	_ = s.cwm.RecordCount(ctx, awspkg.MetricDocumentsUploaded, map[string]string{"DocumentType": docType})
	s.logger.Info("Document uploaded",
		zap.String("submission_id", id.String()),
		zap.String("document_type", docType),
		zap.String("content_type", fileType.ContentType),
		zap.Int64("size", req.Size),
		zap.String("location", location),
	)

	return &UploadResult{Key: key, ContentType: fileType.ContentType, Size: req.Size}, nil
}

func (s *UploadService) reject(ctx context.Context, req UploadRequest, reason string) {
	s.metrics.Upload(reason)
	s.security.Log(ctx, secure.SecurityEvent{
		Type:     secure.EventInvalidFile,
		Severity: secure.SeverityMedium,
		Details: map[string]interface{}{
			"reason":        reason,
			"submission_id": req.SubmissionID,
			"declared_type": req.ContentType,
			"size":          req.Size,
		},
	})
}
