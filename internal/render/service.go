// Package render archives an email as a PDF and uploads it to object storage.
package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/common"
)

// Artifact describes an uploaded archival PDF. The local copy is removed once
// RenderAndUpload returns.
type Artifact struct {
	Bucket    string
	Key       string
	PublicURL string
	// FileName is the generated base name without extension, e.g. Email_20261017_101500_123456.
	FileName string
	Pages    int
}

type Config struct {
	PDFDir        string
	Bucket        string
	Folder        string // key prefix, e.g. "uploads/"
	Region        string
	UploadTimeout time.Duration
}

type Service struct {
	cfg      Config
	uploader Uploader
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(cfg Config, uploader Uploader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, uploader: uploader, logger: logger, now: time.Now}
}

// FileNameAt is the archival name for a PDF generated at t, to the microsecond.
func FileNameAt(t time.Time) string {
	return "Email_" + strings.Replace(t.Format("20060102_150405.000000"), ".", "_", 1)
}

// Render writes text (plus any PDF attachments, appended in order) to a new PDF in
// the configured directory. Attachments that are not valid PDFs are skipped.
func (s *Service) Render(text string, attachmentPaths []string) (path, name string, err error) {
	name = FileNameAt(s.now())
	path = filepath.Join(s.cfg.PDFDir, name+".pdf")

	var merge []string
	for _, p := range attachmentPaths {
		if !constants.IsMergeable(filepath.Ext(p)) {
			continue
		}
		if err := validPDF(p); err != nil {
			s.logger.Warn("render.attachment_skipped", "path", p, "error", err)
			continue
		}
		merge = append(merge, p)
	}

	if len(merge) == 0 {
		if err := TextToPDF(text, path); err != nil {
			return "", "", err
		}
		return path, name, nil
	}

	bodyPath := filepath.Join(s.cfg.PDFDir, name+".body.pdf")
	if err := TextToPDF(text, bodyPath); err != nil {
		return "", "", err
	}
	defer os.Remove(bodyPath)

	if err := MergePDFs(append([]string{bodyPath}, merge...), path); err != nil {
		return "", "", err
	}
	return path, name, nil
}

// RenderAndUpload renders the archival PDF and uploads it under Folder.
func (s *Service) RenderAndUpload(ctx context.Context, text string, attachmentPaths []string) (Artifact, error) {
	start := time.Now()
	path, name, err := s.Render(text, attachmentPaths)
	if err != nil {
		s.logger.Error("render.pdf_failed", "error", err)
		return Artifact{}, common.StorageError("render pdf", err)
	}
	defer s.removeLocal(path)

	pages, err := PageCount(path)
	if err != nil {
		s.logger.Warn("render.page_count_failed", "path", path, "error", err)
	}

	art := Artifact{
		Bucket:   s.cfg.Bucket,
		Key:      s.cfg.Folder + name + ".pdf",
		FileName: name,
		Pages:    pages,
	}
	art.PublicURL = ObjectURL(art.Bucket, s.cfg.Region, art.Key)

	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, common.StorageError("open pdf", err)
	}
	defer f.Close()

	upCtx, cancel := common.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()
	if err := s.uploader.Upload(upCtx, art.Bucket, art.Key, f, constants.PDFContentType); err != nil {
		s.logger.Error("render.upload_failed", "bucket", art.Bucket, "key", art.Key, "error", err)
		return Artifact{}, common.StorageError(fmt.Sprintf("upload %s", art.Key), err)
	}

	s.logger.Info("render.uploaded",
		"key", art.Key,
		"pages", art.Pages,
		"attachments", len(attachmentPaths),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return art, nil
}

func (s *Service) removeLocal(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("render.cleanup_failed", "path", path, "error", err)
	}
}
