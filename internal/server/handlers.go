package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ink-chat/inkchat/internal/rag"
)

const pdfContentType = "application/pdf"

type askRequest struct {
	Question string `json:"question"`
	Filename string `json:"filename"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Server up!"})
}

func (s *Server) uploadPDF(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded.").SetInternal(err)
	}
	if ct := fh.Header.Get(echo.HeaderContentType); !strings.HasPrefix(ct, pdfContentType) {
		return echo.NewHTTPError(http.StatusBadRequest, "Only PDF files are allowed.")
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}

	name := rag.CollectionName(fh.Filename, s.now())
	if err := s.keepUpload(name, data); err != nil {
		s.log.Warnw("failed to keep uploaded file", "filename", name, "error", err)
	}

	if _, err := s.pipeline.Ingest(c.Request().Context(), data, name); err != nil {
		s.removeUpload(name)
		if errors.Is(err, rag.ErrDocumentParse) {
			return echo.NewHTTPError(http.StatusBadRequest, "Could not read the PDF.").SetInternal(err)
		}
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message":  "PDF uploaded successfully.",
		"filename": name,
	})
}

func (s *Server) ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body.").SetInternal(err)
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Question is required.")
	}
	if req.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Filename is required.")
	}

	ans, err := s.pipeline.Answer(c.Request().Context(), req.Question, req.Filename)
	if err != nil {
		if errors.Is(err, rag.ErrCollectionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "PDF not found. Upload it again.").SetInternal(err)
		}
		return err
	}
	return c.JSON(http.StatusOK, ans)
}

func (s *Server) deleteCollection(c echo.Context) error {
	name, err := url.PathUnescape(c.Param("name"))
	if err != nil || name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid collection name.")
	}

	if _, err := s.pipeline.DeleteCollection(c.Request().Context(), name); err != nil {
		if errors.Is(err, rag.ErrCollectionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Collection not found").SetInternal(err)
		}
		return err
	}
	s.removeUpload(name)
	return c.JSON(http.StatusOK, map[string]string{"message": "Collection deleted successfully"})
}

func (s *Server) keepUpload(name string, data []byte) error {
	if s.cfg.UploadDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cfg.UploadDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.cfg.UploadDir, name), data, 0644)
}

func (s *Server) removeUpload(name string) {
	if s.cfg.UploadDir == "" {
		return
	}
	path := filepath.Join(s.cfg.UploadDir, filepath.Base(name))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warnw("failed to remove uploaded file", "path", path, "error", err)
	}
}
