package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"example.com/xtfgate/internal/xtf"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(512 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	if r.MultipartForm == nil {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}
	var refs []ArtifactRef
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			ref, err := s.saveUploadedFile(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("save upload %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	resp := struct {
		Files []ArtifactRef `json:"files"`
	}{Files: refs}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) saveUploadedFile(fh *multipart.FileHeader) (ArtifactRef, error) {
	if fh == nil {
		return ArtifactRef{}, fmt.Errorf("nil file header")
	}
	src, err := fh.Open()
	if err != nil {
		return ArtifactRef{}, err
	}
	defer src.Close()
	pattern := "upload-*"
	if ext := filepath.Ext(fh.Filename); ext != "" {
		pattern = "upload-*" + ext
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return ArtifactRef{}, err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	dest.Close()

	kind := "upload"
	contentType := guessContentType(fh.Filename)
	if strings.EqualFold(filepath.Ext(fh.Filename), ".xtf") {
		if err := sniffSurveyHeader(dest.Name()); err != nil {
			os.Remove(dest.Name())
			return ArtifactRef{}, err
		}
		kind = "survey"
		contentType = "application/x-xtf"
	}
	art, err := s.addArtifact(dest.Name(), fh.Filename, contentType, kind)
	if err != nil {
		return ArtifactRef{}, err
	}
	return toRef(art), nil
}

// sniffSurveyHeader rejects survey uploads whose leading 1024 bytes do not
// parse as a file header. Validation runs decode the file again; this only
// keeps headerless junk out of the uploads directory.
func sniffSurveyHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, xtf.FileHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("not an XTF survey: file shorter than the %d byte header", xtf.FileHeaderSize)
	}
	if _, err := xtf.DecodeFileHeader(buf); err != nil {
		return fmt.Errorf("not an XTF survey: %w", err)
	}
	return nil
}
