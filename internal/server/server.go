// Package server exposes the validation gateway over HTTP. Clients upload
// survey files, run rule packs against them and download the produced
// artifacts (diagnostics, acceptance reports, signed manifests).
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"example.com/xtfgate/internal/catalog"
	"example.com/xtfgate/internal/dict"
	"example.com/xtfgate/internal/rules"
)

// Server coordinates HTTP handlers and manages temporary artifacts produced
// by validation requests.
type Server struct {
	artifacts    *ArtifactStore
	workDir      string
	uploadsDir   string
	profilePacks map[string]profilePackEntry
	profileIds   []string
	signing      ManifestSigningOptions
	catalog      *catalog.Catalog
	dict         *dict.Store
}

// ManifestSigningOptions configures detached JWS manifest signing.
type ManifestSigningOptions struct {
	PrivateKeyPath  string
	CertificatePath string
}

// Options configures server creation.
type Options struct {
	StorageDir      string
	ProfileManifest string
	ProfilePacks    []ProfilePack
	ManifestSigning ManifestSigningOptions
	CatalogPath     string
	DictionaryPath  string
}

// Artifact is a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer constructs a Server rooted at a temporary workspace directory.
func NewServer(opts Options) (*Server, error) {
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "xtfd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	packs, ids, err := buildProfilePackMap(opts)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	s := &Server{
		artifacts:    &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:      workDir,
		uploadsDir:   uploadsDir,
		profilePacks: packs,
		profileIds:   ids,
		signing:      opts.ManifestSigning,
		dict:         dict.Builtin(),
	}
	if opts.DictionaryPath != "" {
		store, err := dict.EnsureLoaded(opts.DictionaryPath)
		if err != nil {
			os.RemoveAll(workDir)
			return nil, fmt.Errorf("load dictionary: %w", err)
		}
		s.dict = store
	}
	if opts.CatalogPath != "" {
		cat, err := catalog.Open(opts.CatalogPath)
		if err != nil {
			os.RemoveAll(workDir)
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		s.catalog = cat
	}
	return s, nil
}

// Close removes the server's temporary state and releases the catalog.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	if s.catalog != nil {
		firstErr = s.catalog.Close()
	}
	if s.workDir != "" {
		if err := os.RemoveAll(s.workDir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		ID:          uuid.NewString(),
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[art.ID] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

// resolvePath maps an input token to a local file: artifact ids returned by
// the upload endpoint win over literal paths.
func (s *Server) resolvePath(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty input path")
	}
	if art, ok := s.getArtifact(token); ok {
		return art.Path, nil
	}
	abs := token
	if !filepath.IsAbs(token) {
		abs = filepath.Clean(token)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (s *Server) loadRulePack(profile string, override *rules.RulePack) (rules.RulePack, error) {
	if override != nil && len(override.Rules) > 0 {
		return *override, nil
	}
	entry, ok := s.profilePacks[profile]
	if !ok {
		return rules.RulePack{}, fmt.Errorf("unknown profile %s", profile)
	}
	if entry.rulesPath == "" {
		return rules.DefaultRulePack(profile), nil
	}
	return rules.LoadRulePack(entry.rulesPath)
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".ndjson", ".jsonl":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".jws":
		return "application/jose+json"
	case ".txt":
		return "text/plain"
	case ".xtf":
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}
