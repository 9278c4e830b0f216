package assets

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stupiduntilnot/pixelchat/internal/db"
)

// Store writes binary assets under a local root, one directory per folder
// (session), and records each file in the assets table. URLs are built from
// BaseURL so a reverse proxy or CDN can serve the root directly.
type Store struct {
	root    string
	baseURL string
	db      *sql.DB
	log     zerolog.Logger
}

// NewStore creates an asset store rooted at root, serving URLs under baseURL.
func NewStore(root, baseURL string, database *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		db:      database,
		log:     logger.With().Str("component", "assets").Logger(),
	}
}

// Store persists data as a new file under folder and returns its public URL.
// The stored file name gets a random prefix so repeated names never collide.
func (s *Store) Store(data []byte, name, folder string) (string, error) {
	folder = sanitize(folder)
	if folder == "" {
		return "", errors.New("empty asset folder")
	}
	base := sanitize(name)
	if base == "" {
		base = "asset"
	}
	fileName := uuid.NewString()[:8] + "-" + base

	dir := filepath.Join(s.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create asset dir %s", dir)
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write asset %s", path)
	}

	sum := sha256.Sum256(data)
	if _, err := db.InsertAsset(s.db, db.Asset{
		SessionID: folder,
		Name:      fileName,
		Path:      path,
		SHA256:    hex.EncodeToString(sum[:]),
		Bytes:     int64(len(data)),
	}); err != nil {
		// The file is on disk; a missing record only loses bookkeeping.
		s.log.Warn().Err(err).Str("path", path).Msg("asset record insert failed")
	}

	return s.baseURL + "/" + folder + "/" + fileName, nil
}

// Read returns the bytes of a previously stored asset.
func (s *Store) Read(folder, name string) ([]byte, error) {
	path := filepath.Join(s.root, sanitize(folder), sanitize(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read asset %s", path)
	}
	return data, nil
}

// ResolveURL splits an asset URL produced by Store back into folder and name.
func (s *Store) ResolveURL(url string) (folder, name string, err error) {
	rel := strings.TrimPrefix(url, s.baseURL+"/")
	if rel == url {
		return "", "", errors.Errorf("asset url %s is not under %s", url, s.baseURL)
	}
	parts := strings.SplitN(rel, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("malformed asset url %s", url)
	}
	return parts[0], parts[1], nil
}

// DeleteFolder removes a folder's files and asset records.
func (s *Store) DeleteFolder(folder string) error {
	folder = sanitize(folder)
	if folder == "" {
		return errors.New("empty asset folder")
	}
	if err := os.RemoveAll(filepath.Join(s.root, folder)); err != nil {
		return errors.Wrapf(err, "remove asset folder %s", folder)
	}
	if err := db.DeleteSessionAssets(s.db, folder); err != nil {
		return err
	}
	return nil
}

// sanitize strips path separators and traversal from a user-influenced name
// component.
func sanitize(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
