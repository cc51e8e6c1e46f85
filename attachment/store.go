// Package attachment stores picture message payloads under opaque paths and
// serves them back, with an in-memory cache on the download side.
package attachment

import (
	"atme/domain"
	"atme/errors"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// DiskStore keeps payloads as files under root, one file per path.
type DiskStore struct {
	root string
	log  *slog.Logger
}

func NewDiskStore(root string, log *slog.Logger) *DiskStore {
	return &DiskStore{root: root, log: log}
}

func (s *DiskStore) Put(_ context.Context, path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return err
	}
	s.log.Debug("Attachment stored", "path", path, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func (s *DiskStore) Get(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", errors.ErrAttachmentNotFound, path)
	}
	return data, err
}

// resolve maps a storage path to a file below root, refusing anything that
// would escape it.
func (s *DiskStore) resolve(path string) (string, error) {
	if path == "" || !filepath.IsLocal(filepath.FromSlash(path)) {
		return "", fmt.Errorf("%w: invalid path %q", errors.ErrAttachmentNotFound, path)
	}
	return filepath.Join(s.root, filepath.FromSlash(path)), nil
}

// PicturePath sniffs data and returns where a picture message of
// conversationID taken at at is stored: conversations/{id}/images/{millis}{ext}.
// Anything that is not an image is refused.
func PicturePath(conversationID domain.ConversationID, data []byte, at time.Time) (string, error) {
	extension, err := imageExtension(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("conversations/%s/images/%d%s", conversationID, at.UnixMilli(), extension), nil
}

// ProfilePicturePath is where the display picture of uid is stored. A new
// picture replaces the previous one.
func ProfilePicturePath(uid domain.ParticipantID, data []byte) (string, error) {
	extension, err := imageExtension(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("users/%s/profile%s", uid, extension), nil
}

func imageExtension(data []byte) (string, error) {
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", fmt.Errorf("%w: %s", errors.ErrUnsupportedAttachment, mime.String())
	}
	return mime.Extension(), nil
}
