// Package storage keeps versioned datastream blobs addressed by a hashed path.
package storage

import (
	"context"
	"crypto/md5" //nolint:gosec // layout hash, not a security boundary
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

// Store persists datastream content per (pid, datastream, version).
// Save is an upsert.
type Store interface {
	Save(ctx context.Context, pid string, ds domain.Datastream, version int, data []byte) error
	Retrieve(ctx context.Context, pid string, ds domain.Datastream, version int) ([]byte, error)
	Exists(ctx context.Context, pid string, ds domain.Datastream, version int) (bool, error)
}

// Key builds the logical key "pid+DS+DS.version".
func Key(pid string, ds domain.Datastream, version int) string {
	d := string(ds)
	return pid + "+" + d + "+" + d + "." + strconv.Itoa(version)
}

// HashPath maps a key onto a slash separated relative path. Each segment of
// pattern consumes as many characters of the MD5 hex digest of the key as it
// is long, e.g. "xx/xx" yields "ab/cd/<escaped key>".
func HashPath(pattern, key string) string {
	sum := md5.Sum([]byte(key)) //nolint:gosec
	digest := hex.EncodeToString(sum[:])

	var parts []string
	offset := 0
	for _, segment := range strings.Split(pattern, "/") {
		if segment == "" {
			continue
		}
		end := min(offset+len(segment), len(digest))
		parts = append(parts, digest[offset:end])
		offset = end
	}
	parts = append(parts, url.PathEscape(key))
	return path.Join(parts...)
}

func checkKey(pid string, version int) error {
	if strings.TrimSpace(pid) == "" {
		return domain.Validationf("pid is required")
	}
	if version < 0 {
		return domain.Validationf("version must not be negative, got %d", version)
	}
	return nil
}

func notFound(pid string, ds domain.Datastream, version int) error {
	return fmt.Errorf("datastream %s of %s version %d: %w", ds, pid, version, domain.ErrNotFound)
}
