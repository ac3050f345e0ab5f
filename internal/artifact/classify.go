package artifact

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lei/actions-ledger/internal/blobstore"
	"github.com/lei/actions-ledger/internal/models"
)

// DefaultInlineMaxBytes bounds text kept inline in the database
const DefaultInlineMaxBytes = 1 << 20

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true,
}

var textExtensions = map[string]bool{
	".txt": true, ".log": true, ".md": true, ".csv": true, ".xml": true,
	".html": true, ".css": true, ".js": true, ".ts": true,
	".sh": true, ".py": true, ".rb": true, ".ps1": true,
}

// TypeForName categorizes a file by its extension
func TypeForName(name string) models.FileType {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case imageExtensions[ext]:
		return models.FileTypeImage
	case ext == ".json":
		return models.FileTypeJSON
	case textExtensions[ext]:
		return models.FileTypeText
	default:
		return models.FileTypeBinary
	}
}

// StoredFilename names a file uniquely within a run:
// {runID}_{first 8 hex chars of md5("{artifactID}/{memberPath}")}_{base name}
func StoredFilename(runID, artifactID int64, memberPath string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d/%s", artifactID, memberPath)))
	return fmt.Sprintf("%d_%s_%s", runID, hex.EncodeToString(sum[:])[:8], path.Base(memberPath))
}

// CategoryFor returns the durable category a classified file is copied to
func CategoryFor(t models.FileType) blobstore.Category {
	if t == models.FileTypeImage {
		return blobstore.CategoryScreenshots
	}
	return blobstore.CategoryFiles
}

// Classifier categorizes extracted files and places their content
type Classifier struct {
	store     blobstore.Store
	inlineMax int64
	urlPrefix string
	now       func() time.Time
}

// NewClassifier creates a classifier writing durable copies to store
func NewClassifier(store blobstore.Store, inlineMax int64, urlPrefix string) *Classifier {
	if inlineMax <= 0 {
		inlineMax = DefaultInlineMaxBytes
	}
	return &Classifier{
		store:     store,
		inlineMax: inlineMax,
		urlPrefix: urlPrefix,
		now:       time.Now,
	}
}

// Classify builds the record of one extracted member. Images and binaries
// are copied to durable storage; text and JSON stay inline unless they
// exceed the inline limit. Invalid JSON degrades to text.
func (c *Classifier) Classify(ctx context.Context, runID int64, art models.Artifact, dir, member string) (models.ExtractedFile, error) {
	local := filepath.Join(dir, filepath.FromSlash(member))
	info, err := os.Stat(local)
	if err != nil {
		return models.ExtractedFile{}, fmt.Errorf("stat %s: %w", member, err)
	}

	file := models.ExtractedFile{
		ID:             uuid.NewString(),
		RunID:          runID,
		ArtifactID:     art.ID,
		ArtifactName:   art.Name,
		OriginalPath:   member,
		FileType:       TypeForName(member),
		FileSize:       info.Size(),
		StoredFilename: StoredFilename(runID, art.ID, member),
		ExtractedAt:    c.now().UTC(),
	}

	inline := file.FileType == models.FileTypeJSON || file.FileType == models.FileTypeText
	if inline && info.Size() <= c.inlineMax {
		data, err := os.ReadFile(local)
		if err != nil {
			return models.ExtractedFile{}, fmt.Errorf("read %s: %w", member, err)
		}
		if file.FileType == models.FileTypeJSON && !json.Valid(data) {
			file.FileType = models.FileTypeText
		}
		content := toValidUTF8(data)
		file.Content = &content
		return file, nil
	}

	if file.FileType == models.FileTypeJSON {
		valid, err := validJSONFile(local)
		if err != nil {
			return models.ExtractedFile{}, fmt.Errorf("read %s: %w", member, err)
		}
		if !valid {
			file.FileType = models.FileTypeText
		}
	}

	if err := c.copyDurable(ctx, local, file); err != nil {
		return models.ExtractedFile{}, err
	}
	url := blobstore.URLFor(c.urlPrefix, file.StoredFilename)
	file.StoredURL = &url
	return file, nil
}

func (c *Classifier) copyDurable(ctx context.Context, local string, file models.ExtractedFile) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", file.OriginalPath, err)
	}
	defer f.Close()

	if _, err := c.store.Put(ctx, CategoryFor(file.FileType), file.StoredFilename, f, file.FileSize); err != nil {
		return fmt.Errorf("store %s: %w", file.StoredFilename, err)
	}
	return nil
}

// validJSONFile reports whether the file holds exactly one JSON value,
// decoding it token by token so large files are never held in memory
func validJSONFile(name string) (bool, error) {
	f, err := os.Open(name)
	if err != nil {
		return false, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	depth, values := 0, 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return values == 1, nil
		}
		if err != nil {
			var pathErr *fs.PathError
			if errors.As(err, &pathErr) {
				return false, err
			}
			return false, nil
		}
		if values == 1 {
			// trailing data after the first value
			return false, nil
		}
		if d, ok := tok.(json.Delim); ok {
			if d == '{' || d == '[' {
				depth++
			} else {
				depth--
			}
		}
		if depth == 0 {
			values++
		}
	}
}

// toValidUTF8 keeps text columns valid for postgres
func toValidUTF8(data []byte) string {
	s := string(data)
	if utf8.ValidString(s) {
		return strings.ReplaceAll(s, "\x00", "")
	}
	return strings.ReplaceAll(strings.ToValidUTF8(s, "�"), "\x00", "")
}
