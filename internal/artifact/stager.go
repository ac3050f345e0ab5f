package artifact

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/multierr"

	"github.com/lei/actions-ledger/internal/models"
	"github.com/lei/actions-ledger/pkg/logger"
)

// Stager turns one downloaded artifact archive into extracted file records
type Stager struct {
	tempDir    string
	classifier *Classifier
	logger     *logger.Logger
}

// NewStager creates a stager using tempDir as staging root
func NewStager(tempDir string, classifier *Classifier, log *logger.Logger) *Stager {
	return &Stager{tempDir: tempDir, classifier: classifier, logger: log}
}

// Process downloads src into staging, extracts it and classifies every
// member. Staging is removed whether or not processing succeeds.
func (s *Stager) Process(ctx context.Context, runID int64, art models.Artifact, src io.Reader) (files []models.ExtractedFile, err error) {
	log := logger.FromContext(ctx, s.logger)
	staging := NewStaging(s.tempDir, art.ID)

	defer func() {
		if cerr := staging.Cleanup(); cerr != nil {
			log.Warn("artifact: staging cleanup failed", "artifact_id", art.ID, "error", cerr)
			if err != nil {
				err = multierr.Append(err, cerr)
			}
		}
	}()

	n, err := staging.Download(src)
	if err != nil {
		return nil, fmt.Errorf("artifact %d: %w", art.ID, err)
	}

	members, err := staging.Extract()
	if err != nil {
		return nil, fmt.Errorf("artifact %d: %w", art.ID, err)
	}

	log.Debug("artifact: extracted",
		"run_id", runID,
		"artifact_id", art.ID,
		"archive_bytes", n,
		"members", len(members))

	files = make([]models.ExtractedFile, 0, len(members))
	for _, member := range members {
		file, err := s.classifier.Classify(ctx, runID, art, staging.Dir, member)
		if err != nil {
			return nil, fmt.Errorf("artifact %d: %w", art.ID, err)
		}
		files = append(files, file)
	}
	return files, nil
}
