package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/octoagent/octoagent/pkg/models"
)

// ArtifactStore persists model outputs. Content below the inline threshold
// is embedded in the first part; larger content is spilled to a file under
// <root>/<task_id>/<artifact_id> before the metadata commit. A crash between
// file write and commit leaves an orphan file, which is benign.
type ArtifactStore struct {
	db        *sql.DB
	root      string
	threshold int
}

// NewArtifactStore creates an ArtifactStore writing spilled blobs under root.
func NewArtifactStore(db *sql.DB, root string, inlineThreshold int) *ArtifactStore {
	return &ArtifactStore{db: db, root: root, threshold: inlineThreshold}
}

// Root returns the artifacts directory.
func (s *ArtifactStore) Root() string {
	return s.root
}

// Put stores content for artifact, deciding inline vs. spilled by size, and
// commits the metadata. Size and SHA256 are always computed here. Missing
// identity fields are filled in.
func (s *ArtifactStore) Put(ctx context.Context, artifact *models.Artifact, content []byte) error {
	if artifact.ArtifactID == "" {
		artifact.ArtifactID = models.NewID()
	}
	if artifact.TS.IsZero() {
		artifact.TS = time.Now().UTC()
	}
	if artifact.Version == 0 {
		artifact.Version = 1
	}
	if len(artifact.Parts) == 0 {
		artifact.Parts = []models.ArtifactPart{{Type: models.PartText, Mime: "text/plain"}}
	}

	sum := sha256.Sum256(content)
	artifact.SHA256 = hex.EncodeToString(sum[:])
	artifact.Size = int64(len(content))

	if artifact.Size >= int64(s.threshold) {
		path := filepath.Join(s.root, artifact.TaskID, artifact.ArtifactID)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
		// File first, metadata second. Orphans from a crash in between
		// are unreferenced and can be swept later.
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("failed to write artifact file: %w", err)
		}
		artifact.StorageRef = path
		artifact.Parts[0].URI = path
		artifact.Parts[0].Content = ""
	} else {
		artifact.StorageRef = ""
		artifact.Parts[0].Content = string(content)
		artifact.Parts[0].URI = ""
	}

	parts, err := json.Marshal(artifact.Parts)
	if err != nil {
		return fmt.Errorf("failed to marshal parts: %w", err)
	}

	var storageRef *string
	if artifact.StorageRef != "" {
		storageRef = &artifact.StorageRef
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, task_id, ts, name, description, parts, storage_ref, size, hash, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ArtifactID, artifact.TaskID, artifact.TS.UTC().Format(timeFormat),
		artifact.Name, artifact.Description, string(parts), storageRef,
		artifact.Size, artifact.SHA256, artifact.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

func scanArtifact(row interface{ Scan(...any) error }) (*models.Artifact, error) {
	var (
		artifact   models.Artifact
		ts         string
		parts      string
		storageRef sql.NullString
	)
	err := row.Scan(&artifact.ArtifactID, &artifact.TaskID, &ts, &artifact.Name,
		&artifact.Description, &parts, &storageRef, &artifact.Size,
		&artifact.SHA256, &artifact.Version)
	if err != nil {
		return nil, err
	}
	if artifact.TS, err = time.Parse(timeFormat, ts); err != nil {
		return nil, fmt.Errorf("failed to parse artifact timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(parts), &artifact.Parts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parts: %w", err)
	}
	artifact.StorageRef = storageRef.String
	return &artifact, nil
}

const artifactColumns = `artifact_id, task_id, ts, name, description, parts, storage_ref, size, hash, version`

// Get returns one artifact's metadata by id.
func (s *ArtifactStore) Get(ctx context.Context, artifactID string) (*models.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE artifact_id = ?`, artifactID)
	artifact, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return artifact, nil
}

// GetContent returns the raw bytes of an artifact, reading the spilled file
// when present and falling back to inline part content.
func (s *ArtifactStore) GetContent(ctx context.Context, artifactID string) ([]byte, error) {
	artifact, err := s.Get(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if artifact.StorageRef != "" {
		content, err := os.ReadFile(artifact.StorageRef)
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact file: %w", err)
		}
		return content, nil
	}
	for _, part := range artifact.Parts {
		if part.Content != "" {
			return []byte(part.Content), nil
		}
	}
	return []byte{}, nil
}

// ArtifactsFor returns a task's artifacts ordered by ts ascending.
func (s *ArtifactStore) ArtifactsFor(ctx context.Context, taskID string) ([]*models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE task_id = ? ORDER BY ts ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}
