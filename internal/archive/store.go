// Package archive keeps a copy of the raw payload returned by the scheduling
// system for each extraction run, so a run can be audited or replayed.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ExtractPayload is the archived body of one extraction run.
type ExtractPayload struct {
	ExtractID     uuid.UUID            `json:"extractId"`
	CorrelationID uuid.UUID            `json:"correlationId"`
	WorkspaceID   string               `json:"workspaceId"`
	IntegrationID string               `json:"integrationId"`
	SettingID     uuid.UUID            `json:"settingId"`
	SendType      string               `json:"sendType"`
	StartDate     time.Time            `json:"startDate"`
	EndDate       time.Time            `json:"endDate"`
	Records       []integration.Record `json:"records"`
	ArchivedAt    time.Time            `json:"archivedAt"`
}

// ManifestEntry is one line of the monthly JSONL index.
type ManifestEntry struct {
	ExtractID   string `json:"extractId"`
	WorkspaceID string `json:"workspaceId"`
	SendType    string `json:"sendType"`
	S3Key       string `json:"s3Key"`
	Records     int    `json:"records"`
	ArchivedAt  string `json:"archivedAt"`
}

// Store archives extraction payloads to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Key returns the object key of an extraction payload.
func Key(workspaceID string, archivedAt time.Time, extractID uuid.UUID) string {
	return fmt.Sprintf("extracts/%s/%s/%s.json", workspaceID, archivedAt.UTC().Format("2006-01-02"), extractID)
}

// ArchiveExtract writes the payload as JSON and appends it to the manifest.
// It returns the object key, or "" when archival is disabled.
func (s *Store) ArchiveExtract(ctx context.Context, p *ExtractPayload) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	if p.ArchivedAt.IsZero() {
		p.ArchivedAt = s.now().UTC()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("archive: marshal payload: %w", err)
	}

	key := Key(p.WorkspaceID, p.ArchivedAt, p.ExtractID)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	s.logger.Info("archive: stored extraction payload", "extract_id", p.ExtractID, "s3_key", key, "records", len(p.Records))

	entry := ManifestEntry{
		ExtractID:   p.ExtractID.String(),
		WorkspaceID: p.WorkspaceID,
		SendType:    p.SendType,
		S3Key:       key,
		Records:     len(p.Records),
		ArchivedAt:  p.ArchivedAt.Format(time.RFC3339),
	}
	if err := s.AppendManifest(ctx, entry, p.ArchivedAt); err != nil {
		s.logger.Warn("archive: failed to append manifest", "error", err, "extract_id", p.ExtractID)
	}
	return key, nil
}

// LoadExtract reads an archived payload back.
func (s *Store) LoadExtract(ctx context.Context, key string) (*ExtractPayload, error) {
	if !s.Enabled() {
		return nil, errors.New("archive: not configured")
	}
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: s3 get %s: %w", key, err)
	}
	defer resp.Body.Close()

	var p ExtractPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("archive: decode payload: %w", err)
	}
	return &p, nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// S3 has no append, so this is a read-modify-write.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry, at time.Time) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	at = at.UTC()
	manifestKey := fmt.Sprintf("extracts/manifests/%d-%02d.jsonl", at.Year(), at.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, _ = io.ReadAll(getResp.Body)
		getResp.Body.Close()
	case isNotFound(err):
		s.logger.Debug("archive: manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}
