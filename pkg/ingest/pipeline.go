package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/metrics"
	"github.com/telarch/telarch/pkg/naming"
	"github.com/telarch/telarch/pkg/store"
)

// Skip reasons recorded in item outcomes.
const (
	SkipNoMedia         = "no_media"
	SkipExceedsBotLimit = "exceeds_bot_limit"
	SkipExceedsCfgLimit = "exceeds_cfg_limit"
	SkipDownloadFailed  = "download_failed"
	SkipUploadFailed    = "upload_failed"
)

// Transport acquires a file's content through the bot API small path.
type Transport interface {
	Acquire(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Deduper is the slice of the store the pipeline needs. *store.Store
// satisfies it.
type Deduper interface {
	CheckByUniqueID(ctx context.Context, fileUniqueID string) (store.DuplicateResult, error)
	CheckBySHA256(ctx context.Context, sha256 string) (store.DuplicateResult, error)
	Record(ctx context.Context, sha256, s3Key string, sizeBytes int64, mime, fileUniqueID string) error
}

// Uploader is the slice of the object store the pipeline needs. *blob.Client
// satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Bucket() string
}

// Config tunes the pipeline's size gates.
type Config struct {
	// MaxFileBytes is the configured archive ceiling. Default 4 GiB.
	MaxFileBytes int64

	// SmallPathLimit is the bot API download ceiling. Default 50 MiB.
	SmallPathLimit int64

	// TempDir holds in-flight downloads. Empty means the OS default.
	TempDir string

	// DisableDedup skips the duplicate probes. New content is still
	// recorded so re-enabling dedup later sees a complete index.
	DisableDedup bool
}

func (c *Config) applyDefaults() {
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 4 << 30
	}
	if c.SmallPathLimit <= 0 {
		c.SmallPathLimit = 50 << 20
	}
}

// Outcome is the per-item result of a batch.
type Outcome struct {
	Ordinal       int
	Type          MediaType
	MIME          string
	SizeBytes     int64
	Width         int
	Height        int
	Duration      float64
	FileID        string
	FileUniqueID  string
	OriginalName  string
	SHA256        string
	S3Key         string
	IsDuplicate   bool
	SkippedReason string
}

// BatchResult summarizes one processed batch.
type BatchResult struct {
	BasePath    string
	Outcomes    []Outcome
	DuplicateOf string
	DedupReason string
	TotalBytes  int64
	Notes       string
}

// Pipeline archives ready batches through the small path.
type Pipeline struct {
	cfg       Config
	store     Deduper
	obj       Uploader
	transport Transport
	metrics   *metrics.IngestMetrics
}

// NewPipeline builds a Pipeline. metrics may be nil.
func NewPipeline(cfg Config, st Deduper, obj Uploader, tr Transport, m *metrics.IngestMetrics) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{cfg: cfg, store: st, obj: obj, transport: tr, metrics: m}
}

// ProcessBatch archives one batch: dedup, size-gate, acquire, upload, record,
// then write the manifest. Item failures skip the item and continue; a
// manifest write failure fails the whole batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch []*Message) (*BatchResult, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	start := time.Now()

	sorted := make([]*Message, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	msg0 := sorted[0]
	originSlug := naming.Slug(msg0.OriginName())
	result := &BatchResult{
		BasePath: naming.BasePath(msg0.Timestamp, originSlug, msg0.MessageID),
	}

	for idx, m := range sorted {
		result.Outcomes = append(result.Outcomes, p.processItem(ctx, idx+1, originSlug, msg0, m, result))
	}

	for _, o := range result.Outcomes {
		if o.S3Key != "" && !o.IsDuplicate {
			result.TotalBytes += o.SizeBytes
		}
	}

	if err := p.writeManifest(ctx, sorted, result); err != nil {
		return result, fmt.Errorf("failed to write manifest: %w", err)
	}

	p.metrics.RecordMessage()
	p.metrics.ObserveProcessing(time.Since(start))
	return result, nil
}

func (p *Pipeline) processItem(ctx context.Context, ordinal int, originSlug string, msg0, m *Message, result *BatchResult) Outcome {
	out := Outcome{Ordinal: ordinal, Type: MediaUnknown}

	media := m.Media
	if media == nil {
		out.SkippedReason = SkipNoMedia
		p.metrics.RecordSkip(SkipNoMedia)
		return out
	}

	ext, mime := ExtAndMIME(media)
	out.Type = media.Type
	out.MIME = mime
	out.SizeBytes = media.DeclaredSize
	out.Width = media.Width
	out.Height = media.Height
	out.Duration = media.Duration
	out.FileID = media.FileID
	out.FileUniqueID = media.FileUniqueID
	out.OriginalName = media.OriginalName

	// Fast path: the platform's stable id dodges the download entirely.
	if !p.cfg.DisableDedup {
		dres, err := p.store.CheckByUniqueID(ctx, media.FileUniqueID)
		if err != nil {
			logger.Error("Dedup probe failed", "file_unique_id", media.FileUniqueID, "error", err)
		} else if dres.IsDuplicate {
			p.metrics.RecordDedupHit()
			result.DuplicateOf = dres.ExistingKey
			result.DedupReason = dres.Reason
			out.S3Key = dres.ExistingKey
			out.IsDuplicate = true
			return out
		}
	}

	if media.DeclaredSize > 0 {
		if reason := p.sizeGate(media.DeclaredSize); reason != "" {
			out.SkippedReason = reason
			p.metrics.RecordSkip(reason)
			return out
		}
	}

	tmpPath, size, hash, err := p.acquireToTemp(ctx, media.FileID)
	if err != nil {
		logger.Error("Acquisition failed", "file_id", media.FileID, "error", err)
		out.SkippedReason = SkipDownloadFailed
		p.metrics.RecordSkip(SkipDownloadFailed)
		return out
	}
	defer os.Remove(tmpPath)

	out.SizeBytes = size
	out.SHA256 = hash

	if reason := p.sizeGate(size); reason != "" {
		out.SkippedReason = reason
		p.metrics.RecordSkip(reason)
		return out
	}

	if !p.cfg.DisableDedup {
		dsha, err := p.store.CheckBySHA256(ctx, hash)
		if err != nil {
			logger.Error("Hash dedup probe failed", "sha256", hash, "error", err)
		} else if dsha.IsDuplicate {
			p.metrics.RecordDedupHit()
			result.DuplicateOf = dsha.ExistingKey
			result.DedupReason = dsha.Reason
			out.S3Key = dsha.ExistingKey
			out.IsDuplicate = true
			return out
		}
	}

	name := naming.BuildFilename(naming.FilenameParts{
		Timestamp:    msg0.Timestamp,
		ChatOrSource: originSlug,
		Sender:       m.SenderLabel(),
		MessageID:    msg0.MessageID,
		MediaGroupID: msg0.MediaGroupID,
		Ordinal:      ordinal,
		Caption:      m.Caption,
		Ext:          ext,
	})
	key := result.BasePath + name

	f, err := os.Open(tmpPath)
	if err != nil {
		out.SkippedReason = SkipUploadFailed
		p.metrics.RecordSkip(SkipUploadFailed)
		return out
	}
	defer f.Close()

	if err := p.obj.Upload(ctx, key, f, size, mime); err != nil {
		logger.Error("Upload failed", "key", key, "error", err)
		out.SkippedReason = SkipUploadFailed
		p.metrics.RecordSkip(SkipUploadFailed)
		return out
	}

	if err := p.store.Record(ctx, hash, key, size, mime, media.FileUniqueID); err != nil {
		logger.Error("Dedup record failed", "sha256", hash, "error", err)
	}
	p.metrics.RecordBytes(size)

	out.S3Key = key
	return out
}

func (p *Pipeline) sizeGate(size int64) string {
	if size > p.cfg.SmallPathLimit {
		return SkipExceedsBotLimit
	}
	if size > p.cfg.MaxFileBytes {
		return SkipExceedsCfgLimit
	}
	return ""
}

// acquireToTemp streams the file to a temp path, hashing while writing.
func (p *Pipeline) acquireToTemp(ctx context.Context, fileID string) (string, int64, string, error) {
	rc, err := p.transport.Acquire(ctx, fileID)
	if err != nil {
		return "", 0, "", err
	}
	defer rc.Close()

	f, err := os.CreateTemp(p.cfg.TempDir, "telarch_*")
	if err != nil {
		return "", 0, "", err
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), rc)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, "", err
	}
	return f.Name(), size, hex.EncodeToString(hasher.Sum(nil)), nil
}
