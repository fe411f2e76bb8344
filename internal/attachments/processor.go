// Package attachments materializes inbound attachment bytes: validate,
// hash, sanitize, upload to the object store, and presign a download
// URL. One bad attachment never fails its siblings.
package attachments

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/filetype"
	"github.com/ignite/mailflow/internal/model"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/pkg/retry"
	"github.com/ignite/mailflow/internal/sanitize"
	"github.com/ignite/mailflow/internal/storage"
)

// MaxAttachmentsPerEmail caps the attachment count on one inbound
// email. Beyond this the whole email is rejected.
const MaxAttachmentsPerEmail = 50

// uploadConcurrency bounds parallel uploads per email.
const uploadConcurrency = 4

// Processor materializes attachment blobs into store-backed records.
type Processor struct {
	store    storage.ObjectStore
	cfg      config.AttachmentsConfig
	retryCfg retry.Config
}

// NewProcessor creates a processor.
func NewProcessor(store storage.ObjectStore, cfg config.AttachmentsConfig, retryCfg retry.Config) *Processor {
	return &Processor{store: store, cfg: cfg, retryCfg: retryCfg}
}

// Process materializes every blob of one email. Results keep blob
// order. Per-attachment failures are recorded on the attachment with
// status failed; only an attachment count above the cap fails the
// whole email.
func (p *Processor) Process(ctx context.Context, messageID string, blobs []model.AttachmentBlob) ([]model.Attachment, error) {
	if len(blobs) == 0 {
		return nil, nil
	}
	if len(blobs) > MaxAttachmentsPerEmail {
		return nil, errs.New(errs.Validation, "email has %d attachments, limit is %d", len(blobs), MaxAttachmentsPerEmail)
	}

	// Sanitized names are deduplicated serially so key assignment is
	// deterministic regardless of upload order.
	keys := p.assignKeys(messageID, blobs)

	results := make([]model.Attachment, len(blobs))
	sem := make(chan struct{}, uploadConcurrency)
	var wg sync.WaitGroup
	for i := range blobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = p.materialize(ctx, blobs[i], keys[i])
		}(i)
	}
	wg.Wait()

	return results, nil
}

type objectKey struct {
	sanitized string
	key       string
}

// assignKeys sanitizes filenames, resolves collisions with an index
// suffix, and derives the object key for each blob.
func (p *Processor) assignKeys(messageID string, blobs []model.AttachmentBlob) []objectKey {
	prefix := sanitize.PathComponent(messageID)
	seen := make(map[string]int, len(blobs))
	keys := make([]objectKey, len(blobs))
	for i, blob := range blobs {
		name := sanitize.Filename(blob.Filename)
		unique := sanitize.UniqueName(name, seen[name])
		seen[name]++
		keys[i] = objectKey{
			sanitized: unique,
			key:       fmt.Sprintf("%s/%s", prefix, unique),
		}
	}
	return keys
}

// materialize validates, hashes, uploads, and presigns one blob.
func (p *Processor) materialize(ctx context.Context, blob model.AttachmentBlob, key objectKey) model.Attachment {
	att := model.Attachment{
		Filename:          blob.Filename,
		SanitizedFilename: key.sanitized,
		ContentType:       blob.DeclaredContentType,
		Size:              int64(len(blob.Data)),
		Status:            model.AttachmentAvailable,
	}

	if p.cfg.MaxSizeBytes > 0 && att.Size > p.cfg.MaxSizeBytes {
		return failed(att, fmt.Sprintf("size %d exceeds %d byte limit", att.Size, p.cfg.MaxSizeBytes))
	}

	contentType, err := filetype.Validate(blob.Filename, blob.Data)
	if err != nil {
		return failed(att, err.Error())
	}
	att.ContentType = contentType

	sum := md5.Sum(blob.Data)
	att.ChecksumMD5 = hex.EncodeToString(sum[:])

	_, err = retry.Do(ctx, p.retryCfg, "attachment upload", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.store.Upload(ctx, p.cfg.Bucket, key.key, blob.Data, contentType)
	})
	if err != nil {
		logger.Error("attachment upload failed", "filename", key.sanitized, "error", err.Error())
		return failed(att, fmt.Sprintf("upload failed: %v", err))
	}
	att.S3Bucket = p.cfg.Bucket
	att.S3Key = key.key

	signed, err := retry.Do(ctx, p.retryCfg, "attachment presign", func(ctx context.Context) (presignResult, error) {
		u, exp, err := p.store.PresignGet(ctx, p.cfg.Bucket, key.key, p.cfg.PresignedTTL())
		return presignResult{u, exp}, err
	})
	if err != nil {
		logger.Error("attachment presign failed", "filename", key.sanitized, "error", err.Error())
		return failed(att, fmt.Sprintf("presign failed: %v", err))
	}
	att.PresignedURL = signed.url
	att.PresignedURLExpiration = &signed.expiresAt

	return att
}

type presignResult struct {
	url       string
	expiresAt time.Time
}

func failed(att model.Attachment, reason string) model.Attachment {
	att.Status = model.AttachmentFailed
	att.Error = reason
	att.S3Bucket = ""
	att.S3Key = ""
	att.PresignedURL = ""
	att.PresignedURLExpiration = nil
	att.ChecksumMD5 = ""
	return att
}
