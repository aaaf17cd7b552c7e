// Package upload turns a batch of uploaded files into stored images.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"repost/internal/blob"
	"repost/internal/events"
	"repost/internal/fingerprint"
	"repost/internal/models"
	"repost/internal/storage"
)

const ReasonTooLarge = "file too large"

type Options struct {
	Workers      int
	ItemTimeout  time.Duration
	MaxFileBytes int64
	MaxPixels    int64
}

// Orchestrator runs fingerprint, gate, blob write and insert for each item
// of a batch. Items are independent: one failing never affects another,
// and items already stored stay stored if the caller goes away.
type Orchestrator struct {
	repo   storage.Repository
	gate   *Gate
	blobs  blob.Store
	events events.Publisher
	opts   Options
	log    *slog.Logger
}

func NewOrchestrator(repo storage.Repository, blobs blob.Store, pub events.Publisher, opts Options, log *slog.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 30 * time.Second
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		repo:   repo,
		gate:   NewGate(repo),
		blobs:  blobs,
		events: pub,
		opts:   opts,
		log:    log,
	}
}

// HandleBatch returns one result per item, in input order. The only error
// it returns is models.ErrValidation for an empty batch.
func (o *Orchestrator) HandleBatch(ctx context.Context, items []models.RawUpload) ([]models.UploadResult, error) {
	const op = "upload.HandleBatch"

	if len(items) == 0 {
		return nil, fmt.Errorf("%s: %w", op, models.Validationf("no files uploaded"))
	}

	results := make([]models.UploadResult, len(items))
	digests := make([]digest.Digest, len(items))
	firstSeen := make(map[digest.Digest]int, len(items))
	twinOf := make(map[int]int)
	for i, item := range items {
		d := fingerprint.Of(item.Data)
		digests[i] = d
		results[i] = models.UploadResult{Name: item.Name, Fingerprint: d.String()}

		// identical bytes inside one batch: the first occurrence wins
		if first, seen := firstSeen[d]; seen {
			twinOf[i] = first
			continue
		}
		firstSeen[d] = i
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for _, i := range firstSeen {
		g.Go(func() error {
			o.processItem(gctx, items[i], digests[i], &results[i])
			return nil
		})
	}
	_ = g.Wait()

	// A twin is only a duplicate if its first occurrence did not fail.
	for i, first := range twinOf {
		if results[first].Status == models.StatusFailed {
			results[i].Status = models.StatusFailed
			results[i].Reason = results[first].Reason
			continue
		}
		results[i].Status = models.StatusSkipped
		results[i].Reason = models.ReasonDuplicate
		o.log.InfoContext(ctx, "duplicate skipped", "name", items[i].Name, "fingerprint", results[i].Fingerprint, "scope", "batch")
	}

	return results, nil
}

func (o *Orchestrator) processItem(ctx context.Context, item models.RawUpload, d digest.Digest, res *models.UploadResult) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.ItemTimeout)
	defer cancel()

	fail := func(reason string, err error) {
		if errors.Is(err, context.DeadlineExceeded) {
			reason = models.ReasonTimeout
		}
		res.Status = models.StatusFailed
		res.Reason = reason
		o.log.WarnContext(ctx, "upload item failed",
			"name", item.Name, "fingerprint", res.Fingerprint, "reason", reason, "error", err)
	}
	skip := func(scope string) {
		res.Status = models.StatusSkipped
		res.Reason = models.ReasonDuplicate
		o.log.InfoContext(ctx, "duplicate skipped", "name", item.Name, "fingerprint", res.Fingerprint, "scope", scope)
	}

	if o.opts.MaxFileBytes > 0 && int64(len(item.Data)) > o.opts.MaxFileBytes {
		fail(ReasonTooLarge, models.Validationf("%d bytes exceeds limit %d", len(item.Data), o.opts.MaxFileBytes))
		return
	}

	info, err := Inspect(item.Data, o.opts.MaxPixels)
	if err != nil {
		fail(models.ReasonInvalidImage, err)
		return
	}

	dup, err := o.gate.IsDuplicate(ctx, res.Fingerprint)
	if err != nil {
		fail(models.ReasonDatabase, err)
		return
	}
	if dup {
		skip("repository")
		return
	}

	obj, err := o.blobs.Put(ctx, fingerprint.ObjectKey(d, info.Extension), item.Data, info.ContentType)
	if err != nil {
		fail(models.ReasonBlobStore, err)
		return
	}

	// A failed insert leaves the blob behind; it is content addressed, so a
	// later upload of the same bytes overwrites rather than duplicates it.
	img, err := o.repo.Insert(ctx, models.NewImage{
		ProviderID:  obj.ProviderID,
		URL:         obj.URL,
		Fingerprint: res.Fingerprint,
		Name:        item.Name,
		Width:       info.Width,
		Height:      info.Height,
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			skip("insert")
			return
		}
		fail(models.ReasonDatabase, err)
		return
	}

	res.Status = models.StatusStored
	res.ID = img.ID.String()
	res.URL = img.URL
	res.Image = img
	o.log.InfoContext(ctx, "image stored", "id", res.ID, "name", item.Name, "fingerprint", res.Fingerprint)

	if err := o.events.Publish(ctx, events.Event{
		Type:        events.TypeImageStored,
		ImageID:     res.ID,
		Fingerprint: res.Fingerprint,
		URL:         img.URL,
	}); err != nil {
		o.log.WarnContext(ctx, "publish event failed", "type", events.TypeImageStored, "error", err)
	}
}
