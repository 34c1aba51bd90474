package worker

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/render"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/textindex"
	"github.com/Shimizu-Technology/document-viewer-api/internal/storage"
)

// process converts one document: validate, render every page, extract
// text, then mark the document and job COMPLETED. Any error is returned
// to handle, which decides between retry and failure.
func (p *Pool) process(ctx context.Context, job *models.ProcessingJob, msg Message) error {
	repo := p.deps.Repo
	fields := log.Fields{"document_id": job.DocumentID, "job_id": job.ID}

	doc, err := repo.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return docerr.Wrap(docerr.StorageError, err, "failed to load document")
	}
	data, err := storage.ResolveBlob(ctx, p.deps.Store, doc)
	if err != nil {
		return err
	}

	// Uploads were validated already; the blob may have changed since.
	result, err := p.deps.Validator.Validate(data, "")
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		log.WithFields(fields).Warnf("⚠️  %s", w)
	}
	structure, err := p.deps.Inspector.Inspect(data)
	if err != nil {
		return err
	}
	total := structure.PageCount

	opts, err := render.Options{Format: msg.Format, Quality: msg.Quality}.Normalize()
	if err != nil {
		opts, _ = render.Options{}.Normalize()
	}
	src := render.Source{Document: doc, Data: data}

	// Rendering and text extraction are independent; run them side by side.
	var texts []textindex.PageText
	var textErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.renderPages(gctx, job, src, total, opts)
	})
	g.Go(func() error {
		texts, textErr = textindex.ExtractText(data, total)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	textExtracted := false
	if textErr != nil {
		// Pages stay viewable; search is unavailable for this document.
		log.WithFields(fields).WithError(textErr).Warn("⚠️  Text extraction failed")
	} else {
		indexed, err := p.deps.Indexer.Index(ctx, doc.ID, texts)
		if err != nil {
			return err
		}
		textExtracted = indexed > 0
		log.WithFields(fields).Infof("🔎 Indexed text: %s", textindex.Summary(texts))
	}

	if err := repo.CompleteDocument(ctx, doc.ID, total, textExtracted); err != nil {
		return docerr.Wrap(docerr.StorageError, err, "failed to complete document")
	}
	if err := repo.CompleteJob(ctx, job.ID); err != nil {
		return docerr.Wrap(docerr.StorageError, err, "failed to complete job")
	}
	return nil
}

// renderPages renders pages 1..total in order, storing the image and a
// thumbnail and writing the page row after each one. Progress follows
// completed/total. A page where every converter failed fails the job, so
// a COMPLETED document always has the dense page range.
func (p *Pool) renderPages(ctx context.Context, job *models.ProcessingJob, src render.Source, total int, opts render.Options) error {
	docID := src.Document.ID
	thumbOpts, _ := render.Thumbnail(opts.Format).Normalize()
	var exhausted []string

	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := p.deps.Renderer.RenderSource(ctx, src, n, opts)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if res.Placeholder {
			exhausted = append(exhausted, fmt.Sprint(n))
		} else {
			if err := p.storePage(ctx, src, n, res, thumbOpts); err != nil {
				return err
			}
		}

		progress := n * 100 / total
		if err := p.deps.Repo.UpdateJobProgress(ctx, job.ID, progress); err != nil {
			log.WithFields(log.Fields{"job_id": job.ID, "progress": progress}).WithError(err).Warn("⚠️  Failed to update progress")
		}
	}

	if len(exhausted) > 0 {
		return docerr.New(docerr.RenderingFailed, "no converter could render page(s) %s", strings.Join(exhausted, ", ")).
			WithDocument(docID)
	}
	return nil
}

func (p *Pool) storePage(ctx context.Context, src render.Source, n int, res *render.Result, thumbOpts render.Options) error {
	docID := src.Document.ID
	imageKey := storage.PageKey(docID, n, res.Format)
	if err := p.deps.Store.Put(ctx, imageKey, res.Data); err != nil {
		return docerr.Wrap(docerr.StorageError, err, "failed to store page image").WithDocument(docID).WithPage(n)
	}

	page := &models.Page{
		DocumentID: docID,
		PageNumber: n,
		ImageKey:   imageKey,
		Width:      res.Width,
		Height:     res.Height,
	}

	// A missing thumbnail is not worth failing the page for.
	thumb := p.deps.Renderer.RenderSource(ctx, src, n, thumbOpts)
	if !thumb.Placeholder {
		thumbKey := storage.ThumbnailKey(docID, n, thumb.Format)
		if err := p.deps.Store.Put(ctx, thumbKey, thumb.Data); err == nil {
			page.ThumbnailKey = &thumbKey
		} else {
			log.WithFields(log.Fields{"document_id": docID, "page": n}).WithError(err).Warn("⚠️  Failed to store thumbnail")
		}
	}

	if err := p.deps.Repo.UpsertPage(ctx, page); err != nil {
		return docerr.Wrap(docerr.StorageError, err, "failed to save page").WithDocument(docID).WithPage(n)
	}
	return nil
}
