package main

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// imageFetcher is satisfied by *downloader.
type imageFetcher interface {
	fetchImage(ctx context.Context, rawURL string) ([]byte, string, error)
}

// imageRelay moves a cover image from its source into the storage bucket as WebP.
type imageRelay struct {
	fetcher         imageFetcher
	storage         *supabaseStorage
	prefix          string
	opts            transcodeOpts
	downloadTimeout time.Duration
	uploadTimeout   time.Duration
	log             logrus.FieldLogger
}

// randomSuffix returns 10 lowercase alphanumeric characters.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// storageKey names the stored object for a page. The suffix keeps repeated
// imports of the same page from colliding.
func storageKey(pageID string, suffix func() string) string {
	return strings.ReplaceAll(pageID, "/", "") + suffix()
}

func (r *imageRelay) objectPath(key string) string {
	return path.Join(r.prefix, key+".webp")
}

// RelayImage downloads sourceURL, transcodes it and uploads it under
// storageKey, returning the public URL of the stored object.
func (r *imageRelay) RelayImage(ctx context.Context, sourceURL, key string) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, r.downloadTimeout)
	data, mime, err := r.fetcher.fetchImage(dctx, sourceURL)
	cancel()
	if err != nil {
		return "", &RelayError{Kind: kindOr(err, KindDownloadFailed), SourceURL: sourceURL, Err: err}
	}

	webp, err := transcodeToWebP(data, mime, r.opts)
	if err != nil {
		return "", &RelayError{Kind: KindTranscodeFailed, SourceURL: sourceURL, Err: err}
	}
	r.log.WithFields(logrus.Fields{
		"source_type": mime,
		"source_size": humanSize(int64(len(data))),
		"webp_size":   humanSize(int64(len(webp))),
	}).Debug("transcoded cover image")

	objectPath := r.objectPath(key)
	uctx, cancel := context.WithTimeout(ctx, r.uploadTimeout)
	err = r.storage.upload(uctx, objectPath, webp, webpContentType)
	cancel()
	if err != nil {
		return "", &RelayError{Kind: kindOr(err, KindUploadFailed), SourceURL: sourceURL, Err: err}
	}
	return r.storage.publicURL(objectPath), nil
}
