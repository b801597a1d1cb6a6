package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// supabaseStorage uploads objects to one Supabase Storage bucket.
type supabaseStorage struct {
	baseURL string
	apiKey  string
	bucket  string
	client  *http.Client
}

func newSupabaseStorage(baseURL, apiKey, bucket string, client *http.Client) *supabaseStorage {
	if client == nil {
		client = http.DefaultClient
	}
	return &supabaseStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		bucket:  bucket,
		client:  client,
	}
}

// escapePath escapes each segment of an object path, keeping the slashes.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// upload creates objectPath in the bucket. Existing objects are never
// overwritten; Supabase answers 409 (or 400 "Duplicate") instead.
func (s *supabaseStorage) upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	endpoint := s.baseURL + "/storage/v1/object/" + url.PathEscape(s.bucket) + "/" + escapePath(objectPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	setSupabaseHeaders(req, s.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "max-age=3600")
	req.Header.Set("x-upsert", "false")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, URL: endpoint, Message: readErrorMessage(resp.Body)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// publicURL is the unauthenticated URL of objectPath. It assumes the bucket is public.
func (s *supabaseStorage) publicURL(objectPath string) string {
	return s.baseURL + "/storage/v1/object/public/" + url.PathEscape(s.bucket) + "/" + escapePath(objectPath)
}

func setSupabaseHeaders(req *http.Request, apiKey string) {
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

// readErrorMessage pulls the human readable part out of a Supabase error
// body. Storage uses {"error","message"}, PostgREST {"code","message","details"}.
func readErrorMessage(r io.Reader) string {
	body, err := readLimited(r, 64<<10)
	if err != nil || len(body) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	msg := payload.Message
	if msg == "" {
		msg = payload.Error
	}
	if payload.Details != "" {
		msg += " (" + payload.Details + ")"
	}
	return msg
}
