package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/genjobs/internal/models"
)

// ResultUploader moves inline base64 images out of job results and into an
// ObjectStore, replacing image_base64 with image_url.
type ResultUploader struct {
	store ObjectStore
}

func NewResultUploader(store ObjectStore) *ResultUploader {
	return &ResultUploader{store: store}
}

// Rewrite returns result with every known image location uploaded. Results
// that are not JSON objects are returned unchanged, as are images whose
// upload fails.
func (u *ResultUploader) Rewrite(ctx context.Context, key models.JobKey, result json.RawMessage) json.RawMessage {
	if key.GenerationID == "" {
		return result
	}

	dec := json.NewDecoder(bytes.NewReader(result))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return result
	}

	if !u.rewriteAll(ctx, key, doc) {
		return result
	}

	out, err := json.Marshal(doc)
	if err != nil {
		log.Warn().Err(err).Str("key", key.String()).Msg("Failed to encode rewritten result")
		return result
	}
	return out
}

func (u *ResultUploader) rewriteAll(ctx context.Context, key models.JobKey, doc map[string]any) bool {
	changed := u.upload(ctx, key, doc, "main")

	if img, ok := doc["image"].(map[string]any); ok {
		changed = u.upload(ctx, key, img, "image") || changed
	}

	for i, item := range objects(doc["images"]) {
		changed = u.upload(ctx, key, item, fmt.Sprintf("image_%d", i)) || changed
	}

	if km, ok := doc["key_moment"].(map[string]any); ok {
		if img, ok := km["image"].(map[string]any); ok {
			changed = u.upload(ctx, key, img, "key_moment") || changed
		}
	}

	for i, km := range objects(doc["key_moments"]) {
		if img, ok := km["image"].(map[string]any); ok {
			changed = u.upload(ctx, key, img, fmt.Sprintf("key_moment_%d", i)) || changed
		}
	}

	for i, si := range objects(doc["scene_images"]) {
		if img, ok := si["image"].(map[string]any); ok {
			changed = u.upload(ctx, key, img, fmt.Sprintf("scene_%d", i)) || changed
		}
	}

	return changed
}

// upload replaces image_base64 in d with image_url, keeping the base64 on failure.
func (u *ResultUploader) upload(ctx context.Context, key models.JobKey, d map[string]any, label string) bool {
	encoded, _ := d["image_base64"].(string)
	if encoded == "" {
		return false
	}

	mime, _ := d["mime_type"].(string)
	if mime == "" {
		mime = "image/png"
	}

	objectKey := ObjectKey(key, label, mime)

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		log.Warn().Err(err).Str("object_key", objectKey).Msg("Failed to decode result image, keeping inline data")
		return false
	}

	url, err := u.store.Put(ctx, objectKey, data, mime)
	if err != nil {
		log.Warn().Err(err).Str("object_key", objectKey).Msg("Failed to upload result image, keeping inline data")
		return false
	}

	d["image_url"] = url
	delete(d, "image_base64")
	return true
}

// ObjectKey is {generation_id}/{job_type}/{safe_target}/{label}.{ext}.
func ObjectKey(key models.JobKey, label, mime string) string {
	target := "default"
	if key.TargetID != "" {
		target = strings.ReplaceAll(key.TargetID, "/", "_")
	}
	return key.GenerationID + "/" + key.JobType + "/" + target + "/" + label + "." + extension(mime)
}

func extension(mime string) string {
	switch {
	case strings.Contains(mime, "png"):
		return "png"
	case strings.Contains(mime, "jpeg"), strings.Contains(mime, "jpg"):
		return "jpg"
	default:
		return "webp"
	}
}

func objects(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]map[string]any, len(list))
	for i, item := range list {
		// non-object entries stay nil and are skipped by upload
		out[i], _ = item.(map[string]any)
	}
	return out
}
