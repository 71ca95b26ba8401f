package storage

import (
	"context"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/memory"
)

// MediaTypeBlob is the media type used for generic orchestrator artifacts
// (stage outputs, run manifests, dispute evidence bundles) pushed to the
// content store.
const MediaTypeBlob = "application/vnd.agia.orchestrator.blob.v1"

func pushBytes(ctx context.Context, store *memory.Store, blob []byte) (ocispec.Descriptor, error) {
	return oras.PushBytes(ctx, store, MediaTypeBlob, blob)
}
