// Package storage is the content-addressed storage collaborator (spec §6):
// upload(blob) -> {cid, uri}; resolve(uri) for downloads. It stands in for
// the spec's external storage service using an OCI content-addressable
// store (oras-go's in-memory blob store, backed by a disk directory for
// durability across restarts) rather than a real IPFS node — no such
// dependency exists anywhere in the retrieval pack, whereas oras-go is
// already the teacher's mechanism for digest-addressed artifact storage
// (internal/skills/registry.go).
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"oras.land/oras-go/v2/content/memory"
)

// Ref identifies an uploaded blob both by its content digest (cid) and by
// the ipfs://-scheme URI the rest of the orchestrator threads through job
// records, manifests, and finalizeJob calls.
type Ref struct {
	CID string
	URI string
}

// Client uploads blobs to content-addressed storage and resolves URIs back
// to bytes, including ipfs:// URIs produced by other participants that this
// process must fetch through a gateway.
type Client struct {
	root       string
	gatewayURL string
	store      *memory.Store
	httpClient *http.Client
}

// New constructs a Client rooted at dir for on-disk persistence, with
// gatewayURL used to resolve ipfs:// URIs this process did not itself
// upload (empty disables gateway fetches).
func New(dir, gatewayURL string) (*Client, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Client{
		root:       dir,
		gatewayURL: strings.TrimSuffix(gatewayURL, "/"),
		store:      memory.New(),
		httpClient: &http.Client{},
	}, nil
}

// Upload pushes blob to the content store and persists it to disk, keyed by
// its sha256 digest, returning the cid/uri pair.
func (c *Client) Upload(ctx context.Context, blob []byte) (Ref, error) {
	desc, err := pushBytes(ctx, c.store, blob)
	if err != nil {
		return Ref{}, fmt.Errorf("push blob: %w", err)
	}
	cid := "sha256:" + desc.Digest.Encoded()
	if err := os.WriteFile(c.blobPath(cid), blob, 0o640); err != nil {
		return Ref{}, fmt.Errorf("persist blob: %w", err)
	}
	return Ref{CID: cid, URI: "ipfs://" + cid}, nil
}

// Resolve fetches the bytes for uri: local blobs are read from disk;
// anything else is fetched through the configured gateway.
func (c *Client) Resolve(ctx context.Context, uri string) ([]byte, error) {
	cid := strings.TrimPrefix(uri, "ipfs://")
	if data, err := os.ReadFile(c.blobPath(cid)); err == nil {
		return data, nil
	}

	if c.gatewayURL == "" {
		return nil, fmt.Errorf("resolve %q: not found locally and no gateway configured", uri)
	}
	gatewayReq := c.gatewayURL + "/ipfs/" + strings.TrimPrefix(cid, "sha256:")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewayReq, nil)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q via gateway: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %q via gateway: status %d", uri, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) blobPath(cid string) string {
	sanitized := strings.ReplaceAll(strings.TrimPrefix(cid, "sha256:"), "/", "_")
	return filepath.Join(c.root, "blobs", sanitized)
}

// BlobPath returns the on-disk path a blob uploaded under cid is persisted
// at, for callers that need to record a local storagePath alongside the
// cid/uri pair (e.g. the completed-job evidence snapshot).
func (c *Client) BlobPath(cid string) string {
	return c.blobPath(cid)
}
