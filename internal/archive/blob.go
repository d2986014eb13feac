// Package archive writes terminal flow states to durable blob storage so
// the hot Redis store only carries the active roster
package archive

import (
	"context"
	"encoding/json"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/coastline-io/flotilla/pkg/api"
)

// BlobArchiver persists flow records via gocloud.dev/blob, supporting S3,
// GCS, Azure Blob Storage, and S3-compatible stores
type BlobArchiver struct {
	bucket *blob.Bucket
	prefix string
}

// New opens the bucket named by the URL. The prefix namespaces this
// deployment's records within a shared bucket
func New(
	ctx context.Context, bucketURL, prefix string,
) (*BlobArchiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobArchiver{bucket: bucket, prefix: prefix}, nil
}

// ArchiveFlow writes the flow's full state record
func (a *BlobArchiver) ArchiveFlow(
	ctx context.Context, flow *api.FlowState,
) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return err
	}
	return a.bucket.WriteAll(ctx, a.keyFor(flow.ID), data, nil)
}

// GetFlow reads an archived flow record, or (nil, nil) when the flow was
// never archived
func (a *BlobArchiver) GetFlow(
	ctx context.Context, flowID api.FlowID,
) (*api.FlowState, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(flowID))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, err
	}

	var flow api.FlowState
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

func (a *BlobArchiver) Close() error {
	return a.bucket.Close()
}

func (a *BlobArchiver) keyFor(flowID api.FlowID) string {
	return a.prefix + string(flowID) + ".json"
}
