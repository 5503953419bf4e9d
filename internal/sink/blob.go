// internal/sink/blob.go
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoprompt-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BlobSink uploads a task's artifacts and conversation transcript to an
// Azure Blob Storage container.
//
// Artifacts land under <prefix>/<agent>/<source>/<task>/<filename>;
// transcripts under <agent>_conversations/<timestamp>_<task>.json.
type BlobSink struct {
	client    *container.Client
	logger    *zap.Logger
	agentName string
	prefix    string
}

var _ schemas.ResultSink = (*BlobSink)(nil)

// NewBlobSink connects to a container URL. A URL carrying a SAS query is
// used as-is; otherwise the ambient Azure credential chain is used.
func NewBlobSink(containerURL, agentName, prefix string, logger *zap.Logger) (*BlobSink, error) {
	var (
		client *container.Client
		err    error
	)
	if strings.Contains(containerURL, "?") {
		client, err = container.NewClientWithNoCredential(containerURL, nil)
	} else {
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("resolving azure credential: %w", err)
		}
		client, err = container.NewClient(containerURL, cred, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("creating blob container client: %w", err)
	}

	if prefix == "" {
		prefix = "attempts"
	}
	return &BlobSink{
		client:    client,
		logger:    logger.Named("blob_sink"),
		agentName: agentName,
		prefix:    prefix,
	}, nil
}

// Offer uploads everything the result carries. Partial failures abort the
// remaining uploads and surface as one error for the fan-out to log.
func (b *BlobSink) Offer(ctx context.Context, result *schemas.TaskResult) error {
	for _, path := range result.Artifacts {
		key := b.artifactKey(result, path)
		if err := b.uploadFile(ctx, path, key); err != nil {
			return fmt.Errorf("uploading artifact %s: %w", filepath.Base(path), err)
		}
		b.logger.Info("Uploaded artifact.", zap.String("key", key))
	}

	if len(result.Conversation) > 0 {
		key := b.conversationKey(result)
		data, err := json.MarshalIndent(result.Conversation, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding conversation: %w", err)
		}
		bb := b.client.NewBlockBlobClient(key)
		if _, err := bb.UploadBuffer(ctx, data, nil); err != nil {
			return fmt.Errorf("uploading conversation: %w", err)
		}
		b.logger.Info("Uploaded conversation transcript.", zap.String("key", key))
	}
	return nil
}

func (b *BlobSink) uploadFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bb := b.client.NewBlockBlobClient(key)
	_, err = bb.UploadFile(ctx, f, nil)
	return err
}

func (b *BlobSink) artifactKey(result *schemas.TaskResult, path string) string {
	source := result.Task.Source
	if source == "" {
		source = "unsourced"
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s",
		b.prefix, b.agentName, source, sanitizeKey(result.Task.Name), filepath.Base(path))
}

func (b *BlobSink) conversationKey(result *schemas.TaskResult) string {
	ts := result.EndedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return fmt.Sprintf("%s_conversations/%s_%s.json",
		b.agentName, ts.Format("20060102_150405"), sanitizeKey(result.Task.Name))
}

// sanitizeKey keeps blob names portable.
func sanitizeKey(s string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "#", "_", "?", "_")
	return r.Replace(s)
}
