package client

import (
	"context"
	"fmt"
	"time"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/handler"
	"github.com/devrev/groove/internal/page"
	"github.com/devrev/groove/internal/schema"
	"github.com/devrev/groove/internal/shard"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DatasetClient talks to the dataset service of a remote groove node
type DatasetClient struct {
	addr   string
	conn   *grpc.ClientConn
	owned  bool
	logger *zap.Logger
}

// NewDatasetClient connects to addr without transport security
func NewDatasetClient(addr string, logger *zap.Logger) (*DatasetClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to groove node at %s: %w", addr, err)
	}
	c := NewDatasetClientFromConn(conn, logger)
	c.addr = addr
	c.owned = true
	return c, nil
}

// NewDatasetClientFromConn uses an existing connection; Close leaves it open
func NewDatasetClientFromConn(conn *grpc.ClientConn, logger *zap.Logger) *DatasetClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatasetClient{addr: conn.Target(), conn: conn, logger: logger}
}

// Describe fetches the schema of datasetURL
func (c *DatasetClient) Describe(ctx context.Context, datasetURL string) (*schema.Schema, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, handler.DescribeMethod, wrapperspb.String(datasetURL), out); err != nil {
		return nil, fmt.Errorf("describe %s: %w", datasetURL, err)
	}
	sch, err := schema.Parse(out.GetValue())
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", datasetURL, err)
	}
	return sch, nil
}

// GetShard fetches the encoded page table holding the datums of sh
func (c *DatasetClient) GetShard(ctx context.Context, sh *shard.Shard) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	start := time.Now()
	if err := c.conn.Invoke(ctx, handler.GetShardMethod, wrapperspb.Bytes(sh.Encode()), out); err != nil {
		return nil, fmt.Errorf("get shard %s: %w", sh, err)
	}
	c.logger.Debug("Fetched shard",
		zap.String("node", c.addr),
		zap.String("shard", sh.String()),
		zap.Int("bytes", len(out.GetValue())),
		zap.Duration("duration", time.Since(start)))
	return out.GetValue(), nil
}

// DeclareDataset declares datasetURL on the node with sch
func (c *DatasetClient) DeclareDataset(ctx context.Context, datasetURL string, sch *schema.Schema) error {
	req := &shard.DeclareRequest{DatasetURL: datasetURL, Schema: sch.Standalone()}
	if err := c.conn.Invoke(ctx, handler.DeclareMethod, wrapperspb.Bytes(req.Encode()), new(emptypb.Empty)); err != nil {
		return fmt.Errorf("declare %s: %w", datasetURL, err)
	}
	c.logger.Info("Declared dataset", zap.String("node", c.addr), zap.String("dataset", datasetURL))
	return nil
}

// PutData writes an encoded put request and returns the columns the node
// skipped
func (c *DatasetClient) PutData(ctx context.Context, req *shard.PutRequest) ([]string, error) {
	out := new(wrapperspb.BytesValue)
	start := time.Now()
	if err := c.conn.Invoke(ctx, handler.PutDataMethod, wrapperspb.Bytes(req.Encode()), out); err != nil {
		return nil, fmt.Errorf("put %s/%s: %w", req.DatasetURL, req.ModelID, err)
	}
	failed, err := shard.DecodeColumnList(out.GetValue())
	if err != nil {
		return nil, fmt.Errorf("put %s/%s: %w", req.DatasetURL, req.ModelID, err)
	}
	c.logger.Debug("Put frame",
		zap.String("node", c.addr),
		zap.String("dataset", req.DatasetURL),
		zap.String("model", req.ModelID),
		zap.Int("bytes", len(req.Frame)),
		zap.Strings("failed_columns", failed),
		zap.Duration("duration", time.Since(start)))
	return failed, nil
}

// PutFrame merge-writes f into modelID of datasetURL on the node
func PutFrame[K data.Key](ctx context.Context, c *DatasetClient, datasetURL, modelID string, f *data.Frame[K]) ([]string, error) {
	req, err := shard.NewPutRequest(datasetURL, modelID, f)
	if err != nil {
		return nil, err
	}
	return c.PutData(ctx, req)
}

// FetchVector requests r of one column and decodes the answer
func FetchVector[K data.Key, V data.Value](ctx context.Context, c *DatasetClient, datasetURL, modelID, columnID string, r data.Range[K]) (*data.Vector[K, V], error) {
	sh, err := shard.New(datasetURL, modelID, columnID, data.ValueTypeOf[V](), r)
	if err != nil {
		return nil, err
	}
	buf, err := c.GetShard(ctx, sh)
	if err != nil {
		return nil, err
	}
	return page.DecodeVector[K, V](buf, columnID)
}

// FetchWithRetry retries FetchVector while the node answers Unavailable
func FetchWithRetry[K data.Key, V data.Value](ctx context.Context, c *DatasetClient, datasetURL, modelID, columnID string, r data.Range[K], maxRetries int, retryInterval time.Duration) (*data.Vector[K, V], error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		vec, err := FetchVector[K, V](ctx, c, datasetURL, modelID, columnID, r)
		if err == nil || status.Code(err) != codes.Unavailable {
			return vec, err
		}
		lastErr = err
		c.logger.Warn("Shard fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during fetch: %w", ctx.Err())
			case <-time.After(retryInterval):
			}
		}
	}
	return nil, fmt.Errorf("failed to fetch shard after %d attempts: %w", maxRetries, lastErr)
}

// Close closes the connection if the client opened it
func (c *DatasetClient) Close() error {
	if c.owned && c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
