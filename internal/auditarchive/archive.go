// Package auditarchive ships request-guard rejections to S3 as JSON Lines
// objects, one object per flushed batch.
//
// Record never blocks the request path: records go into a bounded buffer and
// are dropped (and counted) when it is full. Run owns the buffer. It flushes
// whenever a batch fills or the interval elapses, and once more on shutdown.
package auditarchive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/permittrack/permit-api/internal/log"
	"github.com/permittrack/permit-api/internal/reqguard"
	"github.com/permittrack/permit-api/internal/xerrors"
)

const (
	ContentType = "application/x-ndjson"

	DefaultFlushInterval = 30 * time.Second
	DefaultBatchSize     = 500
	DefaultBufferSize    = 4096

	shutdownFlushTimeout = 10 * time.Second
)

// PutObjectAPI is the slice of *s3.Client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Metrics is implemented by metrics.ServerMetrics.
type Metrics interface {
	IncArchiveRecords()
	IncArchiveDropped()
	ObserveArchiveFlush(d time.Duration, err error)
}

type Options struct {
	Logger        log.Logger
	Client        PutObjectAPI
	Bucket        string
	Prefix        string
	FlushInterval time.Duration
	BatchSize     int
	BufferSize    int
	Metrics       Metrics
}

type Archiver struct {
	logger    log.Logger
	client    PutObjectAPI
	bucket    string
	prefix    string
	interval  time.Duration
	batchSize int
	metrics   Metrics
	records   chan reqguard.Decision
	now       func() time.Time
	newID     func() string
}

// New validates opts and applies defaults. Call Run to start shipping.
func New(opts Options) (*Archiver, error) {
	if opts.Client == nil {
		return nil, xerrors.New("audit archive: s3 client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("audit archive: bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &Archiver{
		logger:    opts.Logger,
		client:    opts.Client,
		bucket:    opts.Bucket,
		prefix:    strings.Trim(opts.Prefix, "/"),
		interval:  opts.FlushInterval,
		batchSize: opts.BatchSize,
		metrics:   opts.Metrics,
		records:   make(chan reqguard.Decision, opts.BufferSize),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

// NewS3Client builds a client from the default AWS credential chain, or from
// awsCfg when given.
func NewS3Client(ctx context.Context, awsCfg *aws.Config) (*s3.Client, error) {
	if awsCfg != nil {
		return s3.NewFromConfig(*awsCfg), nil
	}
	c, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	return s3.NewFromConfig(c), nil
}

// Record is a reqguard.Hook. Passing decisions are ignored.
func (a *Archiver) Record(_ context.Context, d reqguard.Decision) {
	if d.Outcome != reqguard.OutcomeReject {
		return
	}
	select {
	case a.records <- d:
		if a.metrics != nil {
			a.metrics.IncArchiveRecords()
		}
	default:
		if a.metrics != nil {
			a.metrics.IncArchiveDropped()
		}
	}
}

// Run flushes until ctx is done, then drains the buffer and flushes once more
// with a fresh deadline.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	batch := make([]reqguard.Decision, 0, a.batchSize)
	for {
		select {
		case <-ctx.Done():
			batch = a.drain(batch)
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
			a.flush(fctx, batch)
			cancel()
			a.logger.Info(fctx, "audit archive stopped")
			return
		case d := <-a.records:
			batch = append(batch, d)
			if len(batch) >= a.batchSize {
				batch = a.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = a.flush(ctx, batch)
		}
	}
}

func (a *Archiver) drain(batch []reqguard.Decision) []reqguard.Decision {
	for {
		select {
		case d := <-a.records:
			batch = append(batch, d)
		default:
			return batch
		}
	}
}

// flush writes batch as one object and returns the emptied slice. A failed
// batch is dropped and counted.
func (a *Archiver) flush(ctx context.Context, batch []reqguard.Decision) []reqguard.Decision {
	if len(batch) == 0 {
		return batch
	}
	start := time.Now()
	key, err := a.put(ctx, batch)
	if a.metrics != nil {
		a.metrics.ObserveArchiveFlush(time.Since(start), err)
	}
	if err != nil {
		a.logger.Error(ctx, err, "audit archive flush failed",
			"bucket", a.bucket,
			"records", len(batch),
		)
		if a.metrics != nil {
			for range batch {
				a.metrics.IncArchiveDropped()
			}
		}
	} else {
		a.logger.Debug(ctx, "audit archive flushed",
			"bucket", a.bucket,
			"key", key,
			"records", len(batch),
		)
	}
	return batch[:0]
}

func (a *Archiver) put(ctx context.Context, batch []reqguard.Decision) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range batch {
		if err := enc.Encode(d); err != nil {
			return "", xerrors.Wrap(err, "encode audit record")
		}
	}

	key := a.objectKey(a.now())
	sum := sha256.Sum256(buf.Bytes())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(buf.Bytes()),
		ContentLength:        aws.Int64(int64(buf.Len())),
		ContentType:          aws.String(ContentType),
		ChecksumSHA256:       aws.String(base64.StdEncoding.EncodeToString(sum[:])),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return key, xerrors.Wrapf(err, "put s3://%s/%s", a.bucket, key)
	}
	return key, nil
}

// objectKey is <prefix>/YYYY/MM/DD/<UTC timestamp>-<uuid>.jsonl.
func (a *Archiver) objectKey(t time.Time) string {
	t = t.UTC()
	name := fmt.Sprintf("%s/%s-%s.jsonl", t.Format("2006/01/02"), t.Format("20060102T150405.000Z"), a.newID())
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}
