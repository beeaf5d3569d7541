package imaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultWidth and DefaultHeight are used when the device size is unknown
	DefaultWidth  = 64
	DefaultHeight = 64
)

// Result is an encoded GIF ready for upload
type Result struct {
	JobID  string
	Data   []byte
	Frames int
	Width  int
	Height int
	Cached bool
}

// Pipeline decodes, resizes and re-encodes images. It owns a worker pool
// that lives until Close.
type Pipeline struct {
	pool   *WorkerPool
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewPipeline creates a pipeline and starts its workers. cache may be nil.
func NewPipeline(workers int, cache Cache, ttl time.Duration, logger *zap.Logger) *Pipeline {
	pool := NewWorkerPool(workers, logger)
	pool.Start()
	return &Pipeline{pool: pool, cache: cache, ttl: ttl, logger: logger}
}

// Close stops the worker pool
func (p *Pipeline) Close() {
	p.pool.Stop()
}

// Frames decodes data and resizes every frame to width x height
func (p *Pipeline) Frames(ctx context.Context, data []byte, width, height int) ([]Frame, error) {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	return p.frames(ctx, uuid.NewString(), data, width, height)
}

// Process converts data into a GIF of width x height. Non-positive sizes
// fall back to 64x64. Output larger than MaxEncodedSize yields ErrTooLarge.
func (p *Pipeline) Process(ctx context.Context, data []byte, width, height int) (*Result, error) {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	jobID := uuid.NewString()
	key := cacheKey(data, width, height)

	if p.cache != nil {
		cached, found, err := p.cache.Get(ctx, key)
		if err != nil {
			p.logger.Warn("Failed to read encode cache", zap.String("job_id", jobID), zap.Error(err))
		} else if found {
			if err := CheckSize(cached); err != nil {
				return nil, err
			}
			p.logger.Debug("Encode cache hit", zap.String("job_id", jobID), zap.Int("bytes", len(cached)))
			return &Result{JobID: jobID, Data: cached, Width: width, Height: height, Cached: true}, nil
		}
	}

	start := time.Now()
	frames, err := p.frames(ctx, jobID, data, width, height)
	if err != nil {
		return nil, err
	}

	encoded, err := Encode(frames)
	if err != nil {
		return nil, err
	}
	if err := CheckSize(encoded); err != nil {
		return nil, err
	}

	p.logger.Info("Image converted",
		zap.String("job_id", jobID),
		zap.Int("frames", len(frames)),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("bytes", len(encoded)),
		zap.Duration("duration", time.Since(start)))

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, encoded, p.ttl); err != nil {
			p.logger.Warn("Failed to write encode cache", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	return &Result{
		JobID:  jobID,
		Data:   encoded,
		Frames: len(frames),
		Width:  width,
		Height: height,
	}, nil
}

func (p *Pipeline) frames(ctx context.Context, jobID string, data []byte, width, height int) ([]Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.pool.ResizeAll(ctx, jobID, frames, width, height)
}

func cacheKey(data []byte, width, height int) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s/%dx%d", hex.EncodeToString(sum[:]), width, height)
}
