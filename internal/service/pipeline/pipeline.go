// Package pipeline decodes a video file and runs every frame through a hosted model.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"detectserver/internal/logger"
	"detectserver/internal/service/annotate"
	"detectserver/internal/service/roboflow"
)

// ErrStopped is returned by Start when Stop was called first.
var ErrStopped = errors.New("pipeline stopped")

// PredictionHandler receives the model output for a decoded frame.
// The frame is only valid for the duration of the call.
type PredictionHandler func(resp *roboflow.Response, frame gocv.Mat)

type Options struct {
	Thresholds roboflow.Thresholds
	MaxFPS     float64 // 0 disables the limit
	Logger     *logger.Logger
}

// Stats counts what the pipeline has done so far.
type Stats struct {
	Frames      int64
	Predictions int64
	Failures    int64
}

type Pipeline struct {
	model        roboflow.Predictor
	videoPath    string
	onPrediction PredictionHandler
	opts         Options
	logger       *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool
	done    chan struct{}
	err     error

	frames      atomic.Int64
	predictions atomic.Int64
	failures    atomic.Int64
}

func New(model roboflow.Predictor, videoPath string, onPrediction PredictionHandler, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{
		model:        model,
		videoPath:    videoPath,
		onPrediction: onPrediction,
		opts:         opts,
		logger:       log,
		done:         make(chan struct{}),
	}
}

// Start opens the video and begins processing in the background.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		if !p.started {
			p.started = true
			p.err = ErrStopped
			close(p.done)
		}
		return ErrStopped
	}
	if p.started {
		return errors.New("pipeline already started")
	}
	p.started = true

	vc, err := gocv.VideoCaptureFile(p.videoPath)
	if err != nil {
		p.err = fmt.Errorf("failed to open video %s: %w", p.videoPath, err)
		close(p.done)
		return p.err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go p.run(runCtx, vc)
	return nil
}

// Join blocks until the video is exhausted or the pipeline is stopped.
func (p *Pipeline) Join() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop cancels processing. It is safe to call more than once and before Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
}

// Done is closed once processing has ended.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:      p.frames.Load(),
		Predictions: p.predictions.Load(),
		Failures:    p.failures.Load(),
	}
}

func (p *Pipeline) run(ctx context.Context, vc *gocv.VideoCapture) {
	defer close(p.done)
	defer vc.Close()

	var limiter *rate.Limiter
	if p.opts.MaxFPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.opts.MaxFPS), 1)
	}

	frame := gocv.NewMat()
	defer frame.Close()

	for {
		if ctx.Err() != nil {
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		if ok := vc.Read(&frame); !ok || frame.Empty() {
			p.logger.Info("Video %s finished after %d frames", p.videoPath, p.frames.Load())
			return
		}
		p.frames.Add(1)

		encoded, err := annotate.EncodeJPEG(frame)
		if err != nil {
			p.failures.Add(1)
			p.logger.Error("Failed to encode frame: %v", err)
			continue
		}

		resp, err := p.model.Predict(ctx, encoded, p.opts.Thresholds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.failures.Add(1)
			p.logger.Warning("Prediction failed for frame %d: %v", p.frames.Load(), err)
			continue
		}
		p.predictions.Add(1)

		p.onPrediction(resp, frame)
	}
}
