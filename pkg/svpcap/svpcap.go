package svpcap

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/takehaya/svpcap/pkg/logger"
	"github.com/takehaya/svpcap/pkg/svgen"
)

type CancelFunc func(ctx context.Context) error
type SvPcap struct {
	Logger        *zap.Logger
	cleanupFnList []CancelFunc

	cfg Config
}

// Summary describes one completed generation run.
type Summary struct {
	Output       string
	Frames       int
	Streams      int
	Iterations   int
	Bytes        int
	RecordLen    int
	SamplingRate int
	Elapsed      time.Duration
}

func NewSvPcap(cfg Config) (*SvPcap, error) {
	var cleanupFnList []CancelFunc
	logger, cleanup, err := logger.NewLogger(cfg.LoggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed init logger: %w", err)
	}
	cleanupFnList = append(cleanupFnList, cleanup)

	return &SvPcap{
		Logger:        logger,
		cleanupFnList: cleanupFnList,
		cfg:           cfg,
	}, nil
}

// Generate validates the parameters, builds the whole capture in memory and
// flushes it to the output path in one atomic step. On any error the output
// path is left untouched.
func (x *SvPcap) Generate(ctx context.Context) (*Summary, error) {
	if err := x.cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	// パラメータ検証はバイト生成より前に全部済ませる
	genCfg, err := x.cfg.Params.Validate()
	if err != nil {
		x.Logger.Debug("invalid generation parameters", zap.Error(err))
		return nil, err
	}

	gen, err := svgen.NewGenerator(genCfg, x.Logger.Named("svgen"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build frame template")
	}

	data, err := gen.Generate(ctx)
	if err != nil {
		x.Logger.Error("generation aborted", zap.Error(err))
		return nil, errors.Wrap(err, "failed to generate capture")
	}

	if err := svgen.WriteFileAtomic(x.cfg.Output, data); err != nil {
		x.Logger.Error("failed to write capture", zap.String("output", x.cfg.Output), zap.Error(err))
		return nil, errors.WithStack(err)
	}

	sum := &Summary{
		Output:       x.cfg.Output,
		Frames:       genCfg.Iterations * int(genCfg.StreamCount),
		Streams:      int(genCfg.StreamCount),
		Iterations:   genCfg.Iterations,
		Bytes:        len(data),
		RecordLen:    gen.Template().Len(),
		SamplingRate: genCfg.SamplingRate(),
		Elapsed:      time.Since(start),
	}
	x.Logger.Info("capture written",
		zap.String("output", sum.Output),
		zap.Int("frames", sum.Frames),
		zap.Int("bytes", sum.Bytes),
		zap.Duration("elapsed", sum.Elapsed),
	)
	return sum, nil
}

// Verify re-reads a capture file and checks its record invariants.
func (x *SvPcap) Verify(_ context.Context, path string) (*svgen.Report, error) {
	x.Logger.Info("verifying capture", zap.String("path", path))
	rep, err := svgen.VerifyFile(path)
	if err != nil {
		return rep, errors.Wrapf(err, "verify %s", path)
	}
	x.Logger.Debug("capture verified",
		zap.Int("records", rep.Records),
		zap.Int("streams", len(rep.Streams)),
	)
	return rep, nil
}

func (x *SvPcap) Close() {
	for _, fn := range x.cleanupFnList {
		if err := fn(context.Background()); err != nil {
			x.Logger.Error("failed to cleanup", zap.Error(err))
		}
	}
}
