package iotc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"syscall"
	"time"

	"github.com/ethan/iotc-bridge/pkg/tutk"
)

// PumpConfig tunes the frame pump's tolerance for a misbehaving camera.
type PumpConfig struct {
	// MaxNoReady bounds consecutive AV_ER_DATA_NOREADY results once the
	// first frame has arrived.
	MaxNoReady int
	// MaxBadRes bounds consecutive frames at the wrong resolution.
	MaxBadRes int
	// IgnoreRes is an extra frame size accepted besides the preferred
	// one. Zero selects preferred+3, the portrait doorbell variant.
	IgnoreRes int
}

const (
	defaultMaxNoReady = 100
	defaultMaxBadRes  = 100

	pumpRetrySleep = 100 * time.Millisecond

	// Staleness thresholds: drop frames that trail the wall clock or the
	// last keyframe by too much instead of feeding the sink a backlog.
	maxFrameAge    = 20 * time.Second
	maxKeyframeAge = 5 * time.Second
)

// PumpFrames runs the backpressured frame loop: receive a compressed
// frame, validate its resolution, keyframe distance, and age, and write
// it synchronously to the sink. It returns nil when the sink closes
// (broken pipe) or the context is cancelled, and an error for everything
// the supervisor should react to. Frames are never buffered; a slow sink
// surfaces as rising NOREADY counts until the pump exits.
func (s *Session) PumpFrames(ctx context.Context, sink io.Writer, cfg PumpConfig) error {
	if cfg.MaxNoReady <= 0 {
		cfg.MaxNoReady = defaultMaxNoReady
	}
	if cfg.MaxBadRes <= 0 {
		cfg.MaxBadRes = defaultMaxBadRes
	}

	ch := s.channel()
	if ch < 0 {
		return fmt.Errorf("no av channel")
	}

	accepted := func(frameSize int) bool {
		preferred := s.PreferredFrameSize()
		ignore := cfg.IgnoreRes
		if ignore == 0 {
			// Portrait doorbells intermittently report preferred+3.
			ignore = preferred + 3
		}
		return frameSize == preferred || frameSize == ignore
	}

	var (
		badNoReady, badRes int
		lastFrameNo        uint32
		lastKeyframeAt     time.Time
		lastKeyframeNo     uint32
	)

	for s.State() == StateAuthSucceeded {
		if err := ctx.Err(); err != nil {
			return nil
		}

		errno, frame, info, err := s.tr.AVRecvFrame(ch)
		if err != nil {
			return err
		}
		if errno < 0 {
			switch errno {
			case tutk.AVErrDataNoReady:
				if lastFrameNo < 1 {
					continue
				}
				badNoReady++
				if badNoReady > cfg.MaxNoReady {
					return fmt.Errorf("no frames from camera: %w", tutk.NewError(errno))
				}
				s.log.DebugFrame("frame not available", "count", badNoReady, "max", cfg.MaxNoReady)
				sleepCtx(ctx, pumpRetrySleep)
				continue
			case tutk.AVErrIncompleteFrame:
				s.log.DebugFrame("received incomplete frame")
				continue
			case tutk.AVErrLosedThisFrame:
				s.log.DebugFrame("lost frame")
				continue
			default:
				return tutk.NewError(errno)
			}
		}

		if !accepted(int(info.FrameSize)) {
			if lastFrameNo == 0 {
				s.log.Warn("skipping smaller frame at start of stream", "frame_size", info.FrameSize)
				continue
			}
			badRes++
			if badRes > cfg.MaxBadRes {
				return fmt.Errorf("camera is stuck at wrong resolution (frame_size=%d)", info.FrameSize)
			}
			s.log.Warn("wrong resolution", "frame_size", info.FrameSize, "count", badRes, "max", cfg.MaxBadRes)
			if mux := s.Mux(); mux != nil {
				if _, err := mux.Send(s.resolvingMessage()).Result(5 * time.Second); err != nil {
					s.log.Warn("resolving re-send failed", "error", err)
				}
			}
			sleepCtx(ctx, pumpRetrySleep)
			continue
		}

		badNoReady, badRes = 0, 0

		now := time.Now()
		if info.IsKeyframe {
			lastKeyframeAt = now
			lastKeyframeNo = info.FrameNo
		}

		// Lost the previous GOP entirely: far from the last keyframe and
		// far from the last forwarded frame.
		gap := int64(info.FrameNo) - int64(lastKeyframeNo)
		if (gap > int64(info.Framerate)*2 && int64(info.FrameNo)-int64(lastFrameNo) > 6) ||
			now.Unix()-int64(info.Timestamp) > int64(maxFrameAge/time.Second) {
			s.log.DebugFrame("dropping old frames", "frame_no", info.FrameNo)
			continue
		}
		// Until the first keyframe arrives, the last-keyframe time reads
		// as infinitely old, so nothing reaches the sink before it.
		if lastKeyframeAt.IsZero() || now.Sub(lastKeyframeAt) > maxKeyframeAge {
			s.log.DebugFrame("dropping frame, no recent keyframe", "frame_no", info.FrameNo)
			continue
		}

		s.log.DebugFrameInfo(info.FrameNo, int(info.FrameSize), int(info.CodecID), info.IsKeyframe, len(frame))
		if _, err := sink.Write(frame); err != nil {
			if isBrokenPipe(err) {
				s.log.Info("frame sink closed")
				return nil
			}
			return fmt.Errorf("write frame to sink: %w", err)
		}
		lastFrameNo = info.FrameNo
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func isBrokenPipe(err error) bool {
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE) || errors.Is(err, fs.ErrClosed) {
		return true
	}
	return false
}
