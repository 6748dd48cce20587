package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/atinyakov/ejauth/internal/proto"
	"go.uber.org/zap"
)

// Mode selects how many requests a Session serves.
type Mode int

const (
	// ModeContinuous serves requests until the input ends.
	ModeContinuous Mode = iota
	// ModeOnce serves a single request.
	ModeOnce
)

func (m Mode) String() string {
	if m == ModeOnce {
		return "once"
	}
	return "continuous"
}

type flusher interface {
	Flush() error
}

// Session owns one request/response channel. Requests are handled strictly
// one at a time: a reply is fully written before the next frame is read.
type Session struct {
	r   io.Reader
	w   io.Writer
	d   *Dispatcher
	log *zap.Logger
}

// NewSession binds d to the transport r/w. If w buffers (bufio.Writer) it is
// flushed after every reply.
func NewSession(r io.Reader, w io.Writer, d *Dispatcher, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{r: r, w: w, d: d, log: log}
}

// RunOnce reads one frame, dispatches it and writes exactly one reply.
//
// io.EOF is returned, with nothing written, when the input ends before a
// frame starts. proto.ErrTruncatedFrame is returned, with nothing written,
// when the input ends inside a frame.
func (s *Session) RunOnce(ctx context.Context) error {
	payload, err := proto.ReadFrame(s.r)
	if err != nil {
		return err
	}
	result := s.d.DispatchPayload(ctx, payload)
	if err := s.reply(result); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

// Run serves requests until the input ends.
//
// A clean end of input returns nil. A truncated frame stops the loop with
// proto.ErrTruncatedFrame since the stream can no longer be trusted to be
// aligned on frame boundaries. Transport errors are returned wrapped. The
// context is checked between requests; a read already in progress is not
// interrupted by cancellation.
func (s *Session) Run(ctx context.Context) error {
	for served := 0; ; served++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.RunOnce(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			s.log.Info("input closed", zap.Int("served", served))
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, proto.ErrTruncatedFrame):
			s.log.Warn("input closed mid-frame", zap.Int("served", served), zap.Error(err))
			return err
		default:
			s.log.Error("transport failed", zap.Int("served", served), zap.Error(err))
			return fmt.Errorf("session: %w", err)
		}
	}
}

// Serve runs the session in the given mode. In ModeOnce an empty input is
// not an error.
func (s *Session) Serve(ctx context.Context, mode Mode) error {
	s.log.Debug("session started", zap.Stringer("mode", mode))
	if mode != ModeOnce {
		return s.Run(ctx)
	}
	err := s.RunOnce(ctx)
	if errors.Is(err, io.EOF) {
		s.log.Info("no request received")
		return nil
	}
	return err
}

func (s *Session) reply(result bool) error {
	if _, err := s.w.Write(proto.EncodeBoolReply(result)); err != nil {
		return err
	}
	if f, ok := s.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
