package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"booklessons/internal/models"
	"booklessons/internal/repository"
)

// Cursor is the seq of the last message a stream consumer has seen. The
// stream only emits messages with a greater seq.
type Cursor int64

// EmitFunc delivers one message to the consumer. A returned error ends the stream.
type EmitFunc func(msg *models.ChatMessage) error

type streamState int

const (
	stateFetch streamState = iota
	stateEmit
	stateWait
)

func (s *chatService) ResolveCursor(ctx context.Context, threadID uuid.UUID, lastEventID *int64, since *time.Time) (Cursor, error) {
	repo := repository.NewChatRepository(s.db, s.logger)

	thread, err := repo.GetThreadByID(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to get chat thread: %w", err)
	}
	if thread == nil {
		return 0, notFound("chat_thread", threadID)
	}

	if lastEventID != nil {
		if *lastEventID < 0 {
			return 0, validationError("Last-Event-ID", "event id must not be negative")
		}
		return Cursor(*lastEventID), nil
	}

	from := s.clock.Now().Add(-s.opts.Lookback)
	if since != nil {
		from = since.UTC()
	}

	seq, err := repo.GetLastSeqAtOrBefore(ctx, threadID, from)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve stream cursor: %w", err)
	}
	return Cursor(seq), nil
}

// Stream polls the thread for messages after cursor and hands them to emit
// in seq order until ctx is cancelled. It cycles fetch -> emit -> wait; the
// wait is the only place it blocks. Cancellation returns nil. Consecutive
// fetch failures back off exponentially and end the stream once
// MaxFetchFailures is reached.
func (s *chatService) Stream(ctx context.Context, threadID uuid.UUID, cursor Cursor, emit EmitFunc) error {
	repo := repository.NewChatRepository(s.db, s.logger)

	var (
		state    = stateFetch
		batch    []*models.ChatMessage
		failures int
		delay    = s.opts.PollInterval
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		switch state {
		case stateFetch:
			messages, err := repo.GetMessagesAfter(ctx, threadID, int64(cursor), s.opts.MaxLimit)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				failures++
				if failures >= s.opts.MaxFetchFailures {
					return fmt.Errorf("chat stream for thread %s: %d consecutive fetch failures: %w", threadID, failures, err)
				}
				delay = s.backoff(failures)
				s.logger.Warn("Chat stream fetch failed, backing off",
					zap.String("thread_id", threadID.String()),
					zap.Int("failures", failures),
					zap.Duration("delay", delay),
					zap.Error(err))
				state = stateWait
				continue
			}
			failures = 0
			delay = s.opts.PollInterval
			batch = messages
			state = stateEmit

		case stateEmit:
			full := len(batch) >= s.opts.MaxLimit
			for _, msg := range batch {
				if ctx.Err() != nil {
					return nil
				}
				if msg.Seq <= int64(cursor) {
					continue
				}
				if err := emit(msg); err != nil {
					return err
				}
				cursor = Cursor(msg.Seq)
			}
			batch = nil
			// A full page means more may be waiting; fetch again without sleeping.
			if full {
				state = stateFetch
			} else {
				state = stateWait
			}

		case stateWait:
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
				state = stateFetch
			}
		}
	}
}

// backoff doubles the poll interval per consecutive failure, capped at MaxBackoff.
func (s *chatService) backoff(failures int) time.Duration {
	delay := s.opts.PollInterval
	for i := 0; i < failures && delay < s.opts.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > s.opts.MaxBackoff {
		delay = s.opts.MaxBackoff
	}
	return delay
}
