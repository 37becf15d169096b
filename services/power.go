package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// PowerManager suspends the device until t. Returning means the device is
// awake again.
type PowerManager interface {
	SleepUntil(ctx context.Context, t time.Time) error
}

// TimerSleeper idles in-process. Used where the board cannot suspend.
type TimerSleeper struct {
	clock Clock
}

func NewTimerSleeper(clock Clock) *TimerSleeper {
	return &TimerSleeper{clock: clock}
}

func (s *TimerSleeper) SleepUntil(ctx context.Context, t time.Time) error {
	d := t.Sub(s.clock.Now())
	if d <= 0 {
		return nil
	}
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemClock maps synced instants onto the system clock
type SystemClock interface {
	SystemTime(t time.Time) time.Time
}

// RTCSleeper arms the RTC wake alarm and suspends to RAM
type RTCSleeper struct {
	clock         SystemClock
	wakeAlarmPath string
	statePath     string
	logger        *zap.Logger
}

func NewRTCSleeper(clock SystemClock, wakeAlarmPath, statePath string, logger *zap.Logger) *RTCSleeper {
	return &RTCSleeper{
		clock:         clock,
		wakeAlarmPath: wakeAlarmPath,
		statePath:     statePath,
		logger:        logger,
	}
}

func (s *RTCSleeper) SleepUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// the kernel refuses a new alarm while one is armed
	if err := os.WriteFile(s.wakeAlarmPath, []byte("0"), 0o644); err != nil {
		return fmt.Errorf("clear wake alarm: %w", err)
	}
	// the kernel compares the alarm against the uncorrected clock
	alarm := strconv.FormatInt(s.clock.SystemTime(t).Unix(), 10)
	if err := os.WriteFile(s.wakeAlarmPath, []byte(alarm), 0o644); err != nil {
		return fmt.Errorf("arm wake alarm: %w", err)
	}

	s.logger.Info("Suspending until wake alarm", zap.Time("wake_at", t), zap.String("alarm", alarm))

	// blocks until resume
	if err := os.WriteFile(s.statePath, []byte("mem"), 0o644); err != nil {
		return fmt.Errorf("suspend: %w", err)
	}
	return nil
}
