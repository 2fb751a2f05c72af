package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jwebster45206/alignment-engine/pkg/alignment"
	"github.com/jwebster45206/alignment-engine/pkg/state"
)

// Disabled is the store used when no backend is configured. Every gateway
// and snapshot call returns ErrUnavailable; Ping and Close succeed.
type Disabled struct{}

var _ Store = Disabled{}

func (Disabled) CreateSession(context.Context, string) (uuid.UUID, error) {
	return uuid.Nil, ErrUnavailable
}

func (Disabled) AppendLog(context.Context, uuid.UUID, string, string) error {
	return ErrUnavailable
}

func (Disabled) CompleteSession(context.Context, uuid.UUID, alignment.Label, alignment.Scores) error {
	return ErrUnavailable
}

func (Disabled) SaveGuestbookEntry(context.Context, GuestbookEntry) (*GuestbookEntry, error) {
	return nil, ErrUnavailable
}

func (Disabled) LoadGuestbookEntries(context.Context, int) ([]GuestbookEntry, error) {
	return nil, ErrUnavailable
}

func (Disabled) LoadLogs(context.Context, uuid.UUID) ([]LogEntry, error) {
	return nil, ErrUnavailable
}

func (Disabled) SaveSnapshot(context.Context, *state.Snapshot, time.Duration) error {
	return ErrUnavailable
}

func (Disabled) LoadSnapshot(context.Context, uuid.UUID) (*state.Snapshot, error) {
	return nil, ErrUnavailable
}

func (Disabled) DeleteSnapshot(context.Context, uuid.UUID) error {
	return ErrUnavailable
}

func (Disabled) Ping(context.Context) error { return nil }

func (Disabled) Close() error { return nil }
