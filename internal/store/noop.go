// Package store provides stand-in implementations used when persistence
// is not configured.
package store

import (
	"context"

	"github.com/ritcapital/etfarb/internal/domain"
)

// NopJournal discards everything. Wired when no database is configured.
type NopJournal struct{}

func (NopJournal) RecordSlice(context.Context, domain.SliceRecord) error   { return nil }
func (NopJournal) RecordUnwind(context.Context, domain.UnwindReport) error { return nil }

var _ domain.ExecutionJournal = NopJournal{}
