package store

import (
	"errors"

	"github.com/rcedaq/daqlink-go/pkg/mirror"
	"github.com/rcedaq/daqlink-go/pkg/wire"
)

// Feed keeps m up to date from polled rows: configuration rows always,
// status rows when the role can poll them. Each row also registers its
// variable, so m answers structure lookups as a stream-fed mirror would.
func (s *Synchronizer) Feed(m *mirror.Mirror) error {
	feed := func(cat wire.Category) PollFunc {
		return func(row Row) error {
			m.Registry().AddVariable(row.Variable())
			results, err := m.Set(cat, row.ID, row.Value)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Failed() {
					return r.Err
				}
			}
			return nil
		}
	}

	if err := s.AddConfigurationCallback(feed(wire.CategoryConfig)); err != nil {
		return err
	}
	if err := s.AddStatusCallback(feed(wire.CategoryStatus)); err != nil && !errors.Is(err, ErrUnsupportedPoll) {
		return err
	}
	return nil
}
