package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/simdb-io/simdb/pkg/core"
)

// AddWatcher subscribes a user to lifecycle events on a simulation.
// Re-adding an existing watcher updates their notification class.
func (s *Store) AddWatcher(ctx context.Context, simUUID uuid.UUID, w core.Watcher) error {
	_, err := s.exec(ctx,
		`INSERT INTO watchers (simulation_uuid, username, email, notification)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (simulation_uuid, username) DO UPDATE SET
		     email = excluded.email, notification = excluded.notification`,
		simUUID.String(), w.Username, w.Email, string(w.Notification),
	)
	if err != nil {
		return fmt.Errorf("failed to add watcher %q: %w", w.Username, err)
	}
	return nil
}

// RemoveWatcher unsubscribes a user from a simulation.
func (s *Store) RemoveWatcher(ctx context.Context, simUUID uuid.UUID, username string) error {
	res, err := s.exec(ctx,
		`DELETE FROM watchers WHERE simulation_uuid = ? AND username = ?`,
		simUUID.String(), username,
	)
	if err != nil {
		return fmt.Errorf("failed to remove watcher %q: %w", username, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: watcher %q on simulation %s", core.ErrNotFound, username, simUUID)
	}
	return nil
}

// ListWatchers returns every watcher of a simulation.
func (s *Store) ListWatchers(ctx context.Context, simUUID uuid.UUID) ([]core.Watcher, error) {
	rows, err := s.query(ctx,
		`SELECT username, email, notification FROM watchers
		 WHERE simulation_uuid = ? ORDER BY username`,
		simUUID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchers: %w", err)
	}
	defer rows.Close()

	var watchers []core.Watcher
	for rows.Next() {
		var w core.Watcher
		var class string
		if err := rows.Scan(&w.Username, &w.Email, &class); err != nil {
			return nil, fmt.Errorf("failed to scan watcher: %w", err)
		}
		w.Notification = core.NotificationClass(class)
		watchers = append(watchers, w)
	}
	return watchers, rows.Err()
}

// WatchersFor returns the watchers whose notification class covers
// the given event class.
func (s *Store) WatchersFor(ctx context.Context, simUUID uuid.UUID, event core.NotificationClass) ([]core.Watcher, error) {
	all, err := s.ListWatchers(ctx, simUUID)
	if err != nil {
		return nil, err
	}
	var matched []core.Watcher
	for _, w := range all {
		if w.Notification.Covers(event) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}
