// Package storage handles persistence of subscriptions.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
)

// Document keys of the persisted state.
const (
	keyNotifyMe    = "notify_me"
	keyNotifyAll   = "notify_all"
	keyNotifyRoles = "notify_roles"
)

// PersistRecorder receives persistence outcomes. The metrics collector implements it.
type PersistRecorder interface {
	RecordPersist(err error)
}

// Store holds every subscription and writes the whole document through its
// backend after each change. All access goes through its methods.
type Store struct {
	backend   Backend
	logger    *slog.Logger
	recorder  PersistRecorder
	direct    map[int64]map[string]struct{}
	broadcast map[string]struct{}
	roles     map[string][]string
	mu        sync.RWMutex
}

// Open loads the store from backend. A missing document yields an empty store.
func Open(ctx context.Context, backend Backend, recorder PersistRecorder, logger *slog.Logger) (*Store, error) {
	s := &Store{
		backend:   backend,
		logger:    logger,
		recorder:  recorder,
		direct:    make(map[int64]map[string]struct{}),
		broadcast: make(map[string]struct{}),
		roles:     make(map[string][]string),
	}

	data, err := backend.Read(ctx)
	if errors.Is(err, ErrNotExist) {
		logger.Info("No subscription state found, starting empty", "location", backend.Location())
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}
	if err := s.decode(data); err != nil {
		return nil, fmt.Errorf("decode subscriptions from %s: %w", backend.Location(), err)
	}

	logger.Info("Subscriptions loaded",
		"location", backend.Location(),
		"users", len(s.direct),
		"broadcast_series", len(s.broadcast),
		"role_series", len(s.roles))
	return s, nil
}

type document struct {
	NotifyMe    map[string][]string `json:"notify_me"`
	NotifyRoles map[string][]string `json:"notify_roles"`
	NotifyAll   []string            `json:"notify_all"`
}

// decode accepts the current wrapped format and the legacy format, in which
// the whole document is the notify_me mapping.
func (s *Store) decode(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	_, hasMe := raw[keyNotifyMe]
	_, hasAll := raw[keyNotifyAll]
	_, hasRoles := raw[keyNotifyRoles]
	if !hasMe && !hasAll && !hasRoles {
		s.logger.Info("Loading legacy subscription format")
		s.decodeDirect(raw)
		return nil
	}

	if hasMe {
		var me map[string]json.RawMessage
		if err := json.Unmarshal(raw[keyNotifyMe], &me); err != nil {
			s.logger.Warn("Ignoring malformed subscription key", "key", keyNotifyMe, "error", err)
		} else {
			s.decodeDirect(me)
		}
	}
	if hasAll {
		var all []string
		if err := json.Unmarshal(raw[keyNotifyAll], &all); err != nil {
			s.logger.Warn("Ignoring malformed subscription key", "key", keyNotifyAll, "error", err)
		}
		for _, series := range all {
			s.broadcast[series] = struct{}{}
		}
	}
	if hasRoles {
		var roles map[string][]string
		if err := json.Unmarshal(raw[keyNotifyRoles], &roles); err != nil {
			s.logger.Warn("Ignoring malformed subscription key", "key", keyNotifyRoles, "error", err)
		}
		for series, names := range roles {
			for _, name := range names {
				if !slices.Contains(s.roles[series], name) {
					s.roles[series] = append(s.roles[series], name)
				}
			}
		}
	}
	return nil
}

func (s *Store) decodeDirect(entries map[string]json.RawMessage) {
	for key, value := range entries {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.logger.Warn("Skipping subscription with invalid user ID", "user_id", key)
			continue
		}
		var series []string
		if err := json.Unmarshal(value, &series); err != nil {
			s.logger.Warn("Skipping malformed subscription list", "user_id", key, "error", err)
			continue
		}
		for _, name := range series {
			s.addDirect(id, name)
		}
	}
}

func (s *Store) encode() ([]byte, error) {
	doc := document{
		NotifyMe:    make(map[string][]string, len(s.direct)),
		NotifyAll:   sortedKeys(s.broadcast),
		NotifyRoles: make(map[string][]string, len(s.roles)),
	}
	if doc.NotifyAll == nil {
		doc.NotifyAll = []string{}
	}
	for id, series := range s.direct {
		doc.NotifyMe[strconv.FormatInt(id, 10)] = sortedKeys(series)
	}
	for series, names := range s.roles {
		doc.NotifyRoles[series] = slices.Clone(names)
	}
	return json.MarshalIndent(doc, "", "    ")
}

// persistLocked writes the document. Failures are logged and counted; the
// in-memory state stays authoritative.
func (s *Store) persistLocked(ctx context.Context) {
	data, err := s.encode()
	if err == nil {
		err = s.backend.Write(ctx, data)
	}
	if s.recorder != nil {
		s.recorder.RecordPersist(err)
	}
	if err != nil {
		s.logger.Error("Failed to save subscriptions", "location", s.backend.Location(), "error", err)
		return
	}
	s.logger.Debug("Subscriptions saved", "location", s.backend.Location(), "bytes", len(data))
}

// mutate applies fn under the write lock and persists if it reports a change.
func (s *Store) mutate(ctx context.Context, fn func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fn() {
		return false
	}
	s.persistLocked(ctx)
	return true
}

func (s *Store) addDirect(userID int64, series string) bool {
	set := s.direct[userID]
	if set == nil {
		set = make(map[string]struct{})
		s.direct[userID] = set
	}
	if _, ok := set[series]; ok {
		return false
	}
	set[series] = struct{}{}
	return true
}

// Subscribe adds series to the user's direct subscriptions.
func (s *Store) Subscribe(ctx context.Context, userID int64, series string) bool {
	return s.mutate(ctx, func() bool {
		return s.addDirect(userID, series)
	})
}

// SubscribeAll adds every series in names and returns how many were new.
func (s *Store) SubscribeAll(ctx context.Context, userID int64, names []string) int {
	added := 0
	s.mutate(ctx, func() bool {
		for _, name := range names {
			if s.addDirect(userID, name) {
				added++
			}
		}
		if len(s.direct[userID]) == 0 {
			delete(s.direct, userID)
		}
		return added > 0
	})
	return added
}

// Unsubscribe removes one series from the user's direct subscriptions.
// A user left with no series is removed.
func (s *Store) Unsubscribe(ctx context.Context, userID int64, series string) bool {
	return s.mutate(ctx, func() bool {
		set := s.direct[userID]
		if _, ok := set[series]; !ok {
			return false
		}
		delete(set, series)
		if len(set) == 0 {
			delete(s.direct, userID)
		}
		return true
	})
}

// UnsubscribeAll removes every direct subscription of the user and returns
// how many were removed.
func (s *Store) UnsubscribeAll(ctx context.Context, userID int64) int {
	removed := 0
	s.mutate(ctx, func() bool {
		removed = len(s.direct[userID])
		delete(s.direct, userID)
		return removed > 0
	})
	return removed
}

// SeriesOf returns the user's direct subscriptions, sorted.
func (s *Store) SeriesOf(userID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.direct[userID])
}

// EnableBroadcast notifies every member for series.
func (s *Store) EnableBroadcast(ctx context.Context, series string) bool {
	return s.mutate(ctx, func() bool {
		if _, ok := s.broadcast[series]; ok {
			return false
		}
		s.broadcast[series] = struct{}{}
		return true
	})
}

// DisableBroadcast stops notifying every member for series.
func (s *Store) DisableBroadcast(ctx context.Context, series string) bool {
	return s.mutate(ctx, func() bool {
		if _, ok := s.broadcast[series]; !ok {
			return false
		}
		delete(s.broadcast, series)
		return true
	})
}

// EnableRole pings role for series.
func (s *Store) EnableRole(ctx context.Context, series, role string) bool {
	return s.mutate(ctx, func() bool {
		if slices.Contains(s.roles[series], role) {
			return false
		}
		s.roles[series] = append(s.roles[series], role)
		return true
	})
}

// DisableRole stops pinging role for series. A series left with no roles is removed.
func (s *Store) DisableRole(ctx context.Context, series, role string) bool {
	return s.mutate(ctx, func() bool {
		names := s.roles[series]
		if !slices.Contains(names, role) {
			return false
		}
		names = slices.DeleteFunc(slices.Clone(names), func(n string) bool { return n == role })
		if len(names) == 0 {
			delete(s.roles, series)
		} else {
			s.roles[series] = names
		}
		return true
	})
}

// Snapshot is a deep copy of the store, safe to read without locking.
type Snapshot struct {
	Direct    map[int64]map[string]struct{}
	Broadcast map[string]struct{}
	Roles     map[string][]string
}

// Snapshot copies the current state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Direct:    make(map[int64]map[string]struct{}, len(s.direct)),
		Broadcast: maps.Clone(s.broadcast),
		Roles:     make(map[string][]string, len(s.roles)),
	}
	for id, set := range s.direct {
		snap.Direct[id] = maps.Clone(set)
	}
	for series, names := range s.roles {
		snap.Roles[series] = slices.Clone(names)
	}
	return snap
}

// WantsDirect reports whether the user subscribed to series.
func (s *Snapshot) WantsDirect(userID int64, series string) bool {
	_, ok := s.Direct[userID][series]
	return ok
}

// IsBroadcast reports whether series notifies every member.
func (s *Snapshot) IsBroadcast(series string) bool {
	_, ok := s.Broadcast[series]
	return ok
}

// RolesFor returns the role names to ping for series.
func (s *Snapshot) RolesFor(series string) []string {
	return s.Roles[series]
}

// Users returns the subscribed user IDs, sorted.
func (s *Snapshot) Users() []int64 {
	return slices.Sorted(maps.Keys(s.Direct))
}

// SeriesOf returns the user's series, sorted.
func (s *Snapshot) SeriesOf(userID int64) []string {
	return sortedKeys(s.Direct[userID])
}

// BroadcastSeries returns the broadcast-enabled series, sorted.
func (s *Snapshot) BroadcastSeries() []string {
	return sortedKeys(s.Broadcast)
}

// RoleSeries returns the series with role notifications, sorted.
func (s *Snapshot) RoleSeries() []string {
	return slices.Sorted(maps.Keys(s.Roles))
}

func sortedKeys(set map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(set))
}
