// ABOUTME: Namespaced per-room tag set layered on Matrix room tags
// ABOUTME: Edits are in memory until Sync or Close reconciles them with the server

// Package tags keeps small amounts of per-room state in Matrix room tags.
//
// Tags are namespaced to one application in the form "tld.domain.tag", and
// key/value pairs are stored as "key=value" tags in the same set:
//
//	set, err := tags.Load(ctx, store, roomID, "org.example.bot")
//	set.ReplaceKV("mode", "quiet")
//	err = set.Close(ctx)
package tags

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Store is the room tag API of the messaging client.
type Store interface {
	RoomTags(ctx context.Context, roomID string) ([]string, error)
	AddRoomTag(ctx context.Context, roomID, tag string) error
	RemoveRoomTag(ctx context.Context, roomID, tag string) error
}

// Set is the tags of one room under one namespace.
type Set struct {
	store     Store
	roomID    string
	namespace string

	mu    sync.Mutex
	tags  []string
	dirty bool
}

// Load reads the room's tags under namespace. An empty namespace selects
// every tag of the room.
func Load(ctx context.Context, store Store, roomID, namespace string) (*Set, error) {
	current, err := fetch(ctx, store, roomID, namespace)
	if err != nil {
		return nil, err
	}
	return &Set{
		store:     store,
		roomID:    roomID,
		namespace: namespace,
		tags:      current,
	}, nil
}

// fetch returns the bare names of the room's tags under namespace.
func fetch(ctx context.Context, store Store, roomID, namespace string) ([]string, error) {
	all, err := store.RoomTags(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("reading tags of %s: %w", roomID, err)
	}

	var out []string
	for _, full := range all {
		name, ok := strip(namespace, full)
		if ok && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out, nil
}

func strip(namespace, full string) (string, bool) {
	if namespace == "" {
		return full, true
	}
	return strings.CutPrefix(full, namespace+".")
}

func (s *Set) qualify(name string) string {
	if s.namespace == "" {
		return name
	}
	return s.namespace + "." + name
}

// Namespace returns the set's namespace.
func (s *Set) Namespace() string {
	return s.namespace
}

// RoomID returns the room the set belongs to.
func (s *Set) RoomID() string {
	return s.roomID
}

// Tags returns a copy of the current tags, without the namespace.
func (s *Set) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tags)
}

// Has reports whether tag is in the set.
func (s *Set) Has(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.tags, tag)
}

// Dirty reports whether there are edits not yet synced.
func (s *Set) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Add adds tag. Adding a tag already present changes nothing.
func (s *Set) Add(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(tag)
}

func (s *Set) addLocked(tag string) {
	if !slices.Contains(s.tags, tag) {
		s.tags = append(s.tags, tag)
	}
	s.dirty = true
}

// Remove drops tag if present.
func (s *Set) Remove(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = slices.DeleteFunc(s.tags, func(t string) bool { return t == tag })
	s.dirty = true
}

// AddKV adds a "key=value" tag. Existing values for key are kept.
func (s *Set) AddKV(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(key + "=" + value)
}

// ReplaceKV sets key to value, dropping any other value for key.
func (s *Set) ReplaceKV(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeKVLocked(key)
	s.addLocked(key + "=" + value)
}

// RemoveKV drops every value for key.
func (s *Set) RemoveKV(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeKVLocked(key)
	s.dirty = true
}

func (s *Set) removeKVLocked(key string) {
	prefix := key + "="
	s.tags = slices.DeleteFunc(s.tags, func(t string) bool { return strings.HasPrefix(t, prefix) })
}

// Value returns the first value stored for key.
func (s *Set) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := key + "="
	for _, t := range s.tags {
		if v, ok := strings.CutPrefix(t, prefix); ok {
			return v, true
		}
	}
	return "", false
}

// KVs returns every key/value tag. If a key has several values, the last wins.
func (s *Set) KVs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for _, t := range s.tags {
		if k, v, ok := strings.Cut(t, "="); ok {
			out[k] = v
		}
	}
	return out
}

// Sync makes the server's tags under the namespace equal to the set. Only
// the difference is sent: new tags are added, vanished tags removed. The two
// phases are not atomic; on error the set stays dirty.
func (s *Set) Sync(ctx context.Context) error {
	s.mu.Lock()
	desired := slices.Clone(s.tags)
	s.mu.Unlock()

	remote, err := fetch(ctx, s.store, s.roomID, s.namespace)
	if err != nil {
		return err
	}

	var errs []error
	for _, tag := range desired {
		if slices.Contains(remote, tag) {
			continue
		}
		if err := s.store.AddRoomTag(ctx, s.roomID, s.qualify(tag)); err != nil {
			errs = append(errs, fmt.Errorf("adding tag %q: %w", tag, err))
		}
	}
	for _, tag := range remote {
		if slices.Contains(desired, tag) {
			continue
		}
		if err := s.store.RemoveRoomTag(ctx, s.roomID, s.qualify(tag)); err != nil {
			errs = append(errs, fmt.Errorf("removing tag %q: %w", tag, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.mu.Lock()
	// Edits made while syncing keep the set dirty.
	if slices.Equal(s.tags, desired) {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}

// Close syncs the set if it has unsynced edits. Callers that edit a set
// must call Close (or Sync) to persist the edits.
func (s *Set) Close(ctx context.Context) error {
	if !s.Dirty() {
		return nil
	}
	return s.Sync(ctx)
}
