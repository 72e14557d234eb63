package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Document file names inside the data directory.
const (
	ChannelsFile = "ccr_channels.json"
	StateFile    = "ccr_state.json"
)

// Store owns both documents. All access goes through View and the Update
// methods, which hold a single lock, and every update rewrites the touched
// document atomically.
type Store struct {
	dir string
	log zerolog.Logger

	mu       sync.RWMutex
	channels Channels
	state    RunState

	writeMu   sync.Mutex
	lastWrite map[string][]byte
}

// Open loads the documents in dir, creating the directory and writing
// defaults for missing files. A document that does not parse is replaced
// in memory by its default and logged.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dir)
	}
	s := &Store{
		dir:       dir,
		log:       log,
		lastWrite: make(map[string][]byte),
	}

	s.channels = Channels{Channels: map[string]*ChannelConfig{}}
	if err := s.load(ChannelsFile, &s.channels); err != nil {
		return nil, err
	}
	if s.channels.Channels == nil {
		s.channels.Channels = map[string]*ChannelConfig{}
	}

	s.state = DefaultRunState()
	if err := s.load(StateFile, &s.state); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir is the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) load(name string, v interface{}) error {
	b, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return s.write(name, v)
	}
	if err != nil {
		return errors.Wrapf(err, "read %s", name)
	}
	if err := json.Unmarshal(b, v); err != nil {
		s.log.Warn().Err(err).Str("file", name).Msg("document is not valid JSON, using defaults")
	}
	return nil
}

// View calls fn with read access to both documents. fn must not retain or
// modify them.
func (s *Store) View(fn func(c *Channels, st *RunState)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.channels, &s.state)
}

// UpdateChannels mutates the channel document and persists it when fn
// returns nil.
func (s *Store) UpdateChannels(fn func(c *Channels) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.channels); err != nil {
		return err
	}
	return s.write(ChannelsFile, &s.channels)
}

// UpdateState mutates the run state and persists it when fn returns nil.
func (s *Store) UpdateState(fn func(st *RunState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.state); err != nil {
		return err
	}
	return s.write(StateFile, &s.state)
}

// UpdateStateWith mutates the run state with read access to the channel
// document and persists the state when fn returns nil.
func (s *Store) UpdateStateWith(fn func(c *Channels, st *RunState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.channels, &s.state); err != nil {
		return err
	}
	return s.write(StateFile, &s.state)
}

// Update mutates both documents and persists both when fn returns nil.
func (s *Store) Update(fn func(c *Channels, st *RunState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.channels, &s.state); err != nil {
		return err
	}
	if err := s.write(ChannelsFile, &s.channels); err != nil {
		return err
	}
	return s.write(StateFile, &s.state)
}

// ReloadChannels rereads the channel document from disk.
func (s *Store) ReloadChannels() error {
	b, err := os.ReadFile(s.path(ChannelsFile))
	if err != nil {
		return errors.Wrap(err, "read channels")
	}
	var c Channels
	if err := json.Unmarshal(b, &c); err != nil {
		return errors.Wrap(err, "decode channels")
	}
	if c.Channels == nil {
		c.Channels = map[string]*ChannelConfig{}
	}

	s.mu.Lock()
	s.channels = c
	s.mu.Unlock()

	s.writeMu.Lock()
	s.lastWrite[ChannelsFile] = b
	s.writeMu.Unlock()
	return nil
}

// write replaces name with the JSON encoding of v via a temporary file and
// a rename.
func (s *Store) write(name string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", name)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "close %s", name)
	}

	s.writeMu.Lock()
	s.lastWrite[name] = b
	s.writeMu.Unlock()

	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "replace %s", name)
	}
	return nil
}

// ownWrite reports whether the file currently holds the bytes we last wrote.
func (s *Store) ownWrite(name string) bool {
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		return false
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return bytes.Equal(b, s.lastWrite[name])
}

func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
}
