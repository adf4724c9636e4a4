package persistence

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// MaxBootID is the largest BOOTID.UPNP.ORG value; the next boot wraps to 1.
const MaxBootID = 1<<31 - 1

// DeviceState contains the runtime state of one root device.
type DeviceState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// UDN is the unique device name, "uuid:...".
	UDN string `json:"udn"`

	// BootID is announced as BOOTID.UPNP.ORG.
	BootID int32 `json:"boot_id"`

	// ConfigID is announced as CONFIGID.UPNP.ORG.
	ConfigID int32 `json:"config_id,omitempty"`
}

// ControlPointState contains the runtime state of a control point.
type ControlPointState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Devices lists the root devices seen so far.
	Devices []KnownDevice `json:"devices,omitempty"`
}

// KnownDevice is a root device a control point has discovered.
type KnownDevice struct {
	UDN        string    `json:"udn"`
	DeviceType string    `json:"device_type,omitempty"`
	Location   string    `json:"location"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

// DeviceStatePath returns the state file for udn below dir.
func DeviceStatePath(dir, udn string) string {
	return filepath.Join(dir, strings.TrimPrefix(udn, "uuid:")+".json")
}

// DeviceStateStore manages persistence of device state to a JSON file.
type DeviceStateStore struct {
	mu   sync.Mutex
	path string
}

// NewDeviceStateStore creates a new device state store.
func NewDeviceStateStore(path string) *DeviceStateStore {
	return &DeviceStateStore{path: path}
}

// Path returns the state file path.
func (s *DeviceStateStore) Path() string { return s.path }

// Save persists the device state to disk.
func (s *DeviceStateStore) Save(state *DeviceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(state)
}

func (s *DeviceStateStore) saveLocked(state *DeviceState) error {
	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}
	return writeJSON(s.path, state)
}

// Load reads the device state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *DeviceStateStore) Load() (*DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *DeviceStateStore) loadLocked() (*DeviceState, error) {
	state := &DeviceState{}
	found, err := readJSON(s.path, state)
	if !found || err != nil {
		return nil, err
	}
	return state, nil
}

// NextBoot loads the state, increments BootID and saves it. A missing
// state starts at BootID 1 with udn, or a fresh UDN when udn is empty.
// A stored UDN wins over udn.
func (s *DeviceStateStore) NextBoot(udn string) (*DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if state == nil {
		if udn == "" {
			udn = "uuid:" + uuid.New().String()
		}
		state = &DeviceState{UDN: udn, ConfigID: 1}
	}
	if state.BootID >= MaxBootID || state.BootID < 0 {
		state.BootID = 0
	}
	state.BootID++
	state.SavedAt = time.Now()

	if err := s.saveLocked(state); err != nil {
		return nil, err
	}
	return state, nil
}

// SetConfigID stores a new ConfigID, keeping the other fields.
func (s *DeviceStateStore) SetConfigID(configID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return err
	}
	if state == nil {
		return fs.ErrNotExist
	}
	state.ConfigID = configID
	state.SavedAt = time.Now()
	return s.saveLocked(state)
}

// Clear removes the state file.
func (s *DeviceStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}

// ControlPointStateStore manages persistence of control point state to a
// JSON file.
type ControlPointStateStore struct {
	mu   sync.Mutex
	path string
}

// NewControlPointStateStore creates a new control point state store.
func NewControlPointStateStore(path string) *ControlPointStateStore {
	return &ControlPointStateStore{path: path}
}

// Save persists the control point state to disk.
func (s *ControlPointStateStore) Save(state *ControlPointState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}
	return writeJSON(s.path, state)
}

// Load reads the control point state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *ControlPointStateStore) Load() (*ControlPointState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &ControlPointState{}
	found, err := readJSON(s.path, state)
	if !found || err != nil {
		return nil, err
	}
	return state, nil
}

// Clear removes the state file.
func (s *ControlPointStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path)
}

// Upsert records dev, replacing an entry with the same UDN.
func (st *ControlPointState) Upsert(dev KnownDevice) {
	for i := range st.Devices {
		if st.Devices[i].UDN == dev.UDN {
			st.Devices[i] = dev
			return
		}
	}
	st.Devices = append(st.Devices, dev)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, append(data, '\n'), 0o644)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path chosen by the caller
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, err
	}
	return true, nil
}

func removeFile(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
