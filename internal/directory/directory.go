package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PlaceholderMACPrefix marks addresses of devices that are mapped but
// not yet commissioned. Commands to these addresses are short-circuited
// to success without touching the transport.
const PlaceholderMACPrefix = "AA:BB:CC:DD:EE"

// Device statuses.
const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusMaintenance = "maintenance"
	StatusError       = "error"
)

// Device is one logical light: a gateway address plus the DALI driver
// id behind it.
type Device struct {
	MAC      string `json:"mac"`
	DriverID int    `json:"driver_id"`
	Name     string `json:"name"`
	Group    string `json:"group"`
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// IsPlaceholder reports whether the device carries a placeholder
// address rather than a real gateway MAC.
func (d Device) IsPlaceholder() bool {
	return len(d.MAC) >= len(PlaceholderMACPrefix) && d.MAC[:len(PlaceholderMACPrefix)] == PlaceholderMACPrefix
}

// Group is a named set of device ids.
type Group struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Devices     []string `json:"devices"`
}

// Settings is the directory-wide settings block.
type Settings struct {
	MaxDevicesPerGroup int      `json:"max_devices_per_group"`
	SupportedGroups    []string `json:"supported_groups"`
	ActiveGroups       []string `json:"active_groups"`
	CommandIntervalMs  int      `json:"command_interval_ms,omitempty"`
}

// Document is the full directory file content.
type Document struct {
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	LastUpdated string            `json:"last_updated,omitempty"`
	Groups      map[string]Group  `json:"groups"`
	Devices     map[string]Device `json:"devices"`
	Settings    Settings          `json:"settings"`
}

// Logger is the minimal logging interface the directory needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Directory is the live device/group table backed by a JSON file.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Mutations rewrite the
//     backing file; readers see whole-document snapshots.
type Directory struct {
	mu      sync.RWMutex
	path    string
	doc     Document
	lastMod time.Time

	logger Logger
}

// Open loads the directory from path, synthesising and persisting a
// default document when the file does not exist. Load problems never
// propagate: a file that cannot be read or parsed is logged and the
// default document used in its place, so the core keeps operating.
//
// Parameters:
//   - path: JSON directory file location
//   - logger: Structured logger (must not be nil)
//
// Returns:
//   - *Directory: Live directory, never nil
func Open(path string, logger Logger) *Directory {
	d := &Directory{path: path, logger: logger}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("directory file missing, creating default", "path", path)
		d.doc = defaultDocument()
		if err := d.persistLocked(); err != nil {
			logger.Error("writing default directory failed", "path", path, "error", err)
		}
		return d
	}

	if err := d.load(); err != nil {
		logger.Error("directory unreadable, falling back to default",
			"path", path, "error", err)
		d.mu.Lock()
		d.doc = defaultDocument()
		d.noteModTimeLocked()
		d.mu.Unlock()
	}
	return d
}

// load reads and validates the file, replacing the in-memory table in
// one swap.
func (d *Directory) load() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("reading directory file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing directory file: %w", err)
	}

	repair(&doc, d.logger)

	d.mu.Lock()
	d.doc = doc
	d.noteModTimeLocked()
	d.mu.Unlock()

	d.logger.Info("directory loaded",
		"path", d.path,
		"devices", len(doc.Devices),
		"groups", len(doc.Groups))
	return nil
}

// repair checks the required sections, logging anything missing and
// substituting empty ones so the load proceeds with whatever partial
// data exists. Unknown device references in groups are warnings only;
// an operator may map a group before commissioning its lights.
func repair(doc *Document, logger Logger) {
	if doc.Devices == nil {
		logger.Error("directory missing devices section, continuing without devices")
		doc.Devices = make(map[string]Device)
	}
	if doc.Groups == nil {
		logger.Error("directory missing groups section, continuing without groups")
		doc.Groups = make(map[string]Group)
	}

	for groupID, group := range doc.Groups {
		for _, deviceID := range group.Devices {
			if _, ok := doc.Devices[deviceID]; !ok {
				logger.Warn("group references unknown device",
					"group", groupID, "device", deviceID)
			}
		}
	}
}

// defaultDocument is the directory synthesised on first boot: one
// group wired to three known driver boards.
func defaultDocument() Document {
	return Document{
		Version:     "1.0",
		Description: "DALI lighting device map (default)",
		LastUpdated: time.Now().Format("2006-01-02"),
		Groups: map[string]Group{
			"G1": {
				Name:    "Group 1 lighting",
				Devices: []string{"DALLA1", "DALLA2", "DALLA3"},
			},
		},
		Devices: map[string]Device{
			"DALLA1": {MAC: "E4:B3:23:A2:F6:F2", DriverID: 1, Name: "Light A1", Group: "G1", Status: StatusActive},
			"DALLA2": {MAC: "E4:B3:23:A2:D1:EE", DriverID: 2, Name: "Light A2", Group: "G1", Status: StatusActive},
			"DALLA3": {MAC: "E4:B3:23:A2:D1:CE", DriverID: 3, Name: "Light A3", Group: "G1", Status: StatusActive},
		},
		Settings: Settings{
			MaxDevicesPerGroup: 3,
			SupportedGroups:    []string{"G1"},
			ActiveGroups:       []string{"G1"},
		},
	}
}

// Device returns a device by id.
func (d *Directory) Device(id string) (Device, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.doc.Devices[id]
	return dev, ok
}

// Group returns a group by id.
func (d *Directory) Group(id string) (Group, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.doc.Groups[id]
	if ok {
		g.Devices = append([]string(nil), g.Devices...)
	}
	return g, ok
}

// DeviceMap returns a copy of the full device table.
func (d *Directory) DeviceMap() map[string]Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Device, len(d.doc.Devices))
	for id, dev := range d.doc.Devices {
		out[id] = dev
	}
	return out
}

// GroupDevices returns the device ids of a group, or nil for an
// unknown group.
func (d *Directory) GroupDevices(groupID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.doc.Groups[groupID]
	if !ok {
		return nil
	}
	return append([]string(nil), g.Devices...)
}

// GroupIDs returns all defined group ids.
func (d *Directory) GroupIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.doc.Groups))
	for id := range d.doc.Groups {
		out = append(out, id)
	}
	return out
}

// ActiveGroups returns the active group list from settings. An absent
// list falls back to G1, matching the default document.
func (d *Directory) ActiveGroups() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.doc.Settings.ActiveGroups) == 0 {
		return []string{"G1"}
	}
	return append([]string(nil), d.doc.Settings.ActiveGroups...)
}

// CommandInterval returns the per-gateway command spacing configured
// in settings, or 0 when the directory does not set one. Picked up on
// hot reload like the rest of the document.
func (d *Directory) CommandInterval() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return time.Duration(d.doc.Settings.CommandIntervalMs) * time.Millisecond
}

// ActiveDevices returns the ids of devices whose status is active.
func (d *Directory) ActiveDevices() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for id, dev := range d.doc.Devices {
		if dev.Status == StatusActive {
			out = append(out, id)
		}
	}
	return out
}

// AddDevice registers a new device and appends it to its group.
//
// Required fields: MAC, DriverID, Name, Group. Status defaults to
// inactive until the device is commissioned.
func (d *Directory) AddDevice(id string, dev Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.doc.Devices[id]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}
	switch {
	case dev.MAC == "":
		return fmt.Errorf("%w: mac", ErrMissingField)
	case dev.DriverID == 0:
		return fmt.Errorf("%w: driver_id", ErrMissingField)
	case dev.Name == "":
		return fmt.Errorf("%w: name", ErrMissingField)
	case dev.Group == "":
		return fmt.Errorf("%w: group", ErrMissingField)
	}
	if dev.Status == "" {
		dev.Status = StatusInactive
	}

	d.doc.Devices[id] = dev

	if g, ok := d.doc.Groups[dev.Group]; ok && !contains(g.Devices, id) {
		g.Devices = append(g.Devices, id)
		d.doc.Groups[dev.Group] = g
	}

	return d.persistLocked()
}

// RemoveDevice deletes a device and detaches it from its group.
func (d *Directory) RemoveDevice(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dev, ok := d.doc.Devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(d.doc.Devices, id)

	if g, ok := d.doc.Groups[dev.Group]; ok {
		g.Devices = remove(g.Devices, id)
		d.doc.Groups[dev.Group] = g
	}

	return d.persistLocked()
}

// UpdateDeviceStatus sets a device's status to one of the recognised
// states.
func (d *Directory) UpdateDeviceStatus(id, status string) error {
	switch status {
	case StatusActive, StatusInactive, StatusMaintenance, StatusError:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dev, ok := d.doc.Devices[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	dev.Status = status
	d.doc.Devices[id] = dev

	return d.persistLocked()
}

// ActivateGroup adds the group to the active list and activates its
// commissioned members. Devices still carrying placeholder addresses
// stay inactive.
func (d *Directory) ActivateGroup(groupID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.doc.Groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	if contains(d.doc.Settings.ActiveGroups, groupID) {
		return nil
	}
	d.doc.Settings.ActiveGroups = append(d.doc.Settings.ActiveGroups, groupID)

	for _, deviceID := range g.Devices {
		dev, ok := d.doc.Devices[deviceID]
		if !ok || dev.IsPlaceholder() {
			continue
		}
		dev.Status = StatusActive
		d.doc.Devices[deviceID] = dev
	}

	return d.persistLocked()
}

// DeactivateGroup removes the group from the active list and marks its
// members inactive.
func (d *Directory) DeactivateGroup(groupID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !contains(d.doc.Settings.ActiveGroups, groupID) {
		return nil
	}
	d.doc.Settings.ActiveGroups = remove(d.doc.Settings.ActiveGroups, groupID)

	if g, ok := d.doc.Groups[groupID]; ok {
		for _, deviceID := range g.Devices {
			if dev, ok := d.doc.Devices[deviceID]; ok {
				dev.Status = StatusInactive
				d.doc.Devices[deviceID] = dev
			}
		}
	}

	return d.persistLocked()
}

// ReloadIfChanged re-reads the file when its modification time moved
// past the last load. Returns true when a reload happened. A file that
// fails to load leaves the previous table in place.
func (d *Directory) ReloadIfChanged() (bool, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		return false, fmt.Errorf("stat directory file: %w", err)
	}

	d.mu.RLock()
	stale := info.ModTime().After(d.lastMod)
	d.mu.RUnlock()
	if !stale {
		return false, nil
	}

	if err := d.load(); err != nil {
		return false, err
	}
	return true, nil
}

// persistLocked writes the document back to disk. A .bak copy of the
// previous content is kept, and the write goes through a temp file so
// a crash mid-write cannot corrupt the live document. Caller holds the
// write lock (or is the only reference during Open).
func (d *Directory) persistLocked() error {
	d.doc.LastUpdated = time.Now().Format("2006-01-02 15:04:05")

	data, err := json.MarshalIndent(d.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("creating directory dir: %w", err)
	}

	if prev, err := os.ReadFile(d.path); err == nil {
		if err := os.WriteFile(d.path+".bak", prev, 0o644); err != nil {
			d.logger.Warn("directory backup failed", "error", err)
		}
	}

	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing directory: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("replacing directory: %w", err)
	}

	d.noteModTimeLocked()
	return nil
}

// noteModTimeLocked records the file's current modification time as
// the reload baseline. Caller holds the write lock.
func (d *Directory) noteModTimeLocked() {
	if info, err := os.Stat(d.path); err == nil {
		d.lastMod = info.ModTime()
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
