// Package mockdevice is an in-memory OpenMatrix device served over HTTP for
// local development and tests.
package mockdevice

import (
	"path"
	"strings"
	"sync"

	"github.com/koios/openmatrix/pkg/models"
)

// MaxListedImages is the number of images the device lists
const MaxListedImages = 30

// storedImage is an image held by the device
type storedImage struct {
	id   int
	name string
	data []byte
	size int64
}

// Device holds the mock's state and image store
type Device struct {
	mu     sync.RWMutex
	state  models.DeviceState
	images []storedImage
	nextID int

	// Counters for tests and the health endpoint
	resets map[string]int
}

// NewDevice creates a device from seed content
func NewDevice(seed *models.Seed) *Device {
	d := &Device{nextID: 1, resets: make(map[string]int)}
	if seed == nil {
		return d
	}
	d.state = seed.State.Clone()
	for _, img := range seed.Images {
		size := img.Size
		if img.Data != nil {
			size = int64(len(img.Data))
		}
		d.images = append(d.images, storedImage{id: d.nextID, name: img.Name, data: img.Data, size: size})
		d.nextID++
	}
	return d
}

// State returns a copy of the device state
func (d *Device) State() models.DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.Clone()
}

// Update applies fn to the device state
func (d *Device) Update(fn func(*models.DeviceState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.state)
}

// Images lists stored images the way the firmware does: names without
// extension or special characters, at most MaxListedImages entries.
func (d *Device) Images() []models.ImageDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.ImageDescriptor, 0, len(d.images))
	for _, img := range d.images {
		if len(out) == MaxListedImages {
			break
		}
		out = append(out, models.ImageDescriptor{ID: img.id, Name: SanitizeName(img.name), Size: img.size})
	}
	return out
}

// ImageData returns the stored bytes of an image
func (d *Device) ImageData(ref models.ImageRef) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.find(ref)
	if i < 0 {
		return nil, false
	}
	return d.images[i].data, true
}

// HasImage reports whether ref names a stored image
func (d *Device) HasImage(ref models.ImageRef) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.find(ref) >= 0
}

// StoreImage adds an image or replaces one with the same name
func (d *Device) StoreImage(name string, data []byte) models.ImageDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()

	if i := d.find(models.ImageByName(name)); i >= 0 {
		d.images[i].data = data
		d.images[i].size = int64(len(data))
		img := d.images[i]
		return models.ImageDescriptor{ID: img.id, Name: SanitizeName(img.name), Size: img.size}
	}

	img := storedImage{id: d.nextID, name: name, data: data, size: int64(len(data))}
	d.nextID++
	d.images = append(d.images, img)
	return models.ImageDescriptor{ID: img.id, Name: SanitizeName(img.name), Size: img.size}
}

// DeleteImage removes the named image
func (d *Device) DeleteImage(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.find(models.ImageByName(name))
	if i < 0 {
		return false
	}
	d.images = append(d.images[:i], d.images[i+1:]...)
	return true
}

// RecordReset counts a network or factory reset
func (d *Device) RecordReset(kind string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets[kind]++
}

// Resets returns how many resets of kind were requested
func (d *Device) Resets(kind string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.resets[kind]
}

func (d *Device) find(ref models.ImageRef) int {
	for i, img := range d.images {
		if ref.ByName() {
			if img.name == ref.Name || SanitizeName(img.name) == SanitizeName(ref.Name) {
				return i
			}
			continue
		}
		if img.id == ref.ID {
			return i
		}
	}
	return -1
}

const specialChars = "()[]{}|:?\"<>/\\*\r\n"

// SanitizeName strips the file extension and characters the firmware's
// filesystem listing drops.
func SanitizeName(name string) string {
	name = strings.TrimSuffix(name, path.Ext(name))
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(specialChars, r) {
			return -1
		}
		return r
	}, name)
}

// LoadSeed reads the seed at path, or the built-in seed when path is empty
func LoadSeed(seedPath string) (*models.Seed, error) {
	if seedPath == "" {
		return models.DefaultSeed(), nil
	}
	return models.LoadSeed(seedPath)
}
