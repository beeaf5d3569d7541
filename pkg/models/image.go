package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ImageDescriptor describes an image stored on the device
type ImageDescriptor struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ImageRef selects an image either by numeric id or by name.
// In device state it is encoded as a bare number or string.
type ImageRef struct {
	ID   int
	Name string
}

// ImageByID references an image by id
func ImageByID(id int) ImageRef { return ImageRef{ID: id} }

// ImageByName references an image by name
func ImageByName(name string) ImageRef { return ImageRef{Name: name} }

// ByName reports whether the reference uses the image name
func (r ImageRef) ByName() bool { return r.Name != "" }

func (r ImageRef) String() string {
	if r.ByName() {
		return r.Name
	}
	return strconv.Itoa(r.ID)
}

// Body returns the request body selecting this image
func (r ImageRef) Body() map[string]interface{} {
	if r.ByName() {
		return map[string]interface{}{"name": r.Name}
	}
	return map[string]interface{}{"id": r.ID}
}

// MarshalJSON encodes the reference as a number or a string
func (r ImageRef) MarshalJSON() ([]byte, error) {
	if r.ByName() {
		return json.Marshal(r.Name)
	}
	return json.Marshal(r.ID)
}

// UnmarshalJSON accepts a number or a string
func (r *ImageRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*r = ImageRef{Name: name}
		return nil
	}
	var id int
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("image reference must be a number or a string: %w", err)
	}
	*r = ImageRef{ID: id}
	return nil
}

// ParseImageRef reads a CLI argument: digits select by id, anything else by name
func ParseImageRef(s string) ImageRef {
	if id, err := strconv.Atoi(s); err == nil {
		return ImageByID(id)
	}
	return ImageByName(s)
}
