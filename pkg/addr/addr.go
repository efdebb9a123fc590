// Package addr implements the opaque client-address pair that every
// RPC plane message, lock token, and extent owner field carries.
package addr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tangramfs/tangramfs/pkg/wire"
)

// Address identifies a client: a transport device address plus a
// transport interface address, both opaque variable-length byte
// strings. Equality is bytewise on both parts.
type Address struct {
	Device    []byte
	Interface []byte
}

// New builds an Address from raw device and interface bytes. The
// slices are copied so the caller may reuse its buffers afterward.
func New(device, iface []byte) Address {
	return Address{
		Device:    append([]byte(nil), device...),
		Interface: append([]byte(nil), iface...),
	}
}

// Equal reports whether a and b carry identical device and interface
// bytes.
func (a Address) Equal(b Address) bool {
	return bytes.Equal(a.Device, b.Device) && bytes.Equal(a.Interface, b.Interface)
}

// IsZero reports whether a carries no address bytes at all.
func (a Address) IsZero() bool {
	return len(a.Device) == 0 && len(a.Interface) == 0
}

// String renders a hex-encoded, human-readable form suitable for log
// fields and error messages. It is not a wire format.
func (a Address) String() string {
	return fmt.Sprintf("%x/%x", a.Device, a.Interface)
}

// Marshal writes the flat-buffer encoding of a to w:
// dev_addr_len:u64 | dev_addr | iface_addr_len:u64 | iface_addr.
func (a Address) Marshal(w io.Writer) error {
	if err := wire.WriteOpaque(w, a.Device); err != nil {
		return fmt.Errorf("addr: marshal device: %w", err)
	}
	if err := wire.WriteOpaque(w, a.Interface); err != nil {
		return fmt.Errorf("addr: marshal interface: %w", err)
	}
	return nil
}

// Unmarshal reads the encoding written by Marshal from r.
func Unmarshal(r io.Reader) (Address, error) {
	device, err := wire.ReadOpaque(r)
	if err != nil {
		return Address{}, fmt.Errorf("addr: unmarshal device: %w", err)
	}
	iface, err := wire.ReadOpaque(r)
	if err != nil {
		return Address{}, fmt.Errorf("addr: unmarshal interface: %w", err)
	}
	return Address{Device: device, Interface: iface}, nil
}

// Bytes returns the flat-buffer encoding of a as a standalone slice.
func (a Address) Bytes() []byte {
	var buf bytes.Buffer
	// Marshal into an in-memory buffer never fails.
	_ = a.Marshal(&buf)
	return buf.Bytes()
}

// FromBytes decodes the encoding produced by Bytes.
func FromBytes(b []byte) (Address, error) {
	return Unmarshal(bytes.NewReader(b))
}
