package comm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/gousb"
	"go.bug.st/serial/enumerator"
)

const (
	// VendorID is the USB vendor of the instrument
	VendorID = 0x03EB

	// ProductID is the USB product of the instrument
	ProductID = 0x2404
)

// ErrNoDevice is generated when no port matches the instrument's VID:PID
var ErrNoDevice = errors.New("no instrument found")

// PortInfo describes one serial port on the host
type PortInfo struct {
	Name    string `json:"name"`
	USB     bool   `json:"usb"`
	VID     string `json:"vid,omitempty"`
	PID     string `json:"pid,omitempty"`
	Serial  string `json:"serial,omitempty"`
	Product string `json:"product,omitempty"`
}

// Instrument is true if the port's VID and PID are the instrument's
func (p PortInfo) Instrument() bool {
	return p.USB &&
		strings.EqualFold(p.VID, fmt.Sprintf("%04X", VendorID)) &&
		strings.EqualFold(p.PID, fmt.Sprintf("%04X", ProductID))
}

// lister is swapped out by tests
var lister = func() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}

// List returns every serial port on the host
func List() ([]PortInfo, error) {
	ports, err := lister()
	if err != nil {
		return nil, err
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Name:    p.Name,
			USB:     p.IsUSB,
			VID:     p.VID,
			PID:     p.PID,
			Serial:  p.SerialNumber,
			Product: p.Product,
		})
	}
	return out, nil
}

// Detect returns the name of the first port whose VID:PID is the
// instrument's
func Detect() (string, error) {
	ports, err := List()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.Instrument() {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("%w with VID:PID %04X:%04X", ErrNoDevice, VendorID, ProductID)
}

// USBInfo holds the descriptor strings of the instrument
type USBInfo struct {
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	Serial       string `json:"serial"`
}

// ProbeUSB looks for the instrument on the USB bus directly and reads its
// descriptor strings.  This works even when the CDC driver is not bound.
func ProbeUSB() (USBInfo, error) {
	var out USBInfo
	ctx := gousb.NewContext()
	defer ctx.Close()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(VendorID), gousb.ID(ProductID))
	if err != nil {
		return out, err
	}
	if dev == nil {
		return out, fmt.Errorf("%w on the USB bus", ErrNoDevice)
	}
	defer dev.Close()
	if out.Manufacturer, err = dev.Manufacturer(); err != nil {
		return out, err
	}
	if out.Product, err = dev.Product(); err != nil {
		return out, err
	}
	out.Serial, err = dev.SerialNumber()
	return out, err
}
