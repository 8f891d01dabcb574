package capture

import (
	"fmt"
	"strings"

	"github.com/google/gopacket/pcap"

	"dofus-hdv/internal/logger"
)

// Device is the subset of interface metadata the selector looks at.
type Device struct {
	Name        string
	Description string
	Addresses   []string
}

// DeviceLister enumerates capture devices. Production wiring uses
// ListPcapDevices; tests inject fixed inventories.
type DeviceLister func() ([]Device, error)

// ListPcapDevices enumerates devices through libpcap.
func ListPcapDevices() ([]Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	devices := make([]Device, 0, len(ifs))
	for _, i := range ifs {
		d := Device{Name: i.Name, Description: i.Description}
		for _, a := range i.Addresses {
			if a.IP != nil {
				d.Addresses = append(d.Addresses, a.IP.String())
			}
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// SelectInterface picks the capture device. A configured name must
// exist. Otherwise the first non-loopback device with at least one
// address wins, falling back to the first device with a warning.
func SelectInterface(devices []Device, configured string) (string, error) {
	if len(devices) == 0 {
		return "", fmt.Errorf("no capture devices available")
	}
	if configured != "" {
		for _, d := range devices {
			if d.Name == configured {
				return d.Name, nil
			}
		}
		return "", fmt.Errorf("configured interface %q not found", configured)
	}
	for _, d := range devices {
		if isLoopback(d.Name) || len(d.Addresses) == 0 {
			continue
		}
		return d.Name, nil
	}
	logger.Warn("CAP", fmt.Sprintf("no suitable non-loopback device, falling back to %s", devices[0].Name))
	return devices[0].Name, nil
}

func isLoopback(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "lo") || strings.Contains(n, "loopback")
}
