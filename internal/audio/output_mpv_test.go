//go:build libmpv

package audio

import (
	"testing"
	"time"
)

func TestParseDeviceListMapsAutoToDefault(t *testing.T) {
	t.Parallel()

	devices, err := parseDeviceList(`[{"name":"auto","description":"Autoselect device"},{"name":"pulse/usb","description":"USB DAC"}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(devices) != 2 || devices[0].ID != "" || devices[1].ID != "pulse/usb" {
		t.Fatalf("unexpected devices %+v", devices)
	}
	if !containsDevice(devices, "pulse/usb") || containsDevice(devices, "hdmi") {
		t.Fatalf("unexpected device lookup result")
	}

	if _, err := parseDeviceList("not json"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFormatSeconds(t *testing.T) {
	t.Parallel()

	if got := formatSeconds(1500 * time.Millisecond); got != "1.500" {
		t.Fatalf("expected 1.500, got %q", got)
	}
	if got := formatSeconds(-time.Second); got != "0" {
		t.Fatalf("expected 0 for negative start, got %q", got)
	}
}
