package camera

import (
	"testing"

	"satsuei/internal/profile"
)

func TestParseRealSenseDevices(t *testing.T) {
	output := `Device info:
    Name                          : 	Intel RealSense D435
    Serial Number                 : 	823112061356
    Firmware Version              : 	5.12.7.100
    Physical Port                 : 	/sys/devices/pci0000:00/0000:00:14.0/usb2/2-3/2-3:1.0/video4linux/video4/index

Device info:
    Name                          : 	Intel RealSense D455
    Serial Number                 : 	139522074713
    Physical Port                 : 	/sys/devices/pci0000:00/0000:00:14.0/usb2/2-4/2-4:1.0/video4linux/video8/index
`

	facts := parseRealSenseDevices(output)
	if len(facts) != 2 {
		t.Fatalf("検出数 = %d, 期待値 2", len(facts))
	}

	if facts[0].Model != "Intel RealSense D435" {
		t.Errorf("Model = %s, 期待値 Intel RealSense D435", facts[0].Model)
	}
	if facts[0].Serial != "823112061356" {
		t.Errorf("Serial = %s, 期待値 823112061356", facts[0].Serial)
	}
	if facts[0].Address != "/dev/video4" {
		t.Errorf("Address = %s, 期待値 /dev/video4", facts[0].Address)
	}
	if facts[0].Kind != profile.TypeDepthSensor {
		t.Errorf("Kind = %s, 期待値 %s", facts[0].Kind, profile.TypeDepthSensor)
	}
	if facts[1].Address != "/dev/video8" {
		t.Errorf("Address = %s, 期待値 /dev/video8", facts[1].Address)
	}
}

func TestParseRealSenseDevicesEmpty(t *testing.T) {
	if facts := parseRealSenseDevices("No device detected. Is it plugged in?\n"); len(facts) != 0 {
		t.Errorf("検出数 = %d, 期待値 0", len(facts))
	}
}

func TestVideoNodeFromPort(t *testing.T) {
	tests := []struct {
		port string
		want string
	}{
		{"/sys/devices/pci0000:00/usb2/2-3/video4linux/video4/index", "/dev/video4"},
		{"/sys/devices/platform/video12/index", "/dev/video12"},
		{"/sys/devices/no-video-node", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := videoNodeFromPort(tt.port); got != tt.want {
			t.Errorf("videoNodeFromPort(%s) = %s, 期待値 %s", tt.port, got, tt.want)
		}
	}
}

func TestSiblingVideoNode(t *testing.T) {
	tests := []struct {
		node   string
		offset int
		want   string
	}{
		{"/dev/video4", -2, "/dev/video2"},
		{"/dev/video0", 2, "/dev/video2"},
		{"/dev/video0", -2, ""},
	}

	for _, tt := range tests {
		if got := siblingVideoNode(tt.node, tt.offset); got != tt.want {
			t.Errorf("siblingVideoNode(%s, %d) = %s, 期待値 %s", tt.node, tt.offset, got, tt.want)
		}
	}
}
