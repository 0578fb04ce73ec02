package camera

import (
	"testing"

	"satsuei/internal/profile"
)

func TestParseAutoDetect(t *testing.T) {
	output := `Model                          Port
----------------------------------------------------------
Canon EOS 90D                  usb:001,004
Sony Alpha-A7R III             usb:001,007
Nikon Z6                       ptpip:192.168.1.50
`

	facts := parseAutoDetect(output)
	if len(facts) != 3 {
		t.Fatalf("検出数 = %d, 期待値 3", len(facts))
	}

	if facts[0].Model != "Canon EOS 90D" {
		t.Errorf("Model = %s, 期待値 Canon EOS 90D", facts[0].Model)
	}
	if facts[0].Vendor != "Canon" {
		t.Errorf("Vendor = %s, 期待値 Canon", facts[0].Vendor)
	}
	if facts[0].Address != "usb:001,004" {
		t.Errorf("Address = %s, 期待値 usb:001,004", facts[0].Address)
	}
	if facts[0].Kind != profile.TypeTetheredPTP {
		t.Errorf("Kind = %s, 期待値 %s", facts[0].Kind, profile.TypeTetheredPTP)
	}
	if facts[2].Address != "ptpip:192.168.1.50" {
		t.Errorf("Address = %s, 期待値 ptpip:192.168.1.50", facts[2].Address)
	}
}

func TestParseAutoDetectEmpty(t *testing.T) {
	output := `Model                          Port
----------------------------------------------------------
`
	if facts := parseAutoDetect(output); len(facts) != 0 {
		t.Errorf("検出数 = %d, 期待値 0", len(facts))
	}
}

func TestParseConfigTree(t *testing.T) {
	output := `/main/imgsettings/iso
Label: ISO Speed
Readonly: 0
Type: RADIO
Current: 400
Choice: 0 100
Choice: 1 200
Choice: 2 400
END
/main/capturesettings/shutterspeed
Label: Shutter Speed
Readonly: 0
Type: RADIO
Current: 1/125
END
/main/status/serialnumber
Label: Serial Number
Readonly: 1
Type: TEXT
Current: 12345
END
/main/actions/viewfinder
Label: Canon EOS Viewfinder
Readonly: 0
Type: TOGGLE
Current: 0
END
`

	tree := parseConfigTree(output)

	iso := ResolveNode(tree, "iso")
	if iso == nil {
		t.Fatal("isoノードが見つかりません")
	}
	if iso.Type != NodeChoice {
		t.Errorf("isoのType = %s, 期待値 %s", iso.Type, NodeChoice)
	}
	if iso.Value != "400" {
		t.Errorf("isoのValue = %s, 期待値 400", iso.Value)
	}
	if len(iso.Choices) != 3 || iso.Choices[2] != "400" {
		t.Errorf("isoのChoices = %v, 期待値 [100 200 400]", iso.Choices)
	}

	serial := ResolveNode(tree, "serialnumber")
	if serial == nil {
		t.Fatal("serialnumberノードが見つかりません")
	}
	if !serial.ReadOnly {
		t.Error("serialnumberが読み取り専用になっていません")
	}

	viewfinder := ResolveNode(tree, "viewfinder")
	if viewfinder == nil {
		t.Fatal("viewfinderノードが見つかりません")
	}
	if viewfinder.Type != NodeToggle {
		t.Errorf("viewfinderのType = %s, 期待値 %s", viewfinder.Type, NodeToggle)
	}

	// 中間セクションが構築されている
	section := ResolveNode(tree, "imgsettings")
	if section == nil || section.Type != NodeSection {
		t.Error("imgsettingsセクションが構築されていません")
	}
}

func TestConvertGphotoType(t *testing.T) {
	tests := []struct {
		input string
		want  NodeType
	}{
		{"RADIO", NodeChoice},
		{"MENU", NodeChoice},
		{"TOGGLE", NodeToggle},
		{"SECTION", NodeSection},
		{"TEXT", NodeText},
		{"UNKNOWN", NodeText},
	}

	for _, tt := range tests {
		if got := convertGphotoType(tt.input); got != tt.want {
			t.Errorf("convertGphotoType(%s) = %s, 期待値 %s", tt.input, got, tt.want)
		}
	}
}
