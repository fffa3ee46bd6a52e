package chip

import "testing"

func TestGet_AllFamiliesRegistered(t *testing.T) {
	families := []Family{
		ESP8266, ESP32, ESP32S2, ESP32S3, ESP32C2, ESP32C3, ESP32C5, ESP32C6,
		ESP32C61, ESP32H2, ESP32H4, ESP32H21, ESP32P4, ESP32S31,
	}
	for _, f := range families {
		d := Get(f)
		if d.Name == "" {
			t.Errorf("Get(%d) returned zero-value descriptor", f)
		}
		if d.Family != f {
			t.Errorf("Get(%d).Family = %d, want %d", f, d.Family, f)
		}
	}
}

func TestGet_UnregisteredFamilyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Get(999) did not panic")
		}
	}()
	Get(Family(999))
}

func TestAll_ReturnsEveryFamily(t *testing.T) {
	all := All()
	if len(all) != 14 {
		t.Fatalf("All() returned %d descriptors, want 14", len(all))
	}
}

func TestByUARTDateMagic(t *testing.T) {
	tests := []struct {
		name  string
		value uint32
		want  Family
		ok    bool
	}{
		{"esp8266", 0xFFF0C101, ESP8266, true},
		{"esp32", 0x00F01D83, ESP32, true},
		{"esp32s2", 0x000007C6, ESP32S2, true},
		{"unknown", 0xDEADBEEF, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := ByUARTDateMagic(tt.value)
			if ok != tt.ok {
				t.Fatalf("ByUARTDateMagic(%#x) ok = %v, want %v", tt.value, ok, tt.ok)
			}
			if ok && d.Family != tt.want {
				t.Errorf("ByUARTDateMagic(%#x) family = %v, want %v", tt.value, d.Family, tt.want)
			}
		})
	}
}

func TestByChipMagic(t *testing.T) {
	d, ok := ByChipMagic(0x6921506F)
	if !ok || d.Family != ESP32C3 {
		t.Errorf("ByChipMagic(0x6921506F) = %v, %v, want ESP32C3, true", d.Family, ok)
	}

	if _, ok := ByChipMagic(0); ok {
		t.Error("ByChipMagic(0) should never match — 0 marks families without a chip-ID magic")
	}
}

func TestUARTDevBufNoAddr(t *testing.T) {
	c3 := Get(ESP32C3)
	addr, ok := c3.UARTDevBufNoAddr(1)
	if !ok || addr != 0x3FCDF008 {
		t.Errorf("ESP32-C3 rev1 UARTDevBufNoAddr = %#x, %v, want 0x3fcdf008, true", addr, ok)
	}
	addr, ok = c3.UARTDevBufNoAddr(3)
	if !ok || addr != 0x3FCDF07C {
		t.Errorf("ESP32-C3 rev3 UARTDevBufNoAddr = %#x, %v, want 0x3fcdf07c, true", addr, ok)
	}

	esp8266 := Get(ESP8266)
	if _, ok := esp8266.UARTDevBufNoAddr(0); ok {
		t.Error("ESP8266 has no USB path; UARTDevBufNoAddr should report false")
	}
}
