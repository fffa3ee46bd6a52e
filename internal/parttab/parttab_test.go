package parttab

import "testing"

func buildTable(entries []Entry) []byte {
	return Serialize(entries)
}

func TestParse_RoundTrip(t *testing.T) {
	entries := []Entry{
		{Type: TypeApp, Subtype: SubtypeFactory, Offset: 0x10000, Size: 0x100000, Label: "factory"},
		{Type: TypeData, Subtype: SubtypeNVS, Offset: 0x9000, Size: 0x6000, Label: "nvs"},
		{Type: TypeData, Subtype: SubtypeSPIFFS, Offset: 0x110000, Size: 0x1F0000, Label: "spiffs"},
	}
	data := buildTable(entries)

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Parse() returned %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i] != e {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], e)
		}
	}
}

func TestParse_BadMagic(t *testing.T) {
	data := make([]byte, TableSize)
	data[0], data[1] = 0x12, 0x34 // not the 0x50AA magic, and not the 0xFFFF terminator
	if _, err := Parse(data); err == nil {
		t.Fatal("Parse() expected error for bad magic, got nil")
	}
}

func TestFind(t *testing.T) {
	entries := []Entry{
		{Type: TypeData, Subtype: SubtypeNVS, Offset: 0x9000, Size: 0x6000, Label: "nvs"},
	}
	e, ok := Find(entries, TypeData, SubtypeNVS)
	if !ok {
		t.Fatal("Find() did not find nvs partition")
	}
	if e.Offset != 0x9000 {
		t.Errorf("Find().Offset = 0x%X, want 0x9000", e.Offset)
	}

	if _, ok := Find(entries, TypeData, SubtypeFAT); ok {
		t.Error("Find() unexpectedly found a FAT partition")
	}
}

func TestSubtypeName(t *testing.T) {
	tests := []struct {
		e    Entry
		want string
	}{
		{Entry{Type: TypeApp, Subtype: SubtypeFactory}, "factory"},
		{Entry{Type: TypeApp, Subtype: SubtypeOTAMin + 2}, "ota_2"},
		{Entry{Type: TypeData, Subtype: SubtypeNVS}, "nvs"},
		{Entry{Type: TypeData, Subtype: SubtypeSPIFFS}, "spiffs"},
	}
	for _, tc := range tests {
		if got := tc.e.SubtypeName(); got != tc.want {
			t.Errorf("SubtypeName() = %q, want %q", got, tc.want)
		}
	}
}
