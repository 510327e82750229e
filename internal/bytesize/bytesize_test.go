package bytesize

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain bytes", "1024", 1024, false},
		{"bytes suffix", "512B", 512, false},
		{"mebibytes", "50Mi", 50 * MiB, false},
		{"mebibytes long", "50MiB", 50 * MiB, false},
		{"gibibytes", "4Gi", 4 * GiB, false},
		{"decimal megabytes", "100MB", 100 * MB, false},
		{"float", "1.5Gi", ByteSize(1.5 * float64(GiB)), false},
		{"case insensitive", "4gi", 4 * GiB, false},
		{"whitespace", " 4 Gi ", 4 * GiB, false},
		{"empty", "", 0, true},
		{"unit only", "Gi", 0, true},
		{"negative", "-1Gi", 0, true},
		{"bad unit", "1Xi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	if got := (4 * GiB).String(); got != "4.00GiB" {
		t.Errorf("String() = %q, want 4.00GiB", got)
	}
	if got := ByteSize(100).String(); got != "100B" {
		t.Errorf("String() = %q, want 100B", got)
	}
}
