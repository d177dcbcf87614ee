package common

import "testing"

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{name: "empty data", data: []byte{}, expected: 0xFFFF},
		{name: "single byte", data: []byte{0x12}, expected: 0xEDFF}, // ~0x1200
		{name: "two bytes", data: []byte{0x12, 0x34}, expected: 0xEDCB},
		{
			name: "RFC 1071 example",
			// 0x0001 + 0xf203 + 0xf4f5 + 0xf6f7 = 0x2ddf0, fold to 0xddf2, ~ = 0x220d
			data:     []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7},
			expected: 0x220d,
		},
		{name: "all zeros", data: []byte{0x00, 0x00, 0x00, 0x00}, expected: 0xFFFF},
		{name: "all ones", data: []byte{0xFF, 0xFF, 0xFF, 0xFF}, expected: 0x0000},
		{
			name: "odd length",
			// 0x1234 + 0x5600 = 0x6834, ~0x6834 = 0x97CB
			data:     []byte{0x12, 0x34, 0x56},
			expected: 0x97CB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.expected {
				t.Errorf("Checksum() = 0x%04X, want 0x%04X", got, tt.expected)
			}
		})
	}
}

func TestVerifyChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{
			name: "valid checksum - constructed",
			data: func() []byte {
				data := []byte{0x45, 0x00, 0x00, 0x54, 0x00, 0x00, 0x40, 0x00, 0x40, 0x01,
					0x00, 0x00, 0xc0, 0xa8, 0x01, 0x01, 0xc0, 0xa8, 0x01, 0x02}
				checksum := Checksum(data)
				data[10] = byte(checksum >> 8)
				data[11] = byte(checksum)
				return data
			}(),
			expected: true,
		},
		{
			name: "invalid checksum",
			data: []byte{0x45, 0x00, 0x00, 0x54, 0x00, 0x00, 0x40, 0x00, 0x40, 0x01,
				0xFF, 0xFF, 0xc0, 0xa8, 0x01, 0x01, 0xc0, 0xa8, 0x01, 0x02},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyChecksum(tt.data); got != tt.expected {
				t.Errorf("VerifyChecksum() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func BenchmarkChecksum(b *testing.B) {
	data := make([]byte, 1500)
	for i := range data {
		data[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Checksum(data)
	}
}

func BenchmarkChecksumSmall(b *testing.B) {
	data := []byte{0x12, 0x34, 0x56, 0x78}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Checksum(data)
	}
}
