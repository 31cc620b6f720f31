package installer

import "testing"

func TestValidIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"203.0.113.255", true},
		{"256.1.1.1", false},
		{"10.0.0", false},
		{"example.com", false},
		{"2001:db8::1", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidIP(tt.ip); got != tt.want {
			t.Errorf("ValidIP(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestValidRDPPassword(t *testing.T) {
	tests := []struct {
		pw   string
		want bool
	}{
		{"Winpass7", true},
		{"aB3defgh", true},
		{"short1A", false},
		{"alllowercase1", false},
		{"ALLUPPERCASE1", false},
		{"NoDigitsHere", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidRDPPassword(tt.pw); got != tt.want {
			t.Errorf("ValidRDPPassword(%q) = %v, want %v", tt.pw, got, tt.want)
		}
	}
}
