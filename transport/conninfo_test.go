package transport

import (
	"testing"
	"time"
)

func TestIsLocal(t *testing.T) {
	tests := []struct {
		name string
		info ConnectionInfo
		want bool
	}{
		{"empty address", ConnectionInfo{}, true},
		{"dot alias", ConnectionInfo{Address: "."}, true},
		{"localhost", ConnectionInfo{Address: "localhost"}, true},
		{"localhost mixed case", ConnectionInfo{Address: "LocalHost"}, true},
		{"loopback v4", ConnectionInfo{Address: "127.0.0.1"}, true},
		{"loopback v6", ConnectionInfo{Address: "::1"}, true},
		{"remote host", ConnectionInfo{Address: "server01"}, false},
		{"remote ip", ConnectionInfo{Address: "10.0.0.5"}, false},
		{"localhost with port", ConnectionInfo{Address: "localhost", Port: 5985}, false},
		{"empty with port", ConnectionInfo{Port: 5985}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.IsLocal(); got != tt.want {
				t.Errorf("IsLocal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheme(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"ssh://server01:22", "ssh"},
		{"TCP://server01", "tcp"},
		{"wss://server01/engine", "wss"},
		{"server01", ""},
		{"", ""},
	}

	for _, tt := range tests {
		info := ConnectionInfo{Address: tt.address}
		if got := info.scheme(); got != tt.want {
			t.Errorf("scheme(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		name        string
		info        ConnectionInfo
		defaultPort int
		want        string
	}{
		{"bare host gets default", ConnectionInfo{Address: "server01"}, 22, "server01:22"},
		{"explicit port in address", ConnectionInfo{Address: "server01:2222"}, 22, "server01:2222"},
		{"port field", ConnectionInfo{Address: "server01", Port: 2222}, 22, "server01:2222"},
		{"scheme stripped", ConnectionInfo{Address: "ssh://server01"}, 22, "server01:22"},
		{"websocket path stripped", ConnectionInfo{Address: "ws://server01/engine"}, 5985, "server01:5985"},
		{"ipv6 literal", ConnectionInfo{Address: "::1"}, 5985, "[::1]:5985"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.hostPort(tt.defaultPort); got != tt.want {
				t.Errorf("hostPort(%d) = %q, want %q", tt.defaultPort, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		info    ConnectionInfo
		wantErr bool
	}{
		{"local default", ConnectionInfo{}, false},
		{"remote ssh", ConnectionInfo{Address: "server01", Port: 22}, false},
		{"scheme only", ConnectionInfo{Address: "wss://server01/engine"}, false},
		{"port out of range", ConnectionInfo{Address: "server01", Port: 70000}, true},
		{"unknown scheme", ConnectionInfo{Address: "ftp://server01"}, true},
		{"remote without address", ConnectionInfo{Port: 22}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.info.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimeoutDefaults(t *testing.T) {
	var info ConnectionInfo
	if got := info.connectTimeout(); got != DefaultConnectTimeout {
		t.Errorf("connectTimeout() = %v, want default", got)
	}
	if got := info.operationTimeout(); got != DefaultOperationTimeout {
		t.Errorf("operationTimeout() = %v, want default", got)
	}

	info.ConnectTimeout = 5 * time.Second
	info.OperationTimeout = 10 * time.Second
	if got := info.connectTimeout(); got != 5*time.Second {
		t.Errorf("connectTimeout() = %v, want 5s", got)
	}
	if got := info.operationTimeout(); got != 10*time.Second {
		t.Errorf("operationTimeout() = %v, want 10s", got)
	}
}

func TestClone(t *testing.T) {
	original := &ConnectionInfo{Address: "server01", Port: 22, KeyPath: "/tmp/key"}

	clone := original.Clone()
	clone.Address = "server02"
	clone.Port = 5986

	if original.Address != "server01" || original.Port != 22 {
		t.Errorf("Clone() shares storage with original: %+v", original)
	}

	var nilInfo *ConnectionInfo
	if nilInfo.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}

func TestSubsystemDefault(t *testing.T) {
	var info ConnectionInfo
	if got := info.subsystem(); got != "powershell" {
		t.Errorf("subsystem() = %q, want %q", got, "powershell")
	}
	info.Subsystem = "pwsh-preview"
	if got := info.subsystem(); got != "pwsh-preview" {
		t.Errorf("subsystem() = %q, want %q", got, "pwsh-preview")
	}
}
