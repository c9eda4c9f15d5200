package transport

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestParseDataPacket(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantType   PacketType
		wantStream Stream
		wantGUID   string
		wantData   string
	}{
		{
			name:       "data packet with content",
			input:      "<Data Stream='Default' PSGuid='00000000-0000-0000-0000-000000000000'>SGVsbG8gV29ybGQ=</Data>",
			wantType:   PacketTypeData,
			wantStream: StreamDefault,
			wantGUID:   "00000000-0000-0000-0000-000000000000",
			wantData:   "Hello World",
		},
		{
			name:       "data packet with pipeline guid",
			input:      "<Data Stream='Output' PSGuid='12345678-1234-1234-1234-123456789abc'>dGVzdA==</Data>",
			wantType:   PacketTypeData,
			wantStream: StreamOutput,
			wantGUID:   "12345678-1234-1234-1234-123456789abc",
			wantData:   "test",
		},
		{
			name:       "data packet on host call stream",
			input:      "<Data Stream='HostCall' PSGuid='00000000-0000-0000-0000-000000000000'>YWJj</Data>",
			wantType:   PacketTypeData,
			wantStream: StreamHostCall,
			wantGUID:   "00000000-0000-0000-0000-000000000000",
			wantData:   "abc",
		},
		{
			name:       "missing stream defaults",
			input:      "<Data PSGuid='00000000-0000-0000-0000-000000000000'>eA==</Data>",
			wantType:   PacketTypeData,
			wantStream: StreamDefault,
			wantGUID:   "00000000-0000-0000-0000-000000000000",
			wantData:   "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packet, err := parsePacket(tt.input)
			if err != nil {
				t.Fatalf("parsePacket() error = %v", err)
			}

			if packet.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", packet.Type, tt.wantType)
			}
			if packet.Stream != tt.wantStream {
				t.Errorf("Stream = %v, want %v", packet.Stream, tt.wantStream)
			}
			if packet.PSGuid.String() != tt.wantGUID {
				t.Errorf("PSGuid = %v, want %v", packet.PSGuid, tt.wantGUID)
			}
			if string(packet.Data) != tt.wantData {
				t.Errorf("Data = %q, want %q", string(packet.Data), tt.wantData)
			}
		})
	}
}

func TestParseControlPackets(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantType    PacketType
		wantGUID    string
		wantVersion string
	}{
		{
			name:        "hello",
			input:       "<Hello PSGuid='00000000-0000-0000-0000-000000000000' Version='1.0' />",
			wantType:    PacketTypeHello,
			wantGUID:    "00000000-0000-0000-0000-000000000000",
			wantVersion: "1.0",
		},
		{
			name:        "hello ack",
			input:       "<HelloAck PSGuid='00000000-0000-0000-0000-000000000000' Version='1.2' />",
			wantType:    PacketTypeHelloAck,
			wantGUID:    "00000000-0000-0000-0000-000000000000",
			wantVersion: "1.2",
		},
		{
			name:     "command",
			input:    "<Command PSGuid='12345678-1234-1234-1234-123456789abc' />",
			wantType: PacketTypeCommand,
			wantGUID: "12345678-1234-1234-1234-123456789abc",
		},
		{
			name:     "command ack",
			input:    "<CommandAck PSGuid='12345678-1234-1234-1234-123456789abc' />",
			wantType: PacketTypeCommandAck,
			wantGUID: "12345678-1234-1234-1234-123456789abc",
		},
		{
			name:     "input end",
			input:    "<InputEnd PSGuid='12345678-1234-1234-1234-123456789abc' />",
			wantType: PacketTypeInputEnd,
			wantGUID: "12345678-1234-1234-1234-123456789abc",
		},
		{
			name:     "data ack",
			input:    "<DataAck PSGuid='00000000-0000-0000-0000-000000000000' />",
			wantType: PacketTypeDataAck,
			wantGUID: "00000000-0000-0000-0000-000000000000",
		},
		{
			name:     "close",
			input:    "<Close PSGuid='00000000-0000-0000-0000-000000000000' />",
			wantType: PacketTypeClose,
			wantGUID: "00000000-0000-0000-0000-000000000000",
		},
		{
			name:     "close ack",
			input:    "<CloseAck PSGuid='abcdef12-3456-7890-abcd-ef1234567890' />",
			wantType: PacketTypeCloseAck,
			wantGUID: "abcdef12-3456-7890-abcd-ef1234567890",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packet, err := parsePacket(tt.input)
			if err != nil {
				t.Fatalf("parsePacket() error = %v", err)
			}

			if packet.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", packet.Type, tt.wantType)
			}
			if packet.PSGuid.String() != tt.wantGUID {
				t.Errorf("PSGuid = %v, want %v", packet.PSGuid, tt.wantGUID)
			}
			if packet.Version != tt.wantVersion {
				t.Errorf("Version = %q, want %q", packet.Version, tt.wantVersion)
			}
		})
	}
}

func TestParsePacketRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad guid", "<Data Stream='Default' PSGuid='not-a-guid'>eA==</Data>"},
		{"bad base64", "<Data Stream='Default' PSGuid='00000000-0000-0000-0000-000000000000'>!!!</Data>"},
		{"not xml", "Data PSGuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parsePacket(tt.input); err == nil {
				t.Error("parsePacket() accepted malformed input")
			}
		})
	}
}

func TestSendData(t *testing.T) {
	var buf bytes.Buffer
	conn := NewPacketConn(strings.NewReader(""), &buf)

	guid := uuid.MustParse("12345678-1234-1234-1234-123456789abc")
	if err := conn.SendData(guid, StreamOutput, []byte("Hello World")); err != nil {
		t.Fatalf("SendData() error = %v", err)
	}

	want := "<Data Stream='Output' PSGuid='12345678-1234-1234-1234-123456789abc'>SGVsbG8gV29ybGQ=</Data>\n"
	if got := buf.String(); got != want {
		t.Errorf("SendData() wrote %q, want %q", got, want)
	}
}

func TestSendControlFrames(t *testing.T) {
	guid := uuid.MustParse("12345678-1234-1234-1234-123456789abc")

	tests := []struct {
		name string
		send func(*PacketConn) error
		want string
	}{
		{
			name: "hello",
			send: func(c *PacketConn) error { return c.SendHello("1.0") },
			want: "<Hello PSGuid='00000000-0000-0000-0000-000000000000' Version='1.0' />\n",
		},
		{
			name: "hello ack",
			send: func(c *PacketConn) error { return c.SendHelloAck("1.0") },
			want: "<HelloAck PSGuid='00000000-0000-0000-0000-000000000000' Version='1.0' />\n",
		},
		{
			name: "command",
			send: func(c *PacketConn) error { return c.SendCommand(guid) },
			want: "<Command PSGuid='12345678-1234-1234-1234-123456789abc' />\n",
		},
		{
			name: "command ack",
			send: func(c *PacketConn) error { return c.SendCommandAck(guid) },
			want: "<CommandAck PSGuid='12345678-1234-1234-1234-123456789abc' />\n",
		},
		{
			name: "input end",
			send: func(c *PacketConn) error { return c.SendInputEnd(guid) },
			want: "<InputEnd PSGuid='12345678-1234-1234-1234-123456789abc' />\n",
		},
		{
			name: "data ack",
			send: func(c *PacketConn) error { return c.SendDataAck(guid) },
			want: "<DataAck PSGuid='12345678-1234-1234-1234-123456789abc' />\n",
		},
		{
			name: "close",
			send: func(c *PacketConn) error { return c.SendClose(NullGUID) },
			want: "<Close PSGuid='00000000-0000-0000-0000-000000000000' />\n",
		},
		{
			name: "close ack",
			send: func(c *PacketConn) error { return c.SendCloseAck(NullGUID) },
			want: "<CloseAck PSGuid='00000000-0000-0000-0000-000000000000' />\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			conn := NewPacketConn(strings.NewReader(""), &buf)

			if err := tt.send(conn); err != nil {
				t.Fatalf("send error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("wrote %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReceiveSkipsNoise(t *testing.T) {
	input := "\n" +
		"   \n" +
		"engine starting up\n" +
		"\xEF\xBB\xBF<DataAck PSGuid='00000000-0000-0000-0000-000000000000' />\n"

	conn := NewPacketConn(strings.NewReader(input), io.Discard)

	packet, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if packet.Type != PacketTypeDataAck {
		t.Errorf("Type = %v, want DataAck", packet.Type)
	}
}

func TestReceiveLeadingGarbageBeforeElement(t *testing.T) {
	input := "warning: something<CloseAck PSGuid='00000000-0000-0000-0000-000000000000' />\n"

	conn := NewPacketConn(strings.NewReader(input), io.Discard)

	packet, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if packet.Type != PacketTypeCloseAck {
		t.Errorf("Type = %v, want CloseAck", packet.Type)
	}
}

func TestReceiveEOF(t *testing.T) {
	conn := NewPacketConn(strings.NewReader(""), io.Discard)

	if _, err := conn.Receive(); err != io.EOF {
		t.Errorf("Receive() error = %v, want io.EOF", err)
	}
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sender := NewPacketConn(strings.NewReader(""), &buf)

	guid := uuid.New()
	payload := []byte("<S>roundtrip payload</S>")
	if err := sender.SendCommand(guid); err != nil {
		t.Fatal(err)
	}
	if err := sender.SendData(guid, StreamDefault, payload); err != nil {
		t.Fatal(err)
	}
	if err := sender.SendInputEnd(guid); err != nil {
		t.Fatal(err)
	}

	receiver := NewPacketConn(&buf, io.Discard)

	first, err := receiver.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if first.Type != PacketTypeCommand || first.PSGuid != guid {
		t.Errorf("first packet = %+v", first)
	}

	second, err := receiver.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if second.Type != PacketTypeData || !bytes.Equal(second.Data, payload) {
		t.Errorf("second packet = %+v", second)
	}

	third, err := receiver.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if third.Type != PacketTypeInputEnd || third.PSGuid != guid {
		t.Errorf("third packet = %+v", third)
	}
}

func TestIsSessionGUID(t *testing.T) {
	if !IsSessionGUID(NullGUID) {
		t.Error("IsSessionGUID(NullGUID) = false")
	}
	if IsSessionGUID(uuid.New()) {
		t.Error("IsSessionGUID(random) = true")
	}
}

func TestFormatGUID(t *testing.T) {
	guid := uuid.MustParse("ABCDEF12-3456-7890-ABCD-EF1234567890")
	if got := formatGUID(guid); got != "abcdef12-3456-7890-abcd-ef1234567890" {
		t.Errorf("formatGUID() = %q", got)
	}
}
