package transport

import (
	"bufio"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Stream identifies which logical channel a Data packet belongs to.
type Stream string

const (
	// StreamDefault carries pipeline definitions and input.
	StreamDefault Stream = "Default"
	// StreamOutput carries pipeline output records.
	StreamOutput Stream = "Output"
	// StreamError carries pipeline error records.
	StreamError Stream = "Error"
	// StreamProgress carries progress records.
	StreamProgress Stream = "Progress"
	// StreamInformation carries informational messages.
	StreamInformation Stream = "Information"
	// StreamState carries pipeline state change records.
	StreamState Stream = "State"
	// StreamHostCall carries engine-originated host call requests.
	StreamHostCall Stream = "HostCall"
	// StreamHostResponse carries client answers to host calls.
	StreamHostResponse Stream = "HostResponse"
)

// NullGUID is the zero GUID used for session-level packets.
// Pipeline-specific packets use the pipeline's GUID.
var NullGUID = uuid.UUID{}

// PacketType identifies the framing element of a packet.
type PacketType string

const (
	PacketTypeHello      PacketType = "Hello"
	PacketTypeHelloAck   PacketType = "HelloAck"
	PacketTypeCommand    PacketType = "Command"
	PacketTypeCommandAck PacketType = "CommandAck"
	PacketTypeData       PacketType = "Data"
	PacketTypeDataAck    PacketType = "DataAck"
	PacketTypeInputEnd   PacketType = "InputEnd"
	PacketTypeClose      PacketType = "Close"
	PacketTypeCloseAck   PacketType = "CloseAck"
)

// Packet is one parsed frame of the session protocol.
type Packet struct {
	Type    PacketType
	PSGuid  uuid.UUID
	Stream  Stream
	Version string // Only set on Hello/HelloAck packets
	Data    []byte // Decoded payload (only for Data packets)
}

// PacketConn implements the newline-delimited XML framing protocol over a
// byte stream. Each packet is a single self-contained XML element followed
// by a newline; Data packets carry their payload base64-encoded so the
// payload can never contain a literal newline.
//
// Writes are serialized with a mutex so concurrent senders cannot
// interleave partial frames. Reads must come from a single goroutine.
type PacketConn struct {
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex // Protects writer
}

// NewPacketConn creates a packet connection over separate read and write
// streams (typically stdin/stdout of a child process).
func NewPacketConn(reader io.Reader, writer io.Writer) *PacketConn {
	return &PacketConn{
		reader: bufio.NewReader(reader),
		writer: writer,
	}
}

// NewPacketConnFromReadWriter creates a packet connection from a single
// bidirectional stream such as a net.Conn.
func NewPacketConnFromReadWriter(rw io.ReadWriter) *PacketConn {
	return NewPacketConn(rw, rw)
}

// SendHello starts the session handshake, announcing the client's protocol
// version.
func (c *PacketConn) SendHello(version string) error {
	return c.writeFrame(fmt.Sprintf("<Hello PSGuid='%s' Version='%s' />\n",
		formatGUID(NullGUID), version))
}

// SendHelloAck answers a Hello with the responder's protocol version.
func (c *PacketConn) SendHelloAck(version string) error {
	return c.writeFrame(fmt.Sprintf("<HelloAck PSGuid='%s' Version='%s' />\n",
		formatGUID(NullGUID), version))
}

// SendCommand announces pipeline creation. The pipeline definition follows
// as a Data packet on the Default stream with the same GUID.
func (c *PacketConn) SendCommand(pipelineGUID uuid.UUID) error {
	return c.writeFrame(fmt.Sprintf("<Command PSGuid='%s' />\n", formatGUID(pipelineGUID)))
}

// SendCommandAck acknowledges pipeline creation.
func (c *PacketConn) SendCommandAck(pipelineGUID uuid.UUID) error {
	return c.writeFrame(fmt.Sprintf("<CommandAck PSGuid='%s' />\n", formatGUID(pipelineGUID)))
}

// SendData sends a payload on the given stream. Use NullGUID for
// session-level data, a pipeline GUID for pipeline data.
func (c *PacketConn) SendData(psGuid uuid.UUID, stream Stream, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	return c.writeFrame(fmt.Sprintf("<Data Stream='%s' PSGuid='%s'>%s</Data>\n",
		stream, formatGUID(psGuid), encoded))
}

// SendDataAck acknowledges receipt of a Data packet.
func (c *PacketConn) SendDataAck(psGuid uuid.UUID) error {
	return c.writeFrame(fmt.Sprintf("<DataAck PSGuid='%s' />\n", formatGUID(psGuid)))
}

// SendInputEnd closes the input feed of a pipeline. After this the engine
// runs the pipeline as a standalone command instead of waiting for
// interactive input.
func (c *PacketConn) SendInputEnd(pipelineGUID uuid.UUID) error {
	return c.writeFrame(fmt.Sprintf("<InputEnd PSGuid='%s' />\n", formatGUID(pipelineGUID)))
}

// SendClose closes a pipeline, or the whole session when given NullGUID.
func (c *PacketConn) SendClose(psGuid uuid.UUID) error {
	return c.writeFrame(fmt.Sprintf("<Close PSGuid='%s' />\n", formatGUID(psGuid)))
}

// SendCloseAck acknowledges a Close.
func (c *PacketConn) SendCloseAck(psGuid uuid.UUID) error {
	return c.writeFrame(fmt.Sprintf("<CloseAck PSGuid='%s' />\n", formatGUID(psGuid)))
}

func (c *PacketConn) writeFrame(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.writer.Write([]byte(frame))
	return err
}

// Receive reads and parses the next packet. It blocks until a complete
// packet arrives or the underlying stream fails. Blank lines and non-XML
// noise (engine banners, stray diagnostics) are skipped.
func (c *PacketConn) Receive() (*Packet, error) {
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Skip UTF-8 BOM if present (\xEF\xBB\xBF)
		line = strings.TrimPrefix(line, "\xEF\xBB\xBF")

		// Find the start of the XML element
		idx := strings.Index(line, "<")
		if idx == -1 {
			continue
		}
		if idx > 0 {
			line = line[idx:]
		}

		packet, err := parsePacket(line)
		if err != nil {
			return nil, fmt.Errorf("parse packet: %w", err)
		}

		return packet, nil
	}
}

// parsePacket parses a single framed line.
func parsePacket(line string) (*Packet, error) {
	decoder := xml.NewDecoder(strings.NewReader(line))

	token, err := decoder.Token()
	if err != nil {
		return nil, fmt.Errorf("read token: %w (line: %q)", err, truncate(line, 100))
	}

	startElem, ok := token.(xml.StartElement)
	if !ok {
		return nil, fmt.Errorf("expected start element, got %T (line: %q)", token, truncate(line, 100))
	}

	packet := &Packet{
		Type:   PacketType(startElem.Name.Local),
		Stream: StreamDefault,
	}

	for _, attr := range startElem.Attr {
		switch attr.Name.Local {
		case "PSGuid":
			guid, err := uuid.Parse(attr.Value)
			if err != nil {
				return nil, fmt.Errorf("parse PSGuid %q: %w", attr.Value, err)
			}
			packet.PSGuid = guid
		case "Stream":
			packet.Stream = Stream(attr.Value)
		case "Version":
			packet.Version = attr.Value
		}
	}

	// For Data packets, read the base64 content
	if packet.Type == PacketTypeData {
		token, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Self-closing tag with no content
				return packet, nil
			}
			return nil, fmt.Errorf("read data content: %w", err)
		}

		switch t := token.(type) {
		case xml.CharData:
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(t)))
			if err != nil {
				return nil, fmt.Errorf("decode base64: %w", err)
			}
			packet.Data = decoded
		case xml.EndElement:
			// Empty data element
		default:
			return nil, fmt.Errorf("unexpected token type in Data element: %T", token)
		}
	}

	return packet, nil
}

// formatGUID formats a UUID in the engine-expected format (lowercase with
// hyphens).
func formatGUID(id uuid.UUID) string {
	return strings.ToLower(id.String())
}

// IsSessionGUID reports whether the GUID is the null GUID used for
// session-level packets.
func IsSessionGUID(id uuid.UUID) bool {
	return id == NullGUID
}

// truncate shortens a string for error messages.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
