package wire

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/dnielsn/go-pssession/objects"
)

// Wire type names. Engine concepts keep the .NET names the remote side
// already uses; protocol-internal records live under PSSession.
const (
	typeErrorRecord    = "System.Management.Automation.ErrorRecord"
	typeProgressRecord = "System.Management.Automation.ProgressRecord"
	typeCredential     = "System.Management.Automation.PSCredential"
	typeState          = "PSSession.PipelineState"
	typeHostCall       = "PSSession.HostCall"
	typeHostResponse   = "PSSession.HostResponse"
)

// StateCode is a pipeline lifecycle state. The numbering matches the
// engine's PipelineState enum so traces line up.
type StateCode int32

const (
	StateRunning   StateCode = 1
	StateStopped   StateCode = 3
	StateCompleted StateCode = 4
	StateFailed    StateCode = 5
)

// Terminal reports whether the pipeline is finished in this state.
func (c StateCode) Terminal() bool {
	return c == StateStopped || c == StateCompleted || c == StateFailed
}

// String returns the state name.
func (c StateCode) String() string {
	switch c {
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("StateCode(%d)", int32(c))
	}
}

// State is the payload of a State stream packet.
type State struct {
	Code   StateCode
	Reason *objects.ErrorRecord
}

func (s State) object() *objects.Object {
	obj := &objects.Object{TypeNames: []string{typeState}}
	obj.SetProperty("st", int32(s.Code))
	if s.Reason != nil {
		obj.SetProperty("er", s.Reason)
	}
	return obj
}

// AsState recognizes a decoded State payload.
func AsState(v any) (*State, bool) {
	obj, ok := asTyped(v, typeState)
	if !ok {
		return nil, false
	}
	st := &State{Code: StateCode(propInt(obj, "st"))}
	if er, ok := obj.Property("er"); ok {
		if rec, ok := AsErrorRecord(er); ok {
			st.Reason = rec
		}
	}
	return st, true
}

// HostCall is a remote request to invoke one host capability.
type HostCall struct {
	CallID int64
	Method string
	Params []any
}

func (c HostCall) object() *objects.Object {
	obj := &objects.Object{TypeNames: []string{typeHostCall}}
	obj.SetProperty("ci", c.CallID)
	obj.SetProperty("mn", c.Method)
	obj.SetProperty("mp", c.Params)
	return obj
}

// AsHostCall recognizes a decoded HostCall payload.
func AsHostCall(v any) (*HostCall, bool) {
	obj, ok := asTyped(v, typeHostCall)
	if !ok {
		return nil, false
	}
	call := &HostCall{
		CallID: propInt(obj, "ci"),
		Method: propString(obj, "mn"),
	}
	if mp, ok := obj.Property("mp"); ok {
		if items, ok := mp.([]any); ok {
			call.Params = items
		}
	}
	return call, true
}

// HostResponse answers a HostCall. Error is set when the capability failed
// or is not wired on this client.
type HostResponse struct {
	CallID int64
	Value  any
	Error  *objects.ErrorRecord
}

func (r HostResponse) object() *objects.Object {
	obj := &objects.Object{TypeNames: []string{typeHostResponse}}
	obj.SetProperty("ci", r.CallID)
	if r.Value != nil {
		obj.SetProperty("rv", r.Value)
	}
	if r.Error != nil {
		obj.SetProperty("er", r.Error)
	}
	return obj
}

// AsHostResponse recognizes a decoded HostResponse payload.
func AsHostResponse(v any) (*HostResponse, bool) {
	obj, ok := asTyped(v, typeHostResponse)
	if !ok {
		return nil, false
	}
	resp := &HostResponse{CallID: propInt(obj, "ci")}
	if rv, ok := obj.Property("rv"); ok {
		resp.Value = rv
	}
	if er, ok := obj.Property("er"); ok {
		if rec, ok := AsErrorRecord(er); ok {
			resp.Error = rec
		}
	}
	return resp, true
}

func errorRecordObject(rec *objects.ErrorRecord) *objects.Object {
	obj := &objects.Object{TypeNames: []string{typeErrorRecord}}
	obj.SetProperty("Message", rec.Message)
	if rec.FullyQualifiedErrorID != "" {
		obj.SetProperty("FullyQualifiedErrorId", rec.FullyQualifiedErrorID)
	}
	if rec.CategoryInfo != "" {
		obj.SetProperty("CategoryInfo", rec.CategoryInfo)
	}
	if rec.TargetObject != nil {
		obj.SetProperty("TargetObject", rec.TargetObject)
	}
	if rec.ScriptStackTrace != "" {
		obj.SetProperty("ScriptStackTrace", rec.ScriptStackTrace)
	}
	obj.ToString = rec.String()
	return obj
}

// AsErrorRecord recognizes a decoded ErrorRecord. A bare string also
// qualifies, since minimal engines report errors as text.
func AsErrorRecord(v any) (*objects.ErrorRecord, bool) {
	if s, ok := v.(string); ok {
		return &objects.ErrorRecord{Message: s}, true
	}
	obj, ok := asTyped(v, typeErrorRecord)
	if !ok {
		return nil, false
	}
	rec := &objects.ErrorRecord{
		Message:               propString(obj, "Message"),
		FullyQualifiedErrorID: propString(obj, "FullyQualifiedErrorId"),
		CategoryInfo:          propString(obj, "CategoryInfo"),
		ScriptStackTrace:      propString(obj, "ScriptStackTrace"),
	}
	if tgt, ok := obj.Property("TargetObject"); ok {
		rec.TargetObject = tgt
	}
	if rec.Message == "" && obj.ToString != "" {
		rec.Message = obj.ToString
	}
	return rec, true
}

func progressRecordObject(rec *objects.ProgressRecord) *objects.Object {
	obj := &objects.Object{TypeNames: []string{typeProgressRecord}}
	obj.SetProperty("ActivityId", int32(rec.ActivityID))
	obj.SetProperty("ParentActivityId", int32(rec.ParentActivityID))
	obj.SetProperty("Activity", rec.Activity)
	obj.SetProperty("StatusDescription", rec.StatusDescription)
	obj.SetProperty("CurrentOperation", rec.CurrentOperation)
	obj.SetProperty("PercentComplete", int32(rec.PercentComplete))
	obj.SetProperty("SecondsRemaining", int32(rec.SecondsRemaining))
	obj.SetProperty("Type", int32(rec.RecordType))
	return obj
}

// AsProgressRecord recognizes a decoded ProgressRecord.
func AsProgressRecord(v any) (*objects.ProgressRecord, bool) {
	obj, ok := asTyped(v, typeProgressRecord)
	if !ok {
		return nil, false
	}
	return &objects.ProgressRecord{
		ActivityID:        int(propInt(obj, "ActivityId")),
		ParentActivityID:  int(propInt(obj, "ParentActivityId")),
		Activity:          propString(obj, "Activity"),
		StatusDescription: propString(obj, "StatusDescription"),
		CurrentOperation:  propString(obj, "CurrentOperation"),
		PercentComplete:   int(propInt(obj, "PercentComplete")),
		SecondsRemaining:  int(propInt(obj, "SecondsRemaining")),
		RecordType:        objects.ProgressRecordType(propInt(obj, "Type")),
	}, true
}

// credentialObject lowers a credential for a prompt response. The password
// rides in the clear inside the document; the packet layer's stream security
// (SSH, TLS) is the confidentiality boundary.
func credentialObject(c *objects.Credential) (*objects.Object, error) {
	obj := &objects.Object{TypeNames: []string{typeCredential}}
	obj.SetProperty("UserName", c.UserName)
	if c.Password != nil {
		plain, err := c.Password.Reveal()
		if err != nil {
			return nil, fmt.Errorf("wire: reveal credential: %w", err)
		}
		obj.SetProperty("Password", string(plain))
	}
	return obj, nil
}

// AsCredential recognizes a decoded credential.
func AsCredential(v any) (*objects.Credential, bool) {
	obj, ok := asTyped(v, typeCredential)
	if !ok {
		return nil, false
	}
	cred := &objects.Credential{UserName: propString(obj, "UserName")}
	if pw := propString(obj, "Password"); pw != "" {
		ss, err := objects.NewSecureString(pw)
		if err != nil {
			return nil, false
		}
		cred.Password = ss
	}
	return cred, true
}

// MarshalPipeline encodes an ordered command slice as a pipeline-create
// payload.
func MarshalPipeline(cmds []*objects.Command) ([]byte, error) {
	var b strings.Builder
	b.WriteString("<Pipe>")
	for _, cmd := range cmds {
		if err := cmd.Validate(); err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		b.WriteString(`<Cmd N="`)
		b.WriteString(escapeAttr(cmd.Name()))
		b.WriteByte('"')
		if cmd.IsScript() {
			b.WriteString(` S="true"`)
		}
		b.WriteByte('>')
		for _, p := range cmd.Parameters() {
			b.WriteString(`<Param N="`)
			b.WriteString(escapeAttr(p.Name))
			b.WriteString(`">`)
			if err := encodeValue(&b, p.Value, "", 1); err != nil {
				return nil, err
			}
			b.WriteString("</Param>")
		}
		for _, s := range cmd.Switches() {
			b.WriteString(`<Switch N="`)
			b.WriteString(escapeAttr(s))
			b.WriteString(`"/>`)
		}
		b.WriteString("</Cmd>")
	}
	b.WriteString("</Pipe>")
	return []byte(b.String()), nil
}

// UnmarshalPipeline decodes a pipeline-create payload.
func UnmarshalPipeline(data []byte) ([]*objects.Command, error) {
	v, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	cmds, ok := v.([]*objects.Command)
	if !ok {
		return nil, fmt.Errorf("wire: document is not a pipeline")
	}
	return cmds, nil
}

func decodePipe(dec *xml.Decoder, depth int) ([]*objects.Command, error) {
	var cmds []*objects.Command
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "Cmd" {
				return nil, fmt.Errorf("wire: unexpected <%s> in pipeline", t.Name.Local)
			}
			cmd, err := decodeCmd(dec, t, depth)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, cmd)
		case xml.EndElement:
			return cmds, nil
		}
	}
}

func decodeCmd(dec *xml.Decoder, start xml.StartElement, depth int) (*objects.Command, error) {
	name := attrValue(start, "N")
	var cmd *objects.Command
	if attrValue(start, "S") == "true" {
		cmd = objects.NewScript(name)
	} else {
		cmd = objects.NewCommand(name)
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Param":
				pname := attrValue(t, "N")
				val, err := decodeSingleChild(dec, depth+1)
				if err != nil {
					return nil, err
				}
				cmd.WithParameter(pname, val)
			case "Switch":
				cmd.WithSwitch(attrValue(t, "N"))
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("wire: %w", err)
				}
			default:
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("wire: %w", err)
				}
			}
		case xml.EndElement:
			if err := cmd.Validate(); err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
			return cmd, nil
		}
	}
}

func asTyped(v any, typeName string) (*objects.Object, bool) {
	obj, ok := v.(*objects.Object)
	if !ok || len(obj.TypeNames) == 0 {
		return nil, false
	}
	for _, tn := range obj.TypeNames {
		if tn == typeName {
			return obj, true
		}
	}
	return nil, false
}

func propString(obj *objects.Object, name string) string {
	v, ok := obj.Property(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func propInt(obj *objects.Object, name string) int64 {
	v, ok := obj.Property(name)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int32:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	}
	return 0
}
