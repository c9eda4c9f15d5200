package wire

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dnielsn/go-pssession/objects"
)

func TestMarshalScalars(t *testing.T) {
	guid := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "hello", "<S>hello</S>"},
		{"string escapes", "a<b&c", "<S>a&lt;b&amp;c</S>"},
		{"newline encoded", "a\nb", "<S>a_x000A_b</S>"},
		{"underscore x escaped", "_x0041_", "<S>_x005F_x0041_</S>"},
		{"int fits i32", 120, "<I32>120</I32>"},
		{"int needs i64", int(1) << 40, "<I64>1099511627776</I64>"},
		{"int32", int32(-5), "<I32>-5</I32>"},
		{"int64", int64(9), "<I64>9</I64>"},
		{"bool", true, "<B>true</B>"},
		{"float", 1.5, "<Db>1.5</Db>"},
		{"bytes", []byte{1, 2, 3}, "<BA>AQID</BA>"},
		{"guid", guid, "<G>11111111-2222-3333-4444-555555555555</G>"},
		{"nil", nil, "<Nil/>"},
		{"list", []any{int32(1), "two"}, "<LST><I32>1</I32><S>two</S></LST>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.value)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal(%v) = %s, want %s", tt.value, got, tt.want)
			}
		})
	}
}

func TestScalarRoundTrip(t *testing.T) {
	values := []any{
		"plain",
		"control \x00\x1F chars",
		"_x005F_ literal",
		"unicode héllo \U0001F600",
		int32(42),
		int64(-7),
		true,
		false,
		3.25,
		[]byte("payload"),
		uuid.New(),
		nil,
		[]any{int32(1), []any{"nested"}, nil},
	}

	for _, v := range values {
		data, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal(%v) failed: %v", v, err)
		}
		got, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("Unmarshal(%s) failed: %v", data, err)
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("round trip %T: got %#v, want %#v", v, got, v)
		}
	}
}

func TestDateTimeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	data, err := Marshal(now)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", got)
	}
	if !ts.Equal(now) {
		t.Errorf("round trip instant mismatch: %v != %v", ts, now)
	}
}

func TestObjectRoundTrip(t *testing.T) {
	obj := &objects.Object{
		TypeNames: []string{"System.IO.FileInfo", "System.Object"},
		ToString:  `C:\temp\app.zip`,
	}
	obj.SetProperty("Name", "app.zip")
	obj.SetProperty("Length", int64(1048576))
	obj.SetProperty("Exists", true)

	data, err := Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(got, obj) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, obj)
	}
}

func TestBoxedValueRoundTrip(t *testing.T) {
	obj := &objects.Object{
		TypeNames: []string{"System.Int32"},
		ToString:  "120",
		Value:     int32(120),
	}
	data, err := Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	decoded, ok := got.(*objects.Object)
	if !ok {
		t.Fatalf("expected *objects.Object, got %T", got)
	}
	if decoded.Value != int32(120) {
		t.Errorf("inner value = %v, want 120", decoded.Value)
	}
}

func TestMapEncodesSorted(t *testing.T) {
	data, err := Marshal(map[string]any{"b": int32(2), "a": int32(1)})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `<Obj><MS><I32 N="a">1</I32><I32 N="b">2</I32></MS></Obj>`
	if string(data) != want {
		t.Errorf("map document = %s, want %s", data, want)
	}
}

func TestErrorRecordRoundTrip(t *testing.T) {
	rec := &objects.ErrorRecord{
		Message:               "Cannot find path 'C:\\missing'.",
		FullyQualifiedErrorID: "PathNotFound,Microsoft.PowerShell.Commands.GetItemCommand",
		CategoryInfo:          "ObjectNotFound",
		ScriptStackTrace:      "at <ScriptBlock>, <No file>: line 1",
	}

	data, err := Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	v, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	got, ok := AsErrorRecord(v)
	if !ok {
		t.Fatalf("AsErrorRecord rejected %#v", v)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, rec)
	}
}

func TestAsErrorRecordFromString(t *testing.T) {
	rec, ok := AsErrorRecord("plain failure text")
	if !ok || rec.Message != "plain failure text" {
		t.Errorf("string promotion failed: %#v ok=%v", rec, ok)
	}
}

func TestProgressRecordRoundTrip(t *testing.T) {
	rec := &objects.ProgressRecord{
		ActivityID:        77,
		Activity:          "Extracting archive",
		StatusDescription: "3 of 10",
		CurrentOperation:  "lib/app.dll",
		PercentComplete:   30,
		SecondsRemaining:  14,
		RecordType:        objects.ProgressRecordTypeProcessing,
	}

	data, err := Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	v, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	got, ok := AsProgressRecord(v)
	if !ok {
		t.Fatalf("AsProgressRecord rejected %#v", v)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, rec)
	}
}

func TestStateRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{"completed", State{Code: StateCompleted}},
		{"failed with reason", State{
			Code:   StateFailed,
			Reason: &objects.ErrorRecord{Message: "engine died"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.state)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			v, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			got, ok := AsState(v)
			if !ok {
				t.Fatalf("AsState rejected %#v", v)
			}
			if got.Code != tt.state.Code {
				t.Errorf("code = %v, want %v", got.Code, tt.state.Code)
			}
			if (got.Reason == nil) != (tt.state.Reason == nil) {
				t.Fatalf("reason presence mismatch")
			}
			if got.Reason != nil && got.Reason.Message != tt.state.Reason.Message {
				t.Errorf("reason = %q, want %q", got.Reason.Message, tt.state.Reason.Message)
			}
		})
	}
}

func TestStateCodeTerminal(t *testing.T) {
	if StateRunning.Terminal() {
		t.Error("Running must not be terminal")
	}
	for _, c := range []StateCode{StateStopped, StateCompleted, StateFailed} {
		if !c.Terminal() {
			t.Errorf("%v must be terminal", c)
		}
	}
}

func TestHostCallRoundTrip(t *testing.T) {
	call := HostCall{
		CallID: 3,
		Method: "PromptForChoice",
		Params: []any{"caption", "message", int32(1)},
	}

	data, err := Marshal(call)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	v, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	got, ok := AsHostCall(v)
	if !ok {
		t.Fatalf("AsHostCall rejected %#v", v)
	}
	if got.CallID != 3 || got.Method != "PromptForChoice" {
		t.Errorf("header mismatch: %#v", got)
	}
	if !reflect.DeepEqual(got.Params, call.Params) {
		t.Errorf("params = %#v, want %#v", got.Params, call.Params)
	}
}

func TestHostResponseRoundTrip(t *testing.T) {
	resp := HostResponse{CallID: 3, Value: "typed answer"}

	data, err := Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	v, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	got, ok := AsHostResponse(v)
	if !ok {
		t.Fatalf("AsHostResponse rejected %#v", v)
	}
	if got.CallID != 3 || got.Value != "typed answer" || got.Error != nil {
		t.Errorf("mismatch: %#v", got)
	}

	failed := HostResponse{
		CallID: 4,
		Error:  &objects.ErrorRecord{Message: "ReadLine is not wired", FullyQualifiedErrorID: "NotImplemented"},
	}
	data, err = Marshal(failed)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	v, err = Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	got, ok = AsHostResponse(v)
	if !ok {
		t.Fatalf("AsHostResponse rejected %#v", v)
	}
	if got.Error == nil || got.Error.FullyQualifiedErrorID != "NotImplemented" {
		t.Errorf("error record lost: %#v", got)
	}
}

func TestPipelineRoundTrip(t *testing.T) {
	cmds := []*objects.Command{
		objects.NewCommand("Get-ChildItem").
			WithParameter("LiteralPath", `C:\temp`).
			WithSwitch("Force"),
		objects.NewCommand("Measure-Object").
			WithParameter("Property", "Length").
			WithSwitch("Sum"),
		objects.NewScript("$input | Select-Object -First 1"),
	}

	data, err := MarshalPipeline(cmds)
	if err != nil {
		t.Fatalf("MarshalPipeline failed: %v", err)
	}
	got, err := UnmarshalPipeline(data)
	if err != nil {
		t.Fatalf("UnmarshalPipeline failed: %v", err)
	}

	if len(got) != len(cmds) {
		t.Fatalf("expected %d commands, got %d", len(cmds), len(got))
	}
	for i := range cmds {
		if got[i].Name() != cmds[i].Name() || got[i].IsScript() != cmds[i].IsScript() {
			t.Errorf("command %d header mismatch: %v", i, got[i])
		}
		if !reflect.DeepEqual(got[i].Switches(), cmds[i].Switches()) {
			t.Errorf("command %d switches mismatch: %v", i, got[i].Switches())
		}
		if !reflect.DeepEqual(got[i].Parameters(), cmds[i].Parameters()) {
			t.Errorf("command %d parameters mismatch: %#v", i, got[i].Parameters())
		}
	}
}

func TestMarshalPipelineRejectsInvalid(t *testing.T) {
	if _, err := MarshalPipeline([]*objects.Command{objects.NewCommand("")}); err == nil {
		t.Error("expected validation error for empty command name")
	}
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"<",
		"<S>unterminated",
		"<I32>twelve</I32>",
		"<B>maybe</B>",
		"<G>not-a-guid</G>",
		"<BA>!!</BA>",
		"<Wat>unknown</Wat>",
		"<S><S>nested</S></S>",
		strings.Repeat("<LST>", maxDepth+2) + strings.Repeat("</LST>", maxDepth+2),
	}
	for _, doc := range bad {
		if _, err := Unmarshal([]byte(doc)); err == nil {
			t.Errorf("Unmarshal(%q) expected error", doc)
		}
	}
}
