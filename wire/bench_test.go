package wire

import (
	"testing"

	"github.com/dnielsn/go-pssession/objects"
)

func BenchmarkMarshal(b *testing.B) {
	obj := &objects.Object{
		TypeNames: []string{"System.Diagnostics.Process", "System.Object"},
		Properties: []objects.Property{
			{Name: "Name", Value: "pwsh"},
			{Name: "Id", Value: int32(4211)},
			{Name: "Responding", Value: true},
		},
		ToString: "pwsh",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Marshal(obj); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUnmarshal(b *testing.B) {
	obj := &objects.Object{
		TypeNames: []string{"System.Diagnostics.Process", "System.Object"},
		Properties: []objects.Property{
			{Name: "Name", Value: "pwsh"},
			{Name: "Id", Value: int32(4211)},
			{Name: "Responding", Value: true},
		},
		ToString: "pwsh",
	}
	data, err := Marshal(obj)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Unmarshal(data); err != nil {
			b.Fatal(err)
		}
	}
}
