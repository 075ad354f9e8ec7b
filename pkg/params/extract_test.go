package params

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		cfg     map[string]any
		want    any
		wantErr bool
	}{
		{"string present", String("assay", "Assay", ""), map[string]any{"assay": " RNA "}, "RNA", false},
		{"string absent no default", String("assay", "Assay", ""), nil, nil, false},
		{"string default", String("assay", "Assay", "", Default("RNA")), nil, "RNA", false},
		{"string blank uses default", String("assay", "Assay", "", Default("RNA")), map[string]any{"assay": "  "}, "RNA", false},
		{"int from yaml int", Int("dims", "Dims", ""), map[string]any{"dims": 15}, 15, false},
		{"int from string", Int("dims", "Dims", ""), map[string]any{"dims": "15"}, 15, false},
		{"int from whole float", Int("dims", "Dims", ""), map[string]any{"dims": 15.0}, 15, false},
		{"int rejects fraction", Int("dims", "Dims", ""), map[string]any{"dims": 15.5}, nil, true},
		{"int rejects text", Int("dims", "Dims", ""), map[string]any{"dims": "many"}, nil, true},
		{"int above max", Int("dims", "Dims", "", Range(1, 50)), map[string]any{"dims": 51}, nil, true},
		{"int below min", Int("dims", "Dims", "", Range(1, 50)), map[string]any{"dims": 0}, nil, true},
		{"int at max", Int("dims", "Dims", "", Range(1, 50)), map[string]any{"dims": 50}, 50, false},
		{"float", Float("pct", "Pct", ""), map[string]any{"pct": "0.25"}, 0.25, false},
		{"float above max", Float("pct", "Pct", "", Range(0, 1)), map[string]any{"pct": 1.5}, nil, true},
		{"bool absent is false", Bool("scale", "Scale", ""), nil, false, false},
		{"bool default true", Bool("scale", "Scale", "", Default(true)), nil, true, false},
		{"bool from string", Bool("scale", "Scale", ""), map[string]any{"scale": "TRUE"}, true, false},
		{"bool rejects text", Bool("scale", "Scale", ""), map[string]any{"scale": "maybe"}, nil, true},
		{"required missing", String("model", "Model", "", Required()), map[string]any{}, nil, true},
		{"required blank", String("model", "Model", "", Required()), map[string]any{"model": ""}, nil, true},
		{"list from text", List("genes", "Genes", "", ","), map[string]any{"genes": "CD3E, CD8A,,CD4"}, []string{"CD3E", "CD8A", "CD4"}, false},
		{"list from yaml sequence", List("genes", "Genes", "", ","), map[string]any{"genes": []any{"CD3E", " CD4 ", ""}}, []string{"CD3E", "CD4"}, false},
		{"list strip quotes", List("fields", "Fields", "", ";", Strip(`["']`)), map[string]any{"fields": `"ClusterNames";'Phase'`}, []string{"ClusterNames", "Phase"}, false},
		{"list empty uses default", List("fields", "Fields", "", ";", Default("a;b")), map[string]any{"fields": " ; "}, []string{"a", "b"}, false},
		{"list required empty", List("fields", "Fields", "", ";", Required()), map[string]any{"fields": ";;"}, nil, true},
		{"file", File("model", "Model", ""), map[string]any{"model": "/data/model.pkl"}, "/data/model.pkl", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.desc
			if err := d.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			got, err := Extract(tt.cfg, d)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Extract() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExtract_ErrorTypes(t *testing.T) {
	_, err := Extract(map[string]any{}, String("model", "Model Name", "", Required()))
	var missing *MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingParameterError, got %v", err)
	}
	if !strings.Contains(err.Error(), "model") {
		t.Errorf("error should name the parameter: %v", err)
	}

	_, err = Extract(map[string]any{"dims": 500}, Int("dims", "Dims", "", Range(1, 100)))
	var invalid *InvalidParameterError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidParameterError, got %v", err)
	}
	if invalid.Name != "dims" {
		t.Errorf("Name = %q, want dims", invalid.Name)
	}
	if !strings.Contains(err.Error(), "at most 100") {
		t.Errorf("error should describe the bound: %v", err)
	}
}

func TestExtractAll(t *testing.T) {
	descs := []Descriptor{
		Int("dims", "Dims", "", Default(10)),
		Bool("scale", "Scale", ""),
	}
	values, err := ExtractAll(map[string]any{"dims": 20}, descs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if values.Int("dims") != 20 {
		t.Errorf("dims = %d, want 20", values.Int("dims"))
	}
	if values.Bool("scale") {
		t.Error("scale should default to false")
	}
	if !values.Has("scale") {
		t.Error("scale should be present")
	}
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr bool
	}{
		{"valid list", List("a", "A", "", ","), false},
		{"list without delimiter", Descriptor{Name: "a", Kind: KindList}, true},
		{"delimiter on string", Descriptor{Name: "a", Kind: KindString, Delimiter: ","}, true},
		{"bad strip pattern", List("a", "A", "", ",", Strip("[")), true},
		{"range on bool", Bool("a", "A", "", Range(0, 1)), true},
		{"inverted range", Int("a", "A", "", Range(5, 1)), true},
		{"default out of range", Int("a", "A", "", Range(1, 5), Default(10)), true},
		{"default wrong type", Int("a", "A", "", Default("ten")), true},
		{"missing name", Descriptor{Kind: KindString}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.desc
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
