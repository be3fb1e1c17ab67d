package server

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request-body schemas, embedded so the binary stays self-contained. The
// shapes mirror what the desktop shell sends; unknown extra properties are
// ignored rather than rejected so older servers tolerate newer shells.
const (
	schemaTranscribeSrc = `{
		"type": "object",
		"properties": {
			"file_path": {"type": "string", "minLength": 1},
			"engine":    {"type": "string"},
			"language":  {"type": "string"},
			"diarize":   {"type": "boolean"}
		},
		"required": ["file_path"]
	}`

	schemaBatchSrc = `{
		"type": "object",
		"properties": {
			"file_paths": {
				"type": "array",
				"items": {"type": "string", "minLength": 1},
				"minItems": 1
			},
			"engine":   {"type": "string"},
			"language": {"type": "string"},
			"diarize":  {"type": "boolean"}
		},
		"required": ["file_paths"]
	}`

	schemaRealtimeStartSrc = `{
		"type": "object",
		"properties": {
			"engine":   {"type": "string"},
			"language": {"type": "string"}
		}
	}`

	schemaMonitorStartSrc = `{
		"type": "object",
		"properties": {
			"directory": {"type": "string", "minLength": 1},
			"check_interval_seconds": {"type": "number", "exclusiveMinimum": 0},
			"patterns": {
				"type": "array",
				"items": {"type": "string"}
			}
		},
		"required": ["directory"]
	}`

	schemaMarkProcessedSrc = `{
		"type": "object",
		"properties": {
			"file_path": {"type": "string", "minLength": 1}
		},
		"required": ["file_path"]
	}`

	schemaTextSrc = `{
		"type": "object",
		"properties": {
			"text": {"type": "string"}
		},
		"required": ["text"]
	}`

	schemaDiarizeSrc = `{
		"type": "object",
		"properties": {
			"file_path": {"type": "string", "minLength": 1},
			"segments": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"start": {"type": "number"},
						"end":   {"type": "number"},
						"text":  {"type": "string"}
					}
				}
			}
		},
		"required": ["file_path"]
	}`

	schemaExportSrc = `{
		"type": "object",
		"properties": {
			"output_path": {"type": "string", "minLength": 1},
			"text":        {"type": "string"},
			"language":    {"type": "string"},
			"segments": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"start":   {"type": "number"},
						"end":     {"type": "number"},
						"text":    {"type": "string"},
						"speaker": {"type": "string"}
					}
				}
			}
		},
		"required": ["output_path"]
	}`

	schemaPatchSrc = `{"type": "object"}`
)

// schemaSet holds every compiled request schema.
type schemaSet struct {
	transcribe    *jsonschema.Schema
	batch         *jsonschema.Schema
	realtimeStart *jsonschema.Schema
	monitorStart  *jsonschema.Schema
	markProcessed *jsonschema.Schema
	text          *jsonschema.Schema
	diarize       *jsonschema.Schema
	export        *jsonschema.Schema
	patch         *jsonschema.Schema
}

// compileSchemas compiles the embedded sources once at construction.
// Failures are programming errors and abort startup.
func compileSchemas() (*schemaSet, error) {
	compiler := jsonschema.NewCompiler()
	compile := func(name, src string) (*jsonschema.Schema, error) {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parsing schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", name, err)
		}
		return schema, nil
	}

	var (
		set schemaSet
		err error
	)
	if set.transcribe, err = compile("transcribe.json", schemaTranscribeSrc); err != nil {
		return nil, err
	}
	if set.batch, err = compile("batch.json", schemaBatchSrc); err != nil {
		return nil, err
	}
	if set.realtimeStart, err = compile("realtime_start.json", schemaRealtimeStartSrc); err != nil {
		return nil, err
	}
	if set.monitorStart, err = compile("monitor_start.json", schemaMonitorStartSrc); err != nil {
		return nil, err
	}
	if set.markProcessed, err = compile("mark_processed.json", schemaMarkProcessedSrc); err != nil {
		return nil, err
	}
	if set.text, err = compile("text.json", schemaTextSrc); err != nil {
		return nil, err
	}
	if set.diarize, err = compile("diarize.json", schemaDiarizeSrc); err != nil {
		return nil, err
	}
	if set.export, err = compile("export.json", schemaExportSrc); err != nil {
		return nil, err
	}
	if set.patch, err = compile("patch.json", schemaPatchSrc); err != nil {
		return nil, err
	}
	return &set, nil
}
