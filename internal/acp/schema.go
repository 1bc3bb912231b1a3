// ABOUTME: JSON Schemas for reverse-call params, compiled once and checked before dispatch
// ABOUTME: Validation failures become -32602 responses carrying the individual violations

package acp

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mauromedda/acp-engine-go/pkg/jsonvalue"
)

var paramSchemas = map[string]string{
	MethodReadTextFile: `{
		"type": "object",
		"required": ["path"],
		"properties": {
			"sessionId": {"type": "string"},
			"path": {"type": "string", "minLength": 1},
			"line": {"type": ["integer", "null"], "minimum": 1},
			"limit": {"type": ["integer", "null"], "minimum": 0}
		}
	}`,
	MethodWriteTextFile: `{
		"type": "object",
		"required": ["path", "content"],
		"properties": {
			"sessionId": {"type": "string"},
			"path": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		}
	}`,
	MethodRequestPermission: `{
		"type": "object",
		"required": ["toolCall", "options"],
		"properties": {
			"sessionId": {"type": "string"},
			"toolCall": {
				"type": "object",
				"required": ["toolCallId"],
				"properties": {
					"toolCallId": {"type": "string"},
					"title": {"type": ["string", "null"]},
					"kind": {"type": ["string", "null"]}
				}
			},
			"options": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["optionId", "name", "kind"],
					"properties": {
						"optionId": {"type": "string"},
						"name": {"type": "string"},
						"kind": {"type": "string"}
					}
				}
			}
		}
	}`,
}

var (
	compileOnce sync.Once
	compiled    map[string]*gojsonschema.Schema
	compileErr  error
)

func schemas() (map[string]*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[string]*gojsonschema.Schema, len(paramSchemas))
		for method, src := range paramSchemas {
			s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
			if err != nil {
				compileErr = fmt.Errorf("compiling schema for %s: %w", method, err)
				return
			}
			compiled[method] = s
		}
	})
	return compiled, compileErr
}

// validateParams checks params for method. It returns nil when the params
// conform or no schema exists for method.
func validateParams(method string, params jsonvalue.Value) *RPCError {
	all, err := schemas()
	if err != nil {
		return NewInternalError(err.Error())
	}
	schema, ok := all[method]
	if !ok {
		return nil
	}

	doc, err := params.MarshalJSON()
	if err != nil {
		return NewInvalidParamsError("invalid params: "+err.Error(), nil)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return NewInvalidParamsError("invalid params: "+err.Error(), nil)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return NewInvalidParamsError("invalid params for "+method, details)
}

// requireAbsolute rejects paths the host cannot resolve unambiguously.
func requireAbsolute(path string) *RPCError {
	if !filepath.IsAbs(path) {
		return NewInvalidParamsError("path must be absolute: "+path, nil)
	}
	return nil
}
