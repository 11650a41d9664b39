package apihttp

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"candlelab/internal/apperr"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

type requestSchemas struct {
	fetch       *jsonschema.Schema
	backtest    *jsonschema.Schema
	strategyAdd *jsonschema.Schema
}

func loadSchemas() (requestSchemas, error) {
	var out requestSchemas
	for name, dst := range map[string]**jsonschema.Schema{
		"fetch.json":        &out.fetch,
		"backtest.json":     &out.backtest,
		"strategy_add.json": &out.strategyAdd,
	} {
		s, err := compileSchema(name)
		if err != nil {
			return out, err
		}
		*dst = s
	}
	return out, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return compiler.Compile(name)
}

// decodeBody 先做 schema 校验再解码到 dst，任何失败都是校验错误。
func decodeBody(schema *jsonschema.Schema, body []byte, dst any) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return apperr.Validation("malformed json: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return apperr.Validation("%v", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Validation("invalid request: %v", err)
	}
	return nil
}
