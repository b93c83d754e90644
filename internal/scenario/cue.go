package scenario

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE []byte

var (
	schemaOnce  sync.Once
	schemaVal   cue.Value
	schemaBuild error
)

// compiledSchema compiles the embedded schema once per process.
func compiledSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaBuild = fmt.Errorf("compile scenario schema: %w", err)
			return
		}
		schemaVal = v.LookupPath(cue.ParsePath("#Scenario"))
		if err := schemaVal.Err(); err != nil {
			schemaBuild = fmt.Errorf("resolve #Scenario: %w", err)
		}
	})
	return schemaVal, schemaBuild
}

// ValidateSchema unifies scenario JSON against the embedded CUE schema.
// JSON is valid CUE, so the document compiles directly; unification catches
// wrong field types, unknown fields, and out-of-range values before decoding.
func ValidateSchema(jsonData []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return &ConfigError{Code: ErrCodeSchema, Message: err.Error()}
	}

	ctx := schema.Context()
	doc := ctx.CompileBytes(jsonData, cue.Filename("scenario.json"))
	if err := doc.Err(); err != nil {
		return &ConfigError{Code: ErrCodeParse, Message: cueerrors.Details(err, nil)}
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		first := cueerrors.Errors(err)[0]
		path := ""
		if p := first.Path(); len(p) > 0 {
			for i, seg := range p {
				if i > 0 {
					path += "."
				}
				path += seg
			}
		}
		return &ConfigError{
			Code:    ErrCodeSchema,
			Path:    path,
			Message: first.Error(),
		}
	}
	return nil
}
