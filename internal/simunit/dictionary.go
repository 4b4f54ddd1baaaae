package simunit

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/heliossim/helios/pkg/schema"
)

// LoadDictionary reads a data dictionary file. Unknown fields are rejected
// so typos surface at load time; structural and semantic validation happens
// in the validation package before the unit is bound.
func LoadDictionary(path string) (*schema.DataDictionary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"read data dictionary %s: %s", path, err.Error()).WithCause(err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var dict schema.DataDictionary
	if err := dec.Decode(&dict); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSchema,
			"parse data dictionary %s: %s", path, err.Error()).WithCause(err)
	}
	return &dict, nil
}
