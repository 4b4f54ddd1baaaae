//go:build darwin || linux || freebsd

package simunit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliossim/helios/pkg/schema"
)

func TestOpenRejectsOversizedArgumentVector(t *testing.T) {
	dict := &schema.DataDictionary{}
	for i := 0; i < 16; i++ {
		role := schema.RoleInput
		if i == 15 {
			role = schema.RoleOutput
		}
		dict.Variables = append(dict.Variables, schema.DictEntry{
			Name: fmt.Sprintf("v%d", i), Datatype: "float64", Role: role,
		})
	}

	// Rejected before any loader work, so the path does not need to exist.
	_, err := Open("does-not-exist.so", dict)
	require.Error(t, err)
	var herr *schema.HeliosError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, schema.ErrCodeBinding, herr.Code)
	assert.Contains(t, herr.Message, "at most 15")
}

func TestOpenReportsMissingLibrary(t *testing.T) {
	dict := &schema.DataDictionary{Variables: []schema.DictEntry{
		{Name: "u", Datatype: "float64", Role: schema.RoleInput},
		{Name: "y", Datatype: "float64", Role: schema.RoleOutput},
	}}

	_, err := Open("does-not-exist.so", dict)
	require.Error(t, err)
	var herr *schema.HeliosError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, schema.ErrCodeBinding, herr.Code)
}
