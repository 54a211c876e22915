package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetdesk/pkg/apperr"
)

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

var ticketRules = Rules{
	Required: []string{"name", "description"},
	Types: map[string]string{
		"name": "string", "description": "string", "status": "string",
		"assignedTo": "string", "machineIds": "string[]",
	},
	Nullable: map[string]bool{"assignedTo": true},
	NonBlank: []string{"name", "description"},
	MaxLen:   map[string]int{"name": 200},
	Enums:    map[string][]string{"status": {"Open", "Assigned", "Closed"}},
}

func TestValidate_OK(t *testing.T) {
	err := ticketRules.Validate(decode(t, `{"name":"Printer jam","description":"tray 2","status":"Open","machineIds":["m1"]}`))
	assert.NoError(t, err)
}

func TestValidate_Violations(t *testing.T) {
	cases := []struct {
		in    string
		field string
	}{
		{`{"description":"x"}`, "name"},
		{`{"name":"  ","description":"x"}`, "name"},
		{`{"name":5,"description":"x"}`, "name"},
		{`{"name":"a","description":"x","status":"Done"}`, "status"},
		{`{"name":"a","description":"x","machineIds":["m1",2]}`, "machineIds"},
	}
	for _, c := range cases {
		err := ticketRules.Validate(decode(t, c.in))
		require.Error(t, err, c.in)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), c.in)
		assert.Equal(t, c.field, apperr.FieldOf(err), c.in)
	}
}

func TestValidate_NullableAndAtLeastOne(t *testing.T) {
	r := Rules{
		Required:   []string{"ticketId"},
		Types:      map[string]string{"assignedTo": "string"},
		Nullable:   map[string]bool{"assignedTo": true},
		AtLeastOne: []string{"status", "assignedTo", "name"},
	}
	assert.NoError(t, r.Validate(decode(t, `{"ticketId":"t1","assignedTo":null}`)))

	err := r.Validate(decode(t, `{"ticketId":"t1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of")
}

func TestValidate_WhenThen(t *testing.T) {
	r := Rules{WhenThen: []WhenThenRule{{WhenPath: "status", Equals: "Assigned", ThenReq: []string{"assignedTo"}}}}
	err := r.Validate(decode(t, `{"status":"Assigned"}`))
	require.Error(t, err)
	assert.Equal(t, "assignedTo", apperr.FieldOf(err))

	v, ok := ValueAt(decode(t, `{"a":{"b":[{"c":1}]}}`), "a.b.0.c")
	assert.True(t, ok)
	assert.Equal(t, float64(1), v)
}
