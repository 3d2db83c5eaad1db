package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithField(t *testing.T) {
	assert.Equal(t, Fields{"sink": "http"}, WithField("sink", "http"))
}

func TestFields_AddMerge(t *testing.T) {
	f := Fields{"a": 1}.Add("b", 2).Merge(Fields{"a": 3, "c": 4})
	assert.Equal(t, Fields{"a": 3, "b": 2, "c": 4}, f)
}

func TestFields_Sanitize(t *testing.T) {
	f := Fields{
		"password":      "hunter2",
		"X-Api-Key":     "abc",
		"authorization": "Bearer x",
		"entries":       4,
	}

	s := f.Sanitize()
	assert.Equal(t, "[REDACTED]", s["password"])
	assert.Equal(t, "[REDACTED]", s["X-Api-Key"])
	assert.Equal(t, "[REDACTED]", s["authorization"])
	assert.Equal(t, 4, s["entries"])
	assert.Equal(t, "hunter2", f["password"], "original must be untouched")
}
