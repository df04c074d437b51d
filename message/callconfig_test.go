package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClone_DeepCopiesMessagesAndParams(t *testing.T) {
	original := CallConfig{
		Model:    "gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "hi", Parts: []Part{{Type: PartText, Text: "hi"}}}},
		Params:   map[string]any{"temperature": 0.5},
	}
	clone := original.Clone()

	clone.Messages[0].Content = "mutated"
	clone.Messages[0].Parts[0].Text = "mutated"
	clone.Params["temperature"] = 1.0

	assert.Equal(t, "hi", original.Messages[0].Content)
	assert.Equal(t, "hi", original.Messages[0].Parts[0].Text)
	assert.Equal(t, 0.5, original.Params["temperature"])
}

func TestClone_NilSlicesAndMapsStayNil(t *testing.T) {
	clone := CallConfig{Model: "gpt-4o"}.Clone()
	assert.Nil(t, clone.Messages)
	assert.Nil(t, clone.Params)
	assert.Nil(t, clone.Validation)
}

func TestDefaultRetryConfig_SetsExpectedDefaults(t *testing.T) {
	rc := DefaultRetryConfig()
	assert.Equal(t, 3, rc.MaxAttempts)
	assert.True(t, rc.UseJitter)
}
