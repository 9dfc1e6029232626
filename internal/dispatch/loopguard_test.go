package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopGuardTripsOnThirdRepeat(t *testing.T) {
	g := NewLoopGuard()
	input := json.RawMessage(`{"path":"main.go"}`)

	assert.False(t, g.Check("read_file", input))
	assert.False(t, g.Check("read_file", input))
	assert.True(t, g.Check("read_file", input))
	assert.True(t, g.Check("read_file", input))
}

func TestLoopGuardResetByDifferentInput(t *testing.T) {
	g := NewLoopGuard()

	assert.False(t, g.Check("read_file", json.RawMessage(`{"path":"a.go"}`)))
	assert.False(t, g.Check("read_file", json.RawMessage(`{"path":"a.go"}`)))
	assert.False(t, g.Check("read_file", json.RawMessage(`{"path":"b.go"}`)))
	assert.False(t, g.Check("read_file", json.RawMessage(`{"path":"a.go"}`)))
}

func TestLoopGuardDistinguishesActions(t *testing.T) {
	g := NewLoopGuard()

	assert.False(t, g.Check("read_file", nil))
	assert.False(t, g.Check("get_files", nil))
	assert.False(t, g.Check("read_file", nil))
	assert.False(t, g.Check("get_files", nil))
}

func TestLoopGuardReset(t *testing.T) {
	g := NewLoopGuard()
	input := json.RawMessage(`{}`)

	g.Check("x", input)
	g.Check("x", input)
	g.Reset()
	assert.False(t, g.Check("x", input))
}
