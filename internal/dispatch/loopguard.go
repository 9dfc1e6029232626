package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// loopThreshold is the number of identical consecutive commands before the
// guard trips.
const loopThreshold = 3

// loopHistoryCap bounds the retained history.
const loopHistoryCap = 10

// LoopGuard flags an agent that keeps issuing the same action with the same
// input, so the dispatcher can break the loop with a retryable hint instead
// of executing the repeat.
type LoopGuard struct {
	mu      sync.Mutex
	history []string
}

// NewLoopGuard creates an empty guard.
func NewLoopGuard() *LoopGuard {
	return &LoopGuard{}
}

// Check records one command and reports whether it is the loopThreshold-th
// identical command in a row.
func (g *LoopGuard) Check(actionName string, raw json.RawMessage) bool {
	hash := hashCommand(actionName, raw)

	g.mu.Lock()
	defer g.mu.Unlock()

	repeats := 1
	for i := len(g.history) - 1; i >= 0 && g.history[i] == hash; i-- {
		repeats++
	}

	g.history = append(g.history, hash)
	if len(g.history) > loopHistoryCap {
		g.history = g.history[len(g.history)-loopHistoryCap:]
	}

	return repeats >= loopThreshold
}

// Reset clears the history, e.g. after an operator decision changes the
// world the agent sees.
func (g *LoopGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = nil
}

func hashCommand(actionName string, raw json.RawMessage) string {
	payload, _ := json.Marshal(map[string]any{
		"action": actionName,
		"input":  json.RawMessage(normalizeRaw(raw)),
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func normalizeRaw(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
