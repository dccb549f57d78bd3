package core

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// globals is the snapshot subsystem for the engine's own position: the
// last completed block and the state hash chain tip.
type globals struct {
	e      *Engine
	height int64
	hash   string
}

func (g *globals) SnapshotPrefix() string { return "globals" }

// SnapshotLines emits key=value lines.
func (g *globals) SnapshotLines(emit func(string) error) error {
	lines := []string{
		"height=" + strconv.FormatInt(g.height, 10),
		"block=" + g.hash,
		"state=" + g.stateHash(),
	}
	for _, l := range lines {
		if err := emit(l); err != nil {
			return err
		}
	}
	return nil
}

func (g *globals) RestoreLine(line string) error {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return fmt.Errorf("globals: malformed line %q", line)
	}
	switch key {
	case "height":
		h, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("globals: height: %w", err)
		}
		g.height = h
	case "block":
		g.hash = value
	case "state":
		return g.e.hasher.SetPrevHash(value)
	default:
		return fmt.Errorf("globals: unknown key %q", key)
	}
	return nil
}

func (g *globals) ResetState() {
	g.height = -1
	g.hash = ""
	g.e.hasher.Reset()
}

func (g *globals) stateHash() string {
	h := g.e.hasher.GetPrevHash()
	return hex.EncodeToString(h[:])
}
