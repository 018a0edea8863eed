package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/CodeRoom/internal/domain"
)

func TestDeltaWireFormat(t *testing.T) {
	req := require.New(t)

	// The editor-side wire shape, verbatim.
	raw := `[{"start":{"row":0,"column":0},"end":{"row":0,"column":5},"action":"insert","lines":["hello"],"timestamp":1.0}]`

	var deltas []domain.Delta
	req.NoError(json.Unmarshal([]byte(raw), &deltas))
	req.Len(deltas, 1)
	req.Equal("insert", deltas[0].Action)
	req.Equal(domain.Point{Row: 0, Column: 5}, deltas[0].End)
	req.Equal([]string{"hello"}, deltas[0].Lines)
	req.Equal(1.0, deltas[0].Timestamp)
}

func TestCodeUpdateEnvelope(t *testing.T) {
	req := require.New(t)

	b, err := Encode(NewCodeUpdate("alice", []domain.Delta{{Action: "insert", Lines: []string{"x"}}}))
	req.NoError(err)

	var env map[string]any
	req.NoError(json.Unmarshal(b, &env))
	req.Equal(TypeCodeUpdate, env["type"])
	req.Equal("alice", env["user"])
}

func TestCompilationEventStdoutNullOnFailure(t *testing.T) {
	req := require.New(t)

	b, err := Encode(NewCompilationEnd(nil))
	req.NoError(err)

	var env map[string]any
	req.NoError(json.Unmarshal(b, &env))
	req.Equal("END", env["state"])
	// stdout must be present and explicitly null so clients stop waiting.
	v, ok := env["stdout"]
	req.True(ok)
	req.Nil(v)
}
