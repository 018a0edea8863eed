package domain

// Point addresses a character position in the editor buffer.
type Point struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

const (
	ActionInsert = "insert"
	ActionRemove = "remove"
)

// Delta is one incremental edit as produced by the client editor.
// Deltas are broadcast verbatim; the server never merges or rewrites them.
// A room accumulates deltas in the order the broker processed them, which
// is not necessarily wall-clock order of the timestamps inside.
type Delta struct {
	Start     Point    `json:"start"`
	End       Point    `json:"end"`
	Action    string   `json:"action"`
	Lines     []string `json:"lines"`
	Timestamp float64  `json:"timestamp"`
}
