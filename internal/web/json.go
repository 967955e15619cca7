package web

import (
	"encoding/json"

	"github.com/sweeney/scale-node/internal/journal"
)

// HistoryJSON is the JSON representation of the journal.
type HistoryJSON struct {
	Dispatches []journal.Dispatch `json:"dispatches"`
	Commands   []journal.Command  `json:"commands"`
}

func formatHistory(dispatches []journal.Dispatch, commands []journal.Command) []byte {
	h := HistoryJSON{Dispatches: dispatches, Commands: commands}
	if h.Dispatches == nil {
		h.Dispatches = []journal.Dispatch{}
	}
	if h.Commands == nil {
		h.Commands = []journal.Command{}
	}
	data, _ := json.MarshalIndent(h, "", "  ")
	return data
}
