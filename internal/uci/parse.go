package uci

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	. "github.com/JonasDure/Allied-Mastercomputer/internal/helpers"
)

// Position is the engine's board state: a FEN (empty means the standard
// initial position) plus moves applied on top. Value object; SetPosition
// replaces it wholesale.
type Position struct {
	Fen   string
	Moves []string
}

// DefaultDepth matches the engine default used when a search has no bounds.
const DefaultDepth = 15

// SearchParams bounds a search by depth and/or engine-side movetime. The
// movetime is a hint to the engine, not a local deadline.
type SearchParams struct {
	Depth    Optional[int]
	MoveTime Optional[time.Duration]
}

// Info is one parsed progress line: the depth reached, the score (kind is
// "cp" or "mate"), and the principal variation.
type Info struct {
	Depth      int
	ScoreKind  string
	ScoreValue int
	Variation  []string

	Nodes Optional[int]
	Nps   Optional[int]
}

// SearchResult is everything observed for one search: the progress lines in
// order, and the terminal best move (empty when the engine reported none).
type SearchResult struct {
	Infos    []Info
	BestMove Optional[string]
}

func PositionCommand(position Position) string {
	command := "position startpos"
	if position.Fen != "" {
		command = "position fen " + position.Fen
	}
	if len(position.Moves) > 0 {
		command += " moves " + strings.Join(position.Moves, " ")
	}
	return command
}

func GoCommand(params SearchParams) string {
	if params.Depth.IsEmpty() && params.MoveTime.IsEmpty() {
		params.Depth = Some(DefaultDepth)
	}

	command := "go"
	if params.Depth.HasValue() {
		command += fmt.Sprint(" depth ", params.Depth.Value())
	}
	if params.MoveTime.HasValue() {
		command += fmt.Sprint(" movetime ", params.MoveTime.Value().Milliseconds())
	}
	return command
}

func intAfter(fields []string, marker string) (int, Error) {
	for i, field := range fields {
		if field == marker && i+1 < len(fields) {
			return WrapReturn(strconv.Atoi(fields[i+1]))
		}
	}
	return 0, Errorf("no %v field in %v", marker, fields)
}

// InfoFromLine parses an `info ... depth n ... score <kind> <v> ... pv ...`
// line. Lines missing any of the structured fields fail to parse; the
// caller skips them rather than aborting the search.
func InfoFromLine(line string) (Info, Error) {
	info := Info{}
	fields := strings.Fields(line)

	if len(fields) == 0 || fields[0] != "info" {
		return info, Errorf("not an info line: '%v'", line)
	}

	depth, err := intAfter(fields, "depth")
	if !IsNil(err) {
		return info, err
	}
	info.Depth = depth

	for i, field := range fields {
		if field == "score" && i+2 < len(fields) {
			value, err := WrapReturn(strconv.Atoi(fields[i+2]))
			if !IsNil(err) {
				return info, err
			}
			info.ScoreKind = fields[i+1]
			info.ScoreValue = value
		}
		if field == "pv" {
			info.Variation = fields[i+1:]
		}
	}

	if info.ScoreKind == "" {
		return info, Errorf("no score field in '%v'", line)
	}
	if info.Variation == nil {
		return info, Errorf("no pv field in '%v'", line)
	}

	if nodes, err := intAfter(fields, "nodes"); IsNil(err) {
		info.Nodes = Some(nodes)
	}
	if nps, err := intAfter(fields, "nps"); IsNil(err) {
		info.Nps = Some(nps)
	}

	return info, NilError
}

// ScoreString renders an Info's score, eg "cp 35" or "mate+2".
func (info Info) ScoreString() string {
	if info.ScoreKind == "mate" {
		if info.ScoreValue >= 0 {
			return fmt.Sprint("mate+", info.ScoreValue)
		}
		return fmt.Sprint("mate", info.ScoreValue)
	}
	return fmt.Sprint(info.ScoreKind, " ", info.ScoreValue)
}

// BestMoveFromLine extracts the best move from a terminal line like
// "bestmove e2e4 ponder e7e5". Returns ok=false for non-terminal lines and
// an empty Optional when the engine has no legal move ("bestmove (none)").
func BestMoveFromLine(line string) (Optional[string], bool) {
	if !strings.HasPrefix(line, "bestmove") {
		return Empty[string](), false
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || fields[1] == "(none)" {
		return Empty[string](), true
	}
	return Some(fields[1]), true
}
