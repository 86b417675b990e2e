package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/pkg/profile"
	"github.com/schollz/progressbar/v3"

	"github.com/JonasDure/Allied-Mastercomputer/internal/clock"
	. "github.com/JonasDure/Allied-Mastercomputer/internal/helpers"
	"github.com/JonasDure/Allied-Mastercomputer/internal/session"
	"github.com/JonasDure/Allied-Mastercomputer/internal/uci"
)

func printHelp() {
	fmt.Println()
	fmt.Println("Available commands:")
	fmt.Println(strings.Repeat("-", 50))
	fmt.Println("help                           - Show this help message")
	fmt.Println("set position [moves]           - Set position with optional moves (e.g. 'set position e2e4 e7e5')")
	fmt.Println("set fen <fen> [moves]          - Set position using FEN notation")
	fmt.Println("set time <minutes> [increment] - Set time control (e.g. 'set time 5 2' for 5 min + 2 sec)")
	fmt.Println("best [depth]                   - Get best move with optional depth (default: 15)")
	fmt.Println("go [movetime_ms]               - Get best move with optional time limit in milliseconds")
	fmt.Println("start                          - Start the chess clock")
	fmt.Println("stop                           - Stop the chess clock")
	fmt.Println("switch                         - Switch the active player and apply increment")
	fmt.Println("times                          - Display current times")
	fmt.Println("debug                          - Dump the last search result")
	fmt.Println("quit                           - Exit the program")
	fmt.Println(strings.Repeat("-", 50))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func printTimes(s *session.Session) {
	white, black := s.Times()
	fmt.Printf("White: %v | Black: %v\n", clock.FormatTime(white), clock.FormatTime(black))
}

func printResult(result uci.SearchResult) {
	for _, info := range result.Infos {
		line := fmt.Sprintf("Depth %v | Score %v | Line: %v",
			info.Depth, info.ScoreString(), strings.Join(info.Variation, " "))
		if info.Nodes.HasValue() {
			line += fmt.Sprintf(" | %v nodes", humanize.Comma(int64(info.Nodes.Value())))
		}
		if info.Nps.HasValue() {
			line += fmt.Sprintf(" @ %v/s", humanize.Comma(int64(info.Nps.Value())))
		}
		fmt.Println(line)
	}

	if result.BestMove.HasValue() {
		fmt.Println("Best move:", result.BestMove.Value())
	} else {
		fmt.Println("Best move: none available")
	}
}

// searchWithProgress runs one search. Movetime-bound searches get a
// progress bar ticking toward the advisory movetime while the search
// blocks.
func searchWithProgress(s *session.Session, params uci.SearchParams) (uci.SearchResult, Error) {
	if params.MoveTime.IsEmpty() {
		return s.BestMove(params)
	}

	moveTime := params.MoveTime.Value()
	bar := progressbar.Default(moveTime.Milliseconds(), "searching")
	done := make(chan bool)

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(100)
			}
		}
	}()

	result, err := s.BestMove(params)
	close(done)
	return result, err
}

func handleSet(s *session.Session, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Error: Invalid set command. Try 'set position', 'set fen', or 'set time'.")
		return
	}

	switch parts[1] {
	case "position":
		err := s.SetPosition(parts[2:], Empty[string]())
		if !IsNil(err) {
			fmt.Println("Error:", err)
			return
		}
		fmt.Println("Position set:", s.LastPosition())

	case "fen":
		if len(parts) < 3 {
			fmt.Println("Error: FEN string required.")
			return
		}
		fen := strings.Join(parts[2:], " ")
		err := s.SetPosition(nil, Some(fen))
		if !IsNil(err) {
			fmt.Println("Error:", err)
			return
		}
		fmt.Println("Position set:", s.LastPosition())

	case "time":
		if len(parts) < 3 {
			fmt.Println("Error: Time in minutes required.")
			return
		}
		minutes, err := strconv.Atoi(parts[2])
		if err != nil {
			fmt.Println("Error: Invalid time values.")
			return
		}
		increment := 0
		if len(parts) > 3 {
			increment, err = strconv.Atoi(parts[3])
			if err != nil {
				fmt.Println("Error: Invalid time values.")
				return
			}
		}
		s.ConfigureClock(minutes, increment)
		fmt.Printf("Time control set to %v minutes with %v second increment.\n", minutes, increment)
		printTimes(s)

	default:
		fmt.Printf("Error: Unknown set command '%v'.\n", parts[1])
	}
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "recover()", r)
		}
	}()

	args := os.Args[1:]

	if Contains(args, "profile") {
		p := profile.Start(profile.ProfilePath("data/ChessTermMain"))
		defer p.Stop()
	}
	args = FilterSlice(args, func(arg string) bool {
		return arg != "profile"
	})

	// Engine chatter stays hidden unless asked for.
	logger := Logger(&SilentLogger)
	if Contains(args, "verbose") {
		logger = FuncLogger(func(s string) {
			fmt.Fprint(os.Stderr, s)
		})
	}
	args = FilterSlice(args, func(arg string) bool {
		return arg != "verbose"
	})

	enginePath := "stockfish"
	if len(args) > 0 {
		enginePath = args[0]
	}

	sessionOptions := []session.SessionOption{session.WithLogger(logger)}
	for _, arg := range args[1:] {
		if elo, found := strings.CutPrefix(arg, "elo="); found {
			value, err := strconv.Atoi(elo)
			if err != nil {
				fmt.Fprintln(os.Stderr, "invalid elo:", elo)
				os.Exit(1)
			}
			sessionOptions = append(sessionOptions, session.WithElo(value))
		}
	}

	s, err := session.NewSession(enginePath, sessionOptions...)
	if !IsNil(err) {
		fmt.Fprintln(os.Stderr, "Error initializing engine:", err)
		os.Exit(1)
	}
	fmt.Println("Engine initialized successfully.")

	go func() {
		loser := <-s.TimeExpired()
		fmt.Printf("\n%v's time has expired! %v wins on time.\n",
			capitalize(loser.String()), capitalize(loser.Other().String()))
	}()

	fmt.Println("Type 'help' for available commands")

	var lastResult uci.SearchResult

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("\n> ")
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			fmt.Print("\n> ")
			continue
		}

		parts := strings.Fields(input)
		command := strings.ToLower(parts[0])

		if command == "quit" || command == "exit" {
			break
		}

		switch command {
		case "help":
			printHelp()

		case "set":
			handleSet(s, parts)

		case "best":
			params := uci.SearchParams{Depth: Some(uci.DefaultDepth)}
			if len(parts) > 1 {
				depth, err := strconv.Atoi(parts[1])
				if err != nil {
					fmt.Println("Error: invalid depth:", parts[1])
					break
				}
				params.Depth = Some(depth)
			}
			result, err := s.BestMove(params)
			if !IsNil(err) {
				fmt.Println("Error:", err)
				break
			}
			lastResult = result
			printResult(result)

		case "go":
			params := uci.SearchParams{}
			if len(parts) > 1 {
				ms, err := strconv.Atoi(parts[1])
				if err != nil {
					fmt.Println("Error: invalid movetime:", parts[1])
					break
				}
				params.MoveTime = Some(time.Duration(ms) * time.Millisecond)
			}
			result, err := searchWithProgress(s, params)
			if !IsNil(err) {
				fmt.Println("Error:", err)
				break
			}
			lastResult = result
			printResult(result)

		case "start":
			s.StartClock()
			fmt.Printf("Timer started. %v's move.\n", capitalize(s.ActiveSide().String()))

		case "stop":
			s.StopClock()
			fmt.Println("Timer stopped.")

		case "switch":
			active := s.SwitchSide()
			fmt.Printf("Now %v's turn.\n", capitalize(active.String()))
			printTimes(s)

		case "times":
			printTimes(s)

		case "debug":
			spew.Dump(lastResult)

		default:
			fmt.Printf("Unknown command: '%v'. Type 'help' for available commands.\n", command)
		}

		fmt.Print("\n> ")
	}

	s.StopClock()
	s.Close()
	fmt.Println("Goodbye!")
}
