// Package rps implements the rock-paper-scissors commit-reveal game.
package rps

import (
	"errors"
	"fmt"
)

// GameID is the registry key for rock-paper-scissors.
const GameID = "rps"

// Move is one of rock, paper, scissors.
type Move string

// The three legal moves.
const (
	MoveRock     Move = "rock"
	MovePaper    Move = "paper"
	MoveScissors Move = "scissors"
)

// Moves lists all legal moves.
var Moves = []Move{MoveRock, MovePaper, MoveScissors}

// ErrInvalidMove is returned for anything outside rock/paper/scissors.
var ErrInvalidMove = errors.New("invalid move")

// ParseMove validates a wire-format move string.
func ParseMove(s string) (Move, error) {
	switch Move(s) {
	case MoveRock, MovePaper, MoveScissors:
		return Move(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMove, s)
	}
}

// RoundWinner identifies which side of a Winner comparison won.
type RoundWinner int

// Winner outcomes. Tie when both moves are identical.
const (
	Tie RoundWinner = iota
	FirstWins
	SecondWins
)

// Winner resolves two moves by standard precedence: rock beats scissors,
// scissors beats paper, paper beats rock.
func Winner(a, b Move) RoundWinner {
	if a == b {
		return Tie
	}
	if (a == MoveRock && b == MoveScissors) ||
		(a == MovePaper && b == MoveRock) ||
		(a == MoveScissors && b == MovePaper) {
		return FirstWins
	}
	return SecondWins
}
