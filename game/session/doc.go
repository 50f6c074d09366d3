// Package session runs the lobby and game lifecycle behind the text
// protocol.
//
// Every game name is in one of three states: no session, a Lobby gathering
// players, or an OngoingGame played through an engine.Engine. Messages come
// in as raw text frames (COMMAND or COMMAND.data) and go through
// Manager.Handle together with the sender's context. Handle returns a Result
// that says what to send and to whom; the caller owns the connections and
// applies it.
//
// Lifecycle:
//
//	GAMEJOIN.g,alice   -> lobby g created, alice founds it
//	GAMEJOIN.g,bob     -> bob appended, roster broadcast
//	GAMEACTION.<a>     -> from alice: g promoted and the action applied
//	GAMELEAVE          -> mid-game: GAMEEND, g becomes a lobby of the rest
//
// A game the engine reports finished is removed, so its name is free
// again. Games that leave the running state are archived through a
// history.Store without holding the manager lock.
//
// Concurrency:
//
// Manager is safe for concurrent use. One mutex guards all lobbies and
// games.
package session
