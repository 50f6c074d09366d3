package session

import "strings"

// Command is the leading token of an application message.
type Command string

const (
	CmdJoin         Command = "GAMEJOIN"
	CmdJoinAccept   Command = "GAMEJOIN_ACCEPT"
	CmdJoinDeny     Command = "GAMEJOIN_DENY"
	CmdLeave        Command = "GAMELEAVE"
	CmdAction       Command = "GAMEACTION"
	CmdActionAccept Command = "GAMEACTION_ACCEPT"
	CmdActionDeny   Command = "GAMEACTION_DENY"
	CmdEnd          Command = "GAMEEND"
	CmdMsg          Command = "GAMEMSG"
	CmdMsgDeny      Command = "GAMEMSG_DENY"
	CmdUnknown      Command = "UNKNOWN"
)

var commands = map[Command]bool{
	CmdJoin:         true,
	CmdJoinAccept:   true,
	CmdJoinDeny:     true,
	CmdLeave:        true,
	CmdAction:       true,
	CmdActionAccept: true,
	CmdActionDeny:   true,
	CmdEnd:          true,
	CmdMsg:          true,
	CmdMsgDeny:      true,
}

// Deny reasons.
const (
	ReasonUsernameTaken      = "USERNAME_TAKEN"
	ReasonGameFull           = "GAME_FULL"
	ReasonAlreadyInGame      = "ALREADY_IN_GAME"
	ReasonGameAlreadyStarted = "GAME_ALREADY_STARTED"
	ReasonGameNotStarted     = "GAME_NOT_STARTED"
	ReasonInvalidAction      = "INVALID_ACTION"
	ReasonNotYourTurn        = "NOT_YOUR_TURN"
	ReasonInvalidData        = "INVALID_DATA"
	ReasonNotInGame          = "NOT_IN_GAME"
	ReasonGameHasEnded       = "GAME_HAS_ENDED"
)

// GAMEEND reasons.
const (
	EndPlayerLeftMidgame = "PLAYER_LEFT_MIDGAME"
	EndPlayerHasWon      = "PLAYER_HAS_WON"
)

// Message is one decoded application message: COMMAND or COMMAND.data.
type Message struct {
	Command Command
	Data    string
}

// Parse splits raw at its first '.'. An unrecognized command decodes to
// CmdUnknown and keeps the raw text as data.
func Parse(raw string) Message {
	head, data, _ := strings.Cut(raw, ".")
	cmd := Command(head)
	if !commands[cmd] {
		return Message{Command: CmdUnknown, Data: raw}
	}
	return Message{Command: cmd, Data: data}
}

// Args splits the data on commas. Empty data has no arguments.
func (m Message) Args() []string {
	if m.Data == "" {
		return nil
	}
	return strings.Split(m.Data, ",")
}

// String encodes m back to wire form.
func (m Message) String() string {
	if m.Data == "" {
		return string(m.Command)
	}
	return string(m.Command) + "." + m.Data
}

func encode(cmd Command, args ...string) string {
	return Message{Command: cmd, Data: strings.Join(args, ",")}.String()
}

// validName reports whether s can travel as one protocol argument.
func validName(s string) bool {
	return s != "" && !strings.ContainsAny(s, ",.=")
}
