package bridge

// Command is a bridge command name as it appears on the wire.
type Command string

const (
	CmdReadyToWidget    Command = "ready_to_widget"
	CmdGetSDKRequest    Command = "get_sdk_request"
	CmdSetLocalStorage  Command = "set_local_storage"
	CmdSetUserEmail     Command = "set_user_email"
	CmdGetClipboard     Command = "get_clipboard"
	CmdGetLoginInfo     Command = "get_login_info"
	CmdCloseWepinWidget Command = "close_wepin_widget"

	// Replies to requests the native side posted through the mailbox.
	CmdRegisterWepin                  Command = "register_wepin"
	CmdSendTransactionWithoutProvider Command = "send_transaction_without_provider"
	CmdReceiveAccount                 Command = "receive_account"
)

// CommandKind says how the dispatcher answers a command.
type CommandKind int

const (
	// CommandInline is answered with exactly one reply.
	CommandInline CommandKind = iota
	// CommandAsync is answered with exactly one reply once background work finishes.
	CommandAsync
	// CommandNoReply acts locally and sends nothing back.
	CommandNoReply
	// CommandResponse resolves a pending wait and sends nothing back.
	CommandResponse
)

func (k CommandKind) String() string {
	switch k {
	case CommandInline:
		return "inline"
	case CommandAsync:
		return "async"
	case CommandNoReply:
		return "no_reply"
	case CommandResponse:
		return "response"
	}
	return "unknown"
}

var commandTable = map[Command]CommandKind{
	CmdReadyToWidget:                  CommandInline,
	CmdGetSDKRequest:                  CommandInline,
	CmdSetLocalStorage:                CommandInline,
	CmdSetUserEmail:                   CommandInline,
	CmdGetClipboard:                   CommandInline,
	CmdGetLoginInfo:                   CommandAsync,
	CmdCloseWepinWidget:               CommandNoReply,
	CmdRegisterWepin:                  CommandResponse,
	CmdSendTransactionWithoutProvider: CommandResponse,
	CmdReceiveAccount:                 CommandResponse,
}

// Kind looks c up in the command table.
func (c Command) Kind() (CommandKind, bool) {
	k, ok := commandTable[c]
	return k, ok
}

// IsResponse reports whether c answers a native request.
func (c Command) IsResponse() bool {
	k, ok := commandTable[c]
	return ok && k == CommandResponse
}
