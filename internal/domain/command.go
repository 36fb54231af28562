package domain

// ApprovalCommand is an operator directive routed back to a bot.
type ApprovalCommand string

const (
	CommandApprove       ApprovalCommand = "approve"
	CommandCancelApprove ApprovalCommand = "cancel_approve"
)

// ParseApprovalCommand maps the dashboard command string to an approval decision.
func ParseApprovalCommand(raw string) (ApprovalCommand, error) {
	switch ApprovalCommand(raw) {
	case CommandApprove, CommandCancelApprove:
		return ApprovalCommand(raw), nil
	default:
		return "", ErrUnknownCommand
	}
}

// Approves reports whether the command grants approval.
func (c ApprovalCommand) Approves() bool {
	return c == CommandApprove
}

// CommandFor returns the directive sent to a bot for an approval decision.
func CommandFor(approve bool) ApprovalCommand {
	if approve {
		return CommandApprove
	}
	return CommandCancelApprove
}
