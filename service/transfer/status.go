package transfer

// Status is one state of the transfer pipeline. The pipeline moves through
// the non-terminal states in a fixed linear order with no backward
// transitions; StatusError is reachable from any of them, and StatusSuccess
// and StatusError are terminal.
type Status string

const (
	StatusGenerating  Status = "generating"
	StatusSigning     Status = "signing"
	StatusDownloading Status = "downloading"
	StatusConfirming  Status = "confirming"
	StatusWithdrawing Status = "withdrawing"
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
)

// Terminal reports whether the status ends the pipeline.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// statusMessages are the human-readable progress lines emitted with each
// status transition.
var statusMessages = map[Status]string{
	StatusGenerating:  "Generating transaction calls...",
	StatusSigning:     "Please sign the transaction in your wallet...",
	StatusDownloading: "Downloading transaction note for recovery...",
	StatusConfirming:  "Waiting for transaction confirmation...",
	StatusWithdrawing: "Completing anonymous withdrawal to recipient...",
	StatusSuccess:     "Transfer completed successfully! 🎉",
}

// Message returns the human-readable progress line for a status.
func (s Status) Message() string {
	return statusMessages[s]
}
