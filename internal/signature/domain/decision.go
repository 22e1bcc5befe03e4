package domain

type Action int

const (
	ActionDispatch Action = iota
	ActionSkip
	ActionDefer
)

const (
	SkipReasonRecipientSigned   = "recipient_signed"
	SkipReasonRecipientDeclined = "recipient_declined"
	SkipReasonDocumentClosed    = "document_closed"

	DeferReasonNotActiveSigner = "sequential_not_active"
)

type Decision struct {
	Action Action
	Reason string
}

// Decide classifies a due reminder. Completed recipients and closed documents are
// skipped for good; a sequential recipient whose turn has not come is deferred and
// left pending for a later pass.
func Decide(r DueReminder) Decision {
	switch r.RecipientStatus {
	case RecipientStatusSigned:
		return Decision{Action: ActionSkip, Reason: SkipReasonRecipientSigned}
	case RecipientStatusDeclined:
		return Decision{Action: ActionSkip, Reason: SkipReasonRecipientDeclined}
	}
	switch r.DocumentStatus {
	case DocumentStatusCompleted, DocumentStatusVoided, DocumentStatusExpired:
		return Decision{Action: ActionSkip, Reason: SkipReasonDocumentClosed}
	}
	if r.RoutingMode == RoutingModeSequential && r.RoutingStatus != RoutingStatusActive {
		return Decision{Action: ActionDefer, Reason: DeferReasonNotActiveSigner}
	}
	return Decision{Action: ActionDispatch}
}
