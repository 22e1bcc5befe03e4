package domain

import "testing"

func TestDecide(t *testing.T) {
	cases := []struct {
		name   string
		in     DueReminder
		action Action
		reason string
	}{
		{
			name:   "parallel pending recipient",
			in:     DueReminder{RoutingMode: RoutingModeParallel, DocumentStatus: DocumentStatusPending, RecipientStatus: RecipientStatusSent, RoutingStatus: RoutingStatusWaiting},
			action: ActionDispatch,
		},
		{
			name:   "sequential active signer",
			in:     DueReminder{RoutingMode: RoutingModeSequential, DocumentStatus: DocumentStatusPending, RecipientStatus: RecipientStatusPending, RoutingStatus: RoutingStatusActive},
			action: ActionDispatch,
		},
		{
			name:   "sequential waiting signer",
			in:     DueReminder{RoutingMode: RoutingModeSequential, DocumentStatus: DocumentStatusPending, RecipientStatus: RecipientStatusPending, RoutingStatus: RoutingStatusWaiting},
			action: ActionDefer,
			reason: DeferReasonNotActiveSigner,
		},
		{
			name:   "signed recipient",
			in:     DueReminder{RoutingMode: RoutingModeSequential, DocumentStatus: DocumentStatusPending, RecipientStatus: RecipientStatusSigned, RoutingStatus: RoutingStatusCompleted},
			action: ActionSkip,
			reason: SkipReasonRecipientSigned,
		},
		{
			name:   "declined recipient",
			in:     DueReminder{RoutingMode: RoutingModeParallel, DocumentStatus: DocumentStatusPending, RecipientStatus: RecipientStatusDeclined},
			action: ActionSkip,
			reason: SkipReasonRecipientDeclined,
		},
		{
			name:   "voided document",
			in:     DueReminder{RoutingMode: RoutingModeParallel, DocumentStatus: DocumentStatusVoided, RecipientStatus: RecipientStatusSent},
			action: ActionSkip,
			reason: SkipReasonDocumentClosed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.in)
			if got.Action != tc.action || got.Reason != tc.reason {
				t.Fatalf("expected (%d, %q), got (%d, %q)", tc.action, tc.reason, got.Action, got.Reason)
			}
		})
	}
}
