package events

// Topics published by the billing service.
const (
	TopicBillCreated         = "bill.created"
	TopicBillUpdated         = "bill.updated"
	TopicBillPaymentRecorded = "bill.payment_recorded"
	TopicBillPaid            = "bill.paid"
	TopicLedgerCreditFailed  = "ledger.credit_failed"
)

var knownTopics = map[string]struct{}{
	TopicBillCreated:         {},
	TopicBillUpdated:         {},
	TopicBillPaymentRecorded: {},
	TopicBillPaid:            {},
	TopicLedgerCreditFailed:  {},
}

// Known reports whether topic is one the service publishes.
func Known(topic string) bool {
	_, ok := knownTopics[topic]
	return ok
}
