package domain

// DeliveryOutcome is the result of offering one payload to one consumer.
type DeliveryOutcome string

const (
	DeliverySent          DeliveryOutcome = "sent"
	DeliverySkippedClosed DeliveryOutcome = "skipped_closed"
	DeliverySkippedFull   DeliveryOutcome = "skipped_full"
)

// PayloadResult labels what happened to one inbound producer message.
type PayloadResult string

const (
	PayloadRelayed      PayloadResult = "relayed"
	PayloadNoConsumers  PayloadResult = "no_consumers"
	PayloadUndelivered  PayloadResult = "undelivered"
	PayloadMalformed    PayloadResult = "malformed"
	PayloadRateLimited  PayloadResult = "rate_limited"
	PayloadRelayStopped PayloadResult = "relay_stopped"
)

// DispatchResult summarises one fan-out.
type DispatchResult struct {
	// Consumers is the registry size at the time of the snapshot.
	Consumers     int
	Delivered     int
	SkippedClosed int
	SkippedFull   int
}

// NoConsumers reports whether the payload had nowhere to go.
func (r DispatchResult) NoConsumers() bool {
	return r.Consumers == 0
}
