package marketplace

const (
	TopicOrderCreated         = "marketplace.order.created"
	TopicPaymentStatusChanged = "marketplace.order.payment.status"
	TopicStockShortfall       = "marketplace.order.stock.shortfall"
	TopicOrderExpired         = "marketplace.order.expired"
)

// TopicFor maps an event type to its topic. Unknown types return "".
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventPaymentStatusChanged:
		return TopicPaymentStatusChanged
	case EventStockShortfall:
		return TopicStockShortfall
	case EventOrderExpired:
		return TopicOrderExpired
	}
	return ""
}

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
