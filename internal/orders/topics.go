package orders

const (
	TopicOrderPending       = "order.pending"
	TopicOrderPersistFailed = "order.persist_failed"
	TopicOrderPaid          = "order.paid"
	TopicUserRegistered     = "user.registered"
)

// Partition key = order_id, so all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
