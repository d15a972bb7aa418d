package checkout

const (
	TopicPurchaseCompleted  = "checkout.purchase.completed"
	TopicPurchaseFailed     = "checkout.purchase.failed"
	TopicCheckoutCompleted  = "checkout.cart.completed"
	TopicReservationExpired = "checkout.reservation.expired"
	TopicCartExpired        = "checkout.cart.expired"
	TopicStockChanged       = "catalog.stock.changed"
)

// Partition key = item or cart id, so events for one aggregate stay ordered.
func PartitionKey(id string) []byte { return []byte(id) }
