package service

// Fast store key namespaces. The three prefixes never overlap.
const (
	stockKeyPrefix        = "stock:"
	seckillStockKeyPrefix = "seckill_stock:"
	lockKeyPrefix         = "lock:"
)

func stockKey(productID string) string {
	return stockKeyPrefix + productID
}

func seckillStockKey(campaignID, productID string) string {
	return seckillStockKeyPrefix + campaignID + "_" + productID
}

// stockLockResource is the lease resource serializing reservations of one product.
func stockLockResource(productID string) string {
	return stockKeyPrefix + productID
}

func lockKey(resource string) string {
	return lockKeyPrefix + resource
}
