package rediskey

import "fmt"

const (
	AccountLockPrefix = "loyalty:lock:account"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildAccountLockKey returns "loyalty:lock:account:{userID}"
func BuildAccountLockKey(userID string) string {
	return NamespaceKey(AccountLockPrefix, userID)
}
