package taskname

const (
	// Notification tasks
	LoyaltyNotifyLevelUp           = "loyalty:notify:level_up"
	LoyaltyNotifyRedemptionCreated = "loyalty:notify:redemption_created"
)
