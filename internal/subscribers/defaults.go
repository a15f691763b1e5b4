package subscribers

import "gorm.io/gorm"

// Defaults wires the projections, plus AutoStart when enq is set.
func Defaults(db *gorm.DB, enq Enqueuer) []Subscription {
	subs := append(NewSessionStatusProjection(db).Subscriptions(), NewMessageProjection(db).Subscriptions()...)
	if enq != nil {
		subs = append(subs, NewAutoStart(enq).Subscriptions()...)
	}
	return subs
}
