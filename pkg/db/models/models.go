package models

// All lists every model owned by this service, in dependency order.
func All() []any {
	return []any{
		&OutboxMessage{},
		&DeadLetter{},
		&Session{},
		&SessionView{},
		&Message{},
	}
}
