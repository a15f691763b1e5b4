package events

const (
	SessionCreatedName      = "session.created"
	SessionQRUpdatedName    = "session.qr_updated"
	SessionConnectedName    = "session.connected"
	SessionDisconnectedName = "session.disconnected"
	SessionDeletedName      = "session.deleted"
)

// SessionCreated is recorded when a tenant registers a new session.
type SessionCreated struct {
	Metadata
	TenantID string
	Name     string
}

func (SessionCreated) EventName() string { return SessionCreatedName }

func (e SessionCreated) ToPrimitives() map[string]any {
	return map[string]any{"tenantId": e.TenantID, "name": e.Name}
}

func sessionCreatedFrom(meta Metadata, attrs map[string]any) (Event, error) {
	tenant, err := requiredString(attrs, "tenantId")
	if err != nil {
		return nil, err
	}
	return SessionCreated{Metadata: meta, TenantID: tenant, Name: optionalString(attrs, "name")}, nil
}

// SessionQRUpdated carries a fresh pairing QR code.
type SessionQRUpdated struct {
	Metadata
	QR string
}

func (SessionQRUpdated) EventName() string { return SessionQRUpdatedName }

func (e SessionQRUpdated) ToPrimitives() map[string]any {
	return map[string]any{"qr": e.QR}
}

func sessionQRUpdatedFrom(meta Metadata, attrs map[string]any) (Event, error) {
	qr, err := requiredString(attrs, "qr")
	if err != nil {
		return nil, err
	}
	return SessionQRUpdated{Metadata: meta, QR: qr}, nil
}

// SessionConnected is recorded once pairing succeeds.
type SessionConnected struct {
	Metadata
	Phone string
}

func (SessionConnected) EventName() string { return SessionConnectedName }

func (e SessionConnected) ToPrimitives() map[string]any {
	return map[string]any{"phone": e.Phone}
}

func sessionConnectedFrom(meta Metadata, attrs map[string]any) (Event, error) {
	return SessionConnected{Metadata: meta, Phone: optionalString(attrs, "phone")}, nil
}

// SessionDisconnected is recorded when the provider drops the connection.
type SessionDisconnected struct {
	Metadata
	Reason string
}

func (SessionDisconnected) EventName() string { return SessionDisconnectedName }

func (e SessionDisconnected) ToPrimitives() map[string]any {
	return map[string]any{"reason": e.Reason}
}

func sessionDisconnectedFrom(meta Metadata, attrs map[string]any) (Event, error) {
	return SessionDisconnected{Metadata: meta, Reason: optionalString(attrs, "reason")}, nil
}

// SessionDeleted is terminal for the aggregate.
type SessionDeleted struct {
	Metadata
	TenantID string
}

func (SessionDeleted) EventName() string { return SessionDeletedName }

func (e SessionDeleted) ToPrimitives() map[string]any {
	return map[string]any{"tenantId": e.TenantID}
}

func sessionDeletedFrom(meta Metadata, attrs map[string]any) (Event, error) {
	return SessionDeleted{Metadata: meta, TenantID: optionalString(attrs, "tenantId")}, nil
}
