package events

const (
	MessageReceivedName = "message.received"
	MessageSentName     = "message.sent"
)

// MessageReceived is an inbound WhatsApp message on a session.
type MessageReceived struct {
	Metadata
	MessageID string
	From      string
	Content   string
	MediaURL  string
}

func (MessageReceived) EventName() string { return MessageReceivedName }

func (e MessageReceived) ToPrimitives() map[string]any {
	return map[string]any{
		"messageId": e.MessageID,
		"from":      e.From,
		"content":   e.Content,
		"mediaUrl":  e.MediaURL,
	}
}

func messageReceivedFrom(meta Metadata, attrs map[string]any) (Event, error) {
	id, err := requiredString(attrs, "messageId")
	if err != nil {
		return nil, err
	}
	from, err := requiredString(attrs, "from")
	if err != nil {
		return nil, err
	}
	return MessageReceived{
		Metadata:  meta,
		MessageID: id,
		From:      from,
		Content:   optionalString(attrs, "content"),
		MediaURL:  optionalString(attrs, "mediaUrl"),
	}, nil
}

// MessageSent is an outbound message accepted by the provider.
type MessageSent struct {
	Metadata
	MessageID string
	To        string
	Content   string
}

func (MessageSent) EventName() string { return MessageSentName }

func (e MessageSent) ToPrimitives() map[string]any {
	return map[string]any{
		"messageId": e.MessageID,
		"to":        e.To,
		"content":   e.Content,
	}
}

func messageSentFrom(meta Metadata, attrs map[string]any) (Event, error) {
	id, err := requiredString(attrs, "messageId")
	if err != nil {
		return nil, err
	}
	to, err := requiredString(attrs, "to")
	if err != nil {
		return nil, err
	}
	return MessageSent{Metadata: meta, MessageID: id, To: to, Content: optionalString(attrs, "content")}, nil
}
