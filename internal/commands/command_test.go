package commands

import (
	"context"
	"errors"
	"testing"
)

type recordingPort struct {
	calls []string
	err   error
}

func (p *recordingPort) record(name string) error {
	p.calls = append(p.calls, name)
	return p.err
}

func (p *recordingPort) Start(ctx context.Context, cmd Start) error { return p.record("start") }
func (p *recordingPort) Stop(ctx context.Context, cmd Stop) error   { return p.record("stop") }
func (p *recordingPort) SendMessage(ctx context.Context, cmd SendMessage) error {
	return p.record("sendMessage")
}
func (p *recordingPort) ReadMessages(ctx context.Context, cmd ReadMessages) error {
	return p.record("readMessages")
}
func (p *recordingPort) EditMessage(ctx context.Context, cmd EditMessage) error {
	return p.record("editMessage")
}
func (p *recordingPort) DeleteMessage(ctx context.Context, cmd DeleteMessage) error {
	return p.record("deleteMessage")
}
func (p *recordingPort) ReactMessage(ctx context.Context, cmd ReactMessage) error {
	return p.record("reactMessage")
}
func (p *recordingPort) Delete(ctx context.Context, cmd Delete) error { return p.record("delete") }

func sampleCommands() []Command {
	return []Command{
		Start{SessionID: "s1"},
		Stop{SessionID: "s1", Logout: true},
		SendMessage{SessionID: "s1", To: "15550001@c.us", Content: "hello"},
		ReadMessages{SessionID: "s1", ChatID: "15550001@c.us", MessageIDs: []string{"m1", "m2"}},
		EditMessage{SessionID: "s1", ChatID: "15550001@c.us", MessageID: "m1", Content: "edited"},
		DeleteMessage{SessionID: "s1", ChatID: "15550001@c.us", MessageID: "m1", ForEveryone: true},
		ReactMessage{SessionID: "s1", ChatID: "15550001@c.us", MessageID: "m1", Emoji: "👍"},
		Delete{SessionID: "s1"},
	}
}

func TestEncodeParseEveryVariant(t *testing.T) {
	cmds := sampleCommands()
	if len(cmds) != len(Types()) {
		t.Fatalf("expected a sample for each of %d types", len(Types()))
	}
	for _, cmd := range cmds {
		payload, err := Encode(cmd)
		if err != nil {
			t.Fatalf("encode %s: %v", cmd.CommandType(), err)
		}
		parsed, err := Parse(string(payload))
		if err != nil {
			t.Fatalf("parse %s: %v", cmd.CommandType(), err)
		}
		if parsed.CommandType() != cmd.CommandType() || parsed.Session() != "s1" {
			t.Fatalf("round trip changed %s into %s", cmd.CommandType(), parsed.CommandType())
		}
	}

	parsed, _ := Parse(`{"type":"session.readMessages","sessionId":"s1","chatId":"c","messageIds":["a","b"]}`)
	if read := parsed.(ReadMessages); len(read.MessageIDs) != 2 {
		t.Fatalf("expected message ids decoded, got %+v", read)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":              "",
		"invalid json":       "{",
		"missing type":       `{"sessionId":"s1"}`,
		"missing session":    `{"type":"session.start"}`,
		"send without body":  `{"type":"session.sendMessage","sessionId":"s1","to":"x"}`,
		"read without ids":   `{"type":"session.readMessages","sessionId":"s1","chatId":"c","messageIds":[]}`,
		"react without id":   `{"type":"session.reactMessage","sessionId":"s1","chatId":"c"}`,
		"media with bad url": `{"type":"session.sendMessage","sessionId":"s1","to":"x","media":{"url":"nope"}}`,
	}
	for name, payload := range cases {
		if _, err := Parse(payload); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse(`{"type":"session.teleport","sessionId":"s1"}`)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if errors.Is(err, ErrMalformed) {
		t.Fatalf("unknown type must not be treated as malformed")
	}
}

func TestParseSendMessageWithMediaOnly(t *testing.T) {
	cmd, err := Parse(`{"type":"session.sendMessage","sessionId":"s1","to":"x","media":{"url":"https://cdn.example.com/a.jpg","mimeType":"image/jpeg"}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	send := cmd.(SendMessage)
	if send.Media == nil || send.Media.MimeType != "image/jpeg" {
		t.Fatalf("expected media decoded, got %+v", send)
	}
}

func TestExecuteDispatchesEveryVariant(t *testing.T) {
	port := &recordingPort{}
	for _, cmd := range sampleCommands() {
		if err := Execute(context.Background(), port, cmd); err != nil {
			t.Fatalf("execute %s: %v", cmd.CommandType(), err)
		}
	}
	want := []string{"start", "stop", "sendMessage", "readMessages", "editMessage", "deleteMessage", "reactMessage", "delete"}
	if len(port.calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), port.calls)
	}
	for i := range want {
		if port.calls[i] != want[i] {
			t.Fatalf("call %d: expected %s, got %s", i, want[i], port.calls[i])
		}
	}
}

func TestExecutePropagatesPortError(t *testing.T) {
	boom := errors.New("provider offline")
	if err := Execute(context.Background(), &recordingPort{err: boom}, Start{SessionID: "s1"}); !errors.Is(err, boom) {
		t.Fatalf("expected port error, got %v", err)
	}
}
