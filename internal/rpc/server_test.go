package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/imrpcd/imrpcd/internal/chatcache"
	"github.com/imrpcd/imrpcd/internal/contacts"
	"github.com/imrpcd/imrpcd/internal/model"
	"github.com/imrpcd/imrpcd/internal/outbound"
	"github.com/imrpcd/imrpcd/internal/watcher"
)

func testDeps(fs *fakeStore, cfg watcher.Config) Deps {
	return Deps{
		Store:    fs,
		Cache:    chatcache.New(fs),
		Watcher:  watcher.New(fs, cfg),
		Sender:   outbound.NewMock(),
		Contacts: contacts.NewMock(),
	}
}

func readFrames(t *testing.T, raw []byte) []response {
	t.Helper()
	var out []response
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r response
		if err := json.Unmarshal(line, &r); err != nil {
			t.Fatalf("unmarshal frame %q: %v", line, err)
		}
		out = append(out, r)
	}
	return out
}

func TestServe_BadLineThenGoodLine(t *testing.T) {
	fs := newFakeStore()
	fs.addChat(model.Chat{ID: 1, Identifier: "+123"}, nil)

	input := "not json\n" + `{"id":"9","method":"chats.list"}` + "\n"
	var out bytes.Buffer

	if err := Serve(context.Background(), strings.NewReader(input), &out, testDeps(fs, watcher.DefaultConfig())); err != nil {
		t.Fatalf("serve: %v", err)
	}

	frames := readFrames(t, out.Bytes())
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %s", len(frames), out.String())
	}
	if frames[0].Error == nil || frames[0].Error.Code != codeParseError || string(frames[0].ID) != "null" {
		t.Fatalf("expected parse error with id null first, got %+v", frames[0])
	}
	if frames[1].Error != nil || string(frames[1].ID) != `"9"` {
		t.Fatalf("expected a valid chats.list result with id \"9\" second, got %+v", frames[1])
	}
}

func TestServe_EOFReturnsCleanly(t *testing.T) {
	fs := newFakeStore()
	if err := Serve(context.Background(), strings.NewReader(""), &bytes.Buffer{}, testDeps(fs, watcher.DefaultConfig())); err != nil {
		t.Fatalf("expected clean return on EOF, got %v", err)
	}
}

// scanLines reads newline-delimited frames off conn and sends each decoded
// response on the returned channel until conn is closed.
func scanLines(conn net.Conn) <-chan response {
	lines := make(chan response, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var r response
			if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
				continue
			}
			lines <- r
		}
	}()
	return lines
}

func awaitFrame(t *testing.T, lines <-chan response, match func(response) bool, timeout time.Duration) response {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case r, ok := <-lines:
			if !ok {
				t.Fatal("connection closed before expected frame arrived")
			}
			if match(r) {
				return r
			}
		case <-deadline:
			t.Fatal("timed out waiting for expected frame")
		}
	}
}

func TestServe_SubscribeUnsubscribeResubscribe(t *testing.T) {
	fs := newFakeStore()
	fs.addChat(model.Chat{ID: 1, Identifier: "+123"}, []string{"+123"})
	fs.maxRowID = 5
	fs.afterQueue = [][]model.Message{
		{{ID: 6, ChatID: 1, GUID: "g6", Sender: "+123", CreatedAt: time.Now()}},
	}

	client, server := net.Pipe()
	defer client.Close()

	deps := testDeps(fs, watcher.Config{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, BatchSize: 10})
	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), server, server, deps) }()

	lines := scanLines(client)

	writeLine(t, client, `{"id":"1","method":"watch.subscribe","params":{"chat_id":1}}`)
	subResp := awaitFrame(t, lines, func(r response) bool { return string(r.ID) == `"1"` }, time.Second)
	var subOut struct {
		Subscription int64 `json:"subscription"`
	}
	decodeResult(t, &subResp, &subOut)
	if subOut.Subscription != 1 {
		t.Fatalf("expected first subscription id 1, got %d", subOut.Subscription)
	}

	msgFrame := awaitFrame(t, lines, func(r response) bool { return r.Method == "message" }, time.Second)
	var msgOut struct {
		Subscription int64       `json:"subscription"`
		Message      wireMessage `json:"message"`
	}
	if err := json.Unmarshal(mustMarshal(t, msgFrame.Params), &msgOut); err != nil {
		t.Fatalf("unmarshal message notification: %v", err)
	}
	if msgOut.Subscription != subOut.Subscription || msgOut.Message.ID != 6 {
		t.Fatalf("unexpected message notification: %+v", msgOut)
	}

	writeLine(t, client, `{"id":"2","method":"watch.unsubscribe","params":{"subscription":1}}`)
	awaitFrame(t, lines, func(r response) bool { return string(r.ID) == `"2"` }, time.Second)

	writeLine(t, client, `{"id":"3","method":"watch.subscribe","params":{"chat_id":1}}`)
	resubResp := awaitFrame(t, lines, func(r response) bool { return string(r.ID) == `"3"` }, time.Second)
	var resubOut struct {
		Subscription int64 `json:"subscription"`
	}
	decodeResult(t, &resubResp, &resubOut)
	if resubOut.Subscription <= subOut.Subscription {
		t.Fatalf("expected second subscription id greater than %d, got %d", subOut.Subscription, resubOut.Subscription)
	}

	client.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("serve did not return after client close")
	}
}

func writeLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write line: %v", err)
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	encoded, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return encoded
}
