package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/whisper/dm-server/internal/idgen"
	"github.com/whisper/dm-server/internal/model"
)

// ---------------------------------------------------------------------------
// Test: Authenticate parsing
// ---------------------------------------------------------------------------

func TestParseAuthenticate(t *testing.T) {
	token, err := ParseAuthenticate([]byte(`{"event":"Authenticate","token":"abc"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "abc" {
		t.Fatalf("expected token %q, got %q", "abc", token)
	}
}

func TestParseAuthenticate_Errors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  error
	}{
		{"not json", `hello`, ErrMalformed},
		{"array", `[1,2]`, ErrMalformed},
		{"missing token", `{"event":"Authenticate"}`, ErrMalformed},
		{"token not string", `{"event":"Authenticate","token":5}`, ErrMalformed},
		{"wrong event", `{"event":"ChatStartTyping","token":"abc"}`, ErrWrongAuthType},
		{"unknown event", `{"event":"Login","token":"abc"}`, ErrWrongAuthType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAuthenticate([]byte(tc.input))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Client events
// ---------------------------------------------------------------------------

func TestParseClientEvent_Typing(t *testing.T) {
	ev, err := ParseClientEvent([]byte(`{"event":"ChatStartTyping","data":"chat-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != EventChatStartTyping || ev.ChatID != "chat-1" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	ev, err = ParseClientEvent([]byte(`{"event":"ChatEndTyping","data":"chat-1"}`))
	if err != nil || ev.Kind != EventChatEndTyping {
		t.Fatalf("unexpected result: %+v, %v", ev, err)
	}
}

func TestParseClientEvent_Unknown(t *testing.T) {
	for _, input := range []string{
		`{"event":"Dance"}`,
		`{"event":"Ready","data":{}}`,
		`{}`,
	} {
		ev, err := ParseClientEvent([]byte(input))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", input, err)
		}
		if ev.Kind != EventUnknown {
			t.Errorf("%s: expected unknown, got %v", input, ev.Kind)
		}
	}
}

func TestParseClientEvent_Malformed(t *testing.T) {
	for _, input := range []string{
		`{not json`,
		`{"event":"ChatStartTyping"}`,
		`{"event":"ChatStartTyping","data":42}`,
		`{"event":"ChatEndTyping","data":""}`,
	} {
		if _, err := ParseClientEvent([]byte(input)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", input, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Server events
// ---------------------------------------------------------------------------

func TestAuthError_Shape(t *testing.T) {
	var got struct {
		Event string `json:"event"`
		Data  struct {
			Msg string `json:"msg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(AuthError(ReasonInvalidToken), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Event != "Error" || got.Data.Msg != "Invalid token." {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestInbandError_Shape(t *testing.T) {
	want := `{"event":"Error","data":"Unknown event."}`
	if got := string(InbandError(InbandUnknownEvent)); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestTyping_Shape(t *testing.T) {
	want := `{"event":"ChatStartTyping","data":{"chatId":"c1","userId":"u1"}}`
	if got := string(Typing(EventChatStartTyping, "c1", "u1")); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestNewMessage_CarriesTimestampAndAck(t *testing.T) {
	m := model.Message{ID: idgen.New(), ChatID: "c1", AuthorID: "u1", Content: "hi"}

	var got struct {
		Event string      `json:"event"`
		Data  MessageData `json:"data"`
	}
	if err := json.Unmarshal(NewMessage(m, "ack-1"), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Event != "ChatNewMessage" {
		t.Fatalf("event = %q", got.Event)
	}
	if got.Data.ID != m.ID || got.Data.AckID != "ack-1" || got.Data.Content != "hi" {
		t.Fatalf("unexpected data: %+v", got.Data)
	}
	if got.Data.Timestamp != m.Timestamp().UnixMilli() || got.Data.Timestamp == 0 {
		t.Fatalf("timestamp = %d", got.Data.Timestamp)
	}

	// ackId is omitted for recipients.
	var raw map[string]map[string]any
	_ = json.Unmarshal(NewMessage(m, ""), &raw)
	if _, ok := raw["data"]["ackId"]; ok {
		t.Fatal("ackId should be omitted when empty")
	}
}

func TestUserUpdate_Shape(t *testing.T) {
	rel := model.RelationNone
	want := `{"event":"UserUpdate","data":{"user":{"id":"u1","relationship":"None"}}}`
	if got := string(UserUpdate(UserPatch{ID: "u1", Relationship: &rel})); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	online := false
	seen := int64(1700000000)
	want = `{"event":"UserUpdate","data":{"user":{"id":"u1","online":false,"lastSeen":1700000000}}}`
	if got := string(UserUpdate(UserPatch{ID: "u1", Online: &online, LastSeen: &seen})); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestEventKind_RoundTrip(t *testing.T) {
	for k, name := range eventNames {
		if KindOf(name) != k || k.String() != name {
			t.Errorf("kind %d does not round trip through %q", k, name)
		}
	}
	if KindOf("nope") != EventUnknown {
		t.Error("unknown names must map to EventUnknown")
	}
}
