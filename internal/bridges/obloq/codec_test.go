package obloq

import (
	"errors"
	"reflect"
	"testing"
)

// =============================================================================
// Encoding
// =============================================================================

func TestTopic(t *testing.T) {
	if got := Topic("alice", "temperature"); got != "alice/f/temperature" {
		t.Errorf("Topic() = %q, want %q", got, "alice/f/temperature")
	}
}

func TestEncodeFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{
			name:  "wifi connect",
			frame: EncodeWifiConnect("home", "secret"),
			want:  "|2|1|home,secret|",
		},
		{
			name:  "broker connect",
			frame: EncodeBrokerConnect(DefaultHost, DefaultPort, "alice", "aio_key"),
			want:  "|4|1|1|io.adafruit.com|1883|alice|aio_key|",
		},
		{
			name:  "subscribe",
			frame: EncodeSubscribe("alice/f/temperature"),
			want:  "|4|1|2|alice/f/temperature|",
		},
		{
			name:  "publish string",
			frame: EncodePublish("alice/f/led", "on"),
			want:  "|4|1|3|alice/f/led|on|",
		},
		{
			name:  "publish float",
			frame: EncodePublish("alice/f/temperature", 21.5),
			want:  "|4|1|3|alice/f/temperature|21.5|",
		},
		{
			name:  "publish int",
			frame: EncodePublish("alice/f/count", 42),
			want:  "|4|1|3|alice/f/count|42|",
		},
		{
			name:  "disconnect",
			frame: EncodeDisconnect(),
			want:  "|4|1|4|",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.String(); got != tt.want {
				t.Errorf("frame = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "hello", "hello"},
		{"nil", nil, ""},
		{"bytes", []byte("raw"), "raw"},
		{"float no exponent", 1e21, "1000000000000000000000"},
		{"small float", 0.000001, "0.000001"},
		{"negative float", -3.25, "-3.25"},
		{"float32", float32(1.5), "1.5"},
		{"int64", int64(-7), "-7"},
		{"uint8", uint8(200), "200"},
		{"bool", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMessage(tt.in); got != tt.want {
				t.Errorf("FormatMessage(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateField(t *testing.T) {
	if err := ValidateField("21.5"); err != nil {
		t.Errorf("ValidateField(21.5) error = %v, want nil", err)
	}
	for _, bad := range []string{"a|b", "line\r", "line\n"} {
		if err := ValidateField(bad); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("ValidateField(%q) error = %v, want ErrInvalidMessage", bad, err)
		}
	}
}

// =============================================================================
// Parsing
// =============================================================================

func TestParseLine(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantKind  LineKind
		wantCodes []string
		wantTopic string
		wantText  string
	}{
		{
			name:     "bare payload",
			raw:      "19.2",
			wantKind: KindPayload,
			wantText: "19.2",
		},
		{
			name:     "bare payload with CRLF",
			raw:      "on\r\n",
			wantKind: KindPayload,
			wantText: "on",
		},
		{
			name:      "broker connect success",
			raw:       "|4|1|1|1|",
			wantKind:  KindStatus,
			wantCodes: []string{"4", "1", "1", "1"},
		},
		{
			name:      "subscribe ack",
			raw:       "|4|1|2|1|",
			wantKind:  KindStatus,
			wantCodes: []string{"4", "1", "2", "1"},
		},
		{
			name:      "wifi report",
			raw:       "|2|3|192.168.1.20|",
			wantKind:  KindStatus,
			wantCodes: []string{"2", "3", "192.168.1.20"},
		},
		{
			name:      "tagged payload",
			raw:       "|4|1|5|alice/f/temperature|19.2|",
			wantKind:  KindPayload,
			wantTopic: "alice/f/temperature",
			wantText:  "19.2",
		},
		{
			name:      "tagged payload keeps inner delimiters",
			raw:       "|4|1|5|alice/f/text|a|b|",
			wantKind:  KindPayload,
			wantTopic: "alice/f/text",
			wantText:  "a|b",
		},
		{
			name:     "other framed line is payload",
			raw:      "|hello|",
			wantKind: KindPayload,
			wantText: "|hello|",
		},
		{
			name:      "leading noise before ack",
			raw:       "\x00|4|1|1|1|",
			wantKind:  KindStatus,
			wantCodes: []string{"4", "1", "1", "1"},
		},
		{
			name:      "tagged payload after noise",
			raw:       "x|4|1|5|alice/f/led|on|",
			wantKind:  KindPayload,
			wantTopic: "alice/f/led",
			wantText:  "on",
		},
		{
			name:     "text with delimiter is payload",
			raw:      "temperature|22",
			wantKind: KindPayload,
			wantText: "temperature|22",
		},
		{
			name:     "empty line",
			raw:      "",
			wantKind: KindPayload,
			wantText: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := ParseLine(tt.raw)

			if line.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", line.Kind, tt.wantKind)
			}
			if tt.wantCodes != nil && !reflect.DeepEqual(line.Codes, tt.wantCodes) {
				t.Errorf("Codes = %v, want %v", line.Codes, tt.wantCodes)
			}
			if line.Topic != tt.wantTopic {
				t.Errorf("Topic = %q, want %q", line.Topic, tt.wantTopic)
			}
			if tt.wantKind == KindPayload && line.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", line.Text, tt.wantText)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want LineKind
	}{
		{"|4|1|3|1|", KindStatus},
		{"|1|2|3|", KindStatus},
		{"|4|2|1|", KindStatus},
		{"|9|", KindStatus},
		{"x|4|1|1|1|", KindStatus},
		{"\x00|4|1|1|1|", KindStatus},
		{"abc|2|def", KindStatus},
		{"|4|1|5|alice/f/led|on|", KindPayload},
		{"42", KindPayload},
		{"|hello|", KindPayload},
	}

	for _, tt := range tests {
		if got := Classify(tt.line); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestIsBrokerConnectSuccess(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"|4|1|1|1|", true},
		{"noise|4|1|1|1|", true},
		{"|4|1|1|2|", false},
		{"|4|1|2|1|", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsBrokerConnectSuccess(tt.line); got != tt.want {
			t.Errorf("IsBrokerConnectSuccess(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestLinePredicates(t *testing.T) {
	connect := ParseLine("|4|1|1|2|")
	if !connect.IsBrokerConnect() {
		t.Error("IsBrokerConnect() = false for |4|1|1|2|, want true")
	}
	if connect.Succeeded() {
		t.Error("Succeeded() = true for |4|1|1|2|, want false")
	}

	sub := ParseLine("|4|1|2|1|")
	if sub.IsBrokerConnect() {
		t.Error("IsBrokerConnect() = true for subscribe ack, want false")
	}
	if !sub.Succeeded() {
		t.Error("Succeeded() = false for |4|1|2|1|, want true")
	}

	wifi := ParseLine("|2|3|10.0.0.2|")
	if !wifi.IsWifi() {
		t.Error("IsWifi() = false for wifi report, want true")
	}
}

func TestRedactFrame(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "wifi password",
			in:   "|2|1|home,secret|",
			want: "|2|1|home,****|",
		},
		{
			name: "broker key",
			in:   "|4|1|1|io.adafruit.com|1883|alice|aio_key|",
			want: "|4|1|1|io.adafruit.com|1883|alice|****|",
		},
		{
			name: "subscribe untouched",
			in:   "|4|1|2|alice/f/temperature|",
			want: "|4|1|2|alice/f/temperature|",
		},
		{
			name: "payload untouched",
			in:   "19.2",
			want: "19.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactFrame(tt.in); got != tt.want {
				t.Errorf("RedactFrame() = %q, want %q", got, tt.want)
			}
		})
	}
}
