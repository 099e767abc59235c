package obloq

import (
	"fmt"
	"strconv"
	"strings"
)

// Adafruit IO endpoint the module firmware connects to.
const (
	// DefaultHost is the cloud broker host passed in broker connect frames.
	DefaultHost = "io.adafruit.com"

	// DefaultPort is the plain MQTT port of the cloud broker.
	DefaultPort = 1883
)

// Protocol tokens.
const (
	frameDelimiter = "|"

	groupWifi = "2"
	groupMQTT = "4"

	wifiConnect = "1"
	mqttChannel = "1"

	cmdConnect     = "1"
	cmdSubscribe   = "2"
	cmdPublish     = "3"
	cmdDisconnect  = "4"
	cmdMessage     = "5"
	resultSuccess  = "1"
	topicSeparator = "/f/"

	// redacted replaces secrets when frames are logged or journaled.
	redacted = "****"
)

// brokerConnectSuccess is the substring the module sends when the broker
// accepted the connection.
const brokerConnectSuccess = "|4|1|1|1|"

// Substrings that mark a line as module status traffic wherever they occur.
const (
	statusMarkerMQTT = "|4|1|"
	statusMarkerWifi = "|2|"
)

// Frame is one protocol line without its CR terminator.
type Frame string

// String returns the frame text.
func (f Frame) String() string {
	return string(f)
}

// Topic builds the Adafruit IO topic for a feed: "{user}/f/{feed}".
func Topic(user, feed string) string {
	return user + topicSeparator + feed
}

// EncodeWifiConnect builds the Wi-Fi association command.
func EncodeWifiConnect(ssid, password string) Frame {
	return Frame(fmt.Sprintf("|%s|%s|%s,%s|", groupWifi, wifiConnect, ssid, password))
}

// EncodeBrokerConnect builds the broker connect command.
//
// Host and port are parameters even though the module only ever talks to
// the Adafruit IO endpoint; see DefaultHost and DefaultPort.
func EncodeBrokerConnect(host string, port int, user, key string) Frame {
	return Frame(fmt.Sprintf("|%s|%s|%s|%s|%d|%s|%s|",
		groupMQTT, mqttChannel, cmdConnect, host, port, user, key))
}

// EncodeSubscribe builds the subscribe command for a topic.
func EncodeSubscribe(topic string) Frame {
	return Frame(fmt.Sprintf("|%s|%s|%s|%s|", groupMQTT, mqttChannel, cmdSubscribe, topic))
}

// EncodePublish builds the publish command for a topic.
//
// The message is rendered with FormatMessage. Neither topic nor message is
// escaped: an embedded "|" produces a frame the module will misparse.
func EncodePublish(topic string, message any) Frame {
	return Frame(fmt.Sprintf("|%s|%s|%s|%s|%s|",
		groupMQTT, mqttChannel, cmdPublish, topic, FormatMessage(message)))
}

// EncodeDisconnect builds the broker disconnect command.
func EncodeDisconnect() Frame {
	return Frame(fmt.Sprintf("|%s|%s|%s|", groupMQTT, mqttChannel, cmdDisconnect))
}

// ValidateField reports whether a topic, feed or message can be placed in a
// frame unchanged. The protocol has no escaping, so "|" and line terminators
// are refused.
func ValidateField(value string) error {
	if strings.ContainsAny(value, frameDelimiter+"\r\n") {
		return fmt.Errorf("%w: %q contains a frame delimiter", ErrInvalidMessage, value)
	}
	return nil
}

// FormatMessage renders a publish payload. Strings pass through unchanged
// and numbers are written in plain decimal (no exponent).
func FormatMessage(message any) string {
	switch v := message.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// LineKind classifies an inbound line.
type LineKind int

const (
	// KindPayload is application data for a subscriber.
	KindPayload LineKind = iota

	// KindStatus is protocol control traffic: acknowledgements, echoes and
	// Wi-Fi progress reports.
	KindStatus
)

// String returns the lowercase kind name used in logs and the journal.
func (k LineKind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// Line is a parsed inbound line.
type Line struct {
	// Raw is the line as received, without terminator.
	Raw string

	// Kind is the classification result.
	Kind LineKind

	// Codes holds the "|"-separated tokens of a status line,
	// e.g. ["4", "1", "1", "1"] for a broker connect success.
	Codes []string

	// Topic is set for payloads the module delivered in a topic-tagged
	// message frame (|4|1|5|{topic}|{message}|). Empty for bare payloads.
	Topic string

	// Text is the payload text. For bare payloads it equals Raw.
	Text string
}

// ParseLine tokenises an inbound line into a status line or a payload.
//
// The frame starts at the first "|"; bytes before it (serial noise) are
// ignored for classification but kept in Raw.
//
// Rules:
//   - Lines without "|" are bare payloads.
//   - "|4|1|5|{topic}|{message}|" is a payload tagged with its topic.
//   - Lines containing "|4|1|" or "|2|" anywhere are status traffic.
//   - A closed frame whose first token is a numeric group code is
//     status traffic from a group this driver does not use.
//   - Anything else is a payload.
func ParseLine(raw string) Line {
	raw = strings.TrimRight(raw, "\r\n")
	payload := Line{Raw: raw, Kind: KindPayload, Text: raw}

	start := strings.Index(raw, frameDelimiter)
	if start < 0 {
		return payload
	}
	frame := raw[start:]
	tokens := splitFrame(frame)

	if isMessageFrame(tokens) {
		return Line{
			Raw:   raw,
			Kind:  KindPayload,
			Topic: tokens[3],
			Text:  strings.Join(tokens[4:], frameDelimiter),
		}
	}

	status := Line{Raw: raw, Kind: KindStatus, Codes: tokens}

	switch {
	case strings.Contains(raw, statusMarkerMQTT), strings.Contains(raw, statusMarkerWifi):
		return status
	case len(tokens) > 0 && strings.HasSuffix(frame, frameDelimiter) && isGroupCode(tokens[0]):
		return status
	default:
		return payload
	}
}

// isMessageFrame reports whether tokens form a topic-tagged message frame.
func isMessageFrame(tokens []string) bool {
	return len(tokens) >= 5 &&
		tokens[0] == groupMQTT &&
		tokens[1] == mqttChannel &&
		tokens[2] == cmdMessage
}

// isGroupCode reports whether a token is a module command group number.
func isGroupCode(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// splitFrame strips the outer delimiters of a framed line and splits the
// remainder into tokens.
func splitFrame(raw string) []string {
	body := strings.TrimPrefix(raw, frameDelimiter)
	body = strings.TrimSuffix(body, frameDelimiter)
	if body == "" {
		return nil
	}
	return strings.Split(body, frameDelimiter)
}

// Classify reports whether a line is status traffic or a payload.
func Classify(line string) LineKind {
	return ParseLine(line).Kind
}

// IsBrokerConnectSuccess reports whether a line carries the broker connect
// success acknowledgement.
func IsBrokerConnectSuccess(line string) bool {
	return strings.Contains(line, brokerConnectSuccess)
}

// IsBrokerConnect reports whether the line belongs to the broker connect
// command group (a reply or an echo of |4|1|1|...).
func (l Line) IsBrokerConnect() bool {
	return l.Kind == KindStatus &&
		len(l.Codes) >= 3 &&
		l.Codes[0] == groupMQTT &&
		l.Codes[1] == mqttChannel &&
		l.Codes[2] == cmdConnect
}

// IsWifi reports whether the line is a Wi-Fi status report.
func (l Line) IsWifi() bool {
	return l.Kind == KindStatus && len(l.Codes) > 0 && l.Codes[0] == groupWifi
}

// Succeeded reports whether a status line ends with the module's generic
// success code, e.g. "|4|1|2|1|" for an accepted subscribe.
func (l Line) Succeeded() bool {
	return l.Kind == KindStatus && len(l.Codes) == 4 && l.Codes[3] == resultSuccess
}

// RedactFrame masks secrets in a frame so it can be logged or stored:
// the Wi-Fi password and the broker key.
func RedactFrame(frame string) string {
	if !strings.HasPrefix(frame, frameDelimiter) {
		return frame
	}
	tokens := splitFrame(frame)

	switch {
	case len(tokens) == 3 && tokens[0] == groupWifi && tokens[1] == wifiConnect:
		ssid, _, found := strings.Cut(tokens[2], ",")
		if !found {
			return frame
		}
		tokens[2] = ssid + "," + redacted
	case len(tokens) == 7 && tokens[0] == groupMQTT && tokens[1] == mqttChannel && tokens[2] == cmdConnect:
		tokens[6] = redacted
	default:
		return frame
	}

	return frameDelimiter + strings.Join(tokens, frameDelimiter) + frameDelimiter
}
