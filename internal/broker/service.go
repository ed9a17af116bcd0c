// Package broker implements the authenticated operations against the
// Artemis management interface: version lookup and queue browsing, plus
// the optional capture and body-decoding hooks.
package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/epalmerini/keyhole/internal/capture"
	"github.com/epalmerini/keyhole/internal/jolokia"
	"github.com/epalmerini/keyhole/internal/proto"
	"github.com/epalmerini/keyhole/internal/session"
)

// VersionRequest builds the broker version read used both by GetVersion
// and as the login probe.
func VersionRequest(brokerName string) jolokia.Request {
	return jolokia.NewRequest(BrokerMBean(brokerName), jolokia.KindRead,
		jolokia.Param{Name: "attribute", Value: "Version"})
}

// BrowseRequest builds the browse() exec call for a queue.
func BrowseRequest(brokerName, queueName, routingType string) jolokia.Request {
	return jolokia.NewRequest(QueueMBean(brokerName, queueName, routingType), jolokia.KindExec,
		jolokia.Param{Name: "operation", Value: "browse()"})
}

// Message is the read-only projection of one browsed message. Fields the
// bridge leaves out default to zero values rather than failing the browse.
type Message struct {
	ID             string         `json:"id"`
	Body           string         `json:"body,omitempty"`
	DecodedBody    map[string]any `json:"decoded_body,omitempty"`
	Priority       int64          `json:"priority"`
	Timestamp      int64          `json:"timestamp"`
	Redelivered    bool           `json:"redelivered"`
	Durable        bool           `json:"durable"`
	Protocol       string         `json:"protocol,omitempty"`
	PersistentSize int64          `json:"persistent_size"`
}

// BrowseResult is the outcome of one queue browse, in bridge order.
type BrowseResult struct {
	Queue        string    `json:"queue"`
	RoutingType  string    `json:"routing_type"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages"`
}

// Service composes the session store and the bridge client into the
// authenticated tool operations.
type Service struct {
	client     *jolokia.Client
	sessions   *session.Store
	brokerName string
	decoder    *proto.Decoder
	writer     *capture.AsyncWriter
	log        zerolog.Logger
}

// NewService creates a service for the named broker.
func NewService(client *jolokia.Client, sessions *session.Store, brokerName string, log zerolog.Logger) *Service {
	return &Service{
		client:     client,
		sessions:   sessions,
		brokerName: brokerName,
		log:        log,
	}
}

// WithDecoder attaches a protobuf body decoder for binary message bodies.
func (s *Service) WithDecoder(d *proto.Decoder) *Service {
	s.decoder = d
	return s
}

// WithCapture attaches an async capture writer; every successful browse
// is recorded through it.
func (s *Service) WithCapture(w *capture.AsyncWriter) *Service {
	s.writer = w
	return s
}

// Sessions returns the session store the service was built with.
func (s *Service) Sessions() *session.Store {
	return s.sessions
}

// GetVersion reads the broker's Version attribute using the stored
// credentials. Requires an authenticated session.
func (s *Service) GetVersion(ctx context.Context) (string, *jolokia.Error) {
	creds, ok := s.sessions.Current()
	if !ok {
		return "", jolokia.Errorf(jolokia.KindNotAuthenticated, "not authenticated, login first")
	}

	resp := s.client.Call(ctx, creds, VersionRequest(s.brokerName))
	if err := resp.Err(); err != nil {
		return "", err
	}
	if resp.Value == nil {
		return "Unknown", nil
	}
	return fmt.Sprint(resp.Value), nil
}

// BrowseQueue executes browse() on the queue and projects the returned
// records. A non-empty messageType forces binary bodies to decode as that
// protobuf type instead of inferring one from the queue name. Parameters
// are validated before any network call.
func (s *Service) BrowseQueue(ctx context.Context, queueName, routingType, messageType string) (*BrowseResult, *jolokia.Error) {
	if routingType == "" {
		routingType = RoutingAnycast
	}
	if !ValidRoutingType(routingType) {
		return nil, jolokia.Errorf(jolokia.KindInvalidParameter,
			"unsupported routing type %q (want %s or %s)", routingType, RoutingAnycast, RoutingMulticast)
	}
	if messageType != "" {
		if s.decoder == nil {
			return nil, jolokia.Errorf(jolokia.KindInvalidParameter,
				"message type %q requested but no proto schema directory is configured", messageType)
		}
		if !s.decoder.HasType(messageType) {
			return nil, jolokia.Errorf(jolokia.KindInvalidParameter,
				"unknown message type %q", messageType)
		}
	}

	creds, ok := s.sessions.Current()
	if !ok {
		return nil, jolokia.Errorf(jolokia.KindNotAuthenticated, "not authenticated, login first")
	}

	resp := s.client.Call(ctx, creds, BrowseRequest(s.brokerName, queueName, routingType))
	if err := resp.Err(); err != nil {
		return nil, err
	}

	rows, ok := resp.Value.([]any)
	if !ok {
		return nil, jolokia.Errorf(jolokia.KindBridgeReportedFailure,
			"unexpected browse payload: want an array of messages, got %T", resp.Value)
	}

	result := &BrowseResult{
		Queue:        queueName,
		RoutingType:  routingType,
		MessageCount: len(rows),
		Messages:     make([]Message, 0, len(rows)),
	}
	for _, row := range rows {
		result.Messages = append(result.Messages, s.projectMessage(row, queueName, messageType))
	}

	s.capture(result)
	return result, nil
}

// projectMessage maps one bridge record onto the Message projection.
// Unknown shapes and missing fields degrade to zero values.
func (s *Service) projectMessage(row any, queueName, messageType string) Message {
	fields, ok := row.(map[string]any)
	if !ok {
		return Message{}
	}

	msg := Message{
		ID:             asString(fields["messageID"]),
		Priority:       asInt64(fields["priority"]),
		Timestamp:      asInt64(fields["timestamp"]),
		Redelivered:    asBool(fields["redelivered"]),
		Durable:        asBool(fields["durable"]),
		Protocol:       asString(fields["protocol"]),
		PersistentSize: asInt64(fields["persistentSize"]),
	}

	if text, ok := fields["text"].(string); ok {
		msg.Body = text
	} else if raw := asBytes(fields["bytes"]); len(raw) > 0 {
		if s.decoder != nil {
			var decoded map[string]any
			var err error
			if messageType != "" {
				decoded, err = s.decoder.DecodeAs(raw, messageType)
			} else {
				decoded, err = s.decoder.DecodeWithHint(raw, queueName)
			}
			if err == nil {
				msg.DecodedBody = decoded
			}
		}
		if isPrintable(raw) {
			msg.Body = string(raw)
		} else {
			msg.Body = fmt.Sprintf("0x%x", raw)
		}
	}
	return msg
}

// capture queues the result for persistence; a full buffer drops it.
func (s *Service) capture(result *BrowseResult) {
	if s.writer == nil {
		return
	}
	snap := &capture.BrowseSnapshot{
		Queue:       result.Queue,
		RoutingType: result.RoutingType,
		Broker:      s.brokerName,
		Messages:    make([]capture.MessageRecord, 0, len(result.Messages)),
	}
	for _, m := range result.Messages {
		rec := capture.MessageRecord{
			MessageID:      m.ID,
			Body:           m.Body,
			Priority:       m.Priority,
			TimestampMS:    m.Timestamp,
			Redelivered:    m.Redelivered,
			Durable:        m.Durable,
			Protocol:       m.Protocol,
			PersistentSize: m.PersistentSize,
		}
		if m.DecodedBody != nil {
			if data, err := json.Marshal(m.DecodedBody); err == nil {
				rec.DecodedBody = string(data)
			}
		}
		snap.Messages = append(snap.Messages, rec)
	}
	if !s.writer.Save(snap) {
		s.log.Warn().Str("queue", result.Queue).Msg("capture buffer full, snapshot dropped")
	}
}

const (
	defaultBrowseListLimit  = 20
	defaultMessageListLimit = 50
)

var (
	errCaptureDisabled = errors.New("capture is not enabled")
	errNoDecoder       = errors.New("no proto schema directory is configured")
)

// CapturedBrowse is one recorded browse_queue snapshot, rendered for the
// tool surface.
type CapturedBrowse struct {
	ID           int64     `json:"id"`
	Queue        string    `json:"queue"`
	RoutingType  string    `json:"routing_type"`
	MessageCount int64     `json:"message_count"`
	Broker       string    `json:"broker,omitempty"`
	BrowsedAt    time.Time `json:"browsed_at"`
}

// CapturedMessage is one stored message from a recorded browse.
type CapturedMessage struct {
	ID             int64          `json:"id"`
	BrowseID       int64          `json:"browse_id"`
	MessageID      string         `json:"message_id,omitempty"`
	Body           string         `json:"body,omitempty"`
	DecodedBody    map[string]any `json:"decoded_body,omitempty"`
	Priority       int64          `json:"priority"`
	Timestamp      int64          `json:"timestamp"`
	Redelivered    bool           `json:"redelivered"`
	Durable        bool           `json:"durable"`
	Protocol       string         `json:"protocol,omitempty"`
	PersistentSize int64          `json:"persistent_size"`
	CapturedAt     time.Time      `json:"captured_at"`
}

func (s *Service) captureStore() (capture.Store, error) {
	if s.writer == nil {
		return nil, errCaptureDisabled
	}
	return s.writer.Store(), nil
}

// ListBrowses returns recorded browse snapshots, newest first.
func (s *Service) ListBrowses(ctx context.Context, limit int64) ([]CapturedBrowse, error) {
	store, err := s.captureStore()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultBrowseListLimit
	}
	browses, err := store.ListRecentBrowses(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]CapturedBrowse, 0, len(browses))
	for _, b := range browses {
		out = append(out, capturedBrowse(b))
	}
	return out, nil
}

// ListCapturedMessages returns the messages of one recorded browse in
// capture order.
func (s *Service) ListCapturedMessages(ctx context.Context, browseID, limit, offset int64) ([]CapturedMessage, error) {
	store, err := s.captureStore()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessageListLimit
	}
	if offset < 0 {
		offset = 0
	}
	msgs, err := store.ListMessagesByBrowse(ctx, browseID, limit, offset)
	if err != nil {
		return nil, err
	}
	return capturedMessages(msgs), nil
}

// GetCapturedMessage fetches one stored message by its row ID.
func (s *Service) GetCapturedMessage(ctx context.Context, id int64) (*CapturedMessage, error) {
	store, err := s.captureStore()
	if err != nil {
		return nil, err
	}
	m, err := store.GetMessage(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no captured message with id %d", id)
	}
	if err != nil {
		return nil, err
	}
	out := capturedMessage(*m)
	return &out, nil
}

// SearchCapturedMessages runs a full-text query over captured bodies.
func (s *Service) SearchCapturedMessages(ctx context.Context, query string, limit, offset int64) ([]CapturedMessage, error) {
	store, err := s.captureStore()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessageListLimit
	}
	if offset < 0 {
		offset = 0
	}
	msgs, err := store.SearchMessages(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	return capturedMessages(msgs), nil
}

// ProtoTypes lists the protobuf message types known to the decoder, sorted.
func (s *Service) ProtoTypes() ([]string, error) {
	if s.decoder == nil {
		return nil, errNoDecoder
	}
	types := s.decoder.ListTypes()
	sort.Strings(types)
	return types, nil
}

func capturedBrowse(b capture.Browse) CapturedBrowse {
	return CapturedBrowse{
		ID:           b.ID,
		Queue:        b.Queue,
		RoutingType:  b.RoutingType,
		MessageCount: b.MessageCount,
		Broker:       b.Broker.String,
		BrowsedAt:    b.BrowsedAt,
	}
}

func capturedMessage(m capture.Message) CapturedMessage {
	out := CapturedMessage{
		ID:             m.ID,
		BrowseID:       m.BrowseID,
		MessageID:      m.MessageID.String,
		Body:           m.Body.String,
		Priority:       m.Priority,
		Timestamp:      m.TimestampMS,
		Redelivered:    m.Redelivered,
		Durable:        m.Durable,
		Protocol:       m.Protocol.String,
		PersistentSize: m.PersistentSize,
		CapturedAt:     m.CapturedAt,
	}
	if m.DecodedBody.Valid {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(m.DecodedBody.String), &decoded); err == nil {
			out.DecodedBody = decoded
		}
	}
	return out
}

func capturedMessages(msgs []capture.Message) []CapturedMessage {
	out := make([]CapturedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, capturedMessage(m))
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers for IDs are integral
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

func asInt64(v any) int64 {
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int64(f)
}

func asBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// asBytes converts the bridge's representation of a bytes body (a JSON
// array of numbers) back into raw bytes.
func asBytes(v any) []byte {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]byte, 0, len(arr))
	for _, e := range arr {
		f, ok := e.(float64)
		if !ok {
			return nil
		}
		out = append(out, byte(int64(f)))
	}
	return out
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			return false
		}
	}
	return true
}
