// Package proto decodes opaque protobuf message bodies pulled out of the
// broker without the sender's generated code: it parses a directory of
// .proto files once and picks the best-matching message type per body.
package proto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
)

// Decoder handles dynamic protobuf message decoding
type Decoder struct {
	messageTypes map[string]*desc.MessageDescriptor
	allMessages  []*desc.MessageDescriptor
	warnings     []string
}

// NewDecoder creates a decoder from a directory of .proto files.
// Files that fail to parse are skipped and recorded as warnings.
func NewDecoder(protoPath string) (*Decoder, error) {
	var protoFiles []string
	err := filepath.Walk(protoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".proto") {
			relPath, err := filepath.Rel(protoPath, path)
			if err != nil {
				relPath = path
			}
			protoFiles = append(protoFiles, relPath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk proto path: %w", err)
	}

	if len(protoFiles) == 0 {
		return nil, fmt.Errorf("no .proto files found in %s", protoPath)
	}

	parser := protoparse.Parser{
		ImportPaths:           []string{protoPath},
		IncludeSourceCodeInfo: true,
	}

	d := &Decoder{messageTypes: make(map[string]*desc.MessageDescriptor)}

	var fds []*desc.FileDescriptor
	for _, pf := range protoFiles {
		fd, err := parser.ParseFiles(pf)
		if err != nil {
			d.warnings = append(d.warnings, fmt.Sprintf("%s: %v", pf, err))
			continue
		}
		fds = append(fds, fd...)
	}

	for _, fd := range fds {
		for _, md := range fd.GetMessageTypes() {
			d.messageTypes[md.GetName()] = md
			d.messageTypes[md.GetFullyQualifiedName()] = md
			d.allMessages = append(d.allMessages, md)
		}
	}

	return d, nil
}

// Warnings returns per-file parse problems collected by NewDecoder.
func (d *Decoder) Warnings() []string {
	return d.warnings
}

// DecodeWithHint decodes using a queue-name hint to pick the right message type
func (d *Decoder) DecodeWithHint(data []byte, queueName string) (map[string]any, error) {
	if d == nil || len(d.allMessages) == 0 {
		return nil, fmt.Errorf("no message types loaded")
	}

	// Derive a type hint from the queue name (e.g. "order.created" -> "OrderCreated")
	typeHint := queueNameToTypeHint(queueName)

	// Try each message type and find the best match
	var bestMatch *dynamic.Message
	var bestMatchName string
	bestScore := 0

	for _, md := range d.allMessages {
		msg := dynamic.NewMessage(md)
		err := msg.Unmarshal(data)
		if err != nil {
			continue
		}

		// Score based on how many fields were populated
		score := countPopulatedFields(msg)

		// Boost score if name matches the queue-name hint
		name := md.GetName()
		if typeHint != "" && strings.EqualFold(name, typeHint) {
			score += 1000 // Strong preference for matching type
		}

		if score > bestScore {
			bestScore = score
			bestMatch = msg
			bestMatchName = name
		}
	}

	if bestMatch == nil {
		return nil, fmt.Errorf("could not decode with any known message type")
	}

	result := messageToMap(bestMatch)
	result["__type"] = bestMatchName
	return result, nil
}

// queueNameToTypeHint converts a queue name to an expected message type.
// Queues are commonly named after the event they carry, e.g.
// "order.created" or "invoice-paid-queue" -> "OrderCreated", "InvoicePaid".
func queueNameToTypeHint(queueName string) string {
	norm := strings.NewReplacer("-", ".", "_", ".", "/", ".").Replace(queueName)
	parts := strings.Split(norm, ".")

	var words []string
	for _, p := range parts {
		if p == "" || strings.EqualFold(p, "queue") || strings.EqualFold(p, "q") {
			continue
		}
		words = append(words, p)
	}
	if len(words) < 2 {
		return ""
	}

	// Last two words: entity and action (e.g. "order" + "created")
	var b strings.Builder
	for _, w := range words[len(words)-2:] {
		b.WriteString(strings.ToUpper(w[:1]))
		b.WriteString(strings.ToLower(w[1:]))
	}
	return b.String()
}

// DecodeAs decodes using a specific message type name
func (d *Decoder) DecodeAs(data []byte, typeName string) (map[string]any, error) {
	md, ok := d.messageTypes[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", typeName)
	}

	msg := dynamic.NewMessage(md)
	if err := msg.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}

	result := messageToMap(msg)
	result["__type"] = typeName
	return result, nil
}

// HasType reports whether a message type with the given name is loaded.
func (d *Decoder) HasType(name string) bool {
	if d == nil {
		return false
	}
	_, ok := d.messageTypes[name]
	return ok
}

// ListTypes returns all known message type names
func (d *Decoder) ListTypes() []string {
	var types []string
	for name := range d.messageTypes {
		types = append(types, name)
	}
	return types
}

func countPopulatedFields(msg *dynamic.Message) int {
	count := 0
	for _, fd := range msg.GetKnownFields() {
		if msg.HasField(fd) {
			count++
		}
	}
	return count
}

func messageToMap(msg *dynamic.Message) map[string]any {
	result := make(map[string]any)

	for _, fd := range msg.GetKnownFields() {
		if !msg.HasField(fd) {
			continue
		}

		val := msg.GetField(fd)
		result[fd.GetName()] = convertValue(val)
	}

	return result
}

func convertValue(val any) any {
	switch v := val.(type) {
	case *dynamic.Message:
		return messageToMap(v)
	case []byte:
		// Try to decode as string, otherwise return hex
		if isPrintable(v) {
			return string(v)
		}
		return fmt.Sprintf("0x%x", v)
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = convertValue(item)
		}
		return result
	default:
		return v
	}
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			return false
		}
	}
	return true
}
