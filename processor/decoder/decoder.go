package decoder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/v2xstreams/component"
	"github.com/c360/v2xstreams/errors"
	"github.com/c360/v2xstreams/message"
	"github.com/c360/v2xstreams/metric"
)

// envelope is the parsed document handed to a protocol decoder
type envelope struct {
	layers object
	its    object
	base   message.Base
}

type decodeFunc func(env envelope) ([]message.Message, error)

var decoders = map[message.Type]decodeFunc{
	message.TypeCAM:    decodeCAM,
	message.TypeDENM:   decodeDENM,
	message.TypeSPATEM: decodeSPATEM,
	message.TypeMAPEM:  decodeMAPEM,
	message.TypeSREM:   decodeSREM,
	message.TypeSSEM:   decodeSSEM,
}

// Header reads the protocol and sender of a document without decoding it
func Header(doc []byte) (message.Type, int64, error) {
	var root map[string]any
	if err := json.Unmarshal(doc, &root); err != nil {
		return "", 0, errors.WrapInvalid(err, "Decoder", "Header", "parse document")
	}
	env, msgType, err := readEnvelope(object(root))
	if err != nil {
		return "", 0, err
	}
	return msgType, env.base.StationID, nil
}

// Decode decodes one capture document. It returns ErrUnknownMessage when
// the header is absent or names an unsupported protocol, and an invalid
// classified error when a required field is missing or malformed. A MAPEM
// yields one message per intersection; a CAM without parameters yields none.
func Decode(doc []byte) ([]message.Message, error) {
	var root map[string]any
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, errors.WrapInvalid(err, "Decoder", "Decode", "parse document")
	}

	env, msgType, err := readEnvelope(object(root))
	if err != nil {
		return nil, err
	}

	msgs, err := decoders[msgType](env)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Decoder", "Decode", "decode "+string(msgType))
	}
	for _, m := range msgs {
		m.Prepare()
	}
	return msgs, nil
}

func readEnvelope(root object) (envelope, message.Type, error) {
	layers := root.optPath("_source", "layers")
	its := layers.optChild("its")
	header := its.optChild("its.ItsPduHeader_element")
	if header == nil {
		return envelope{}, "", errors.ErrUnknownMessage
	}

	id, err := header.integer("its.messageID")
	if err != nil {
		return envelope{}, "", errors.ErrUnknownMessage
	}
	msgType, ok := message.TypeForMessageID(id)
	if !ok {
		return envelope{}, "", errors.ErrUnknownMessage
	}

	stationID, err := header.long("its.stationID")
	if err != nil {
		return envelope{}, "", errors.WrapInvalid(err, "Decoder", "Decode", "read header")
	}

	return envelope{
		layers: layers,
		its:    its,
		base:   message.Base{MessageID: id, StationID: stationID},
	}, msgType, nil
}

// Drop reasons reported in metrics
const (
	DropUnknown   = "unknown_message"
	DropMalformed = "malformed"
	DropInvalid   = "invalid_field"
)

// Deps holds the decoder's runtime dependencies
type Deps struct {
	Logger  *slog.Logger
	Metrics *metric.Metrics // optional
}

// Decoder is the pipeline stage around Decode. Content errors never leave
// it: they are counted, logged at a bounded rate and the document dropped.
type Decoder struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	dropLog *rate.Limiter
	flow    *component.FlowCounter
	decode  func([]byte) ([]message.Message, error)
}

// New creates a decoder stage
func New(deps Deps) *Decoder {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "decoder")
	}
	return &Decoder{
		logger:  logger,
		metrics: deps.Metrics,
		dropLog: rate.NewLimiter(rate.Every(time.Second), 5),
		flow:    component.NewFlowCounter(),
		decode:  Decode,
	}
}

// Process decodes a document and returns the messages to upsert. A panic
// while decoding drops the document as malformed.
func (d *Decoder) Process(doc []byte) (msgs []message.Message) {
	defer func() {
		if r := recover(); r != nil {
			msgs = nil
			d.drop(doc, errors.WrapInvalid(fmt.Errorf("decode panic: %v", r), "Decoder", "Process", "decode document"))
		}
	}()

	msgs, err := d.decode(doc)
	if err != nil {
		d.drop(doc, err)
		return nil
	}

	d.flow.Message(len(doc))
	for _, m := range msgs {
		if d.metrics != nil {
			d.metrics.RecordDecoded(string(m.Type()))
		}
		d.logger.Debug("Decoded message",
			"type", m.Type(),
			"key", m.Key(),
			"station_id", m.Header().StationID)
	}
	return msgs
}

func (d *Decoder) drop(doc []byte, err error) {
	reason := DropInvalid
	switch {
	case errors.Is(err, errors.ErrUnknownMessage):
		reason = DropUnknown
	case !errors.Is(err, errors.ErrMissingField) && !errors.Is(err, errors.ErrFieldType):
		reason = DropMalformed
	}
	if d.metrics != nil {
		d.metrics.RecordDrop(reason)
	}

	if reason == DropUnknown {
		d.logger.Debug("Dropped document without a supported header", "bytes", len(doc))
		return
	}

	d.flow.Error(err)
	if d.dropLog.Allow() {
		d.logger.Warn("Dropped undecodable document",
			"reason", reason,
			"bytes", len(doc),
			"error", err)
	}
}

// Meta implements component.Discoverable
func (d *Decoder) Meta() component.Metadata {
	return component.Metadata{
		Name:        "decoder",
		Type:        "processor",
		Description: "ITS capture document decoder (CAM, DENM, SPATEM, MAPEM, SREM, SSEM)",
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable. The decoder has no failure
// state of its own; drops show up in the error count.
func (d *Decoder) Health() component.HealthStatus {
	return d.flow.Health(true)
}

// DataFlow implements component.Discoverable
func (d *Decoder) DataFlow() component.FlowMetrics {
	return d.flow.Flow()
}

func itemKey(i int) string {
	return "Item " + strconv.Itoa(i)
}
