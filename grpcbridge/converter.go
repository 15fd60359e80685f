package grpcbridge

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Converter transcodes between plain Go JSON values (as produced by
// encoding/json.Unmarshal into any) and protoreflect dynamic messages,
// grounded field-by-field on the Rust prost_reflect transcoder this
// component replaces.
type Converter struct {
	pool *DescriptorPool
}

// NewConverter returns a Converter backed by pool.
func NewConverter(pool *DescriptorPool) *Converter {
	return &Converter{pool: pool}
}

// JSONToProtobuf builds a dynamic message of the given descriptor from a
// decoded JSON object (map[string]any). Every key in the JSON object must
// resolve to a descriptor field (by proto name or JSON name); a key that
// does not raises UnknownField, matching the source transcoder's strict
// behavior. Fields absent from the JSON object are filled with typed zero
// values unless they support presence (proto3 optional / message / oneof
// members), which are left unset.
func (c *Converter) JSONToProtobuf(md protoreflect.MessageDescriptor, jsonValue any) (*dynamicpb.Message, error) {
	obj, ok := jsonValue.(map[string]any)
	if !ok {
		return nil, typeMismatchErr("", "object", jsonTypeName(jsonValue))
	}

	msg := dynamicpb.NewMessage(md)
	if err := applyJSONObject(msg, obj); err != nil {
		return nil, err
	}
	return msg, nil
}

// applyJSONObject walks every key of a decoded JSON object, resolves it
// against msg's descriptor, and sets the corresponding field. A key with no
// matching field raises UnknownField rather than being silently dropped.
func applyJSONObject(msg *dynamicpb.Message, obj map[string]any) error {
	fields := msg.Descriptor().Fields()

	for key, raw := range obj {
		fd := resolveField(fields, key)
		if fd == nil {
			return unknownFieldErr(key)
		}
		if err := setFieldFromJSON(msg, fd, raw); err != nil {
			return err
		}
	}

	setDefaultsForMissingFields(msg, fields)
	return nil
}

// resolveField accepts both the proto field name and its JSON (lowerCamelCase)
// name, the same dual-acceptance prost_reflect's json feature provides.
func resolveField(fields protoreflect.FieldDescriptors, key string) protoreflect.FieldDescriptor {
	if fd := fields.ByName(protoreflect.Name(key)); fd != nil {
		return fd
	}
	if fd := fields.ByJSONName(key); fd != nil {
		return fd
	}
	return nil
}

func setFieldFromJSON(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, raw any) error {
	if fd.IsMap() {
		return setMapField(msg, fd, raw)
	}
	if fd.IsList() {
		return setListField(msg, fd, raw)
	}

	value, err := convertJSONToValue(fd, raw)
	if err != nil {
		return err
	}
	msg.Set(fd, value)
	return nil
}

func setListField(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, raw any) error {
	fieldName := string(fd.Name())

	arr, ok := raw.([]any)
	if !ok {
		return typeMismatchErr(fieldName, "array", jsonTypeName(raw))
	}

	list := msg.Mutable(fd).List()
	for _, item := range arr {
		v, err := convertJSONToValue(fd, item)
		if err != nil {
			return err
		}
		list.Append(v)
	}
	return nil
}

func setMapField(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, raw any) error {
	fieldName := string(fd.Name())

	obj, ok := raw.(map[string]any)
	if !ok {
		return typeMismatchErr(fieldName, "object", jsonTypeName(raw))
	}

	mp := msg.Mutable(fd).Map()
	keyFd := fd.MapKey()
	valFd := fd.MapValue()

	for k, v := range obj {
		mapKey, err := convertMapKey(keyFd, k)
		if err != nil {
			return invalidValueErr(fieldName, err.Error())
		}
		mapVal, err := convertJSONToValue(valFd, v)
		if err != nil {
			return err
		}
		mp.Set(mapKey, mapVal)
	}
	return nil
}

func convertMapKey(keyFd protoreflect.FieldDescriptor, key string) (protoreflect.MapKey, error) {
	switch keyFd.Kind() {
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(key).MapKey(), nil
	case protoreflect.BoolKind:
		b, err := parseBool(key)
		if err != nil {
			return protoreflect.MapKey{}, err
		}
		return protoreflect.ValueOfBool(b).MapKey(), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			return protoreflect.MapKey{}, err
		}
		return protoreflect.ValueOfInt32(int32(n)).MapKey(), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return protoreflect.MapKey{}, err
		}
		return protoreflect.ValueOfInt64(n).MapKey(), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return protoreflect.MapKey{}, err
		}
		return protoreflect.ValueOfUint32(uint32(n)).MapKey(), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return protoreflect.MapKey{}, err
		}
		return protoreflect.ValueOfUint64(n).MapKey(), nil
	default:
		return protoreflect.MapKey{}, fmt.Errorf("unsupported map key kind %s", keyFd.Kind())
	}
}

// convertJSONToValue implements the exhaustive kind-by-kind coercion table:
// each protobuf scalar/message/enum kind accepts a specific set of JSON
// shapes, matching the Rust converter's match over prost_reflect::Kind.
func convertJSONToValue(fd protoreflect.FieldDescriptor, raw any) (protoreflect.Value, error) {
	fieldName := string(fd.Name())

	if raw == nil && fd.HasPresence() {
		return zeroValue(fd), nil
	}

	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		obj, ok := raw.(map[string]any)
		if !ok {
			return protoreflect.Value{}, typeMismatchErr(fieldName, "object", jsonTypeName(raw))
		}
		nested := dynamicpb.NewMessage(fd.Message())
		if err := applyJSONObject(nested, obj); err != nil {
			return protoreflect.Value{}, nestedErr(fieldName, err)
		}
		return protoreflect.ValueOfMessage(nested), nil

	case protoreflect.EnumKind:
		return convertEnum(fd, raw)

	case protoreflect.StringKind:
		s, ok := raw.(string)
		if !ok {
			return protoreflect.Value{}, typeMismatchErr(fieldName, "string", jsonTypeName(raw))
		}
		return protoreflect.ValueOfString(s), nil

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := signedIntFromJSON(fieldName, raw, 32)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt32(int32(n)), nil

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := signedIntFromJSON(fieldName, raw, 64)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt64(n), nil

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := unsignedIntFromJSON(fieldName, raw, 32)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfUint32(uint32(n)), nil

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := unsignedIntFromJSON(fieldName, raw, 64)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfUint64(n), nil

	case protoreflect.FloatKind:
		n, err := floatFromJSON(fieldName, raw)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfFloat32(float32(n)), nil

	case protoreflect.DoubleKind:
		n, err := floatFromJSON(fieldName, raw)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfFloat64(n), nil

	case protoreflect.BoolKind:
		b, err := coerceBool(fieldName, raw)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfBool(b), nil

	case protoreflect.BytesKind:
		s, ok := raw.(string)
		if !ok {
			return protoreflect.Value{}, typeMismatchErr(fieldName, "base64 string", jsonTypeName(raw))
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return protoreflect.Value{}, invalidValueErr(fieldName, fmt.Sprintf("invalid base64: %s", err))
		}
		return protoreflect.ValueOfBytes(data), nil

	default:
		return protoreflect.Value{}, invalidValueErr(fieldName, fmt.Sprintf("unsupported field kind %s", fd.Kind()))
	}
}

func convertEnum(fd protoreflect.FieldDescriptor, raw any) (protoreflect.Value, error) {
	fieldName := string(fd.Name())
	enumDesc := fd.Enum()

	switch v := raw.(type) {
	case string:
		if ev := enumDesc.Values().ByName(protoreflect.Name(v)); ev != nil {
			return protoreflect.ValueOfEnum(ev.Number()), nil
		}
		if n, err := strconv.Atoi(v); err == nil {
			if ev := enumDesc.Values().ByNumber(protoreflect.EnumNumber(n)); ev != nil {
				return protoreflect.ValueOfEnum(ev.Number()), nil
			}
			return protoreflect.Value{}, invalidValueErr(fieldName, fmt.Sprintf("unknown enum number %d for %s", n, enumDesc.FullName()))
		}
		return protoreflect.Value{}, invalidValueErr(fieldName, fmt.Sprintf("unknown enum value %q for %s", v, enumDesc.FullName()))
	case float64:
		n := protoreflect.EnumNumber(int32(v))
		if ev := enumDesc.Values().ByNumber(n); ev == nil {
			return protoreflect.Value{}, invalidValueErr(fieldName, fmt.Sprintf("unknown enum number %d for %s", n, enumDesc.FullName()))
		}
		return protoreflect.ValueOfEnum(n), nil
	default:
		return protoreflect.Value{}, typeMismatchErr(fieldName, "string or number", jsonTypeName(raw))
	}
}

// signedIntFromJSON parses a signed integer field, accepting a JSON number,
// a decimal string, or a bool. Unlike routing every integer kind through a
// shared float64, this rejects values outside bitSize's range instead of
// silently truncating or wrapping them.
func signedIntFromJSON(fieldName string, raw any, bitSize int) (int64, error) {
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, invalidValueErr(fieldName, fmt.Sprintf("%v is not an integer", v))
		}
		if v < math.MinInt64 || v >= 1<<63 {
			return 0, invalidValueErr(fieldName, fmt.Sprintf("%v out of range for int64", v))
		}
		n := int64(v)
		if bitSize == 32 && (n < math.MinInt32 || n > math.MaxInt32) {
			return 0, invalidValueErr(fieldName, fmt.Sprintf("%v out of range for int32", v))
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(v, 10, bitSize)
		if err != nil {
			return 0, invalidValueErr(fieldName, fmt.Sprintf("cannot parse %q as integer", v))
		}
		return n, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, typeMismatchErr(fieldName, "number", jsonTypeName(raw))
	}
}

// unsignedIntFromJSON is signedIntFromJSON's unsigned counterpart: negative
// values, whether numeric or a numeric string, are rejected rather than
// wrapping into a huge positive value.
func unsignedIntFromJSON(fieldName string, raw any, bitSize int) (uint64, error) {
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, invalidValueErr(fieldName, fmt.Sprintf("%v is not an integer", v))
		}
		if v < 0 {
			return 0, invalidValueErr(fieldName, fmt.Sprintf("%v out of range for unsigned field", v))
		}
		if v >= 1<<64 {
			return 0, invalidValueErr(fieldName, fmt.Sprintf("%v out of range for uint64", v))
		}
		n := uint64(v)
		if bitSize == 32 && n > math.MaxUint32 {
			return 0, invalidValueErr(fieldName, fmt.Sprintf("%v out of range for uint32", v))
		}
		return n, nil
	case string:
		n, err := strconv.ParseUint(v, 10, bitSize)
		if err != nil {
			return 0, invalidValueErr(fieldName, fmt.Sprintf("cannot parse %q as unsigned integer", v))
		}
		return n, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, typeMismatchErr(fieldName, "number", jsonTypeName(raw))
	}
}

func floatFromJSON(fieldName string, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, invalidValueErr(fieldName, fmt.Sprintf("cannot parse %q as number", v))
		}
		return n, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, typeMismatchErr(fieldName, "number", jsonTypeName(raw))
	}
}

// coerceBool matches the Rust converter's permissive boolean acceptance:
// native booleans, numeric non/zero, and a fixed set of case-insensitive
// string tokens.
func coerceBool(fieldName string, raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		b, err := parseBool(v)
		if err != nil {
			return false, invalidValueErr(fieldName, err.Error())
		}
		return b, nil
	default:
		return false, typeMismatchErr(fieldName, "bool", jsonTypeName(raw))
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("cannot parse %q as bool", s)
	}
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// zeroValue returns the typed zero for a presence-supporting field explicitly
// set to JSON null.
func zeroValue(fd protoreflect.FieldDescriptor) protoreflect.Value {
	return defaultValueForField(fd)
}

// setDefaultsForMissingFields fills every non-repeated, non-presence-supporting
// field that was never explicitly set with its typed zero value, mirroring
// set_default_values_for_missing_fields.
func setDefaultsForMissingFields(msg *dynamicpb.Message, fields protoreflect.FieldDescriptors) {
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.IsList() || fd.IsMap() || fd.HasPresence() {
			continue
		}
		if msg.Has(fd) {
			continue
		}
		msg.Set(fd, defaultValueForField(fd))
	}
}

func defaultValueForField(fd protoreflect.FieldDescriptor) protoreflect.Value {
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return protoreflect.ValueOfMessage(dynamicpb.NewMessage(fd.Message()))
	case protoreflect.EnumKind:
		return protoreflect.ValueOfEnum(0)
	case protoreflect.StringKind:
		return protoreflect.ValueOfString("")
	case protoreflect.BytesKind:
		return protoreflect.ValueOfBytes(nil)
	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(false)
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return protoreflect.ValueOfInt32(0)
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return protoreflect.ValueOfInt64(0)
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return protoreflect.ValueOfUint32(0)
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return protoreflect.ValueOfUint64(0)
	case protoreflect.FloatKind:
		return protoreflect.ValueOfFloat32(0)
	case protoreflect.DoubleKind:
		return protoreflect.ValueOfFloat64(0)
	default:
		return protoreflect.Value{}
	}
}

// ConversionErrorKind discriminates the distinct ways a JSON<->protobuf
// coercion can fail, mirroring the source transcoder's ConversionError enum.
type ConversionErrorKind string

const (
	KindUnknownField ConversionErrorKind = "unknown_field"
	KindTypeMismatch ConversionErrorKind = "type_mismatch"
	KindInvalidValue ConversionErrorKind = "invalid_value"
	KindNested       ConversionErrorKind = "nested"
)

// ConversionError reports a JSON<->protobuf coercion failure for a specific
// field path, tagged with the kind of failure it was.
type ConversionError struct {
	Kind     ConversionErrorKind
	Field    string
	Expected string
	Got      string
	Message  string
	Nested   *ConversionError
}

func (e *ConversionError) Error() string {
	switch e.Kind {
	case KindUnknownField:
		return fmt.Sprintf("unknown field %q", e.Field)
	case KindTypeMismatch:
		if e.Field == "" {
			return fmt.Sprintf("expected %s, got %s", e.Expected, e.Got)
		}
		return fmt.Sprintf("field %q: expected %s, got %s", e.Field, e.Expected, e.Got)
	case KindNested:
		return fmt.Sprintf("field %q: %s", e.Field, e.Nested.Error())
	default:
		if e.Field == "" {
			return e.Message
		}
		return fmt.Sprintf("field %q: %s", e.Field, e.Message)
	}
}

func unknownFieldErr(field string) *ConversionError {
	return &ConversionError{Kind: KindUnknownField, Field: field}
}

func typeMismatchErr(field, expected, got string) *ConversionError {
	return &ConversionError{Kind: KindTypeMismatch, Field: field, Expected: expected, Got: got}
}

func invalidValueErr(field, message string) *ConversionError {
	return &ConversionError{Kind: KindInvalidValue, Field: field, Message: message}
}

// nestedErr wraps a sub-message's conversion failure, preserving its kind
// while attaching the outer field path it occurred under.
func nestedErr(field string, source error) *ConversionError {
	if ce, ok := source.(*ConversionError); ok {
		return &ConversionError{Kind: KindNested, Field: field, Nested: ce}
	}
	return &ConversionError{Kind: KindInvalidValue, Field: field, Message: source.Error()}
}

// ProtobufToJSON renders a dynamic message as a plain JSON-compatible Go
// value (map[string]any). Every field for which Has reports false is omitted
// entirely, never rendered as null: unset fields that support presence, and
// fields without presence that hold their zero value (whether or not they
// were explicitly set), matching has_field-gated serialization in the source
// transcoder.
func (c *Converter) ProtobufToJSON(msg *dynamicpb.Message) map[string]any {
	out := make(map[string]any)
	fields := msg.Descriptor().Fields()

	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if !msg.Has(fd) {
			continue
		}
		out[string(fd.JSONName())] = convertValueToJSON(fd, msg.Get(fd))
	}

	return out
}

func convertValueToJSON(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	if fd.IsMap() {
		m := make(map[string]any)
		v.Map().Range(func(k protoreflect.MapKey, val protoreflect.Value) bool {
			m[mapKeyToString(k)] = convertScalarToJSON(fd.MapValue(), val)
			return true
		})
		return m
	}
	if fd.IsList() {
		list := v.List()
		out := make([]any, list.Len())
		for i := 0; i < list.Len(); i++ {
			out[i] = convertScalarToJSON(fd, list.Get(i))
		}
		return out
	}
	return convertScalarToJSON(fd, v)
}

func convertScalarToJSON(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		nested, ok := v.Message().Interface().(*dynamicpb.Message)
		if !ok {
			return map[string]any{}
		}
		c := &Converter{}
		return c.ProtobufToJSON(nested)

	case protoreflect.EnumKind:
		n := v.Enum()
		if ev := fd.Enum().Values().ByNumber(n); ev != nil {
			return string(ev.Name())
		}
		return strconv.Itoa(int(n))

	case protoreflect.FloatKind:
		f := float64(v.Float())
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return float64(0)
		}
		return f

	case protoreflect.DoubleKind:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return float64(0)
		}
		return f

	case protoreflect.BytesKind:
		return base64.StdEncoding.EncodeToString(v.Bytes())

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return v.Int()
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return v.Uint()
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return v.Int()
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return v.Uint()
	case protoreflect.BoolKind:
		return v.Bool()
	case protoreflect.StringKind:
		return v.String()
	default:
		return v.Interface()
	}
}

func mapKeyToString(k protoreflect.MapKey) string {
	return k.String()
}
