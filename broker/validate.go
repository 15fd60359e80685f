package broker

import (
	"strings"
	"unicode/utf8"

	"github.com/SaaSy-Solutions/mockforge-sub003/mockerr"
)

// Protocol limits, mirroring the defaults in the MQTT 3.1.1 specification.
const (
	DefaultMaxTopicLength    = 65535
	DefaultMaxPayloadSize    = 268435455
	DefaultMaxIncomingPacket = 268435455
	MaxClientIDLength        = 23
)

func getLimit(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}

func protocolErr(code, message string) error {
	return mockerr.New(mockerr.KindProtocol, code, message)
}

// validatePublishTopic validates a topic name for PUBLISH: no wildcards, no
// null bytes, valid UTF-8, within the configured length.
func validatePublishTopic(topic string, maxLen int) error {
	if topic == "" {
		return protocolErr("empty_topic", "topic cannot be empty")
	}

	limit := getLimit(maxLen, DefaultMaxTopicLength)
	if len(topic) > limit {
		return protocolErr("topic_too_long", "topic exceeds maximum length")
	}
	if strings.ContainsAny(topic, "+#") {
		return protocolErr("topic_has_wildcard", "topic must not contain wildcards in PUBLISH")
	}
	if strings.Contains(topic, "\x00") {
		return protocolErr("topic_null_byte", "topic contains null byte which is not allowed")
	}
	if !utf8.ValidString(topic) {
		return protocolErr("topic_invalid_utf8", "topic is not valid UTF-8")
	}
	return nil
}

// validateSubscribeTopic validates a topic filter for SUBSCRIBE/UNSUBSCRIBE:
// wildcards are allowed but must occupy an entire level, and '#' must be last.
func validateSubscribeTopic(filter string, maxLen int) error {
	if filter == "" {
		return protocolErr("empty_filter", "topic filter cannot be empty")
	}

	limit := getLimit(maxLen, DefaultMaxTopicLength)
	if len(filter) > limit {
		return protocolErr("filter_too_long", "topic filter exceeds maximum length")
	}
	if strings.Contains(filter, "\x00") {
		return protocolErr("filter_null_byte", "topic filter contains null byte which is not allowed")
	}
	if !utf8.ValidString(filter) {
		return protocolErr("filter_invalid_utf8", "topic filter is not valid UTF-8")
	}

	parts := strings.Split(filter, "/")
	for i, part := range parts {
		if strings.Contains(part, "+") && part != "+" {
			return protocolErr("bad_plus_wildcard", "single-level wildcard '+' must occupy entire topic level")
		}
		if strings.Contains(part, "#") {
			if part != "#" {
				return protocolErr("bad_hash_wildcard", "multi-level wildcard '#' must occupy entire topic level")
			}
			if i != len(parts)-1 {
				return protocolErr("hash_not_last", "multi-level wildcard '#' must be the last level")
			}
		}
	}
	return nil
}

// validatePayload checks the payload size against the configured limit.
func validatePayload(payload []byte, maxSize int) error {
	limit := getLimit(maxSize, DefaultMaxPayloadSize)
	if len(payload) > limit {
		return protocolErr("payload_too_large", "payload exceeds maximum size")
	}
	return nil
}
