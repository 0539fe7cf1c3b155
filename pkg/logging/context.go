package logging

import (
	"context"
)

const (
	MessageIDKey   = "message_id"
	SampleIDKey    = "sample_id"
	TopicKey       = "topic"
	ServiceNameKey = "service_name"
)

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithSampleID(ctx context.Context, sampleID string) context.Context {
	return context.WithValue(ctx, SampleIDKey, sampleID)
}

func WithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, TopicKey, topic)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetMessageID(ctx context.Context) string {
	if messageID, ok := ctx.Value(MessageIDKey).(string); ok {
		return messageID
	}
	return ""
}

func GetSampleID(ctx context.Context) string {
	if sampleID, ok := ctx.Value(SampleIDKey).(string); ok {
		return sampleID
	}
	return ""
}

func GetTopic(ctx context.Context) string {
	if topic, ok := ctx.Value(TopicKey).(string); ok {
		return topic
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if messageID := GetMessageID(ctx); messageID != "" {
		fields = append(fields, "message_id", messageID)
	}

	if sampleID := GetSampleID(ctx); sampleID != "" {
		fields = append(fields, "sample_id", sampleID)
	}

	if topic := GetTopic(ctx); topic != "" {
		fields = append(fields, "topic", topic)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
