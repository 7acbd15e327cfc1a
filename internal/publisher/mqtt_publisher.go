package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"heartlen/internal/models"
)

// MessagePublisher MQTT 发布能力（common/mqtt.Client 实现）
type MessagePublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTVitalsPublisher 发布实时生命体征到 <prefix>/<subject>/vitals
type MQTTVitalsPublisher struct {
	client   MessagePublisher
	prefix   string
	qos      byte
	retained bool
}

// NewMQTTVitalsPublisher 创建生命体征发布器
func NewMQTTVitalsPublisher(client MessagePublisher, prefix string, qos byte, retained bool) *MQTTVitalsPublisher {
	return &MQTTVitalsPublisher{
		client:   client,
		prefix:   prefix,
		qos:      qos,
		retained: retained,
	}
}

// Topic 受试者的生命体征主题
func (p *MQTTVitalsPublisher) Topic(subjectID string) string {
	if subjectID == "" {
		subjectID = models.DefaultSubjectID
	}
	return fmt.Sprintf("%s/%s/vitals", p.prefix, subjectID)
}

// PublishVitals 发布一条生命体征
func (p *MQTTVitalsPublisher) PublishVitals(_ context.Context, v models.Vitals) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal vitals: %w", err)
	}
	return p.client.Publish(p.Topic(v.SubjectID), p.qos, p.retained, payload)
}
