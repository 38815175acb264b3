package kafka

import (
	"log"

	"github.com/IBM/sarama"
)

// Producer 生产者
type Producer struct {
	asyncProducer sarama.AsyncProducer
}

// InitProducer 初始化生产者
func InitProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = false
	config.Producer.Partitioner = sarama.NewHashPartitioner
	asyncProducer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return newProducer(asyncProducer), nil
}

// newProducer 包装异步生产者并持续消费错误通道
// sarama要求Errors()必须被消费，否则通道填满后Input()会永久阻塞
func newProducer(asyncProducer sarama.AsyncProducer) *Producer {
	go func() {
		for err := range asyncProducer.Errors() {
			log.Printf("Kafka producer error: %v", err)
		}
	}()
	return &Producer{asyncProducer: asyncProducer}
}

// SendMessage 发送消息
func (p *Producer) SendMessage(topic string, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	p.asyncProducer.Input() <- msg
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.asyncProducer.Close()
}
