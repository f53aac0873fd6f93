package server

import (
	"encoding/json"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/janelia-flyem/n5ng"
)

// KafkaMaxMessageSize is the max message size in bytes for a Kafka message.
const KafkaMaxMessageSize = 980 * n5ng.Kilo

var topicSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._\-]+`)

// KafkaConfig describes the kafka servers receiving the activity log.
type KafkaConfig struct {
	TopicActivity string `toml:"topicActivity"` // if supplied, will be override topic for activity log
	Servers       []string
	BufferSize    int `validate:"gte=0"` // producer channel buffer
}

// ActivityTopic returns the topic name used for logging activity of the server with
// the given instance id.
func (kc KafkaConfig) ActivityTopic(instanceID string) string {
	topic := kc.TopicActivity
	if topic == "" {
		topic = "n5ngactivity-" + instanceID
	}
	return topicSanitizer.ReplaceAllString(topic, "-")
}

// Activity is the record published for each handled request.
type Activity struct {
	Time      int64   `json:"time"` // unix seconds
	Method    string  `json:"method"`
	URI       string  `json:"uri"`
	Status    int     `json:"status"`
	Bytes     int     `json:"bytes"`
	Duration  float64 `json:"duration"` // milliseconds
	RequestID string  `json:"reqid,omitempty"`
	Remote    string  `json:"remote,omitempty"`
}

// ActivityLog publishes request activity to kafka.  A nil *ActivityLog discards
// everything.
type ActivityLog struct {
	producer sarama.AsyncProducer
	topic    string
	errDone  chan struct{}

	// closed is set once Close begins; records logged after that are dropped.
	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewActivityLog connects to the configured kafka servers.  It returns nil if no
// servers are configured.
func NewActivityLog(kc KafkaConfig, instanceID string) (*ActivityLog, error) {
	if len(kc.Servers) == 0 {
		return nil, nil
	}
	config := sarama.NewConfig()
	config.Producer.MaxMessageBytes = KafkaMaxMessageSize
	if kc.BufferSize > 0 {
		config.ChannelBufferSize = kc.BufferSize
	}
	producer, err := sarama.NewAsyncProducer(kc.Servers, config)
	if err != nil {
		return nil, err
	}
	al := newActivityLog(producer, kc.ActivityTopic(instanceID))
	n5ng.Infof("Kafka topic for n5ng activity: %s\n", al.topic)
	return al, nil
}

func newActivityLog(producer sarama.AsyncProducer, topic string) *ActivityLog {
	al := &ActivityLog{
		producer: producer,
		topic:    topic,
		errDone:  make(chan struct{}),
	}
	go func() {
		for err := range producer.Errors() {
			n5ng.Errorf("error on kafka send: %v\n", err)
		}
		close(al.errDone)
	}()
	return al
}

// Topic returns the kafka topic receiving activity records.
func (al *ActivityLog) Topic() string {
	if al == nil {
		return ""
	}
	return al.topic
}

// Log publishes an activity record without blocking the caller.  Records arriving after
// Close has begun are dropped.
func (al *ActivityLog) Log(a Activity) {
	if al == nil {
		return
	}
	al.mu.Lock()
	if al.closed {
		al.mu.Unlock()
		n5ng.Debugf("Dropping activity for %s %s after kafka shutdown\n", a.Method, a.URI)
		return
	}
	al.pending.Add(1)
	al.mu.Unlock()
	go func() {
		defer al.pending.Done()
		jsonmsg, err := json.Marshal(a)
		if err != nil {
			n5ng.Errorf("unable to marshal activity for kafka logging: %v\n", err)
			return
		}
		al.produce(jsonmsg)
	}()
}

func (al *ActivityLog) produce(value []byte) {
	timeKey := sarama.StringEncoder(strconv.FormatInt(time.Now().UnixNano(), 10))
	msg := &sarama.ProducerMessage{Topic: al.topic, Value: sarama.ByteEncoder(value), Key: timeKey}
	al.producer.Input() <- msg
}

// Close makes sure that the kafka queue is flushed before stopping.
func (al *ActivityLog) Close() {
	if al == nil {
		n5ng.Infof("Kafka producer was nil so unnecessary to close.\n")
		return
	}
	al.mu.Lock()
	if al.closed {
		al.mu.Unlock()
		return
	}
	al.closed = true
	al.mu.Unlock()

	al.pending.Wait()
	if err := al.producer.Close(); err != nil {
		n5ng.Errorf("Kafka producer had error on close: %v\n", err)
	} else {
		n5ng.Infof("Successfully shut down kafka producer.\n")
	}
	<-al.errDone
}
