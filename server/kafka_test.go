package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/Shopify/sarama/mocks"
)

func TestActivityTopic(t *testing.T) {
	tests := []struct {
		kc       KafkaConfig
		id       string
		expected string
	}{
		{KafkaConfig{}, "3f2a", "n5ngactivity-3f2a"},
		{KafkaConfig{}, "my host:5000", "n5ngactivity-my-host-5000"},
		{KafkaConfig{TopicActivity: "neuroglancer.activity"}, "3f2a", "neuroglancer.activity"},
		{KafkaConfig{TopicActivity: "bad/topic name"}, "3f2a", "bad-topic-name"},
	}
	for _, tc := range tests {
		if got := tc.kc.ActivityTopic(tc.id); got != tc.expected {
			t.Errorf("topic for %+v and %q: expected %q, got %q\n", tc.kc, tc.id, tc.expected, got)
		}
	}
}

func TestNoKafka(t *testing.T) {
	al, err := NewActivityLog(KafkaConfig{}, "abc")
	if err != nil {
		t.Fatalf("unexpected error without kafka servers: %v\n", err)
	}
	if al != nil {
		t.Fatalf("expected nil activity log without kafka servers\n")
	}
	al.Log(Activity{Method: "GET"})
	if al.Topic() != "" {
		t.Errorf("nil activity log should have no topic\n")
	}
	al.Close()
}

func TestActivityLogging(t *testing.T) {
	s, _ := NewTestServer(t, testConfig())

	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var a Activity
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		if a.Method != "GET" || a.URI != "/api/help?verbose=1" || a.Status != http.StatusOK {
			return fmt.Errorf("unexpected activity record: %s", val)
		}
		if a.Bytes != len(WebHelp) || a.RequestID == "" {
			return fmt.Errorf("expected byte count and request id in activity: %s", val)
		}
		return nil
	})
	s.activity = newActivityLog(producer, "n5ngactivity-test")

	TestHTTP(t, s, "GET", "/api/help?verbose=1", nil)
	s.Close()
}

func TestActivityAfterClose(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	al := newActivityLog(producer, "n5ngactivity-test")
	al.Close()

	// the mock fails the test on any unexpected input and a send on the closed
	// input channel would panic
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			al.Log(Activity{Method: "GET", URI: fmt.Sprintf("/api/help?n=%d", i)})
		}(i)
	}
	wg.Wait()
	al.Close()
}
